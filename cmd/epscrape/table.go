package main

import (
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/epscrape/internal/domain"
)

func renderSeasonTable(rr domain.RunReport) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	// 表头/表尾保持原样大小写（StyleRounded 默认转大写）。
	tw.Style().Format.Header = text.FormatDefault
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"Season", "Status", "Episodes", "Skipped", "Source", "Error"})

	for _, s := range rr.Seasons {
		errMsg := s.ErrorCode
		if errMsg == "" && s.Status == domain.StatusPending {
			errMsg = "cancelled"
		}
		tw.AppendRow(table.Row{
			strconv.Itoa(s.Season),
			s.Status,
			strconv.Itoa(s.Episodes),
			strconv.Itoa(s.Skipped),
			s.Source,
			errMsg,
		})
	}
	tw.AppendFooter(table.Row{"", "total", strconv.Itoa(rr.Summary.Episodes), strconv.Itoa(rr.Summary.Skipped), "", ""})

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	return tw.Render()
}
