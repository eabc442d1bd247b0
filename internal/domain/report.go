package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusOK      = "ok"
	StatusEmpty   = "empty"
	StatusFailed  = "failed"
	StatusPending = "pending"
)

// RunReport 是对外稳定输出（--report 文件 / 非 TTY 时的 stdout JSON）的结构。
type RunReport struct {
	SeriesID string `json:"series_id"`
	Output   string `json:"output"`
	Written  bool   `json:"written"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	Summary ReportSummary  `json:"summary"`
	Seasons []SeasonResult `json:"seasons"`
}

type ReportSummary struct {
	Seasons  int `json:"seasons"`
	Episodes int `json:"episodes"`
	Skipped  int `json:"skipped"`
	Empty    int `json:"empty"`
	Failed   int `json:"failed"`
}

type SeasonResult struct {
	Season   int    `json:"season"`
	URL      string `json:"url"`
	Source   string `json:"source"` // "network" / "cache"
	Status   string `json:"status"`
	Episodes int    `json:"episodes"`
	Skipped  int    `json:"skipped"`

	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`
}

// Finalize 做三件事：
// 1) 时间统一为 UTC（确保 JSON 为 RFC3339 且后缀 Z）
// 2) seasons 按季号升序稳定排序（与抓取完成顺序无关）
// 3) summary 由 seasons 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	sort.SliceStable(r.Seasons, func(i, j int) bool {
		return r.Seasons[i].Season < r.Seasons[j].Season
	})

	s := ReportSummary{Seasons: len(r.Seasons)}
	for _, it := range r.Seasons {
		s.Episodes += it.Episodes
		s.Skipped += it.Skipped
		switch it.Status {
		case StatusEmpty:
			s.Empty++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// Fail 把 run 级错误写入报告（error_code 由 error 链推导）。
func (r *RunReport) Fail(err error) {
	if err == nil {
		return
	}
	r.ErrorCode = Code(err)
	r.ErrorMsg = err.Error()
}

// OK 表示整次运行成功且输出文件已写入。
func (r RunReport) OK() bool { return r.ErrorCode == "" && r.ErrorMsg == "" && r.Written }

// MarshalJSON 仅用于集中约束输出的稳定性（避免未来不小心引入非确定字段）。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	a := Alias(r)
	if a.Seasons == nil {
		a.Seasons = []SeasonResult{}
	}
	return json.Marshal(a)
}
