// Package export 把 EpisodeRecord 序列化为带固定表头的 CSV 文件。
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/infra/fsx"
)

// DefaultOutput 是未配置 output 时的输出路径（相对 cwd）。
const DefaultOutput = "eps_df.csv"

// Header 是输出文件的固定表头（列顺序即字段顺序）。
var Header = []string{"season", "episode_number", "title", "rating"}

// EncodeCSV 在内存中构造完整的 CSV 内容。
//
// 引号规则沿用 encoding/csv：字段含分隔符、引号、换行或以空白开头时加引号，内部引号双写。
func EncodeCSV(records []domain.EpisodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, err
	}
	row := make([]string, len(Header))
	for _, r := range records {
		row[0] = strconv.Itoa(r.Season)
		row[1] = strconv.Itoa(r.EpisodeNumber)
		row[2] = r.Title
		row[3] = FormatRating(r.Rating)
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FormatRating 输出最短可往返的十进制表示，且至少保留一位小数（8 -> "8.0"）。
func FormatRating(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// WriteCSV 先完整编码，再原子替换 path。任何失败都返回 *domain.WriteError，且 path 上的旧文件保持不变。
func WriteCSV(path string, records []domain.EpisodeRecord) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultOutput
	}
	b, err := EncodeCSV(records)
	if err != nil {
		return &domain.WriteError{Path: path, Err: err}
	}
	dir, name := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}
	if err := fsx.WriteFileAtomicReplace(dir, name, b); err != nil {
		return &domain.WriteError{Path: path, Err: err}
	}
	return nil
}

// ReadCSV 读回 WriteCSV 写出的文件。表头必须与 Header 完全一致。
func ReadCSV(r io.Reader) ([]domain.EpisodeRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败：%w", err)
	}
	if strings.Join(head, ",") != strings.Join(Header, ",") {
		return nil, fmt.Errorf("表头不匹配：%q", head)
	}

	var out []domain.EpisodeRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		season, err := strconv.Atoi(row[0])
		if err != nil {
			return nil, fmt.Errorf("第 %d 行 season 无效：%w", line, err)
		}
		num, err := strconv.Atoi(row[1])
		if err != nil {
			return nil, fmt.Errorf("第 %d 行 episode_number 无效：%w", line, err)
		}
		rating, err := strconv.ParseFloat(row[3], 64)
		if err != nil {
			return nil, fmt.Errorf("第 %d 行 rating 无效：%w", line, err)
		}
		out = append(out, domain.EpisodeRecord{Season: season, EpisodeNumber: num, Title: row[2], Rating: rating})
	}
	return out, nil
}
