package domain

import (
	"errors"
	"fmt"
)

const (
	ErrCodeFetchFailed      = "fetch_failed"
	ErrCodeExtractionFailed = "extraction_failed"
	ErrCodeWriteFailed      = "write_failed"
	ErrCodeConfigInvalid    = "config_invalid"
	ErrCodeConfigNotFound   = "config_not_found"
)

// FetchError 表示某一季页面抓取失败（网络错误、非 2xx、被拦截等）。
type FetchError struct {
	Season int
	URL    string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: season=%d url=%s: %v", ErrCodeFetchFailed, e.Season, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractionError 表示某个 episode 片段缺少字段，或字段无法转换为声明的类型。
// Fragment 为该片段在页面中的位置（从 1 开始）。
type ExtractionError struct {
	Season   int
	Fragment int
	Field    string
	Value    string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("%s: season=%d fragment=%d field=%s value=%q: %v", ErrCodeExtractionFailed, e.Season, e.Fragment, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("%s: season=%d fragment=%d field=%s: %v", ErrCodeExtractionFailed, e.Season, e.Fragment, e.Field, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// WriteError 表示导出文件写入失败。此时目标路径上的旧文件保持不变。
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrCodeWriteFailed, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrFieldMissing 是字段不存在时 ExtractionError.Err 的取值。
var ErrFieldMissing = errors.New("field missing")

// Code 从 error 链中提取 error_code；无法归类时返回空串。
func Code(err error) string {
	var (
		fe *FetchError
		ee *ExtractionError
		we *WriteError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ee):
		return ErrCodeExtractionFailed
	case errors.As(err, &fe):
		return ErrCodeFetchFailed
	case errors.As(err, &we):
		return ErrCodeWriteFailed
	}
	var c interface{ ErrorCode() string }
	if errors.As(err, &c) {
		return c.ErrorCode()
	}
	return ""
}
