package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		SeriesID:   "tt0458290",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Seasons: []SeasonResult{
			{Season: 3, Status: StatusOK, Episodes: 22, Skipped: 1},
			{Season: 1, Status: StatusEmpty},
			{Season: 2, Status: StatusFailed, ErrorCode: ErrCodeFetchFailed},
		},
	}

	r.Finalize()

	if r.Seasons[0].Season != 1 || r.Seasons[1].Season != 2 || r.Seasons[2].Season != 3 {
		t.Fatalf("seasons 排序不符合契约：%+v", r.Seasons)
	}
	want := ReportSummary{Seasons: 3, Episodes: 22, Skipped: 1, Empty: 1, Failed: 1}
	if r.Summary != want {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_MarshalEmptySeasonsAsArray(t *testing.T) {
	b, err := json.Marshal(RunReport{})
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte(`"seasons":[]`)) {
		t.Fatalf("seasons 应输出为空数组：%s", string(b))
	}
}

func TestRunReport_FailSetsCode(t *testing.T) {
	var r RunReport
	r.Written = true
	r.Fail(&WriteError{Path: "eps_df.csv", Err: errors.New("disk full")})
	if r.ErrorCode != ErrCodeWriteFailed {
		t.Fatalf("期望 %q，实际 %q", ErrCodeWriteFailed, r.ErrorCode)
	}
	if r.OK() {
		t.Fatalf("有错误时 OK() 不应为 true")
	}
}

func TestCode_ClassifiesWrappedErrors(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{base, ""},
		{&FetchError{Season: 1, URL: "u", Err: base}, ErrCodeFetchFailed},
		{&ExtractionError{Season: 1, Fragment: 2, Field: "rating", Err: ErrFieldMissing}, ErrCodeExtractionFailed},
		{&WriteError{Path: "p", Err: base}, ErrCodeWriteFailed},
	}
	for _, c := range cases {
		if got := Code(c.err); got != c.want {
			t.Fatalf("Code(%v)=%q，期望 %q", c.err, got, c.want)
		}
	}

	// 抽取错误经由抓取阶段包装时，更具体的 extraction_failed 优先。
	wrapped := &FetchError{Season: 1, Err: &ExtractionError{Season: 1, Field: "title", Err: ErrFieldMissing}}
	if got := Code(wrapped); got != ErrCodeExtractionFailed {
		t.Fatalf("期望 extraction_failed，实际 %q", got)
	}
}

func TestExtractionError_MessageNamesLocation(t *testing.T) {
	e := &ExtractionError{Season: 3, Fragment: 2, Field: "rating", Value: "n/a", Err: errors.New("invalid syntax")}
	msg := e.Error()
	for _, want := range []string{"season=3", "fragment=2", "field=rating", `"n/a"`} {
		if !bytes.Contains([]byte(msg), []byte(want)) {
			t.Fatalf("错误信息缺少 %q：%s", want, msg)
		}
	}
	if !errors.Is(e, e.Err) {
		t.Fatalf("Unwrap 应返回底层错误")
	}
}
