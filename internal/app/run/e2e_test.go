package run

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/John-Robertt/epscrape/internal/config"
	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/export"
	"github.com/John-Robertt/epscrape/internal/provider/imdb"
)

type ep struct {
	num    string
	title  string
	rating string // 为空表示缺少 rating 节点
}

func seasonHTML(eps ...ep) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body><div class="list detail eplist">`)
	for _, e := range eps {
		b.WriteString(`<div class="list_item"><div class="info" itemprop="episodes">`)
		fmt.Fprintf(&b, `<meta itemprop="episodeNumber" content="%s"/>`, html.EscapeString(e.num))
		fmt.Fprintf(&b, `<strong><a href="/title/x/" title="%s">%s</a></strong>`, html.EscapeString(e.title), html.EscapeString(e.title))
		if e.rating != "" {
			fmt.Fprintf(&b, `<div class="ipl-rating-star small"><span class="ipl-rating-star__rating">%s</span></div>`, e.rating)
		}
		b.WriteString(`</div></div>`)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

// siteServer 按 season 参数返回页面；pages 中没有的季返回 404。
type siteServer struct {
	*httptest.Server

	mu    sync.Mutex
	hits  map[int]int
	delay map[int]time.Duration
}

func newSite(t *testing.T, pages map[int]string) *siteServer {
	t.Helper()
	s := &siteServer{hits: map[int]int{}, delay: map[int]time.Duration{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/title/tt0458290/episodes" {
			http.NotFound(w, r)
			return
		}
		season, err := strconv.Atoi(r.URL.Query().Get("season"))
		if err != nil {
			http.Error(w, "bad season", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.hits[season]++
		d := s.delay[season]
		s.mu.Unlock()
		if d > 0 {
			time.Sleep(d)
		}
		body, ok := pages[season]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *siteServer) setDelay(season int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[season] = d
}

func (s *siteServer) hitCount(season int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[season]
}

// loadConfig 通过真实的配置合并逻辑构造 EffectiveConfig（base_url 指向测试站点）。
func loadConfig(t *testing.T, cwd, baseURL string, extra string, cli config.CLIArgs) config.EffectiveConfig {
	t.Helper()
	body := fmt.Sprintf(`{"base_url": %q%s}`, baseURL, extra)
	if err := os.WriteFile(filepath.Join(cwd, config.DefaultFileName), []byte(body), 0o644); err != nil {
		t.Fatalf("写入配置失败：%v", err)
	}
	eff, err := config.LoadEffective(cwd, cli)
	if err != nil {
		t.Fatalf("加载配置失败：%v", err)
	}
	return eff
}

func sourceFor(eff config.EffectiveConfig) imdb.Provider {
	return imdb.Provider{BaseURL: eff.BaseURL, Series: eff.SeriesID, Layout: eff.Layout}
}

func season(n int) config.CLIArgs {
	return config.CLIArgs{From: n, FromSet: true, To: n, ToSet: true}
}

func TestExecute_SingleSeasonExactOutput(t *testing.T) {
	site := newSite(t, map[int]string{
		3: seasonHTML(ep{"1", "Pilot", "8.5"}, ep{"2", `A New "Hope"`, "9.1"}),
	})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, "", season(3))

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if !rr.OK() || rr.Summary.Episodes != 2 {
		t.Fatalf("报告不符合预期：%+v", rr)
	}

	b, err := os.ReadFile(filepath.Join(cwd, "eps_df.csv"))
	if err != nil {
		t.Fatalf("读取输出失败：%v", err)
	}
	want := "season,episode_number,title,rating\n" +
		"3,1,Pilot,8.5\n" +
		"3,2,\"A New \"\"Hope\"\"\",9.1\n"
	if string(b) != want {
		t.Fatalf("输出不一致：\n got=%q\nwant=%q", string(b), want)
	}
}

func TestExecute_MissingRating_FailsAndKeepsExistingFile(t *testing.T) {
	site := newSite(t, map[int]string{
		1: seasonHTML(ep{"1", "Pilot", "8.5"}),
		2: seasonHTML(ep{"1", "Ok", "7.0"}, ep{"2", "Broken", ""}),
	})
	cwd := t.TempDir()
	out := filepath.Join(cwd, "eps_df.csv")
	if err := os.WriteFile(out, []byte("previous run\n"), 0o644); err != nil {
		t.Fatalf("写入旧输出失败：%v", err)
	}
	eff := loadConfig(t, cwd, site.URL, "", config.CLIArgs{To: 2, ToSet: true})

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	var xe *domain.ExtractionError
	if !errors.As(err, &xe) {
		t.Fatalf("期望 ExtractionError，实际 %T %v", err, err)
	}
	if xe.Season != 2 || xe.Fragment != 2 || xe.Field != imdb.FieldRating {
		t.Fatalf("错误定位不正确：%+v", xe)
	}
	if rr.Written || rr.ErrorCode != domain.ErrCodeExtractionFailed {
		t.Fatalf("报告不符合预期：%+v", rr)
	}

	b, _ := os.ReadFile(out)
	if string(b) != "previous run\n" {
		t.Fatalf("失败时不应覆盖已有输出：%q", string(b))
	}
}

func TestExecute_MissingRating_NoFileWhenAbsent(t *testing.T) {
	site := newSite(t, map[int]string{1: seasonHTML(ep{"1", "Broken", ""})})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, "", season(1))

	if _, err := Execute(context.Background(), eff, sourceFor(eff), Deps{}); domain.Code(err) != domain.ErrCodeExtractionFailed {
		t.Fatalf("期望 extraction_failed，实际 %v", err)
	}
	if _, err := os.Stat(filepath.Join(cwd, "eps_df.csv")); !os.IsNotExist(err) {
		t.Fatalf("失败时不应创建输出文件，Stat err=%v", err)
	}
}

func TestExecute_SkipInvalid_WritesRemaining(t *testing.T) {
	site := newSite(t, map[int]string{
		1: seasonHTML(ep{"1", "Pilot", "8.5"}, ep{"2", "Broken", ""}, ep{"3", "Third", "7.2"}),
	})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, `, "skip_invalid": true`, season(1))

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	if err != nil {
		t.Fatalf("skip_invalid 时不期望错误：%v", err)
	}
	if rr.Summary.Episodes != 2 || rr.Summary.Skipped != 1 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}

	f, _ := os.Open(filepath.Join(cwd, "eps_df.csv"))
	defer f.Close()
	recs, err := export.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV 失败：%v", err)
	}
	if len(recs) != 2 || recs[0].EpisodeNumber != 1 || recs[1].EpisodeNumber != 3 {
		t.Fatalf("输出不符合预期：%+v", recs)
	}
}

func TestExecute_ParallelPreservesSeasonOrder(t *testing.T) {
	pages := map[int]string{}
	for s := 1; s <= 7; s++ {
		pages[s] = seasonHTML(
			ep{"1", fmt.Sprintf("S%d first", s), "7.1"},
			ep{"2", fmt.Sprintf("S%d second", s), "8.2"},
		)
	}
	site := newSite(t, pages)
	// 前面的季更慢：完成顺序与季号顺序相反。
	for s := 1; s <= 7; s++ {
		site.setDelay(s, time.Duration(8-s)*15*time.Millisecond)
	}
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, `, "concurrency": 7`, config.CLIArgs{})

	obs := &recordingObserver{}
	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{Observer: obs})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if rr.Summary.Seasons != 7 || rr.Summary.Episodes != 14 {
		t.Fatalf("summary 不符合预期：%+v", rr.Summary)
	}

	f, _ := os.Open(filepath.Join(cwd, "eps_df.csv"))
	defer f.Close()
	recs, err := export.ReadCSV(f)
	if err != nil {
		t.Fatalf("ReadCSV 失败：%v", err)
	}
	if len(recs) != 14 {
		t.Fatalf("期望 14 行，实际 %d", len(recs))
	}
	for i, r := range recs {
		wantSeason := i/2 + 1
		wantNum := i%2 + 1
		if r.Season != wantSeason || r.EpisodeNumber != wantNum {
			t.Fatalf("第 %d 行顺序错误：%+v", i, r)
		}
	}

	if obs.started != 1 || obs.seasons != 7 || obs.exported != 14 {
		t.Fatalf("observer 事件不完整：%+v", obs)
	}
}

func TestExecute_EmptySeasonDoesNotAbort(t *testing.T) {
	site := newSite(t, map[int]string{
		1: seasonHTML(ep{"1", "Pilot", "8.5"}),
		2: seasonHTML(),
		3: seasonHTML(ep{"1", "Back", "7.9"}),
	})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, "", config.CLIArgs{To: 3, ToSet: true})

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	if err != nil {
		t.Fatalf("空季不应导致失败：%v", err)
	}
	if rr.Summary.Empty != 1 || rr.Seasons[1].Status != domain.StatusEmpty {
		t.Fatalf("空季状态不正确：%+v", rr.Seasons)
	}

	b, _ := os.ReadFile(filepath.Join(cwd, "eps_df.csv"))
	want := "season,episode_number,title,rating\n1,1,Pilot,8.5\n3,1,Back,7.9\n"
	if string(b) != want {
		t.Fatalf("输出不一致：\n got=%q\nwant=%q", string(b), want)
	}
}

func TestExecute_FetchFailed(t *testing.T) {
	site := newSite(t, map[int]string{1: seasonHTML(ep{"1", "Pilot", "8.5"})})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, "", config.CLIArgs{To: 3, ToSet: true})

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	var fe *domain.FetchError
	if !errors.As(err, &fe) || fe.Season != 2 {
		t.Fatalf("期望 season=2 的 FetchError，实际 %v", err)
	}
	if !strings.Contains(fe.URL, "season=2") {
		t.Fatalf("FetchError 应包含 URL：%q", fe.URL)
	}
	if rr.Written {
		t.Fatalf("失败时不应写出文件")
	}
	if rr.Seasons[1].Status != domain.StatusFailed || rr.Seasons[1].ErrorCode != domain.ErrCodeFetchFailed {
		t.Fatalf("season 2 状态不正确：%+v", rr.Seasons[1])
	}
	// 串行模式：失败后不再发起后续季的请求。
	if site.hitCount(3) != 0 {
		t.Fatalf("season 2 失败后不应继续抓取 season 3")
	}
	if _, err := os.Stat(filepath.Join(cwd, "eps_df.csv")); !os.IsNotExist(err) {
		t.Fatalf("失败时不应创建输出文件")
	}
}

func TestExecute_CacheThenOffline(t *testing.T) {
	site := newSite(t, map[int]string{
		1: seasonHTML(ep{"1", "Pilot", "8.5"}),
		2: seasonHTML(ep{"1", "Two", "7.5"}),
	})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, `, "cache_dir": "cache"`, config.CLIArgs{To: 2, ToSet: true})

	if _, err := Execute(context.Background(), eff, sourceFor(eff), Deps{}); err != nil {
		t.Fatalf("首次运行失败：%v", err)
	}
	first, _ := os.ReadFile(eff.Output)
	if _, err := os.Stat(filepath.Join(cwd, "cache", "tt0458290", "season-2.html")); err != nil {
		t.Fatalf("应写入页面缓存：%v", err)
	}

	site.Close()
	if err := os.Remove(eff.Output); err != nil {
		t.Fatalf("删除输出失败：%v", err)
	}

	eff.Offline = true
	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	if err != nil {
		t.Fatalf("offline 运行失败：%v", err)
	}
	second, _ := os.ReadFile(eff.Output)
	if string(first) != string(second) {
		t.Fatalf("offline 输出应与在线一致：\n%q\n%q", first, second)
	}
	if rr.Seasons[0].Source != SourceCache {
		t.Fatalf("offline 时 source 应为 cache：%+v", rr.Seasons[0])
	}

	eff.To = 3
	if _, err := Execute(context.Background(), eff, sourceFor(eff), Deps{}); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("缓存缺失应返回 ErrCacheMiss，实际 %v", err)
	}
}

func TestExecute_WriteFailed(t *testing.T) {
	site := newSite(t, map[int]string{1: seasonHTML(ep{"1", "Pilot", "8.5"})})
	cwd := t.TempDir()
	eff := loadConfig(t, cwd, site.URL, `, "output": "out.csv"`, season(1))
	if err := os.Mkdir(eff.Output, 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	rr, err := Execute(context.Background(), eff, sourceFor(eff), Deps{})
	if domain.Code(err) != domain.ErrCodeWriteFailed {
		t.Fatalf("期望 write_failed，实际 %v", err)
	}
	if rr.Written || rr.ErrorCode != domain.ErrCodeWriteFailed {
		t.Fatalf("报告不符合预期：%+v", rr)
	}
}

type recordingObserver struct {
	started  int
	seasons  int
	exported int
}

func (o *recordingObserver) OnStart(eff config.EffectiveConfig, seasons []int) { o.started++ }

func (o *recordingObserver) OnSeasonDone(done, total int, res domain.SeasonResult, dur time.Duration) {
	o.seasons++
}

func (o *recordingObserver) OnExported(path string, rows int, dur time.Duration) { o.exported = rows }
