package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/John-Robertt/epscrape/internal/app/run"
	"github.com/John-Robertt/epscrape/internal/config"
	"github.com/John-Robertt/epscrape/internal/domain"
)

var _ run.Observer = (*progressUI)(nil)

// progressUI 是交互终端下的逐行进度输出（写 stderr，不污染 stdout）。
type progressUI struct {
	w io.Writer

	mu        sync.Mutex
	startedAt time.Time
}

func newProgressUI(w io.Writer) *progressUI {
	return &progressUI{w: w}
}

func (p *progressUI) OnStart(eff config.EffectiveConfig, seasons []int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.startedAt = now

	mode := "strict"
	if eff.SkipInvalid {
		mode = "skip-invalid"
	}
	source := "network"
	if eff.Offline {
		source = "cache (offline)"
	}

	fmt.Fprintf(p.w, "[%s] epscrape run\n", now.Format("15:04:05"))
	fmt.Fprintln(p.w, "配置（生效）:")
	fmt.Fprintf(p.w, "  series: %s\n", eff.SeriesID)
	fmt.Fprintf(p.w, "  seasons: %d..%d (%d)\n", eff.From, eff.To, len(seasons))
	fmt.Fprintf(p.w, "  output: %s\n", eff.Output)
	fmt.Fprintf(p.w, "  layout: %s\n", eff.Layout.Version)
	fmt.Fprintf(p.w, "  mode: %s\n", mode)
	fmt.Fprintf(p.w, "  source: %s\n", source)
	fmt.Fprintf(p.w, "  concurrency: %d\n", eff.Concurrency)
	if eff.ProxyURL != "" {
		fmt.Fprintf(p.w, "  proxy: %s\n", redactProxy(eff.ProxyURL))
	}
	if eff.CacheDir != "" {
		fmt.Fprintf(p.w, "  cache_dir: %s\n", eff.CacheDir)
	}
}

func (p *progressUI) OnSeasonDone(done, total int, res domain.SeasonResult, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch res.Status {
	case domain.StatusFailed:
		fmt.Fprintf(p.w, "[%d/%d] season %d FAIL %s (%s)\n", done, total, res.Season, res.ErrorMsg, fmtDur(dur))
	case domain.StatusPending:
		fmt.Fprintf(p.w, "[%d/%d] season %d cancelled\n", done, total, res.Season)
	default:
		extra := ""
		if res.Skipped > 0 {
			extra = fmt.Sprintf(" skipped=%d", res.Skipped)
		}
		fmt.Fprintf(p.w, "[%d/%d] season %d %s episodes=%d%s (%s)\n", done, total, res.Season, res.Status, res.Episodes, extra, fmtDur(dur))
	}
}

func (p *progressUI) OnExported(path string, rows int, dur time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "写出 %s rows=%d (总耗时 %s)\n", path, rows, fmtDur(time.Since(p.startedAt)))
}

func fmtDur(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

// redactProxy 隐藏代理 URL 中的密码。
func redactProxy(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	cred := u[scheme+3 : at]
	if i := strings.Index(cred, ":"); i >= 0 {
		cred = cred[:i] + ":***"
	}
	return u[:scheme+3] + cred + u[at:]
}
