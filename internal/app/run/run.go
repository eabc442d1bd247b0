package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/John-Robertt/epscrape/internal/config"
	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/export"
	"github.com/John-Robertt/epscrape/internal/infra/cache"
	"github.com/John-Robertt/epscrape/internal/infra/httpx"
	"github.com/John-Robertt/epscrape/internal/logging"
	"github.com/John-Robertt/epscrape/internal/provider"
)

const (
	SourceNetwork = "network"
	SourceCache   = "cache"
)

// ErrCacheMiss 表示 offline 模式下缓存中没有该季页面。
var ErrCacheMiss = errors.New("offline: 缓存中没有该季页面")

// Deps 是 Execute 的可注入依赖；零值可用。
type Deps struct {
	Logger   *slog.Logger
	Observer Observer
	// Client 为空时按 eff 构造（httpx.NewPageClient）。
	Client *http.Client
}

type seasonOutcome struct {
	page      domain.SeasonPage
	url       string
	source    string
	err       error
	cancelled bool
}

// Execute 执行一次完整运行：按季抓取 + 抽取 → 按季号顺序汇总 → 原子写出 CSV。
//
// 语义是 all-or-nothing：任一季失败（抓取失败，或严格模式下存在无效片段）时
// 不写出文件，返回该错误；多个失败时返回季号最小的那个。
// RunReport 无论成功与否都会返回，用于展示每季状态。
func Execute(ctx context.Context, eff config.EffectiveConfig, src provider.Source, deps Deps) (domain.RunReport, error) {
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	obs := deps.Observer

	rr := domain.RunReport{
		SeriesID:  src.SeriesID(),
		Output:    eff.Output,
		StartedAt: time.Now().UTC(),
		Seasons:   []domain.SeasonResult{},
	}
	finish := func(err error) (domain.RunReport, error) {
		rr.FinishedAt = time.Now().UTC()
		rr.Fail(err)
		rr.Finalize()
		return rr, err
	}

	client := deps.Client
	if client == nil && !eff.Offline {
		c, err := httpx.NewPageClient(httpx.Options{ProxyURL: eff.ProxyURL, RetryMax: eff.RetryMax, Timeout: eff.Timeout})
		if err != nil {
			return finish(&config.Error{Code: config.ErrCodeInvalid, Err: fmt.Errorf("proxy.url 无效：%w", err)})
		}
		client = c
	}
	store := cache.New(eff.CacheDir, eff.Offline)

	seasons := eff.Seasons()
	if obs != nil {
		obs.OnStart(eff, seasons)
	}
	log.Info("开始抓取", "series", src.SeriesID(), "from", eff.From, "to", eff.To, "concurrency", eff.Concurrency, "layout", eff.Layout.Version)

	outs := fetchAll(ctx, eff, src, client, store, seasons, log, obs)

	firstErr := pickError(outs)
	for i, o := range outs {
		rr.Seasons = append(rr.Seasons, seasonResult(seasons[i], o))
	}
	if firstErr != nil {
		log.Error("运行失败，未写出文件", "err", firstErr)
		return finish(firstErr)
	}

	// 汇总：outs 按季号索引，拼接顺序与抓取完成顺序无关。
	records := lo.Flatten(lo.Map(outs, func(o seasonOutcome, _ int) []domain.EpisodeRecord {
		return o.page.Episodes
	}))

	exportStarted := time.Now()
	if err := export.WriteCSV(eff.Output, records); err != nil {
		log.Error("写出 CSV 失败", "path", eff.Output, "err", err)
		return finish(err)
	}
	rr.Written = true
	dur := time.Since(exportStarted)
	log.Info("已写出 CSV", "path", eff.Output, "rows", len(records))
	if obs != nil {
		obs.OnExported(eff.Output, len(records), dur)
	}
	return finish(nil)
}

// fetchAll 用有界 worker pool 处理所有季；返回值与 seasons 一一对应（同一索引）。
// 任一季失败后取消其余尚未开始/进行中的季。
func fetchAll(ctx context.Context, eff config.EffectiveConfig, src provider.Source, c *http.Client, store cache.Store, seasons []int, log *slog.Logger, obs Observer) []seasonOutcome {
	workers := eff.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > len(seasons) {
		workers = len(seasons)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type execResult struct {
		idx int
		out seasonOutcome
		dur time.Duration
	}

	jobs := make(chan int)
	results := make(chan execResult, len(seasons))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				if cctx.Err() != nil {
					results <- execResult{idx: idx, out: seasonOutcome{url: src.SeasonURL(seasons[idx]), cancelled: true, err: cctx.Err()}}
					continue
				}
				started := time.Now()
				o := processSeason(cctx, eff, src, c, store, seasons[idx], log)
				if o.err != nil && cctx.Err() == nil {
					// 在 worker 内同步取消：串行时保证失败季之后不再发起请求。
					cancel()
				}
				results <- execResult{idx: idx, out: o, dur: time.Since(started)}
			}
		}()
	}

	go func() {
		for i := range seasons {
			jobs <- i
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	outs := make([]seasonOutcome, len(seasons))
	n := 0
	for r := range results {
		n++
		if r.out.err != nil && !r.out.cancelled && errors.Is(r.out.err, context.Canceled) && ctx.Err() == nil {
			// 由其他季的失败触发的取消，不是本季自身的错误。
			r.out.cancelled = true
		}
		outs[r.idx] = r.out
		if obs != nil {
			obs.OnSeasonDone(n, len(seasons), seasonResult(seasons[r.idx], r.out), r.dur)
		}
	}
	return outs
}

func processSeason(ctx context.Context, eff config.EffectiveConfig, src provider.Source, c *http.Client, store cache.Store, season int, log *slog.Logger) seasonOutcome {
	pageURL := src.SeasonURL(season)
	out := seasonOutcome{url: pageURL, source: SourceNetwork}

	var page domain.SeasonPage
	if eff.Offline {
		out.source = SourceCache
		html, ok, err := store.ReadSeasonHTML(src.SeriesID(), season)
		if err == nil && !ok {
			err = ErrCacheMiss
		}
		if err != nil {
			out.err = &domain.FetchError{Season: season, URL: pageURL, Err: err}
			return out
		}
		page, err = src.Parse(season, html, pageURL)
		if err != nil {
			out.err = documentError(season, err)
			return out
		}
	} else {
		p, html, err := provider.Scrape(ctx, src, season, c)
		if err != nil {
			var fe *domain.FetchError
			if !errors.As(err, &fe) {
				err = documentError(season, err)
			}
			out.err = err
			return out
		}
		page = p
		if store.Enabled() {
			if werr := store.WriteSeasonHTML(src.SeriesID(), season, html); werr != nil {
				// 缓存只是辅助：写失败不影响本次结果。
				log.Warn("写入页面缓存失败", "season", season, "err", werr)
			}
		}
	}
	log.Debug("季页面已抽取", "season", season, "source", out.source, "episodes", len(page.Episodes), "invalid", len(page.Invalid))

	if len(page.Invalid) > 0 {
		if !eff.SkipInvalid {
			out.page = page
			out.err = page.Invalid[0]
			return out
		}
		for _, x := range page.Invalid {
			log.Warn("跳过无效片段", "season", x.Season, "fragment", x.Fragment, "field", x.Field, "value", x.Value, "err", x.Err)
		}
	}
	out.page = page
	return out
}

func documentError(season int, err error) error {
	return &domain.ExtractionError{Season: season, Field: "document", Err: err}
}

// pickError 返回季号最小的“自身”错误（被连带取消的季不算）。
func pickError(outs []seasonOutcome) error {
	var fallback error
	for _, o := range outs {
		if o.err == nil {
			continue
		}
		if !o.cancelled {
			return o.err
		}
		if fallback == nil {
			fallback = o.err
		}
	}
	return fallback
}

func seasonResult(season int, o seasonOutcome) domain.SeasonResult {
	res := domain.SeasonResult{
		Season:   season,
		URL:      o.url,
		Source:   o.source,
		Status:   domain.StatusOK,
		Episodes: len(o.page.Episodes),
		Skipped:  len(o.page.Invalid),
	}
	switch {
	case o.cancelled:
		res.Status = domain.StatusPending
		res.Episodes = 0
		res.Skipped = 0
		res.ErrorMsg = "已取消"
		if o.err != nil {
			res.ErrorMsg = "已取消：" + o.err.Error()
		}
	case o.err != nil:
		res.Status = domain.StatusFailed
		res.Skipped = 0
		res.ErrorCode = domain.Code(o.err)
		res.ErrorMsg = o.err.Error()
	case res.Episodes == 0:
		res.Status = domain.StatusEmpty
	}
	return res
}
