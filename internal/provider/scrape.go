package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/John-Robertt/epscrape/internal/domain"
)

// maxPageBytes 限制单页读取大小（IMDb 列表页通常 < 2 MiB）。测试中可调小。
var maxPageBytes int64 = 16 << 20

// ErrPageTooLarge 表示页面超过 maxPageBytes；截断的页面不能交给解析。
var ErrPageTooLarge = errors.New("页面超过大小上限")

// FetchURL 执行一次 GET 并返回 body。非 2xx 返回 *HTTPStatusError，WAF 挑战返回 *BlockedError。
func FetchURL(ctx context.Context, c *http.Client, u string) ([]byte, error) {
	if c == nil {
		return nil, errors.New("http client 不能为空")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if action := strings.TrimSpace(resp.Header.Get("x-amzn-waf-action")); action != "" {
		return nil, &BlockedError{URL: u, Reason: "waf-" + strings.ToLower(action)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPStatusError{URL: u, StatusCode: resp.StatusCode, Location: resp.Header.Get("Location")}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxPageBytes {
		return nil, fmt.Errorf("%w：%s（上限 %d 字节）", ErrPageTooLarge, u, maxPageBytes)
	}
	return b, nil
}

// Scrape 抓取并解析一季页面。
//
// 返回值：
// - page：解析结果（Invalid 中的片段是否致命由上层决定）
// - html：抓取到的原始 HTML（用于 cache）
//
// 抓取阶段的错误统一包装为 *domain.FetchError（带 season 与 URL）。
func Scrape(ctx context.Context, src Source, season int, c *http.Client) (page domain.SeasonPage, html []byte, err error) {
	html, pageURL, err := src.Fetch(ctx, season, c)
	if err != nil {
		if pageURL == "" {
			pageURL = src.SeasonURL(season)
		}
		return domain.SeasonPage{}, nil, &domain.FetchError{Season: season, URL: pageURL, Err: err}
	}
	page, err = src.Parse(season, html, pageURL)
	if err != nil {
		return domain.SeasonPage{}, html, err
	}
	return page, html, nil
}
