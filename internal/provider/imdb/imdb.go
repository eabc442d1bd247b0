// Package imdb 实现 IMDb episode 列表页（/title/<id>/episodes?season=N）的抓取与抽取。
package imdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/layout"
	providerx "github.com/John-Robertt/epscrape/internal/provider"
)

const (
	DefaultBaseURL = "https://www.imdb.com"
	// DefaultSeriesID 是 Star Wars: The Clone Wars (2008)。
	DefaultSeriesID = "tt0458290"
)

const (
	FieldEpisodeNumber = "episode_number"
	FieldTitle         = "title"
	FieldRating        = "rating"
)

// Provider 实现 IMDb 列表页的抓取与 HTML 抽取。
//
// Layout 为零值时使用 layout.DefaultVersion。
type Provider struct {
	BaseURL string
	Series  string
	Layout  layout.Layout
}

func (Provider) Name() string { return "imdb" }

func (p Provider) SeriesID() string {
	if s := strings.TrimSpace(p.Series); s != "" {
		return s
	}
	return DefaultSeriesID
}

func (p Provider) baseURL() string {
	u := strings.TrimSpace(p.BaseURL)
	if u == "" {
		return DefaultBaseURL
	}
	return strings.TrimRight(u, "/")
}

func (p Provider) layout() layout.Layout {
	if strings.TrimSpace(p.Layout.Fragment) == "" {
		l, _ := layout.Lookup(layout.DefaultVersion)
		return l
	}
	return p.Layout
}

// SeasonURL 返回某季列表页 URL：<base>/title/<series>/episodes?season=<N>
func (p Provider) SeasonURL(season int) string {
	return p.baseURL() + "/title/" + p.SeriesID() + "/episodes?season=" + strconv.Itoa(season)
}

func (p Provider) Fetch(ctx context.Context, season int, c *http.Client) ([]byte, string, error) {
	if season < 1 {
		return nil, "", fmt.Errorf("season 必须为正数：%d", season)
	}
	pageURL := p.SeasonURL(season)
	b, err := providerx.FetchURL(ctx, c, pageURL)
	return b, pageURL, err
}

type rules struct {
	episodeNumber layout.Compiled
	title         layout.Compiled
	rating        layout.Compiled
}

func compileRules(l layout.Layout) (rules, error) {
	var (
		r   rules
		err error
	)
	if r.episodeNumber, err = l.EpisodeNumber.Compile(); err != nil {
		return rules{}, err
	}
	if r.title, err = l.Title.Compile(); err != nil {
		return rules{}, err
	}
	if r.rating, err = l.Rating.Compile(); err != nil {
		return rules{}, err
	}
	return r, nil
}

// Parse 把一季的列表页抽取为 SeasonPage。
//
// - 每个匹配 Layout.Fragment 的节点是一个 episode 片段，按文档顺序处理
// - 零个片段返回空 Episodes（不是错误）
// - 字段缺失/无法转换的片段进入 Invalid，不会出现在 Episodes 中
func (p Provider) Parse(season int, html []byte, pageURL string) (domain.SeasonPage, error) {
	l := p.layout()
	r, err := compileRules(l)
	if err != nil {
		return domain.SeasonPage{}, fmt.Errorf("layout %q: %w", l.Version, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return domain.SeasonPage{}, err
	}

	page := domain.SeasonPage{
		Season:   season,
		URL:      strings.TrimSpace(pageURL),
		Episodes: []domain.EpisodeRecord{},
	}
	doc.Find(l.Fragment).Each(func(i int, s *goquery.Selection) {
		rec, xerr := extractEpisode(season, i+1, s, r)
		if xerr != nil {
			page.Invalid = append(page.Invalid, xerr)
			return
		}
		page.Episodes = append(page.Episodes, rec)
	})
	return page, nil
}

func extractEpisode(season, fragment int, s *goquery.Selection, r rules) (domain.EpisodeRecord, *domain.ExtractionError) {
	fail := func(field, value string, err error) *domain.ExtractionError {
		return &domain.ExtractionError{Season: season, Fragment: fragment, Field: field, Value: value, Err: err}
	}

	raw, ok := readField(s, r.episodeNumber)
	if !ok {
		return domain.EpisodeRecord{}, fail(FieldEpisodeNumber, "", domain.ErrFieldMissing)
	}
	num, err := strconv.Atoi(raw)
	if err != nil {
		return domain.EpisodeRecord{}, fail(FieldEpisodeNumber, raw, err)
	}
	if num < 1 {
		return domain.EpisodeRecord{}, fail(FieldEpisodeNumber, raw, errors.New("必须为正整数"))
	}

	title, ok := readField(s, r.title)
	if !ok || title == "" {
		return domain.EpisodeRecord{}, fail(FieldTitle, "", domain.ErrFieldMissing)
	}
	title = norm.NFC.String(title)

	raw, ok = readField(s, r.rating)
	if !ok || raw == "" {
		return domain.EpisodeRecord{}, fail(FieldRating, "", domain.ErrFieldMissing)
	}
	rating, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return domain.EpisodeRecord{}, fail(FieldRating, raw, err)
	}
	if math.IsNaN(rating) || math.IsInf(rating, 0) {
		return domain.EpisodeRecord{}, fail(FieldRating, raw, errors.New("不是有限数值"))
	}

	return domain.EpisodeRecord{
		Season:        season,
		EpisodeNumber: num,
		Title:         title,
		Rating:        rating,
	}, nil
}

// readField 按规则读出片段内的一个字段值（已 TrimSpace）。ok=false 表示字段不存在。
func readField(s *goquery.Selection, c layout.Compiled) (string, bool) {
	target := s
	if c.Selector != "" {
		target = s.Find(c.Selector).First()
	}
	if target.Length() == 0 {
		return "", false
	}

	var raw string
	if c.Attr != "" {
		v, ok := target.Attr(c.Attr)
		if !ok {
			return "", false
		}
		raw = v
	} else {
		raw = target.Text()
	}

	v, ok := c.Match(strings.TrimSpace(raw))
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}
