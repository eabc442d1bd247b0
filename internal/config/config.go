package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/John-Robertt/epscrape/internal/domain"
	"github.com/John-Robertt/epscrape/internal/export"
	"github.com/John-Robertt/epscrape/internal/infra/httpx"
	"github.com/John-Robertt/epscrape/internal/layout"
	"github.com/John-Robertt/epscrape/internal/logging"
	"github.com/John-Robertt/epscrape/internal/provider/imdb"
)

const (
	// ErrCodeNotFound 表示 --config 指定的文件不存在。
	ErrCodeNotFound = domain.ErrCodeConfigNotFound
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = domain.ErrCodeConfigInvalid
)

const (
	// DefaultFileName 是 cwd 下自动发现的配置文件名（可选）。
	DefaultFileName = "epscrape.json"

	DefaultFrom        = 1
	DefaultTo          = 7
	DefaultConcurrency = 1
	MaxConcurrency     = 16
	// MaxSeasons 限制一次运行的季数，防止 from/to 写错导致大量请求。
	MaxSeasons = 100
)

// CLIArgs 是 CLI 暴露的入口，并保留“是否显式指定”的信息。
// 这能保证覆盖优先级可实现：例如 --skip-invalid=false 必须能覆盖 config.skip_invalid=true。
type CLIArgs struct {
	ConfigPath string

	SeriesID      string
	Output        string
	CacheDir      string
	Report        string
	LogLevel      string
	LayoutVersion string

	From    int
	FromSet bool
	To      int
	ToSet   bool

	Concurrency    int
	ConcurrencySet bool

	SkipInvalid    bool
	SkipInvalidSet bool

	Offline    bool
	OfflineSet bool
}

// FileConfig 对应 epscrape.json 的解析结构。
type FileConfig struct {
	SeriesID       string         `json:"series_id"`
	BaseURL        string         `json:"base_url"`
	Seasons        *SeasonRange   `json:"seasons"`
	Output         string         `json:"output"`
	Concurrency    int            `json:"concurrency"`
	RetryMax       *int           `json:"retry_max"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Proxy          *ProxyConfig   `json:"proxy"`
	LayoutVersion  string         `json:"layout_version"`
	Layout         *layout.Layout `json:"layout"`
	SkipInvalid    *bool          `json:"skip_invalid"`
	CacheDir       string         `json:"cache_dir"`
	Offline        *bool          `json:"offline"`
	Report         string         `json:"report"`
	LogLevel       string         `json:"log_level"`
}

type SeasonRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	SeriesID string
	BaseURL  string

	// From/To 是闭区间 [From, To]。
	From int
	To   int

	// Output 为绝对路径。
	Output string

	Concurrency int
	RetryMax    int
	Timeout     time.Duration
	ProxyURL    string

	Layout layout.Layout

	// SkipInvalid=true 时跳过无效片段并记录 warning（默认严格：任一无效片段即终止整次运行）。
	SkipInvalid bool

	CacheDir string
	Offline  bool

	ReportPath string
	LogLevel   string
}

// Seasons 按升序返回 [From, To] 内的所有季号。
func (e EffectiveConfig) Seasons() []int {
	if e.To < e.From {
		return nil
	}
	out := make([]int, 0, e.To-e.From+1)
	for s := e.From; s <= e.To; s++ {
		out = append(out, s)
	}
	return out
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorCode 让 domain.Code 能识别配置错误。
func (e *Error) ErrorCode() string { return e.Code }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 --config：必须存在
// 2) 否则尝试读取 <cwd>/epscrape.json（可选；不存在则全部使用默认值）
//
// 覆盖优先级：CLI > config > 内置默认。相对路径以 cwd 为基准。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	var (
		cfgPath string
		fc      FileConfig
		exists  bool
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
	} else {
		cfgPath = filepath.Join(cwdAbs, DefaultFileName)
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			// 无配置文件时，字段错误只可能来自 CLI：报错中不提文件路径。
			cfgPath = ""
		}
	}

	eff, err := merge(cwdAbs, cli, fc)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	return eff, nil
}

var seriesIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func merge(cwdAbs string, cli CLIArgs, fc FileConfig) (EffectiveConfig, error) {
	seriesID := firstNonEmpty(cli.SeriesID, fc.SeriesID, imdb.DefaultSeriesID)
	if !seriesIDRE.MatchString(seriesID) {
		return EffectiveConfig{}, fmt.Errorf("series_id 无效：%q", seriesID)
	}

	baseURL := strings.TrimRight(firstNonEmpty(fc.BaseURL, imdb.DefaultBaseURL), "/")
	if u, err := url.Parse(baseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return EffectiveConfig{}, fmt.Errorf("base_url 必须是 http/https URL：%q", baseURL)
	}

	from, to := DefaultFrom, DefaultTo
	if fc.Seasons != nil {
		from, to = fc.Seasons.From, fc.Seasons.To
	}
	if cli.FromSet {
		from = cli.From
	}
	if cli.ToSet {
		to = cli.To
	}
	if from < 1 {
		return EffectiveConfig{}, fmt.Errorf("seasons.from 必须 >= 1，实际是 %d", from)
	}
	if to < from {
		return EffectiveConfig{}, fmt.Errorf("seasons.to 必须 >= seasons.from（%d），实际是 %d", from, to)
	}
	if to-from+1 > MaxSeasons {
		return EffectiveConfig{}, fmt.Errorf("一次最多 %d 季，实际是 %d", MaxSeasons, to-from+1)
	}

	concurrency := fc.Concurrency
	if cli.ConcurrencySet {
		concurrency = cli.Concurrency
	}
	if concurrency == 0 {
		concurrency = DefaultConcurrency
	}
	// 超出范围截断，而不是报错。
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > MaxConcurrency {
		concurrency = MaxConcurrency
	}

	retryMax := 0
	if fc.RetryMax != nil {
		retryMax = *fc.RetryMax
	}
	if retryMax < 0 {
		retryMax = 0
	}
	if retryMax > httpx.MaxRetry {
		retryMax = httpx.MaxRetry
	}

	if fc.TimeoutSeconds < 0 {
		return EffectiveConfig{}, fmt.Errorf("timeout_seconds 不能为负数：%d", fc.TimeoutSeconds)
	}
	timeout := httpx.DefaultTimeout
	if fc.TimeoutSeconds > 0 {
		timeout = time.Duration(fc.TimeoutSeconds) * time.Second
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err != nil || u.Host == "" {
			return EffectiveConfig{}, fmt.Errorf("proxy.url 无效：%q", proxyURL)
		}
	}

	l, err := resolveLayout(firstNonEmpty(cli.LayoutVersion, fc.LayoutVersion), fc.Layout)
	if err != nil {
		return EffectiveConfig{}, err
	}

	skip := false
	if cli.SkipInvalidSet {
		skip = cli.SkipInvalid
	} else if fc.SkipInvalid != nil {
		skip = *fc.SkipInvalid
	}

	offline := false
	if cli.OfflineSet {
		offline = cli.Offline
	} else if fc.Offline != nil {
		offline = *fc.Offline
	}

	cacheDir := firstNonEmpty(cli.CacheDir, fc.CacheDir)
	if cacheDir != "" {
		cacheDir = absCleanFrom(cwdAbs, cacheDir)
	}
	if offline && cacheDir == "" {
		return EffectiveConfig{}, fmt.Errorf("offline=true 但 cache_dir 为空")
	}

	report := firstNonEmpty(cli.Report, fc.Report)
	if report != "" {
		report = absCleanFrom(cwdAbs, report)
	}

	logLevel := firstNonEmpty(cli.LogLevel, fc.LogLevel, "info")
	if _, err := logging.ParseLevel(logLevel); err != nil {
		return EffectiveConfig{}, err
	}

	return EffectiveConfig{
		SeriesID:    seriesID,
		BaseURL:     baseURL,
		From:        from,
		To:          to,
		Output:      absCleanFrom(cwdAbs, firstNonEmpty(cli.Output, fc.Output, export.DefaultOutput)),
		Concurrency: concurrency,
		RetryMax:    retryMax,
		Timeout:     timeout,
		ProxyURL:    proxyURL,
		Layout:      l,
		SkipInvalid: skip,
		CacheDir:    cacheDir,
		Offline:     offline,
		ReportPath:  report,
		LogLevel:    strings.ToLower(logLevel),
	}, nil
}

// resolveLayout：自定义 layout（配置文件）优先于 layout_version；两者都没有时使用默认版本。
func resolveLayout(version string, custom *layout.Layout) (layout.Layout, error) {
	var l layout.Layout
	switch {
	case custom != nil:
		l = *custom
		if strings.TrimSpace(l.Version) == "" {
			l.Version = "custom"
		}
	case version != "":
		v, ok := layout.Lookup(version)
		if !ok {
			return layout.Layout{}, fmt.Errorf("layout_version 只能是 %s，实际是 %q", strings.Join(layout.Versions(), "/"), version)
		}
		l = v
	default:
		l, _ = layout.Lookup(layout.DefaultVersion)
	}
	if err := l.Validate(); err != nil {
		return layout.Layout{}, err
	}
	return l, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件（未知字段报错，避免拼写错误被静默忽略）。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
