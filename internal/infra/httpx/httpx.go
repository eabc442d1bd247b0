package httpx

import (
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	// MaxRetry 是 RetryMax 的上限（配置层也会截断）。
	MaxRetry = 5
)

// Options 是页面抓取 client 的网络策略。零值即基线行为：直连、不重试、30s 总超时。
type Options struct {
	ProxyURL string
	RetryMax int
	Timeout  time.Duration
}

// Transport 把“UA 池 + 代理 + 有界重试”固化为统一策略。
//
// provider 只负责“拼 URL + 解析 HTML”，不关心网络策略细节。
type Transport struct {
	Base http.RoundTripper

	ua *uaPool

	// RetryMax 表示最大重试次数（不含首次尝试）。0 表示只尝试一次。
	RetryMax int

	// Backoff 是两次尝试之间的等待时间（测试中可设为 0）。
	Backoff time.Duration
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// 只对“可重放”的请求做重试：GET/HEAD 且无 body。
	canRetry := (req.Method == http.MethodGet || req.Method == http.MethodHead) && req.Body == nil
	max := t.RetryMax
	if max < 0 || !canRetry {
		max = 0
	}
	if max > MaxRetry {
		max = MaxRetry
	}

	var lastErr error
	for attempt := 0; attempt <= max; attempt++ {
		if attempt > 0 && t.Backoff > 0 {
			select {
			case <-req.Context().Done():
				return nil, lastErr
			case <-time.After(t.Backoff * time.Duration(attempt)):
			}
		}

		r := req.Clone(req.Context())
		if r.Header.Get("User-Agent") == "" && t.ua != nil {
			r.Header.Set("User-Agent", t.ua.random())
		}
		if r.Header.Get("Accept-Language") == "" {
			// 标题语言随 Accept-Language 变化；固定为英文以保证输出可复现。
			r.Header.Set("Accept-Language", "en-US,en;q=0.9")
		}

		resp, err := t.Base.RoundTrip(r)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if req.Context().Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// NewPageClient 构造用于 episode 列表页抓取的 HTTP client。
//
// 规则：
// - ProxyURL 非空：走代理，且禁用 keep-alive（每请求新连接）
// - 内置 UA 池：每个请求随机 UA
// - 有界重试（默认 0）+ 总超时
func NewPageClient(opts Options) (*http.Client, error) {
	base := &http.Transport{
		Proxy:                 nil,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}

	if p := strings.TrimSpace(opts.ProxyURL); p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy url 缺少 scheme 或 host：" + p)
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Transport: &Transport{
			Base:     base,
			ua:       globalUA,
			RetryMax: opts.RetryMax,
			Backoff:  500 * time.Millisecond,
		},
		Timeout: timeout,
	}, nil
}

type uaPool struct {
	mu  sync.Mutex
	rnd *rand.Rand
	uas []string
}

func (p *uaPool) random() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uas[p.rnd.Intn(len(p.uas))]
}

var globalUA = newUAPool()

func newUAPool() *uaPool {
	uas := []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	}
	return &uaPool{
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
		uas: uas,
	}
}
