// Package layout 描述 episode 列表页的页面结构（选择器 + 属性 + 可选正则）。
//
// 页面结构属于外部契约：站点改版时只需新增一个 Layout 版本（或在配置中覆盖），
// 抽取代码本身不变。
package layout

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/andybalholm/cascadia"
)

// DefaultVersion 是未配置 layout_version 时使用的结构版本。
const DefaultVersion = "ipl-2022"

// FieldRule 描述如何从一个 episode 片段中读出一个字段。
//
// - Selector 为空：直接使用片段本身
// - Attr 为空：读取元素文本；否则读取属性值（属性不存在视为字段缺失）
// - Pattern 非空：对读出的值做正则匹配，取第一个捕获组（不匹配视为字段缺失）
type FieldRule struct {
	Selector string `json:"selector"`
	Attr     string `json:"attr"`
	Pattern  string `json:"pattern"`
}

// Layout 是一个版本化的页面结构描述。
type Layout struct {
	Version       string    `json:"version"`
	Fragment      string    `json:"fragment"`
	EpisodeNumber FieldRule `json:"episode_number"`
	Title         FieldRule `json:"title"`
	Rating        FieldRule `json:"rating"`
}

var builtin = map[string]Layout{
	// 旧版 IMDb 列表页：每集一个 div.info。
	"ipl-2022": {
		Version:       "ipl-2022",
		Fragment:      "div.info",
		EpisodeNumber: FieldRule{Selector: "meta", Attr: "content"},
		Title:         FieldRule{Selector: "a", Attr: "title"},
		Rating:        FieldRule{Selector: "span.ipl-rating-star__rating"},
	},
	// 2023 改版后的列表页：标题形如 "S1.E3 ∙ Shadow of Malevolence"。
	"ipc-2023": {
		Version:       "ipc-2023",
		Fragment:      "article.episode-item-wrapper",
		EpisodeNumber: FieldRule{Selector: "div.ipc-title__text", Pattern: `\.E(\d+)`},
		Title:         FieldRule{Selector: "div.ipc-title__text", Pattern: `^S\d+\.E\d+\s*∙\s*(.+)$`},
		Rating:        FieldRule{Selector: "span.ipc-rating-star--rating"},
	},
}

// Lookup 按版本名返回内置 Layout。
func Lookup(version string) (Layout, bool) {
	l, ok := builtin[strings.ToLower(strings.TrimSpace(version))]
	return l, ok
}

// Versions 返回所有内置版本名（字典序）。
func Versions() []string {
	out := make([]string, 0, len(builtin))
	for v := range builtin {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Validate 编译所有选择器与正则，尽早暴露配置错误（而不是在抓取到一半时才失败）。
func (l Layout) Validate() error {
	if strings.TrimSpace(l.Fragment) == "" {
		return fmt.Errorf("layout %q: fragment 不能为空", l.Version)
	}
	if _, err := cascadia.Compile(l.Fragment); err != nil {
		return fmt.Errorf("layout %q: fragment 选择器无效：%w", l.Version, err)
	}
	rules := []struct {
		name string
		r    FieldRule
	}{
		{"episode_number", l.EpisodeNumber},
		{"title", l.Title},
		{"rating", l.Rating},
	}
	for _, it := range rules {
		if err := it.r.validate(); err != nil {
			return fmt.Errorf("layout %q: %s: %w", l.Version, it.name, err)
		}
	}
	return nil
}

func (r FieldRule) validate() error {
	if s := strings.TrimSpace(r.Selector); s != "" {
		if _, err := cascadia.Compile(s); err != nil {
			return fmt.Errorf("选择器无效：%w", err)
		}
	}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("正则无效：%w", err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("正则必须包含一个捕获组：%q", r.Pattern)
		}
	}
	return nil
}

// Compiled 是预编译后的 FieldRule（正则只编译一次）。
type Compiled struct {
	Selector string
	Attr     string
	re       *regexp.Regexp
}

// Compile 返回预编译的规则；调用前应已通过 Validate。
func (r FieldRule) Compile() (Compiled, error) {
	c := Compiled{Selector: strings.TrimSpace(r.Selector), Attr: strings.TrimSpace(r.Attr)}
	if r.Pattern != "" {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return Compiled{}, err
		}
		c.re = re
	}
	return c, nil
}

// Match 对读出的原始值应用 Pattern；没有 Pattern 时原样返回。
func (c Compiled) Match(raw string) (string, bool) {
	if c.re == nil {
		return raw, true
	}
	m := c.re.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}
