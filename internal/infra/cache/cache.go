package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/John-Robertt/epscrape/internal/infra/fsx"
)

// Store 提供 <dir>/<series>/season-<N>.html 的页面缓存读写。
//
// 约束：
// - Dir 为空表示禁用缓存：读总是 miss，写直接忽略
// - offline：只允许读（ReadOnly=true）
type Store struct {
	Dir      string
	ReadOnly bool
}

var ErrReadOnly = errors.New("cache: read-only")

func New(dir string, readOnly bool) Store {
	dir = strings.TrimSpace(dir)
	if dir != "" {
		dir = filepath.Clean(dir)
	}
	return Store{Dir: dir, ReadOnly: readOnly}
}

func (s Store) Enabled() bool { return s.Dir != "" }

// SeasonHTMLPath 返回某季页面缓存的绝对路径。
func (s Store) SeasonHTMLPath(series string, season int) (string, error) {
	id, err := cleanSeries(series)
	if err != nil {
		return "", err
	}
	if season < 1 {
		return "", fmt.Errorf("season 必须为正数：%d", season)
	}
	return filepath.Join(s.Dir, id, fmt.Sprintf("season-%d.html", season)), nil
}

func (s Store) ReadSeasonHTML(series string, season int) ([]byte, bool, error) {
	if !s.Enabled() {
		return nil, false, nil
	}
	path, err := s.SeasonHTMLPath(series, season)
	if err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s Store) WriteSeasonHTML(series string, season int, html []byte) error {
	if !s.Enabled() {
		return nil
	}
	if s.ReadOnly {
		return ErrReadOnly
	}
	path, err := s.SeasonHTMLPath(series, season)
	if err != nil {
		return err
	}
	return fsx.WriteFileAtomicReplace(filepath.Dir(path), filepath.Base(path), html)
}

var seriesIDRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func cleanSeries(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("series id 不能为空")
	}
	// 最小约束：避免路径穿越。
	if !seriesIDRE.MatchString(id) {
		return "", fmt.Errorf("非法 series id：%q", id)
	}
	return id, nil
}
