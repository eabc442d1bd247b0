package provider

import (
	"context"
	"net/http"

	"github.com/John-Robertt/epscrape/internal/domain"
)

// Source 把“站点变化”限制在 provider 包内部；核心流程只依赖统一接口与稳定的 EpisodeRecord。
//
// 约束：
// - Fetch 不做缓存、不做限速（这些由 run/httpx 层统一实现）
// - Parse 必须是纯函数：相同输入 => 相同输出
// - season 由调用方显式传入，不存在“当前季”之类的共享状态
type Source interface {
	Name() string
	SeriesID() string
	SeasonURL(season int) string
	Fetch(ctx context.Context, season int, c *http.Client) (html []byte, pageURL string, err error)
	Parse(season int, html []byte, pageURL string) (domain.SeasonPage, error)
}
