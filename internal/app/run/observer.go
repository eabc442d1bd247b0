package run

import (
	"time"

	"github.com/John-Robertt/epscrape/internal/config"
	"github.com/John-Robertt/epscrape/internal/domain"
)

// Observer 把“运行进度/阶段结果”从核心执行流程中解耦出来。
//
// 约束：
// - run 包只负责发事件，不做任何输出（避免污染 stdout 的 JSON 契约）
// - 事件在同一个 goroutine 中按完成顺序发出；完成顺序不等于季号顺序
type Observer interface {
	// OnStart 在开始抓取前调用。
	OnStart(eff config.EffectiveConfig, seasons []int)
	// OnSeasonDone 在某一季抓取+抽取结束（成功/失败/取消）时调用。
	OnSeasonDone(done, total int, res domain.SeasonResult, dur time.Duration)
	// OnExported 在 CSV 原子写入成功后调用。
	OnExported(path string, rows int, dur time.Duration)
}
