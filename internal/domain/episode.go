package domain

// EpisodeRecord 是一集的最终输出记录（CSV 的一行）。
//
// 约束：
// - Season 由调用方传入，不从页面解析
// - 构造后不再修改（accumulator/exporter 只读）
type EpisodeRecord struct {
	Season        int
	EpisodeNumber int
	Title         string
	Rating        float64
}

// SeasonPage 是单季页面的抽取结果。
//
// Invalid 收集字段缺失/无法转换的片段；是否视为致命错误由上层决定（默认严格模式）。
type SeasonPage struct {
	Season   int
	URL      string
	Episodes []EpisodeRecord
	Invalid  []*ExtractionError
}
