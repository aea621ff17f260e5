package market

import "time"

// FetchStatus 表示单标的行情抓取结果状态。
type FetchStatus string

const (
	FetchStatusOK     FetchStatus = "ok"
	FetchStatusFailed FetchStatus = "failed"
)

// InstrumentSnapshot 为单标的的技术面快照，构建后不可变。
// 抓取失败时 Status 为 failed，Indicators 为空，调用方必须将其视为
// "本周期该标的不可操作"，而不是把指标当作零值使用。
type InstrumentSnapshot struct {
	Instrument string             `json:"instrument"`
	Timestamp  time.Time          `json:"timestamp"`
	Price      float64            `json:"price"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
	Status     FetchStatus        `json:"status"`
	Reason     string             `json:"reason,omitempty"`
}

// OK 返回该标的行情是否可用。
func (s InstrumentSnapshot) OK() bool {
	return s.Status == FetchStatusOK
}
