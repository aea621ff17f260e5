package risk

// VerdictStatus 描述风控评估结果状态。
type VerdictStatus string

const (
	StatusApproved VerdictStatus = "approved"
	StatusRejected VerdictStatus = "rejected"
	StatusClamped  VerdictStatus = "clamped"
)

// 拒绝原因。风控拒绝是预期内结果，记录在案，绝不是异常。
const (
	ReasonLowConfidence     = "low_confidence"
	ReasonMissingProtection = "missing_protection"
	ReasonInvalidProtection = "invalid_protection"
	ReasonNoMarketData      = "no_market_data"
	ReasonBelowMinOrder     = "below_min_order"
	ReasonRiskPerTrade      = "risk_per_trade_exceeded"
	ReasonMaxOpenPositions  = "max_open_positions"
	ReasonUnknownInstrument = "unknown_instrument"
	ReasonNoPosition        = "no_position"
)

// Verdict 为单个决策项的风控结论。原决策项绝不被修改，
// 裁剪后的生效值记录在 EffectiveSizeUSD / EffectiveLeverage。
type Verdict struct {
	Instrument        string        `json:"instrument"`
	Status            VerdictStatus `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	EffectiveSizeUSD  float64       `json:"effective_size_usd,omitempty"`
	EffectiveLeverage float64       `json:"effective_leverage,omitempty"`
	Notes             []string      `json:"notes,omitempty"`
}

// Executable 返回该结论是否允许执行。
func (v Verdict) Executable() bool {
	return v.Status == StatusApproved || v.Status == StatusClamped
}
