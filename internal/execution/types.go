package execution

import "time"

// Status 表示单个决策项的执行结果状态。
type Status string

const (
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// FailureUnprotectedClosed 表示保护单挂单失败、裸露仓位已被市价平掉。
const FailureUnprotectedClosed = "unprotected_position_closed"

// Result 为单个决策项的执行凭据，周期记录中原样落库。
type Result struct {
	Instrument        string    `json:"instrument"`
	Action            string    `json:"action"`
	Status            Status    `json:"status"`
	ClientOrderID     string    `json:"client_order_id,omitempty"`
	EntryOrderID      string    `json:"entry_order_id,omitempty"`
	StopLossOrderID   string    `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string    `json:"take_profit_order_id,omitempty"`
	Quantity          float64   `json:"quantity,omitempty"`
	ClosedPnL         float64   `json:"closed_pnl,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
	Error             string    `json:"error,omitempty"`
	Duplicate         bool      `json:"duplicate,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// Executed 返回执行是否成功。
func (r Result) Executed() bool {
	return r.Status == StatusExecuted
}
