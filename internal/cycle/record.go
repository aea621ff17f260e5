package cycle

import (
	"time"

	"cycletrader/internal/ai"
	"cycletrader/internal/execution"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
)

// CycleStatus 表示一个执行周期的终态。
type CycleStatus string

const (
	// StatusCompleted 周期完整跑完且所有执行成功。
	StatusCompleted CycleStatus = "completed"
	// StatusCompletedWithErrors 周期跑完但存在失败的执行项。
	StatusCompletedWithErrors CycleStatus = "completed_with_errors"
	// StatusAborted 周期在聚合或决策阶段失败，未进入执行。
	StatusAborted CycleStatus = "aborted"
	// StatusSkipped 上一周期尚未结束，本次触发被放弃。跳过不落库。
	StatusSkipped CycleStatus = "skipped"
)

// Record 为单个执行周期的完整留痕：输入快照、决策、风控结论与执行凭据。
// 一旦写入即不可变，事后审计时可完整重放周期内发生的一切。
type Record struct {
	ID         string               `json:"id"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at"`
	Status     CycleStatus          `json:"status"`
	Snapshot   state.MarketSnapshot `json:"snapshot"`
	Decision   ai.Decision          `json:"decision"`
	Verdicts   []risk.Verdict       `json:"verdicts"`
	Executions []execution.Result   `json:"executions"`
	Error      string               `json:"error,omitempty"`
}
