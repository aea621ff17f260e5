package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"cycletrader/internal/ai"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
)

// Simulator 为模拟执行器：不触达交易所，返回与实盘同构的执行凭据。
// 用于配置 execution.simulation=true 的试运行。
type Simulator struct {
	logger *zap.Logger

	mu     sync.Mutex
	ledger map[string]Result
}

// NewSimulator 创建模拟执行器。
func NewSimulator(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		logger: logger,
		ledger: make(map[string]Result),
	}
}

// Execute 模拟执行：幂等语义与实盘一致，订单ID为本地生成。
func (s *Simulator) Execute(_ context.Context, cycleID string, item ai.DecisionItem, verdict risk.Verdict, snapshot state.MarketSnapshot) Result {
	clientID := deriveClientID(cycleID, item.Instrument, string(item.Action))

	s.mu.Lock()
	defer s.mu.Unlock()

	if prior, ok := s.ledger[clientID]; ok {
		prior.Duplicate = true
		return prior
	}

	result := Result{
		Instrument:    item.Instrument,
		Action:        string(item.Action),
		ClientOrderID: clientID,
		Timestamp:     time.Now(),
	}

	switch {
	case item.Action.IsOpen():
		instrument, ok := snapshot.Instrument(item.Instrument)
		if !ok || !instrument.OK() || instrument.Price <= 0 {
			result.Status = StatusFailed
			result.Error = "快照中缺少可用行情，无法换算下单数量"
		} else {
			result.Status = StatusExecuted
			result.Quantity = verdict.EffectiveSizeUSD / instrument.Price
			result.EntryOrderID = "sim-" + uuid.NewString()
			result.StopLossOrderID = "sim-" + uuid.NewString()
			result.TakeProfitOrderID = "sim-" + uuid.NewString()
		}
	case item.Action == ai.ActionClose:
		position, ok := snapshot.Position(item.Instrument)
		if !ok || position.Quantity <= 0 {
			result.Status = StatusFailed
			result.Error = "快照中不存在可平仓位"
		} else {
			result.Status = StatusExecuted
			result.Quantity = position.Quantity
			result.ClosedPnL = position.UnrealizedPnL
			result.EntryOrderID = "sim-" + uuid.NewString()
		}
	default:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("不可执行的动作: %s", item.Action)
	}

	s.ledger[clientID] = result

	s.logger.Info("模拟执行完成",
		zap.String("instrument", item.Instrument),
		zap.String("action", string(item.Action)),
		zap.String("status", string(result.Status)),
	)

	return result
}
