package execution

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"cycletrader/internal/ai"
	"cycletrader/internal/config"
	"cycletrader/internal/exchange"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
)

// venueClient 为执行器依赖的交易所能力子集。
type venueClient interface {
	PlaceOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error)
	GetOpenOrders(ctx context.Context, instrument string) ([]exchange.Order, error)
	CancelOrder(ctx context.Context, id, instrument string) error
}

// Executor 将风控放行的决策项转换为交易所委托。
// 同一标的的执行串行化；不同标的可以并发执行。
// 已进入提交阶段的执行不响应取消，必须走到受保护或已平仓的终态。
type Executor struct {
	venue  venueClient
	cfg    config.ExecutionConfig
	logger *zap.Logger

	mu     sync.Mutex
	ledger map[string]Result
	locks  map[string]*sync.Mutex
}

// NewExecutor 创建实盘执行器。
func NewExecutor(venue venueClient, cfg config.ExecutionConfig, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OrderTimeout <= 0 {
		cfg.OrderTimeout = 15 * time.Second
	}
	return &Executor{
		venue:  venue,
		cfg:    cfg,
		logger: logger,
		ledger: make(map[string]Result),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Execute 执行单个已放行的决策项。
// 以 周期ID+标的+动作 生成确定性的客户端订单ID：同一周期内的重复
// 调用返回首次执行的凭据，绝不会重复下单。
func (e *Executor) Execute(ctx context.Context, cycleID string, item ai.DecisionItem, verdict risk.Verdict, snapshot state.MarketSnapshot) Result {
	lock := e.instrumentLock(item.Instrument)
	lock.Lock()
	defer lock.Unlock()

	clientID := deriveClientID(cycleID, item.Instrument, string(item.Action))

	e.mu.Lock()
	if prior, ok := e.ledger[clientID]; ok {
		e.mu.Unlock()
		prior.Duplicate = true
		return prior
	}
	e.mu.Unlock()

	// 进入提交阶段后屏蔽上游取消：半完成的仓位比超时更危险。
	execCtx := context.WithoutCancel(ctx)

	var result Result
	switch {
	case item.Action.IsOpen():
		result = e.executeOpen(execCtx, clientID, item, verdict, snapshot)
	case item.Action == ai.ActionClose:
		result = e.executeClose(execCtx, clientID, item, snapshot)
	default:
		result = Result{
			Instrument: item.Instrument,
			Action:     string(item.Action),
			Status:     StatusFailed,
			Error:      fmt.Sprintf("不可执行的动作: %s", item.Action),
			Timestamp:  time.Now(),
		}
	}

	e.mu.Lock()
	e.ledger[clientID] = result
	e.mu.Unlock()

	return result
}

func (e *Executor) executeOpen(ctx context.Context, clientID string, item ai.DecisionItem, verdict risk.Verdict, snapshot state.MarketSnapshot) Result {
	result := Result{
		Instrument:    item.Instrument,
		Action:        string(item.Action),
		ClientOrderID: clientID,
		Timestamp:     time.Now(),
	}

	instrument, ok := snapshot.Instrument(item.Instrument)
	if !ok || !instrument.OK() || instrument.Price <= 0 {
		result.Status = StatusFailed
		result.Error = "快照中缺少可用行情，无法换算下单数量"
		return result
	}

	quantity := verdict.EffectiveSizeUSD / instrument.Price
	result.Quantity = quantity

	entrySide := exchange.OrderSideBuy
	closeSide := exchange.OrderSideSell
	if item.Action == ai.ActionOpenShort {
		entrySide = exchange.OrderSideSell
		closeSide = exchange.OrderSideBuy
	}

	// 下单前先核对交易所侧挂单：进程重启后本地账本为空，
	// 靠客户端订单ID识别同周期的既有执行。
	if existing := e.findExisting(ctx, item.Instrument, clientID); existing != nil {
		e.logger.Warn("检测到同周期已存在的保护单，跳过重复开仓",
			zap.String("instrument", item.Instrument),
			zap.String("client_order_id", clientID),
		)
		result.Status = StatusExecuted
		result.Duplicate = true
		result.StopLossOrderID = existing.StopLossOrderID
		result.TakeProfitOrderID = existing.TakeProfitOrderID
		return result
	}

	entry, err := e.placeOrder(ctx, exchange.OrderSpec{
		Instrument: item.Instrument,
		Side:       entrySide,
		Type:       exchange.OrderTypeMarket,
		Quantity:   quantity,
		ClientID:   clientID + "-e",
	})
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("提交入场单失败: %v", err)
		return result
	}
	result.EntryOrderID = entry.ID

	// 保护单按请求的全量挂出，reduceOnly 保证不会反向开仓，
	// 部分成交时交易所会自动封顶到实际持仓。
	stopOrder, err := e.placeProtective(ctx, exchange.OrderSpec{
		Instrument:   item.Instrument,
		Side:         closeSide,
		Type:         exchange.OrderTypeStopMarket,
		Quantity:     quantity,
		TriggerPrice: item.StopLoss,
		ReduceOnly:   true,
		ClientID:     clientID + "-sl",
	})
	if err != nil {
		return e.abortUnprotected(ctx, result, item.Instrument, closeSide, quantity, "", err)
	}
	result.StopLossOrderID = stopOrder.ID

	tpOrder, err := e.placeProtective(ctx, exchange.OrderSpec{
		Instrument:   item.Instrument,
		Side:         closeSide,
		Type:         exchange.OrderTypeTakeProfitMarket,
		Quantity:     quantity,
		TriggerPrice: item.TakeProfit,
		ReduceOnly:   true,
		ClientID:     clientID + "-tp",
	})
	if err != nil {
		return e.abortUnprotected(ctx, result, item.Instrument, closeSide, quantity, stopOrder.ID, err)
	}
	result.TakeProfitOrderID = tpOrder.ID

	result.Status = StatusExecuted
	e.logger.Info("开仓执行完成",
		zap.String("instrument", item.Instrument),
		zap.String("action", string(item.Action)),
		zap.Float64("quantity", quantity),
		zap.String("entry_order_id", entry.ID),
	)
	return result
}

func (e *Executor) executeClose(ctx context.Context, clientID string, item ai.DecisionItem, snapshot state.MarketSnapshot) Result {
	result := Result{
		Instrument:    item.Instrument,
		Action:        string(item.Action),
		ClientOrderID: clientID,
		Timestamp:     time.Now(),
	}

	position, ok := snapshot.Position(item.Instrument)
	if !ok || position.Quantity <= 0 {
		result.Status = StatusFailed
		result.Error = "快照中不存在可平仓位"
		return result
	}

	side := exchange.OrderSideSell
	if position.Side == "SHORT" {
		side = exchange.OrderSideBuy
	}

	// 平仓用全量 reduceOnly 市价单，以快照持仓数量为准。
	order, err := e.placeOrder(ctx, exchange.OrderSpec{
		Instrument: item.Instrument,
		Side:       side,
		Type:       exchange.OrderTypeMarket,
		Quantity:   position.Quantity,
		ReduceOnly: true,
		ClientID:   clientID + "-c",
	})
	if err != nil {
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("提交平仓单失败: %v", err)
		return result
	}
	result.EntryOrderID = order.ID
	result.Quantity = position.Quantity
	result.ClosedPnL = position.UnrealizedPnL

	// 残留保护单尽力撤销，失败只记日志：仓位已消失，交易所会自行拒绝触发。
	for _, orderID := range []string{position.StopLossOrderID, position.TakeProfitOrderID} {
		if orderID == "" {
			continue
		}
		if err := e.venue.CancelOrder(ctx, orderID, item.Instrument); err != nil {
			e.logger.Warn("撤销残留保护单失败",
				zap.String("instrument", item.Instrument),
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
	}

	result.Status = StatusExecuted
	e.logger.Info("平仓执行完成",
		zap.String("instrument", item.Instrument),
		zap.Float64("quantity", position.Quantity),
		zap.Float64("closed_pnl", position.UnrealizedPnL),
	)
	return result
}

// abortUnprotected 处理保护单最终失败：立刻市价平掉裸露仓位，
// 撤销已挂出的另一半保护单，执行记为失败。
func (e *Executor) abortUnprotected(ctx context.Context, result Result, instrument, closeSide string, quantity float64, placedStopID string, cause error) Result {
	e.logger.Error("保护单挂单失败，平掉裸露仓位",
		zap.String("instrument", instrument),
		zap.Error(cause),
	)

	if _, err := e.placeOrder(ctx, exchange.OrderSpec{
		Instrument: instrument,
		Side:       closeSide,
		Type:       exchange.OrderTypeMarket,
		Quantity:   quantity,
		ReduceOnly: true,
		ClientID:   result.ClientOrderID + "-x",
	}); err != nil {
		// 平仓也失败时仓位处于无保护状态，只能升级告警留待人工处理。
		e.logger.Error("裸露仓位平仓失败，需要人工介入",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
	}

	if placedStopID != "" {
		if err := e.venue.CancelOrder(ctx, placedStopID, instrument); err != nil {
			e.logger.Warn("撤销已挂出的止损单失败",
				zap.String("instrument", instrument),
				zap.String("order_id", placedStopID),
				zap.Error(err),
			)
		}
	}

	result.Status = StatusFailed
	result.FailureReason = FailureUnprotectedClosed
	result.Error = fmt.Sprintf("保护单挂单失败: %v", cause)
	return result
}

// placeProtective 在普通下单之上增加有限次重试。
func (e *Executor) placeProtective(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error) {
	attempts := e.cfg.ProtectionRetry + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 500 * time.Millisecond)
		}
		order, err := e.placeOrder(ctx, spec)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !exchange.IsRetryable(err) {
			break
		}
	}
	return exchange.Order{}, lastErr
}

func (e *Executor) placeOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()
	return e.venue.PlaceOrder(callCtx, spec)
}

// findExisting 在交易所挂单中查找同一客户端订单ID前缀的保护单。
func (e *Executor) findExisting(ctx context.Context, instrument, clientID string) *Result {
	orders, err := e.venue.GetOpenOrders(ctx, instrument)
	if err != nil {
		e.logger.Warn("下单前核对挂单失败，按无既有执行处理",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
		return nil
	}

	found := Result{}
	matched := false
	for _, order := range orders {
		switch order.ClientID {
		case clientID + "-sl":
			found.StopLossOrderID = order.ID
			matched = true
		case clientID + "-tp":
			found.TakeProfitOrderID = order.ID
			matched = true
		}
	}
	if !matched {
		return nil
	}
	return &found
}

func (e *Executor) instrumentLock(instrument string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[instrument]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[instrument] = lock
	}
	return lock
}

// deriveClientID 生成确定性的客户端订单ID。
// Binance 限制 clientOrderId 长度，取哈希前缀保证稳定且不超限。
func deriveClientID(cycleID, instrument, action string) string {
	sum := sha256.Sum256([]byte(cycleID + "|" + instrument + "|" + action))
	return "ct" + hex.EncodeToString(sum[:])[:20]
}
