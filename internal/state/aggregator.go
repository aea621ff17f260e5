package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cycletrader/internal/exchange"
	"cycletrader/internal/market"
)

type accountSource interface {
	GetBalance(ctx context.Context) (exchange.Balance, error)
	GetPositions(ctx context.Context) ([]exchange.Position, error)
	GetOpenOrders(ctx context.Context, instrument string) ([]exchange.Order, error)
}

// Aggregator 将账户、持仓、挂单与行情快照合并为单一一致的 MarketSnapshot。
// 账户与持仓真相不可缺省：本步骤任何失败都应中止整个周期。
type Aggregator struct {
	venue       accountSource
	tracker     *DailyTracker
	instruments []string
	logger      *zap.Logger
}

// NewAggregator 创建状态聚合器。
func NewAggregator(venue accountSource, tracker *DailyTracker, instruments []string, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		venue:       venue,
		tracker:     tracker,
		instruments: instruments,
		logger:      logger,
	}
}

// Aggregate 拉取账户状态并与行情快照合并。
// 余额、持仓与挂单并发获取；任何一项失败都返回错误，绝不产出部分快照。
func (a *Aggregator) Aggregate(ctx context.Context, instrumentSnapshots map[string]market.InstrumentSnapshot) (MarketSnapshot, error) {
	var (
		balance   exchange.Balance
		positions []exchange.Position
		orders    []exchange.Order
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := a.venue.GetBalance(groupCtx)
		if err != nil {
			return fmt.Errorf("聚合账户余额失败: %w", err)
		}
		balance = data
		return nil
	})

	group.Go(func() error {
		data, err := a.venue.GetPositions(groupCtx)
		if err != nil {
			return fmt.Errorf("聚合持仓失败: %w", err)
		}
		positions = data
		return nil
	})

	group.Go(func() error {
		data, err := a.venue.GetOpenOrders(groupCtx, "")
		if err != nil {
			return fmt.Errorf("聚合挂单失败: %w", err)
		}
		orders = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return MarketSnapshot{}, err
	}

	now := time.Now().UTC()

	account := AccountState{
		Balance:       balance.TotalEquity,
		Available:     balance.Available,
		MarginUsed:    balance.MarginUsed,
		UnrealizedPnL: balance.Unrealized,
		Timestamp:     now,
	}

	if a.tracker != nil {
		perf, err := a.tracker.Update(ctx, now, balance.TotalEquity, balance.Unrealized)
		if err != nil {
			return MarketSnapshot{}, err
		}
		account.DailyRealized = perf.RealizedPnL
		account.DailyWins = perf.Wins
		account.DailyLosses = perf.Losses
	}

	orderRecords := make([]OrderRecord, 0, len(orders))
	for _, order := range orders {
		orderRecords = append(orderRecords, OrderRecord{
			ID:           order.ID,
			ClientID:     order.ClientID,
			Instrument:   order.Instrument,
			Side:         order.Side,
			Type:         order.Type,
			Quantity:     order.Quantity,
			FilledQty:    order.FilledQty,
			Price:        order.Price,
			TriggerPrice: order.TriggerPrice,
			ReduceOnly:   order.ReduceOnly,
			Status:       string(order.Status),
			Timestamp:    order.Timestamp,
		})
	}

	universe := make(map[string]struct{}, len(a.instruments))
	for _, instrument := range a.instruments {
		universe[instrument] = struct{}{}
	}

	positionRecords := make([]PositionRecord, 0, len(positions))
	for _, pos := range positions {
		record := PositionRecord{
			Instrument:    pos.Instrument,
			Side:          pos.Side,
			Quantity:      pos.Quantity,
			EntryPrice:    pos.EntryPrice,
			MarkPrice:     pos.MarkPrice,
			Leverage:      pos.Leverage,
			UnrealizedPnL: pos.Unrealized,
			Timestamp:     pos.Timestamp,
		}

		// 配置之外的持仓原样携带，仅不允许新开仓。
		_, record.InUniverse = universe[pos.Instrument]
		if !record.InUniverse {
			a.logger.Debug("携带配置之外的持仓", zap.String("instrument", pos.Instrument))
		}

		record.StopLossOrderID, record.TakeProfitOrderID = protectiveOrderIDs(orderRecords, pos)
		positionRecords = append(positionRecords, record)
	}

	// 按配置顺序排列标的快照，保证快照内部顺序稳定。
	instrumentList := make([]market.InstrumentSnapshot, 0, len(a.instruments))
	for _, instrument := range a.instruments {
		if snap, ok := instrumentSnapshots[instrument]; ok {
			instrumentList = append(instrumentList, snap)
		} else {
			instrumentList = append(instrumentList, market.InstrumentSnapshot{
				Instrument: instrument,
				Timestamp:  now,
				Status:     market.FetchStatusFailed,
				Reason:     "采集器未返回该标的",
			})
		}
	}

	return MarketSnapshot{
		Timestamp:   now,
		Instruments: instrumentList,
		Account:     account,
		Positions:   positionRecords,
		OpenOrders:  orderRecords,
	}, nil
}

// protectiveOrderIDs 从挂单中关联持仓的止损/止盈单。
// 保护单为与持仓方向相反的 reduce-only 触发单。
func protectiveOrderIDs(orders []OrderRecord, pos exchange.Position) (stopLoss, takeProfit string) {
	closeSide := exchange.OrderSideSell
	if strings.EqualFold(pos.Side, "SHORT") {
		closeSide = exchange.OrderSideBuy
	}

	for _, order := range orders {
		if order.Instrument != pos.Instrument || !order.ReduceOnly || order.Side != closeSide {
			continue
		}
		switch order.Type {
		case exchange.OrderTypeStopMarket:
			stopLoss = order.ID
		case exchange.OrderTypeTakeProfitMarket:
			takeProfit = order.ID
		}
	}

	return stopLoss, takeProfit
}
