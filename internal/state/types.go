package state

import (
	"time"

	"cycletrader/internal/market"
)

// AccountState 描述账户资金与当日表现，每个周期刷新一次。
type AccountState struct {
	Balance       float64   `json:"balance"`
	Available     float64   `json:"available"`
	MarginUsed    float64   `json:"margin_used"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	DailyRealized float64   `json:"daily_realized_pnl"`
	DailyWins     int       `json:"daily_wins"`
	DailyLosses   int       `json:"daily_losses"`
	Timestamp     time.Time `json:"timestamp"`
}

// PositionRecord 为当前持仓镜像，平仓后销毁。
// 持仓以交易所返回为准，保护单ID由聚合时从挂单中关联。
type PositionRecord struct {
	Instrument        string    `json:"instrument"`
	Side              string    `json:"side"` // LONG | SHORT
	Quantity          float64   `json:"quantity"`
	EntryPrice        float64   `json:"entry_price"`
	MarkPrice         float64   `json:"mark_price"`
	Leverage          float64   `json:"leverage"`
	UnrealizedPnL     float64   `json:"unrealized_pnl"`
	StopLossOrderID   string    `json:"stop_loss_order_id,omitempty"`
	TakeProfitOrderID string    `json:"take_profit_order_id,omitempty"`
	InUniverse        bool      `json:"in_universe"`
	Timestamp         time.Time `json:"timestamp"`
}

// OrderRecord 为交易所挂单镜像，聚合时重新拉取，绝不跨周期信任本地缓存。
type OrderRecord struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id,omitempty"`
	Instrument   string    `json:"instrument"`
	Side         string    `json:"side"`
	Type         string    `json:"type"`
	Quantity     float64   `json:"quantity"`
	FilledQty    float64   `json:"filled_qty"`
	Price        float64   `json:"price,omitempty"`
	TriggerPrice float64   `json:"trigger_price,omitempty"`
	ReduceOnly   bool      `json:"reduce_only"`
	Status       string    `json:"status"`
	Timestamp    time.Time `json:"timestamp"`
}

// MarketSnapshot 为一个周期内构建一次的完整市场快照，构建后不可变。
// Instruments 按配置的标的顺序排列。
type MarketSnapshot struct {
	Timestamp   time.Time                   `json:"timestamp"`
	Instruments []market.InstrumentSnapshot `json:"instruments"`
	Account     AccountState                `json:"account"`
	Positions   []PositionRecord            `json:"positions"`
	OpenOrders  []OrderRecord               `json:"open_orders"`
}

// Instrument 返回指定标的的行情快照。
func (s MarketSnapshot) Instrument(instrument string) (market.InstrumentSnapshot, bool) {
	for _, snap := range s.Instruments {
		if snap.Instrument == instrument {
			return snap, true
		}
	}
	return market.InstrumentSnapshot{}, false
}

// Position 返回指定标的的持仓记录。
func (s MarketSnapshot) Position(instrument string) (PositionRecord, bool) {
	for _, pos := range s.Positions {
		if pos.Instrument == instrument {
			return pos, true
		}
	}
	return PositionRecord{}, false
}

// OpenPositionCount 返回当前持仓数量。
func (s MarketSnapshot) OpenPositionCount() int {
	return len(s.Positions)
}
