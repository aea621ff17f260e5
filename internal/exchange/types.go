package exchange

import "time"

// 指标计算使用的K线周期：1h 为主周期，1d 提供日线背景。
const (
	Timeframe1h = "1h"
	Timeframe1d = "1d"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// MarketMetrics 为合约市场附加指标：持仓量与当前资金费率。
type MarketMetrics struct {
	OpenInterest float64
	FundingRate  float64
	Timestamp    time.Time
}

// Balance 描述合约账户资金状况。
type Balance struct {
	TotalEquity float64
	Available   float64
	MarginUsed  float64
	Unrealized  float64
	Timestamp   time.Time
}

// Position 为交易所返回的单个持仓。
type Position struct {
	Instrument string
	Side       string // LONG | SHORT
	Quantity   float64
	EntryPrice float64
	MarkPrice  float64
	Leverage   float64
	Unrealized float64
	Timestamp  time.Time
}

// OrderStatus 表示订单状态。
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusCanceled        OrderStatus = "canceled"
	OrderStatusRejected        OrderStatus = "rejected"
)

// Order 为交易所侧订单的本地镜像，以交易所为准，不做本地权威。
type Order struct {
	ID           string
	ClientID     string
	Instrument   string
	Side         string // buy | sell
	Type         string // market | limit | stop_market | take_profit_market
	Quantity     float64
	FilledQty    float64
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	Status       OrderStatus
	Timestamp    time.Time
}

// OrderSpec 描述一笔待提交委托。
type OrderSpec struct {
	Instrument   string
	Side         string // buy | sell
	Type         string // market | limit | stop_market | take_profit_market
	Quantity     float64
	Price        float64
	TriggerPrice float64
	ReduceOnly   bool
	ClientID     string
}

const (
	OrderSideBuy  = "buy"
	OrderSideSell = "sell"

	OrderTypeMarket           = "market"
	OrderTypeLimit            = "limit"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
)
