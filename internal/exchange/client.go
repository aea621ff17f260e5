package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"cycletrader/internal/config"
)

// Client 负责与交易所交互并实现重试机制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Binanceusdm

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Binance USDⓈ-M 客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "future",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewBinanceusdm(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// GetBalance 获取合约账户资金状况。
func (c *Client) GetBalance(ctx context.Context) (Balance, error) {
	var raw ccxt.Balances

	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Balance{}, err
	}

	return convertBalance(raw), nil
}

// GetPositions 获取全部持仓。交易所为持仓事实来源，调用方不得跨周期缓存。
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var raw []ccxt.Position

	err := c.callWithRetry(ctx, "fetch_positions", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchPositions()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	positions := make([]Position, 0, len(raw))
	for _, rawPos := range raw {
		qty := derefFloat(rawPos.Contracts)
		if qty == 0 {
			continue
		}

		side := strings.ToUpper(strings.TrimSpace(derefString(rawPos.Side)))
		if side == "" {
			side = "LONG"
		}

		positions = append(positions, Position{
			Instrument: derefString(rawPos.Symbol),
			Side:       side,
			Quantity:   qty,
			EntryPrice: derefFloat(rawPos.EntryPrice),
			MarkPrice:  derefFloat(rawPos.MarkPrice),
			Leverage:   derefFloat(rawPos.Leverage),
			Unrealized: derefFloat(rawPos.UnrealizedPnl),
			Timestamp:  now,
		})
	}

	return positions, nil
}

// GetOpenOrders 获取指定标的的全部挂单；instrument 为空时返回全部。
func (c *Client) GetOpenOrders(ctx context.Context, instrument string) ([]Order, error) {
	var raw []ccxt.Order

	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		var opts []ccxt.FetchOpenOrdersOptions
		if instrument != "" {
			opts = append(opts, ccxt.WithFetchOpenOrdersSymbol(instrument))
		}
		result, err := c.exchange.FetchOpenOrders(opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(raw))
	for _, rawOrder := range raw {
		orders = append(orders, convertOrder(rawOrder))
	}

	return orders, nil
}

// GetMarketMetrics 获取标的的持仓量与资金费率。
func (c *Client) GetMarketMetrics(ctx context.Context, instrument string) (MarketMetrics, error) {
	metrics := MarketMetrics{Timestamp: time.Now().UTC()}

	err := c.callWithRetry(ctx, "fetch_open_interest", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchOpenInterest(instrument)
		if err != nil {
			return err
		}
		metrics.OpenInterest = derefFloat(result.OpenInterestAmount)
		if metrics.OpenInterest == 0 {
			metrics.OpenInterest = derefFloat(result.OpenInterestValue)
		}
		return nil
	})
	if err != nil {
		return MarketMetrics{}, err
	}

	err = c.callWithRetry(ctx, "fetch_funding_rate", func() error {
		result, err := c.exchange.FetchFundingRate(instrument)
		if err != nil {
			return err
		}
		metrics.FundingRate = derefFloat(result.FundingRate)
		return nil
	})
	if err != nil {
		return MarketMetrics{}, err
	}

	return metrics, nil
}

// FetchCandles 获取指定周期的K线数据。
func (c *Client) FetchCandles(ctx context.Context, instrument, timeframe string, limit int64) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := c.exchange.FetchOHLCV(
			instrument,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}

	return candles, nil
}

// PlaceOrder 提交委托。ClientID 由调用方给定，交易所侧按其去重。
// 下单属于资金变动操作，重试仅限 transient 分类，且始终携带同一 ClientID。
func (c *Client) PlaceOrder(ctx context.Context, spec OrderSpec) (Order, error) {
	if spec.Instrument == "" {
		return Order{}, errors.New("exchange: 下单缺少交易标的")
	}
	if spec.Quantity <= 0 {
		return Order{}, fmt.Errorf("exchange: 下单手数无效 quantity=%.8f", spec.Quantity)
	}

	params := map[string]interface{}{}
	if spec.ClientID != "" {
		params["newClientOrderId"] = spec.ClientID
	}
	if spec.ReduceOnly {
		params["reduceOnly"] = true
	}
	if spec.TriggerPrice > 0 {
		params["stopPrice"] = spec.TriggerPrice
	}

	var raw ccxt.Order
	err := c.callWithRetry(ctx, "create_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		opts := []ccxt.CreateOrderOptions{}
		if len(params) > 0 {
			opts = append(opts, ccxt.WithCreateOrderParams(params))
		}
		if spec.Type == OrderTypeLimit && spec.Price > 0 {
			opts = append(opts, ccxt.WithCreateOrderPrice(spec.Price))
		}

		result, err := c.exchange.CreateOrder(spec.Instrument, spec.Type, spec.Side, spec.Quantity, opts...)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	order := convertOrder(raw)
	if order.Instrument == "" {
		order.Instrument = spec.Instrument
	}
	if order.ClientID == "" {
		order.ClientID = spec.ClientID
	}

	return order, nil
}

// CancelOrder 撤销指定订单。
func (c *Client) CancelOrder(ctx context.Context, id, instrument string) error {
	if id == "" {
		return errors.New("exchange: 撤单缺少订单ID")
	}

	return c.callWithRetry(ctx, "cancel_order", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		_, err := c.exchange.CancelOrder(id, ccxt.WithCancelOrderSymbol(instrument))
		return err
	})
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.Strings("instruments", c.cfg.Instruments))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return &VenueError{Kind: FailureTransient, Op: operation, Err: ctxErr}
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		kind := Classify(err)

		if kind != FailureTransient || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.String("kind", string(kind)),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(err),
			)
			return &VenueError{Kind: kind, Op: operation, Err: err}
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return &VenueError{Kind: FailureTransient, Op: operation, Err: ctx.Err()}
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func convertBalance(raw ccxt.Balances) Balance {
	balance := Balance{Timestamp: time.Now().UTC()}

	if raw.Total != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if total, ok := raw.Total[code]; ok && total != nil && *total > 0 {
				balance.TotalEquity = *total
				break
			}
		}
	}
	if raw.Free != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if free, ok := raw.Free[code]; ok && free != nil {
				balance.Available = *free
				break
			}
		}
	}
	if raw.Info != nil {
		if v := parseNumeric(raw.Info["totalWalletBalance"]); v > 0 {
			balance.TotalEquity = v
		}
		if v := parseNumeric(raw.Info["availableBalance"]); v > 0 {
			balance.Available = v
		}
		if v := parseNumeric(raw.Info["totalInitialMargin"]); v > 0 {
			balance.MarginUsed = v
		}
		balance.Unrealized = parseNumeric(raw.Info["totalUnrealizedProfit"])
	}

	return balance
}

func convertOrder(raw ccxt.Order) Order {
	order := Order{
		ID:           derefString(raw.Id),
		ClientID:     derefString(raw.ClientOrderId),
		Instrument:   derefString(raw.Symbol),
		Side:         strings.ToLower(derefString(raw.Side)),
		Type:         derefString(raw.Type),
		Quantity:     derefFloat(raw.Amount),
		FilledQty:    derefFloat(raw.Filled),
		Price:        derefFloat(raw.Price),
		TriggerPrice: derefFloat(raw.TriggerPrice),
		ReduceOnly:   derefBool(raw.ReduceOnly),
	}

	if raw.Timestamp != nil {
		order.Timestamp = time.UnixMilli(int64(*raw.Timestamp)).UTC()
	} else {
		order.Timestamp = time.Now().UTC()
	}

	order.Status = convertStatus(derefString(raw.Status), order.Quantity, order.FilledQty)

	return order
}

func convertStatus(status string, quantity, filled float64) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "open":
		if filled > 0 && filled < quantity {
			return OrderStatusPartiallyFilled
		}
		return OrderStatusPending
	case "closed":
		return OrderStatusFilled
	case "canceled", "cancelled":
		return OrderStatusCanceled
	case "rejected", "expired":
		return OrderStatusRejected
	default:
		return OrderStatusPending
	}
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func derefBool(v *bool) bool {
	if v == nil {
		return false
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
