package market

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cycletrader/internal/config"
	"cycletrader/internal/exchange"
	"cycletrader/internal/indicator"
)

type marketSource interface {
	FetchCandles(ctx context.Context, instrument, timeframe string, limit int64) ([]exchange.Candle, error)
	GetMarketMetrics(ctx context.Context, instrument string) (exchange.MarketMetrics, error)
}

// Collector 并发采集各标的的行情快照。
// 单标的失败不会使整体采集失败，失败标的以 failed 状态快照返回。
type Collector struct {
	source     marketSource
	calculator *indicator.Calculator
	cfg        config.CollectorConfig
	logger     *zap.Logger
}

// NewCollector 创建行情采集器。
func NewCollector(source marketSource, calc *indicator.Calculator, cfg config.CollectorConfig, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if calc == nil {
		calc = indicator.NewCalculator()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 20 * time.Second
	}
	if cfg.CandleLimit <= 0 {
		cfg.CandleLimit = 100
	}

	return &Collector{
		source:     source,
		calculator: calc,
		cfg:        cfg,
		logger:     logger,
	}
}

// Collect 为每个标的并发拉取行情并计算指标。
// 并发度受限以遵守交易所限频；每个标的拥有独立超时，transient 错误重试一次。
func (c *Collector) Collect(ctx context.Context, instruments []string) map[string]InstrumentSnapshot {
	snapshots := make(map[string]InstrumentSnapshot, len(instruments))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.cfg.Concurrency)

	for _, instrument := range instruments {
		group.Go(func() error {
			snapshot := c.fetchOne(groupCtx, instrument)

			mu.Lock()
			snapshots[instrument] = snapshot
			mu.Unlock()
			return nil
		})
	}

	// 所有任务均返回 nil，Wait 仅用于同步。
	_ = group.Wait()

	return snapshots
}

// fetchOne 采集单标的：1h 与 1d K线为必需，持仓量与资金费率尽力携带。
func (c *Collector) fetchOne(ctx context.Context, instrument string) InstrumentSnapshot {
	now := time.Now().UTC()

	hourly, err := c.fetchCandlesWithRetry(ctx, instrument, exchange.Timeframe1h)
	if err != nil {
		return c.failedSnapshot(instrument, now, err)
	}

	daily, err := c.fetchCandlesWithRetry(ctx, instrument, exchange.Timeframe1d)
	if err != nil {
		return c.failedSnapshot(instrument, now, err)
	}

	hourlyResult, err := c.calculator.Compute(instrument, exchange.Timeframe1h, hourly)
	if err != nil {
		return InstrumentSnapshot{
			Instrument: instrument,
			Timestamp:  now,
			Status:     FetchStatusFailed,
			Reason:     err.Error(),
		}
	}

	dailyResult, err := c.calculator.Compute(instrument, exchange.Timeframe1d, daily)
	if err != nil {
		return InstrumentSnapshot{
			Instrument: instrument,
			Timestamp:  now,
			Status:     FetchStatusFailed,
			Reason:     err.Error(),
		}
	}

	indicators := indicatorMap(hourlyResult)
	mergeDaily(indicators, dailyResult)

	// 持仓量与资金费率取不到时照常产出快照，缺失键位即缺失数据。
	metricsCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	metrics, err := c.source.GetMarketMetrics(metricsCtx, instrument)
	cancel()
	if err != nil {
		c.logger.Warn("获取持仓量/资金费率失败，本周期缺省",
			zap.String("instrument", instrument),
			zap.Error(err),
		)
	} else {
		indicators["open_interest"] = metrics.OpenInterest
		indicators["funding_rate"] = metrics.FundingRate
	}

	return InstrumentSnapshot{
		Instrument: instrument,
		Timestamp:  now,
		Price:      hourlyResult.Close,
		Indicators: indicators,
		Status:     FetchStatusOK,
	}
}

func (c *Collector) failedSnapshot(instrument string, now time.Time, err error) InstrumentSnapshot {
	c.logger.Warn("采集标的行情失败",
		zap.String("instrument", instrument),
		zap.String("kind", string(exchange.Classify(err))),
		zap.Error(err),
	)
	return InstrumentSnapshot{
		Instrument: instrument,
		Timestamp:  now,
		Status:     FetchStatusFailed,
		Reason:     err.Error(),
	}
}

// fetchCandlesWithRetry 在独立超时内抓取K线。
// transient 错误额外重试一次；认证或响应格式错误不重试。
func (c *Collector) fetchCandlesWithRetry(ctx context.Context, instrument, timeframe string) ([]exchange.Candle, error) {
	var lastErr error

	for attempt := 0; attempt < 2; attempt++ {
		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		candles, err := c.source.FetchCandles(fetchCtx, instrument, timeframe, int64(c.cfg.CandleLimit))
		cancel()

		if err == nil {
			return candles, nil
		}

		lastErr = err
		if exchange.Classify(err) != exchange.FailureTransient {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, lastErr
}

func indicatorMap(result indicator.Result) map[string]float64 {
	return map[string]float64{
		"ema_9":          result.EMA9,
		"ema_21":         result.EMA21,
		"macd":           result.MACD.Value,
		"macd_signal":    result.MACD.Signal,
		"macd_histogram": result.MACD.Histogram,
		"rsi_7":          result.RSI7,
		"rsi_14":         result.RSI14,
		"atr_14":         result.ATR.Absolute,
		"atr_relative":   result.ATR.Relative,
		"volume":         result.Volume.Current,
		"volume_avg_20":  result.Volume.Average20,
		"volume_ratio":   result.Volume.Ratio,
		"prev_close":     result.PreviousClose,
	}
}

// mergeDaily 以 _1d 后缀并入日线指标。
func mergeDaily(dst map[string]float64, result indicator.Result) {
	for key, value := range indicatorMap(result) {
		dst[key+"_1d"] = value
	}
}
