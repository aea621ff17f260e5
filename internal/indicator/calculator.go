package indicator

import (
	"fmt"
	"sync"

	talib "github.com/markcheno/go-talib"

	"cycletrader/internal/exchange"
)

// MACDResult 保存 MACD 关键值。
type MACDResult struct {
	Value         float64
	Signal        float64
	Histogram     float64
	PrevHistogram float64
}

// ATRResult 保存 ATR 指标。
type ATRResult struct {
	Absolute     float64
	Relative     float64
	PrevAbsolute float64
}

// VolumeResult 保存成交量相关统计。
type VolumeResult struct {
	Current   float64
	Average20 float64
	Ratio     float64
}

// Result 为一次指标计算的汇总。
type Result struct {
	Timeframe     string
	EMA9          float64
	EMA21         float64
	MACD          MACDResult
	RSI7          float64
	RSI14         float64
	ATR           ATRResult
	Volume        VolumeResult
	Close         float64
	PreviousClose float64
}

type cacheEntry struct {
	key    string
	result Result
}

// Calculator 提供技术指标计算并带有简单缓存。
type Calculator struct {
	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewCalculator 创建 Calculator。
func NewCalculator() *Calculator {
	return &Calculator{
		cache: make(map[string]cacheEntry),
	}
}

// Compute 依据给定K线计算常用技术指标。
func (c *Calculator) Compute(instrument, timeframe string, candles []exchange.Candle) (Result, error) {
	if len(candles) == 0 {
		return Result{}, fmt.Errorf("计算指标失败: 输入K线为空")
	}

	series := NewSeries(candles)
	cacheID := fmt.Sprintf("%s:%s", instrument, timeframe)
	cacheKey := fmt.Sprintf("%d:%d", series.Len(), series.LatestTimestamp().Unix())

	c.mu.Lock()
	if entry, ok := c.cache[cacheID]; ok && entry.key == cacheKey {
		c.mu.Unlock()
		return entry.result, nil
	}
	c.mu.Unlock()

	result := c.calculate(timeframe, series)

	c.mu.Lock()
	c.cache[cacheID] = cacheEntry{key: cacheKey, result: result}
	c.mu.Unlock()

	return result, nil
}

func (c *Calculator) calculate(timeframe string, series Series) Result {
	closePrices := series.Close
	highs := series.High
	lows := series.Low
	volumes := series.Volume

	ema9 := talib.Ema(closePrices, 9)
	ema21 := talib.Ema(closePrices, 21)

	macd, macdSignal, macdHist := talib.Macd(closePrices, 12, 26, 9)

	rsi7 := talib.Rsi(closePrices, 7)
	rsi14 := talib.Rsi(closePrices, 14)

	atr := talib.Atr(highs, lows, closePrices, 14)

	volumeAvg20 := average(tail(volumes, 20))
	volumeCurrent := last(volumes)
	volumeRatio := ratio(volumeCurrent, volumeAvg20)

	lastClose := last(closePrices)
	prevClose := prev(closePrices)

	atrAbs := last(atr)
	prevAtr := prev(atr)
	atrRel := ratio(atrAbs, lastClose)

	return Result{
		Timeframe: timeframe,
		EMA9:      last(ema9),
		EMA21:     last(ema21),
		MACD: MACDResult{
			Value:         last(macd),
			Signal:        last(macdSignal),
			Histogram:     last(macdHist),
			PrevHistogram: prev(macdHist),
		},
		RSI7:          last(rsi7),
		RSI14:         last(rsi14),
		ATR:           ATRResult{Absolute: atrAbs, Relative: atrRel, PrevAbsolute: prevAtr},
		Volume:        VolumeResult{Current: volumeCurrent, Average20: volumeAvg20, Ratio: volumeRatio},
		Close:         lastClose,
		PreviousClose: prevClose,
	}
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
