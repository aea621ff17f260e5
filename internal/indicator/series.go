package indicator

import (
	"math"
	"time"

	"cycletrader/internal/exchange"
)

// Series 以列式存放K线，各列可直接作为 talib 的输入。
// K线按时间升序，最后一个元素为最新值。
type Series struct {
	Timestamps []time.Time
	Open       []float64
	High       []float64
	Low        []float64
	Close      []float64
	Volume     []float64
}

// NewSeries 将交易所K线转为列式序列，时间统一为 UTC。
func NewSeries(candles []exchange.Candle) Series {
	var s Series
	for _, candle := range candles {
		s.Timestamps = append(s.Timestamps, candle.Timestamp.UTC())
		s.Open = append(s.Open, candle.Open)
		s.High = append(s.High, candle.High)
		s.Low = append(s.Low, candle.Low)
		s.Close = append(s.Close, candle.Close)
		s.Volume = append(s.Volume, candle.Volume)
	}
	return s
}

// Len 返回K线根数。
func (s Series) Len() int {
	return len(s.Close)
}

// LatestTimestamp 返回最新一根K线的时间，序列为空时返回零值。
func (s Series) LatestTimestamp() time.Time {
	if len(s.Timestamps) == 0 {
		return time.Time{}
	}
	return s.Timestamps[len(s.Timestamps)-1]
}

// last 与 prev 越界时返回 NaN，依赖 NaN 传播而不是悄悄用零值。
func last(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	return values[len(values)-1]
}

func prev(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return values[len(values)-2]
}

// tail 返回末尾 n 个值的只读视图，不足 n 时返回全部。
func tail(values []float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}

// ratio 在分母为0时返回0，用于成交量比和相对ATR。
func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
