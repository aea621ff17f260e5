package risk

import (
	"fmt"
	"math"

	"cycletrader/internal/ai"
	"cycletrader/internal/config"
	"cycletrader/internal/state"
)

// Evaluate 对决策逐项执行风控评估，返回与输入同序的结论列表。
// 纯函数：不做任何 I/O，不修改输入。评估顺序即输入顺序，
// 持仓数量检查会把此前已批准的开仓计入在内。
func Evaluate(decision ai.Decision, snapshot state.MarketSnapshot, cfg config.RiskConfig) []Verdict {
	verdicts := make([]Verdict, 0, len(decision.Items))

	// 已批准开仓占用的新仓位槽（已有持仓的标的加仓不占新槽）。
	projectedNew := 0
	baseCount := snapshot.OpenPositionCount()

	for _, item := range decision.Items {
		verdict := evaluateItem(item, snapshot, cfg, baseCount+projectedNew)
		if verdict.Executable() && item.Action.IsOpen() {
			if _, exists := snapshot.Position(item.Instrument); !exists {
				projectedNew++
			}
		}
		verdicts = append(verdicts, verdict)
	}

	return verdicts
}

func evaluateItem(item ai.DecisionItem, snapshot state.MarketSnapshot, cfg config.RiskConfig, currentCount int) Verdict {
	verdict := Verdict{Instrument: item.Instrument}

	// hold 无条件通过，也不会进入执行。
	if item.Action == ai.ActionHold {
		verdict.Status = StatusApproved
		return verdict
	}

	// 平仓只校验持仓与置信度：全量 reduce-only 市价平仓不依赖行情，
	// 标的退出配置列表后遗留的持仓也必须能退出。
	if item.Action == ai.ActionClose {
		if _, exists := snapshot.Position(item.Instrument); !exists {
			return rejected(item, ReasonNoPosition)
		}
		if item.Confidence < cfg.MinConfidence {
			return rejected(item, ReasonLowConfidence)
		}
		verdict.Status = StatusApproved
		return verdict
	}

	instrument, known := snapshot.Instrument(item.Instrument)
	if !known {
		return rejected(item, ReasonUnknownInstrument)
	}

	// 行情缺失的标的本周期不可操作，指标绝不按零值处理。
	if !instrument.OK() {
		return rejected(item, ReasonNoMarketData)
	}

	if item.Confidence < cfg.MinConfidence {
		return rejected(item, ReasonLowConfidence)
	}

	// 以下为 open_long / open_short。

	// 止损止盈缺失是硬性不变量，不可配置。
	if item.StopLoss <= 0 || item.TakeProfit <= 0 {
		return rejected(item, ReasonMissingProtection)
	}

	price := instrument.Price
	if price <= 0 {
		return rejected(item, ReasonNoMarketData)
	}

	if !protectionSane(item.Action, price, item.StopLoss, item.TakeProfit) {
		return rejected(item, ReasonInvalidProtection)
	}

	_, hasPosition := snapshot.Position(item.Instrument)
	if !hasPosition && currentCount+1 > cfg.MaxOpenPositions {
		return rejected(item, ReasonMaxOpenPositions)
	}

	clamped := false
	size := item.SizeUSD
	if size < cfg.MinOrderSizeUSD {
		return rejected(item, ReasonBelowMinOrder)
	}
	if size > cfg.MaxPositionSizeUSD {
		size = cfg.MaxPositionSizeUSD
		clamped = true
		verdict.Notes = append(verdict.Notes,
			fmt.Sprintf("名义仓位 %.2f 超过上限，裁剪至 %.2f", item.SizeUSD, size))
	}
	if size < cfg.MinOrderSizeUSD {
		return rejected(item, ReasonBelowMinOrder)
	}

	leverage := item.Leverage
	if leverage <= 0 {
		leverage = 1
	}
	if leverage > cfg.MaxLeverage {
		leverage = cfg.MaxLeverage
		clamped = true
		verdict.Notes = append(verdict.Notes,
			fmt.Sprintf("杠杆 %.1f 超过上限，裁剪至 %.1f", item.Leverage, leverage))
	}

	// 止损触发时的隐含亏损不得超过账户余额的给定比例。
	impliedLoss := size / price * math.Abs(price-item.StopLoss)
	if snapshot.Account.Balance <= 0 || impliedLoss > cfg.RiskPerTradePct*snapshot.Account.Balance {
		return rejected(item, ReasonRiskPerTrade)
	}

	verdict.Status = StatusApproved
	if clamped {
		verdict.Status = StatusClamped
	}
	verdict.EffectiveSizeUSD = size
	verdict.EffectiveLeverage = leverage

	return verdict
}

func rejected(item ai.DecisionItem, reason string) Verdict {
	return Verdict{
		Instrument: item.Instrument,
		Status:     StatusRejected,
		Reason:     reason,
	}
}

// protectionSane 校验止损止盈相对现价的方向合理性。
func protectionSane(action ai.Action, price, stopLoss, takeProfit float64) bool {
	switch action {
	case ai.ActionOpenLong:
		return stopLoss < price && takeProfit > price
	case ai.ActionOpenShort:
		return stopLoss > price && takeProfit < price
	default:
		return true
	}
}
