package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Action 表示单标的的交易动作。
type Action string

const (
	ActionOpenLong  Action = "open_long"
	ActionOpenShort Action = "open_short"
	ActionClose     Action = "close"
	ActionHold      Action = "hold"
)

// IsOpen 返回动作是否为开仓。
func (a Action) IsOpen() bool {
	return a == ActionOpenLong || a == ActionOpenShort
}

// DecisionItem 为模型针对单标的给出的交易指令。
type DecisionItem struct {
	Instrument string  `json:"instrument"`
	Action     Action  `json:"action"`
	SizeUSD    float64 `json:"size_usd"`
	Leverage   float64 `json:"leverage"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Decision 为模型返回的完整决策，Items 保持模型给出的顺序。
type Decision struct {
	Items     []DecisionItem `json:"items"`
	Rationale string         `json:"rationale"`
}

var validActions = map[Action]struct{}{
	ActionOpenLong:  {},
	ActionOpenShort: {},
	ActionClose:     {},
	ActionHold:      {},
}

// Validate 在边界处校验决策字段合法性。
// 校验失败视为数据完整性错误，决策不得进入风控评估。
func (d Decision) Validate() error {
	if len(d.Items) == 0 {
		return errors.New("决策 items 不能为空")
	}

	for i, item := range d.Items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("items[%d]: %w", i, err)
		}
	}

	return nil
}

// Validate 校验单个决策项。
func (item DecisionItem) Validate() error {
	if strings.TrimSpace(item.Instrument) == "" {
		return errors.New("instrument 不能为空")
	}

	action := Action(strings.ToLower(strings.TrimSpace(string(item.Action))))
	if _, ok := validActions[action]; !ok {
		return fmt.Errorf("action 字段取值非法: %s", item.Action)
	}

	if item.Confidence < 0 || item.Confidence > 1 {
		return fmt.Errorf("confidence 必须位于 [0,1]，当前为 %f", item.Confidence)
	}

	if action.IsOpen() {
		if item.SizeUSD <= 0 {
			return fmt.Errorf("开仓 size_usd 必须大于0，当前为 %f", item.SizeUSD)
		}
		if item.Leverage < 0 {
			return fmt.Errorf("leverage 不能为负，当前为 %f", item.Leverage)
		}
		if item.StopLoss < 0 || item.TakeProfit < 0 {
			return errors.New("止损/止盈价格不能为负")
		}
	}

	return nil
}

// Normalized 返回动作字段规整后的副本。
func (d Decision) Normalized() Decision {
	items := make([]DecisionItem, len(d.Items))
	for i, item := range d.Items {
		item.Action = Action(strings.ToLower(strings.TrimSpace(string(item.Action))))
		item.Instrument = strings.TrimSpace(item.Instrument)
		items[i] = item
	}
	return Decision{Items: items, Rationale: d.Rationale}
}
