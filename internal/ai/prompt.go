package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"text/template"

	"cycletrader/internal/config"
	"cycletrader/internal/state"
)

const decisionTemplate = `
你是一个专业的加密货币合约交易员。你的任务是根据提供的市场快照，在遵循严格风险约束的前提下，为每个标的给出交易指令。

当前市场快照（status=failed 的标的本周期缺少行情，禁止对其给出 open/close 指令，只能 hold）：
{{ .SnapshotJSON }}

账户状况：
- 账户余额: {{ printf "%.2f" .Account.Balance }} USD
- 可用余额: {{ printf "%.2f" .Account.Available }} USD
- 已用保证金: {{ printf "%.2f" .Account.MarginUsed }} USD
- 未实现盈亏: {{ printf "%.2f" .Account.UnrealizedPnL }} USD
- 当日已实现盈亏: {{ printf "%.2f" .Account.DailyRealized }} USD（{{ .Account.DailyWins }} 胜 / {{ .Account.DailyLosses }} 负）

风控约束（超出约束的指令会被风控拒绝或裁剪）：
- 单仓位上限: {{ printf "%.0f" .Risk.MaxPositionSizeUSD }} USD
- 最大杠杆: {{ printf "%.0f" .Risk.MaxLeverage }}x
- 单笔最大风险: 净值的 {{ printf "%.1f" .RiskPctDisplay }}%
- 最大同时持仓数: {{ .Risk.MaxOpenPositions }}
- 最低信心度: {{ printf "%.2f" .Risk.MinConfidence }}
{{ if .PreviousRationale }}
上一周期的策略备忘：
{{ .PreviousRationale }}
{{ end }}
制定决策时请遵循：
1. 每个标的都必须给出一条指令，无操作时使用 hold；
2. open_long/open_short 必须同时给出可解析的止损价与止盈价，缺一不可；
3. size_usd 为目标名义仓位（USD 计），leverage 为期望杠杆；
4. 不确定时保守处理，保持 hold；
5. close 仅在有充分信号时给出，信心不足的退出会被风控拦截。

请严格输出唯一的 JSON 对象，格式如下：
{
  "items": [
    {
      "instrument": "BTC/USDT:USDT",
      "action": "open_long|open_short|close|hold",
      "size_usd": 0.0,
      "leverage": 1.0,
      "stop_loss": 0.0,
      "take_profit": 0.0,
      "confidence": 0.0,
      "rationale": "..."
    }
  ],
  "rationale": "本周期的整体判断与下一周期的策略备忘"
}

注意事项：
- confidence 必须位于 [0,1]；
- hold/close 的 size_usd、stop_loss、take_profit 可填 0；
- 只输出 JSON，不要附加任何解释文字。
`

var tmpl = template.Must(template.New("decision").Parse(decisionTemplate))

type promptContext struct {
	SnapshotJSON      string
	Account           state.AccountState
	Risk              config.RiskConfig
	RiskPctDisplay    float64
	PreviousRationale string
}

// BuildPrompt 渲染决策提示词。
func BuildPrompt(snapshot state.MarketSnapshot, risk config.RiskConfig, previousRationale string) (string, error) {
	snapshotJSON, err := json.MarshalIndent(struct {
		Timestamp   interface{} `json:"timestamp"`
		Instruments interface{} `json:"instruments"`
		Positions   interface{} `json:"positions"`
		OpenOrders  interface{} `json:"open_orders"`
	}{
		Timestamp:   snapshot.Timestamp,
		Instruments: snapshot.Instruments,
		Positions:   snapshot.Positions,
		OpenOrders:  snapshot.OpenOrders,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化市场快照失败: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, promptContext{
		SnapshotJSON:      string(snapshotJSON),
		Account:           snapshot.Account,
		Risk:              risk,
		RiskPctDisplay:    risk.RiskPerTradePct * 100,
		PreviousRationale: previousRationale,
	})
	if err != nil {
		return "", fmt.Errorf("渲染提示词失败: %w", err)
	}

	return buf.String(), nil
}
