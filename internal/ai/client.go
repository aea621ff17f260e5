package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"cycletrader/internal/config"
	"cycletrader/internal/state"
)

// Client 封装 OpenAI 调用逻辑。决策服务视为不透明：
// 任何失败（超时、格式错误）都等价于"本周期无决策"。
type Client struct {
	cfg    config.OpenAIConfig
	logger *zap.Logger
	sdk    *openai.Client
}

// NewClient 使用给定配置创建决策客户端。
func NewClient(cfg config.OpenAIConfig, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}

	httpClient := &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}
	sdkConfig.HTTPClient = httpClient
	client := openai.NewClientWithConfig(sdkConfig)

	return &Client{
		cfg:    cfg,
		logger: logger,
		sdk:    client,
	}, nil
}

// Propose 根据市场快照获取模型决策。
// 调用受超时约束；返回的决策在边界处完成校验，通过后方可进入风控。
func (c *Client) Propose(ctx context.Context, snapshot state.MarketSnapshot, risk config.RiskConfig, previousRationale string) (Decision, error) {
	if c.cfg.Model == "" {
		return Decision{}, errors.New("openai model 不能为空")
	}

	prompt, err := BuildPrompt(snapshot, risk, previousRationale)
	if err != nil {
		return Decision{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	response, err := c.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		Temperature: 0,
	})
	if err != nil {
		c.logger.Error("调用决策服务失败", zap.Error(err))
		return Decision{}, fmt.Errorf("调用决策服务失败: %w", err)
	}

	if len(response.Choices) == 0 {
		return Decision{}, errors.New("决策服务返回结果为空")
	}

	rawContent := strings.TrimSpace(response.Choices[0].Message.Content)
	if rawContent == "" {
		return Decision{}, errors.New("决策服务返回内容为空")
	}

	decision, err := parseDecision(rawContent)
	if err != nil {
		c.logger.Error("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", rawContent),
		)
		return Decision{}, err
	}

	decision = decision.Normalized()
	if err := decision.Validate(); err != nil {
		return Decision{}, fmt.Errorf("决策校验失败: %w", err)
	}

	c.logger.Info("模型决策生成成功",
		zap.Int("items", len(decision.Items)),
	)

	return decision, nil
}

func parseDecision(content string) (Decision, error) {
	jsonPayload, err := extractJSON(content)
	if err != nil {
		return Decision{}, err
	}

	var decision Decision
	if err = json.Unmarshal(jsonPayload, &decision); err != nil {
		return Decision{}, fmt.Errorf("解析决策JSON失败: %w", err)
	}

	return decision, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
