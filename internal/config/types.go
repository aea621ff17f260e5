package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Collector CollectorConfig `mapstructure:"collector"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息与交易标的集合。
type ExchangeConfig struct {
	Name        string        `mapstructure:"name"`
	Instruments []string      `mapstructure:"instruments"`
	APIKey      string        `mapstructure:"api_key"`
	APISecret   string        `mapstructure:"api_secret"`
	UseSandbox  bool          `mapstructure:"use_sandbox"`
	Retry       RetryConfig   `mapstructure:"retry"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RiskConfig 管理风控硬限制。启动时读取一次，单个周期内不允许变更。
type RiskConfig struct {
	MaxPositionSizeUSD float64 `mapstructure:"max_position_size_usd"`
	MinOrderSizeUSD    float64 `mapstructure:"min_order_size_usd"`
	MaxLeverage        float64 `mapstructure:"max_leverage"`
	RiskPerTradePct    float64 `mapstructure:"risk_per_trade_pct"`
	MaxOpenPositions   int     `mapstructure:"max_open_positions"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
}

// CollectorConfig 控制行情采集并发与超时。
type CollectorConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	CandleLimit  int           `mapstructure:"candle_limit"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Simulation      bool          `mapstructure:"simulation"`
	OrderTimeout    time.Duration `mapstructure:"order_timeout"`
	ProtectionRetry int           `mapstructure:"protection_retry"`
}

// DatabaseConfig 管理数据库连接与记录保留时长。
// Retention 为0时不清理历史周期记录。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
	Retention       time.Duration `mapstructure:"retention"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制周期触发节奏与各阶段时间预算。
type SchedulerConfig struct {
	CycleInterval   time.Duration `mapstructure:"cycle_interval"`
	DecisionBudget  time.Duration `mapstructure:"decision_budget"`
	AggregateBudget time.Duration `mapstructure:"aggregate_budget"`
}

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if len(c.Exchange.Instruments) == 0 {
		err = multierr.Append(err, errors.New("exchange.instruments 至少配置一个交易标的"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Exchange.CallTimeout <= 0 {
		err = multierr.Append(err, errors.New("exchange.call_timeout 必须大于0"))
	}
	if c.OpenAI.APIKey == "" {
		err = multierr.Append(err, errors.New("openai.api_key 不能为空"))
	}
	if c.OpenAI.Model == "" {
		err = multierr.Append(err, errors.New("openai.model 不能为空"))
	}
	if c.OpenAI.Timeout <= 0 {
		err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
	}
	if c.Risk.MaxPositionSizeUSD <= 0 {
		err = multierr.Append(err, errors.New("risk.max_position_size_usd 必须大于0"))
	}
	if c.Risk.MinOrderSizeUSD <= 0 {
		err = multierr.Append(err, errors.New("risk.min_order_size_usd 必须大于0"))
	}
	if c.Risk.MinOrderSizeUSD > c.Risk.MaxPositionSizeUSD {
		err = multierr.Append(err, errors.New("risk.min_order_size_usd 不能大于 max_position_size_usd"))
	}
	if c.Risk.MaxLeverage < 1 {
		err = multierr.Append(err, errors.New("risk.max_leverage 必须不小于1"))
	}
	if c.Risk.RiskPerTradePct <= 0 || c.Risk.RiskPerTradePct > 1 {
		err = multierr.Append(err, errors.New("risk.risk_per_trade_pct 必须位于(0,1]"))
	}
	if c.Risk.MaxOpenPositions <= 0 {
		err = multierr.Append(err, errors.New("risk.max_open_positions 必须大于0"))
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		err = multierr.Append(err, errors.New("risk.min_confidence 必须位于[0,1]"))
	}
	if c.Collector.Concurrency <= 0 {
		err = multierr.Append(err, errors.New("collector.concurrency 必须大于0"))
	}
	if c.Collector.FetchTimeout <= 0 {
		err = multierr.Append(err, errors.New("collector.fetch_timeout 必须大于0"))
	}
	if c.Collector.CandleLimit < 50 {
		err = multierr.Append(err, errors.New("collector.candle_limit 不应小于50，指标计算需要足够K线"))
	}
	if c.Execution.OrderTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.order_timeout 必须大于0"))
	}
	if c.Execution.ProtectionRetry < 0 {
		err = multierr.Append(err, errors.New("execution.protection_retry 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Database.Retention < 0 {
		err = multierr.Append(err, errors.New("database.retention 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.CycleInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.cycle_interval 必须大于0"))
	}
	if c.Scheduler.DecisionBudget <= 0 {
		err = multierr.Append(err, errors.New("scheduler.decision_budget 必须大于0"))
	}
	if c.Scheduler.AggregateBudget <= 0 {
		err = multierr.Append(err, errors.New("scheduler.aggregate_budget 必须大于0"))
	}
	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
