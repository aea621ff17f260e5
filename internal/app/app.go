package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cycletrader/internal/ai"
	"cycletrader/internal/config"
	"cycletrader/internal/cycle"
	"cycletrader/internal/exchange"
	"cycletrader/internal/execution"
	"cycletrader/internal/indicator"
	"cycletrader/internal/market"
	"cycletrader/internal/recorder"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
	"cycletrader/internal/store"
)

// executor 为执行阶段的统一形态，实盘与模拟实现互换。
type executor interface {
	Execute(ctx context.Context, cycleID string, item ai.DecisionItem, verdict risk.Verdict, snapshot state.MarketSnapshot) execution.Result
}

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成依赖装配后进入调度循环：启动先跑一个周期，
// 之后按 cycle_interval 定时触发，直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Strings("instruments", a.cfg.Exchange.Instruments),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
	)

	orch, rec, err := a.assemble()
	if err != nil {
		return err
	}

	if a.cfg.Monitor.Enabled {
		startMonitorServer(ctx, orch, rec, a.cfg.Monitor.Port, a.logger)
	}

	a.runOnce(ctx, orch, rec)

	interval := a.cfg.Scheduler.CycleInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("系统异常退出: %w", err)
			}
			a.logger.Info("系统收到退出信号，正在停止")
			return nil
		case <-ticker.C:
			a.runOnce(ctx, orch, rec)
		}
	}
}

// assemble 按配置装配各阶段组件。
func (a *App) assemble() (*cycle.Orchestrator, *recorder.Recorder, error) {
	venue, err := exchange.NewClient(a.cfg.Exchange, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	collector := market.NewCollector(venue, indicator.NewCalculator(), a.cfg.Collector, a.logger)

	tracker, err := state.NewDailyTracker(a.store.DB(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化当日表现追踪失败: %w", err)
	}

	aggregator := state.NewAggregator(venue, tracker, a.cfg.Exchange.Instruments, a.logger)

	decider, err := ai.NewClient(a.cfg.OpenAI, a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化决策客户端失败: %w", err)
	}

	rec, err := recorder.NewRecorder(a.store.DB(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化周期记录器失败: %w", err)
	}

	orch := cycle.NewOrchestrator(
		collector,
		aggregator,
		decider,
		a.buildExecutor(venue),
		rec,
		tracker,
		a.cfg.Exchange.Instruments,
		a.cfg.Risk,
		a.cfg.Scheduler,
		a.logger,
	)

	return orch, rec, nil
}

// buildExecutor 根据配置返回实盘或模拟执行器。
func (a *App) buildExecutor(venue *exchange.Client) executor {
	if a.cfg.Execution.Simulation {
		a.logger.Warn("模拟执行已启用，所有委托均不会触达交易所")
		return execution.NewSimulator(a.logger)
	}
	return execution.NewExecutor(venue, a.cfg.Execution, a.logger)
}

func (a *App) runOnce(ctx context.Context, orch *cycle.Orchestrator, rec *recorder.Recorder) {
	record := orch.RunCycle(ctx)
	if record.Status == cycle.StatusAborted {
		a.logger.Error("周期中止", zap.String("cycle_id", record.ID), zap.String("error", record.Error))
	}

	if retention := a.cfg.Database.Retention; retention > 0 {
		deleted, err := rec.Prune(ctx, retention)
		if err != nil {
			a.logger.Warn("清理历史周期记录失败", zap.Error(err))
		} else if deleted > 0 {
			a.logger.Info("已清理过期周期记录",
				zap.Int64("deleted", deleted),
				zap.Duration("retention", retention),
			)
		}
	}
}
