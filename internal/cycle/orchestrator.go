package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cycletrader/internal/ai"
	"cycletrader/internal/config"
	"cycletrader/internal/execution"
	"cycletrader/internal/market"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
)

// 编排器依赖的各阶段能力，消费方定义接口便于测试替身。
type (
	collector interface {
		Collect(ctx context.Context, instruments []string) map[string]market.InstrumentSnapshot
	}

	aggregator interface {
		Aggregate(ctx context.Context, snapshots map[string]market.InstrumentSnapshot) (state.MarketSnapshot, error)
	}

	decider interface {
		Propose(ctx context.Context, snapshot state.MarketSnapshot, riskCfg config.RiskConfig, previousRationale string) (ai.Decision, error)
	}

	executor interface {
		Execute(ctx context.Context, cycleID string, item ai.DecisionItem, verdict risk.Verdict, snapshot state.MarketSnapshot) execution.Result
	}

	recorder interface {
		Append(ctx context.Context, record Record) error
	}

	closeTracker interface {
		RecordClose(ctx context.Context, ts time.Time, pnl float64) error
	}
)

// Orchestrator 串起 采集→聚合→决策→风控→执行→留痕 的完整周期。
// 全局互斥：任意时刻最多一个周期在跑，后续触发立即返回 skipped。
type Orchestrator struct {
	collector collector
	agg       aggregator
	decider   decider
	executor  executor
	recorder  recorder
	tracker   closeTracker

	instruments []string
	riskCfg     config.RiskConfig
	scheduler   config.SchedulerConfig
	logger      *zap.Logger

	mu sync.Mutex
	// prevRationale 只在持有 mu 时访问。
	prevRationale string
}

// NewOrchestrator 创建周期编排器。tracker 可为 nil（模拟执行时不记当日胜负）。
func NewOrchestrator(
	col collector,
	agg aggregator,
	dec decider,
	exe executor,
	rec recorder,
	tracker closeTracker,
	instruments []string,
	riskCfg config.RiskConfig,
	scheduler config.SchedulerConfig,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		collector:   col,
		agg:         agg,
		decider:     dec,
		executor:    exe,
		recorder:    rec,
		tracker:     tracker,
		instruments: instruments,
		riskCfg:     riskCfg,
		scheduler:   scheduler,
		logger:      logger,
	}
}

// RunCycle 执行一个完整周期并返回记录。
// 周期互斥由 TryLock 实现：拿不到锁说明上一周期还在跑，
// 返回 skipped 记录但不落库，也不产生任何副作用。
func (o *Orchestrator) RunCycle(ctx context.Context) Record {
	if !o.mu.TryLock() {
		o.logger.Warn("上一周期尚未结束，本次触发跳过")
		return Record{
			ID:         uuid.NewString(),
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
			Status:     StatusSkipped,
		}
	}
	defer o.mu.Unlock()

	record := Record{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}
	o.logger.Info("执行周期开始", zap.String("cycle_id", record.ID))

	// 阶段一：行情采集。单标的失败不影响整体，失败标的带 failed 状态进入快照。
	snapshots := o.collector.Collect(ctx, o.instruments)

	// 阶段二：状态聚合。账户侧任何失败都终止周期，残缺快照不允许进入决策。
	aggCtx := ctx
	if o.scheduler.AggregateBudget > 0 {
		var cancel context.CancelFunc
		aggCtx, cancel = context.WithTimeout(ctx, o.scheduler.AggregateBudget)
		defer cancel()
	}
	snapshot, err := o.agg.Aggregate(aggCtx, snapshots)
	if err != nil {
		return o.abort(ctx, record, fmt.Errorf("聚合市场状态失败: %w", err))
	}
	record.Snapshot = snapshot

	// 阶段三：决策。即使所有标的采集失败也照常请求，模型可基于持仓给出 hold/close。
	decisionCtx := ctx
	if o.scheduler.DecisionBudget > 0 {
		var cancel context.CancelFunc
		decisionCtx, cancel = context.WithTimeout(ctx, o.scheduler.DecisionBudget)
		defer cancel()
	}
	decision, err := o.decider.Propose(decisionCtx, snapshot, o.riskCfg, o.prevRationale)
	if err != nil {
		return o.abort(ctx, record, fmt.Errorf("获取模型决策失败: %w", err))
	}
	record.Decision = decision

	// 阶段四：风控评估，结论与决策项同序。
	record.Verdicts = risk.Evaluate(decision, snapshot, o.riskCfg)

	// 阶段五：执行放行项。不同标的并发，同标的由执行器内部串行。
	record.Executions = o.executeApproved(ctx, record.ID, decision, record.Verdicts, snapshot)

	record.Status = StatusCompleted
	for _, result := range record.Executions {
		if !result.Executed() {
			record.Status = StatusCompletedWithErrors
			break
		}
	}

	o.prevRationale = decision.Rationale
	record.FinishedAt = time.Now()

	o.persist(ctx, record)
	o.logger.Info("执行周期结束",
		zap.String("cycle_id", record.ID),
		zap.String("status", string(record.Status)),
		zap.Int("executions", len(record.Executions)),
		zap.Duration("elapsed", record.FinishedAt.Sub(record.StartedAt)),
	)
	return record
}

func (o *Orchestrator) executeApproved(ctx context.Context, cycleID string, decision ai.Decision, verdicts []risk.Verdict, snapshot state.MarketSnapshot) []execution.Result {
	type indexed struct {
		index int
		item  ai.DecisionItem
		v     risk.Verdict
	}

	var pending []indexed
	for i, verdict := range verdicts {
		if !verdict.Executable() || decision.Items[i].Action == ai.ActionHold {
			continue
		}
		pending = append(pending, indexed{index: i, item: decision.Items[i], v: verdict})
	}
	if len(pending) == 0 {
		return nil
	}

	results := make([]execution.Result, len(pending))
	group, groupCtx := errgroup.WithContext(ctx)
	for slot, task := range pending {
		group.Go(func() error {
			results[slot] = o.executor.Execute(groupCtx, cycleID, task.item, task.v, snapshot)
			return nil
		})
	}
	// 执行函数不返回错误，Wait 仅做汇合。
	_ = group.Wait()

	for _, result := range results {
		if result.Executed() && result.Action == string(ai.ActionClose) && o.tracker != nil {
			if err := o.tracker.RecordClose(ctx, time.Now(), result.ClosedPnL); err != nil {
				o.logger.Warn("记录平仓盈亏失败",
					zap.String("instrument", result.Instrument),
					zap.Error(err),
				)
			}
		}
	}

	return results
}

// abort 以 aborted 终态落库并返回记录。
func (o *Orchestrator) abort(ctx context.Context, record Record, err error) Record {
	o.logger.Error("执行周期中止", zap.String("cycle_id", record.ID), zap.Error(err))
	record.Status = StatusAborted
	record.Error = err.Error()
	record.FinishedAt = time.Now()
	o.persist(ctx, record)
	return record
}

func (o *Orchestrator) persist(ctx context.Context, record Record) {
	// 留痕失败不改变周期结果，只记日志。
	if err := o.recorder.Append(context.WithoutCancel(ctx), record); err != nil {
		o.logger.Error("写入周期记录失败",
			zap.String("cycle_id", record.ID),
			zap.Error(err),
		)
	}
}
