package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DailyPerformance 表示当日交易表现。
type DailyPerformance struct {
	TradingDate string
	RealizedPnL float64
	Wins        int
	Losses      int
}

// DailyTracker 以存储为基准维护日度已实现盈亏与胜负计数。
// 基线为当日首次观测到的已实现净值（净值减未实现盈亏）。
type DailyTracker struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDailyTracker 创建日度表现跟踪器并初始化表结构。
func NewDailyTracker(db *sql.DB, logger *zap.Logger) (*DailyTracker, error) {
	if db == nil {
		return nil, errors.New("state: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	tracker := &DailyTracker{
		db:     db,
		logger: logger,
	}

	if err := tracker.initSchema(); err != nil {
		return nil, err
	}

	return tracker, nil
}

func (t *DailyTracker) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS daily_performance (
	trading_date TEXT PRIMARY KEY,
	start_realized REAL NOT NULL,
	current_realized REAL NOT NULL,
	wins INTEGER NOT NULL DEFAULT 0,
	losses INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);`
	if _, err := t.db.Exec(stmt); err != nil {
		return fmt.Errorf("state: 初始化日度表现表失败: %w", err)
	}
	return nil
}

// Update 根据当前净值与未实现盈亏刷新当日已实现盈亏，返回最新状态。
func (t *DailyTracker) Update(ctx context.Context, ts time.Time, equity, unrealized float64) (DailyPerformance, error) {
	var result DailyPerformance

	tradingDate := ts.UTC().Format("2006-01-02")
	realized := equity - unrealized
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("state: 开启事务失败: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		startRealized float64
		wins          int
		losses        int
	)

	row := tx.QueryRowContext(ctx,
		`SELECT start_realized, wins, losses FROM daily_performance WHERE trading_date = ?`, tradingDate)
	switch scanErr := row.Scan(&startRealized, &wins, &losses); {
	case scanErr == nil:
		if _, execErr := tx.ExecContext(ctx,
			`UPDATE daily_performance SET current_realized = ?, updated_at = ? WHERE trading_date = ?`,
			realized, now, tradingDate,
		); execErr != nil {
			err = fmt.Errorf("state: 更新日度表现失败: %w", execErr)
			return result, err
		}
	case errors.Is(scanErr, sql.ErrNoRows):
		if _, execErr := tx.ExecContext(ctx,
			`INSERT INTO daily_performance (trading_date, start_realized, current_realized, wins, losses, updated_at)
			 VALUES (?, ?, ?, 0, 0, ?)`,
			tradingDate, realized, realized, now,
		); execErr != nil {
			err = fmt.Errorf("state: 初始化日度表现失败: %w", execErr)
			return result, err
		}
		startRealized = realized
	default:
		err = fmt.Errorf("state: 查询日度表现失败: %w", scanErr)
		return result, err
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return result, fmt.Errorf("state: 提交事务失败: %w", commitErr)
	}

	return DailyPerformance{
		TradingDate: tradingDate,
		RealizedPnL: realized - startRealized,
		Wins:        wins,
		Losses:      losses,
	}, nil
}

// RecordClose 按平仓时的盈亏符号更新当日胜负计数。
func (t *DailyTracker) RecordClose(ctx context.Context, ts time.Time, pnl float64) error {
	tradingDate := ts.UTC().Format("2006-01-02")
	now := time.Now().UTC().Format(time.RFC3339)

	column := "losses"
	if pnl > 0 {
		column = "wins"
	}

	result, err := t.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE daily_performance SET %s = %s + 1, updated_at = ? WHERE trading_date = ?`, column, column),
		now, tradingDate,
	)
	if err != nil {
		return fmt.Errorf("state: 更新胜负计数失败: %w", err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		// 当日还没有基线记录时直接补一行，计数不丢。
		wins, losses := 0, 1
		if pnl > 0 {
			wins, losses = 1, 0
		}
		if _, insErr := t.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO daily_performance (trading_date, start_realized, current_realized, wins, losses, updated_at)
			 VALUES (?, 0, 0, ?, ?, ?)`,
			tradingDate, wins, losses, now,
		); insErr != nil {
			return fmt.Errorf("state: 补记胜负计数失败: %w", insErr)
		}
	}

	return nil
}
