package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"cycletrader/internal/cycle"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycle_records (
    id          TEXT PRIMARY KEY,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME NOT NULL,
    status      TEXT NOT NULL,
    error       TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cycle_records_started_at ON cycle_records(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_cycle_records_status ON cycle_records(status);
`

// Recorder 负责周期记录的落库与查询。
// 每条记录单条 INSERT 原子写入：要么完整可见，要么完全不存在。
type Recorder struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRecorder 创建记录器并初始化表结构。
func NewRecorder(db *sql.DB, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("初始化周期记录表失败: %w", err)
	}
	return &Recorder{db: db, logger: logger}, nil
}

// Append 写入一条周期记录。记录一旦写入即不可变，没有更新路径。
func (r *Recorder) Append(ctx context.Context, record cycle.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化周期记录失败: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO cycle_records (id, started_at, finished_at, status, error, payload)
         VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.StartedAt.UTC(),
		record.FinishedAt.UTC(),
		string(record.Status),
		record.Error,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("写入周期记录失败: %w", err)
	}

	r.logger.Debug("周期记录已写入",
		zap.String("cycle_id", record.ID),
		zap.String("status", string(record.Status)),
	)
	return nil
}

// Query 描述记录查询条件。
type Query struct {
	Status string
	Limit  int
}

// List 按开始时间倒序返回周期记录，可按状态过滤。
func (r *Recorder) List(ctx context.Context, query Query) ([]cycle.Record, error) {
	limit := query.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if query.Status != "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT payload FROM cycle_records WHERE status = ? ORDER BY started_at DESC LIMIT ?`,
			query.Status, limit)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT payload FROM cycle_records ORDER BY started_at DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("查询周期记录失败: %w", err)
	}
	defer rows.Close()

	var records []cycle.Record
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("读取周期记录失败: %w", err)
		}
		var record cycle.Record
		if err := json.Unmarshal([]byte(payload), &record); err != nil {
			// 损坏的记录跳过，不让单条坏数据拖垮整个查询。
			r.logger.Warn("周期记录反序列化失败，已跳过", zap.Error(err))
			continue
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历周期记录失败: %w", err)
	}

	return records, nil
}

// Get 按ID读取单条周期记录。
func (r *Recorder) Get(ctx context.Context, id string) (cycle.Record, error) {
	var payload string
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM cycle_records WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		return cycle.Record{}, fmt.Errorf("读取周期记录 %s 失败: %w", id, err)
	}

	var record cycle.Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return cycle.Record{}, fmt.Errorf("反序列化周期记录 %s 失败: %w", id, err)
	}
	return record, nil
}

// Prune 删除早于保留期的记录，返回删除条数。
func (r *Recorder) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM cycle_records WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理过期周期记录失败: %w", err)
	}
	deleted, _ := result.RowsAffected()
	return deleted, nil
}
