package state

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func TestDailyTracker_BaselineIsFirstObservation(t *testing.T) {
	tracker := newTestTracker(t)
	day := time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)

	// 首次观测：净值 10100，未实现 100 → 已实现基线 10000。
	perf, err := tracker.Update(context.Background(), day, 10100, 100)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if perf.RealizedPnL != 0 {
		t.Errorf("expected zero realized pnl at baseline, got %f", perf.RealizedPnL)
	}

	// 同日再次观测：已实现升至 10050 → 当日盈亏 +50。
	perf, err = tracker.Update(context.Background(), day.Add(time.Hour), 10250, 200)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if perf.RealizedPnL != 50 {
		t.Errorf("expected realized pnl 50, got %f", perf.RealizedPnL)
	}
}

func TestDailyTracker_NewDayResetsBaseline(t *testing.T) {
	tracker := newTestTracker(t)
	day1 := time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	if _, err := tracker.Update(context.Background(), day1, 10000, 0); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	perf, err := tracker.Update(context.Background(), day2, 10500, 0)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if perf.TradingDate != "2026-08-24" {
		t.Errorf("expected new trading date, got %s", perf.TradingDate)
	}
	if perf.RealizedPnL != 0 {
		t.Errorf("expected fresh baseline on new day, got %f", perf.RealizedPnL)
	}
}

func TestDailyTracker_RecordCloseCountsWinsAndLosses(t *testing.T) {
	tracker := newTestTracker(t)
	day := time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)

	if _, err := tracker.Update(context.Background(), day, 10000, 0); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if err := tracker.RecordClose(context.Background(), day, 42); err != nil {
		t.Fatalf("RecordClose returned error: %v", err)
	}
	if err := tracker.RecordClose(context.Background(), day, -17); err != nil {
		t.Fatalf("RecordClose returned error: %v", err)
	}

	perf, err := tracker.Update(context.Background(), day.Add(time.Hour), 10000, 0)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if perf.Wins != 1 || perf.Losses != 1 {
		t.Errorf("expected 1 win / 1 loss, got %d / %d", perf.Wins, perf.Losses)
	}
}

func TestDailyTracker_RecordCloseWithoutBaselineStillCounts(t *testing.T) {
	tracker := newTestTracker(t)
	day := time.Date(2026, 8, 23, 8, 0, 0, 0, time.UTC)

	if err := tracker.RecordClose(context.Background(), day, 42); err != nil {
		t.Fatalf("RecordClose returned error: %v", err)
	}

	perf, err := tracker.Update(context.Background(), day, 10000, 0)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if perf.Wins != 1 {
		t.Errorf("expected win recorded before baseline, got %d", perf.Wins)
	}
}

func newTestTracker(t *testing.T) *DailyTracker {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	tracker, err := NewDailyTracker(db, nil)
	if err != nil {
		t.Fatalf("NewDailyTracker returned error: %v", err)
	}
	return tracker
}
