package recorder

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cycletrader/internal/cycle"
	"cycletrader/internal/execution"
	"cycletrader/internal/state"
)

func TestRecorder_AppendAndGet(t *testing.T) {
	rec := newTestRecorder(t)

	record := makeRecord("cycle-1", cycle.StatusCompleted, time.Now())
	record.Executions = []execution.Result{{
		Instrument: "BTC/USDT:USDT",
		Action:     "open_long",
		Status:     execution.StatusExecuted,
	}}

	if err := rec.Append(context.Background(), record); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	got, err := rec.Get(context.Background(), "cycle-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got.ID != "cycle-1" || got.Status != cycle.StatusCompleted {
		t.Errorf("unexpected record: %+v", got)
	}
	if len(got.Executions) != 1 || got.Executions[0].Instrument != "BTC/USDT:USDT" {
		t.Errorf("execution payload not round-tripped: %+v", got.Executions)
	}
}

func TestRecorder_AppendRejectsDuplicateID(t *testing.T) {
	rec := newTestRecorder(t)
	record := makeRecord("cycle-1", cycle.StatusCompleted, time.Now())

	if err := rec.Append(context.Background(), record); err != nil {
		t.Fatalf("first Append returned error: %v", err)
	}
	if err := rec.Append(context.Background(), record); err == nil {
		t.Fatalf("expected duplicate id rejected")
	}
}

func TestRecorder_ListFiltersByStatusNewestFirst(t *testing.T) {
	rec := newTestRecorder(t)
	base := time.Now().Add(-time.Hour)

	for i, status := range []cycle.CycleStatus{
		cycle.StatusCompleted,
		cycle.StatusAborted,
		cycle.StatusCompleted,
	} {
		record := makeRecord(
			string(rune('a'+i)),
			status,
			base.Add(time.Duration(i)*time.Minute),
		)
		if err := rec.Append(context.Background(), record); err != nil {
			t.Fatalf("Append returned error: %v", err)
		}
	}

	completed, err := rec.List(context.Background(), Query{Status: string(cycle.StatusCompleted)})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("expected 2 completed records, got %d", len(completed))
	}
	if completed[0].ID != "c" || completed[1].ID != "a" {
		t.Errorf("expected newest-first order, got %s %s", completed[0].ID, completed[1].ID)
	}

	all, err := rec.List(context.Background(), Query{Limit: 2})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected limit honored, got %d", len(all))
	}
}

func TestRecorder_PruneRemovesOldRecords(t *testing.T) {
	rec := newTestRecorder(t)

	old := makeRecord("old", cycle.StatusCompleted, time.Now().Add(-48*time.Hour))
	fresh := makeRecord("fresh", cycle.StatusCompleted, time.Now())
	if err := rec.Append(context.Background(), old); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if err := rec.Append(context.Background(), fresh); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}

	deleted, err := rec.Prune(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune returned error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 record pruned, got %d", deleted)
	}

	remaining, err := rec.List(context.Background(), Query{})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != "fresh" {
		t.Errorf("expected only fresh record to remain, got %+v", remaining)
	}
}

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	rec, err := NewRecorder(db, nil)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	return rec
}

func makeRecord(id string, status cycle.CycleStatus, startedAt time.Time) cycle.Record {
	return cycle.Record{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(10 * time.Second),
		Status:     status,
		Snapshot: state.MarketSnapshot{
			Timestamp: startedAt,
			Account:   state.AccountState{Balance: 10000},
		},
	}
}
