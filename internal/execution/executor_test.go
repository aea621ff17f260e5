package execution

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"cycletrader/internal/ai"
	"cycletrader/internal/config"
	"cycletrader/internal/exchange"
	"cycletrader/internal/market"
	"cycletrader/internal/risk"
	"cycletrader/internal/state"
)

func TestExecutorExecute_OpenPlacesEntryAndProtection(t *testing.T) {
	venue := &mockVenue{}
	exec := newTestExecutor(venue, 0)

	result := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), makeExecSnapshot())

	if !result.Executed() {
		t.Fatalf("expected executed, got %s (err=%s)", result.Status, result.Error)
	}
	if len(venue.placed) != 3 {
		t.Fatalf("expected 3 orders placed, got %d", len(venue.placed))
	}

	entry := venue.placed[0]
	if entry.Type != exchange.OrderTypeMarket || entry.Side != exchange.OrderSideBuy || entry.ReduceOnly {
		t.Errorf("unexpected entry order: %+v", entry)
	}
	if diff := entry.Quantity - 0.01; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("expected quantity 0.01, got %f", entry.Quantity)
	}

	stop := venue.placed[1]
	if stop.Type != exchange.OrderTypeStopMarket || !stop.ReduceOnly || stop.Side != exchange.OrderSideSell {
		t.Errorf("unexpected stop order: %+v", stop)
	}
	if stop.TriggerPrice != 49500 {
		t.Errorf("expected stop trigger 49500, got %f", stop.TriggerPrice)
	}

	tp := venue.placed[2]
	if tp.Type != exchange.OrderTypeTakeProfitMarket || !tp.ReduceOnly {
		t.Errorf("unexpected take-profit order: %+v", tp)
	}
	if result.EntryOrderID == "" || result.StopLossOrderID == "" || result.TakeProfitOrderID == "" {
		t.Errorf("expected all order ids recorded: %+v", result)
	}
}

func TestExecutorExecute_SameCycleIsIdempotent(t *testing.T) {
	venue := &mockVenue{}
	exec := newTestExecutor(venue, 0)
	snapshot := makeExecSnapshot()

	first := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), snapshot)
	second := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), snapshot)

	if !first.Executed() || !second.Executed() {
		t.Fatalf("expected both executed, got %s / %s", first.Status, second.Status)
	}
	if !second.Duplicate {
		t.Errorf("expected second result flagged as duplicate")
	}
	if second.EntryOrderID != first.EntryOrderID {
		t.Errorf("expected duplicate to return original order id")
	}
	if len(venue.placed) != 3 {
		t.Errorf("expected no additional orders on duplicate, got %d placed", len(venue.placed))
	}
}

func TestExecutorExecute_NewCyclePlacesAgain(t *testing.T) {
	venue := &mockVenue{}
	exec := newTestExecutor(venue, 0)
	snapshot := makeExecSnapshot()

	exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), snapshot)
	result := exec.Execute(context.Background(), "cycle-2", openLongItem(), approvedVerdict(500, 2), snapshot)

	if result.Duplicate {
		t.Errorf("different cycle must not be treated as duplicate")
	}
	if len(venue.placed) != 6 {
		t.Errorf("expected 6 orders across two cycles, got %d", len(venue.placed))
	}
}

func TestExecutorExecute_ProtectionFailureClosesPosition(t *testing.T) {
	venue := &mockVenue{
		failTypes: map[string]error{
			exchange.OrderTypeStopMarket: &exchange.VenueError{
				Kind: exchange.FailureRejected,
				Op:   "PlaceOrder",
				Err:  errors.New("invalid trigger"),
			},
		},
	}
	exec := newTestExecutor(venue, 2)

	result := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), makeExecSnapshot())

	if result.Status != StatusFailed {
		t.Fatalf("expected failed result, got %s", result.Status)
	}
	if result.FailureReason != FailureUnprotectedClosed {
		t.Errorf("expected failure reason %s, got %s", FailureUnprotectedClosed, result.FailureReason)
	}

	// 入场 → 止损(失败，不重试) → 应急平仓。
	if len(venue.placed) != 3 {
		t.Fatalf("expected 3 place attempts, got %d", len(venue.placed))
	}
	closeOrder := venue.placed[2]
	if closeOrder.Type != exchange.OrderTypeMarket || !closeOrder.ReduceOnly || closeOrder.Side != exchange.OrderSideSell {
		t.Errorf("expected reduce-only market close, got %+v", closeOrder)
	}
}

func TestExecutorExecute_TransientProtectionFailureRetried(t *testing.T) {
	venue := &mockVenue{
		failTypes: map[string]error{
			exchange.OrderTypeStopMarket: &exchange.VenueError{
				Kind: exchange.FailureTransient,
				Op:   "PlaceOrder",
				Err:  errors.New("timeout"),
			},
		},
		failCount: 1,
	}
	exec := newTestExecutor(venue, 2)

	result := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), makeExecSnapshot())

	if !result.Executed() {
		t.Fatalf("expected retry to recover, got %s (err=%s)", result.Status, result.Error)
	}
	// 入场 + 止损失败 + 止损重试成功 + 止盈。
	if len(venue.placed) != 4 {
		t.Errorf("expected 4 place attempts, got %d", len(venue.placed))
	}
}

func TestExecutorExecute_TakeProfitFailureCancelsPlacedStop(t *testing.T) {
	venue := &mockVenue{
		failTypes: map[string]error{
			exchange.OrderTypeTakeProfitMarket: &exchange.VenueError{
				Kind: exchange.FailureRejected,
				Op:   "PlaceOrder",
				Err:  errors.New("invalid trigger"),
			},
		},
	}
	exec := newTestExecutor(venue, 0)

	result := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), makeExecSnapshot())

	if result.FailureReason != FailureUnprotectedClosed {
		t.Fatalf("expected unprotected close, got %+v", result)
	}
	if len(venue.canceled) != 1 {
		t.Fatalf("expected placed stop order canceled, got %d cancels", len(venue.canceled))
	}
}

func TestExecutorExecute_CloseUsesFullPositionReduceOnly(t *testing.T) {
	venue := &mockVenue{}
	exec := newTestExecutor(venue, 0)

	snapshot := makeExecSnapshot()
	snapshot.Positions = []state.PositionRecord{{
		Instrument:        "BTC/USDT:USDT",
		Side:              "SHORT",
		Quantity:          0.03,
		UnrealizedPnL:     12.5,
		StopLossOrderID:   "sl-1",
		TakeProfitOrderID: "tp-1",
		InUniverse:        true,
	}}

	item := ai.DecisionItem{
		Instrument: "BTC/USDT:USDT",
		Action:     ai.ActionClose,
		Confidence: 0.9,
	}

	result := exec.Execute(context.Background(), "cycle-1", item, risk.Verdict{Status: risk.StatusApproved}, snapshot)

	if !result.Executed() {
		t.Fatalf("expected executed, got %s (err=%s)", result.Status, result.Error)
	}
	if len(venue.placed) != 1 {
		t.Fatalf("expected single close order, got %d", len(venue.placed))
	}
	closeOrder := venue.placed[0]
	if closeOrder.Side != exchange.OrderSideBuy || !closeOrder.ReduceOnly || closeOrder.Quantity != 0.03 {
		t.Errorf("unexpected close order: %+v", closeOrder)
	}
	if result.ClosedPnL != 12.5 {
		t.Errorf("expected closed pnl 12.5, got %f", result.ClosedPnL)
	}
	if len(venue.canceled) != 2 {
		t.Errorf("expected both protective orders canceled, got %d", len(venue.canceled))
	}
}

func TestExecutorExecute_CloseWithoutPositionFails(t *testing.T) {
	venue := &mockVenue{}
	exec := newTestExecutor(venue, 0)

	item := ai.DecisionItem{Instrument: "BTC/USDT:USDT", Action: ai.ActionClose}
	result := exec.Execute(context.Background(), "cycle-1", item, risk.Verdict{Status: risk.StatusApproved}, makeExecSnapshot())

	if result.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(venue.placed) != 0 {
		t.Errorf("expected no orders placed, got %d", len(venue.placed))
	}
}

func TestExecutorExecute_DetectsExistingProtectionOnVenue(t *testing.T) {
	clientID := deriveClientID("cycle-1", "BTC/USDT:USDT", string(ai.ActionOpenLong))
	venue := &mockVenue{
		openOrders: []exchange.Order{
			{ID: "venue-sl", ClientID: clientID + "-sl", Instrument: "BTC/USDT:USDT"},
			{ID: "venue-tp", ClientID: clientID + "-tp", Instrument: "BTC/USDT:USDT"},
		},
	}
	exec := newTestExecutor(venue, 0)

	result := exec.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), makeExecSnapshot())

	if !result.Executed() || !result.Duplicate {
		t.Fatalf("expected duplicate detection from venue orders, got %+v", result)
	}
	if result.StopLossOrderID != "venue-sl" || result.TakeProfitOrderID != "venue-tp" {
		t.Errorf("expected existing order ids carried over, got %+v", result)
	}
	if len(venue.placed) != 0 {
		t.Errorf("expected no new orders placed, got %d", len(venue.placed))
	}
}

func TestSimulatorExecute_MirrorsLiveSemantics(t *testing.T) {
	sim := NewSimulator(nil)
	snapshot := makeExecSnapshot()

	first := sim.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), snapshot)
	second := sim.Execute(context.Background(), "cycle-1", openLongItem(), approvedVerdict(500, 2), snapshot)

	if !first.Executed() {
		t.Fatalf("expected executed, got %s", first.Status)
	}
	if !strings.HasPrefix(first.EntryOrderID, "sim-") {
		t.Errorf("expected simulated order id prefix, got %s", first.EntryOrderID)
	}
	if !second.Duplicate {
		t.Errorf("expected simulator to be idempotent within a cycle")
	}
}

func newTestExecutor(venue *mockVenue, protectionRetry int) *Executor {
	return NewExecutor(venue, config.ExecutionConfig{
		OrderTimeout:    time.Second,
		ProtectionRetry: protectionRetry,
	}, nil)
}

func makeExecSnapshot() state.MarketSnapshot {
	return state.MarketSnapshot{
		Timestamp: time.Now(),
		Instruments: []market.InstrumentSnapshot{{
			Instrument: "BTC/USDT:USDT",
			Timestamp:  time.Now(),
			Price:      50000,
			Status:     market.FetchStatusOK,
		}},
		Account: state.AccountState{Balance: 10000},
	}
}

func openLongItem() ai.DecisionItem {
	return ai.DecisionItem{
		Instrument: "BTC/USDT:USDT",
		Action:     ai.ActionOpenLong,
		SizeUSD:    500,
		Leverage:   2,
		StopLoss:   49500,
		TakeProfit: 52000,
		Confidence: 0.9,
	}
}

func approvedVerdict(size, leverage float64) risk.Verdict {
	return risk.Verdict{
		Status:            risk.StatusApproved,
		EffectiveSizeUSD:  size,
		EffectiveLeverage: leverage,
	}
}

type mockVenue struct {
	placed     []exchange.OrderSpec
	canceled   []string
	openOrders []exchange.Order

	// failTypes 按订单类型注入错误；failCount>0 时只失败前N次。
	failTypes map[string]error
	failCount int
	failed    int
}

func (m *mockVenue) PlaceOrder(_ context.Context, spec exchange.OrderSpec) (exchange.Order, error) {
	m.placed = append(m.placed, spec)
	if err, ok := m.failTypes[spec.Type]; ok {
		if m.failCount == 0 || m.failed < m.failCount {
			m.failed++
			return exchange.Order{}, err
		}
	}
	return exchange.Order{
		ID:         "order-" + spec.ClientID,
		ClientID:   spec.ClientID,
		Instrument: spec.Instrument,
		Side:       spec.Side,
		Type:       spec.Type,
		Quantity:   spec.Quantity,
		Status:     exchange.OrderStatusFilled,
	}, nil
}

func (m *mockVenue) GetOpenOrders(_ context.Context, _ string) ([]exchange.Order, error) {
	return m.openOrders, nil
}

func (m *mockVenue) CancelOrder(_ context.Context, id, _ string) error {
	m.canceled = append(m.canceled, id)
	return nil
}
