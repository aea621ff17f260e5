package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"cycletrader/internal/exchange"
	"cycletrader/internal/market"
)

func TestAggregate_BuildsConsistentSnapshot(t *testing.T) {
	venue := &mockAccountSource{
		balance: exchange.Balance{
			TotalEquity: 10000,
			Available:   8000,
			MarginUsed:  2000,
			Unrealized:  150,
		},
		positions: []exchange.Position{
			{Instrument: "BTC/USDT:USDT", Side: "LONG", Quantity: 0.01, EntryPrice: 48000, Unrealized: 150},
			{Instrument: "XRP/USDT:USDT", Side: "SHORT", Quantity: 500, EntryPrice: 0.5},
		},
		orders: []exchange.Order{
			{ID: "sl-1", Instrument: "BTC/USDT:USDT", Side: exchange.OrderSideSell, Type: exchange.OrderTypeStopMarket, ReduceOnly: true, TriggerPrice: 47000},
			{ID: "tp-1", Instrument: "BTC/USDT:USDT", Side: exchange.OrderSideSell, Type: exchange.OrderTypeTakeProfitMarket, ReduceOnly: true, TriggerPrice: 52000},
			{ID: "other", Instrument: "BTC/USDT:USDT", Side: exchange.OrderSideBuy, Type: exchange.OrderTypeLimit},
		},
	}
	agg := NewAggregator(venue, nil, []string{"BTC/USDT:USDT", "ETH/USDT:USDT"}, nil)

	snapshot, err := agg.Aggregate(context.Background(), map[string]market.InstrumentSnapshot{
		"BTC/USDT:USDT": {Instrument: "BTC/USDT:USDT", Price: 50000, Status: market.FetchStatusOK, Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("Aggregate returned error: %v", err)
	}

	if snapshot.Account.Balance != 10000 || snapshot.Account.UnrealizedPnL != 150 {
		t.Errorf("unexpected account state: %+v", snapshot.Account)
	}

	// 标的按配置顺序排列，采集器未覆盖的标的补 failed 占位。
	if len(snapshot.Instruments) != 2 {
		t.Fatalf("expected 2 instruments, got %d", len(snapshot.Instruments))
	}
	if snapshot.Instruments[0].Instrument != "BTC/USDT:USDT" || !snapshot.Instruments[0].OK() {
		t.Errorf("unexpected first instrument: %+v", snapshot.Instruments[0])
	}
	if snapshot.Instruments[1].Instrument != "ETH/USDT:USDT" || snapshot.Instruments[1].OK() {
		t.Errorf("expected failed placeholder for missing instrument: %+v", snapshot.Instruments[1])
	}

	btc, ok := snapshot.Position("BTC/USDT:USDT")
	if !ok {
		t.Fatalf("expected BTC position present")
	}
	if !btc.InUniverse {
		t.Errorf("expected BTC position in universe")
	}
	if btc.StopLossOrderID != "sl-1" || btc.TakeProfitOrderID != "tp-1" {
		t.Errorf("protective orders not linked: %+v", btc)
	}

	xrp, ok := snapshot.Position("XRP/USDT:USDT")
	if !ok {
		t.Fatalf("expected out-of-universe position carried")
	}
	if xrp.InUniverse {
		t.Errorf("expected XRP flagged out of universe")
	}

	if len(snapshot.OpenOrders) != 3 {
		t.Errorf("expected all open orders mirrored, got %d", len(snapshot.OpenOrders))
	}
}

func TestAggregate_AnyAccountFailureAborts(t *testing.T) {
	cases := []struct {
		name  string
		venue *mockAccountSource
	}{
		{"balance failure", &mockAccountSource{balanceErr: errors.New("boom")}},
		{"positions failure", &mockAccountSource{positionsErr: errors.New("boom")}},
		{"orders failure", &mockAccountSource{ordersErr: errors.New("boom")}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			agg := NewAggregator(tc.venue, nil, []string{"BTC/USDT:USDT"}, nil)
			if _, err := agg.Aggregate(context.Background(), nil); err == nil {
				t.Fatalf("expected aggregation error")
			}
		})
	}
}

type mockAccountSource struct {
	balance      exchange.Balance
	balanceErr   error
	positions    []exchange.Position
	positionsErr error
	orders       []exchange.Order
	ordersErr    error
}

func (m *mockAccountSource) GetBalance(context.Context) (exchange.Balance, error) {
	return m.balance, m.balanceErr
}

func (m *mockAccountSource) GetPositions(context.Context) ([]exchange.Position, error) {
	return m.positions, m.positionsErr
}

func (m *mockAccountSource) GetOpenOrders(context.Context, string) ([]exchange.Order, error) {
	return m.orders, m.ordersErr
}
