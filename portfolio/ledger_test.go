package portfolio

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "intraday-autotrader/database/models_pkg"
)

// recordingStore captures saved trade records and can be told to fail
type recordingStore struct {
	mu       sync.Mutex
	records  []*models.TradeRecord
	failNext int
}

func (s *recordingStore) SaveTradeRecord(record *models.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return fmt.Errorf("simulated storage failure")
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testDate() time.Time {
	return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
}

func TestLedgerBuySellRoundTrip(t *testing.T) {
	state := NewState("run-1", decimal.NewFromInt(10000))
	store := &recordingStore{}
	ledger := NewLedger(state, store, testDate())
	minute := time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC)

	// Buy 10 @ $100: cash 10000 -> 9000, holdings AAPL: 10.
	record, err := ledger.Execute(context.Background(), Proposal{
		Action: ActionBuy, Symbol: "AAPL", Quantity: 10, Price: 100,
		Reasoning: "opening position",
	}, minute)
	require.NoError(t, err)

	assert.True(t, state.Cash.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, int64(10), state.Holding("AAPL"))
	assert.Equal(t, int64(1), record.Sequence)
	assert.Equal(t, 9000.0, record.ResultingCash)
	assert.JSONEq(t, `{"AAPL":10}`, record.ResultingHoldings)
	require.NotNil(t, record.Minute)
	assert.True(t, record.Minute.Equal(minute))

	// Sell everything back at a higher price.
	record, err = ledger.Execute(context.Background(), Proposal{
		Action: ActionSell, Symbol: "AAPL", Quantity: 10, Price: 110,
	}, minute.Add(time.Minute))
	require.NoError(t, err)

	assert.True(t, state.Cash.Equal(decimal.NewFromInt(10100)))
	assert.Equal(t, int64(0), state.Holding("AAPL"))
	assert.NotContains(t, state.Holdings, "AAPL", "zero holdings should be removed")
	assert.Equal(t, int64(2), record.Sequence)
	assert.Equal(t, 2, store.count())
}

func TestLedgerRefusesInvariantBreaks(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*State)
		proposal Proposal
	}{
		{
			name:     "overspending buy",
			setup:    func(s *State) {},
			proposal: Proposal{Action: ActionBuy, Symbol: "AAPL", Quantity: 200, Price: 100},
		},
		{
			name: "overselling",
			setup: func(s *State) {
				s.Holdings["AAPL"] = 10
			},
			proposal: Proposal{Action: ActionSell, Symbol: "AAPL", Quantity: 15, Price: 100},
		},
		{
			name:     "hold is not executable",
			setup:    func(s *State) {},
			proposal: Proposal{Action: ActionHold, Symbol: "AAPL"},
		},
		{
			name:     "trade with zero quantity",
			setup:    func(s *State) {},
			proposal: Proposal{Action: ActionBuy, Symbol: "AAPL", Quantity: 0, Price: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := NewState("run-1", decimal.NewFromInt(10000))
			tt.setup(state)
			store := &recordingStore{}
			ledger := NewLedger(state, store, testDate())
			before := state.Snapshot()

			_, err := ledger.Execute(context.Background(), tt.proposal, time.Now())
			require.Error(t, err)

			// A refused proposal must leave no trace: no state mutation and
			// no persisted record.
			assert.True(t, state.Snapshot().Equal(before), "state mutated by refused proposal")
			assert.Equal(t, 0, store.count())
		})
	}
}

func TestLedgerPersistenceFailureKeepsStateAuthoritative(t *testing.T) {
	state := NewState("run-1", decimal.NewFromInt(10000))
	store := &recordingStore{failNext: 1}
	ledger := NewLedger(state, store, testDate())

	record, err := ledger.Execute(context.Background(), Proposal{
		Action: ActionBuy, Symbol: "AAPL", Quantity: 10, Price: 100,
	}, time.Date(2026, 3, 2, 9, 31, 0, 0, time.UTC))

	// The trade is committed in memory even though the first write failed.
	require.NoError(t, err)
	assert.True(t, state.Cash.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, int64(10), state.Holding("AAPL"))
	assert.Equal(t, int64(1), record.Sequence)

	// The async retry eventually lands the record.
	assert.Eventually(t, func() bool {
		return store.count() == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestLedgerWithoutStore(t *testing.T) {
	state := NewState("run-1", decimal.NewFromInt(10000))
	ledger := NewLedger(state, nil, testDate())

	_, err := ledger.Execute(context.Background(), Proposal{
		Action: ActionBuy, Symbol: "AAPL", Quantity: 5, Price: 50,
	}, time.Now())
	require.NoError(t, err)
	assert.True(t, state.Cash.Equal(decimal.NewFromInt(9750)))
}

func TestStateTotalValue(t *testing.T) {
	state := NewState("run-1", decimal.NewFromInt(5000))
	state.Holdings["AAPL"] = 10
	state.Holdings["MSFT"] = 4

	// Unpriced holdings contribute nothing.
	assert.True(t, state.TotalValue().Equal(decimal.NewFromInt(5000)))

	state.MarkPrice("AAPL", 100)
	state.MarkPrice("MSFT", 250)
	assert.True(t, state.TotalValue().Equal(decimal.NewFromInt(7000)))
	assert.True(t, state.ValueOf("AAPL").Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 2, state.OpenPositions())
}

func TestSnapshotIsIndependent(t *testing.T) {
	state := NewState("run-1", decimal.NewFromInt(1000))
	state.Holdings["AAPL"] = 5

	snap := state.Snapshot()
	snap.Holdings["AAPL"] = 999

	assert.Equal(t, int64(5), state.Holding("AAPL"))
}
