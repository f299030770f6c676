package portfolio

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// State is the authoritative cash/holdings aggregate of one run. Every
// mutation is the result of exactly one accepted trade, applied by the
// ledger. Invariants: cash is never negative, no holding is ever negative.
//
// State is owned by a single run and accessed only from that run's
// sequential trading loop, so it carries no lock.
type State struct {
	RunID    string
	Cash     decimal.Decimal
	Holdings map[string]int64

	// last seen price per symbol, used for portfolio valuation
	lastPrices map[string]decimal.Decimal
}

// NewState creates the starting portfolio for a run
func NewState(runID string, initialCash decimal.Decimal) *State {
	return &State{
		RunID:      runID,
		Cash:       initialCash,
		Holdings:   make(map[string]int64),
		lastPrices: make(map[string]decimal.Decimal),
	}
}

// Holding returns the share count held for a symbol
func (s *State) Holding(symbol string) int64 {
	return s.Holdings[symbol]
}

// MarkPrice records the most recent observed price for a symbol
func (s *State) MarkPrice(symbol string, price float64) {
	s.lastPrices[symbol] = decimal.NewFromFloat(price)
}

// TotalValue is cash plus every holding valued at its last observed price.
// Holdings with no observed price contribute nothing.
func (s *State) TotalValue() decimal.Decimal {
	total := s.Cash
	for symbol, qty := range s.Holdings {
		if price, ok := s.lastPrices[symbol]; ok {
			total = total.Add(price.Mul(decimal.NewFromInt(qty)))
		}
	}
	return total
}

// ValueOf returns the value of a symbol's holding at its last observed
// price; zero when no price has been observed yet.
func (s *State) ValueOf(symbol string) decimal.Decimal {
	price, ok := s.lastPrices[symbol]
	if !ok {
		return decimal.Zero
	}
	return price.Mul(decimal.NewFromInt(s.Holdings[symbol]))
}

// OpenPositions counts symbols with a non-zero holding
func (s *State) OpenPositions() int {
	count := 0
	for _, qty := range s.Holdings {
		if qty > 0 {
			count++
		}
	}
	return count
}

// Snapshot returns an independent copy for record keeping and validation
// checks; mutating the snapshot never touches the live state.
func (s *State) Snapshot() Snapshot {
	holdings := make(map[string]int64, len(s.Holdings))
	for symbol, qty := range s.Holdings {
		holdings[symbol] = qty
	}
	return Snapshot{
		RunID:    s.RunID,
		Cash:     s.Cash,
		Holdings: holdings,
	}
}

// HoldingsJSON serializes current holdings for the trade record snapshot
func (s *State) HoldingsJSON() string {
	data, err := json.Marshal(s.Holdings)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Snapshot is an immutable copy of the portfolio at one point in time
type Snapshot struct {
	RunID    string           `json:"run_id"`
	Cash     decimal.Decimal  `json:"cash"`
	Holdings map[string]int64 `json:"holdings"`
}

// Equal reports whether two snapshots are identical
func (a Snapshot) Equal(b Snapshot) bool {
	if a.RunID != b.RunID || !a.Cash.Equal(b.Cash) || len(a.Holdings) != len(b.Holdings) {
		return false
	}
	for symbol, qty := range a.Holdings {
		if b.Holdings[symbol] != qty {
			return false
		}
	}
	return true
}
