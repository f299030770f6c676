package portfolio

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	models "intraday-autotrader/database/models_pkg"
)

// TradeStore persists committed trade records. The trades repository is the
// production implementation; tests use an in-memory recorder.
type TradeStore interface {
	SaveTradeRecord(record *models.TradeRecord) error
}

// Ledger applies validated trades to the portfolio state and persists an
// audit record per trade. It must only ever be called after both the risk
// gate and the rule engine accepted the proposal: validate-then-commit is
// the core correctness invariant of the pipeline, and the ledger is its
// sole writer.
type Ledger struct {
	state *State
	store TradeStore
	date  time.Time
	seq   int64
	log   *logrus.Entry
}

// NewLedger creates a ledger over the given state. store may be nil, in
// which case trades are applied in memory only (tests, dry runs).
func NewLedger(state *State, store TradeStore, date time.Time) *Ledger {
	return &Ledger{
		state: state,
		store: store,
		date:  date,
		log:   logrus.WithFields(logrus.Fields{"component": "ledger", "run_id": state.RunID}),
	}
}

// State exposes the live portfolio state
func (l *Ledger) State() *State {
	return l.state
}

// Execute applies an accepted proposal atomically to the portfolio state,
// then persists a TradeRecord with a full state snapshot. Cash and holdings
// change in a single logical step; a proposal that would break an invariant
// is refused without any mutation.
func (l *Ledger) Execute(ctx context.Context, p Proposal, minute time.Time) (*models.TradeRecord, error) {
	if !p.IsTrade() {
		return nil, fmt.Errorf("Execute: proposal is not an executable trade (action=%s qty=%d)", p.Action, p.Quantity)
	}

	notional := decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(p.Quantity))

	// Last line of defense: the validators run first, but the ledger still
	// refuses any mutation that would break the cash/holdings invariants.
	switch p.Action {
	case ActionBuy:
		if l.state.Cash.LessThan(notional) {
			return nil, fmt.Errorf("Execute: insufficient cash %s for notional %s", l.state.Cash, notional)
		}
	case ActionSell:
		if l.state.Holding(p.Symbol) < p.Quantity {
			return nil, fmt.Errorf("Execute: insufficient holdings %d for sell of %d %s",
				l.state.Holding(p.Symbol), p.Quantity, p.Symbol)
		}
	}

	switch p.Action {
	case ActionBuy:
		l.state.Cash = l.state.Cash.Sub(notional)
		l.state.Holdings[p.Symbol] += p.Quantity
	case ActionSell:
		l.state.Cash = l.state.Cash.Add(notional)
		l.state.Holdings[p.Symbol] -= p.Quantity
		if l.state.Holdings[p.Symbol] == 0 {
			delete(l.state.Holdings, p.Symbol)
		}
	}
	l.state.MarkPrice(p.Symbol, p.Price)
	l.seq++

	m := minute
	cash, _ := l.state.Cash.Float64()
	record := &models.TradeRecord{
		RunID:             l.state.RunID,
		Date:              l.date,
		Minute:            &m,
		Sequence:          l.seq,
		Action:            string(p.Action),
		Symbol:            p.Symbol,
		Quantity:          p.Quantity,
		Price:             p.Price,
		ResultingCash:     cash,
		ResultingHoldings: l.state.HoldingsJSON(),
		Reasoning:         truncate(p.Reasoning, 512),
		Source:            "oracle",
		CreatedAt:         time.Now(),
	}

	l.persist(record)

	l.log.WithFields(logrus.Fields{
		"seq":      record.Sequence,
		"action":   record.Action,
		"symbol":   record.Symbol,
		"quantity": record.Quantity,
		"price":    record.Price,
		"cash":     record.ResultingCash,
	}).Info("trade committed")

	return record, nil
}

// persist writes the record, retrying asynchronously on failure. In-memory
// state is authoritative for the remainder of the run, so a persistence
// failure is a durability warning, not a rollback.
func (l *Ledger) persist(record *models.TradeRecord) {
	if l.store == nil {
		return
	}

	if err := l.store.SaveTradeRecord(record); err == nil {
		return
	} else {
		l.log.WithError(err).WithField("seq", record.Sequence).
			Warn("trade record persistence failed, retrying asynchronously")
	}

	go func() {
		for attempt := 1; attempt <= 3; attempt++ {
			time.Sleep(time.Duration(attempt) * time.Second)
			if err := l.store.SaveTradeRecord(record); err == nil {
				l.log.WithField("seq", record.Sequence).Info("trade record persisted after retry")
				return
			}
		}
		l.log.WithField("seq", record.Sequence).Error("trade record lost after retry budget")
	}()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
