// Package risk implements the hard, non-configurable safety gate applied to
// every proposed trade. Tenants cannot disable or tune these checks; the
// configurable rule engine runs after this gate has passed.
package risk

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"intraday-autotrader/config"
	"intraday-autotrader/portfolio"
)

// Source tag recorded on rejections produced by this gate
const Source = "risk_gate"

// Gate evaluates the fixed safety checks in a fixed order, short-circuiting
// on the first failure. It tracks the run's starting value for the drawdown
// circuit breaker and latches into a halted state once breached.
type Gate struct {
	startingValue decimal.Decimal

	minCashReservePct   decimal.Decimal
	maxTradeNotionalPct decimal.Decimal
	maxDrawdownPct      decimal.Decimal
	dailyLossLimitPct   decimal.Decimal // zero disables the tenant breaker

	halted     bool
	haltReason string

	log *logrus.Entry
}

// NewGate creates a gate for one run. startingValue is the portfolio value
// at run start (the initial cash endowment for a fresh run).
func NewGate(cfg config.TradingConfig, runID string, startingValue decimal.Decimal) *Gate {
	return &Gate{
		startingValue:       startingValue,
		minCashReservePct:   decimal.NewFromFloat(cfg.MinCashReservePct),
		maxTradeNotionalPct: decimal.NewFromFloat(cfg.MaxTradeNotionalPct),
		maxDrawdownPct:      decimal.NewFromFloat(cfg.MaxDrawdownPct),
		dailyLossLimitPct:   decimal.NewFromFloat(cfg.DailyLossLimitPct),
		log:                 logrus.WithFields(logrus.Fields{"component": "risk_gate", "run_id": runID}),
	}
}

// Halted reports whether the drawdown circuit breaker has tripped
func (g *Gate) Halted() bool {
	return g.halted
}

// HaltReason returns the reason the breaker tripped, if it has
func (g *Gate) HaltReason() string {
	return g.haltReason
}

// Validate runs the fixed checks against a proposal. Returns (true, "") on
// acceptance or (false, reason) on the first failing check. It never
// mutates the portfolio state.
func (g *Gate) Validate(p portfolio.Proposal, state *portfolio.State) (bool, string) {
	notional := decimal.NewFromFloat(p.Price).Mul(decimal.NewFromInt(p.Quantity))
	total := totalValueAt(state, p.Symbol, p.Price)

	// 1. Resulting cash after a buy must stay >= 0
	if p.Action == portfolio.ActionBuy {
		if state.Cash.LessThan(notional) {
			return false, fmt.Sprintf("insufficient cash: need %s, have %s", notional, state.Cash)
		}
	}

	// 2. A sell must not exceed the currently held quantity
	if p.Action == portfolio.ActionSell {
		if held := state.Holding(p.Symbol); held < p.Quantity {
			return false, fmt.Sprintf("insufficient shares: selling %d, holding %d %s", p.Quantity, held, p.Symbol)
		}
	}

	// 3. Minimum cash reserve after a buy
	if p.Action == portfolio.ActionBuy && total.IsPositive() {
		reserve := total.Mul(g.minCashReservePct).Div(decimal.NewFromInt(100))
		if state.Cash.Sub(notional).LessThan(reserve) {
			return false, fmt.Sprintf("cash reserve below %s%% of portfolio value (%s required)",
				g.minCashReservePct, reserve.Round(2))
		}
	}

	// 4. Single-trade notional cap
	if total.IsPositive() {
		cap := total.Mul(g.maxTradeNotionalPct).Div(decimal.NewFromInt(100))
		if notional.GreaterThan(cap) {
			return false, fmt.Sprintf("trade notional %s exceeds %s%% of portfolio value",
				notional.Round(2), g.maxTradeNotionalPct)
		}
	}

	// 5. Cumulative drawdown circuit breaker. Once breached the run is
	// halted for its remainder: every further buy is rejected; sells are
	// still allowed so positions can be unwound.
	if g.halted {
		if p.Action == portfolio.ActionBuy {
			return false, g.haltReason
		}
	} else if dd := drawdownPct(g.startingValue, total); dd.GreaterThan(g.maxDrawdownPct) {
		g.halted = true
		g.haltReason = fmt.Sprintf("drawdown %s%% exceeds %s%% limit, run halted", dd.Round(2), g.maxDrawdownPct)
		g.log.WithField("drawdown_pct", dd.Round(2).String()).Warn("drawdown circuit breaker tripped")
		if p.Action == portfolio.ActionBuy {
			return false, g.haltReason
		}
	}

	// 6. Optional tenant daily-loss circuit breaker (buys only)
	if g.dailyLossLimitPct.IsPositive() && p.Action == portfolio.ActionBuy {
		if loss := drawdownPct(g.startingValue, total); loss.GreaterThanOrEqual(g.dailyLossLimitPct) {
			return false, fmt.Sprintf("daily loss %s%% breached tenant limit %s%%", loss.Round(2), g.dailyLossLimitPct)
		}
	}

	return true, ""
}

// totalValueAt values the portfolio with the proposal's price substituted
// for its symbol, so the gate sees the market the proposal is trading into.
func totalValueAt(state *portfolio.State, symbol string, price float64) decimal.Decimal {
	total := state.Cash
	for held, qty := range state.Holdings {
		if held == symbol {
			total = total.Add(decimal.NewFromFloat(price).Mul(decimal.NewFromInt(qty)))
			continue
		}
		// other symbols use their last observed price via the state
		total = total.Add(state.ValueOf(held))
	}
	return total
}

// drawdownPct is the percentage decline from the starting value; never
// negative.
func drawdownPct(start, current decimal.Decimal) decimal.Decimal {
	if !start.IsPositive() {
		return decimal.Zero
	}
	dd := start.Sub(current).Div(start).Mul(decimal.NewFromInt(100))
	if dd.IsNegative() {
		return decimal.Zero
	}
	return dd
}
