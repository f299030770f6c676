package rules

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"intraday-autotrader/marketdata"
	"intraday-autotrader/portfolio"
)

// Context is the per-minute evaluation input for the rule engine, passed
// explicitly so rules never reach for run-global state.
type Context struct {
	Proposal      portfolio.Proposal
	State         *portfolio.State
	Minute        time.Time
	Window        marketdata.SessionWindow
	SessionTrades int // trades committed so far in this run
}

// Engine evaluates a tenant's active rules against each proposal. Rules are
// fixed for the run: evaluated in descending priority, first failure rejects
// and no further rules are consulted. Rules scoped to another instrument
// class, or excluding the proposal's symbol, are skipped, not evaluated as
// failing.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over already-active rules; they are sorted by
// descending priority here so callers don't need to care about load order.
func NewEngine(active []Rule) *Engine {
	sorted := make([]Rule, len(active))
	copy(sorted, active)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Engine{rules: sorted}
}

// Validate runs the proposal through every applicable rule. Returns
// (true, "") on acceptance or (false, reason) from the first failing rule.
func (e *Engine) Validate(rctx Context) (bool, string) {
	for _, rule := range e.rules {
		// Equities are the only instrument class this pipeline trades;
		// rules scoped elsewhere don't apply.
		if rule.InstrumentClass != "" && rule.InstrumentClass != "equity" {
			continue
		}
		if excludesSymbol(rule, rctx.Proposal.Symbol) {
			continue
		}

		if pass, reason := evaluate(rule, rctx); !pass {
			return false, reason
		}
	}
	return true, ""
}

// excludesSymbol reports whether the symbol is outside the rule's scope
func excludesSymbol(rule Rule, symbol string) bool {
	for _, excluded := range rule.ExcludeSymbols {
		if excluded == symbol {
			return true
		}
	}
	return false
}

// evaluate dispatches one rule to its category check
func evaluate(rule Rule, rctx Context) (bool, string) {
	switch params := rule.Params.(type) {
	case PositionSizingParams:
		return evaluatePositionSizing(params, rctx)
	case RiskParams:
		return evaluateRisk(params, rctx)
	case TimingParams:
		return evaluateTiming(params, rctx)
	case ScreeningParams:
		return evaluateScreening(params, rctx)
	default:
		// Unknown payloads were rejected at decode; treat as inapplicable.
		return true, ""
	}
}

func evaluatePositionSizing(p PositionSizingParams, rctx Context) (bool, string) {
	if p.MaxTradeNotionalPct <= 0 || !rctx.Proposal.IsTrade() {
		return true, ""
	}

	notional := decimal.NewFromFloat(rctx.Proposal.Price).Mul(decimal.NewFromInt(rctx.Proposal.Quantity))
	total := rctx.State.TotalValue()
	if !total.IsPositive() {
		return true, ""
	}

	cap := total.Mul(decimal.NewFromFloat(p.MaxTradeNotionalPct)).Div(decimal.NewFromInt(100))
	if notional.GreaterThan(cap) {
		return false, fmt.Sprintf("position sizing: notional %s exceeds %.1f%% of portfolio value",
			notional.Round(2), p.MaxTradeNotionalPct)
	}
	return true, ""
}

func evaluateRisk(p RiskParams, rctx Context) (bool, string) {
	if p.MaxOpenPositions > 0 && rctx.Proposal.Action == portfolio.ActionBuy {
		open := rctx.State.OpenPositions()
		if open >= p.MaxOpenPositions && rctx.State.Holding(rctx.Proposal.Symbol) == 0 {
			return false, fmt.Sprintf("risk: %d open positions at configured cap %d", open, p.MaxOpenPositions)
		}
	}

	if p.MinCashReservePct > 0 && rctx.Proposal.Action == portfolio.ActionBuy {
		notional := decimal.NewFromFloat(rctx.Proposal.Price).Mul(decimal.NewFromInt(rctx.Proposal.Quantity))
		total := rctx.State.TotalValue()
		if total.IsPositive() {
			reserve := total.Mul(decimal.NewFromFloat(p.MinCashReservePct)).Div(decimal.NewFromInt(100))
			if rctx.State.Cash.Sub(notional).LessThan(reserve) {
				return false, fmt.Sprintf("risk: cash reserve would fall below configured %.1f%%", p.MinCashReservePct)
			}
		}
	}

	if p.MaxTradesPerSession > 0 && rctx.SessionTrades >= p.MaxTradesPerSession {
		return false, fmt.Sprintf("risk: session trade cap %d reached", p.MaxTradesPerSession)
	}

	return true, ""
}

func evaluateTiming(p TimingParams, rctx Context) (bool, string) {
	if p.BlackoutOpenMinutes > 0 {
		blackoutEnd := rctx.Window.Start.Add(time.Duration(p.BlackoutOpenMinutes) * time.Minute)
		if rctx.Minute.Before(blackoutEnd) {
			return false, fmt.Sprintf("timing: inside first %d minutes after open", p.BlackoutOpenMinutes)
		}
	}

	if p.BlackoutCloseMinutes > 0 {
		blackoutStart := rctx.Window.End.Add(-time.Duration(p.BlackoutCloseMinutes) * time.Minute)
		if !rctx.Minute.Before(blackoutStart) {
			return false, fmt.Sprintf("timing: inside last %d minutes before close", p.BlackoutCloseMinutes)
		}
	}

	return true, ""
}

func evaluateScreening(p ScreeningParams, rctx Context) (bool, string) {
	symbol := rctx.Proposal.Symbol

	if len(p.AllowSymbols) > 0 {
		for _, allowed := range p.AllowSymbols {
			if allowed == symbol {
				return true, ""
			}
		}
		return false, fmt.Sprintf("screening: %s not on allow list", symbol)
	}

	for _, denied := range p.DenySymbols {
		if denied == symbol {
			return false, fmt.Sprintf("screening: %s is on deny list", symbol)
		}
	}

	return true, ""
}
