// Package run orchestrates a single intraday trading run: load minute bars,
// walk the session minute by minute, ask the oracle, validate, commit, and
// finalize the run record.
//
// A run's minutes are strictly sequential: every decision depends on the
// portfolio and decision context produced by all prior minutes. Multiple
// runs execute concurrently as independent controllers; everything a run
// touches is keyed by its run id.
package run

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"intraday-autotrader/bars"
	"intraday-autotrader/cache"
	"intraday-autotrader/config"
	models "intraday-autotrader/database/models_pkg"
	"intraday-autotrader/marketdata"
	"intraday-autotrader/oracle"
	"intraday-autotrader/portfolio"
	"intraday-autotrader/risk"
	"intraday-autotrader/rules"
)

// Run lifecycle states
const (
	StateInitializing = "initializing"
	StateLoadingData  = "loading_data"
	StateTrading      = "trading"
	StateCompleted    = "completed"
	StateHalted       = "halted"
	StateFailed       = "failed"
)

// TickSource fetches raw ticks for a session window
type TickSource interface {
	FetchTicks(ctx context.Context, symbol string, date time.Time, window marketdata.SessionWindow) ([]marketdata.Tick, error)
}

// RunStore persists run metadata
type RunStore interface {
	CreateRun(record *models.RunRecord) error
	FinalizeRun(record *models.RunRecord) error
}

// RuleSource loads a tenant's active rules
type RuleSource interface {
	GetActiveRules(tenant string) ([]models.RuleRecord, error)
}

// Publisher broadcasts run lifecycle events to live subscribers
type Publisher interface {
	Broadcast(event string, payload interface{})
}

// Params identifies one run target. A run is one symbol, one calendar date,
// one session, for one tenant.
type Params struct {
	Tenant  string
	Symbol  string
	Date    time.Time
	Session marketdata.Session
}

// Controller drives one run through its state machine:
// initializing -> loading_data -> trading -> completed, with halted entered
// from trading via the drawdown breaker and failed reachable from the two
// pre-trading states on unrecoverable errors.
type Controller struct {
	cfg      *config.Config
	ticks    TickSource
	barCache *cache.BarCache
	decider  oracle.Decider
	trades   portfolio.TradeStore
	runs     RunStore
	ruleSrc  RuleSource
	events   Publisher
	loc      *time.Location

	runID  string
	state  string
	log    *logrus.Entry
	record *models.RunRecord
}

// NewController wires a controller for one run. trades, runs, ruleSrc and
// events may be nil (in-memory run with no persistence or subscribers).
func NewController(cfg *config.Config, ticks TickSource, barCache *cache.BarCache,
	decider oracle.Decider, trades portfolio.TradeStore, runs RunStore,
	ruleSrc RuleSource, events Publisher, loc *time.Location) *Controller {

	runID := uuid.NewString()
	return &Controller{
		cfg:      cfg,
		ticks:    ticks,
		barCache: barCache,
		decider:  decider,
		trades:   trades,
		runs:     runs,
		ruleSrc:  ruleSrc,
		events:   events,
		loc:      loc,
		runID:    runID,
		state:    StateInitializing,
		log:      logrus.WithFields(logrus.Fields{"component": "run", "run_id": runID}),
	}
}

// RunID returns the run's identifier
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the controller's current lifecycle state
func (c *Controller) State() string {
	return c.state
}

// Execute performs the whole run and returns the finalized record. The
// returned error is non-nil only for pre-trading failures; trading-phase
// problems (oracle errors, rejections, halt) are absorbed into the record.
func (c *Controller) Execute(ctx context.Context, params Params) (*models.RunRecord, error) {
	started := time.Now()
	c.record = &models.RunRecord{
		ID:        c.runID,
		Tenant:    params.Tenant,
		Symbol:    params.Symbol,
		Date:      params.Date,
		Session:   string(params.Session),
		Status:    models.StatusRunning,
		StartedAt: started,
	}

	// --- initializing ---
	if err := c.validate(params); err != nil {
		return c.fail(fmt.Errorf("configuration error: %w", err))
	}
	if c.runs != nil {
		if err := c.runs.CreateRun(c.record); err != nil {
			return c.fail(fmt.Errorf("configuration error: %w", err))
		}
	}
	c.publish("run_started", c.record)

	engine, err := c.loadRules(params.Tenant)
	if err != nil {
		return c.fail(fmt.Errorf("configuration error: %w", err))
	}

	window, err := marketdata.ResolveSessionWindow(params.Date, params.Session, c.loc,
		c.cfg.Trading.RegularOpen, c.cfg.Trading.RegularClose)
	if err != nil {
		return c.fail(fmt.Errorf("configuration error: %w", err))
	}

	// --- loading_data ---
	c.state = StateLoadingData
	if err := c.ensureBars(ctx, params, window); err != nil {
		return c.fail(err)
	}

	// --- trading ---
	c.state = StateTrading
	c.trade(ctx, params, window, engine)

	// --- finalize ---
	return c.record, nil
}

func (c *Controller) validate(params Params) error {
	if params.Symbol == "" {
		return fmt.Errorf("missing run symbol")
	}
	if params.Tenant == "" {
		return fmt.Errorf("missing run tenant")
	}
	if params.Date.IsZero() {
		return fmt.Errorf("missing run date")
	}
	switch params.Session {
	case marketdata.SessionRegular, marketdata.SessionPre, marketdata.SessionPost, "":
	default:
		return fmt.Errorf("unknown session %q", params.Session)
	}
	return nil
}

func (c *Controller) loadRules(tenant string) (*rules.Engine, error) {
	if c.ruleSrc == nil {
		return rules.NewEngine(nil), nil
	}
	records, err := c.ruleSrc.GetActiveRules(tenant)
	if err != nil {
		return nil, err
	}
	decoded, err := rules.DecodeAll(records)
	if err != nil {
		return nil, err
	}
	c.log.WithField("rules", len(decoded)).Info("tenant rules loaded")
	return rules.NewEngine(decoded), nil
}

// ensureBars guarantees the bar cache is complete enough to trade on. The
// health check samples evenly spaced session minutes; below the threshold
// the full dataset is reloaded through the fetcher and aggregator. The
// fetch/aggregate/cache phase completes entirely before any trading
// decision is made.
func (c *Controller) ensureBars(ctx context.Context, params Params, window marketdata.SessionWindow) error {
	sample := cache.SampleMinutes(window.Minutes(), c.cfg.Trading.CacheHealthSamples)
	ratio := c.barCache.HealthCheck(ctx, c.runID, params.Symbol, sample)
	if ratio >= c.cfg.Trading.CacheHealthThreshold {
		c.log.WithField("completeness", ratio).Info("bar cache healthy, skipping reload")
		return nil
	}

	c.log.WithField("completeness", ratio).Info("bar cache incomplete, loading session data")

	ticks, err := c.ticks.FetchTicks(ctx, params.Symbol, params.Date, window)
	if err != nil {
		return err
	}

	aggregated := bars.Aggregate(params.Symbol, ticks)
	if err := c.barCache.PutAll(ctx, c.runID, aggregated); err != nil {
		return err
	}

	c.log.WithFields(logrus.Fields{"ticks": len(ticks), "bars": len(aggregated)}).Info("session data loaded")
	return nil
}

// trade walks the session minutes sequentially. Cancellation is honored at
// each minute boundary only; it never interrupts a validate-then-commit
// step in flight.
func (c *Controller) trade(ctx context.Context, params Params, window marketdata.SessionWindow, engine *rules.Engine) {
	initialCash := decimal.NewFromFloat(c.cfg.Trading.InitialCash)
	state := portfolio.NewState(c.runID, initialCash)
	ledger := portfolio.NewLedger(state, c.trades, params.Date)
	gate := risk.NewGate(c.cfg.Trading, c.runID, initialCash)
	dctx := NewDecisionContext(c.cfg.Trading.DecisionWindowSize, c.cfg.Trading.RejectionWindowSize)

	peak := initialCash
	maxDrawdownPct := decimal.Zero
	cancelled := false

minutes:
	for _, minute := range window.Minutes() {
		select {
		case <-ctx.Done():
			cancelled = true
			break minutes
		default:
		}

		bar, ok, err := c.barCache.Get(ctx, c.runID, params.Symbol, minute)
		if err != nil {
			c.log.WithError(err).WithField("minute", minute.Format("15:04")).Warn("bar cache read failed, skipping minute")
			continue
		}
		if !ok {
			// no trades that minute; nothing to decide
			continue
		}

		state.MarkPrice(params.Symbol, bar.Close)

		proposal := c.decide(ctx, *bar, minute, state, dctx)
		if !proposal.IsTrade() {
			dctx.RecordDecision(oracle.DecisionOutcome{Minute: minute, Action: portfolio.ActionHold, Outcome: "hold"})
		} else {
			c.settle(ctx, proposal, minute, state, ledger, gate, engine, window, dctx)
		}

		// running-peak drawdown for the final metrics
		value := state.TotalValue()
		if value.GreaterThan(peak) {
			peak = value
		}
		if peak.IsPositive() {
			dd := peak.Sub(value).Div(peak).Mul(decimal.NewFromInt(100))
			if dd.GreaterThan(maxDrawdownPct) {
				maxDrawdownPct = dd
			}
		}
	}

	c.finalize(state, gate, initialCash, maxDrawdownPct, cancelled)
}

// decide asks the oracle under a hard timeout. A timeout or error is an
// implicit hold for the minute, logged and never fatal.
func (c *Controller) decide(ctx context.Context, bar bars.Bar, minute time.Time,
	state *portfolio.State, dctx *DecisionContext) portfolio.Proposal {

	oracleCtx, cancel := context.WithTimeout(ctx, c.cfg.OracleTimeout())
	defer cancel()

	proposal, err := c.decider.Decide(oracleCtx, oracle.DecisionRequest{
		Minute:     minute,
		Bar:        bar,
		Portfolio:  state.Snapshot(),
		Decisions:  dctx.Decisions(),
		Rejections: dctx.Rejections(),
	})
	if err != nil {
		c.log.WithError(err).WithField("minute", minute.Format("15:04")).Warn("oracle unavailable, holding")
		return portfolio.Proposal{Action: portfolio.ActionHold, Symbol: bar.Symbol, Price: bar.Close}
	}
	return proposal
}

// settle validates one proposal through the gate then the rules, and
// commits it on acceptance. Gates run first: a proposal that fails both
// layers is reported as a gate rejection.
func (c *Controller) settle(ctx context.Context, proposal portfolio.Proposal, minute time.Time,
	state *portfolio.State, ledger *portfolio.Ledger, gate *risk.Gate, engine *rules.Engine,
	window marketdata.SessionWindow, dctx *DecisionContext) {

	if pass, reason := gate.Validate(proposal, state); !pass {
		c.reject(proposal, minute, reason, risk.Source, dctx)
		c.record.GateRejections++
		if gate.Halted() && c.state == StateTrading {
			c.state = StateHalted
			c.record.FailureCause = gate.HaltReason()
			c.publish("run_halted", map[string]interface{}{"run_id": c.runID, "reason": gate.HaltReason()})
		}
		return
	}

	if pass, reason := engine.Validate(rules.Context{
		Proposal:      proposal,
		State:         state,
		Minute:        minute,
		Window:        window,
		SessionTrades: c.record.TradeCount,
	}); !pass {
		c.reject(proposal, minute, reason, rules.Source, dctx)
		c.record.RuleRejections++
		return
	}

	record, err := ledger.Execute(ctx, proposal, minute)
	if err != nil {
		// the ledger refused on an invariant the validators missed
		c.reject(proposal, minute, err.Error(), risk.Source, dctx)
		c.record.GateRejections++
		return
	}

	c.record.TradeCount++
	dctx.RecordDecision(oracle.DecisionOutcome{
		Minute:   minute,
		Action:   proposal.Action,
		Quantity: proposal.Quantity,
		Outcome:  "executed",
	})
	c.publish("trade_committed", record)
}

func (c *Controller) reject(proposal portfolio.Proposal, minute time.Time, reason, source string, dctx *DecisionContext) {
	c.log.WithFields(logrus.Fields{
		"minute": minute.Format("15:04"),
		"action": proposal.Action,
		"qty":    proposal.Quantity,
		"source": source,
		"reason": reason,
	}).Info("proposal rejected")

	dctx.RecordDecision(oracle.DecisionOutcome{
		Minute:   minute,
		Action:   proposal.Action,
		Quantity: proposal.Quantity,
		Outcome:  "rejected",
	})
	dctx.RecordRejection(oracle.RejectionNote{
		Minute:   minute,
		Action:   proposal.Action,
		Quantity: proposal.Quantity,
		Reason:   reason,
		Source:   source,
	})
	c.publish("proposal_rejected", map[string]interface{}{
		"run_id": c.runID,
		"minute": minute,
		"action": proposal.Action,
		"reason": reason,
		"source": source,
	})
}

// finalize writes the terminal status and aggregate metrics exactly once
func (c *Controller) finalize(state *portfolio.State, gate *risk.Gate,
	initialCash, maxDrawdownPct decimal.Decimal, cancelled bool) {

	finalValue := state.TotalValue()
	c.record.FinalValue, _ = finalValue.Float64()
	c.record.MaxDrawdownPct, _ = maxDrawdownPct.Round(4).Float64()
	if initialCash.IsPositive() {
		ret := finalValue.Sub(initialCash).Div(initialCash).Mul(decimal.NewFromInt(100))
		c.record.FinalReturnPct, _ = ret.Round(4).Float64()
	}

	switch {
	case gate.Halted():
		c.state = StateHalted
		c.record.Status = models.StatusHalted
		c.record.FailureCause = gate.HaltReason()
	case cancelled:
		// A cancelled run is a clean stop at a minute boundary, not a
		// failure; it completes with whatever state it has reached.
		c.state = StateCompleted
		c.record.Status = models.StatusCompleted
		c.record.Cancelled = true
	default:
		c.state = StateCompleted
		c.record.Status = models.StatusCompleted
	}

	if c.runs != nil {
		if err := c.runs.FinalizeRun(c.record); err != nil {
			c.log.WithError(err).Warn("run record finalization failed")
		}
	}

	c.log.WithFields(logrus.Fields{
		"status":          c.record.Status,
		"trades":          c.record.TradeCount,
		"gate_rejections": c.record.GateRejections,
		"rule_rejections": c.record.RuleRejections,
		"final_value":     c.record.FinalValue,
		"return_pct":      c.record.FinalReturnPct,
	}).Info("run finished")

	c.publish("run_finished", c.record)
}

// fail transitions to failed from a pre-trading state with a descriptive
// cause. No partial trading has occurred.
func (c *Controller) fail(cause error) (*models.RunRecord, error) {
	c.state = StateFailed
	c.record.Status = models.StatusFailed
	c.record.FailureCause = cause.Error()

	if c.runs != nil {
		if err := c.runs.FinalizeRun(c.record); err != nil {
			c.log.WithError(err).Warn("run record finalization failed")
		}
	}

	c.log.WithError(cause).Error("run failed")
	c.publish("run_finished", c.record)
	return c.record, cause
}

func (c *Controller) publish(event string, payload interface{}) {
	if c.events != nil {
		c.events.Broadcast(event, payload)
	}
}
