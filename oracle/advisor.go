package oracle

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"intraday-autotrader/bars"
	"intraday-autotrader/portfolio"
)

// DecisionRequest is the structured context handed to the oracle for one
// minute: the bar, the portfolio, and bounded trailing windows of prior
// decisions and rejections so the oracle can adapt instead of repeating an
// invalid proposal.
type DecisionRequest struct {
	Minute     time.Time
	Bar        bars.Bar
	Portfolio  portfolio.Snapshot
	Decisions  []DecisionOutcome
	Rejections []RejectionNote
}

// DecisionOutcome summarizes one prior minute's decision and what became of
// it.
type DecisionOutcome struct {
	Minute   time.Time        `json:"minute"`
	Action   portfolio.Action `json:"action"`
	Quantity int64            `json:"quantity"`
	Outcome  string           `json:"outcome"` // executed, rejected, hold
}

// RejectionNote records why a prior proposal was refused and by which layer
type RejectionNote struct {
	Minute   time.Time        `json:"minute"`
	Action   portfolio.Action `json:"action"`
	Quantity int64            `json:"quantity"`
	Reason   string           `json:"reason"`
	Source   string           `json:"source"` // risk_gate, rule
}

// Decider produces a trade proposal for one minute of market data
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (portfolio.Proposal, error)
}

// Advisor adapts the free-text oracle reply into a structured proposal.
// This is the only place in the pipeline that parses oracle text; any
// ambiguity whatsoever collapses to a hold.
type Advisor struct {
	client *Client
	log    *logrus.Entry
}

// NewAdvisor creates an advisor over an oracle client
func NewAdvisor(client *Client) *Advisor {
	return &Advisor{
		client: client,
		log:    logrus.WithField("component", "oracle"),
	}
}

// Decide asks the oracle for this minute's action. The caller wraps ctx in
// a hard timeout; an error here is recovered upstream as an implicit hold.
func (a *Advisor) Decide(ctx context.Context, req DecisionRequest) (portfolio.Proposal, error) {
	reply, err := a.client.Ask(ctx, buildPrompt(req))
	if err != nil {
		return portfolio.Proposal{}, fmt.Errorf("oracle call: %w", err)
	}

	proposal := ParseReply(reply, req.Bar.Symbol, req.Bar.Close)
	a.log.WithFields(logrus.Fields{
		"minute":   req.Minute.Format("15:04"),
		"action":   proposal.Action,
		"quantity": proposal.Quantity,
	}).Debug("oracle decision")

	return proposal, nil
}

// buildPrompt renders the structured decision request as text
func buildPrompt(req DecisionRequest) string {
	var b strings.Builder

	fmt.Fprintf(&b, "MINUTE: %s\n", req.Minute.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "BAR %s: open=%.4f high=%.4f low=%.4f close=%.4f volume=%d\n",
		req.Bar.Symbol, req.Bar.Open, req.Bar.High, req.Bar.Low, req.Bar.Close, req.Bar.Volume)

	fmt.Fprintf(&b, "PORTFOLIO: cash=%s", req.Portfolio.Cash.Round(2))
	if len(req.Portfolio.Holdings) == 0 {
		b.WriteString(" holdings=none\n")
	} else {
		b.WriteString(" holdings=")
		first := true
		for symbol, qty := range req.Portfolio.Holdings {
			if !first {
				b.WriteString(",")
			}
			fmt.Fprintf(&b, "%s:%d", symbol, qty)
			first = false
		}
		b.WriteString("\n")
	}

	if len(req.Decisions) > 0 {
		b.WriteString("RECENT DECISIONS (oldest first):\n")
		for _, d := range req.Decisions {
			fmt.Fprintf(&b, "- %s %s %d -> %s\n", d.Minute.Format("15:04"), d.Action, d.Quantity, d.Outcome)
		}
	}

	if len(req.Rejections) > 0 {
		b.WriteString("RECENT REJECTIONS (adapt your sizing, do not repeat these):\n")
		for _, r := range req.Rejections {
			fmt.Fprintf(&b, "- %s %s %d rejected by %s: %s\n", r.Minute.Format("15:04"), r.Action, r.Quantity, r.Source, r.Reason)
		}
	}

	b.WriteString("What is your decision for this minute?")
	return b.String()
}

// ParseReply extracts a proposal from the oracle's reply. The reply must
// carry a FINAL_DECISION line; a missing or malformed decision, or a BUY or
// SELL without a positive integer QUANTITY, yields a hold. No keyword
// guessing happens here.
func ParseReply(reply, symbol string, price float64) portfolio.Proposal {
	hold := portfolio.Proposal{Action: portfolio.ActionHold, Symbol: symbol, Price: price}

	var action portfolio.Action
	var quantity int64
	var reason string
	quantitySeen := false

	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "FINAL_DECISION:"):
			switch strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(line, "FINAL_DECISION:"))) {
			case "BUY":
				action = portfolio.ActionBuy
			case "SELL":
				action = portfolio.ActionSell
			case "HOLD", "WAIT":
				action = portfolio.ActionHold
			default:
				return hold
			}
		case strings.HasPrefix(line, "QUANTITY:"):
			raw := strings.TrimSpace(strings.TrimPrefix(line, "QUANTITY:"))
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				return hold
			}
			quantity = parsed
			quantitySeen = true
		case strings.HasPrefix(line, "REASON:"):
			reason = strings.TrimSpace(strings.TrimPrefix(line, "REASON:"))
		}
	}

	if action == "" || action == portfolio.ActionHold {
		hold.Reasoning = reason
		return hold
	}
	if !quantitySeen || quantity <= 0 {
		return hold
	}

	return portfolio.Proposal{
		Action:    action,
		Symbol:    symbol,
		Quantity:  quantity,
		Price:     price,
		Reasoning: reason,
	}
}
