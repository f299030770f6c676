package run

import (
	"intraday-autotrader/oracle"
)

// DecisionContext is the rolling in-memory window of recent decisions and
// rejections for one run. It is what lets the oracle adapt: repeated
// rejections show up in the next request instead of being silently dropped.
// Rejections live only here for the remainder of the run; they are never
// persisted.
type DecisionContext struct {
	decisionLimit  int
	rejectionLimit int
	decisions      []oracle.DecisionOutcome
	rejections     []oracle.RejectionNote
}

// NewDecisionContext creates empty windows with the given bounds
func NewDecisionContext(decisionLimit, rejectionLimit int) *DecisionContext {
	if decisionLimit <= 0 {
		decisionLimit = 20
	}
	if rejectionLimit <= 0 {
		rejectionLimit = 10
	}
	return &DecisionContext{
		decisionLimit:  decisionLimit,
		rejectionLimit: rejectionLimit,
	}
}

// RecordDecision appends one minute's outcome, evicting the oldest entry
// once the window is full.
func (c *DecisionContext) RecordDecision(outcome oracle.DecisionOutcome) {
	c.decisions = append(c.decisions, outcome)
	if len(c.decisions) > c.decisionLimit {
		c.decisions = c.decisions[len(c.decisions)-c.decisionLimit:]
	}
}

// RecordRejection appends a rejection with its reason and source
func (c *DecisionContext) RecordRejection(note oracle.RejectionNote) {
	c.rejections = append(c.rejections, note)
	if len(c.rejections) > c.rejectionLimit {
		c.rejections = c.rejections[len(c.rejections)-c.rejectionLimit:]
	}
}

// Decisions returns the current window, oldest first
func (c *DecisionContext) Decisions() []oracle.DecisionOutcome {
	out := make([]oracle.DecisionOutcome, len(c.decisions))
	copy(out, c.decisions)
	return out
}

// Rejections returns the current window, oldest first
func (c *DecisionContext) Rejections() []oracle.RejectionNote {
	out := make([]oracle.RejectionNote, len(c.rejections))
	copy(out, c.rejections)
	return out
}
