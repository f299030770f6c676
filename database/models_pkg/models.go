package models

import "time"

// Run statuses. A run is created as StatusRunning and finalized exactly once.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusHalted    = "halted"
)

// TradeRecord is one committed trade with a full portfolio snapshot.
// Records are created only on acceptance, persisted immediately, and never
// updated afterwards; together they form the append-only audit log of a run.
//
// Key Fields:
//   - RunID: owning run (indexed; all queries are per run)
//   - Minute: wall-clock minute of the bar that produced the trade; nullable
//     for non-intraday runs
//   - Sequence: per-run monotonic sequence number; (RunID, Sequence) is
//     unique so a retried write of the same trade cannot insert twice
//   - ResultingCash / ResultingHoldings: portfolio snapshot after the trade
//   - Reasoning: oracle free text, truncated for storage
type TradeRecord struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID             string     `gorm:"size:36;index;not null;uniqueIndex:idx_trade_run_seq,priority:1" json:"run_id"`
	Date              time.Time  `gorm:"not null" json:"date"`
	Minute            *time.Time `gorm:"index" json:"minute,omitempty"`
	Sequence          int64      `gorm:"not null;uniqueIndex:idx_trade_run_seq,priority:2" json:"sequence"`
	Action            string     `gorm:"size:10;not null" json:"action"` // BUY, SELL
	Symbol            string     `gorm:"size:10;index;not null" json:"symbol"`
	Quantity          int64      `gorm:"not null" json:"quantity"`
	Price             float64    `gorm:"type:decimal(15,4);not null" json:"price"`
	ResultingCash     float64    `gorm:"type:decimal(20,4);not null" json:"resulting_cash"`
	ResultingHoldings string     `gorm:"type:jsonb" json:"resulting_holdings"` // symbol -> shares
	Reasoning         string     `gorm:"size:512" json:"reasoning"`
	Source            string     `gorm:"size:16;not null;default:oracle" json:"source"`
	CreatedAt         time.Time  `json:"created_at"`
}

// TableName specifies the table name for TradeRecord
func (TradeRecord) TableName() string {
	return "trade_records"
}

// RunRecord is the durable metadata of one intraday run. Created at run
// start, mutated only by the run controller, finalized exactly once.
type RunRecord struct {
	ID             string     `gorm:"size:36;primaryKey" json:"id"`
	Tenant         string     `gorm:"size:64;index;not null" json:"tenant"`
	Symbol         string     `gorm:"size:10;index;not null" json:"symbol"`
	Date           time.Time  `gorm:"not null" json:"date"`
	Session        string     `gorm:"size:10;not null" json:"session"`
	Status         string     `gorm:"size:16;index;not null" json:"status"`
	FailureCause   string     `gorm:"size:512" json:"failure_cause,omitempty"` // set only on failed and halted runs
	Cancelled      bool       `gorm:"not null;default:false" json:"cancelled"` // run was cancelled before session end
	TradeCount     int        `json:"trade_count"`
	GateRejections int        `json:"gate_rejections"`
	RuleRejections int        `json:"rule_rejections"`
	FinalValue     float64    `gorm:"type:decimal(20,4)" json:"final_value"`
	FinalReturnPct float64    `gorm:"type:decimal(10,4)" json:"final_return_pct"`
	MaxDrawdownPct float64    `gorm:"type:decimal(10,4)" json:"max_drawdown_pct"`
	StartedAt      time.Time  `gorm:"not null" json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// TableName specifies the table name for RunRecord
func (RunRecord) TableName() string {
	return "run_records"
}

// Rule categories accepted in RuleRecord.Category
const (
	RuleCategoryPositionSizing = "position_sizing"
	RuleCategoryRisk           = "risk"
	RuleCategoryTiming         = "timing"
	RuleCategoryScreening      = "screening"
)

// RuleRecord is a tenant-configurable validation rule. Rules are loaded once
// at run start, filtered to active ones, and are read-only for the run's
// duration. Params is a category-specific JSON payload decoded into the
// typed rule variants in the rules package.
type RuleRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Tenant    string    `gorm:"size:64;index;not null" json:"tenant"`
	Category  string    `gorm:"size:20;not null" json:"category"` // position_sizing, risk, timing, screening
	Priority  int       `gorm:"not null" json:"priority"`
	Params    string    `gorm:"type:jsonb;not null" json:"params"`
	Active    bool      `gorm:"index;not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for RuleRecord
func (RuleRecord) TableName() string {
	return "tenant_rules"
}
