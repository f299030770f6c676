// Package rules implements tenant-configurable, priority-ordered trade
// validation. Unlike the hard risk gate, every check here is owned by tenant
// configuration: rules are stored per tenant, loaded once at run start, and
// evaluated in descending priority order with first-failure rejection.
package rules

import (
	"encoding/json"
	"fmt"

	models "intraday-autotrader/database/models_pkg"
)

// Source tag recorded on rejections produced by the rule engine
const Source = "rule"

// Category identifies the rule family and selects its parameter payload
type Category string

const (
	CategoryPositionSizing = Category(models.RuleCategoryPositionSizing)
	CategoryRisk           = Category(models.RuleCategoryRisk)
	CategoryTiming         = Category(models.RuleCategoryTiming)
	CategoryScreening      = Category(models.RuleCategoryScreening)
)

// Rule is one decoded tenant rule: a category tag plus its strongly-typed
// parameter payload. Loosely-typed parameter maps are deliberately not used;
// each category decodes into its own params struct exactly once, at load.
type Rule struct {
	ID              int64
	Category        Category
	Priority        int
	InstrumentClass string   // empty means all classes
	ExcludeSymbols  []string // symbols outside this rule's scope
	Params          Params
}

// Params is the tagged-variant payload carried by a rule
type Params interface {
	category() Category
}

// PositionSizingParams caps a single trade's notional as a fraction of
// total portfolio value.
type PositionSizingParams struct {
	MaxTradeNotionalPct float64 `json:"max_trade_notional_pct"`
}

func (PositionSizingParams) category() Category { return CategoryPositionSizing }

// RiskParams bounds portfolio-level exposure. Zero values disable the
// corresponding check.
type RiskParams struct {
	MaxOpenPositions    int     `json:"max_open_positions"`
	MinCashReservePct   float64 `json:"min_cash_reserve_pct"`
	MaxTradesPerSession int     `json:"max_trades_per_session"`
}

func (RiskParams) category() Category { return CategoryRisk }

// TimingParams defines trading blackouts relative to the session bounds
type TimingParams struct {
	BlackoutOpenMinutes  int `json:"blackout_open_minutes"`
	BlackoutCloseMinutes int `json:"blackout_close_minutes"`
}

func (TimingParams) category() Category { return CategoryTiming }

// ScreeningParams restricts tradable symbols. A non-empty allow list wins
// over the deny list.
type ScreeningParams struct {
	AllowSymbols []string `json:"allow_symbols"`
	DenySymbols  []string `json:"deny_symbols"`
}

func (ScreeningParams) category() Category { return CategoryScreening }

// envelope carries the scoping fields shared by every params payload
type envelope struct {
	InstrumentClass string   `json:"instrument_class"`
	ExcludeSymbols  []string `json:"exclude_symbols"`
}

// Decode converts a stored rule record into its typed variant
func Decode(record models.RuleRecord) (Rule, error) {
	rule := Rule{
		ID:       record.ID,
		Category: Category(record.Category),
		Priority: record.Priority,
	}

	var env envelope
	if err := json.Unmarshal([]byte(record.Params), &env); err != nil {
		return Rule{}, fmt.Errorf("Decode rule %d: %w", record.ID, err)
	}
	rule.InstrumentClass = env.InstrumentClass
	rule.ExcludeSymbols = env.ExcludeSymbols

	var params Params
	switch rule.Category {
	case CategoryPositionSizing:
		var p PositionSizingParams
		if err := json.Unmarshal([]byte(record.Params), &p); err != nil {
			return Rule{}, fmt.Errorf("Decode rule %d: %w", record.ID, err)
		}
		params = p
	case CategoryRisk:
		var p RiskParams
		if err := json.Unmarshal([]byte(record.Params), &p); err != nil {
			return Rule{}, fmt.Errorf("Decode rule %d: %w", record.ID, err)
		}
		params = p
	case CategoryTiming:
		var p TimingParams
		if err := json.Unmarshal([]byte(record.Params), &p); err != nil {
			return Rule{}, fmt.Errorf("Decode rule %d: %w", record.ID, err)
		}
		params = p
	case CategoryScreening:
		var p ScreeningParams
		if err := json.Unmarshal([]byte(record.Params), &p); err != nil {
			return Rule{}, fmt.Errorf("Decode rule %d: %w", record.ID, err)
		}
		params = p
	default:
		return Rule{}, fmt.Errorf("Decode rule %d: unknown category %q", record.ID, record.Category)
	}

	rule.Params = params
	return rule, nil
}

// DecodeAll converts a set of stored records, preserving order
func DecodeAll(records []models.RuleRecord) ([]Rule, error) {
	decoded := make([]Rule, 0, len(records))
	for _, record := range records {
		rule, err := Decode(record)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, rule)
	}
	return decoded, nil
}
