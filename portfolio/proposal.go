package portfolio

// Action is the trade direction proposed by the decision oracle
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Proposal is a candidate trade emitted by the decision oracle for one
// minute. It is transient: validated immediately, then either committed to
// the ledger or recorded as a rejection, never stored as-is.
type Proposal struct {
	Action    Action  `json:"action"`
	Symbol    string  `json:"symbol"`
	Quantity  int64   `json:"quantity"`
	Price     float64 `json:"price"`
	Reasoning string  `json:"reasoning"`
}

// IsTrade reports whether the proposal actually asks for an execution
func (p Proposal) IsTrade() bool {
	return (p.Action == ActionBuy || p.Action == ActionSell) && p.Quantity > 0
}
