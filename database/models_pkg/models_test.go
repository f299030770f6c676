package models

import (
	"reflect"
	"strings"
	"testing"
)

// The trade audit log deduplicates retried writes by relying on the database
// rejecting a second row with the same (RunID, Sequence). That only works if
// the schema actually declares the composite unique index.
func TestTradeRecordDeclaresRunSequenceUniqueIndex(t *testing.T) {
	typ := reflect.TypeOf(TradeRecord{})
	for _, name := range []string{"RunID", "Sequence"} {
		field, ok := typ.FieldByName(name)
		if !ok {
			t.Fatalf("TradeRecord has no field %s", name)
		}
		if !strings.Contains(field.Tag.Get("gorm"), "uniqueIndex:idx_trade_run_seq") {
			t.Errorf("field %s must be part of the idx_trade_run_seq unique index, tag: %q",
				name, field.Tag.Get("gorm"))
		}
	}
}
