package alert

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/psprecon/reconciler/internal/reconerr"
)

func TestAlertIncrementsCounterByPriorityAndKind(t *testing.T) {
	p := New()
	ctx := context.Background()

	before := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P1), "ledger_unbalanced"))
	p.Alert(ctx, reconerr.P1, "ledger_unbalanced", map[string]any{"transaction_id": "txn-1"})
	after := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P1), "ledger_unbalanced"))

	if after != before+1 {
		t.Fatalf("expected counter to increment by 1, went from %v to %v", before, after)
	}
}

func TestAlertCountersAreIndependentByKind(t *testing.T) {
	p := New()
	ctx := context.Background()

	beforeA := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P3), "parse_error"))
	beforeB := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P3), "config_missing"))

	p.Alert(ctx, reconerr.P3, "parse_error", nil)

	afterA := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P3), "parse_error"))
	afterB := testutil.ToFloat64(alertsTotal.WithLabelValues(string(reconerr.P3), "config_missing"))

	if afterA != beforeA+1 {
		t.Fatalf("expected parse_error counter to increment, went from %v to %v", beforeA, afterA)
	}
	if afterB != beforeB {
		t.Fatalf("expected config_missing counter to stay at %v, got %v", beforeB, afterB)
	}
}
