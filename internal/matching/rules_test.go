package matching

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
)

func TestPriorityForAmount(t *testing.T) {
	cases := []struct {
		amount int64
		want   domain.ExceptionPriority
	}{
		{999, domain.PriorityP4},
		{10_000, domain.PriorityP3},
		{99_999, domain.PriorityP3},
		{100_000, domain.PriorityP2},
		{999_999, domain.PriorityP2},
		{1_000_000, domain.PriorityP1},
		{5_000_000, domain.PriorityP1},
	}
	for _, c := range cases {
		if got := PriorityForAmount(c.amount); got != c.want {
			t.Errorf("PriorityForAmount(%d) = %s, want %s", c.amount, got, c.want)
		}
	}
}

func TestAmountDiffPctZeroTxnAmount(t *testing.T) {
	if got := amountDiffPct(0, 500); got != 0 {
		t.Fatalf("amountDiffPct(0, 500) = %v, want 0", got)
	}
}

func TestAmountDiffPct(t *testing.T) {
	got := amountDiffPct(10_000, 9_900)
	if got != 1.0 {
		t.Fatalf("amountDiffPct(10000, 9900) = %v, want 1.0", got)
	}
}

func TestFuzzyConfidenceClamp(t *testing.T) {
	if got := fuzzyConfidence(0); got != 90 {
		t.Fatalf("fuzzyConfidence(0) = %d, want 90", got)
	}
	if got := fuzzyConfidence(1); got != 80 {
		t.Fatalf("fuzzyConfidence(1) = %d, want 80", got)
	}
	// §4.3's +-1 day gate means callers never pass drift >= 2, but the
	// clamp itself should still floor at 70 if they did.
	if got := fuzzyConfidence(3); got != 70 {
		t.Fatalf("fuzzyConfidence(3) = %d, want 70 (floor)", got)
	}
}

func TestPickBestTieBreakOrder(t *testing.T) {
	txnDate := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	mkSettlement := func(amount int64, dayOffset int, batch string, line int64) domain.Settlement {
		return domain.Settlement{
			ID:              uuid.New(),
			SettlementDate:  txnDate.AddDate(0, 0, dayOffset),
			BatchID:         batch,
			LineNo:          line,
			Amount:          domain.Amount{Value: amount, Currency: "USD"},
			PSPSettlementID: "s-" + batch,
		}
	}

	t.Run("closest amount wins", func(t *testing.T) {
		settlements := []domain.Settlement{
			mkSettlement(990, 0, "b", 1),
			mkSettlement(1000, 0, "a", 1),
		}
		best := pickBest(settlements, 1000, txnDate)
		if best.Amount.Value != 1000 {
			t.Fatalf("expected exact amount match to win, got %d", best.Amount.Value)
		}
	})

	t.Run("amount tie broken by closest date", func(t *testing.T) {
		settlements := []domain.Settlement{
			mkSettlement(1000, 1, "b", 1),
			mkSettlement(1000, 0, "a", 1),
		}
		best := pickBest(settlements, 1000, txnDate)
		if best.BatchID != "a" {
			t.Fatalf("expected same-day settlement to win, got batch %s", best.BatchID)
		}
	})

	t.Run("amount and date tie broken by batch_id then line_no", func(t *testing.T) {
		settlements := []domain.Settlement{
			mkSettlement(1000, 0, "b", 1),
			mkSettlement(1000, 0, "a", 2),
			mkSettlement(1000, 0, "a", 1),
		}
		best := pickBest(settlements, 1000, txnDate)
		if best.BatchID != "a" || best.LineNo != 1 {
			t.Fatalf("expected lexicographically smallest (batch_id, line_no), got (%s, %d)", best.BatchID, best.LineNo)
		}
	})
}
