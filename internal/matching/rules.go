// Package matching implements the four-level hierarchical match ladder
// of spec.md §4.3: pure decision logic (this file) plus the engine that
// drives it against a ports.CanonicalStore (engine.go).
package matching

import (
	"math"
	"sort"
	"time"

	"github.com/psprecon/reconciler/internal/domain"
)

// tolerancePct is used both to narrow the Level-2 candidate set and to
// decide MATCHED vs PARTIAL_MATCH once a candidate is found. The
// original Python service (matching_engine.py) computes
// `tolerance = int(amount * 0.01)` once and feeds it to both the SQL
// filter and the later `< 1.0` check, resolving spec.md §9's open
// question: the two 1% figures are the same bound, not independently
// tunable. See DESIGN.md.
const tolerancePct = 1.0

// fuzzyTolerancePct is Level 3's 0.1% amount tolerance (§4.3 row 3).
const fuzzyTolerancePct = 0.1

// PriorityForAmount derives an Exception priority purely from absolute
// transaction amount in the smallest currency unit (§4.3).
func PriorityForAmount(amountAbs int64) domain.ExceptionPriority {
	switch {
	case amountAbs >= 1_000_000:
		return domain.PriorityP1
	case amountAbs >= 100_000:
		return domain.PriorityP2
	case amountAbs >= 10_000:
		return domain.PriorityP3
	default:
		return domain.PriorityP4
	}
}

// amountDiffPct returns |txnAmount - settlementAmount| / txnAmount * 100,
// 0 when txnAmount is 0 (matching the original's guard).
func amountDiffPct(txnAmount, settlementAmount int64) float64 {
	if txnAmount == 0 {
		return 0
	}
	diff := txnAmount - settlementAmount
	return math.Abs(float64(diff) / float64(txnAmount) * 100.0)
}

// withinPct reports whether diffPct is within (<=) the given tolerance.
func withinPct(diffPct, tolerancePct float64) bool {
	return diffPct <= tolerancePct
}

// fuzzyConfidence implements the Level-3 confidence curve: 90 minus 10
// per day of date drift, clamped to a 70 floor. Per spec.md §8, a drift
// of 3+ days would compute below 70 but the |Δdate| <= 1 day gate
// rejects the candidate before this function is ever called with such a
// drift, so the clamp is unreachable in practice and exists only to
// document the formula faithfully.
func fuzzyConfidence(dateDiffDays int) int {
	c := 90 - 10*dateDiffDays
	if c < 70 {
		c = 70
	}
	return c
}

// candidate bundles a settlement with the derived comparison fields
// needed for tie-breaking.
type candidate struct {
	settlement domain.Settlement
	amountDiff int64
	dateDiffDays int
}

// pickBest applies the spec.md §4.3 deterministic tie-break: smallest
// |Δamount|, then smallest |Δdate|, then smallest (batch_id, line_no)
// lexicographically. settlements must already satisfy the level's
// predicate; pickBest only orders and selects.
func pickBest(settlements []domain.Settlement, txnAmount int64, txnDate time.Time) domain.Settlement {
	cands := make([]candidate, len(settlements))
	for i, s := range settlements {
		cands[i] = candidate{
			settlement:   s,
			amountDiff:   abs64(txnAmount - s.Amount.Value),
			dateDiffDays: absDays(txnDate, s.SettlementDate),
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.amountDiff != b.amountDiff {
			return a.amountDiff < b.amountDiff
		}
		if a.dateDiffDays != b.dateDiffDays {
			return a.dateDiffDays < b.dateDiffDays
		}
		if a.settlement.BatchID != b.settlement.BatchID {
			return a.settlement.BatchID < b.settlement.BatchID
		}
		return a.settlement.LineNo < b.settlement.LineNo
	})
	return cands[0].settlement
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func absDays(a, b time.Time) int {
	d := int(a.Truncate(24*time.Hour).Sub(b.Truncate(24*time.Hour)).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
