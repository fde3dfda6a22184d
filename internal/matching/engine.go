package matching

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// MatchResult is the outcome of one Match call (spec.md §4.3).
type MatchResult struct {
	Status     domain.MatchStatus
	Confidence int
	Match      *domain.Match
	Exception  *domain.Exception
}

// Engine runs the four-level match ladder against a CanonicalStore and
// emits MatchedRecord onto the bus for a MATCHED match (confidence 95 or
// above); a PARTIAL_MATCH at confidence 95 is not emitted.
type Engine struct {
	store ports.CanonicalStore
	bus   ports.EventBus
	alert ports.AlertPort
	log   zerolog.Logger
}

func New(store ports.CanonicalStore, bus ports.EventBus, alert ports.AlertPort) *Engine {
	return &Engine{store: store, bus: bus, alert: alert, log: log.With().Str("stage", "matching").Logger()}
}

// Match implements spec.md §4.3's ladder, in order, first hit wins.
func (e *Engine) Match(ctx context.Context, tenantID, transactionID uuid.UUID) (MatchResult, error) {
	txn, err := e.store.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return MatchResult{}, err
	}

	if txn.ReconStatus == domain.ReconMatched {
		m, found, err := e.store.GetMatchByTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return MatchResult{}, err
		}
		if found {
			return MatchResult{Status: domain.MatchStatusMatched, Confidence: m.Confidence, Match: &m}, nil
		}
		// Matched with no row on record is a data anomaly, not grounds to
		// re-run the ladder and possibly double-match; report as matched
		// with no usable match handle.
		return MatchResult{Status: domain.MatchStatusMatched, Confidence: 100}, nil
	}

	if txn.ReconStatus == domain.ReconUnmatched {
		exc, found, err := e.store.GetExceptionByTransaction(ctx, tenantID, transactionID)
		if err != nil {
			return MatchResult{}, err
		}
		if found {
			return MatchResult{Status: domain.MatchStatus(domain.ReconUnmatched), Confidence: 0, Exception: &exc}, nil
		}
	}

	if res, ok, err := e.tryLevel1(ctx, txn); err != nil {
		return MatchResult{}, err
	} else if ok {
		return e.finish(ctx, txn, res)
	}

	if res, ok, err := e.tryLevel2(ctx, txn); err != nil {
		return MatchResult{}, err
	} else if ok {
		return e.finish(ctx, txn, res)
	}

	if res, ok, err := e.tryLevel3(ctx, txn); err != nil {
		return MatchResult{}, err
	} else if ok {
		return e.finish(ctx, txn, res)
	}

	if res, ok, err := e.tryLevel4(ctx, txn); err != nil {
		return MatchResult{}, err
	} else if ok {
		return e.finish(ctx, txn, res)
	}

	exc := domain.Exception{
		ID:            uuid.New(),
		TenantID:      tenantID,
		TransactionID: &transactionID,
		Type:          domain.ExceptionUnmatched,
		Amount:        txn.Amount,
		Priority:      PriorityForAmount(abs64(txn.Amount.Value)),
		Status:        domain.ExceptionOpen,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.InsertException(ctx, exc); err != nil {
		return MatchResult{}, err
	}
	if _, err := e.store.MarkUnmatched(ctx, tenantID, transactionID); err != nil {
		return MatchResult{}, err
	}
	return MatchResult{Status: domain.MatchStatus(domain.ReconUnmatched), Confidence: 0, Exception: &exc}, nil
}

// levelOutcome is the intermediate result of a single ladder rung before
// the match row is written — kept in one shape so finish() is shared.
type levelOutcome struct {
	level         domain.MatchLevel
	settlementID  uuid.UUID
	confidence    int
	matchStatus   domain.MatchStatus
	amountDiff    *int64
	amountDiffPct *float64
	exceptionType domain.ExceptionType
	makeException bool
}

func (e *Engine) tryLevel1(ctx context.Context, txn domain.Transaction) (levelOutcome, bool, error) {
	if txn.PSPSettlementID == "" {
		return levelOutcome{}, false, nil
	}
	cands, err := e.store.SettlementsStrongID(ctx, txn.TenantID, txn.ConnectionID, txn.PSPSettlementID, txn.TxnDate)
	if err != nil {
		return levelOutcome{}, false, err
	}
	if len(cands) == 0 {
		return levelOutcome{}, false, nil
	}
	best := pickBest(cands, txn.Amount.Value, txn.TxnDate)
	return levelOutcome{
		level:        domain.MatchLevelStrongID,
		settlementID: best.ID,
		confidence:   100,
		matchStatus:  domain.MatchStatusMatched,
	}, true, nil
}

func (e *Engine) tryLevel2(ctx context.Context, txn domain.Transaction) (levelOutcome, bool, error) {
	if txn.PSPPaymentID == "" {
		return levelOutcome{}, false, nil
	}
	tolAbs := int64(float64(txn.Amount.Value) * tolerancePct / 100.0)
	cands, err := e.store.SettlementsByPSPReference(ctx, txn.TenantID, txn.ConnectionID, txn.PSPPaymentID, txn.Amount.Currency, txn.Amount.Value, tolAbs, txn.TxnDate)
	if err != nil {
		return levelOutcome{}, false, err
	}
	if len(cands) == 0 {
		return levelOutcome{}, false, nil
	}
	best := pickBest(cands, txn.Amount.Value, txn.TxnDate)
	diff := txn.Amount.Value - best.Amount.Value
	diffPct := amountDiffPct(txn.Amount.Value, best.Amount.Value)

	if diffPct < tolerancePct {
		return levelOutcome{
			level:         domain.MatchLevelPSPReference,
			settlementID:  best.ID,
			confidence:    95,
			matchStatus:   domain.MatchStatusMatched,
			amountDiff:    &diff,
			amountDiffPct: &diffPct,
		}, true, nil
	}
	return levelOutcome{
		level:         domain.MatchLevelPSPReference,
		settlementID:  best.ID,
		confidence:    95,
		matchStatus:   domain.MatchStatusPartialMatch,
		amountDiff:    &diff,
		amountDiffPct: &diffPct,
		exceptionType: domain.ExceptionAmountMismatch,
		makeException: true,
	}, true, nil
}

func (e *Engine) tryLevel3(ctx context.Context, txn domain.Transaction) (levelOutcome, bool, error) {
	tolAbs := int64(float64(txn.Amount.Value) * fuzzyTolerancePct / 100.0)
	cands, err := e.store.SettlementsFuzzy(ctx, txn.TenantID, txn.ConnectionID, txn.Amount.Currency, txn.CustomerID, txn.Amount.Value, tolAbs, txn.TxnDate)
	if err != nil {
		return levelOutcome{}, false, err
	}
	if len(cands) == 0 {
		return levelOutcome{}, false, nil
	}
	best := pickBest(cands, txn.Amount.Value, txn.TxnDate)
	dateDiff := absDays(txn.TxnDate, best.SettlementDate)
	if dateDiff > 1 {
		// the query already bounds this, but stay defensive since
		// pickBest has no notion of the gate.
		return levelOutcome{}, false, nil
	}
	diff := txn.Amount.Value - best.Amount.Value
	diffPct := amountDiffPct(txn.Amount.Value, best.Amount.Value)
	confidence := fuzzyConfidence(dateDiff)

	return levelOutcome{
		level:         domain.MatchLevelFuzzy,
		settlementID:  best.ID,
		confidence:    confidence,
		matchStatus:   domain.MatchStatusPartialMatch,
		amountDiff:    &diff,
		amountDiffPct: &diffPct,
		exceptionType: domain.ExceptionPartialMatch,
		makeException: true,
	}, true, nil
}

func (e *Engine) tryLevel4(ctx context.Context, txn domain.Transaction) (levelOutcome, bool, error) {
	cands, err := e.store.SettlementsExact(ctx, txn.TenantID, txn.ConnectionID, txn.Amount.Value, txn.Amount.Currency, txn.TxnDate)
	if err != nil {
		return levelOutcome{}, false, err
	}
	if len(cands) == 0 {
		return levelOutcome{}, false, nil
	}
	best := pickBest(cands, txn.Amount.Value, txn.TxnDate)
	return levelOutcome{
		level:         domain.MatchLevelAmountDate,
		settlementID:  best.ID,
		confidence:    60,
		matchStatus:   domain.MatchStatusPendingReview,
		exceptionType: domain.ExceptionPartialMatch,
		makeException: true,
	}, true, nil
}

// finish writes the Match row (and Exception, if any), transitions
// recon_status, and emits MatchedRecord when the match is MATCHED with
// confidence >= 95 (§2).
func (e *Engine) finish(ctx context.Context, txn domain.Transaction, o levelOutcome) (MatchResult, error) {
	settlementID := o.settlementID
	m := domain.Match{
		ID:            uuid.New(),
		TenantID:      txn.TenantID,
		TransactionID: txn.ID,
		SettlementID:  &settlementID,
		Level:         o.level,
		Confidence:    o.confidence,
		Method:        domain.MatchMethodAuto,
		AmountDiff:    o.amountDiff,
		AmountDiffPct: o.amountDiffPct,
		Status:        o.matchStatus,
		MatchedAt:     time.Now().UTC(),
	}

	created, err := e.store.InsertMatch(ctx, m)
	if err != nil {
		return MatchResult{}, err
	}
	if !created {
		// Settlement exclusivity lost the race, or this transaction
		// already has this exact match row (idempotent replay, §8): load
		// what is actually on record and report it rather than double
		// writing an exception.
		existing, found, err := e.store.GetMatchByTransaction(ctx, txn.TenantID, txn.ID)
		if err != nil {
			return MatchResult{}, err
		}
		if found {
			return MatchResult{Status: existing.Status, Confidence: existing.Confidence, Match: &existing}, nil
		}
	}

	result := MatchResult{Status: o.matchStatus, Confidence: o.confidence, Match: &m}

	if o.makeException {
		exc := domain.Exception{
			ID:            uuid.New(),
			TenantID:      txn.TenantID,
			TransactionID: &txn.ID,
			SettlementID:  &settlementID,
			Type:          o.exceptionType,
			Amount:        txn.Amount,
			Priority:      PriorityForAmount(abs64(txn.Amount.Value)),
			Status:        domain.ExceptionOpen,
			CreatedAt:     time.Now().UTC(),
		}
		if err := e.store.InsertException(ctx, exc); err != nil {
			return MatchResult{}, err
		}
		result.Exception = &exc
		if exc.Priority == domain.PriorityP1 || exc.Priority == domain.PriorityP2 {
			e.alert.Alert(ctx, reconerr.Priority(exc.Priority), string(exc.Type), map[string]any{
				"transaction_id": txn.ID.String(),
				"tenant_id":      txn.TenantID.String(),
			})
		}
	}

	if o.matchStatus == domain.MatchStatusMatched && o.confidence >= 95 && e.bus != nil {
		if err := e.bus.Publish(ctx, ports.TopicMatched, ports.Message{
			PartitionKey: txn.TenantID.String(),
			Payload:      []byte(txn.ID.String() + "|" + m.ID.String()),
		}); err != nil {
			e.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("publish matched record failed")
		}
	}

	return result, nil
}
