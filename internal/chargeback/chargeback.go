// Package chargeback creates the Chargeback aggregate when a CHARGEBACK
// event type is normalized and hands off to the out-of-scope
// ports.ChargebackWorkflow (manual-adjustment/dispute UX, §1 non-goal).
// Grounded on original_source/backend/shared/models/chargeback.py.
package chargeback

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// Handler reacts to normalized CHARGEBACK transactions; the pipeline does
// not hand it CHARGEBACK_REVERSAL transactions.
type Handler struct {
	workflow ports.ChargebackWorkflow
}

func New(workflow ports.ChargebackWorkflow) *Handler {
	return &Handler{workflow: workflow}
}

// OnTransaction creates a Chargeback aggregate for txn (only meaningful
// when txn.EventType is EventChargeback) and dispatches it to the
// workflow port. disputeWindow is the connection's configured dispute
// deadline offset.
func (h *Handler) OnTransaction(ctx context.Context, txn domain.Transaction, disputeWindow time.Duration) (domain.Chargeback, error) {
	cb := domain.Chargeback{
		ID:              uuid.New(),
		TenantID:        txn.TenantID,
		TransactionID:   txn.ID,
		PSPChargebackID: txn.PSPTxnID,
		Amount:          txn.Amount,
		ChargebackDate:  txn.TxnDate,
		Status:          domain.ChargebackInitiated,
	}
	if disputeWindow > 0 {
		deadline := txn.TxnDate.Add(disputeWindow)
		cb.DisputeDeadline = &deadline
	}

	if h.workflow != nil {
		if err := h.workflow.OnChargebackCreated(ctx, cb); err != nil {
			return domain.Chargeback{}, err
		}
	}
	return cb, nil
}
