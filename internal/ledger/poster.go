package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// Poster builds and atomically commits the balanced entry groups of §4.4.
type Poster struct {
	store ports.CanonicalStore
}

func NewPoster(store ports.CanonicalStore) *Poster {
	return &Poster{store: store}
}

// Post builds the entry group for txn's event type and commits it along
// with the POSTED transition in one atomic store call. Unsupported event
// types are fatal per ledger_service.py's post_matched_transaction (a raw
// ValueError, not retried): reconerr.ErrUnsupportedEventType.
func (p *Poster) Post(ctx context.Context, txn domain.Transaction, match domain.Match) ([]domain.LedgerEntry, error) {
	var (
		entries []domain.LedgerEntry
		err     error
	)

	switch txn.EventType {
	case domain.EventDeposit:
		entries = postDeposit(txn, match)
	case domain.EventWithdrawal:
		entries = postWithdrawal(txn, match)
	case domain.EventRefund:
		entries = postRefund(txn, match)
	case domain.EventChargeback:
		entries = postChargeback(txn, match)
	case domain.EventFee:
		entries = postFee(txn, match)
	default:
		return nil, fmt.Errorf("%w: %s", reconerr.ErrUnsupportedEventType, txn.EventType)
	}

	if err = assertBalanced(entries); err != nil {
		return nil, err
	}

	if err := p.store.PostLedgerEntries(ctx, txn.TenantID, txn.ID, match.ID, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// assertBalanced guards against an empty posting group. Each entry
// carries one amount on both its debit and credit side, so a group is
// balanced by construction; the store's trigger additionally rejects a
// group whose entries use more than one currency (§4.4).
func assertBalanced(entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries to post", reconerr.ErrLedgerUnbalanced)
	}
	return nil
}

func newEntry(txn domain.Transaction, match domain.Match, debit, credit string, amount domain.Amount, desc string) domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:             uuid.New(),
		TenantID:       txn.TenantID,
		EntityID:       txn.EntityID,
		TxnDate:        txn.TxnDate,
		DebitAccount:   debit,
		CreditAccount:  credit,
		Amount:         amount,
		RefTransaction: txn.ID,
		RefMatch:       match.ID,
		Description:    desc,
		PostedAt:       time.Now().UTC(),
	}
}

// postDeposit: Debit Cash (net), Credit Accounts Receivable (net); plus
// Debit PSP Fees / Credit Cash for the fee leg when fee > 0.
func postDeposit(txn domain.Transaction, match domain.Match) []domain.LedgerEntry {
	cash := CashAccount(txn.ConnectionID)
	fee := int64(0)
	if txn.PSPFee != nil {
		fee = *txn.PSPFee
	}
	net := txn.Amount.Value - fee
	if txn.NetAmount != nil {
		net = *txn.NetAmount
	}
	currency := txn.Amount.Currency

	entries := []domain.LedgerEntry{
		newEntry(txn, match, cash, AcctAccountsReceivable, domain.Amount{Value: net, Currency: currency},
			"Deposit: "+txn.PSPTxnID),
	}
	if fee > 0 {
		entries = append(entries, newEntry(txn, match, AcctPSPFees, cash, domain.Amount{Value: fee, Currency: currency},
			"PSP Fee: "+txn.PSPTxnID))
	}
	return entries
}

// postWithdrawal: Debit Player Balances, Credit Cash.
func postWithdrawal(txn domain.Transaction, match domain.Match) []domain.LedgerEntry {
	cash := CashAccount(txn.ConnectionID)
	return []domain.LedgerEntry{
		newEntry(txn, match, AcctPlayerBalances, cash, txn.Amount, "Withdrawal: "+txn.PSPTxnID),
	}
}

// postRefund: Debit Accounts Receivable, Credit Cash.
func postRefund(txn domain.Transaction, match domain.Match) []domain.LedgerEntry {
	cash := CashAccount(txn.ConnectionID)
	return []domain.LedgerEntry{
		newEntry(txn, match, AcctAccountsReceivable, cash, txn.Amount, "Refund: "+txn.PSPTxnID),
	}
}

// postChargeback: Debit Chargeback Losses / Credit Cash, plus a
// self-reversal leg (Debit AR / Credit AR, same amount) that reverses the
// AR balance the original deposit left outstanding. This is intentional
// in the original system (ledger_service.py's _post_chargeback), not an
// artifact of distillation — see DESIGN.md.
func postChargeback(txn domain.Transaction, match domain.Match) []domain.LedgerEntry {
	cash := CashAccount(txn.ConnectionID)
	return []domain.LedgerEntry{
		newEntry(txn, match, AcctChargebackLosses, cash, txn.Amount, "Chargeback: "+txn.PSPTxnID),
		newEntry(txn, match, AcctAccountsReceivable, AcctAccountsReceivable, txn.Amount, "Chargeback Reversal: "+txn.PSPTxnID),
	}
}

// postFee: Debit PSP Fees, Credit Cash.
func postFee(txn domain.Transaction, match domain.Match) []domain.LedgerEntry {
	cash := CashAccount(txn.ConnectionID)
	return []domain.LedgerEntry{
		newEntry(txn, match, AcctPSPFees, cash, txn.Amount, "Fee: "+txn.PSPTxnID),
	}
}
