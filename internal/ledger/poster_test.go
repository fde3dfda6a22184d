package ledger

import (
	"testing"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
)

func baseTxn(eventType domain.EventType) domain.Transaction {
	return domain.Transaction{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		EntityID:     uuid.New(),
		ConnectionID: "stripe_conn_1",
		EventType:    eventType,
		Amount:       domain.Amount{Value: 100_000, Currency: "USD"},
		PSPTxnID:     "psp-1",
	}
}

func baseMatch() domain.Match {
	return domain.Match{ID: uuid.New()}
}

func TestPostDepositWithFeeSplitsIntoTwoEntries(t *testing.T) {
	txn := baseTxn(domain.EventDeposit)
	fee := int64(2_900)
	net := int64(97_100)
	txn.PSPFee = &fee
	txn.NetAmount = &net
	match := baseMatch()

	entries := postDeposit(txn, match)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (net leg + fee leg), got %d", len(entries))
	}
	if entries[0].DebitAccount != AcctCashStripeUSD || entries[0].CreditAccount != AcctAccountsReceivable {
		t.Fatalf("unexpected net leg accounts: debit=%s credit=%s", entries[0].DebitAccount, entries[0].CreditAccount)
	}
	if entries[0].Amount.Value != net {
		t.Fatalf("expected net leg amount %d, got %d", net, entries[0].Amount.Value)
	}
	if entries[1].DebitAccount != AcctPSPFees || entries[1].CreditAccount != AcctCashStripeUSD {
		t.Fatalf("unexpected fee leg accounts: debit=%s credit=%s", entries[1].DebitAccount, entries[1].CreditAccount)
	}
	if entries[1].Amount.Value != fee {
		t.Fatalf("expected fee leg amount %d, got %d", fee, entries[1].Amount.Value)
	}
}

func TestPostDepositNoFeeIsOneEntry(t *testing.T) {
	txn := baseTxn(domain.EventDeposit)
	match := baseMatch()

	entries := postDeposit(txn, match)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry when there is no PSP fee, got %d", len(entries))
	}
	if entries[0].Amount.Value != txn.Amount.Value {
		t.Fatalf("expected full amount posted, got %d", entries[0].Amount.Value)
	}
}

func TestPostChargebackReversalMarkerIsSelfReferencing(t *testing.T) {
	txn := baseTxn(domain.EventChargeback)
	match := baseMatch()

	entries := postChargeback(txn, match)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (loss leg + reversal marker), got %d", len(entries))
	}
	marker := entries[1]
	if marker.DebitAccount != AcctAccountsReceivable || marker.CreditAccount != AcctAccountsReceivable {
		t.Fatalf("expected the reversal marker to debit and credit the same account, got debit=%s credit=%s",
			marker.DebitAccount, marker.CreditAccount)
	}
}

func TestCashAccountResolvesByPSPPrefix(t *testing.T) {
	cases := []struct {
		connectionID string
		want         string
	}{
		{"stripe_conn_7f3a", AcctCashStripeUSD},
		{"adyen_conn_1", AcctCashAdyenEUR},
		{"paypal_conn_1", AcctCashPaypalGBP},
		{"unknown_psp_conn", AcctCashStripeUSD},
		{"noUnderscore", AcctCashStripeUSD},
	}
	for _, c := range cases {
		if got := CashAccount(c.connectionID); got != c.want {
			t.Errorf("CashAccount(%q) = %s, want %s", c.connectionID, got, c.want)
		}
	}
}

func TestPostHelpersCoverSupportedEventTypes(t *testing.T) {
	// Post itself (not the pure post* helpers) enforces the supported
	// event-type set; unit-tested here only to document which event
	// types the pure post* helpers in poster.go cover.
	for _, et := range []domain.EventType{domain.EventDeposit, domain.EventWithdrawal, domain.EventRefund, domain.EventChargeback, domain.EventFee} {
		txn := baseTxn(et)
		match := baseMatch()
		var entries []domain.LedgerEntry
		switch et {
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
		}
		if len(entries) == 0 {
			t.Errorf("expected %s to produce at least one entry", et)
		}
		for _, e := range entries {
			if e.Amount.Value <= 0 {
				t.Errorf("%s produced a non-positive entry amount: %d", et, e.Amount.Value)
			}
		}
	}
}
