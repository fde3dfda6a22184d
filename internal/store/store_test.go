package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// testPool connects to RECONCILER_DB_DSN and applies migrations, skipping
// the test entirely when no DSN is configured (CI wires this against a
// disposable Postgres; local unit runs without it just skip).
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("RECONCILER_DB_DSN")
	if dsn == "" {
		t.Skip("RECONCILER_DB_DSN not set, skipping store integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

// newTenant returns a fresh tenant id. tenant_id/brand_id/entity_id are
// plain UUID columns with no FK to a tenant table (see migrations), so
// tests only need a unique value to scope rows by.
func newTenant(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	return uuid.New()
}

func TestInsertTransactionIdempotent(t *testing.T) {
	pool := testPool(t)
	s := New(pool)
	tenantID := newTenant(t, pool)
	ctx := context.Background()

	txn := domain.Transaction{
		ID:                   uuid.New(),
		TenantID:             tenantID,
		ConnectionID:         "conn-1",
		EventType:            domain.EventDeposit,
		EventTS:              time.Now().UTC(),
		TxnDate:              time.Now().UTC(),
		Amount:               domain.Amount{Value: 1000, Currency: "USD"},
		PSPTxnID:             "psp-txn-1",
		Status:               domain.StatusCompleted,
		ReconStatus:          domain.ReconPending,
		SourceIdempotencyKey: "idem-1",
	}

	stored, created, err := s.InsertTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first insert")
	}

	retry := txn
	retry.ID = uuid.New()
	again, created, err := s.InsertTransaction(ctx, retry)
	if err != nil {
		t.Fatalf("retry insert: %v", err)
	}
	if created {
		t.Fatal("expected created=false on conflicting (connection, psp_txn_id, event_type)")
	}
	if again.ID != stored.ID {
		t.Fatalf("expected retry to resolve to the original row, got %s want %s", again.ID, stored.ID)
	}
}

func TestInsertMatchSettlementExclusivity(t *testing.T) {
	pool := testPool(t)
	s := New(pool)
	tenantID := newTenant(t, pool)
	ctx := context.Background()

	txnA := domain.Transaction{
		ID: uuid.New(), TenantID: tenantID, ConnectionID: "conn-1",
		EventType: domain.EventDeposit, EventTS: time.Now().UTC(), TxnDate: time.Now().UTC(),
		Amount: domain.Amount{Value: 500, Currency: "USD"}, PSPTxnID: "txn-a",
		Status: domain.StatusCompleted, ReconStatus: domain.ReconPending, SourceIdempotencyKey: "idem-a",
	}
	txnB := txnA
	txnB.ID = uuid.New()
	txnB.PSPTxnID = "txn-b"
	txnB.SourceIdempotencyKey = "idem-b"

	storedA, _, err := s.InsertTransaction(ctx, txnA)
	if err != nil {
		t.Fatalf("insert txnA: %v", err)
	}
	storedB, _, err := s.InsertTransaction(ctx, txnB)
	if err != nil {
		t.Fatalf("insert txnB: %v", err)
	}

	settlementID := uuid.New()
	if _, err := pool.Exec(ctx, `
		INSERT INTO psp_settlement(settlement_id, tenant_id, connection_id, settlement_date, batch_id, line_no, amount_value, amount_currency, psp_settlement_id, psp_txn_id_list)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		settlementID, tenantID, "conn-1", time.Now().UTC(), "batch-1", int64(1), int64(500), "USD", "psp-settle-1", []string{"txn-a"},
	); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}

	first := domain.Match{
		ID: uuid.New(), TenantID: tenantID, TransactionID: storedA.ID, SettlementID: &settlementID,
		Level: domain.MatchLevelStrongID, Confidence: 100, Method: domain.MatchMethodAuto,
		Status: domain.MatchStatusMatched, MatchedAt: time.Now().UTC(), MatchedBy: "engine",
	}
	created, err := s.InsertMatch(ctx, first)
	if err != nil {
		t.Fatalf("first match: %v", err)
	}
	if !created {
		t.Fatal("expected first match to be created")
	}

	second := domain.Match{
		ID: uuid.New(), TenantID: tenantID, TransactionID: storedB.ID, SettlementID: &settlementID,
		Level: domain.MatchLevelStrongID, Confidence: 100, Method: domain.MatchMethodAuto,
		Status: domain.MatchStatusMatched, MatchedAt: time.Now().UTC(), MatchedBy: "engine",
	}
	created, err = s.InsertMatch(ctx, second)
	if err == nil && created {
		t.Fatal("expected settlement exclusivity to reject a second MATCHED row for the same settlement")
	}
}

func TestPostLedgerEntriesRejectsUnbalanced(t *testing.T) {
	pool := testPool(t)
	s := New(pool)
	tenantID := newTenant(t, pool)
	ctx := context.Background()

	txn := domain.Transaction{
		ID: uuid.New(), TenantID: tenantID, ConnectionID: "conn-1",
		EventType: domain.EventDeposit, EventTS: time.Now().UTC(), TxnDate: time.Now().UTC(),
		Amount: domain.Amount{Value: 1000, Currency: "USD"}, PSPTxnID: "txn-ledger",
		Status: domain.StatusCompleted, ReconStatus: domain.ReconMatched, SourceIdempotencyKey: "idem-ledger",
	}
	stored, _, err := s.InsertTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("insert txn: %v", err)
	}

	matchID := uuid.New()
	entityID := stored.EntityID

	mixedCurrency := []domain.LedgerEntry{
		{
			ID: uuid.New(), TenantID: tenantID, EntityID: entityID, TxnDate: time.Now().UTC(),
			DebitAccount: "1000-cash", CreditAccount: "2000-customer-liability",
			Amount: domain.Amount{Value: 1000, Currency: "USD"},
			RefTransaction: stored.ID, RefMatch: matchID, PostedAt: time.Now().UTC(),
		},
		{
			ID: uuid.New(), TenantID: tenantID, EntityID: entityID, TxnDate: time.Now().UTC(),
			DebitAccount: "5000-fees", CreditAccount: "1000-cash",
			Amount: domain.Amount{Value: 29, Currency: "EUR"},
			RefTransaction: stored.ID, RefMatch: matchID, PostedAt: time.Now().UTC(),
		},
	}
	if err := s.PostLedgerEntries(ctx, tenantID, stored.ID, matchID, mixedCurrency); err == nil {
		t.Fatal("expected a mixed-currency posting group to be rejected")
	} else if err != reconerr.ErrLedgerUnbalanced {
		t.Fatalf("expected ErrLedgerUnbalanced, got %v", err)
	}

	good := []domain.LedgerEntry{
		{
			ID: uuid.New(), TenantID: tenantID, EntityID: entityID, TxnDate: time.Now().UTC(),
			DebitAccount: "1000-cash", CreditAccount: "2000-customer-liability",
			Amount: domain.Amount{Value: 1000, Currency: "USD"},
			RefTransaction: stored.ID, RefMatch: matchID, PostedAt: time.Now().UTC(),
		},
	}
	if err := s.PostLedgerEntries(ctx, tenantID, stored.ID, matchID, good); err != nil {
		t.Fatalf("expected balanced entry to post, got %v", err)
	}

	posted, err := s.GetTransaction(ctx, tenantID, stored.ID)
	if err != nil {
		t.Fatalf("get posted txn: %v", err)
	}
	if posted.ReconStatus != domain.ReconPosted {
		t.Fatalf("expected reconciliation_status=POSTED, got %s", posted.ReconStatus)
	}
}

func TestSettlementCandidateQueriesExcludeMatched(t *testing.T) {
	pool := testPool(t)
	s := New(pool)
	tenantID := newTenant(t, pool)
	ctx := context.Background()

	date := time.Now().UTC().Truncate(24 * time.Hour)
	settlementID := uuid.New()
	if _, err := pool.Exec(ctx, `
		INSERT INTO psp_settlement(settlement_id, tenant_id, connection_id, settlement_date, batch_id, line_no, amount_value, amount_currency, psp_settlement_id, psp_txn_id_list)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		settlementID, tenantID, "conn-1", date, "batch-1", int64(1), int64(2500), "USD", "psp-settle-exact", []string{"txn-exact"},
	); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}

	got, err := s.SettlementsExact(ctx, tenantID, "conn-1", 2500, "USD", date)
	if err != nil {
		t.Fatalf("SettlementsExact: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 unmatched candidate, got %d", len(got))
	}

	txn := domain.Transaction{
		ID: uuid.New(), TenantID: tenantID, ConnectionID: "conn-1",
		EventType: domain.EventDeposit, EventTS: time.Now().UTC(), TxnDate: date,
		Amount: domain.Amount{Value: 2500, Currency: "USD"}, PSPTxnID: "txn-exact",
		Status: domain.StatusCompleted, ReconStatus: domain.ReconPending, SourceIdempotencyKey: "idem-exact",
	}
	stored, _, err := s.InsertTransaction(ctx, txn)
	if err != nil {
		t.Fatalf("insert txn: %v", err)
	}
	m := domain.Match{
		ID: uuid.New(), TenantID: tenantID, TransactionID: stored.ID, SettlementID: &settlementID,
		Level: domain.MatchLevelAmountDate, Confidence: 70, Method: domain.MatchMethodAuto,
		Status: domain.MatchStatusMatched, MatchedAt: time.Now().UTC(), MatchedBy: "engine",
	}
	if created, err := s.InsertMatch(ctx, m); err != nil || !created {
		t.Fatalf("insert match: created=%v err=%v", created, err)
	}

	got, err = s.SettlementsExact(ctx, tenantID, "conn-1", 2500, "USD", date)
	if err != nil {
		t.Fatalf("SettlementsExact after match: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected matched settlement to drop out of candidates, got %d", len(got))
	}
}
