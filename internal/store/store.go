// Package store implements ports.CanonicalStore against Postgres,
// generalizing the teacher's internal/store (core-ledger's accounts/
// transfers) to the reconciliation domain: transactions, settlements,
// matches, exceptions and ledger entries, still behind one pgxpool.Pool
// and the same event_log hash-chain/JCS discipline.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/reconerr"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store { return &Store{db: db} }

// =========================
// RFC 8785 (JCS) for event payloads — kept from the teacher verbatim.
// =========================

type JSONBytes = json.RawMessage

func jcsPayload(v any) (payloadJSON JSONBytes, payloadCanonical string, err error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", err
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", err
	}
	return JSONBytes(raw), string(canon), nil
}

// insertEvent is the single entry point for event_log inserts; the hash
// chain itself (prev_hash/hash) is computed by a DB trigger, same as the
// teacher's migrations.
func insertEvent(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, eventType, aggregateType, aggregateID, correlationID string, payload any) error {
	payloadJSON, payloadCanonical, err := jcsPayload(payload)
	if err != nil {
		return err
	}
	aggID, err := uuid.Parse(aggregateID)
	if err != nil {
		aggID = uuid.Nil
	}
	var corrID *uuid.UUID
	if parsed, err := uuid.Parse(correlationID); err == nil {
		corrID = &parsed
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO event_log(
			event_id, tenant_id, event_type, aggregate_type, aggregate_id, correlation_id, payload_json, payload_canonical
		) VALUES($1,$2,$3,$4,$5,$6,$7::jsonb,$8)`,
		uuid.New(), tenantID, eventType, aggregateType, aggID, corrID, payloadJSON, payloadCanonical,
	)
	return err
}

// =========================
// Transaction
// =========================

type txnPayload struct {
	TransactionID string `json:"transaction_id"`
	ConnectionID  string `json:"connection_id"`
	EventType     string `json:"event_type"`
	AmountValue   int64  `json:"amount_value"`
	Currency      string `json:"currency"`
	PSPTxnID      string `json:"psp_txn_id"`
}

// InsertTransaction performs the §4.2 idempotent upsert: a conflicting
// (tenant, connection, psp_txn_id, event_type) returns the existing row
// unmodified with created=false, matching the original normalizer's
// "persistence conflicts on the unique key are success" rule.
func (s *Store) InsertTransaction(ctx context.Context, txn domain.Transaction) (domain.Transaction, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer tx.Rollback(ctx)

	metadataJSON, err := json.Marshal(txn.Metadata)
	if err != nil {
		return domain.Transaction{}, false, fmt.Errorf("%w: %v", reconerr.ErrValidation, err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO normalized_transaction(
			transaction_id, tenant_id, brand_id, entity_id, connection_id, event_type, event_ts, txn_date,
			amount_value, amount_currency, original_currency, fx_rate, fx_rate_source, fx_rate_date,
			psp_txn_id, psp_payment_id, psp_settlement_id, psp_batch_id, psp_fee, net_amount,
			customer_id, player_id, game_session_id, status, reconciliation_status,
			source_idempotency_key, metadata, version
		) VALUES(
			$1,$2,$3,$4,$5,$6,$7,$8,
			$9,$10,$11,$12,$13,$14,
			$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,
			$26,$27::jsonb,$28
		)
		ON CONFLICT (tenant_id, connection_id, psp_txn_id, event_type) DO UPDATE SET
			transaction_id = normalized_transaction.transaction_id
		RETURNING transaction_id, (xmax = 0) AS inserted`,
		txn.ID, txn.TenantID, txn.BrandID, txn.EntityID, txn.ConnectionID, string(txn.EventType), txn.EventTS, txn.TxnDate,
		txn.Amount.Value, txn.Amount.Currency, txn.OriginalCurrency, txn.FXRate, txn.FXRateSource, nullTime(txn.FXRateDate),
		txn.PSPTxnID, txn.PSPPaymentID, txn.PSPSettlementID, txn.PSPBatchID, txn.PSPFee, txn.NetAmount,
		txn.CustomerID, txn.PlayerID, txn.GameSessionID, string(txn.Status), string(txn.ReconStatus),
		txn.SourceIdempotencyKey, metadataJSON, txn.Version,
	)

	var storedID uuid.UUID
	var inserted bool
	if err := row.Scan(&storedID, &inserted); err != nil {
		return domain.Transaction{}, false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if !inserted {
		if err := tx.Commit(ctx); err != nil {
			return domain.Transaction{}, false, err
		}
		stored, err := s.GetTransaction(ctx, txn.TenantID, storedID)
		return stored, false, err
	}

	payload := txnPayload{
		TransactionID: storedID.String(),
		ConnectionID:  txn.ConnectionID,
		EventType:     string(txn.EventType),
		AmountValue:   txn.Amount.Value,
		Currency:      txn.Amount.Currency,
		PSPTxnID:      txn.PSPTxnID,
	}
	if err := insertEvent(ctx, tx, txn.TenantID, "TRANSACTION_NORMALIZED", "TRANSACTION", storedID.String(), txn.SourceIdempotencyKey, payload); err != nil {
		return domain.Transaction{}, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	txn.ID = storedID
	return txn, true, nil
}

func (s *Store) GetTransaction(ctx context.Context, tenantID, id uuid.UUID) (domain.Transaction, error) {
	return s.scanTransaction(ctx, s.db, `
		SELECT transaction_id, tenant_id, brand_id, entity_id, connection_id, event_type, event_ts, txn_date,
			amount_value, amount_currency, original_currency, fx_rate, fx_rate_source, fx_rate_date,
			psp_txn_id, psp_payment_id, psp_settlement_id, psp_batch_id, psp_fee, net_amount,
			customer_id, player_id, game_session_id, status, reconciliation_status,
			source_idempotency_key, metadata, version
		FROM normalized_transaction
		WHERE tenant_id = $1 AND transaction_id = $2`, tenantID, id)
}

func (s *Store) scanTransaction(ctx context.Context, q pgxQuerier, sql string, args ...any) (domain.Transaction, error) {
	row := q.QueryRow(ctx, sql, args...)
	var (
		t            domain.Transaction
		eventType    string
		status       string
		reconStatus  string
		metadataJSON []byte
		fxRateDate   *time.Time
	)
	err := row.Scan(
		&t.ID, &t.TenantID, &t.BrandID, &t.EntityID, &t.ConnectionID, &eventType, &t.EventTS, &t.TxnDate,
		&t.Amount.Value, &t.Amount.Currency, &t.OriginalCurrency, &t.FXRate, &t.FXRateSource, &fxRateDate,
		&t.PSPTxnID, &t.PSPPaymentID, &t.PSPSettlementID, &t.PSPBatchID, &t.PSPFee, &t.NetAmount,
		&t.CustomerID, &t.PlayerID, &t.GameSessionID, &status, &reconStatus,
		&t.SourceIdempotencyKey, &metadataJSON, &t.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, reconerr.ErrNotFound
	}
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	t.EventType = domain.EventType(eventType)
	t.Status = domain.TransactionStatus(status)
	t.ReconStatus = domain.ReconStatus(reconStatus)
	if fxRateDate != nil {
		t.FXRateDate = *fxRateDate
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &t.Metadata)
	}
	return t, nil
}

// pgxQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// scanTransaction read through either.
type pgxQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// =========================
// Settlement candidate queries (§4.3 levels 1-4)
// =========================

func (s *Store) SettlementsStrongID(ctx context.Context, tenantID uuid.UUID, connectionID, pspSettlementID string, date time.Time) ([]domain.Settlement, error) {
	return s.querySettlements(ctx, `
		SELECT s.settlement_id, s.tenant_id, s.connection_id, s.settlement_date, s.batch_id, s.line_no,
			s.amount_value, s.amount_currency, s.psp_settlement_id, s.psp_txn_id_list, s.fee, s.net
		FROM psp_settlement s
		WHERE s.tenant_id = $1 AND s.connection_id = $2 AND s.psp_settlement_id = $3 AND s.settlement_date = $4
		AND NOT EXISTS (
			SELECT 1 FROM reconciliation_match m
			WHERE m.settlement_id = s.settlement_id AND m.status = 'MATCHED'
		)`, tenantID, connectionID, pspSettlementID, date)
}

func (s *Store) SettlementsByPSPReference(ctx context.Context, tenantID uuid.UUID, connectionID, pspPaymentID, currency string, amount, toleranceAbs int64, date time.Time) ([]domain.Settlement, error) {
	return s.querySettlements(ctx, `
		SELECT s.settlement_id, s.tenant_id, s.connection_id, s.settlement_date, s.batch_id, s.line_no,
			s.amount_value, s.amount_currency, s.psp_settlement_id, s.psp_txn_id_list, s.fee, s.net
		FROM psp_settlement s
		WHERE s.tenant_id = $1 AND s.connection_id = $2 AND $3 = ANY(s.psp_txn_id_list)
		AND s.settlement_date = $4 AND s.amount_currency = $5
		AND ABS(s.amount_value - $6) <= $7
		AND NOT EXISTS (
			SELECT 1 FROM reconciliation_match m
			WHERE m.settlement_id = s.settlement_id AND m.status = 'MATCHED'
		)`, tenantID, connectionID, pspPaymentID, date, currency, amount, toleranceAbs)
}

func (s *Store) SettlementsFuzzy(ctx context.Context, tenantID uuid.UUID, connectionID, currency, customerID string, amount, toleranceAbs int64, date time.Time) ([]domain.Settlement, error) {
	return s.querySettlements(ctx, `
		SELECT s.settlement_id, s.tenant_id, s.connection_id, s.settlement_date, s.batch_id, s.line_no,
			s.amount_value, s.amount_currency, s.psp_settlement_id, s.psp_txn_id_list, s.fee, s.net
		FROM psp_settlement s
		WHERE s.tenant_id = $1 AND s.connection_id = $2 AND s.amount_currency = $3
		AND s.settlement_date BETWEEN $4::date - 1 AND $4::date + 1
		AND ABS(s.amount_value - $5) <= $6
		AND ($7 = '' OR $7 = ANY(s.psp_txn_id_list))
		AND NOT EXISTS (
			SELECT 1 FROM reconciliation_match m
			WHERE m.settlement_id = s.settlement_id AND m.status = 'MATCHED'
		)`, tenantID, connectionID, currency, date, amount, toleranceAbs, customerID)
}

func (s *Store) SettlementsExact(ctx context.Context, tenantID uuid.UUID, connectionID string, amount int64, currency string, date time.Time) ([]domain.Settlement, error) {
	return s.querySettlements(ctx, `
		SELECT s.settlement_id, s.tenant_id, s.connection_id, s.settlement_date, s.batch_id, s.line_no,
			s.amount_value, s.amount_currency, s.psp_settlement_id, s.psp_txn_id_list, s.fee, s.net
		FROM psp_settlement s
		WHERE s.tenant_id = $1 AND s.connection_id = $2 AND s.amount_value = $3
		AND s.amount_currency = $4 AND s.settlement_date = $5
		AND NOT EXISTS (
			SELECT 1 FROM reconciliation_match m
			WHERE m.settlement_id = s.settlement_id AND m.status = 'MATCHED'
		)`, tenantID, connectionID, amount, currency, date)
}

func (s *Store) querySettlements(ctx context.Context, sql string, args ...any) ([]domain.Settlement, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer rows.Close()

	var out []domain.Settlement
	for rows.Next() {
		var st domain.Settlement
		if err := rows.Scan(&st.ID, &st.TenantID, &st.ConnectionID, &st.SettlementDate, &st.BatchID, &st.LineNo,
			&st.Amount.Value, &st.Amount.Currency, &st.PSPSettlementID, &st.PSPTxnIDList, &st.Fee, &st.Net); err != nil {
			return nil, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// =========================
// Match / exclusivity (§4.3)
// =========================

func (s *Store) GetMatchByTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (domain.Match, bool, error) {
	m, err := s.scanMatch(ctx, s.db, `
		SELECT match_id, tenant_id, transaction_id, settlement_id, match_level, confidence_score, match_method,
			amount_diff, amount_diff_pct, status, matched_at, matched_by
		FROM reconciliation_match
		WHERE tenant_id = $1 AND transaction_id = $2
		ORDER BY matched_at DESC LIMIT 1`, tenantID, transactionID)
	if errors.Is(err, reconerr.ErrNotFound) {
		return domain.Match{}, false, nil
	}
	return m, err == nil, err
}

func (s *Store) GetMatch(ctx context.Context, tenantID, matchID uuid.UUID) (domain.Match, error) {
	return s.scanMatch(ctx, s.db, `
		SELECT match_id, tenant_id, transaction_id, settlement_id, match_level, confidence_score, match_method,
			amount_diff, amount_diff_pct, status, matched_at, matched_by
		FROM reconciliation_match
		WHERE tenant_id = $1 AND match_id = $2`, tenantID, matchID)
}

func (s *Store) scanMatch(ctx context.Context, q pgxQuerier, sql string, args ...any) (domain.Match, error) {
	row := q.QueryRow(ctx, sql, args...)
	var (
		m      domain.Match
		level  int
		method string
		status string
	)
	err := row.Scan(&m.ID, &m.TenantID, &m.TransactionID, &m.SettlementID, &level, &m.Confidence, &method,
		&m.AmountDiff, &m.AmountDiffPct, &status, &m.MatchedAt, &m.MatchedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Match{}, reconerr.ErrNotFound
	}
	if err != nil {
		return domain.Match{}, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	m.Level = domain.MatchLevel(level)
	m.Method = domain.MatchMethod(method)
	m.Status = domain.MatchStatus(status)
	return m, nil
}

const pgUniqueViolation = "23505"

// InsertMatch conditionally inserts m and, for a MATCHED outcome,
// enforces settlement exclusivity via a partial unique index on
// settlement_id WHERE status = 'MATCHED' (see migrations). Either
// constraint firing is reported as created=false; the caller re-reads
// via GetMatchByTransaction, same as the teacher's idempotency-
// reservation pattern (ON CONFLICT DO NOTHING, then re-read on miss).
func (s *Store) InsertMatch(ctx context.Context, m domain.Match) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer tx.Rollback(ctx)

	// Serialize per transaction the way PostTransfer serializes per
	// idempotency key: an advisory lock keyed on the transaction id closes
	// the race window between checking and inserting this transaction's
	// match row.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, m.TransactionID.String()); err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO reconciliation_match(
			match_id, tenant_id, transaction_id, settlement_id, match_level, confidence_score,
			match_method, amount_diff, amount_diff_pct, status, matched_at, matched_by
		) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (tenant_id, transaction_id) DO NOTHING`,
		m.ID, m.TenantID, m.TransactionID, m.SettlementID, int(m.Level), m.Confidence,
		string(m.Method), m.AmountDiff, m.AmountDiffPct, string(m.Status), m.MatchedAt, m.MatchedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	// §4.3: binary transition on the match status — MATCHED for a MATCHED
	// match (Level 1, or Level 2 within tolerance), PARTIAL_MATCH otherwise
	// (including Level 2 out of tolerance and Level 4 pending-review).
	newStatus := "PARTIAL_MATCH"
	if m.Status == domain.MatchStatusMatched {
		newStatus = "MATCHED"
	}
	if _, err := tx.Exec(ctx, `
		UPDATE normalized_transaction SET reconciliation_status = $3, version = version + 1
		WHERE tenant_id = $1 AND transaction_id = $2`, m.TenantID, m.TransactionID, newStatus); err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := insertEvent(ctx, tx, m.TenantID, "TRANSACTION_MATCHED", "MATCH", m.ID.String(), m.TransactionID.String(), matchPayload{
		MatchID:       m.ID.String(),
		TransactionID: m.TransactionID.String(),
		Level:         int(m.Level),
		Confidence:    m.Confidence,
		Status:        string(m.Status),
	}); err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	return true, nil
}

type matchPayload struct {
	MatchID       string `json:"match_id"`
	TransactionID string `json:"transaction_id"`
	Level         int    `json:"level"`
	Confidence    int    `json:"confidence"`
	Status        string `json:"status"`
}

// =========================
// Exceptions
// =========================

func (s *Store) InsertException(ctx context.Context, e domain.Exception) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO reconciliation_exception(
			exception_id, tenant_id, transaction_id, settlement_id, exception_type,
			amount_value, amount_currency, priority, status, created_at
		) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.TenantID, e.TransactionID, e.SettlementID, string(e.Type),
		e.Amount.Value, e.Amount.Currency, string(e.Priority), string(e.Status), e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := insertEvent(ctx, tx, e.TenantID, "EXCEPTION_CREATED", "EXCEPTION", e.ID.String(), e.ID.String(), e); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	return nil
}

func (s *Store) GetExceptionByTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (domain.Exception, bool, error) {
	var (
		e              domain.Exception
		excType        string
		priority       string
		status         string
		amountValue    int64
		amountCurrency string
	)
	err := s.db.QueryRow(ctx, `
		SELECT exception_id, tenant_id, transaction_id, settlement_id, exception_type,
			amount_value, amount_currency, priority, status, created_at
		FROM reconciliation_exception
		WHERE tenant_id = $1 AND transaction_id = $2
		ORDER BY created_at DESC LIMIT 1`, tenantID, transactionID,
	).Scan(&e.ID, &e.TenantID, &e.TransactionID, &e.SettlementID, &excType,
		&amountValue, &amountCurrency, &priority, &status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Exception{}, false, nil
	}
	if err != nil {
		return domain.Exception{}, false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	e.Type = domain.ExceptionType(excType)
	e.Priority = domain.ExceptionPriority(priority)
	e.Status = domain.ExceptionStatus(status)
	e.Amount = domain.Amount{Value: amountValue, Currency: amountCurrency}
	return e, true, nil
}

// MarkUnmatched implements the §4.3 transition for a transaction that
// matched at no ladder level. The WHERE guard makes repeat calls a no-op
// instead of perpetually bumping version.
func (s *Store) MarkUnmatched(ctx context.Context, tenantID, transactionID uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE normalized_transaction SET reconciliation_status = 'UNMATCHED', version = version + 1
		WHERE tenant_id = $1 AND transaction_id = $2 AND reconciliation_status = 'PENDING'`,
		tenantID, transactionID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	return tag.RowsAffected() > 0, nil
}

// =========================
// Ledger
// =========================

// PostLedgerEntries writes entries and marks transactionID POSTED
// atomically (§4.4). Each entry carries one amount on both sides, so
// debits equal credits by construction; a DB trigger raises if entries of
// one posting group use different currencies, rolling back the whole
// group; see migrations' assert_ledger_balanced.
func (s *Store) PostLedgerEntries(ctx context.Context, tenantID uuid.UUID, transactionID, matchID uuid.UUID, entries []domain.LedgerEntry) error {
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", reconerr.ErrLedgerUnbalanced)
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO ledger_entry(
				entry_id, tenant_id, entity_id, txn_date, debit_account, credit_account,
				amount_value, amount_currency, ref_transaction_id, ref_match_id, description, posted_at
			) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			e.ID, e.TenantID, e.EntityID, e.TxnDate, e.DebitAccount, e.CreditAccount,
			e.Amount.Value, e.Amount.Currency, e.RefTransaction, e.RefMatch, e.Description, e.PostedAt,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Message == "ledger posting group does not balance" {
				return reconerr.ErrLedgerUnbalanced
			}
			return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE normalized_transaction SET reconciliation_status = 'POSTED', version = version + 1
		WHERE tenant_id = $1 AND transaction_id = $2`, tenantID, transactionID); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := insertEvent(ctx, tx, tenantID, "LEDGER_POSTED", "LEDGER", matchID.String(), transactionID.String(), ledgerPostedPayload{
		TransactionID: transactionID.String(),
		MatchID:       matchID.String(),
		EntryCount:    len(entries),
	}); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	return nil
}

type ledgerPostedPayload struct {
	TransactionID string `json:"transaction_id"`
	MatchID       string `json:"match_id"`
	EntryCount    int    `json:"entry_count"`
}
