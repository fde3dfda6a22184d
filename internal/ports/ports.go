// Package ports declares the external-collaborator interfaces named in
// spec.md §4.5 and §6. §9's "global singletons become explicit injected
// dependencies" is implemented by passing these interfaces into each
// stage's constructor instead of reaching for package-level clients, the
// way the teacher's cmd/server wires one *pgxpool.Pool into store.New.
package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// IdempotencyStore is the content-addressed dedup table with TTL (§2.1).
type IdempotencyStore interface {
	// Lookup reports whether key has already been seen for tenant, and
	// if so, the archive ref recorded when it was first seen.
	Lookup(ctx context.Context, tenantID uuid.UUID, key string) (archiveRef string, found bool, err error)
	// Insert records key -> archiveRef with an expiry. A conflicting
	// concurrent insert is reported as reconerr.ErrStorageConflict, which
	// callers treat as success (another goroutine won the race).
	Insert(ctx context.Context, tenantID uuid.UUID, key, archiveRef string, ttl time.Duration) error
	// InsertWithOutbox does Insert plus, in the same transaction, appends
	// a raw_event_outbox row for the dispatcher to relay onto the
	// EventBus (§4.1 outbox strategy).
	InsertWithOutbox(ctx context.Context, tenantID uuid.UUID, connectionID, key, archiveRef string, ttl time.Duration) error
}

// ArchivePath identifies which §6 path template to use.
type ArchivePath int

const (
	ArchiveRawEvent ArchivePath = iota
	ArchiveSettlementFile
)

// RawEventArchive is the append-only object store for raw bytes (§2.2, §6).
type RawEventArchive interface {
	// Put stores data and returns a durable ref following the §6 path
	// layout (raw-events/{tenant}/{yyyy/mm/dd}/{uuid} or
	// settlements/{tenant}/{yyyy/mm/dd}/{uuid}_{filename}).
	Put(ctx context.Context, tenantID uuid.UUID, kind ArchivePath, filename string, data []byte, at time.Time) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
}

// Topic names the logical streams a pipeline stage publishes to.
type Topic string

const (
	TopicRaw        Topic = "raw-records"
	TopicNormalized Topic = "normalized-records"
	TopicMatched    Topic = "matched-records"
	TopicDeadLetter Topic = "dead-letter"
)

// Message is one framed record on the bus, partition-keyed per §5.
type Message struct {
	PartitionKey string
	Payload      []byte
	Attempt      int
}

// Subscription is a handle to a consumed partition of a topic.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// EventBus is the partitioned, at-least-once stream of framed records
// (§2.3, §5). Implementations MUST block Publish when a partition's
// backlog is saturated (backpressure, §5) rather than queue unboundedly.
type EventBus interface {
	Publish(ctx context.Context, topic Topic, msg Message) error
	Subscribe(ctx context.Context, topic Topic) (Subscription, error)
}

// FXRate is a dated currency conversion rate (§4.2).
type FXRate struct {
	Value    float64
	Source   string
	AsOfDate time.Time
}

// FXProvider is a read-through cache of dated conversion rates (§2.5).
// Implementations retry transient lookups with backoff per §7
// (reconerr.ErrFXUnavailable) and never silently substitute a stale or
// default rate.
type FXProvider interface {
	Rate(ctx context.Context, from, to string, asOf time.Time) (FXRate, error)
}

// Format is the wire format a Parser accepts (§6).
type Format string

const (
	FormatJSON Format = "JSON"
	FormatCSV  Format = "CSV"
	FormatXLSX Format = "XLSX"
)

// Parser turns raw bytes into canonical ParsedEvents (§6 Parser port).
// Implementations are looked up by (psp_name, schema_version); see
// internal/parser.Registry.
type Parser interface {
	Parse(ctx context.Context, content []byte, format Format) ([]domain.ParsedEvent, error)
}

// AlertPort is the operational-alert sink named in §7/§1 (delivery
// channels are out of scope; this is the interface those channels would
// implement).
type AlertPort interface {
	Alert(ctx context.Context, priority reconerr.Priority, kind string, detail map[string]any)
}

// ChargebackWorkflow is the manual-adjustment/dispute workflow named out
// of scope in §1; only its entry points are specified here.
type ChargebackWorkflow interface {
	OnChargebackCreated(ctx context.Context, cb domain.Chargeback) error
	Resolve(ctx context.Context, tenantID, chargebackID uuid.UUID, status domain.ChargebackStatus, resolvedBy uuid.UUID) error
}

// CanonicalStore is the one transactional boundary (§4.5): tenant-scoped
// queries, conditional inserts, multi-row atomic commits, and optimistic
// version fields.
type CanonicalStore interface {
	// InsertTransaction performs the idempotent upsert of §4.2: on a
	// conflicting (tenant, connection, psp_txn_id, event_type), the
	// existing row is returned unmodified and created=false.
	InsertTransaction(ctx context.Context, txn domain.Transaction) (stored domain.Transaction, created bool, err error)
	GetTransaction(ctx context.Context, tenantID, id uuid.UUID) (domain.Transaction, error)

	// SettlementsStrongID implements Level 1 (§4.3): same connection,
	// same psp_settlement_id, same date, excluding settlements with a
	// current MATCHED row.
	SettlementsStrongID(ctx context.Context, tenantID uuid.UUID, connectionID, pspSettlementID string, date time.Time) ([]domain.Settlement, error)
	// SettlementsByPSPReference implements Level 2's candidate set: same
	// connection, payment id present in psp_txn_id_list, same date, same
	// currency, |amount-settlement.amount| <= toleranceAbs, excluding
	// MATCHED settlements. toleranceAbs mirrors the original's
	// `int(amount * 0.01)` (see matching.tolerancePct) and is computed by
	// the caller so the 1% figure lives in one place (internal/matching).
	SettlementsByPSPReference(ctx context.Context, tenantID uuid.UUID, connectionID, pspPaymentID, currency string, amount, toleranceAbs int64, date time.Time) ([]domain.Settlement, error)
	// SettlementsFuzzy implements Level 3's candidate set: same
	// connection, same currency, date within +/-1 day,
	// |amount-settlement.amount| <= toleranceAbs, excluding MATCHED
	// settlements. If customerID is non-empty it must appear in
	// psp_txn_id_list (the original's customer-id gate).
	SettlementsFuzzy(ctx context.Context, tenantID uuid.UUID, connectionID, currency, customerID string, amount, toleranceAbs int64, date time.Time) ([]domain.Settlement, error)
	// SettlementsExact implements Level 4: exact amount, currency, date.
	SettlementsExact(ctx context.Context, tenantID uuid.UUID, connectionID string, amount int64, currency string, date time.Time) ([]domain.Settlement, error)

	GetMatchByTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (domain.Match, bool, error)
	GetMatch(ctx context.Context, tenantID, matchID uuid.UUID) (domain.Match, error)
	// InsertMatch conditionally inserts the match row (unique on
	// (tenant,transaction): at most one match row per transaction) and,
	// when the match's settlement is set and its status is MATCHED,
	// atomically rejects the
	// insert if another MATCHED row already targets that settlement
	// (settlement exclusivity, §4.3). It also transitions the
	// transaction's recon_status. Returns created=false if a row already
	// existed (idempotent replay, §8).
	InsertMatch(ctx context.Context, m domain.Match) (created bool, err error)

	InsertException(ctx context.Context, e domain.Exception) error
	// GetExceptionByTransaction returns the most recent exception raised
	// for transactionID, if any -- used to make the no-candidate-at-any-
	// level branch of Engine.Match idempotent (§8's "Match(t) followed by
	// Match(t) => identical MatchResult") instead of inserting a fresh
	// exception row on every replay.
	GetExceptionByTransaction(ctx context.Context, tenantID, transactionID uuid.UUID) (domain.Exception, bool, error)
	// MarkUnmatched transitions transactionID's reconciliation_status to
	// UNMATCHED (§4.3: a transaction that fails every ladder rung) when it
	// is still PENDING. updated is false if the status had already moved
	// on (a concurrent run, or a replay after the first one completed).
	MarkUnmatched(ctx context.Context, tenantID, transactionID uuid.UUID) (updated bool, err error)

	// PostLedgerEntries writes entries and marks transactionID POSTED in
	// one atomic commit (§4.4). Each entry carries one amount on both its
	// debit and credit side; the store rejects an empty group or a group
	// mixing currencies with reconerr.ErrLedgerUnbalanced, rolling back
	// everything.
	PostLedgerEntries(ctx context.Context, tenantID uuid.UUID, transactionID, matchID uuid.UUID, entries []domain.LedgerEntry) error
}
