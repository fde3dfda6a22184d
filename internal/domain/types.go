// Package domain holds the canonical, storage-agnostic shapes shared by
// every pipeline stage: raw records, normalized transactions, settlement
// lines, matches, exceptions and ledger entries.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the canonical transaction event type. Values beyond the
// five the ledger knows how to post (DEPOSIT, WITHDRAWAL, REFUND,
// CHARGEBACK, FEE) are recognized by the normalizer and matching engine
// but are not postable — see ledger.Post.
type EventType string

const (
	EventDeposit            EventType = "DEPOSIT"
	EventWithdrawal         EventType = "WITHDRAWAL"
	EventRefund             EventType = "REFUND"
	EventChargeback         EventType = "CHARGEBACK"
	EventChargebackReversal EventType = "CHARGEBACK_REVERSAL"
	EventFee                EventType = "FEE"
	EventRollingReserve     EventType = "ROLLING_RESERVE"
	EventPartialCapture     EventType = "PARTIAL_CAPTURE"
	EventSplitSettlement    EventType = "SPLIT_SETTLEMENT"
	EventNegativeSettlement EventType = "NEGATIVE_SETTLEMENT"
	EventFXConversion       EventType = "FX_CONVERSION"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
	StatusFailed    TransactionStatus = "FAILED"
	StatusCancelled TransactionStatus = "CANCELLED"
)

type ReconStatus string

const (
	ReconPending      ReconStatus = "PENDING"
	ReconMatched      ReconStatus = "MATCHED"
	ReconPartialMatch ReconStatus = "PARTIAL_MATCH"
	ReconUnmatched    ReconStatus = "UNMATCHED"
	ReconExpected     ReconStatus = "EXPECTED"
	ReconPosted       ReconStatus = "POSTED"
	ReconVoided       ReconStatus = "VOIDED"
)

type MatchLevel int

const (
	MatchLevelStrongID     MatchLevel = 1
	MatchLevelPSPReference MatchLevel = 2
	MatchLevelFuzzy        MatchLevel = 3
	MatchLevelAmountDate   MatchLevel = 4
)

type MatchMethod string

const (
	MatchMethodAuto   MatchMethod = "AUTO"
	MatchMethodManual MatchMethod = "MANUAL"
	MatchMethodRule   MatchMethod = "RULE"
)

type MatchStatus string

const (
	MatchStatusMatched       MatchStatus = "MATCHED"
	MatchStatusPartialMatch  MatchStatus = "PARTIAL_MATCH"
	MatchStatusPendingReview MatchStatus = "PENDING_REVIEW"
)

type ExceptionType string

const (
	ExceptionUnmatched      ExceptionType = "UNMATCHED"
	ExceptionPartialMatch   ExceptionType = "PARTIAL_MATCH"
	ExceptionAmountMismatch ExceptionType = "AMOUNT_MISMATCH"
	ExceptionDuplicate      ExceptionType = "DUPLICATE"
	ExceptionTimingMismatch ExceptionType = "TIMING_MISMATCH"
)

// ExceptionPriority is derived purely from absolute transaction amount,
// see matching.PriorityForAmount.
type ExceptionPriority string

const (
	PriorityP1 ExceptionPriority = "P1"
	PriorityP2 ExceptionPriority = "P2"
	PriorityP3 ExceptionPriority = "P3"
	PriorityP4 ExceptionPriority = "P4"
)

type ExceptionStatus string

const (
	ExceptionOpen        ExceptionStatus = "OPEN"
	ExceptionUnderReview ExceptionStatus = "UNDER_REVIEW"
	ExceptionResolved    ExceptionStatus = "RESOLVED"
	ExceptionExpected    ExceptionStatus = "EXPECTED"
)

// Amount is always an integer in the smallest currency unit; no floats
// are ever persisted.
type Amount struct {
	Value    int64
	Currency string
}

// RawRecord is the append-only artifact WebhookIntake produces: a
// reference to archived bytes plus the idempotency key that dedups it.
type RawRecord struct {
	TenantID       uuid.UUID
	ConnectionID   string
	IdempotencyKey string
	ArchiveRef     string
	ReceivedAt     time.Time
}

// ParsedEvent is the language-neutral shape a Parser produces from raw
// bytes, before FX enrichment and canonicalization (see §6 Parser port).
type ParsedEvent struct {
	PSPEventID         string
	PSPEventType       string
	CanonicalEventType EventType
	PSPTxnID           string
	PSPPaymentID       string
	PSPSettlementID    string
	PSPBatchID         string
	AmountValue        int64
	Currency           string
	PSPFee             *int64
	Net                *int64
	CreatedAt          time.Time
	CustomerID         string
	PlayerID           string
	GameSessionID      string
	Metadata           map[string]any
}

// Transaction is the canonical, tenant-scoped record the Normalizer
// writes; only Matching/Ledger subsequently mutate it (recon_status only).
type Transaction struct {
	ID                   uuid.UUID
	TenantID             uuid.UUID
	BrandID              uuid.UUID
	EntityID             uuid.UUID
	ConnectionID         string
	EventType            EventType
	EventTS              time.Time
	TxnDate              time.Time
	Amount               Amount
	OriginalCurrency     string
	FXRate               *float64
	FXRateSource         string
	FXRateDate           time.Time
	PSPTxnID             string
	PSPPaymentID         string
	PSPSettlementID      string
	PSPBatchID           string
	PSPFee               *int64
	NetAmount            *int64
	CustomerID           string
	PlayerID             string
	GameSessionID        string
	Status               TransactionStatus
	ReconStatus          ReconStatus
	SourceIdempotencyKey string
	Metadata             map[string]any
	Version              int32
}

// Settlement is a PSP-issued line item, immutable once inserted.
type Settlement struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	ConnectionID    string
	SettlementDate  time.Time
	BatchID         string
	LineNo          int64
	Amount          Amount
	PSPSettlementID string
	PSPTxnIDList    []string
	Fee             *int64
	Net             *int64
}

type Match struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	TransactionID uuid.UUID
	SettlementID  *uuid.UUID
	Level         MatchLevel
	Confidence    int
	Method        MatchMethod
	AmountDiff    *int64
	AmountDiffPct *float64
	Status        MatchStatus
	MatchedAt     time.Time
	MatchedBy     string
}

type Exception struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	TransactionID *uuid.UUID
	SettlementID  *uuid.UUID
	Type          ExceptionType
	Amount        Amount
	Priority      ExceptionPriority
	Status        ExceptionStatus
	CreatedAt     time.Time
}

type LedgerEntry struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	EntityID       uuid.UUID
	TxnDate        time.Time
	DebitAccount   string
	CreditAccount  string
	Amount         Amount
	RefTransaction uuid.UUID
	RefMatch       uuid.UUID
	Description    string
	PostedAt       time.Time
}

// ChargebackStatus mirrors the original system's dispute lifecycle
// (original_source/backend/shared/models/chargeback.py); the workflow
// that drives these transitions is out of scope (ports.ChargebackWorkflow).
type ChargebackStatus string

const (
	ChargebackInitiated   ChargebackStatus = "INITIATED"
	ChargebackUnderReview ChargebackStatus = "UNDER_REVIEW"
	ChargebackAccepted    ChargebackStatus = "ACCEPTED"
	ChargebackDisputed    ChargebackStatus = "DISPUTED"
	ChargebackWon         ChargebackStatus = "WON"
	ChargebackLost        ChargebackStatus = "LOST"
	ChargebackReversed    ChargebackStatus = "REVERSED"
)

type Chargeback struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	TransactionID   uuid.UUID
	PSPChargebackID string
	ReasonCode      string
	Amount          Amount
	ChargebackDate  time.Time
	DisputeDeadline *time.Time
	Status          ChargebackStatus
}

// AuditEvent is one row of the hash-chained append-only event_log.
type AuditEvent struct {
	EventID       uuid.UUID
	Seq           int64
	EventType     string
	AggregateType string
	AggregateID   string
	CorrelationID string
	PayloadJSON   []byte
	PrevHash      string
	Hash          string
	CreatedAt     time.Time
}

// ConnectionConfig is the read-only configuration for one PSP connection
// (§5 shared-resource discipline). connreg.Registry reads it from the
// connection_config table on every lookup; it is not cached in process
// and not refreshed on a schedule.
type ConnectionConfig struct {
	TenantID      uuid.UUID
	ConnectionID  string
	PSPName       string
	SchemaVersion string
	WireFormat    string
	BrandID       uuid.UUID
	EntityID      uuid.UUID
	BaseCurrency  string
	HMACSecretRef string
	// SettlementDateOffsetDays is reserved for a future rule-engine hook;
	// the matching ladder does not consult it (see DESIGN.md Open
	// Question decisions — the spec flags but does not resolve T+1 skew).
	SettlementDateOffsetDays int
}
