// Package reconerr carries the §7 error taxonomy as sentinel errors so
// every stage can fail fast at its boundary and callers can classify
// failures with errors.Is, the way the teacher's internal/store does
// with ErrValidation/ErrNotFound/ErrIdempotencyConflict.
package reconerr

import "errors"

var (
	// ErrBadSignature: reject the request; no persistence.
	ErrBadSignature = errors.New("reconerr: bad webhook signature")
	// ErrDuplicate: idempotent success, no new side effects.
	ErrDuplicate = errors.New("reconerr: duplicate idempotency key")
	// ErrParseError: dead-letter the raw record; alert P3.
	ErrParseError = errors.New("reconerr: parse error")
	// ErrConfigMissing: unknown connection, missing secret or parser; dead-letter; alert P2.
	ErrConfigMissing = errors.New("reconerr: connection config missing")
	// ErrFXUnavailable: retry with backoff; dead-letter with TIMING_MISMATCH after N attempts.
	ErrFXUnavailable = errors.New("reconerr: fx rate unavailable")
	// ErrLedgerUnbalanced: assertion failure, roll back, alert P1.
	ErrLedgerUnbalanced = errors.New("reconerr: ledger posting group does not balance")
	// ErrStorageTransient: retry with backoff; bubble up if exhausted.
	ErrStorageTransient = errors.New("reconerr: transient storage error")
	// ErrStorageConflict: success for idempotent insert paths, retry-after-reload for optimistic updates.
	ErrStorageConflict = errors.New("reconerr: storage conflict")
	// ErrNotFound: referenced entity does not exist in this tenant's scope.
	ErrNotFound = errors.New("reconerr: not found")
	// ErrValidation: caller-supplied data failed a domain invariant.
	ErrValidation = errors.New("reconerr: validation error")
	// ErrUnsupportedEventType: LedgerPoster has no posting rule for this event type (§4.4, fatal, not retried).
	ErrUnsupportedEventType = errors.New("reconerr: unsupported event type for ledger posting")
)

// Priority mirrors the Exception priority scale used for both
// exceptions (§4.3) and operational alerts (§7).
type Priority string

const (
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
	P4 Priority = "P4"
)
