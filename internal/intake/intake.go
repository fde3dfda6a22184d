// Package intake implements WebhookIntake (§4.1): HMAC signature
// verification, idempotency-key derivation, raw-event archival, and
// outbox enqueue of the RawRecord. Grounded on
// original_source/backend/services/ingestion/webhook_handler.py, with
// HMAC done the way
// other_examples/2b37db86_josephblackelite-nhbchain's webhook handler
// does it (stdlib crypto/hmac + crypto/sha256 — no HMAC/webhook library
// appears anywhere in the pack, see DESIGN.md).
package intake

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

const idempotencyTTL = 7 * 24 * time.Hour

// SecretResolver fetches the shared HMAC secret configured for a
// connection (§6: "Secrets are fetched by reference, never embedded").
type SecretResolver interface {
	Secret(ctx context.Context, tenantID uuid.UUID, connectionID string) ([]byte, error)
}

// Intake handles one webhook POST: verify, dedup, archive, outbox-enqueue.
// Publishing onto the EventBus itself is the outbox dispatcher's job
// (internal/outbox), not Intake's — §4.1 routes the raw record through a
// DB-transactional outbox row instead of publishing in-request.
type Intake struct {
	idempotency  ports.IdempotencyStore
	archiveStore ports.RawEventArchive
	secrets      SecretResolver
	log          zerolog.Logger
}

func New(idem ports.IdempotencyStore, archiveStore ports.RawEventArchive, secrets SecretResolver) *Intake {
	return &Intake{idempotency: idem, archiveStore: archiveStore, secrets: secrets, log: log.With().Str("stage", "intake").Logger()}
}

// Handle implements §6's webhook contract. signature is the value of
// X-Signature; idempotencyKeyHeader is X-Idempotency-Key and, when
// empty, a key is derived the way webhook_handler.py's
// _generate_idempotency_key does.
func (in *Intake) Handle(ctx context.Context, tenantID uuid.UUID, connectionID, pspEventID, pspEventType, pspEventTimestamp string, body []byte, signature, idempotencyKeyHeader string) (ref string, duplicate bool, err error) {
	secret, err := in.secrets.Secret(ctx, tenantID, connectionID)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", reconerr.ErrConfigMissing, err)
	}

	if !verifySignature(body, signature, secret) {
		return "", false, reconerr.ErrBadSignature
	}

	key := idempotencyKeyHeader
	if key == "" {
		key = deriveIdempotencyKey(connectionID, pspEventID, pspEventType, pspEventTimestamp)
	}

	if existingRef, found, err := in.idempotency.Lookup(ctx, tenantID, key); err != nil {
		return "", false, err
	} else if found {
		return existingRef, true, nil
	}

	now := time.Now().UTC()
	archived, err := in.archiveStore.Put(ctx, tenantID, ports.ArchiveRawEvent, "", body, now)
	if err != nil {
		return "", false, err
	}

	if err := in.idempotency.InsertWithOutbox(ctx, tenantID, connectionID, key, archived, idempotencyTTL); err != nil {
		if errors.Is(err, reconerr.ErrStorageConflict) {
			// another goroutine won the race to record this key: report
			// success, not an error, per §7.
			return archived, true, nil
		}
		return "", false, err
	}

	return archived, false, nil
}

// verifySignature computes the expected HMAC-SHA256 hex digest over body
// and compares it to signature in constant time (webhook_handler.py's
// _validate_signature).
func verifySignature(body []byte, signature string, secret []byte) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// deriveIdempotencyKey matches webhook_handler.py's
// f"{psp_connection_id}:{event_id}:{event_type}:{timestamp}" when no
// X-Idempotency-Key header is supplied. timestamp is whatever the body's
// "created" or "timestamp" field held (possibly empty, same as the
// original's `event_data.get('created') or event_data.get('timestamp', '')`)
// -- never the webhook's receipt wall-clock time, since most PSPs never
// send X-Idempotency-Key and a receipt-time key would defeat dedup on
// every replay (§4.1, §8 scenario 7).
func deriveIdempotencyKey(connectionID, eventID, eventType, timestamp string) string {
	return fmt.Sprintf("%s:%s:%s:%s", connectionID, eventID, eventType, timestamp)
}
