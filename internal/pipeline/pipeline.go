// Package pipeline wires the bus-consumer loops that drive raw records
// through normalization, matching, and ledger posting — the three
// bus-driven stages among §1's four (intake runs behind internal/httpapi),
// each its own standing worker subscribed to
// the EventBus the way the teacher's cmd/server runs one HTTP loop.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/chargeback"
	"github.com/psprecon/reconciler/internal/connreg"
	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ledger"
	"github.com/psprecon/reconciler/internal/matching"
	"github.com/psprecon/reconciler/internal/normalizer"
	"github.com/psprecon/reconciler/internal/parser"
	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// RawConsumer is the Normalizer driver: it tails raw-records, fetches
// the archived bytes, resolves the connection's parser by
// (psp_name, schema_version), and normalizes each ParsedEvent.
type RawConsumer struct {
	bus         ports.EventBus
	archive     ports.RawEventArchive
	store       ports.CanonicalStore
	conns       *connreg.Registry
	parsers     *parser.Registry
	normalizer  *normalizer.Normalizer
	chargebacks *chargeback.Handler
	alert       ports.AlertPort
	log         zerolog.Logger
}

func NewRawConsumer(bus ports.EventBus, archive ports.RawEventArchive, store ports.CanonicalStore, conns *connreg.Registry, parsers *parser.Registry, n *normalizer.Normalizer, cb *chargeback.Handler, alert ports.AlertPort) *RawConsumer {
	return &RawConsumer{bus: bus, archive: archive, store: store, conns: conns, parsers: parsers, normalizer: n, chargebacks: cb, alert: alert, log: log.With().Str("stage", "raw-consumer").Logger()}
}

// Run subscribes to TopicRaw and processes messages until ctx is
// canceled or the subscription errors.
func (c *RawConsumer) Run(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, ports.TopicRaw)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				c.log.Error().Err(err).Msg("raw record processing failed")
				if c.alert != nil {
					c.alert.Alert(ctx, reconerr.P3, "raw_record_failed", map[string]any{"error": err.Error()})
				}
			}
		}
	}
}

func (c *RawConsumer) handle(ctx context.Context, msg ports.Message) error {
	var rec domain.RawRecord
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return err
	}

	cfg, err := c.conns.Get(ctx, rec.TenantID, rec.ConnectionID)
	if err != nil {
		if errors.Is(err, reconerr.ErrConfigMissing) {
			return c.deadLetter(ctx, rec, err)
		}
		return err
	}

	p, err := c.parsers.Lookup(cfg.PSPName, cfg.SchemaVersion)
	if err != nil {
		return c.deadLetter(ctx, rec, err)
	}

	body, err := c.archive.Get(ctx, rec.ArchiveRef)
	if err != nil {
		return err
	}

	events, err := p.Parse(ctx, body, ports.Format(cfg.WireFormat))
	if err != nil {
		return c.deadLetter(ctx, rec, fmt.Errorf("%w: %v", reconerr.ErrParseError, err))
	}

	for _, ev := range events {
		txn, created, err := c.normalizer.Normalize(ctx, cfg, rec.IdempotencyKey, ev)
		if err != nil {
			if errors.Is(err, reconerr.ErrFXUnavailable) {
				if dlErr := c.deadLetterFXUnavailable(ctx, rec, ev, err); dlErr != nil {
					return dlErr
				}
				continue
			}
			return err
		}
		if created && txn.EventType == domain.EventChargeback && c.chargebacks != nil {
			if _, err := c.chargebacks.OnTransaction(ctx, txn, 0); err != nil {
				c.log.Warn().Err(err).Str("transaction_id", txn.ID.String()).Msg("chargeback handoff failed")
			}
		}
	}
	return nil
}

// deadLetterPayload is what lands on ports.TopicDeadLetter (§4.2, §7):
// enough to replay or inspect the failure without re-reading the bus
// message that carried it.
type deadLetterPayload struct {
	TenantID     string `json:"tenant_id"`
	ConnectionID string `json:"connection_id"`
	ArchiveRef   string `json:"archive_ref"`
	Reason       string `json:"reason"`
}

// deadLetter publishes rec to TopicDeadLetter with cause as diagnostics
// and fires an alert -- P2 for missing connection config (including a
// parser-lookup miss), P3 otherwise -- the §4.2/§7 handling for a parse
// failure or missing connection config; these are not retried, so the
// raw record must not simply be dropped.
func (c *RawConsumer) deadLetter(ctx context.Context, rec domain.RawRecord, cause error) error {
	payload, err := json.Marshal(deadLetterPayload{
		TenantID:     rec.TenantID.String(),
		ConnectionID: rec.ConnectionID,
		ArchiveRef:   rec.ArchiveRef,
		Reason:       cause.Error(),
	})
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, ports.TopicDeadLetter, ports.Message{
		PartitionKey: rec.TenantID.String(),
		Payload:      payload,
	}); err != nil {
		return fmt.Errorf("dead-letter publish: %w", err)
	}
	if c.alert != nil {
		priority := reconerr.P3
		if errors.Is(cause, reconerr.ErrConfigMissing) {
			priority = reconerr.P2
		}
		c.alert.Alert(ctx, priority, "raw_record_dead_lettered", map[string]any{
			"archive_ref": rec.ArchiveRef,
			"reason":      cause.Error(),
		})
	}
	return nil
}

// deadLetterFXUnavailable implements §7's FXUnavailable taxonomy entry:
// once fxrate.Provider.Rate exhausts its backoff, the event is
// dead-lettered and a TIMING_MISMATCH exception is opened so it surfaces
// on the exception queue instead of silently vanishing.
func (c *RawConsumer) deadLetterFXUnavailable(ctx context.Context, rec domain.RawRecord, ev domain.ParsedEvent, cause error) error {
	if err := c.deadLetter(ctx, rec, cause); err != nil {
		return err
	}
	if c.store == nil {
		return nil
	}
	absAmount := ev.AmountValue
	if absAmount < 0 {
		absAmount = -absAmount
	}
	exc := domain.Exception{
		ID:        uuid.New(),
		TenantID:  rec.TenantID,
		Type:      domain.ExceptionTimingMismatch,
		Amount:    domain.Amount{Value: ev.AmountValue, Currency: ev.Currency},
		Priority:  matching.PriorityForAmount(absAmount),
		Status:    domain.ExceptionOpen,
		CreatedAt: time.Now().UTC(),
	}
	return c.store.InsertException(ctx, exc)
}

// MatchConsumer drives the MatchingEngine off normalized-records.
type MatchConsumer struct {
	bus    ports.EventBus
	engine *matching.Engine
	log    zerolog.Logger
}

func NewMatchConsumer(bus ports.EventBus, engine *matching.Engine) *MatchConsumer {
	return &MatchConsumer{bus: bus, engine: engine, log: log.With().Str("stage", "match-consumer").Logger()}
}

func (c *MatchConsumer) Run(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, ports.TopicNormalized)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				c.log.Error().Err(err).Msg("match processing failed")
			}
		}
	}
}

func (c *MatchConsumer) handle(ctx context.Context, msg ports.Message) error {
	tenantID, err := uuid.Parse(msg.PartitionKey)
	if err != nil {
		return err
	}
	transactionID, err := uuid.Parse(string(msg.Payload))
	if err != nil {
		return err
	}
	_, err = c.engine.Match(ctx, tenantID, transactionID)
	return err
}

// LedgerConsumer drives the ledger Poster off matched-records for
// MATCHED matches, which all sit at or above the 95-confidence auto-post
// threshold (the Engine only publishes TopicMatched for those, so every
// message here is postable).
type LedgerConsumer struct {
	bus    ports.EventBus
	store  ports.CanonicalStore
	poster *ledger.Poster
	log    zerolog.Logger
}

func NewLedgerConsumer(bus ports.EventBus, store ports.CanonicalStore, poster *ledger.Poster) *LedgerConsumer {
	return &LedgerConsumer{bus: bus, store: store, poster: poster, log: log.With().Str("stage", "ledger-consumer").Logger()}
}

func (c *LedgerConsumer) Run(ctx context.Context) error {
	sub, err := c.bus.Subscribe(ctx, ports.TopicMatched)
	if err != nil {
		return err
	}
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-sub.Messages():
			if !ok {
				return nil
			}
			if err := c.handle(ctx, msg); err != nil {
				c.log.Error().Err(err).Msg("ledger posting failed")
			}
		}
	}
}

func (c *LedgerConsumer) handle(ctx context.Context, msg ports.Message) error {
	tenantID, err := uuid.Parse(msg.PartitionKey)
	if err != nil {
		return err
	}
	// Engine.finish publishes "{transaction_id}|{match_id}".
	parts := strings.SplitN(string(msg.Payload), "|", 2)
	if len(parts) != 2 {
		return fmt.Errorf("pipeline: malformed matched-record payload %q", msg.Payload)
	}
	transactionID, err := uuid.Parse(parts[0])
	if err != nil {
		return err
	}
	matchID, err := uuid.Parse(parts[1])
	if err != nil {
		return err
	}

	m, err := c.store.GetMatch(ctx, tenantID, matchID)
	if err != nil {
		return err
	}
	txn, err := c.store.GetTransaction(ctx, tenantID, transactionID)
	if err != nil {
		return err
	}
	_, err = c.poster.Post(ctx, txn, m)
	return err
}
