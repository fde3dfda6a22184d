// Package normalizer turns a ParsedEvent into a canonical Transaction:
// FX enrichment when the event's currency differs from the connection's
// base currency, then an idempotent upsert into CanonicalStore. Grounded
// on original_source/backend/services/normalization/normalizer.py.
package normalizer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// Normalizer enriches and stores ParsedEvents as canonical Transactions.
type Normalizer struct {
	store ports.CanonicalStore
	fx    ports.FXProvider
	bus   ports.EventBus
	log   zerolog.Logger
}

func New(store ports.CanonicalStore, fx ports.FXProvider, bus ports.EventBus) *Normalizer {
	return &Normalizer{store: store, fx: fx, bus: bus, log: log.With().Str("stage", "normalizer").Logger()}
}

// Normalize maps ev to a Transaction, enriches FX when ev's currency
// differs from cfg.BaseCurrency, and performs the §4.2 idempotent upsert.
// created is false when the (connection, psp_txn_id, event_type) tuple
// already existed — a replay, not an error.
func (n *Normalizer) Normalize(ctx context.Context, cfg domain.ConnectionConfig, key string, ev domain.ParsedEvent) (domain.Transaction, bool, error) {
	txn := domain.Transaction{
		ID:                   uuid.New(),
		TenantID:             cfg.TenantID,
		BrandID:              cfg.BrandID,
		EntityID:             cfg.EntityID,
		ConnectionID:         cfg.ConnectionID,
		EventType:            ev.CanonicalEventType,
		EventTS:              ev.CreatedAt,
		TxnDate:              ev.CreatedAt,
		Amount:               domain.Amount{Value: ev.AmountValue, Currency: ev.Currency},
		OriginalCurrency:     ev.Currency,
		PSPTxnID:             ev.PSPTxnID,
		PSPPaymentID:         ev.PSPPaymentID,
		PSPSettlementID:      ev.PSPSettlementID,
		PSPBatchID:           ev.PSPBatchID,
		PSPFee:               ev.PSPFee,
		NetAmount:            ev.Net,
		CustomerID:           ev.CustomerID,
		PlayerID:             ev.PlayerID,
		GameSessionID:        ev.GameSessionID,
		Status:               domain.StatusCompleted,
		ReconStatus:          domain.ReconPending,
		SourceIdempotencyKey: key,
		Metadata:             ev.Metadata,
		Version:              1,
	}

	if cfg.BaseCurrency != "" && ev.Currency != "" && ev.Currency != cfg.BaseCurrency {
		if err := n.enrichFX(ctx, &txn, cfg.BaseCurrency); err != nil {
			return domain.Transaction{}, false, err
		}
	}

	stored, created, err := n.store.InsertTransaction(ctx, txn)
	if err != nil {
		return domain.Transaction{}, false, err
	}

	if created && n.bus != nil {
		if err := n.bus.Publish(ctx, ports.TopicNormalized, ports.Message{
			PartitionKey: stored.TenantID.String(),
			Payload:      []byte(stored.ID.String()),
		}); err != nil {
			n.log.Warn().Err(err).Str("transaction_id", stored.ID.String()).Msg("publish normalized record failed")
		}
	}

	return stored, created, nil
}

// enrichFX looks up the conversion rate for txn's date and converts
// Amount into baseCurrency, preserving the pre-conversion currency as
// OriginalCurrency (normalizer.py's _enrich_fx).
func (n *Normalizer) enrichFX(ctx context.Context, txn *domain.Transaction, baseCurrency string) error {
	rate, err := n.fx.Rate(ctx, txn.Amount.Currency, baseCurrency, txn.TxnDate)
	if err != nil {
		return fmt.Errorf("fx enrichment for %s->%s: %w", txn.Amount.Currency, baseCurrency, err)
	}

	r := rate.Value
	txn.FXRate = &r
	txn.FXRateSource = rate.Source
	txn.FXRateDate = rate.AsOfDate
	txn.OriginalCurrency = txn.Amount.Currency
	txn.Amount = domain.Amount{
		Value:    int64(float64(txn.Amount.Value) * rate.Value),
		Currency: baseCurrency,
	}
	return nil
}
