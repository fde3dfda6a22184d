// Package outbox relays raw_event_outbox rows onto the EventBus, the
// standing-dispatcher half of §4.1's outbox strategy: WebhookIntake
// commits the outbox row transactionally with the idempotency row, and
// Dispatcher.Run tails it separately so a bus outage never blocks the
// webhook response.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

type Dispatcher struct {
	pool  *pgxpool.Pool
	bus   ports.EventBus
	log   zerolog.Logger
	batch int
}

func New(pool *pgxpool.Pool, bus ports.EventBus) *Dispatcher {
	return &Dispatcher{pool: pool, bus: bus, log: log.With().Str("stage", "outbox").Logger(), batch: 100}
}

// Run polls every interval until ctx is canceled, relaying any
// undispatched rows it finds. Rows are claimed with FOR UPDATE SKIP
// LOCKED so multiple dispatcher instances can run concurrently without
// double-publishing.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.drain(ctx); err != nil {
				d.log.Warn().Err(err).Msg("outbox drain failed")
			}
		}
	}
}

type row struct {
	id           uuid.UUID
	tenantID     uuid.UUID
	connectionID string
	idemKey      string
	archiveRef   string
}

func (d *Dispatcher) drain(ctx context.Context) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT outbox_id, tenant_id, connection_id, idempotency_key, archive_ref
		FROM raw_event_outbox
		WHERE NOT dispatched
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, d.batch)
	if err != nil {
		return err
	}

	var claimed []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.tenantID, &r.connectionID, &r.idemKey, &r.archiveRef); err != nil {
			rows.Close()
			return err
		}
		claimed = append(claimed, r)
	}
	rows.Close()
	if rerr := rows.Err(); rerr != nil {
		return rerr
	}
	if len(claimed) == 0 {
		return tx.Commit(ctx)
	}

	for _, r := range claimed {
		rec := domain.RawRecord{
			TenantID:       r.tenantID,
			ConnectionID:   r.connectionID,
			IdempotencyKey: r.idemKey,
			ArchiveRef:     r.archiveRef,
			ReceivedAt:     time.Now().UTC(),
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := d.bus.Publish(ctx, ports.TopicRaw, ports.Message{PartitionKey: r.tenantID.String(), Payload: payload}); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE raw_event_outbox SET dispatched = true, dispatched_at = now()
			WHERE outbox_id = $1`, r.id); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
