// Package idempotency implements ports.IdempotencyStore against Postgres,
// grounded on the upsert-then-inspect pattern of
// other_examples' alex-bogatiuk-metapus internal/infrastructure/storage
// postgres idempotency store, generalized from per-user HTTP replay to
// the §2.1 tenant-scoped dedup-key-with-TTL shape this system needs.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psprecon/reconciler/internal/reconerr"
)

// Store is a Postgres-backed IdempotencyStore (§2.1).
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Lookup reports whether key is already recorded for tenant and, if so,
// the archive ref stored alongside it. An expired row is treated as not
// found; the store does not actively reap expired rows here, leaving that
// to a periodic job (§5).
func (s *Store) Lookup(ctx context.Context, tenantID uuid.UUID, key string) (string, bool, error) {
	var archiveRef string
	var expiresAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT archive_ref, expires_at
		FROM idempotency_key
		WHERE tenant_id = $1 AND key = $2`, tenantID, key).Scan(&archiveRef, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	if time.Now().UTC().After(expiresAt) {
		return "", false, nil
	}
	return archiveRef, true, nil
}

// Insert records key -> archiveRef with the given TTL. A conflicting
// concurrent insert (another goroutine won the race to record the same
// key) is reconerr.ErrStorageConflict, which callers treat as success.
func (s *Store) Insert(ctx context.Context, tenantID uuid.UUID, key, archiveRef string, ttl time.Duration) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_key (tenant_id, key, archive_ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO NOTHING`, tenantID, key, archiveRef, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return reconerr.ErrStorageConflict
	}
	return nil
}

// InsertWithOutbox records the idempotency row and a raw_event_outbox row
// in one transaction (§4.1's outbox strategy — the teacher's "append row
// in the same tx a consumer reads later" shape, generalized into a
// standing relay instead of a one-off sweep). A conflicting concurrent
// insert is reconerr.ErrStorageConflict, same as Insert.
func (s *Store) InsertWithOutbox(ctx context.Context, tenantID uuid.UUID, connectionID, key, archiveRef string, ttl time.Duration) error {
	now := time.Now().UTC()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency_key (tenant_id, key, archive_ref, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, key) DO NOTHING`, tenantID, key, archiveRef, now, now.Add(ttl))
	if err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	if tag.RowsAffected() == 0 {
		return reconerr.ErrStorageConflict
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO raw_event_outbox (outbox_id, tenant_id, connection_id, idempotency_key, archive_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New(), tenantID, connectionID, key, archiveRef, now,
	); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: %v", reconerr.ErrStorageTransient, err)
	}
	return nil
}
