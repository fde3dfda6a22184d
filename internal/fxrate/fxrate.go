// Package fxrate implements ports.FXProvider as a read-through cache over
// a Postgres fx_rate table, retrying transient lookups with backoff
// before surfacing reconerr.ErrFXUnavailable (§7). Caching shape grounded
// on the hashicorp/golang-lru usage pattern in the retrieval pack;
// backoff grounded on github.com/cenkalti/backoff usage in the pack.
package fxrate

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

type cacheKey struct {
	from, to string
	date     string
}

// Provider is a Postgres-backed FXProvider with an in-process LRU cache
// of recently resolved rates, keyed by (from, to, date).
type Provider struct {
	pool    *pgxpool.Pool
	cache   *lru.Cache[cacheKey, ports.FXRate]
	maxTry  uint64
	initial time.Duration
}

func New(pool *pgxpool.Pool, cacheSize int) (*Provider, error) {
	cache, err := lru.New[cacheKey, ports.FXRate](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Provider{pool: pool, cache: cache, maxTry: 5, initial: 100 * time.Millisecond}, nil
}

// Rate resolves the latest rate recorded for asOf's date, retrying both a
// missing rate and transient storage errors with exponential backoff
// (§7's FX-missing handling) before giving up with
// reconerr.ErrFXUnavailable.
func (p *Provider) Rate(ctx context.Context, from, to string, asOf time.Time) (ports.FXRate, error) {
	if from == to {
		return ports.FXRate{Value: 1.0, Source: "IDENTITY", AsOfDate: asOf}, nil
	}

	key := cacheKey{from: from, to: to, date: asOf.Format("2006-01-02")}
	if rate, ok := p.cache.Get(key); ok {
		return rate, nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(p.initial)), p.maxTry)
	var rate ports.FXRate
	err := backoff.Retry(func() error {
		var opErr error
		rate, opErr = p.queryOnce(ctx, from, to, asOf)
		if opErr == pgx.ErrNoRows {
			return fmt.Errorf("no rate for %s->%s on %s", from, to, key.date)
		}
		return opErr
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return ports.FXRate{}, fmt.Errorf("%w: %v", reconerr.ErrFXUnavailable, err)
	}

	p.cache.Add(key, rate)
	return rate, nil
}

func (p *Provider) queryOnce(ctx context.Context, from, to string, asOf time.Time) (ports.FXRate, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT rate, rate_source, rate_date
		FROM fx_rate
		WHERE from_currency = $1 AND to_currency = $2 AND rate_date = $3
		ORDER BY created_at DESC
		LIMIT 1`, from, to, asOf.Format("2006-01-02"))

	var (
		value  float64
		source string
		date   time.Time
	)
	if err := row.Scan(&value, &source, &date); err != nil {
		return ports.FXRate{}, err
	}
	return ports.FXRate{Value: value, Source: source, AsOfDate: date}, nil
}
