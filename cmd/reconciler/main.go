// Command reconciler runs the PSP reconciliation pipeline, generalizing
// the teacher's single-binary cmd/server: one process hosts the webhook
// intake HTTP server plus the outbox dispatcher and the normalizer/
// matcher/ledger consumer loops, all sharing one in-process EventBus
// (internal/bus) — §5's channel-based bus has no meaning across process
// boundaries, so unlike the teacher's stateless HTTP-only server, the
// whole pipeline is one unit of deployment here.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/psprecon/reconciler/internal/alert"
	"github.com/psprecon/reconciler/internal/archive"
	"github.com/psprecon/reconciler/internal/bus"
	"github.com/psprecon/reconciler/internal/chargeback"
	"github.com/psprecon/reconciler/internal/config"
	"github.com/psprecon/reconciler/internal/connreg"
	"github.com/psprecon/reconciler/internal/fxrate"
	"github.com/psprecon/reconciler/internal/httpapi"
	"github.com/psprecon/reconciler/internal/idempotency"
	"github.com/psprecon/reconciler/internal/intake"
	"github.com/psprecon/reconciler/internal/ledger"
	"github.com/psprecon/reconciler/internal/logging"
	"github.com/psprecon/reconciler/internal/matching"
	"github.com/psprecon/reconciler/internal/normalizer"
	"github.com/psprecon/reconciler/internal/outbox"
	"github.com/psprecon/reconciler/internal/parser"
	"github.com/psprecon/reconciler/internal/pipeline"
	"github.com/psprecon/reconciler/internal/store"
)

func main() {
	root := &cobra.Command{Use: "reconciler", Short: "PSP reconciliation pipeline"}
	root.AddCommand(migrateCmd(), serveCmd())
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("reconciler exited")
	}
}

func loadPool(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pgCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pgCfg.MaxConns = int32(cfg.DBMaxConns)
	pgCfg.MinConns = 1
	pgCfg.HealthCheckPeriod = 10 * time.Second
	pgCfg.MaxConnLifetime = 30 * time.Minute
	pgCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			pool, err := loadPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := store.Migrate(ctx, pool); err != nil {
				return err
			}
			log.Info().Msg("migrations applied")
			return nil
		},
	}
}

// registerParsers wires the parsers this repo ships (§4.2): a JSON
// parser keyed like stripe_parser.py's event map, a CSV settlement
// parser, and the stdlib XLSX parser.
func registerParsers() *parser.Registry {
	reg := parser.NewRegistry()
	stripeEvents := parser.EventTypeMap{
		"charge.succeeded":         "DEPOSIT",
		"payment_intent.succeeded": "DEPOSIT",
		"payout.paid":              "WITHDRAWAL",
		"charge.refunded":          "REFUND",
		"charge.dispute.created":   "CHARGEBACK",
		"charge.dispute.closed":    "CHARGEBACK_REVERSAL",
		"application_fee.created":  "FEE",
	}
	reg.Register("stripe", "v1", parser.NewJSONParser(stripeEvents))
	reg.Register("adyen", "v1", parser.NewJSONParser(stripeEvents))
	reg.Register("generic", "csv-v1", parser.NewCSVParser("DEPOSIT"))
	reg.Register("generic", "xlsx-v1", parser.NewXLSXParser("DEPOSIT"))
	return reg
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the webhook intake server and the pipeline workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Init(cfg.LogLevel)

			ctx, cancel := signalContext()
			defer cancel()

			pool, err := loadPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if cfg.DBMigrate {
				if err := store.Migrate(ctx, pool); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
			}

			b := bus.New()
			st := store.New(pool)
			idem := idempotency.New(pool)
			arch := archive.New(cfg.ArchiveRoot)
			conns := connreg.New(pool)
			al := alert.New()

			fx, err := fxrate.New(pool, 4096)
			if err != nil {
				return fmt.Errorf("fx provider: %w", err)
			}

			in := intake.New(idem, arch, conns)
			n := normalizer.New(st, fx, b)
			cbHandler := chargeback.New(nil)
			engine := matching.New(st, b, al)
			poster := ledger.NewPoster(st)

			disp := outbox.New(pool, b)
			rawConsumer := pipeline.NewRawConsumer(b, arch, st, conns, registerParsers(), n, cbHandler, al)
			matchConsumer := pipeline.NewMatchConsumer(b, engine)
			ledgerConsumer := pipeline.NewLedgerConsumer(b, st, poster)

			var wg sync.WaitGroup
			wg.Add(3)
			go func() { defer wg.Done(); disp.Run(ctx, time.Second) }()
			go func() {
				defer wg.Done()
				if err := rawConsumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("normalizer worker exited")
				}
			}()
			go func() {
				defer wg.Done()
				if err := matchConsumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("matcher worker exited")
				}
			}()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := ledgerConsumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("ledger worker exited")
				}
			}()

			h := httpapi.NewHandlers(in)
			srv := &http.Server{
				Addr:              cfg.HTTPAddr,
				Handler:           httpapi.Router(h, int64(cfg.MaxInFlightRequests)),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", cfg.HTTPAddr).Msg("reconciler serving")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			wg.Wait()
			return nil
		},
	}
}
