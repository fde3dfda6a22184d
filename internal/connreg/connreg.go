// Package connreg loads per-tenant PSP connection configuration from
// connection_config and resolves webhook HMAC secrets by reference,
// generalizing webhook_handler.py's _get_psp_config/_validate_signature
// (which fetches webhook_signature_secret_arn from AWS Secrets Manager)
// to an environment-variable-backed resolver, since no secrets-manager
// client appears anywhere in the retrieval pack (see DESIGN.md).
package connreg

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// Registry reads connection_config rows directly; it is intentionally
// separate from ports.CanonicalStore because connection config is
// read-mostly, process-local lookup data rather than part of the event
// pipeline's transactional boundary (§5).
type Registry struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Registry { return &Registry{db: db} }

func (r *Registry) Get(ctx context.Context, tenantID uuid.UUID, connectionID string) (domain.ConnectionConfig, error) {
	var c domain.ConnectionConfig
	c.TenantID = tenantID
	c.ConnectionID = connectionID
	err := r.db.QueryRow(ctx, `
		SELECT psp_name, schema_version, wire_format, brand_id, entity_id, base_currency,
			hmac_secret_ref, settlement_date_offset_days
		FROM connection_config
		WHERE tenant_id = $1 AND connection_id = $2`, tenantID, connectionID,
	).Scan(&c.PSPName, &c.SchemaVersion, &c.WireFormat, &c.BrandID, &c.EntityID, &c.BaseCurrency,
		&c.HMACSecretRef, &c.SettlementDateOffsetDays)
	if err != nil {
		return domain.ConnectionConfig{}, fmt.Errorf("%w: connection %s: %v", reconerr.ErrConfigMissing, connectionID, err)
	}
	return c, nil
}

// Secret resolves hmac_secret_ref to its value by environment lookup,
// implementing intake.SecretResolver. The ref never embeds the secret
// itself, only the name of where to find it.
func (r *Registry) Secret(ctx context.Context, tenantID uuid.UUID, connectionID string) ([]byte, error) {
	cfg, err := r.Get(ctx, tenantID, connectionID)
	if err != nil {
		return nil, err
	}
	v := os.Getenv(cfg.HMACSecretRef)
	if v == "" {
		return nil, fmt.Errorf("%w: secret ref %s not set", reconerr.ErrConfigMissing, cfg.HMACSecretRef)
	}
	return []byte(v), nil
}
