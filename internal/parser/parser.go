// Package parser implements the ports.Parser port for each supported PSP
// wire format, looked up by (psp_name, schema_version) the way §6
// describes. Grounded on
// original_source/backend/services/ingestion/parsers/{base,stripe_parser}.py;
// JSON and CSV are stdlib (encoding/json, encoding/csv) since no parsing
// library appears anywhere in the retrieval pack for either format — see
// DESIGN.md. XLSX is implemented in xlsx.go.
package parser

import (
	"fmt"
	"sync"

	"github.com/psprecon/reconciler/internal/ports"
	"github.com/psprecon/reconciler/internal/reconerr"
)

// Key identifies one registered Parser implementation.
type Key struct {
	PSPName       string
	SchemaVersion string
}

// Registry resolves a Parser by (psp_name, schema_version).
type Registry struct {
	mu      sync.RWMutex
	parsers map[Key]ports.Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[Key]ports.Parser)}
}

func (r *Registry) Register(pspName, schemaVersion string, p ports.Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[Key{PSPName: pspName, SchemaVersion: schemaVersion}] = p
}

// Lookup returns reconerr.ErrConfigMissing-wrapped error text when no
// parser is registered for the pair; callers map that to a dead-lettered
// record per §7.
func (r *Registry) Lookup(pspName, schemaVersion string) (ports.Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[Key{PSPName: pspName, SchemaVersion: schemaVersion}]
	if !ok {
		return nil, fmt.Errorf("%w: no parser registered for psp=%s schema=%s", reconerr.ErrConfigMissing, pspName, schemaVersion)
	}
	return p, nil
}
