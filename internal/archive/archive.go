// Package archive implements ports.RawEventArchive as a local filesystem
// store. No object-store client library appears anywhere in the
// retrieval pack, so this stays on stdlib os/path — see DESIGN.md. Path
// layout follows §6: raw-events/{tenant}/{yyyy/mm/dd}/{uuid} and
// settlements/{tenant}/{yyyy/mm/dd}/{uuid}_{filename}, matching the
// original's S3 key scheme
// (original_source/backend/services/ingestion/webhook_handler.py's
// _store_raw_event).
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/ports"
)

// FSArchive is a RawEventArchive rooted at a local directory.
type FSArchive struct {
	root string
}

func New(root string) *FSArchive {
	return &FSArchive{root: root}
}

func (a *FSArchive) Put(ctx context.Context, tenantID uuid.UUID, kind ports.ArchivePath, filename string, data []byte, at time.Time) (string, error) {
	datePath := at.UTC().Format("2006/01/02")
	id := uuid.New().String()

	var rel string
	switch kind {
	case ports.ArchiveRawEvent:
		rel = filepath.Join("raw-events", tenantID.String(), datePath, id)
	case ports.ArchiveSettlementFile:
		rel = filepath.Join("settlements", tenantID.String(), datePath, fmt.Sprintf("%s_%s", id, filename))
	default:
		return "", fmt.Errorf("archive: unknown archive path kind %d", kind)
	}

	full := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return rel, nil
}

func (a *FSArchive) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(a.root, ref))
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	return data, nil
}
