// Package httpapi exposes the §6 webhook intake surface over HTTP,
// generalizing the teacher's account/transfer REST handlers (same
// writeJSON/httpStatusForErr/publicErrMessage shape) to a
// single POST-webhook endpoint backed by internal/intake.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/psprecon/reconciler/internal/reconerr"
)

// Intake is the subset of *intake.Intake the HTTP layer depends on.
type Intake interface {
	Handle(ctx context.Context, tenantID uuid.UUID, connectionID, pspEventID, pspEventType, pspEventTimestamp string, body []byte, signature, idempotencyKeyHeader string) (ref string, duplicate bool, err error)
}

type Handlers struct {
	intake Intake
}

func NewHandlers(intake Intake) *Handlers { return &Handlers{intake: intake} }

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func httpStatusForErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, reconerr.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, reconerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, reconerr.ErrConfigMissing):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func publicErrMessage(code int, err error) string {
	if code >= 500 {
		return "internal error"
	}
	return err.Error()
}

// eventPeek extracts just enough of the envelope to derive an
// idempotency key when the caller omits X-Idempotency-Key, mirroring
// webhook_handler.py's use of body_json for _generate_idempotency_key
// without otherwise parsing the payload (that's the parser's job).
// Created and Timestamp are captured raw (number or string, PSPs vary)
// since _generate_idempotency_key never parses them either -- it just
// interpolates whichever of event_data['created']/['timestamp'] is set.
type eventPeek struct {
	EventID   string          `json:"id"`
	EventType string          `json:"type"`
	Created   json.RawMessage `json:"created"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// bodyTimestamp returns the body's "created" field, falling back to
// "timestamp", as a bare string -- "" when neither is present, matching
// `event_data.get('created') or event_data.get('timestamp', '')`.
func (p eventPeek) bodyTimestamp() string {
	raw := p.Created
	if len(raw) == 0 || string(raw) == "null" {
		raw = p.Timestamp
	}
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	return strings.Trim(string(raw), `"`)
}

// PostWebhook implements POST /v1/tenants/{tenant}/connections/{connection}/webhook
// (§6): opaque body pass-through, X-Signature required, X-Idempotency-Key
// optional. Responds 202 on acceptance or duplicate, 401 on a bad
// signature, 400 on an unreadable body or missing connection config, 404
// on a malformed path, 405 on a non-POST method, 408/504 on a canceled or
// timed-out request, and 500 otherwise.
func (h *Handlers) PostWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tenantID, connectionID, ok := parseWebhookPath(r.URL.Path)
	if !ok {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	defer r.Body.Close()
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid body")
		return
	}

	var peek eventPeek
	_ = json.Unmarshal(body, &peek)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ref, duplicate, err := h.intake.Handle(
		ctx, tenantID, connectionID, peek.EventID, peek.EventType, peek.bodyTimestamp(), body,
		r.Header.Get("X-Signature"), r.Header.Get("X-Idempotency-Key"),
	)
	if err != nil {
		code := httpStatusForErr(err)
		writeErr(w, code, publicErrMessage(code, err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      statusLabel(duplicate),
		"archive_ref": ref,
	})
}

func statusLabel(duplicate bool) string {
	if duplicate {
		return "duplicate"
	}
	return "accepted"
}

// parseWebhookPath splits /v1/tenants/{tenant}/connections/{connection}/webhook.
func parseWebhookPath(path string) (tenantID uuid.UUID, connectionID string, ok bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 6 || parts[0] != "v1" || parts[1] != "tenants" || parts[3] != "connections" || parts[5] != "webhook" {
		return uuid.Nil, "", false
	}
	tenantID, err := uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, "", false
	}
	return tenantID, parts[4], true
}
