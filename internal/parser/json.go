package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// EventTypeMap maps a vendor's wire event-type string to the canonical
// EventType enum (§6's "mapping is declared by the parser"). A JSONParser
// is built around one such map per PSP.
type EventTypeMap map[string]domain.EventType

// jsonWebhookEnvelope is the common Stripe-style webhook shape (a single
// typed event, or an array of them) that JSONParser expects; the field
// names are fixed by the struct tags below and are not configurable per
// PSP.
type jsonWebhookEnvelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

type jsonEventObject struct {
	ID              string  `json:"id"`
	PaymentIntent   string  `json:"payment_intent"`
	SettlementID    string  `json:"settlement_id"`
	BatchID         string  `json:"batch_id"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	Fee             float64 `json:"fee"`
	Net             float64 `json:"net"`
	CustomerID      string  `json:"customer_id"`
	PlayerID        string  `json:"player_id"`
	GameSessionID   string  `json:"game_session_id"`
}

// JSONParser parses a single webhook event or an array of them (the
// envelope stripe_parser.py's _parse_json recognizes), converting vendor
// amounts expressed in major units (e.g. dollars) to the smallest unit.
type JSONParser struct {
	EventTypes EventTypeMap
}

func NewJSONParser(eventTypes EventTypeMap) *JSONParser {
	return &JSONParser{EventTypes: eventTypes}
}

func (p *JSONParser) Parse(ctx context.Context, content []byte, format ports.Format) ([]domain.ParsedEvent, error) {
	if format != ports.FormatJSON {
		return nil, fmt.Errorf("json parser: unsupported format %s", format)
	}

	var single jsonWebhookEnvelope
	if err := json.Unmarshal(content, &single); err == nil && single.Type != "" {
		ev, err := p.toEvent(single)
		if err != nil {
			return nil, err
		}
		return []domain.ParsedEvent{ev}, nil
	}

	var batch []jsonWebhookEnvelope
	if err := json.Unmarshal(content, &batch); err != nil {
		return nil, fmt.Errorf("json parser: %w", err)
	}
	events := make([]domain.ParsedEvent, 0, len(batch))
	for _, item := range batch {
		ev, err := p.toEvent(item)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func (p *JSONParser) toEvent(env jsonWebhookEnvelope) (domain.ParsedEvent, error) {
	var obj jsonEventObject
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &obj); err != nil {
			return domain.ParsedEvent{}, fmt.Errorf("json parser: event data: %w", err)
		}
	}

	canonical, ok := p.EventTypes[env.Type]
	if !ok {
		canonical = domain.EventType(env.Type)
	}

	var fee, net *int64
	if obj.Fee != 0 {
		v := toMinorUnits(obj.Fee)
		fee = &v
	}
	if obj.Net != 0 {
		v := toMinorUnits(obj.Net)
		net = &v
	}

	return domain.ParsedEvent{
		PSPEventID:         env.ID,
		PSPEventType:       env.Type,
		CanonicalEventType: canonical,
		PSPTxnID:           obj.ID,
		PSPPaymentID:       obj.PaymentIntent,
		PSPSettlementID:    obj.SettlementID,
		PSPBatchID:         obj.BatchID,
		AmountValue:        toMinorUnits(obj.Amount),
		Currency:           obj.Currency,
		PSPFee:             fee,
		Net:                net,
		CreatedAt:          time.Unix(env.Created, 0).UTC(),
		CustomerID:         obj.CustomerID,
		PlayerID:           obj.PlayerID,
		GameSessionID:      obj.GameSessionID,
	}, nil
}

// toMinorUnits converts a major-unit decimal amount (e.g. dollars) to the
// smallest currency unit, matching stripe_parser.py's
// `int(float(row['amount']) * 100)`.
func toMinorUnits(major float64) int64 {
	return int64(major * 100)
}
