package parser

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// CSVParser parses a settlement-file export: one header row, one row per
// settlement line, columns named the way stripe_parser.py's _parse_csv
// expects (id, payment_intent, amount, currency, fee, net, created).
// Settlement CSVs carry no per-row event type, so every row canonicalizes
// to DefaultEventType.
type CSVParser struct {
	DefaultEventType domain.EventType
}

func NewCSVParser(defaultEventType domain.EventType) *CSVParser {
	return &CSVParser{DefaultEventType: defaultEventType}
}

func (p *CSVParser) Parse(ctx context.Context, content []byte, format ports.Format) ([]domain.ParsedEvent, error) {
	if format != ports.FormatCSV {
		return nil, fmt.Errorf("csv parser: unsupported format %s", format)
	}

	r := csv.NewReader(bytes.NewReader(content))
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv parser: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := rows[0]
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	col := func(row []string, name string) string {
		i, ok := idx[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	events := make([]domain.ParsedEvent, 0, len(rows)-1)
	for lineNo, row := range rows[1:] {
		amount, err := parseDecimal(col(row, "amount"))
		if err != nil {
			return nil, fmt.Errorf("csv parser: line %d: amount: %w", lineNo+2, err)
		}
		fee, err := parseDecimal(col(row, "fee"))
		if err != nil {
			return nil, fmt.Errorf("csv parser: line %d: fee: %w", lineNo+2, err)
		}
		net, err := parseDecimal(col(row, "net"))
		if err != nil {
			return nil, fmt.Errorf("csv parser: line %d: net: %w", lineNo+2, err)
		}

		var feePtr, netPtr *int64
		if fee != 0 {
			feePtr = &fee
		}
		if net != 0 {
			netPtr = &net
		}

		createdAt := time.Now().UTC()
		if ts := col(row, "created"); ts != "" {
			if unix, err := strconv.ParseInt(ts, 10, 64); err == nil {
				createdAt = time.Unix(unix, 0).UTC()
			}
		}

		events = append(events, domain.ParsedEvent{
			PSPEventType:       "SETTLEMENT",
			CanonicalEventType: p.DefaultEventType,
			PSPTxnID:           col(row, "id"),
			PSPPaymentID:       col(row, "payment_intent"),
			PSPSettlementID:    col(row, "settlement_id"),
			AmountValue:        amount,
			Currency:           currencyOrDefault(col(row, "currency")),
			PSPFee:             feePtr,
			Net:                netPtr,
			CreatedAt:          createdAt,
		})
	}
	return events, nil
}

func parseDecimal(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return toMinorUnits(f), nil
}

func currencyOrDefault(s string) string {
	if s == "" {
		return "USD"
	}
	return s
}
