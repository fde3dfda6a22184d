package parser

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/psprecon/reconciler/internal/domain"
	"github.com/psprecon/reconciler/internal/ports"
)

// XLSXParser reads the first worksheet of a minimal OOXML spreadsheet
// (shared strings + sheet1 only) using only archive/zip and encoding/xml,
// since no XLSX library appears anywhere in the retrieval pack — see
// DESIGN.md. Rows are handed to CSVParser, so the layout is CSVParser's:
// header row first, columns located by header name (id, payment_intent,
// amount, currency, fee, net, created) in any order.
type XLSXParser struct {
	DefaultEventType domain.EventType
}

func NewXLSXParser(defaultEventType domain.EventType) *XLSXParser {
	return &XLSXParser{DefaultEventType: defaultEventType}
}

func (p *XLSXParser) Parse(ctx context.Context, content []byte, format ports.Format) ([]domain.ParsedEvent, error) {
	if format != ports.FormatXLSX {
		return nil, fmt.Errorf("xlsx parser: unsupported format %s", format)
	}

	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: %w", err)
	}

	strings, err := readSharedStrings(zr)
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: %w", err)
	}
	rows, err := readSheet1(zr, strings)
	if err != nil {
		return nil, fmt.Errorf("xlsx parser: %w", err)
	}

	csvParser := NewCSVParser(p.DefaultEventType)
	return csvParser.Parse(ctx, rowsToCSV(rows), ports.FormatCSV)
}

type sstXML struct {
	XMLName xml.Name `xml:"sst"`
	SI      []struct {
		T string `xml:"t"`
	} `xml:"si"`
}

func readSharedStrings(zr *zip.Reader) ([]string, error) {
	f, err := openInZip(zr, "xl/sharedStrings.xml")
	if err != nil {
		if err == errNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var sst sstXML
	if err := xml.NewDecoder(f).Decode(&sst); err != nil {
		return nil, err
	}
	out := make([]string, len(sst.SI))
	for i, si := range sst.SI {
		out[i] = si.T
	}
	return out, nil
}

type sheetXML struct {
	SheetData struct {
		Row []struct {
			C []struct {
				R string `xml:"r,attr"`
				T string `xml:"t,attr"`
				V string `xml:"v"`
			} `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

func readSheet1(zr *zip.Reader, shared []string) ([][]string, error) {
	f, err := openInZip(zr, "xl/worksheets/sheet1.xml")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var sheet sheetXML
	if err := xml.NewDecoder(f).Decode(&sheet); err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.SheetData.Row))
	for _, row := range sheet.SheetData.Row {
		var cells []string
		for _, c := range row.C {
			val := c.V
			if c.T == "s" {
				idx, err := strconv.Atoi(c.V)
				if err == nil && idx >= 0 && idx < len(shared) {
					val = shared[idx]
				}
			}
			cells = append(cells, val)
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

var errNotFound = fmt.Errorf("xlsx parser: member not found")

func openInZip(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, errNotFound
}

// rowsToCSV re-serializes the decoded sheet as CSV bytes so XLSXParser
// can reuse CSVParser's column mapping and amount conversion rather than
// duplicating it.
func rowsToCSV(rows [][]string) []byte {
	var buf bytes.Buffer
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				buf.WriteByte(',')
			}
			if containsComma(cell) {
				buf.WriteByte('"')
				buf.WriteString(cell)
				buf.WriteByte('"')
			} else {
				buf.WriteString(cell)
			}
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func containsComma(s string) bool {
	for _, r := range s {
		if r == ',' {
			return true
		}
	}
	return false
}
