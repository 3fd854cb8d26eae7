package statement

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	enc "github.com/flowsentry/flowsentry/internal/encoding"
	"github.com/flowsentry/flowsentry/internal/record"
)

// ErrUnknownFormat is returned when no known profile matches the file.
var ErrUnknownFormat = errors.New("unrecognized statement format")

// delimiters are the field separators tried during auto-detection.
var delimiters = []rune{',', ';'}

// Parser reads bank and UPI statement CSV exports and produces record params.
// It auto-detects the export format by scanning for a header row that matches
// a known profile, trying each candidate delimiter in turn. Rows before the
// header (titles, account info) and footer rows are skipped.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) Parse(r io.Reader) ([]record.CreateParams, error) {
	utf8r, err := enc.NewUTF8Reader(r)
	if err != nil {
		return nil, fmt.Errorf("detect encoding: %w", err)
	}

	data, err := io.ReadAll(utf8r)
	if err != nil {
		return nil, fmt.Errorf("read statement: %w", err)
	}

	for _, comma := range delimiters {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = comma
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		rows, err := reader.ReadAll()
		if err != nil {
			continue
		}

		profile, cols, headerIdx := detectProfile(rows)
		if profile == nil {
			continue
		}

		return parseRows(profile, cols, rows[headerIdx+1:], headerIdx)
	}

	return nil, ErrUnknownFormat
}

// colIndex maps column names to their index in the row.
type colIndex map[string]int

// detectProfile scans rows for a header that matches a known profile.
// Returns the matched profile, column index map, and header row index.
func detectProfile(rows [][]string) (*Profile, colIndex, int) {
	for rowIdx, row := range rows {
		cols := make(colIndex)

		for i, cell := range row {
			name := strings.TrimSpace(cell)
			if name != "" {
				cols[name] = i
			}
		}

		for i := range profiles {
			if matchesProfile(&profiles[i], cols) {
				return &profiles[i], cols, rowIdx
			}
		}
	}

	return nil, nil, 0
}

// matchesProfile checks if all required columns of a profile are present.
func matchesProfile(p *Profile, cols colIndex) bool {
	for _, name := range p.requiredCols() {
		if _, ok := cols[name]; !ok {
			return false
		}
	}

	return true
}

// parseRows extracts record params from data rows using the matched profile.
// headerIdx is the 0-based index of the header in the original file, used to
// report 1-based file row numbers in errors.
func parseRows(p *Profile, cols colIndex, rows [][]string, headerIdx int) ([]record.CreateParams, error) {
	dateIdx := cols[p.DateCol]
	descIdx := cols[p.DescCol]

	var params []record.CreateParams

	for i, row := range rows {
		rowNum := headerIdx + i + 2

		date, ok := parseDate(p, row, dateIdx)
		if !ok {
			continue
		}

		desc := cellValue(row, descIdx)
		if desc == "" {
			return nil, fmt.Errorf("row %d: missing description", rowNum)
		}

		amount, direction, ok := rowAmount(p, cols, row)
		if !ok {
			continue
		}

		params = append(params, record.CreateParams{
			OccurredOn: date,
			Direction:  direction,
			Amount:     amount,
			Detail:     desc,
		})
	}

	return params, nil
}

// parseDate tries each of the profile's date layouts against the cell.
// Returns false for empty cells or unparseable values (footer rows, etc).
func parseDate(p *Profile, row []string, idx int) (time.Time, bool) {
	s := cellValue(row, idx)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range p.DateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}

// rowAmount extracts the amount and direction from a row based on the profile's amount mode.
func rowAmount(p *Profile, cols colIndex, row []string) (decimal.Decimal, record.Direction, bool) {
	switch p.AmountMode {
	case amountSingle:
		return singleAmount(row, cols[p.AmountCol])
	case amountSplit:
		return splitAmount(row, cols[p.DebitCol], cols[p.CreditCol])
	}

	return decimal.Zero, "", false
}

// singleAmount handles a single signed amount column. Negative values are
// outflows, positive values inflows.
func singleAmount(row []string, idx int) (decimal.Decimal, record.Direction, bool) {
	s := cellValue(row, idx)
	if s == "" {
		return decimal.Zero, "", false
	}

	amount, err := parseAmount(s)
	if err != nil || amount.IsZero() {
		return decimal.Zero, "", false
	}

	if amount.IsNegative() {
		return amount.Neg(), record.DirectionOutflow, true
	}

	return amount, record.DirectionInflow, true
}

// splitAmount handles separate withdrawal and deposit columns.
func splitAmount(row []string, debitIdx, creditIdx int) (decimal.Decimal, record.Direction, bool) {
	if s := cellValue(row, debitIdx); s != "" {
		if amount, err := parseAmount(s); err == nil && !amount.IsZero() {
			return amount.Abs(), record.DirectionOutflow, true
		}
	}

	if s := cellValue(row, creditIdx); s != "" {
		if amount, err := parseAmount(s); err == nil && !amount.IsZero() {
			return amount.Abs(), record.DirectionInflow, true
		}
	}

	return decimal.Zero, "", false
}

// cellValue safely gets a trimmed cell value from a row.
func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}

	return strings.TrimSpace(row[idx])
}
