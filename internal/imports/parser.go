package imports

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	ErrEmptyFile   = errors.New("csv file has no header row")
	ErrNoClientCol = errors.New("csv header needs a client_id or client_email column")
	ErrNoQtyCol    = errors.New("csv header needs a bw_quantity or color_quantity column")
)

var knownColumns = map[string]bool{
	"client_id": true, "client_email": true, "agent_id": true, "agent_email": true,
	"bw_quantity": true, "color_quantity": true, "paper_dimensions": true, "paper_type": true,
	"finishing": true, "notes": true, "external_order_id": true, "order_date": true,
}

var (
	standardSizes = map[string]bool{
		"A0": true, "A1": true, "A2": true, "A3": true, "A4": true, "A5": true, "A6": true, "A7": true,
		"LETTER": true, "LEGAL": true, "TABLOID": true,
	}
	customSize = regexp.MustCompile(`^\d+x\d+(mm|cm)$`)
)

var validate = validator.New()

// TooManyRowsError is returned when a file exceeds the configured row limit.
type TooManyRowsError struct {
	Max int
}

func (e *TooManyRowsError) Error() string {
	return fmt.Sprintf("csv file has more than %d rows", e.Max)
}

// Parse reads a CSV file with a header row. Column names are matched case
// insensitively and unknown columns are ignored. Row numbers start at 2, the
// first line after the header. maxRows <= 0 disables the row limit.
func Parse(r io.Reader, maxRows int) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if knownColumns[name] {
			if _, dup := cols[name]; !dup {
				cols[name] = i
			}
		}
	}
	if !has(cols, "client_id") && !has(cols, "client_email") {
		return nil, ErrNoClientCol
	}
	if !has(cols, "bw_quantity") && !has(cols, "color_quantity") {
		return nil, ErrNoQtyCol
	}

	var rows []Row
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		if blank(record) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, &TooManyRowsError{Max: maxRows}
		}
		raw := make(map[string]string, len(cols))
		for name, i := range cols {
			if i < len(record) {
				raw[name] = strings.TrimSpace(record[i])
			}
		}
		rows = append(rows, parseRow(line, raw))
	}
	return rows, nil
}

// RowPatch replaces column values of one row, keyed by column name.
type RowPatch map[string]string

// Corrections maps a row number to the values an administrator fixed.
type Corrections map[int]RowPatch

// Apply re-parses every corrected row with its patched values, so a
// correction is validated exactly like the uploaded file. Unknown rows or
// columns are rejected.
func (c Corrections) Apply(rows []Row) ([]Row, error) {
	if len(c) == 0 {
		return rows, nil
	}
	index := make(map[int]int, len(rows))
	for i, row := range rows {
		index[row.Number] = i
	}

	out := slices.Clone(rows)
	for _, number := range slices.Sorted(maps.Keys(c)) {
		i, ok := index[number]
		if !ok {
			return nil, fmt.Errorf("correction for row %d: no such row", number)
		}
		raw := maps.Clone(out[i].raw)
		if raw == nil {
			raw = make(map[string]string)
		}
		for name, value := range c[number] {
			name = strings.ToLower(strings.TrimSpace(name))
			if !knownColumns[name] {
				return nil, fmt.Errorf("correction for row %d: unknown column %q", number, name)
			}
			raw[name] = strings.TrimSpace(value)
		}
		out[i] = parseRow(number, raw)
	}
	return out, nil
}

// ParseBytes is Parse over an in-memory payload.
func ParseBytes(payload []byte, maxRows int) ([]Row, error) {
	return Parse(bytes.NewReader(payload), maxRows)
}

func parseRow(line int, raw map[string]string) Row {
	field := func(name string) string { return raw[name] }
	row := Row{
		raw:             raw,
		Number:          line,
		ClientEmail:     strings.ToLower(field("client_email")),
		AgentEmail:      strings.ToLower(field("agent_email")),
		PaperDimensions: field("paper_dimensions"),
		PaperType:       field("paper_type"),
		Finishing:       field("finishing"),
		Notes:           field("notes"),
		ExternalOrderID: field("external_order_id"),
	}

	if v := field("client_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			row.invalid("invalid client_id %q", v)
		} else {
			row.ClientID = &id
		}
	}
	if v := field("agent_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			row.invalid("invalid agent_id %q", v)
		} else {
			row.AgentID = &id
		}
	}
	if row.ClientID == nil && row.ClientEmail == "" && field("client_id") == "" {
		row.invalid("client_id or client_email is required")
	}
	if row.ClientEmail != "" {
		if err := validate.Var(row.ClientEmail, "email"); err != nil {
			row.invalid("invalid client_email %q", row.ClientEmail)
		}
	}
	if row.AgentEmail != "" {
		if err := validate.Var(row.AgentEmail, "email"); err != nil {
			row.invalid("invalid agent_email %q", row.AgentEmail)
		}
	}

	var bwOK, colorOK bool
	row.BWQuantity, bwOK = quantity(&row, "bw_quantity", field("bw_quantity"))
	row.ColorQuantity, colorOK = quantity(&row, "color_quantity", field("color_quantity"))
	if bwOK && colorOK && row.BWQuantity == 0 && row.ColorQuantity == 0 {
		row.invalid("bw_quantity or color_quantity must be greater than 0")
	}

	if d := row.PaperDimensions; d != "" {
		if !standardSizes[strings.ToUpper(d)] && !customSize.MatchString(strings.ToLower(d)) {
			row.invalid("invalid paper_dimensions %q: use A0-A7, Letter, Legal, Tabloid or WIDTHxHEIGHTmm", d)
		}
	}

	if v := field("order_date"); v != "" {
		t, err := parseDate(v)
		if err != nil {
			row.invalid("invalid order_date %q", v)
		} else {
			row.OrderedAt = &t
		}
	}
	return row
}

func quantity(row *Row, name, v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		row.invalid("%s must be a whole number, got %q", name, v)
		return 0, false
	}
	if n < 0 {
		row.invalid("%s must not be negative", name)
		return 0, false
	}
	return n, true
}

func parseDate(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func has(cols map[string]int, name string) bool {
	_, ok := cols[name]
	return ok
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
