package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
)

type ColumnType string

const (
	TypeInteger  ColumnType = "int64"
	TypeFloat    ColumnType = "float64"
	TypeBool     ColumnType = "bool"
	TypeDatetime ColumnType = "datetime"
	TypeString   ColumnType = "object"
)

// DefaultMaxRows bounds how much of a file is loaded into memory.
const DefaultMaxRows = 200_000

var ErrUnsupportedFormat = errors.New("only .csv datasets are supported")

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
	"2006-01",
}

type Table struct {
	Name      string
	Columns   []string
	Types     []ColumnType
	Rows      [][]string
	Truncated bool
}

// Load reads a CSV dataset. The first record is the header.
func Load(ref *contractx.DatasetRef, maxRows int) (*Table, error) {
	if ref.IsZero() || strings.TrimSpace(ref.Path) == "" {
		return nil, fmt.Errorf("%w: dataset path is empty", contractx.ErrDataset)
	}
	if err := CheckExtension(ref.Path); err != nil {
		return nil, err
	}

	f, err := os.Open(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrDataset, err)
	}
	defer f.Close()

	name := ref.Name
	if name == "" {
		name = filepath.Base(ref.Path)
	}
	return Read(f, name, maxRows)
}

func CheckExtension(path string) error {
	if !strings.EqualFold(filepath.Ext(path), ".csv") {
		return fmt.Errorf("%w: %w: %s", contractx.ErrDataset, ErrUnsupportedFormat, filepath.Base(path))
	}
	return nil
}

func Read(r io.Reader, name string, maxRows int) (*Table, error) {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s is empty", contractx.ErrDataset, name)
		}
		return nil, fmt.Errorf("%w: read header: %v", contractx.ErrDataset, err)
	}

	t := &Table{Name: name, Columns: make([]string, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		t.Columns[i] = h
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read row %d: %v", contractx.ErrDataset, len(t.Rows)+1, err)
		}
		if len(t.Rows) >= maxRows {
			t.Truncated = true
			break
		}
		row := make([]string, len(t.Columns))
		for i := range row {
			if i < len(record) {
				row[i] = strings.TrimSpace(record[i])
			}
		}
		t.Rows = append(t.Rows, row)
	}

	t.Types = make([]ColumnType, len(t.Columns))
	for i := range t.Columns {
		t.Types[i] = inferType(t.column(i))
	}
	return t, nil
}

func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

func (t *Table) TypeOf(name string) (ColumnType, bool) {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return "", false
	}
	return t.Types[idx], true
}

func (t *Table) column(idx int) []string {
	out := make([]string, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[idx]
	}
	return out
}

// Floats returns the numeric values of a column, skipping blanks and
// unparsable cells.
func (t *Table) Floats(name string) []float64 {
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return nil
	}
	var out []float64
	for _, row := range t.Rows {
		if v, ok := ParseFloat(row[idx]); ok {
			out = append(out, v)
		}
	}
	return out
}

func (t *Table) IsNumeric(name string) bool {
	typ, ok := t.TypeOf(name)
	return ok && (typ == TypeInteger || typ == TypeFloat)
}

func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func inferType(values []string) ColumnType {
	var seen, ints, floats, bools, times int
	for _, v := range values {
		if v == "" {
			continue
		}
		seen++
		if _, err := strconv.ParseInt(v, 10, 64); err == nil {
			ints++
			continue
		}
		if _, ok := ParseFloat(v); ok {
			floats++
			continue
		}
		if _, err := strconv.ParseBool(v); err == nil {
			bools++
			continue
		}
		if _, ok := ParseTime(v); ok {
			times++
		}
	}

	switch {
	case seen == 0:
		return TypeString
	case ints == seen:
		return TypeInteger
	case ints+floats == seen:
		return TypeFloat
	case bools == seen:
		return TypeBool
	case times == seen:
		return TypeDatetime
	default:
		return TypeString
	}
}
