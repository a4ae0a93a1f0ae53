package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const headRows = 5

type ColumnStats struct {
	Count int     `json:"count"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
	Min   float64 `json:"min"`
	Q25   float64 `json:"25%"`
	Q50   float64 `json:"50%"`
	Q75   float64 `json:"75%"`
	Max   float64 `json:"max"`
}

type ColumnProfile struct {
	Name    string       `json:"name"`
	Type    ColumnType   `json:"dtype"`
	NonNull int          `json:"non_null"`
	Unique  int          `json:"unique"`
	Stats   *ColumnStats `json:"stats,omitempty"`
}

// Profile is the dataset summary handed to the analysis prompt: shape, dtypes,
// first rows and descriptive statistics of numeric columns.
type Profile struct {
	Name      string          `json:"name"`
	Rows      int             `json:"rows"`
	Cols      int             `json:"cols"`
	Truncated bool            `json:"truncated,omitempty"`
	Columns   []ColumnProfile `json:"columns"`
	Head      [][]string      `json:"head"`
}

func (t *Table) Profile() Profile {
	p := Profile{
		Name:      t.Name,
		Rows:      len(t.Rows),
		Cols:      len(t.Columns),
		Truncated: t.Truncated,
		Columns:   make([]ColumnProfile, len(t.Columns)),
	}

	for i, name := range t.Columns {
		values := t.column(i)
		cp := ColumnProfile{Name: name, Type: t.Types[i]}
		unique := make(map[string]struct{}, len(values))
		for _, v := range values {
			if v == "" {
				continue
			}
			cp.NonNull++
			unique[v] = struct{}{}
		}
		cp.Unique = len(unique)
		if cp.Type == TypeInteger || cp.Type == TypeFloat {
			cp.Stats = describe(t.Floats(name))
		}
		p.Columns[i] = cp
	}

	n := headRows
	if len(t.Rows) < n {
		n = len(t.Rows)
	}
	for _, row := range t.Rows[:n] {
		p.Head = append(p.Head, append([]string(nil), row...))
	}
	return p
}

func describe(values []float64) *ColumnStats {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return &ColumnStats{
		Count: len(sorted),
		Mean:  mean,
		Std:   std,
		Min:   floats.Min(sorted),
		Q25:   stat.Quantile(0.25, stat.LinInterp, sorted, nil),
		Q50:   stat.Quantile(0.5, stat.LinInterp, sorted, nil),
		Q75:   stat.Quantile(0.75, stat.LinInterp, sorted, nil),
		Max:   floats.Max(sorted),
	}
}

// Text renders the profile the way it is shown to models.
func (p Profile) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %s\nShape: (%d, %d)\n", p.Name, p.Rows, p.Cols)
	if p.Truncated {
		b.WriteString("Note: only the first rows were loaded.\n")
	}

	b.WriteString("\nColumns:\n")
	for _, c := range p.Columns {
		fmt.Fprintf(&b, "- %s: %s (non-null %d, unique %d)\n", c.Name, c.Type, c.NonNull, c.Unique)
	}

	if len(p.Head) > 0 {
		b.WriteString("\nFirst rows:\n")
		names := make([]string, len(p.Columns))
		for i, c := range p.Columns {
			names[i] = c.Name
		}
		b.WriteString(strings.Join(names, " | "))
		b.WriteString("\n")
		for _, row := range p.Head {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
	}

	var described bool
	for _, c := range p.Columns {
		if c.Stats == nil {
			continue
		}
		if !described {
			b.WriteString("\nDescriptive statistics:\n")
			described = true
		}
		s := c.Stats
		fmt.Fprintf(&b, "- %s: count=%d mean=%.4g std=%.4g min=%.4g 25%%=%.4g 50%%=%.4g 75%%=%.4g max=%.4g\n",
			c.Name, s.Count, s.Mean, s.Std, s.Min, s.Q25, s.Q50, s.Q75, s.Max)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Fields is the profile in the loose form stored in a context payload.
func (p Profile) Fields() map[string]any {
	columns := make([]any, len(p.Columns))
	dtypes := make(map[string]any, len(p.Columns))
	for i, c := range p.Columns {
		columns[i] = c.Name
		dtypes[c.Name] = string(c.Type)
	}
	return map[string]any{
		"name":    p.Name,
		"shape":   []any{p.Rows, p.Cols},
		"columns": columns,
		"dtypes":  dtypes,
	}
}
