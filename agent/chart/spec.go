package chart

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/multiagent-analyst/agent/contract"
	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
)

type Kind string

const (
	KindLine      Kind = "line"
	KindBar       Kind = "bar"
	KindScatter   Kind = "scatter"
	KindHistogram Kind = "histogram"
)

type Aggregate string

const (
	AggregateNone  Aggregate = "none"
	AggregateSum   Aggregate = "sum"
	AggregateMean  Aggregate = "mean"
	AggregateCount Aggregate = "count"
)

// SpecListSchema is the JSON schema a model's chart reply must satisfy.
const SpecListSchema = `{
  "type": "array",
  "minItems": 1,
  "maxItems": 3,
  "items": {
    "type": "object",
    "properties": {
      "kind": {"type": "string", "enum": ["line", "bar", "scatter", "histogram"]},
      "title": {"type": "string"},
      "x": {"type": "string", "minLength": 1},
      "y": {"type": "string"},
      "aggregate": {"type": "string", "enum": ["none", "sum", "mean", "count", ""]}
    },
    "required": ["kind", "x"]
  }
}`

type Spec struct {
	Kind      Kind      `json:"kind"`
	Title     string    `json:"title"`
	X         string    `json:"x"`
	Y         string    `json:"y,omitempty"`
	Aggregate Aggregate `json:"aggregate,omitempty"`
}

// Check verifies the chart against the columns of table.
func (s Spec) Check(table *datasetx.Table) error {
	if table.ColumnIndex(s.X) < 0 {
		return fmt.Errorf("%w: unknown x column %q", contractx.ErrValidation, s.X)
	}
	switch s.Kind {
	case KindHistogram:
		if !table.IsNumeric(s.X) {
			return fmt.Errorf("%w: histogram column %q is not numeric", contractx.ErrValidation, s.X)
		}
		return nil
	case KindLine, KindBar, KindScatter:
	default:
		return fmt.Errorf("%w: unsupported chart kind %q", contractx.ErrValidation, s.Kind)
	}

	if s.Aggregate == AggregateCount && strings.TrimSpace(s.Y) == "" {
		return nil
	}
	if table.ColumnIndex(s.Y) < 0 {
		return fmt.Errorf("%w: unknown y column %q", contractx.ErrValidation, s.Y)
	}
	if !table.IsNumeric(s.Y) && s.Aggregate != AggregateCount {
		return fmt.Errorf("%w: y column %q is not numeric", contractx.ErrValidation, s.Y)
	}
	if s.Kind == KindScatter && !table.IsNumeric(s.X) {
		return fmt.Errorf("%w: scatter x column %q is not numeric", contractx.ErrValidation, s.X)
	}
	return nil
}

func (s Spec) DisplayTitle() string {
	if t := strings.TrimSpace(s.Title); t != "" {
		return t
	}
	switch s.Kind {
	case KindHistogram:
		return "Distribution of " + s.X
	default:
		if s.Y == "" {
			return "Count by " + s.X
		}
		return s.Y + " by " + s.X
	}
}

// DefaultSpecs picks a reasonable chart when no model-provided spec is usable:
// a trend over the first date column, else a bar chart over the first
// categorical column, else a histogram of the first numeric column.
func DefaultSpecs(table *datasetx.Table) []Spec {
	var dateCol, catCol, numCol string
	for i, name := range table.Columns {
		switch table.Types[i] {
		case datasetx.TypeDatetime:
			if dateCol == "" {
				dateCol = name
			}
		case datasetx.TypeString, datasetx.TypeBool:
			if catCol == "" {
				catCol = name
			}
		case datasetx.TypeInteger, datasetx.TypeFloat:
			if numCol == "" {
				numCol = name
			}
		}
	}

	switch {
	case dateCol != "" && numCol != "":
		return []Spec{{Kind: KindLine, X: dateCol, Y: numCol, Aggregate: AggregateSum}}
	case catCol != "" && numCol != "":
		return []Spec{{Kind: KindBar, X: catCol, Y: numCol, Aggregate: AggregateSum}}
	case numCol != "":
		return []Spec{{Kind: KindHistogram, X: numCol}}
	case catCol != "":
		return []Spec{{Kind: KindBar, X: catCol, Aggregate: AggregateCount}}
	default:
		return nil
	}
}
