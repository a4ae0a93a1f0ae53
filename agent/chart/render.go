package chart

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	datasetx "github.com/tanpawarit/multiagent-analyst/agent/dataset"
)

const (
	maxBarCategories = 30
	histogramBins    = 20
)

type Renderer struct {
	Width  vg.Length
	Height vg.Length
}

func NewRenderer() *Renderer {
	return &Renderer{Width: 8 * vg.Inch, Height: 4.5 * vg.Inch}
}

// Render draws spec over table and returns PNG bytes.
func (r *Renderer) Render(table *datasetx.Table, spec Spec) ([]byte, error) {
	if err := spec.Check(table); err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = spec.DisplayTitle()
	p.X.Label.Text = spec.X
	p.Y.Label.Text = spec.Y
	p.Add(plotter.NewGrid())

	var err error
	switch spec.Kind {
	case KindLine:
		err = addLine(p, table, spec)
	case KindBar:
		err = addBars(p, table, spec)
	case KindScatter:
		err = addScatter(p, table, spec)
	case KindHistogram:
		err = addHistogram(p, table, spec)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s chart: %w", spec.Kind, err)
	}

	w, err := p.WriterTo(r.Width, r.Height, "png")
	if err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return buf.Bytes(), nil
}

type group struct {
	key   string
	x     float64
	sum   float64
	count int
}

func (g group) value(agg Aggregate) float64 {
	switch agg {
	case AggregateMean:
		if g.count == 0 {
			return 0
		}
		return g.sum / float64(g.count)
	case AggregateCount:
		return float64(g.count)
	default:
		return g.sum
	}
}

// groupRows buckets rows by their raw x value in first-seen order. xValue
// maps a raw x cell to a coordinate and reports whether the row is usable.
func groupRows(table *datasetx.Table, spec Spec, xValue func(string) (float64, bool)) []*group {
	xi := table.ColumnIndex(spec.X)
	yi := table.ColumnIndex(spec.Y)

	index := make(map[string]*group)
	var order []*group
	for _, row := range table.Rows {
		x, ok := xValue(row[xi])
		if !ok {
			continue
		}
		var y float64
		if spec.Aggregate != AggregateCount || yi >= 0 {
			if yi < 0 {
				continue
			}
			v, ok := datasetx.ParseFloat(row[yi])
			if !ok && spec.Aggregate != AggregateCount {
				continue
			}
			y = v
		}
		g, exists := index[row[xi]]
		if !exists {
			g = &group{key: row[xi], x: x}
			index[row[xi]] = g
			order = append(order, g)
		}
		g.sum += y
		g.count++
	}
	return order
}

func addLine(p *plot.Plot, table *datasetx.Table, spec Spec) error {
	typ, _ := table.TypeOf(spec.X)

	var xValue func(string) (float64, bool)
	switch typ {
	case datasetx.TypeDatetime:
		xValue = func(s string) (float64, bool) {
			ts, ok := datasetx.ParseTime(s)
			return float64(ts.Unix()), ok
		}
		p.X.Tick.Marker = plot.TimeTicks{Format: "2006-01-02"}
	case datasetx.TypeInteger, datasetx.TypeFloat:
		xValue = datasetx.ParseFloat
	default:
		return addBars(p, table, spec)
	}

	groups := groupRows(table, spec, xValue)
	if len(groups) == 0 {
		return fmt.Errorf("no plottable rows for %s", spec.X)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].x < groups[j].x })

	agg := spec.Aggregate
	if agg == "" || agg == AggregateNone {
		agg = AggregateSum
	}
	pts := make(plotter.XYs, len(groups))
	for i, g := range groups {
		pts[i].X = g.x
		pts[i].Y = g.value(agg)
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	p.Add(line)
	return nil
}

func addBars(p *plot.Plot, table *datasetx.Table, spec Spec) error {
	groups := groupRows(table, spec, func(s string) (float64, bool) {
		return 0, strings.TrimSpace(s) != ""
	})
	if len(groups) == 0 {
		return fmt.Errorf("no plottable rows for %s", spec.X)
	}

	agg := spec.Aggregate
	if agg == "" || agg == AggregateNone {
		agg = AggregateSum
	}
	if len(groups) > maxBarCategories {
		sort.SliceStable(groups, func(i, j int) bool { return groups[i].value(agg) > groups[j].value(agg) })
		groups = groups[:maxBarCategories]
	}

	values := make(plotter.Values, len(groups))
	labels := make([]string, len(groups))
	for i, g := range groups {
		values[i] = g.value(agg)
		labels[i] = g.key
	}

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return err
	}
	p.Add(bars)
	p.NominalX(labels...)
	return nil
}

func addScatter(p *plot.Plot, table *datasetx.Table, spec Spec) error {
	xi := table.ColumnIndex(spec.X)
	yi := table.ColumnIndex(spec.Y)

	var pts plotter.XYs
	for _, row := range table.Rows {
		x, okX := datasetx.ParseFloat(row[xi])
		y, okY := datasetx.ParseFloat(row[yi])
		if okX && okY {
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("no numeric pairs for %s/%s", spec.X, spec.Y)
	}

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	p.Add(scatter)
	return nil
}

func addHistogram(p *plot.Plot, table *datasetx.Table, spec Spec) error {
	values := plotter.Values(table.Floats(spec.X))
	if len(values) == 0 {
		return fmt.Errorf("no numeric values for %s", spec.X)
	}

	hist, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return err
	}
	p.Y.Label.Text = "count"
	p.Add(hist)
	return nil
}
