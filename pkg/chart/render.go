package chart

import (
	"bytes"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"
)

// renderFigure encodes a figure as PNG. Bar figures render as a bar
// chart; everything else as an XY chart with one series per plot call.
func renderFigure(f *Figure) ([]byte, error) {
	if f.empty() {
		return nil, ErrEmptyFigure
	}

	var buf bytes.Buffer
	if len(f.bars) > 0 {
		graph := gochart.BarChart{
			Title:    f.title,
			Width:    defaultWidth,
			Height:   defaultHeight,
			BarWidth: 48,
			Bars:     make([]gochart.Value, len(f.bars)),
		}
		for i, b := range f.bars {
			graph.Bars[i] = gochart.Value{Label: b.label, Value: b.value}
		}
		if err := graph.Render(gochart.PNG, &buf); err != nil {
			return nil, fmt.Errorf("render bar chart: %w", err)
		}
		return buf.Bytes(), nil
	}

	graph := gochart.Chart{
		Title:  f.title,
		Width:  defaultWidth,
		Height: defaultHeight,
		XAxis:  gochart.XAxis{Name: f.xLabel},
		YAxis:  gochart.YAxis{Name: f.yLabel},
	}

	labelled := false
	for _, s := range f.series {
		cs := gochart.ContinuousSeries{
			Name:    s.label,
			XValues: s.xs,
			YValues: s.ys,
		}
		if s.kind == scatterSeries {
			cs.Style = gochart.Style{
				StrokeWidth: gochart.Disabled,
				DotWidth:    4,
			}
		}
		if s.label != "" {
			labelled = true
		}
		graph.Series = append(graph.Series, cs)
	}
	if labelled {
		graph.Elements = []gochart.Renderable{gochart.Legend(&graph)}
	}

	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	return buf.Bytes(), nil
}
