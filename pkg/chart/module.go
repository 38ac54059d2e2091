package chart

import (
	"fmt"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/capability"
	"github.com/harun/crucible/pkg/pathguard"
)

const surfaceLocalKey = "crucible.charts"

// WithSurface attaches a session's chart surface to a Starlark thread.
func WithSurface(thread *starlark.Thread, s *Surface) {
	thread.SetLocal(surfaceLocalKey, s)
}

// SurfaceFromThread returns the surface attached to a thread.
func SurfaceFromThread(thread *starlark.Thread) (*Surface, error) {
	s, ok := thread.Local(surfaceLocalKey).(*Surface)
	if !ok || s == nil {
		return nil, ErrNoSurface
	}
	return s, nil
}

// NewModule builds the "chart" capability. The module itself is
// stateless and shared; all plotting state lives on the per-session
// surface reached through the thread.
func NewModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "chart",
		Members: starlark.StringDict{
			"line":    starlark.NewBuiltin("chart.line", chartLine),
			"scatter": starlark.NewBuiltin("chart.scatter", chartScatter),
			"bar":     starlark.NewBuiltin("chart.bar", chartBar),
			"figure":  starlark.NewBuiltin("chart.figure", chartFigure),
			"show":    starlark.NewBuiltin("chart.show", chartShow),
			"savefig": starlark.NewBuiltin("chart.savefig", chartSavefig),
		},
	}, nil
}

func chartLine(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return addXYSeries(thread, b, args, kwargs, lineSeries)
}

func chartScatter(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return addXYSeries(thread, b, args, kwargs, scatterSeries)
}

func addXYSeries(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple, kind seriesKind) (starlark.Value, error) {
	var xValue, yValue starlark.Value
	var label, title, xLabel, yLabel string
	err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"x", &xValue, "y?", &yValue,
		"label?", &label, "title?", &title, "xlabel?", &xLabel, "ylabel?", &yLabel)
	if err != nil {
		return nil, err
	}

	xs, err := floats(b.Name(), xValue)
	if err != nil {
		return nil, err
	}
	var ys []float64
	if yValue == nil || yValue == starlark.None {
		// Single-series shorthand: the first argument holds the y
		// values and x becomes the index.
		ys = xs
		xs = make([]float64, len(ys))
		for i := range xs {
			xs[i] = float64(i)
		}
	} else {
		ys, err = floats(b.Name(), yValue)
		if err != nil {
			return nil, err
		}
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%s: x has %d values, y has %d", b.Name(), len(xs), len(ys))
	}

	surface, err := SurfaceFromThread(thread)
	if err != nil {
		return nil, err
	}

	surface.mu.Lock()
	defer surface.mu.Unlock()

	f := surface.current()
	if len(f.bars) > 0 {
		f = surface.newFigureLocked()
	}
	f.series = append(f.series, series{kind: kind, label: label, xs: xs, ys: ys})
	applyLabels(f, title, xLabel, yLabel)
	return starlark.None, nil
}

func chartBar(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var labelsValue, valuesValue starlark.Value
	var title string
	err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"labels", &labelsValue, "values", &valuesValue, "title?", &title)
	if err != nil {
		return nil, err
	}

	labels, err := strs(b.Name(), labelsValue)
	if err != nil {
		return nil, err
	}
	values, err := floats(b.Name(), valuesValue)
	if err != nil {
		return nil, err
	}
	if len(labels) != len(values) {
		return nil, fmt.Errorf("%s: %d labels for %d values", b.Name(), len(labels), len(values))
	}

	surface, err := SurfaceFromThread(thread)
	if err != nil {
		return nil, err
	}

	surface.mu.Lock()
	defer surface.mu.Unlock()

	f := surface.current()
	if len(f.series) > 0 || len(f.bars) > 0 {
		f = surface.newFigureLocked()
	}
	for i := range labels {
		f.bars = append(f.bars, barValue{label: labels[i], value: values[i]})
	}
	applyLabels(f, title, "", "")
	return starlark.None, nil
}

func chartFigure(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	surface, err := SurfaceFromThread(thread)
	if err != nil {
		return nil, err
	}
	surface.NewFigure()
	return starlark.None, nil
}

func chartShow(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	surface, err := SurfaceFromThread(thread)
	if err != nil {
		return nil, err
	}
	if err := surface.CaptureOpen(); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func chartSavefig(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	surface, err := SurfaceFromThread(thread)
	if err != nil {
		return nil, err
	}
	png, err := surface.CaptureCurrent()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}

	resolved, err := capability.ResolvePath(thread, path, pathguard.ModeWrite)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if err := os.WriteFile(resolved, png, 0o644); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.None, nil
}

func applyLabels(f *Figure, title, xLabel, yLabel string) {
	if title != "" {
		f.title = title
	}
	if xLabel != "" {
		f.xLabel = xLabel
	}
	if yLabel != "" {
		f.yLabel = yLabel
	}
}

func floats(name string, v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want a sequence of numbers, got %s", name, v.Type())
	}

	var out []float64
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		f, ok := starlark.AsFloat(elem)
		if !ok {
			return nil, fmt.Errorf("%s: element %d is %s, want number", name, len(out), elem.Type())
		}
		out = append(out, f)
	}
	return out, nil
}

func strs(name string, v starlark.Value) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("%s: want a sequence of strings, got %s", name, v.Type())
	}

	var out []string
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		s, ok := starlark.AsString(elem)
		if !ok {
			s = elem.String()
		}
		out = append(out, s)
	}
	return out, nil
}
