package capability

import (
	"github.com/montanaflynn/stats"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// newStatsModule builds the "stats" capability on montanaflynn/stats
func newStatsModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "stats",
		Members: starlark.StringDict{
			"mean":        statsBuiltin("stats.mean", stats.Mean),
			"median":      statsBuiltin("stats.median", stats.Median),
			"stdev":       statsBuiltin("stats.stdev", stats.StandardDeviation),
			"variance":    statsBuiltin("stats.variance", stats.Variance),
			"min":         statsBuiltin("stats.min", stats.Min),
			"max":         statsBuiltin("stats.max", stats.Max),
			"sum":         statsBuiltin("stats.sum", stats.Sum),
			"percentile":  starlark.NewBuiltin("stats.percentile", statsPercentile),
			"correlation": starlark.NewBuiltin("stats.correlation", statsCorrelation),
		},
	}, nil
}

// statsBuiltin adapts a single-series stats function into a Starlark builtin
func statsBuiltin(name string, fn func(stats.Float64Data) (float64, error)) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var data starlark.Value
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data); err != nil {
			return nil, err
		}
		series, err := floatSlice(data)
		if err != nil {
			return nil, err
		}
		result, err := fn(series)
		if err != nil {
			return nil, err
		}
		return starlark.Float(result), nil
	})
}

func statsPercentile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	var pct float64
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data, "percent", &pct); err != nil {
		return nil, err
	}
	series, err := floatSlice(data)
	if err != nil {
		return nil, err
	}
	result, err := stats.Percentile(series, pct)
	if err != nil {
		return nil, err
	}
	return starlark.Float(result), nil
}

func statsCorrelation(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var xs, ys starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "x", &xs, "y", &ys); err != nil {
		return nil, err
	}
	xSeries, err := floatSlice(xs)
	if err != nil {
		return nil, err
	}
	ySeries, err := floatSlice(ys)
	if err != nil {
		return nil, err
	}
	result, err := stats.Correlation(xSeries, ySeries)
	if err != nil {
		return nil, err
	}
	return starlark.Float(result), nil
}
