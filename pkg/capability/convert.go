package capability

import (
	"fmt"

	"go.starlark.net/starlark"
)

// goToStarlark converts a plain Go value into its Starlark equivalent
func goToStarlark(v interface{}) starlark.Value {
	switch val := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(val)
	case int:
		return starlark.MakeInt(val)
	case int64:
		return starlark.MakeInt64(val)
	case float64:
		return starlark.Float(val)
	case string:
		return starlark.String(val)
	case []string:
		elems := make([]starlark.Value, len(val))
		for i, s := range val {
			elems[i] = starlark.String(s)
		}
		return starlark.NewList(elems)
	case []interface{}:
		elems := make([]starlark.Value, len(val))
		for i, elem := range val {
			elems[i] = goToStarlark(elem)
		}
		return starlark.NewList(elems)
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, elem := range val {
			_ = dict.SetKey(starlark.String(k), goToStarlark(elem))
		}
		return dict
	default:
		return starlark.String(fmt.Sprintf("%v", val))
	}
}

// asFloat accepts Starlark ints and floats
func asFloat(v starlark.Value) (float64, error) {
	switch val := v.(type) {
	case starlark.Float:
		return float64(val), nil
	case starlark.Int:
		f, _ := starlark.AsFloat(val)
		return f, nil
	default:
		return 0, fmt.Errorf("want int or float, got %s", v.Type())
	}
}

// floatSlice converts an iterable of numbers into a []float64
func floatSlice(v starlark.Value) ([]float64, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want a sequence of numbers, got %s", v.Type())
	}

	var out []float64
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		f, err := asFloat(elem)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// stringSlice converts an iterable of strings into a []string. Non-string
// elements are stringified, which matches what scripts expect from labels.
func stringSlice(v starlark.Value) ([]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want a sequence, got %s", v.Type())
	}

	var out []string
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		if s, ok := starlark.AsString(elem); ok {
			out = append(out, s)
		} else {
			out = append(out, elem.String())
		}
	}
	return out, nil
}

// rowsFromValue converts a list of lists into [][]string for tabular writers
func rowsFromValue(v starlark.Value) ([][]string, error) {
	iterable, ok := v.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("want a list of rows, got %s", v.Type())
	}

	var rows [][]string
	iter := iterable.Iterate()
	defer iter.Done()

	var elem starlark.Value
	for iter.Next(&elem) {
		row, err := stringSlice(elem)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", len(rows), err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
