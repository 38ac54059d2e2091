package capability

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/pathguard"
)

// newCSVModule builds the "csv" capability
func newCSVModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "csv",
		Members: starlark.StringDict{
			"read":        starlark.NewBuiltin("csv.read", csvRead),
			"read_dicts":  starlark.NewBuiltin("csv.read_dicts", csvReadDicts),
			"write":       starlark.NewBuiltin("csv.write", csvWrite),
			"write_dicts": starlark.NewBuiltin("csv.write_dicts", csvWriteDicts),
		},
	}, nil
}

func csvReadRows(thread *starlark.Thread, path string) ([][]string, error) {
	resolved, err := ResolvePath(thread, path, pathguard.ModeRead)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return rows, nil
}

func csvRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	rows, err := csvReadRows(thread, path)
	if err != nil {
		return nil, err
	}

	elems := make([]starlark.Value, len(rows))
	for i, row := range rows {
		elems[i] = goToStarlark(row)
	}
	return starlark.NewList(elems), nil
}

func csvReadDicts(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	rows, err := csvReadRows(thread, path)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return starlark.NewList(nil), nil
	}

	header := rows[0]
	elems := make([]starlark.Value, 0, len(rows)-1)
	for _, row := range rows[1:] {
		dict := starlark.NewDict(len(header))
		for i, key := range header {
			value := ""
			if i < len(row) {
				value = row[i]
			}
			_ = dict.SetKey(starlark.String(key), starlark.String(value))
		}
		elems = append(elems, dict)
	}
	return starlark.NewList(elems), nil
}

func csvWriteRows(thread *starlark.Thread, path string, rows [][]string) (starlark.Value, error) {
	resolved, err := ResolvePath(thread, path, pathguard.ModeWrite)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	file, err := os.Create(resolved)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	return relativeToSession(thread, resolved)
}

func csvWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var rowsValue starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "rows", &rowsValue); err != nil {
		return nil, err
	}

	rows, err := rowsFromValue(rowsValue)
	if err != nil {
		return nil, err
	}
	return csvWriteRows(thread, path, rows)
}

func csvWriteDicts(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	var rowsValue starlark.Value
	var fieldsValue starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "rows", &rowsValue, "fields?", &fieldsValue); err != nil {
		return nil, err
	}

	iterable, ok := rowsValue.(starlark.Iterable)
	if !ok {
		return nil, fmt.Errorf("csv.write_dicts: want a list of dicts, got %s", rowsValue.Type())
	}

	var dicts []*starlark.Dict
	iter := iterable.Iterate()
	var elem starlark.Value
	for iter.Next(&elem) {
		dict, ok := elem.(*starlark.Dict)
		if !ok {
			iter.Done()
			return nil, fmt.Errorf("csv.write_dicts: row %d is %s, want dict", len(dicts), elem.Type())
		}
		dicts = append(dicts, dict)
	}
	iter.Done()

	var fields []string
	if fieldsValue != nil && fieldsValue != starlark.None {
		var err error
		fields, err = stringSlice(fieldsValue)
		if err != nil {
			return nil, err
		}
	} else if len(dicts) > 0 {
		for _, item := range dicts[0].Items() {
			if key, ok := starlark.AsString(item[0]); ok {
				fields = append(fields, key)
			}
		}
	}

	rows := [][]string{fields}
	for _, dict := range dicts {
		row := make([]string, len(fields))
		for i, field := range fields {
			value, found, _ := dict.Get(starlark.String(field))
			if !found {
				continue
			}
			if s, ok := starlark.AsString(value); ok {
				row[i] = s
			} else {
				row[i] = value.String()
			}
		}
		rows = append(rows, row)
	}
	return csvWriteRows(thread, path, rows)
}
