package capability

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/pathguard"
)

// newXLSXModule builds the "xlsx" spreadsheet capability on excelize
func newXLSXModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "xlsx",
		Members: starlark.StringDict{
			"read":   starlark.NewBuiltin("xlsx.read", xlsxRead),
			"sheets": starlark.NewBuiltin("xlsx.sheets", xlsxSheets),
			"write":  starlark.NewBuiltin("xlsx.write", xlsxWrite),
		},
	}, nil
}

func xlsxOpen(thread *starlark.Thread, path string) (*excelize.File, error) {
	resolved, err := ResolvePath(thread, path, pathguard.ModeRead)
	if err != nil {
		return nil, err
	}
	file, err := excelize.OpenFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return file, nil
}

func xlsxRead(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, sheet string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "sheet?", &sheet); err != nil {
		return nil, err
	}

	file, err := xlsxOpen(thread, path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if sheet == "" {
		sheets := file.GetSheetList()
		if len(sheets) == 0 {
			return starlark.NewList(nil), nil
		}
		sheet = sheets[0]
	}

	rows, err := file.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}

	elems := make([]starlark.Value, len(rows))
	for i, row := range rows {
		elems[i] = goToStarlark(row)
	}
	return starlark.NewList(elems), nil
}

func xlsxSheets(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	file, err := xlsxOpen(thread, path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return goToStarlark(file.GetSheetList()), nil
}

func xlsxWrite(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, sheet string
	var rowsValue starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "rows", &rowsValue, "sheet?", &sheet); err != nil {
		return nil, err
	}
	if sheet == "" {
		sheet = "Sheet1"
	}

	rows, err := rowsFromValue(rowsValue)
	if err != nil {
		return nil, err
	}

	resolved, err := ResolvePath(thread, path, pathguard.ModeWrite)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}

	file := excelize.NewFile()
	defer file.Close()

	index, err := file.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	file.SetActiveSheet(index)
	if sheet != "Sheet1" {
		_ = file.DeleteSheet("Sheet1")
	}

	for r, row := range rows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("xlsx: %w", err)
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, fmt.Errorf("xlsx: %w", err)
			}
		}
	}

	if err := file.SaveAs(resolved); err != nil {
		return nil, fmt.Errorf("xlsx: %w", err)
	}
	return relativeToSession(thread, resolved)
}
