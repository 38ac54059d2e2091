package capability

import (
	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
)

// RegisterDefaults wires the standard capability set into a registry.
//
// The eager tier is cheap and always wanted; the lazy tier holds the
// expensive readers and the networking capability, materialized only when a
// script first references them. Aliases cover the names scripts written for
// a Python runtime tend to use.
func RegisterDefaults(reg *Registry) error {
	eager := []struct {
		name    string
		loader  Loader
		aliases []string
	}{
		{"json", staticModule(json.Module), nil},
		{"math", staticModule(math.Module), nil},
		{"time", staticModule(starlarktime.Module), []string{"datetime"}},
		{"re", newRegexModule, []string{"regex"}},
		{"random", newRandomModule, nil},
	}
	lazy := []struct {
		name    string
		loader  Loader
		aliases []string
	}{
		{"csv", newCSVModule, nil},
		{"stats", newStatsModule, []string{"statistics"}},
		{"xlsx", newXLSXModule, []string{"openpyxl", "xlsxwriter"}},
		{"pdf", newPDFModule, []string{"pdfplumber"}},
		{"fetch", newFetchModule, []string{"requests", "urllib"}},
	}

	for _, c := range eager {
		if err := reg.Register(c.name, true, c.loader, c.aliases...); err != nil {
			return err
		}
	}
	for _, c := range lazy {
		if err := reg.Register(c.name, false, c.loader, c.aliases...); err != nil {
			return err
		}
	}
	return nil
}

// staticModule wraps an already-built Starlark module as a Loader
func staticModule(v starlark.Value) Loader {
	return func() (starlark.Value, error) { return v, nil }
}
