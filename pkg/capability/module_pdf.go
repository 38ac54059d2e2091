package capability

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/pathguard"
)

// newPDFModule builds the "pdf" text-extraction capability
func newPDFModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "pdf",
		Members: starlark.StringDict{
			"extract_text": starlark.NewBuiltin("pdf.extract_text", pdfExtractText),
			"num_pages":    starlark.NewBuiltin("pdf.num_pages", pdfNumPages),
		},
	}, nil
}

func pdfExtractText(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	resolved, err := ResolvePath(thread, path, pathguard.ModeRead)
	if err != nil {
		return nil, err
	}

	file, reader, err := pdf.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	defer file.Close()

	textReader, err := reader.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}

	var sb strings.Builder
	if _, err := io.Copy(&sb, textReader); err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	return starlark.String(sb.String()), nil
}

func pdfNumPages(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}

	resolved, err := ResolvePath(thread, path, pathguard.ModeRead)
	if err != nil {
		return nil, err
	}

	file, reader, err := pdf.Open(resolved)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}
	defer file.Close()

	return starlark.MakeInt(reader.NumPage()), nil
}
