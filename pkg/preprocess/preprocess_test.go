package preprocess

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/crucible/pkg/capability"
)

func setupTestRegistry(t *testing.T) *capability.Registry {
	t.Helper()

	reg := capability.NewRegistry()
	require.NoError(t, capability.RegisterDefaults(reg))
	return reg
}

func TestPreprocess_WholeModuleImport(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import json", reg)

	assert.Equal(t, `json = _require_("json")`, result.Rewritten)
	require.Len(t, result.Notes, 1)
	assert.Equal(t, ActionRewritten, result.Notes[0].Action)
	assert.Empty(t, result.Blocked)
}

func TestPreprocess_ImportWithAlias(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import statistics as st", reg)

	assert.Equal(t, `st = _require_("stats")`, result.Rewritten)
}

func TestPreprocess_DottedImportBindsRoot(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import json.decoder", reg)

	assert.Equal(t, `json = _require_("json")`, result.Rewritten)
}

func TestPreprocess_BlockedImportBecomesAnnotatedNoop(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import os\nprint(1)", reg)

	lines := strings.Split(result.Rewritten, "\n")
	assert.Equal(t, "# [sandbox] blocked import: os", lines[0])
	assert.Equal(t, "print(1)", lines[1])
	assert.Equal(t, []string{"os"}, result.Blocked)
}

func TestPreprocess_MixedImportListKeepsOneLine(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import json, os, random", reg)

	lines := strings.Split(result.Rewritten, "\n")
	require.Len(t, lines, 1)
	assert.Equal(t, `json = _require_("json"); random = _require_("random")  # [sandbox] blocked import: os`, lines[0])
	assert.Equal(t, []string{"os"}, result.Blocked)
	assert.Len(t, result.Notes, 3)
}

func TestPreprocess_FromImportMember(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("from math import sqrt, pi as PI", reg)

	assert.Equal(t, `sqrt = _require_("math").sqrt; PI = _require_("math").pi`, result.Rewritten)
}

func TestPreprocess_FromImportStar(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("from math import *", reg)

	assert.Equal(t, `math = _require_("math")`, result.Rewritten)
}

func TestPreprocess_ContainerShadowGuard(t *testing.T) {
	reg := setupTestRegistry(t)

	// Binding the member would shadow the container name; the whole
	// container is bound instead so later qualified references survive.
	result := Preprocess("from datetime import datetime", reg)

	assert.Equal(t, `datetime = _require_("time")`, result.Rewritten)
}

func TestPreprocess_BlockedFromImport(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("from subprocess import run", reg)

	assert.Equal(t, "# [sandbox] blocked import: subprocess", result.Rewritten)
	assert.Equal(t, []string{"subprocess"}, result.Blocked)
}

func TestPreprocess_IndentedImportKeepsIndent(t *testing.T) {
	reg := setupTestRegistry(t)

	src := "def f():\n    import json\n    return json.encode({})"
	result := Preprocess(src, reg)

	lines := strings.Split(result.Rewritten, "\n")
	assert.Equal(t, `    json = _require_("json")`, lines[1])
}

func TestPreprocess_Idempotent(t *testing.T) {
	reg := setupTestRegistry(t)

	src := strings.Join([]string{
		"import json, os",
		"from math import sqrt",
		"from datetime import datetime",
		"import definitely_not_real",
		"x = 1",
	}, "\n")

	first := Preprocess(src, reg)
	second := Preprocess(first.Rewritten, reg)

	assert.Equal(t, first.Rewritten, second.Rewritten)
	assert.Empty(t, second.Notes)
	assert.Empty(t, second.Blocked)
}

func TestPreprocess_LineCountPreserved(t *testing.T) {
	reg := setupTestRegistry(t)

	src := "import os\nimport json\n\nx = 1\n"
	result := Preprocess(src, reg)

	assert.Equal(t, strings.Count(src, "\n"), strings.Count(result.Rewritten, "\n"))
}

func TestPreprocess_NonImportLinesUntouched(t *testing.T) {
	reg := setupTestRegistry(t)

	src := `x = "import os"` + "\n" + `y = 2  # import json in a comment`
	result := Preprocess(src, reg)

	assert.Equal(t, src, result.Rewritten)
	assert.Empty(t, result.Notes)
}

func TestPreprocess_TrailingCommentOnImport(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import socket  # raw sockets\nprint(1+1)", reg)

	lines := strings.Split(result.Rewritten, "\n")
	assert.Equal(t, "# [sandbox] blocked import: socket", lines[0])
	assert.Equal(t, "print(1+1)", lines[1])
	assert.Equal(t, []string{"socket"}, result.Blocked)
}

func TestPreprocess_TrailingCommentOnAllowedImport(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import json  # parse payloads", reg)

	assert.Equal(t, `json = _require_("json")`, result.Rewritten)
}

func TestPreprocess_TrailingCommentOnFromImport(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("from math import sqrt  # hypotenuse", reg)

	assert.Equal(t, `sqrt = _require_("math").sqrt`, result.Rewritten)
}

func TestPreprocess_BlockedListIsDeduplicated(t *testing.T) {
	reg := setupTestRegistry(t)

	result := Preprocess("import os\nimport os\nfrom os import path", reg)

	assert.Equal(t, []string{"os"}, result.Blocked)
	assert.Len(t, result.Notes, 3)
}
