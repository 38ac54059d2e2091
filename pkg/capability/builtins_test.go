package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/pathguard"
)

func setupTestThread(t *testing.T) (*starlark.Thread, string) {
	t.Helper()

	dir := t.TempDir()
	thread := &starlark.Thread{Name: "test"}
	WithEnv(thread, &Env{
		SessionID:  "test-session",
		SessionDir: dir,
		Guard:      pathguard.New(),
	})
	return thread, dir
}

func runScript(t *testing.T, thread *starlark.Thread, src string) starlark.StringDict {
	t.Helper()

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg))

	globals, err := starlark.ExecFile(thread, "test.star", src, BaseNamespace(reg))
	require.NoError(t, err)
	return globals
}

func TestBuiltins_WriteThenRead(t *testing.T) {
	thread, dir := setupTestThread(t)

	globals := runScript(t, thread, `
name = write_file("out/report.txt", "hello sandbox")
content = read_file("out/report.txt")
`)

	assert.Equal(t, starlark.String(filepath.Join("out", "report.txt")), globals["name"])
	assert.Equal(t, starlark.String("hello sandbox"), globals["content"])

	data, err := os.ReadFile(filepath.Join(dir, "out", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello sandbox", string(data))
}

func TestBuiltins_AppendFile(t *testing.T) {
	thread, dir := setupTestThread(t)

	runScript(t, thread, `
write_file("log.txt", "one\n")
append_file("log.txt", "two\n")
`)

	data, err := os.ReadFile(filepath.Join(dir, "log.txt"))
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestBuiltins_ListFiles(t *testing.T) {
	thread, dir := setupTestThread(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("a"), 0o644))

	globals := runScript(t, thread, `names = list_files()`)

	list := globals["names"].(*starlark.List)
	require.Equal(t, 2, list.Len())
	assert.Equal(t, starlark.String("b.txt"), list.Index(0))
	assert.Equal(t, starlark.String(filepath.Join("sub", "a.txt")), list.Index(1))
}

func TestBuiltins_PathConfinement(t *testing.T) {
	thread, _ := setupTestThread(t)

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg))

	_, err := starlark.ExecFile(thread, "test.star", `read_file("../../etc/passwd")`, BaseNamespace(reg))
	require.Error(t, err)

	var evalErr *starlark.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, evalErr.Unwrap(), pathguard.ErrPathTraversal)
}

func TestBuiltins_RequireResolvesCapability(t *testing.T) {
	thread, _ := setupTestThread(t)

	globals := runScript(t, thread, `
json = _require_("json")
encoded = json.encode({"k": 1})
`)

	assert.Equal(t, starlark.String(`{"k":1}`), globals["encoded"])
}

func TestBuiltins_RequireBlockedCapability(t *testing.T) {
	thread, _ := setupTestThread(t)

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg))

	_, err := starlark.ExecFile(thread, "test.star", `_require_("subprocess")`, BaseNamespace(reg))
	require.Error(t, err)

	var evalErr *starlark.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, evalErr.Unwrap(), ErrBlockedCapability)
}

func TestBuiltins_NoEnvironment(t *testing.T) {
	thread := &starlark.Thread{Name: "bare"}

	reg := NewRegistry()
	require.NoError(t, RegisterDefaults(reg))

	_, err := starlark.ExecFile(thread, "test.star", `read_file("x.txt")`, BaseNamespace(reg))
	require.Error(t, err)

	var evalErr *starlark.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, evalErr.Unwrap(), ErrNoEnvironment)
}

func TestModules_Regex(t *testing.T) {
	thread, _ := setupTestThread(t)

	globals := runScript(t, thread, `
re = _require_("re")
hits = re.findall("[0-9]+", "a1 b22 c333")
swapped = re.sub("[0-9]+", "N", "a1 b22")
parts = re.split(",\\s*", "x, y,z")
`)

	hits := globals["hits"].(*starlark.List)
	require.Equal(t, 3, hits.Len())
	assert.Equal(t, starlark.String("22"), hits.Index(1))
	assert.Equal(t, starlark.String("aN bN"), globals["swapped"])

	parts := globals["parts"].(*starlark.List)
	require.Equal(t, 3, parts.Len())
	assert.Equal(t, starlark.String("z"), parts.Index(2))
}

func TestModules_RandomIsSeedable(t *testing.T) {
	thread, _ := setupTestThread(t)

	globals := runScript(t, thread, `
random = _require_("random")
random.seed(42)
first = random.randint(0, 1000000)
random.seed(42)
second = random.randint(0, 1000000)
`)

	assert.Equal(t, globals["first"], globals["second"])
}

func TestModules_CSVRoundTrip(t *testing.T) {
	thread, dir := setupTestThread(t)

	globals := runScript(t, thread, `
csv = _require_("csv")
csv.write("data.csv", [["name", "n"], ["a", "1"], ["b", "2"]])
rows = csv.read("data.csv")
dicts = csv.read_dicts("data.csv")
`)

	_, err := os.Stat(filepath.Join(dir, "data.csv"))
	require.NoError(t, err)

	rows := globals["rows"].(*starlark.List)
	assert.Equal(t, 3, rows.Len())

	dicts := globals["dicts"].(*starlark.List)
	require.Equal(t, 2, dicts.Len())
	first := dicts.Index(0).(*starlark.Dict)
	value, found, err := first.Get(starlark.String("name"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, starlark.String("a"), value)
}

func TestModules_Stats(t *testing.T) {
	thread, _ := setupTestThread(t)

	globals := runScript(t, thread, `
stats = _require_("statistics")
m = stats.mean([1, 2, 3, 4])
md = stats.median([1, 2, 3, 4, 100])
`)

	assert.Equal(t, starlark.Float(2.5), globals["m"])
	assert.Equal(t, starlark.Float(3), globals["md"])
}

func TestModules_XLSXRoundTrip(t *testing.T) {
	thread, dir := setupTestThread(t)

	globals := runScript(t, thread, `
xlsx = _require_("xlsx")
xlsx.write("book.xlsx", [["h1", "h2"], ["a", "b"]], sheet="Data")
sheets = xlsx.sheets("book.xlsx")
rows = xlsx.read("book.xlsx", sheet="Data")
`)

	_, err := os.Stat(filepath.Join(dir, "book.xlsx"))
	require.NoError(t, err)

	sheets := globals["sheets"].(*starlark.List)
	require.Equal(t, 1, sheets.Len())
	assert.Equal(t, starlark.String("Data"), sheets.Index(0))

	rows := globals["rows"].(*starlark.List)
	require.Equal(t, 2, rows.Len())
	header := rows.Index(0).(*starlark.List)
	assert.Equal(t, starlark.String("h1"), header.Index(0))
}
