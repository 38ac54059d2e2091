package chart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/harun/crucible/pkg/capability"
	"github.com/harun/crucible/pkg/pathguard"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func setupChartThread(t *testing.T) (*starlark.Thread, *Surface, string) {
	t.Helper()

	dir := t.TempDir()
	thread := &starlark.Thread{Name: "test"}
	capability.WithEnv(thread, &capability.Env{
		SessionID:  "test-session",
		SessionDir: dir,
		Guard:      pathguard.New(),
	})

	surface := NewSurface()
	WithSurface(thread, surface)
	return thread, surface, dir
}

func runChartScript(t *testing.T, thread *starlark.Thread, src string) {
	t.Helper()

	module, err := NewModule()
	require.NoError(t, err)

	_, err = starlark.ExecFile(thread, "test.star", src, starlark.StringDict{"chart": module})
	require.NoError(t, err)
}

func TestModule_ShowCapturesOpenFigures(t *testing.T) {
	thread, surface, _ := setupChartThread(t)

	runChartScript(t, thread, `
chart.line([1, 2, 3], [10, 20, 15], title="trend")
chart.show()
`)

	captures := surface.Drain()
	require.Len(t, captures, 1)
	assert.Equal(t, 0, captures[0].FigureIndex)
	assert.Equal(t, pngMagic, captures[0].PNG[:4])
}

func TestModule_ShowIsIdempotentPerFigure(t *testing.T) {
	thread, surface, _ := setupChartThread(t)

	runChartScript(t, thread, `
chart.line([1, 2], [1, 2])
chart.show()
chart.show()
`)

	assert.Len(t, surface.Drain(), 1)
}

func TestModule_SavefigWritesAndRegisters(t *testing.T) {
	thread, surface, dir := setupChartThread(t)

	runChartScript(t, thread, `
chart.bar(["a", "b", "c"], [3, 1, 2], title="counts")
chart.savefig("out/counts.png")
`)

	data, err := os.ReadFile(filepath.Join(dir, "out", "counts.png"))
	require.NoError(t, err)
	assert.Equal(t, pngMagic, data[:4])

	// The saved figure is registered exactly once even though it also
	// exists on disk.
	captures := surface.Drain()
	require.Len(t, captures, 1)
	assert.Equal(t, data, captures[0].PNG)
}

func TestModule_DrainSweepsUnshownFigures(t *testing.T) {
	thread, surface, _ := setupChartThread(t)

	runChartScript(t, thread, `
chart.line([1, 2, 3], [1, 4, 9])
chart.figure()
chart.scatter([1, 2, 3], [2, 2, 2], label="flat")
`)

	captures := surface.Drain()
	require.Len(t, captures, 2)
	assert.Equal(t, 0, captures[0].FigureIndex)
	assert.Equal(t, 1, captures[1].FigureIndex)

	// Drain closes everything; nothing leaks into the next execution.
	assert.Len(t, surface.Drain(), 0)
	assert.Equal(t, 0, surface.OpenCount())
}

func TestModule_SingleArgumentLineUsesIndex(t *testing.T) {
	thread, surface, _ := setupChartThread(t)

	runChartScript(t, thread, `chart.line([5, 6, 7])`)

	assert.Len(t, surface.Drain(), 1)
}

func TestModule_BarAfterLineOpensNewFigure(t *testing.T) {
	thread, surface, _ := setupChartThread(t)

	runChartScript(t, thread, `
chart.line([1, 2], [1, 2])
chart.bar(["x"], [1])
`)

	assert.Len(t, surface.Drain(), 2)
}

func TestModule_MismatchedLengthsFail(t *testing.T) {
	thread, _, _ := setupChartThread(t)

	module, err := NewModule()
	require.NoError(t, err)

	_, err = starlark.ExecFile(thread, "test.star", `chart.line([1, 2], [1])`, starlark.StringDict{"chart": module})
	assert.Error(t, err)
}

func TestModule_NoSurface(t *testing.T) {
	thread := &starlark.Thread{Name: "bare"}

	module, err := NewModule()
	require.NoError(t, err)

	_, err = starlark.ExecFile(thread, "test.star", `chart.line([1], [1])`, starlark.StringDict{"chart": module})
	require.Error(t, err)

	var evalErr *starlark.EvalError
	require.ErrorAs(t, err, &evalErr)
	assert.ErrorIs(t, evalErr.Unwrap(), ErrNoSurface)
}

func TestSurface_EmptyFigureIsNotCaptured(t *testing.T) {
	surface := NewSurface()
	surface.NewFigure()

	require.NoError(t, surface.CaptureOpen())
	assert.Len(t, surface.Drain(), 0)
}

func TestSurface_SavefigWithoutFigure(t *testing.T) {
	surface := NewSurface()

	_, err := surface.CaptureCurrent()
	assert.ErrorIs(t, err, ErrNoOpenFigure)
}
