package capability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

func fetchBuiltin(t *testing.T, name string) *starlark.Builtin {
	t.Helper()

	mod, err := newFetchModule()
	require.NoError(t, err)
	member, ok := mod.(*starlarkstruct.Module).Members[name]
	require.True(t, ok)
	return member.(*starlark.Builtin)
}

func TestFetch_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "crucible-sandbox/1.0", r.UserAgent())
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	thread, _ := setupTestThread(t)
	get := fetchBuiltin(t, "get")

	value, err := starlark.Call(thread, get, starlark.Tuple{starlark.String(srv.URL)}, nil)
	require.NoError(t, err)

	resp := value.(*starlarkstruct.Struct)
	status, err := resp.Attr("status")
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(200), status)
	body, err := resp.Attr("body")
	require.NoError(t, err)
	assert.Equal(t, starlark.String("payload"), body)
}

func TestFetch_RejectsNonHTTPScheme(t *testing.T) {
	thread, _ := setupTestThread(t)
	get := fetchBuiltin(t, "get")

	_, err := starlark.Call(thread, get, starlark.Tuple{starlark.String("file:///etc/passwd")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")
}

func TestFetch_GetObservesRunDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	thread, _ := setupTestThread(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	WithContext(thread, ctx)

	get := fetchBuiltin(t, "get")

	start := time.Now()
	_, err := starlark.Call(thread, get, starlark.Tuple{starlark.String(srv.URL)}, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context deadline exceeded")
	assert.Less(t, elapsed, 2*time.Second, "request outlived the run deadline")
}
