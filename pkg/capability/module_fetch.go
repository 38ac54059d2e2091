package capability

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/harun/crucible/pkg/pathguard"
)

const (
	fetchTimeout     = 30 * time.Second
	maxFetchBytes    = 64 << 20 // 64 MiB
	fetchUserAgent   = "crucible-sandbox/1.0"
	maxInlineBodyLen = 8 << 20 // 8 MiB returned directly to the script
)

// fetchTimeout is a hard cap; the per-request context carries the
// script's own deadline and usually fires first.
var fetchClient = &http.Client{Timeout: fetchTimeout}

// newFetchModule builds the "fetch" networking capability: HTTP GET only,
// with hard caps on response size. Raw sockets stay unreachable.
func newFetchModule() (starlark.Value, error) {
	return &starlarkstruct.Module{
		Name: "fetch",
		Members: starlark.StringDict{
			"get":      starlark.NewBuiltin("fetch.get", fetchGet),
			"download": starlark.NewBuiltin("fetch.download", fetchDownload),
		},
	}, nil
}

func fetchURL(thread *starlark.Thread, raw string) (*http.Response, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("fetch: invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("fetch: unsupported scheme %q", parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ContextFromThread(thread), http.MethodGet, raw, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := fetchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return resp, nil
}

func fetchGet(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &raw); err != nil {
		return nil, err
	}

	resp, err := fetchURL(thread, raw)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInlineBodyLen))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	return starlarkstruct.FromStringDict(starlark.String("response"), starlark.StringDict{
		"status": starlark.MakeInt(resp.StatusCode),
		"body":   starlark.String(body),
	}), nil
}

func fetchDownload(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var raw, filename string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &raw, "filename?", &filename); err != nil {
		return nil, err
	}

	if filename == "" {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("fetch: invalid url: %w", err)
		}
		filename = path.Base(parsed.Path)
		if filename == "." || filename == "/" || filename == "" {
			filename = "download"
		}
	}

	resolved, err := ResolvePath(thread, filename, pathguard.ModeWrite)
	if err != nil {
		return nil, err
	}

	resp, err := fetchURL(thread, raw)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	file, err := os.Create(resolved)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	rel, err := relativeToSession(thread, resolved)
	if err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(starlark.String("download"), starlark.StringDict{
		"path": rel,
		"size": starlark.MakeInt64(written),
	}), nil
}
