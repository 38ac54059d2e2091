// Package pathguard confines every filesystem path referenced by sandboxed
// code to the active session's directory, with a narrow read-only allowlist
// for shared upload directories.
//
// Resolution is a pure decision: the same raw path, session directory, and
// mode always produce the same confined path or the same rejection. The guard
// never creates, reads, or stats anything itself.
package pathguard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Mode describes the intended file access
type Mode string

const (
	// ModeRead resolves a path for reading
	ModeRead Mode = "read"
	// ModeWrite resolves a path for writing
	ModeWrite Mode = "write"
)

// Guard resolves caller-supplied paths into sandbox-confined absolute paths
type Guard struct {
	readOnlyRoots []string
}

// temp-directory prefixes that callers commonly hardcode. These are stripped
// and the remainder re-anchored under the session directory.
var tempPrefixes = []string{
	"/app/sandbox_data/",
	"/var/tmp/",
	"/tmp/",
	"/private/tmp/",
}

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// New creates a guard. readOnlyRoots are directories readable (never
// writable) by every session, typically the shared uploads directory.
func New(readOnlyRoots ...string) *Guard {
	cleaned := make([]string, 0, len(readOnlyRoots))
	for _, root := range readOnlyRoots {
		if root == "" {
			continue
		}
		cleaned = append(cleaned, filepath.Clean(root))
	}
	return &Guard{readOnlyRoots: cleaned}
}

// ReadOnlyRoots returns the configured read-only allowlist
func (g *Guard) ReadOnlyRoots() []string {
	roots := make([]string, len(g.readOnlyRoots))
	copy(roots, g.readOnlyRoots)
	return roots
}

// Resolve normalizes raw and confines it to sessionDir. In read mode a path
// inside one of the read-only roots is also accepted. Anything that still
// escapes the permitted roots after normalization is rejected, never clipped.
func (g *Guard) Resolve(raw, sessionDir string, mode Mode) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(raw, 0) {
		return "", ErrNullByte
	}

	sessionDir = filepath.Clean(sessionDir)
	rewritten := g.rewrite(raw, sessionDir)

	if filepath.IsAbs(rewritten) {
		return g.resolveAbsolute(rewritten, sessionDir, mode)
	}

	resolved := filepath.Clean(filepath.Join(sessionDir, rewritten))
	if !within(resolved, sessionDir) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, raw)
	}
	return resolved, nil
}

// rewrite strips foreign path conventions down to something anchorable:
// temp-directory prefixes, Windows drive prefixes, and a doubled session
// directory prefix left by a caller echoing back a previously returned path.
func (g *Guard) rewrite(raw, sessionDir string) string {
	// Windows-style path: drop the drive, flip the separators, and treat the
	// remainder as relative so it re-anchors under the session directory.
	if drivePrefix.MatchString(raw) {
		raw = strings.TrimLeft(strings.ReplaceAll(raw[2:], `\`, "/"), "/")
	}

	// A path already inside a permitted root is left alone; the temp
	// prefixes only rewrite locations the caller invented.
	if !within(filepath.Clean(raw), sessionDir) && !g.withinReadOnly(filepath.Clean(raw)) {
		for _, prefix := range tempPrefixes {
			if strings.HasPrefix(raw, prefix) {
				raw = strings.TrimPrefix(raw, prefix)
				break
			}
		}
	}

	// Collapse any nesting of the session directory itself. Looping handles
	// paths that were echoed back through more than one round trip, with or
	// without the leading slash.
	marker := sessionDir + string(filepath.Separator)
	relMarker := strings.TrimPrefix(marker, string(filepath.Separator))
	for {
		if strings.HasPrefix(raw, marker) {
			raw = strings.TrimPrefix(raw, marker)
			continue
		}
		if strings.HasPrefix(raw, relMarker) {
			raw = strings.TrimPrefix(raw, relMarker)
			continue
		}
		break
	}

	return raw
}

func (g *Guard) withinReadOnly(path string) bool {
	for _, root := range g.readOnlyRoots {
		if within(path, root) {
			return true
		}
	}
	return false
}

// resolveAbsolute handles paths that stayed absolute after rewriting: they
// are accepted only when inside the session directory, or, for reads, inside
// a read-only root.
func (g *Guard) resolveAbsolute(path, sessionDir string, mode Mode) (string, error) {
	resolved := filepath.Clean(path)

	if within(resolved, sessionDir) {
		return resolved, nil
	}

	for _, root := range g.readOnlyRoots {
		if !within(resolved, root) {
			continue
		}
		if mode == ModeWrite {
			return "", fmt.Errorf("%w: %s", ErrReadOnlyRoot, path)
		}
		return resolved, nil
	}

	return "", fmt.Errorf("%w: %s", ErrPathOutsideSandbox, path)
}

// within reports whether path is root itself or inside it. Both arguments
// must already be cleaned.
func within(path, root string) bool {
	if path == root {
		return true
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}
