// Package sweep collects what an execution produced: a before/after
// diff of the session directory for file artifacts, and a drain of the
// session's chart surface for rendered figures.
package sweep

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/crucible/pkg/chart"
)

// DefaultStorableExtensions is the stock set of artifact extensions.
var DefaultStorableExtensions = []string{
	".txt", ".md", ".log", ".csv", ".tsv", ".json", ".html", ".svg",
	".png", ".jpg", ".jpeg", ".gif", ".xlsx", ".pdf", ".xml", ".yaml", ".yml",
}

// Artifact is one file the execution created or modified.
type Artifact struct {
	// Filename is the session-relative path
	Filename string `json:"filename"`

	// Size is the file's byte size on disk
	Size int64 `json:"size"`

	// Content holds the bytes when the file fit under the inline ceiling
	Content []byte `json:"-"`

	// Inlined reports whether Content was captured
	Inlined bool `json:"inlined"`
}

type fileState struct {
	size    int64
	modTime time.Time
}

// Snapshot is the state of a session directory at one instant.
type Snapshot map[string]fileState

// Sweeper diffs session directories and drains chart surfaces.
type Sweeper struct {
	maxInlineSize int64
	storable      map[string]bool
}

// New builds a sweeper. Files over maxInlineSize are reported without
// content; files whose extension is not in extensions are ignored.
func New(maxInlineSize int64, extensions []string) *Sweeper {
	storable := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		storable[strings.ToLower(ext)] = true
	}
	return &Sweeper{maxInlineSize: maxInlineSize, storable: storable}
}

// Snapshot records every file under dir with its size and mtime.
func (s *Sweeper) Snapshot(dir string) (Snapshot, error) {
	snap := Snapshot{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		snap[rel] = fileState{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return nil, fmt.Errorf("sweep: snapshot %s: %w", dir, err)
	}
	return snap, nil
}

// Collect returns the files that are new or changed since before, plus
// every figure drained from the surface. The surface is closed out; no
// chart state survives into the next execution.
func (s *Sweeper) Collect(dir string, before Snapshot, surface *chart.Surface) ([]Artifact, []chart.Capture, error) {
	var charts []chart.Capture
	if surface != nil {
		charts = surface.Drain()
	}

	after, err := s.Snapshot(dir)
	if err != nil {
		return nil, charts, err
	}

	var names []string
	for rel, state := range after {
		prev, existed := before[rel]
		if existed && prev.size == state.size && prev.modTime.Equal(state.modTime) {
			continue
		}
		names = append(names, rel)
	}
	sort.Strings(names)

	var files []Artifact
	for _, rel := range names {
		state := after[rel]
		ext := strings.ToLower(filepath.Ext(rel))
		if !s.storable[ext] {
			continue
		}

		artifact := Artifact{Filename: rel, Size: state.size}
		if state.size <= s.maxInlineSize {
			content, err := os.ReadFile(filepath.Join(dir, rel))
			if err != nil {
				log.Warn().Err(err).Str("file", rel).Msg("Artifact vanished during sweep")
				continue
			}
			artifact.Content = content
			artifact.Inlined = true
			artifact.Size = int64(len(content))
		}
		files = append(files, artifact)
	}
	return files, charts, nil
}
