// Package uploads manages the shared read-only directory scripts can
// read input files from. A filesystem watcher keeps the index current
// even when files arrive outside the API, e.g. dropped in by an
// operator.
package uploads

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// FileInfo describes one uploaded file.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Store is the upload directory plus its live index.
type Store struct {
	dir      string
	maxBytes int64

	mu    sync.RWMutex
	index map[string]FileInfo

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New opens (creating if needed) the upload directory, indexes its
// current contents, and starts watching for outside changes.
func New(dir string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("uploads: create dir: %w", err)
	}

	s := &Store{
		dir:      dir,
		maxBytes: maxBytes,
		index:    make(map[string]FileInfo),
		done:     make(chan struct{}),
	}
	if err := s.rescan(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("uploads: watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("uploads: watch %s: %w", dir, err)
	}
	s.watcher = watcher
	go s.watch()

	log.Info().Str("dir", dir).Int("files", len(s.index)).Msg("Upload store ready")
	return s, nil
}

// Dir returns the watched directory, for wiring into the path guard's
// read-only roots.
func (s *Store) Dir() string {
	return s.dir
}

// List returns the indexed uploads sorted by name.
func (s *Store) List() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]FileInfo, 0, len(s.index))
	for _, info := range s.index {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one upload's metadata.
func (s *Store) Get(name string) (FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.index[name]
	if !ok {
		return FileInfo{}, ErrNotFound
	}
	return info, nil
}

// Save stores one upload under a sanitized name and returns its info.
func (s *Store) Save(name string, r io.Reader) (FileInfo, error) {
	clean, err := sanitizeName(name)
	if err != nil {
		return FileInfo{}, err
	}

	path := filepath.Join(s.dir, clean)
	file, err := os.Create(path)
	if err != nil {
		return FileInfo{}, fmt.Errorf("uploads: create %s: %w", clean, err)
	}
	defer file.Close()

	limit := io.LimitReader(r, s.maxBytes+1)
	written, err := io.Copy(file, limit)
	if err != nil {
		os.Remove(path)
		return FileInfo{}, fmt.Errorf("uploads: write %s: %w", clean, err)
	}
	if written > s.maxBytes {
		os.Remove(path)
		return FileInfo{}, fmt.Errorf("%w: over %d bytes", ErrTooLarge, s.maxBytes)
	}

	info := FileInfo{Name: clean, Size: written, ModTime: time.Now()}
	s.mu.Lock()
	s.index[clean] = info
	s.mu.Unlock()

	log.Info().Str("name", clean).Int64("size", written).Msg("Upload stored")
	return info, nil
}

// Close stops the watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Upload watcher error")
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		stat, err := os.Stat(event.Name)
		if err != nil || stat.IsDir() {
			return
		}
		s.mu.Lock()
		s.index[name] = FileInfo{Name: name, Size: stat.Size(), ModTime: stat.ModTime()}
		s.mu.Unlock()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		s.mu.Lock()
		delete(s.index, name)
		s.mu.Unlock()
	}
}

func (s *Store) rescan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("uploads: scan: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		s.index[entry.Name()] = FileInfo{Name: entry.Name(), Size: info.Size(), ModTime: info.ModTime()}
	}
	return nil
}

// sanitizeName flattens an upload name to a safe basename.
func sanitizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return name, nil
}
