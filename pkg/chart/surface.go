package chart

import (
	"sync"
)

const (
	defaultWidth  = 1024
	defaultHeight = 640
)

type seriesKind int

const (
	lineSeries seriesKind = iota
	scatterSeries
)

type series struct {
	kind   seriesKind
	label  string
	xs, ys []float64
}

type barValue struct {
	label string
	value float64
}

// Figure is one open plot accumulating series until it is rendered.
// A figure holds either line/scatter series or bar values, never both.
type Figure struct {
	index    int
	title    string
	xLabel   string
	yLabel   string
	series   []series
	bars     []barValue
	captured bool
}

func (f *Figure) empty() bool {
	return len(f.series) == 0 && len(f.bars) == 0
}

// Capture is a rendered figure: the encoded PNG plus the index of the
// figure it came from, in creation order.
type Capture struct {
	PNG         []byte
	FigureIndex int
}

// Surface tracks the open figures and rendered captures of one session.
// It is exclusively owned by that session; the mutex only serializes the
// builtins against the post-execution drain.
type Surface struct {
	mu        sync.Mutex
	open      []*Figure
	captures  []Capture
	nextIndex int
}

// NewSurface returns an empty chart surface.
func NewSurface() *Surface {
	return &Surface{}
}

// current returns the newest open figure, creating one when none is open.
func (s *Surface) current() *Figure {
	if len(s.open) == 0 {
		s.newFigureLocked()
	}
	return s.open[len(s.open)-1]
}

func (s *Surface) newFigureLocked() *Figure {
	f := &Figure{index: s.nextIndex}
	s.nextIndex++
	s.open = append(s.open, f)
	return f
}

// NewFigure opens a fresh figure; subsequent series accumulate on it.
func (s *Surface) NewFigure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newFigureLocked()
}

// OpenCount reports how many figures are open and not yet captured.
func (s *Surface) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, f := range s.open {
		if !f.captured {
			n++
		}
	}
	return n
}

// CaptureOpen renders every open figure that has data and has not been
// captured yet. Empty figures are left alone.
func (s *Surface) CaptureOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captureOpenLocked()
}

func (s *Surface) captureOpenLocked() error {
	for _, f := range s.open {
		if f.captured || f.empty() {
			continue
		}
		png, err := renderFigure(f)
		if err != nil {
			return err
		}
		f.captured = true
		s.captures = append(s.captures, Capture{PNG: png, FigureIndex: f.index})
	}
	return nil
}

// CaptureCurrent renders the newest open figure and records the bytes,
// marking it captured. Used by savefig, which also writes the same bytes
// to disk.
func (s *Surface) CaptureCurrent() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.open) == 0 {
		return nil, ErrNoOpenFigure
	}
	f := s.open[len(s.open)-1]
	if f.empty() {
		return nil, ErrEmptyFigure
	}

	png, err := renderFigure(f)
	if err != nil {
		return nil, err
	}
	if !f.captured {
		f.captured = true
		s.captures = append(s.captures, Capture{PNG: png, FigureIndex: f.index})
	}
	return png, nil
}

// Drain renders whatever is still open and uncaptured, closes every
// figure, and returns the full capture sequence. The surface is reset;
// chart state never leaks into the next execution. Figures that fail to
// render are dropped rather than failing the sweep.
func (s *Surface) Drain() []Capture {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.open {
		if f.captured || f.empty() {
			continue
		}
		png, err := renderFigure(f)
		if err != nil {
			continue
		}
		f.captured = true
		s.captures = append(s.captures, Capture{PNG: png, FigureIndex: f.index})
	}

	captures := s.captures
	s.open = nil
	s.captures = nil
	s.nextIndex = 0
	return captures
}
