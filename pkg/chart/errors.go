package chart

import "errors"

var (
	// ErrNoSurface is returned when a chart builtin runs on a thread without an attached surface.
	ErrNoSurface = errors.New("no chart surface attached to thread")

	// ErrEmptyFigure is returned when a figure with no plotted data is rendered.
	ErrEmptyFigure = errors.New("figure has no plotted data")

	// ErrNoOpenFigure is returned when savefig is called with nothing plotted.
	ErrNoOpenFigure = errors.New("no open figure")
)
