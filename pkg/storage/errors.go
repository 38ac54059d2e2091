package storage

import "errors"

var (
	// ErrArtifactNotFound is returned when a handle resolves to nothing, including expired rows.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrEmptyContent is returned when storing an artifact with no bytes.
	ErrEmptyContent = errors.New("artifact content is empty")
)
