// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package media defines the collaborator boundaries of the recorder: frame
// sources, image codecs and video sinks.
package media

import (
	"context"
	"errors"
	"image"
)

// ErrSourceClosed is returned by ReadFrame once a source has stopped for good.
var ErrSourceClosed = errors.New("media: source closed")

// Source yields raw frames at a device determined rate.
type Source interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Codec converts between raw frames and their buffered encoding.
type Codec interface {
	Encode(img image.Image) ([]byte, error)
	Decode(data []byte) (image.Image, error)
	Resize(img image.Image, width, height int) image.Image
}

// Sink opens video writers.
type Sink interface {
	Open(path, fourcc string, fps float64, width, height int) (Writer, error)
}

// Writer appends frames to an open video artifact.
type Writer interface {
	Append(img image.Image) error
	Close() error
}

// SameSize reports whether img already has the given dimensions.
func SameSize(img image.Image, width, height int) bool {
	b := img.Bounds()
	return b.Dx() == width && b.Dy() == height
}
