// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"context"
	"errors"
	"image"
	"os"
	"sync"

	"github.com/ManuGH/trigcam/internal/media"
)

var errBadFrame = errors.New("bad frame")

// fakeCodec decodes any payload other than "bad" to a 4x4 image.
type fakeCodec struct{}

func (fakeCodec) Encode(image.Image) ([]byte, error) { return []byte("frame"), nil }

func (fakeCodec) Decode(data []byte) (image.Image, error) {
	if string(data) == "bad" {
		return nil, errBadFrame
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (fakeCodec) Resize(_ image.Image, w, h int) image.Image {
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

type openCall struct {
	path   string
	fourcc string
	fps    float64
	width  int
	height int
}

type fakeSink struct {
	mu      sync.Mutex
	openErr error
	opens   []openCall
	writers []*fakeWriter
}

func (s *fakeSink) Open(path, fourcc string, fps float64, width, height int) (media.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens = append(s.opens, openCall{path, fourcc, fps, width, height})
	if s.openErr != nil {
		return nil, s.openErr
	}
	// ffmpeg creates the output as soon as it starts.
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		return nil, err
	}
	w := &fakeWriter{}
	s.writers = append(s.writers, w)
	return w, nil
}

func (s *fakeSink) openCalls() []openCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]openCall(nil), s.opens...)
}

type fakeWriter struct {
	mu     sync.Mutex
	sizes  []image.Point
	closed bool
}

func (w *fakeWriter) Append(img image.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sizes = append(w.sizes, img.Bounds().Size())
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWriter) appended() []image.Point {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]image.Point(nil), w.sizes...)
}

type fakeFrames struct {
	fps           float64
	width, height int
}

func (f fakeFrames) CurrentFPS() float64 { return f.fps }

func (f fakeFrames) LatestFrameSize() (int, int, bool) {
	return f.width, f.height, f.width > 0 && f.height > 0
}

type fakeUploader struct {
	mu    sync.Mutex
	err   error
	paths []string
}

func (u *fakeUploader) UploadNow(_ context.Context, path string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, path)
	return u.err
}
