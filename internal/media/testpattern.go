// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package media

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"
)

// TestPattern is a synthetic source producing moving color bars at a fixed
// rate. It stands in for a camera during development and tests.
type TestPattern struct {
	width, height int
	interval      time.Duration

	mu     sync.Mutex
	frame  int
	next   time.Time
	closed chan struct{}
	once   sync.Once
}

var _ Source = (*TestPattern)(nil)

// NewTestPattern returns a source of width x height frames at fps.
func NewTestPattern(width, height int, fps float64) *TestPattern {
	if fps <= 0 {
		fps = 30
	}
	return &TestPattern{
		width:    width,
		height:   height,
		interval: time.Duration(float64(time.Second) / fps),
		closed:   make(chan struct{}),
	}
}

var bars = []color.RGBA{
	{255, 255, 255, 255}, {255, 255, 0, 255}, {0, 255, 255, 255}, {0, 255, 0, 255},
	{255, 0, 255, 255}, {255, 0, 0, 255}, {0, 0, 255, 255}, {0, 0, 0, 255},
}

// ReadFrame blocks until the next frame is due.
func (p *TestPattern) ReadFrame(ctx context.Context) (image.Image, error) {
	p.mu.Lock()
	now := time.Now()
	if p.next.IsZero() {
		p.next = now
	}
	wait := p.next.Sub(now)
	p.next = p.next.Add(p.interval)
	if p.next.Before(now) {
		p.next = now.Add(p.interval)
	}
	n := p.frame
	p.frame++
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.closed:
			return nil, ErrSourceClosed
		case <-timer.C:
		}
	}
	select {
	case <-p.closed:
		return nil, ErrSourceClosed
	default:
	}

	img := image.NewRGBA(image.Rect(0, 0, p.width, p.height))
	barW := p.width / len(bars)
	if barW == 0 {
		barW = 1
	}
	shift := n % p.width
	for x := 0; x < p.width; x++ {
		c := bars[((x+shift)/barW)%len(bars)]
		for y := 0; y < p.height; y++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

// Close stops the source; pending and later reads return ErrSourceClosed.
func (p *TestPattern) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
