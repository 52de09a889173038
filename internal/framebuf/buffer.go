// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package framebuf holds the bounded, time-ordered ring of encoded frames
// that recordings slice their pre-window from and drain their post-window out of.
package framebuf

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Sample is one encoded frame. Payload is shared with readers and must not
// be mutated after Append.
type Sample struct {
	Timestamp time.Time
	Payload   []byte
}

// Stats is a point-in-time view of buffer counters.
type Stats struct {
	Len      int    `json:"len"`
	Cap      int    `json:"cap"`
	Appended uint64 `json:"appended"`
	Evicted  uint64 `json:"evicted"`
}

// Capacity returns ceil(fps * window) frames, at least 1.
func Capacity(fps float64, window time.Duration) int {
	c := math.Ceil(fps * window.Seconds())
	if c < 1 || math.IsNaN(c) {
		return 1
	}
	return int(c)
}

// Buffer is a fixed-capacity FIFO of samples ordered by non-decreasing
// timestamp. It supports a single writer and any number of readers.
type Buffer struct {
	mu      sync.Mutex
	ring    []Sample
	head    int // index of the oldest sample
	n       int
	changed chan struct{}

	appended uint64
	evicted  uint64
}

// New returns an empty buffer holding at most capacity samples.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{
		ring:    make([]Sample, capacity),
		changed: make(chan struct{}),
	}
}

// Append adds a sample, evicting the oldest one when full, and reports
// whether an eviction happened. A timestamp older than the newest resident
// sample is clamped to it so ordering always holds.
func (b *Buffer) Append(ts time.Time, payload []byte) (evicted bool) {
	b.mu.Lock()

	if b.n > 0 {
		if latest := b.at(b.n - 1).Timestamp; ts.Before(latest) {
			ts = latest
		}
	}

	c := len(b.ring)
	if b.n == c {
		b.ring[b.head] = Sample{Timestamp: ts, Payload: payload}
		b.head = (b.head + 1) % c
		b.evicted++
		evicted = true
	} else {
		b.ring[(b.head+b.n)%c] = Sample{Timestamp: ts, Payload: payload}
		b.n++
	}
	b.appended++

	notify := b.changed
	b.changed = make(chan struct{})
	b.mu.Unlock()

	close(notify)
	return evicted
}

// at returns the i-th oldest resident sample. Caller holds mu.
func (b *Buffer) at(i int) Sample {
	return b.ring[(b.head+i)%len(b.ring)]
}

// copyFrom copies resident samples [from, n) in order. Caller holds mu.
func (b *Buffer) copyFrom(from int) []Sample {
	if from >= b.n {
		return nil
	}
	out := make([]Sample, 0, b.n-from)
	for i := from; i < b.n; i++ {
		out = append(out, b.at(i))
	}
	return out
}

// Snapshot returns all resident samples, oldest first. Payloads are shared.
func (b *Buffer) Snapshot() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyFrom(0)
}

// ItemsAfter returns the resident samples with a timestamp strictly after
// ts, oldest first. It is empty when ts is at or past the newest sample.
func (b *Buffer) ItemsAfter(ts time.Time) []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()

	first := sort.Search(b.n, func(i int) bool {
		return b.at(i).Timestamp.After(ts)
	})
	return b.copyFrom(first)
}

// LatestTimestamp returns the newest sample's timestamp, or false if empty.
func (b *Buffer) LatestTimestamp() (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n == 0 {
		return time.Time{}, false
	}
	return b.at(b.n - 1).Timestamp, true
}

// Changed returns a channel that is closed by the next Append. Readers grab
// it before reading so an append in between is never missed.
func (b *Buffer) Changed() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changed
}

// Len returns the number of resident samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int {
	return len(b.ring)
}

// Stats returns the current counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Len: b.n, Cap: len(b.ring), Appended: b.appended, Evicted: b.evicted}
}
