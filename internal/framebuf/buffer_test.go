// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package framebuf

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ts(ms int) time.Time { return epoch.Add(time.Duration(ms) * time.Millisecond) }

func fill(b *Buffer, from, to int) {
	for i := from; i < to; i++ {
		b.Append(ts(i*10), []byte(fmt.Sprintf("f%d", i)))
	}
}

func names(samples []Sample) []string {
	out := make([]string, len(samples))
	for i, s := range samples {
		out[i] = string(s.Payload)
	}
	return out
}

func TestCapacity(t *testing.T) {
	tests := []struct {
		fps    float64
		window time.Duration
		want   int
	}{
		{30, 45 * time.Second, 1350},
		{29.97, 10 * time.Second, 300},
		{1, 1500 * time.Millisecond, 2},
		{0, time.Minute, 1},
		{30, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Capacity(tt.fps, tt.window), "fps=%v window=%v", tt.fps, tt.window)
	}
}

func TestBufferHoldsLastCapacitySamples(t *testing.T) {
	const capacity = 5
	for k := 0; k <= 12; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			b := New(capacity)
			fill(b, 0, capacity+k)

			var want []string
			for i := k; i < capacity+k; i++ {
				want = append(want, fmt.Sprintf("f%d", i))
			}
			if diff := cmp.Diff(want, names(b.Snapshot())); diff != "" {
				t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
			}

			st := b.Stats()
			assert.Equal(t, capacity, st.Len)
			assert.EqualValues(t, capacity+k, st.Appended)
			assert.EqualValues(t, k, st.Evicted)
		})
	}
}

func TestAppendReportsEviction(t *testing.T) {
	b := New(2)
	assert.False(t, b.Append(ts(0), nil))
	assert.False(t, b.Append(ts(1), nil))
	assert.True(t, b.Append(ts(2), nil))
}

func TestEmptyBuffer(t *testing.T) {
	b := New(3)
	_, ok := b.LatestTimestamp()
	assert.False(t, ok)
	assert.Empty(t, b.Snapshot())
	assert.Empty(t, b.ItemsAfter(time.Time{}))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 3, b.Cap())
}

func TestItemsAfterMatchesFilter(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		b := New(1 + rng.Intn(20))

		// Timestamps with duplicates.
		ms := 0
		count := rng.Intn(60)
		for i := 0; i < count; i++ {
			ms += rng.Intn(3) * 10
			b.Append(ts(ms), []byte{byte(i)})
		}

		snap := b.Snapshot()
		for probe := -10; probe <= ms+10; probe += 5 {
			threshold := ts(probe)
			var want []Sample
			for _, s := range snap {
				if s.Timestamp.After(threshold) {
					want = append(want, s)
				}
			}
			got := b.ItemsAfter(threshold)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round %d probe %d mismatch (-want +got):\n%s", round, probe, diff)
			}
		}

		if latest, ok := b.LatestTimestamp(); ok {
			assert.Empty(t, b.ItemsAfter(latest))
			assert.Empty(t, b.ItemsAfter(latest.Add(time.Second)))
		}
	}
}

func TestAppendClampsOutOfOrderTimestamps(t *testing.T) {
	b := New(4)
	b.Append(ts(100), []byte("a"))
	b.Append(ts(50), []byte("b"))

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, ts(100), snap[1].Timestamp)

	latest, ok := b.LatestTimestamp()
	require.True(t, ok)
	assert.Equal(t, ts(100), latest)
}

func TestChangedClosesOnAppend(t *testing.T) {
	b := New(4)
	ch := b.Changed()

	select {
	case <-ch:
		t.Fatal("channel closed before append")
	default:
	}

	b.Append(ts(0), nil)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed by append")
	}

	select {
	case <-b.Changed():
		t.Fatal("new channel should be open")
	default:
	}
}

func TestConcurrentReadersObserveOrder(t *testing.T) {
	b := New(64)
	const total = 5000

	var wg sync.WaitGroup
	done := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var last time.Time
			for {
				select {
				case <-done:
					return
				default:
				}
				items := b.ItemsAfter(last)
				for i := 1; i < len(items); i++ {
					if items[i].Timestamp.Before(items[i-1].Timestamp) {
						t.Errorf("out of order samples")
						return
					}
				}
				if len(items) > 0 {
					last = items[len(items)-1].Timestamp
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		b.Append(ts(i), nil)
	}
	close(done)
	wg.Wait()

	assert.EqualValues(t, total, b.Stats().Appended)
	assert.Equal(t, 64, b.Len())
}
