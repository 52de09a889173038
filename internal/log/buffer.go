// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxRecentLogs     = 500
	maxLineBytes      = 64 << 10
	maxPartialBytes   = 1 << 20
	subscriberBacklog = 64
)

// LogEntry is one structured log line retained for the live log feed.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Text renders the entry as a single human-readable line for the log viewer.
func (e LogEntry) Text() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(e.Time.Local().Format("15:04:05"))
	b.WriteString("] ")
	b.WriteString(strings.ToUpper(e.Level))
	if c, ok := e.Fields[FieldComponent].(string); ok && c != "" {
		b.WriteString(" ")
		b.WriteString(c)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if errText, ok := e.Fields["error"].(string); ok && errText != "" {
		fmt.Fprintf(&b, " (error: %s)", errText)
	}
	return b.String()
}

// BufferMetrics counts lines the recent-log buffer refused to retain.
type BufferMetrics struct {
	DroppedPartialOverflow uint64 `json:"dropped_partial_overflow"`
	DroppedTooLargeLines   uint64 `json:"dropped_too_large_lines"`
	DroppedIrrelevant      uint64 `json:"dropped_irrelevant"`
	DroppedMalformed       uint64 `json:"dropped_malformed"`
	DroppedSlowSubscriber  uint64 `json:"dropped_slow_subscriber"`
}

// structuredBufferWriter frames zerolog output on newlines, keeps the most
// recent entries and fans them out to live subscribers. It never blocks the
// logger: a subscriber whose channel is full misses that line.
type structuredBufferWriter struct {
	mu      sync.Mutex
	partial bytes.Buffer
}

var recentBuffer = &structuredBufferWriter{}

var feed = struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
	subs    map[uint64]chan LogEntry
	nextSub uint64
}{
	entries: make([]LogEntry, maxRecentLogs),
	subs:    make(map[uint64]chan LogEntry),
}

var bufferMetrics struct {
	partialOverflow atomic.Uint64
	tooLarge        atomic.Uint64
	irrelevant      atomic.Uint64
	malformed       atomic.Uint64
	slowSubscriber  atomic.Uint64
}

func (w *structuredBufferWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial.Write(p)
	if w.partial.Len() > maxPartialBytes {
		w.partial.Reset()
		bufferMetrics.partialOverflow.Add(1)
		return len(p), nil
	}

	for {
		data := w.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := make([]byte, idx)
		copy(line, data[:idx])
		w.partial.Next(idx + 1)
		ingestLine(line)
	}
	return len(p), nil
}

func ingestLine(line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > maxLineBytes {
		bufferMetrics.tooLarge.Add(1)
		return
	}

	var fields map[string]any
	if err := json.Unmarshal(line, &fields); err != nil {
		bufferMetrics.malformed.Add(1)
		return
	}

	level, _ := fields["level"].(string)
	if level == "debug" || level == "trace" {
		bufferMetrics.irrelevant.Add(1)
		return
	}

	entry := LogEntry{Level: level, Fields: fields}
	if msg, ok := fields["message"].(string); ok {
		entry.Message = msg
	}
	if ts, ok := fields["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Time = parsed
		}
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	delete(fields, "level")
	delete(fields, "message")
	delete(fields, "time")

	feed.mu.Lock()
	feed.entries[feed.next] = entry
	feed.next = (feed.next + 1) % len(feed.entries)
	if feed.next == 0 {
		feed.full = true
	}
	for _, ch := range feed.subs {
		select {
		case ch <- entry:
		default:
			bufferMetrics.slowSubscriber.Add(1)
		}
	}
	feed.mu.Unlock()
}

// GetRecentLogs returns the retained entries, oldest first.
func GetRecentLogs() []LogEntry {
	feed.mu.RLock()
	defer feed.mu.RUnlock()

	if !feed.full {
		out := make([]LogEntry, feed.next)
		copy(out, feed.entries[:feed.next])
		return out
	}
	out := make([]LogEntry, 0, len(feed.entries))
	out = append(out, feed.entries[feed.next:]...)
	out = append(out, feed.entries[:feed.next]...)
	return out
}

// ClearRecentLogs drops all retained entries.
func ClearRecentLogs() {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	feed.entries = make([]LogEntry, maxRecentLogs)
	feed.next = 0
	feed.full = false
}

// GetBufferMetrics returns the drop counters of the recent-log buffer.
func GetBufferMetrics() BufferMetrics {
	return BufferMetrics{
		DroppedPartialOverflow: bufferMetrics.partialOverflow.Load(),
		DroppedTooLargeLines:   bufferMetrics.tooLarge.Load(),
		DroppedIrrelevant:      bufferMetrics.irrelevant.Load(),
		DroppedMalformed:       bufferMetrics.malformed.Load(),
		DroppedSlowSubscriber:  bufferMetrics.slowSubscriber.Load(),
	}
}

// Subscribe registers a live listener for new log entries. The returned
// cancel function unregisters it and closes the channel.
func Subscribe() (<-chan LogEntry, func()) {
	ch := make(chan LogEntry, subscriberBacklog)

	feed.mu.Lock()
	id := feed.nextSub
	feed.nextSub++
	feed.subs[id] = ch
	feed.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			feed.mu.Lock()
			delete(feed.subs, id)
			feed.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
