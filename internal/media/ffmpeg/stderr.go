// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// stderrTail keeps the last lines ffmpeg printed for error reports.
type stderrTail struct {
	mu    sync.Mutex
	lines []string
	pos   int
	full  bool
	done  chan struct{}
}

func newStderrTail(size int) *stderrTail {
	return &stderrTail{lines: make([]string, size), done: make(chan struct{})}
}

func (s *stderrTail) consume(r io.Reader) {
	defer close(s.done)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.add(scanner.Text())
	}
}

func (s *stderrTail) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines[s.pos] = line
	s.pos = (s.pos + 1) % len(s.lines)
	if s.pos == 0 {
		s.full = true
	}
}

func (s *stderrTail) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	if s.full {
		out = append(out, s.lines[s.pos:]...)
	}
	out = append(out, s.lines[:s.pos]...)
	return strings.Join(out, "\n")
}
