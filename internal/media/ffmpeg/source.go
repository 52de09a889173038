// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/procgroup"
)

const maxJPEGFrame = 10 << 20

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding one complete JPEG image per token.
// Bytes before the first start-of-image marker are discarded.
func splitJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, soi)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep a trailing 0xFF that may begin a marker.
		if n := len(data); n > 0 && data[n-1] == 0xFF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}
	end := bytes.Index(data[start+len(soi):], eoi)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}
	stop := start + len(soi) + end + len(eoi)
	return stop, data[start:stop], nil
}

type frameResult struct {
	img image.Image
	err error
}

// Source reads frames from a device through ffmpeg's MJPEG stdout.
type Source struct {
	cmd    *exec.Cmd
	tail   *stderrTail
	frames chan frameResult
	waitCh chan error
	done   chan struct{}
	once   sync.Once
}

var _ media.Source = (*Source)(nil)

// OpenSource starts ffmpeg for spec.
func OpenSource(ctx context.Context, binaryPath string, spec SourceSpec) (*Source, error) {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	// #nosec G204 -- binary path and device come from operator config
	cmd := exec.Command(binaryPath, sourceArgs(spec)...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &Source{
		cmd:    cmd,
		tail:   newStderrTail(20),
		frames: make(chan frameResult, 2),
		waitCh: make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.tail.consume(stderr)
	go s.readLoop(stdout)

	logger := log.WithComponent("ffmpeg")
	logger.Info().
		Str(log.FieldEvent, "capture.source_started").
		Str(log.FieldDevice, spec.Device).
		Int("pid", cmd.Process.Pid).
		Msg("capture source started")

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

func (s *Source) readLoop(stdout io.Reader) {
	defer func() {
		<-s.tail.done
		s.waitCh <- s.cmd.Wait()
		close(s.frames)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 512<<10), maxJPEGFrame)
	scanner.Split(splitJPEG)

	for scanner.Scan() {
		img, err := jpeg.Decode(bytes.NewReader(scanner.Bytes()))
		if err != nil {
			err = fmt.Errorf("decode camera frame: %w", err)
		}
		select {
		case s.frames <- frameResult{img: img, err: err}:
		case <-s.done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case s.frames <- frameResult{err: fmt.Errorf("read camera stream: %w", err)}:
		case <-s.done:
		}
	}
}

// ReadFrame returns the next decoded frame. Once ffmpeg exits it returns
// media.ErrSourceClosed wrapped with the process diagnostics.
func (s *Source) ReadFrame(ctx context.Context) (image.Image, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.frames:
		if !ok {
			return nil, fmt.Errorf("%w: %s", media.ErrSourceClosed, s.tail.String())
		}
		return r.img, r.err
	}
}

// Close stops ffmpeg.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = procgroup.Terminate(s.cmd, s.waitCh, 2*time.Second)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Signalled exits are expected here.
			err = nil
		}
	})
	return err
}
