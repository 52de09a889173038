// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
	"github.com/ManuGH/trigcam/internal/media"
	"github.com/ManuGH/trigcam/internal/procgroup"
	"github.com/rs/zerolog"
)

const (
	sinkJPEGQuality = 92
	closeTimeout    = 30 * time.Second
	killGrace       = 2 * time.Second
)

// Sink opens ffmpeg backed video writers.
type Sink struct {
	BinaryPath string
	Logger     zerolog.Logger
}

var _ media.Sink = (*Sink)(nil)

// NewSink returns a sink using binaryPath (default "ffmpeg").
func NewSink(binaryPath string) *Sink {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &Sink{BinaryPath: binaryPath, Logger: log.WithComponent("ffmpeg")}
}

// Open starts an ffmpeg process writing path. The parent directory must exist.
func (s *Sink) Open(path, fourcc string, fps float64, width, height int) (media.Writer, error) {
	encoder, err := encoderForFourCC(fourcc)
	if err != nil {
		return nil, err
	}
	if fps <= 0 {
		return nil, fmt.Errorf("invalid fps %v", fps)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("output directory: %w", err)
	}

	// #nosec G204 -- binary path comes from operator config
	cmd := exec.Command(s.BinaryPath, sinkArgs(path, encoder, fps, width, height)...)
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	w := &writer{
		cmd:    cmd,
		stdin:  stdin,
		bw:     bufio.NewWriterSize(stdin, 256<<10),
		tail:   newStderrTail(20),
		waitCh: make(chan error, 1),
		path:   path,
		logger: s.Logger.With().Str(log.FieldPath, path).Str(log.FieldCodec, encoder).Logger(),
	}
	go w.tail.consume(stderr)
	go func() {
		<-w.tail.done
		w.waitCh <- cmd.Wait()
	}()

	w.logger.Debug().Str(log.FieldEvent, "ffmpeg.sink_started").Int("pid", cmd.Process.Pid).Msg("video sink started")
	return w, nil
}

type writer struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	bw     *bufio.Writer
	tail   *stderrTail
	waitCh chan error
	path   string
	logger zerolog.Logger
	closed bool
	frames int
}

// Append encodes img as JPEG onto ffmpeg's stdin.
func (w *writer) Append(img image.Image) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("ffmpeg: writer closed")
	}
	if err := jpeg.Encode(w.bw, img, &jpeg.Options{Quality: sinkJPEGQuality}); err != nil {
		return fmt.Errorf("write frame: %w (ffmpeg: %s)", err, w.tail.String())
	}
	w.frames++
	return nil
}

// Close flushes stdin, lets ffmpeg finalize the container and waits for it.
func (w *writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.bw.Flush()
	closeErr := w.stdin.Close()

	select {
	case err := <-w.waitCh:
		if err != nil {
			return fmt.Errorf("ffmpeg exited: %w (%s)", err, w.tail.String())
		}
	case <-time.After(closeTimeout):
		w.logger.Warn().Str(log.FieldEvent, "ffmpeg.sink_timeout").Msg("ffmpeg did not finish, terminating")
		_ = procgroup.Terminate(w.cmd, w.waitCh, killGrace)
		return fmt.Errorf("ffmpeg did not finish within %s", closeTimeout)
	}
	if err := errors.Join(flushErr, closeErr); err != nil {
		return fmt.Errorf("close stdin: %w", err)
	}

	w.logger.Debug().Str(log.FieldEvent, "ffmpeg.sink_closed").Int("frames", w.frames).Msg("video sink closed")
	return nil
}
