// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"testing/iotest"
	"time"

	"github.com/ManuGH/trigcam/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegFrame(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSplitJPEG(t *testing.T) {
	a := jpegFrame(t, 8, 8, color.White)
	b := jpegFrame(t, 16, 8, color.Black)

	var stream bytes.Buffer
	stream.WriteString("junk")
	stream.Write(a)
	stream.Write(b)
	stream.Write(a[:len(a)/2]) // truncated trailing frame

	// One byte reads make markers straddle buffer boundaries.
	scanner := bufio.NewScanner(iotest.OneByteReader(bytes.NewReader(stream.Bytes())))
	scanner.Buffer(make([]byte, 0, 64), maxJPEGFrame)
	scanner.Split(splitJPEG)

	var tokens [][]byte
	for scanner.Scan() {
		tokens = append(tokens, append([]byte(nil), scanner.Bytes()...))
	}
	require.NoError(t, scanner.Err())
	require.Len(t, tokens, 2)
	assert.Equal(t, a, tokens[0])
	assert.Equal(t, b, tokens[1])
}

func requireFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

func TestSinkWritesVideo(t *testing.T) {
	bin := requireFFmpeg(t)
	out := filepath.Join(t.TempDir(), "clip.mp4")

	w, err := NewSink(bin).Open(out, "mp4v", 10, 64, 48)
	require.NoError(t, err)

	src := media.NewTestPattern(64, 48, 1000)
	for i := 0; i < 10; i++ {
		img, err := src.ReadFrame(context.Background())
		require.NoError(t, err)
		require.NoError(t, w.Append(img))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestSinkRejectsMissingDirectory(t *testing.T) {
	_, err := NewSink("ffmpeg").Open("/nonexistent/dir/clip.mp4", "mp4v", 10, 64, 48)
	require.Error(t, err)
}

func TestSinkRejectsUnknownFourCC(t *testing.T) {
	_, err := NewSink("ffmpeg").Open(filepath.Join(t.TempDir(), "x.mp4"), "zzzz", 10, 64, 48)
	require.Error(t, err)
}

func TestSourceReadsGeneratedStream(t *testing.T) {
	bin := requireFFmpeg(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	src, err := OpenSource(ctx, bin, SourceSpec{
		Device:      "testsrc=size=64x48:rate=25",
		InputFormat: "lavfi",
	})
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	for i := 0; i < 3; i++ {
		img, err := src.ReadFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
	}

	require.NoError(t, src.Close())
	for i := 0; i < 10; i++ {
		if _, err = src.ReadFrame(ctx); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, media.ErrSourceClosed)
}
