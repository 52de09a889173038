// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ffmpeg implements media sinks and sources on top of an ffmpeg
// subprocess.
package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// encoderForFourCC maps a container codec tag to an ffmpeg encoder.
func encoderForFourCC(fourcc string) (string, error) {
	switch strings.ToLower(fourcc) {
	case "mp4v", "fmp4", "xvid", "divx":
		return "mpeg4", nil
	case "avc1", "h264", "x264":
		return "libx264", nil
	case "mjpg":
		return "mjpeg", nil
	}
	return "", fmt.Errorf("unsupported fourcc %q", fourcc)
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', 3, 64)
}

// sinkArgs reads JPEG images from stdin and muxes them into path.
func sinkArgs(path, encoder string, fps float64, width, height int) []string {
	args := []string{
		"-hide_banner", "-nostdin", "-loglevel", "error", "-y",
		"-f", "image2pipe", "-c:v", "mjpeg", "-framerate", formatFPS(fps), "-i", "pipe:0",
		"-an",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-c:v", encoder,
	}
	switch encoder {
	case "mpeg4":
		args = append(args, "-q:v", "3", "-pix_fmt", "yuv420p")
	case "libx264":
		args = append(args, "-preset", "veryfast", "-pix_fmt", "yuv420p")
	case "mjpeg":
		args = append(args, "-q:v", "3", "-pix_fmt", "yuvj420p")
	}
	return append(args, path)
}

// SourceSpec describes the capture input.
type SourceSpec struct {
	Device      string
	InputFormat string // e.g. v4l2; empty lets ffmpeg probe
	InputCodec  string // requested device codec, e.g. mjpeg
	Width       int
	Height      int
	FPS         float64
}

// sourceArgs emits a stream of concatenated JPEG images on stdout.
func sourceArgs(spec SourceSpec) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	if spec.InputFormat != "" {
		args = append(args, "-f", spec.InputFormat)
	}
	if spec.InputFormat == "v4l2" {
		if spec.InputCodec != "" {
			args = append(args, "-input_format", spec.InputCodec)
		}
		if spec.Width > 0 && spec.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", spec.Width, spec.Height))
		}
		if spec.FPS > 0 {
			args = append(args, "-framerate", formatFPS(spec.FPS))
		}
	}
	if strings.HasPrefix(spec.Device, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, "-i", spec.Device, "-an")

	// A camera already delivering MJPEG is copied; anything else is transcoded.
	if spec.InputFormat == "v4l2" && strings.EqualFold(spec.InputCodec, "mjpeg") {
		args = append(args, "-c:v", "copy")
	} else {
		args = append(args, "-c:v", "mjpeg", "-q:v", "3")
	}
	return append(args, "-f", "mjpeg", "pipe:1")
}
