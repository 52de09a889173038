// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics registers the trigcam Prometheus collectors and exposes
// small recording helpers so callers never touch label strings directly.
package metrics
