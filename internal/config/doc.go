// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package config loads trigcam configuration with precedence
// ENV > YAML file > defaults and supports hot reload of the runtime
// tunables (log level, auto-trigger policy).
package config
