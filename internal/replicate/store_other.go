// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build !unix

package replicate

import "os"

func isMountPoint(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func writable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
