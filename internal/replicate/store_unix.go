// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package replicate

import (
	"path/filepath"

	"golang.org/x/sys/unix"
)

// isMountPoint reports whether path is a directory on a different device
// than its parent, or the filesystem root.
func isMountPoint(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return false
	}

	clean := filepath.Clean(path)
	if clean == "/" {
		return true
	}
	var parent unix.Stat_t
	if err := unix.Stat(filepath.Dir(clean), &parent); err != nil {
		return false
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino
}

func writable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
