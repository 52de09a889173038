// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package recorder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DayLayout names the date partition directories under the local root.
const DayLayout = "2006-01-02"

// reservePath picks <root>/<day>/<prefix>_<unix>.<ext> for anchor, adding a
// numeric suffix when another job or an existing file already owns it.
func (r *Recorder) reservePath(anchor time.Time) (string, error) {
	dir := filepath.Join(r.cfg.LocalRoot, anchor.Local().Format(DayLayout))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create day directory: %w", err)
	}

	base := fmt.Sprintf("%s_%d", r.cfg.FilePrefix, anchor.Unix())
	ext := r.cfg.Extension

	r.mu.Lock()
	defer r.mu.Unlock()
	for n := 0; ; n++ {
		name := base + "." + ext
		if n > 0 {
			name = fmt.Sprintf("%s_%d.%s", base, n, ext)
		}
		path := filepath.Join(dir, name)
		if _, taken := r.reserved[path]; taken {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat artifact: %w", err)
		}
		r.reserved[path] = struct{}{}
		return path, nil
	}
}
