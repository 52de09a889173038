// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package replicate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// RemoteStore is the file-share backend artifacts are mirrored to.
type RemoteStore interface {
	// MountCheck reports whether root is the genuine remote share rather
	// than a stale local directory.
	MountCheck(root string) bool
	Writable(root string) bool
	// Copy places local at remote, creating parent directories. A reader
	// never observes a partially copied remote file.
	Copy(ctx context.Context, local, remote string) error
	Stat(remote string) (size int64, exists bool, err error)
}

// FSStore is a RemoteStore over a locally mounted share (SMB, NFS, ...).
type FSStore struct {
	// RequireMount rejects a remote root that is not a mount point.
	RequireMount bool
}

// MountCheck implements RemoteStore.
func (s FSStore) MountCheck(root string) bool {
	if !s.RequireMount {
		info, err := os.Stat(root)
		return err == nil && info.IsDir()
	}
	return isMountPoint(root)
}

// Writable implements RemoteStore.
func (s FSStore) Writable(root string) bool {
	return writable(root)
}

// Copy implements RemoteStore using a temp file in the destination
// directory that is fsynced and renamed into place.
func (s FSStore) Copy(ctx context.Context, local, remote string) (err error) {
	dir := filepath.Dir(remote)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}

	src, err := os.Open(filepath.Clean(local))
	if err != nil {
		return fmt.Errorf("open local artifact: %w", err)
	}
	defer func() { _ = src.Close() }()

	pending, err := renameio.NewPendingFile(remote, renameio.WithTempDir(dir), renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending remote file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("copy artifact: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace remote file: %w", err)
	}
	return nil
}

// Stat implements RemoteStore.
func (s FSStore) Stat(remote string) (int64, bool, error) {
	info, err := os.Stat(remote)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size(), true, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
