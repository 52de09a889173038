// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package procgroup

import (
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/trigcam/internal/log"
)

// Terminate stops a process group: SIGTERM, then SIGKILL if waitCh does
// not deliver within grace. It always drains waitCh and returns its error.
// It is safe to call on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	logger := log.WithComponent("procgroup")
	pid := cmd.Process.Pid

	if err := Kill(cmd, syscall.SIGTERM); err != nil {
		logger.Debug().Err(err).Int("pid", pid).Str(log.FieldEvent, "proc.sigterm_failed").Msg("SIGTERM failed")
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", pid).Str(log.FieldEvent, "proc.sigkill").
		Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if err := Kill(cmd, syscall.SIGKILL); err != nil {
		logger.Debug().Err(err).Int("pid", pid).Str(log.FieldEvent, "proc.sigkill_failed").Msg("SIGKILL failed")
	}
	return <-waitCh
}
