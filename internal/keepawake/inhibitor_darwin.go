//go:build darwin

package keepawake

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strconv"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// NewDefaultAdapter returns an adapter that runs "caffeinate -i -w <pid>"
// for each run, so idle sleep is blocked until the analyzer process exits.
func NewDefaultAdapter() Adapter {
	return &caffeinateAdapter{hostPID: os.Getpid(), command: caffeinateCommand}
}

func caffeinateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "caffeinate", args...)
}

type caffeinateAdapter struct {
	hostPID int
	command func(ctx context.Context, args ...string) *exec.Cmd
}

func (a *caffeinateAdapter) Acquire(ctx context.Context, run Run) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pid := run.PID
	if pid <= 0 {
		pid = a.hostPID
	}

	procCtx, cancel := context.WithCancel(context.Background())
	h, err := startProcess(a.command(procCtx, "-i", "-w", strconv.Itoa(pid)), cancel)
	if err != nil {
		var ex *exec.Error
		if errors.As(err, &ex) || errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Wrap(apperrors.CodeKeepAwakeUnsupported, "caffeinate is unavailable", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeKeepAwakeAcquireFailed, "cannot start caffeinate for "+run.String(), err)
	}
	return h, nil
}
