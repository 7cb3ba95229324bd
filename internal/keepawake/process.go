package keepawake

import (
	"context"
	"fmt"
	"os/exec"
	"sync/atomic"
)

// processHandle is an inhibitor implemented by a child process that lives
// as long as the inhibition.
type processHandle struct {
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	stopped atomic.Bool
}

// startProcess starts cmd, which must have been created with
// exec.CommandContext on a context that cancel ends.
func startProcess(cmd *exec.Cmd, cancel context.CancelFunc) (*processHandle, error) {
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}
	h := &processHandle{cancel: cancel, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if h.stopped.Load() {
			err = nil
		}
		h.err = err
		close(h.done)
	}()
	return h, nil
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

func (h *processHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *processHandle) Release(ctx context.Context) error {
	h.stopped.Store(true)
	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("inhibitor did not exit: %w", ctx.Err())
	}
}
