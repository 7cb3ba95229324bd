// Package keepawake keeps the host from idling to sleep while an analyzer
// run is in progress.
//
// Each run takes its own hold. The hold starts an OS inhibitor bound to the
// analyzer process, so the inhibitor ends with the run even if the host
// never releases it. Platforms without an inhibitor degrade to a no-op.
package keepawake

import (
	"context"
	"fmt"
	"time"
)

// State is the inhibitor state.
type State string

const (
	// StateOff means no run is held.
	StateOff State = "OFF"
	// StateOn means every held run has a live inhibitor.
	StateOn State = "ON"
	// StateDegraded means at least one held run has no inhibitor.
	StateDegraded State = "DEGRADED"
)

// Run identifies the analyzer run a hold is taken for.
type Run struct {
	ID     string
	Target string // file for a single-file run, empty for the project
	PID    int    // analyzer process; 0 binds the inhibitor to the host
}

func (r Run) String() string {
	target := r.Target
	if target == "" {
		target = "project"
	}
	return fmt.Sprintf("analysis %s (%s)", r.ID, target)
}

// Status is a snapshot of the manager.
type Status struct {
	State     State     `json:"state"`
	Runs      []string  `json:"runs,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Handle is a running inhibitor.
type Handle interface {
	// Done is closed when the inhibitor exits.
	Done() <-chan struct{}
	// Err is the inhibitor's exit error. Valid once Done is closed; nil
	// when it was released or outlived its run normally.
	Err() error
	// Release stops the inhibitor and waits for it to exit.
	Release(ctx context.Context) error
}

// Adapter starts platform inhibitors for runs.
type Adapter interface {
	Acquire(ctx context.Context, run Run) (Handle, error)
}
