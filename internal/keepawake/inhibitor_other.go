//go:build !darwin

package keepawake

import (
	"context"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// NewDefaultAdapter returns an adapter that reports keep-awake as
// unsupported. Runs proceed and the manager shows them as degraded.
func NewDefaultAdapter() Adapter {
	return unsupportedAdapter{}
}

type unsupportedAdapter struct{}

func (unsupportedAdapter) Acquire(_ context.Context, run Run) (Handle, error) {
	return nil, apperrors.New(apperrors.CodeKeepAwakeUnsupported, "cannot keep the host awake for "+run.String()+" on this platform")
}
