//go:build !darwin

package keepawake

import (
	"context"
	"strings"
	"testing"

	apperrors "github.com/fixdeck/host/internal/errors"
)

func TestDefaultAdapterUnsupported(t *testing.T) {
	_, err := NewDefaultAdapter().Acquire(context.Background(), Run{ID: "r1", Target: "src/A.java"})
	if !apperrors.IsCode(err, apperrors.CodeKeepAwakeUnsupported) {
		t.Fatalf("err=%v want %s", err, apperrors.CodeKeepAwakeUnsupported)
	}
	if !strings.Contains(apperrors.GetMessage(err), "analysis r1 (src/A.java)") {
		t.Fatalf("message %q does not name the run", apperrors.GetMessage(err))
	}
}

func TestHoldWithoutInhibitorDegrades(t *testing.T) {
	m := NewManager(NewDefaultAdapter())
	release := m.Hold(context.Background(), Run{ID: "r1"})
	if st := m.Snapshot(); st.State != StateDegraded {
		t.Fatalf("state=%s want DEGRADED", st.State)
	}
	release()
	if st := m.Snapshot(); st.State != StateOff {
		t.Fatalf("state=%s want OFF", st.State)
	}
}
