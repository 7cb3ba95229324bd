//go:build darwin

package keepawake

import (
	"context"
	"os/exec"
	"reflect"
	"testing"

	apperrors "github.com/fixdeck/host/internal/errors"
)

func TestCaffeinateMissingIsUnsupported(t *testing.T) {
	a := &caffeinateAdapter{hostPID: 1, command: func(ctx context.Context, _ ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "/nonexistent/caffeinate")
	}}
	_, err := a.Acquire(context.Background(), Run{ID: "r1"})
	if !apperrors.IsCode(err, apperrors.CodeKeepAwakeUnsupported) {
		t.Fatalf("err=%v want %s", err, apperrors.CodeKeepAwakeUnsupported)
	}
}

func TestCaffeinateWatchesAnalyzerPID(t *testing.T) {
	var got []string
	a := &caffeinateAdapter{hostPID: 1, command: func(ctx context.Context, args ...string) *exec.Cmd {
		got = args
		return exec.CommandContext(ctx, "sleep", "30")
	}}

	h, err := a.Acquire(context.Background(), Run{ID: "r1", PID: 4242})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release(context.Background())
	if want := []string{"-i", "-w", "4242"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("args=%v want %v", got, want)
	}

	h2, err := a.Acquire(context.Background(), Run{ID: "r2"})
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Release(context.Background())
	if want := []string{"-i", "-w", "1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("args=%v want host pid %v", got, want)
	}
}
