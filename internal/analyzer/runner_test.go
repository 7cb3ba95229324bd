//go:build unix

package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/keepawake"
	"github.com/fixdeck/host/internal/storage"
)

// writeScript creates an executable shell script in a temp directory.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "analyzer.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

type recorderFunc func(*storage.AnalysisRun) error

func (f recorderFunc) RecordAnalysisRun(run *storage.AnalysisRun) error { return f(run) }

func TestCommand_Executable(t *testing.T) {
	script := writeScript(t, "exit 0\n")
	r := NewRunner(Config{Path: script, Params: "-v  -x", ConfigFile: "/etc/analyzer.properties"})

	name, args, dir, err := r.Command("src/A.java")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if name != script {
		t.Errorf("name = %q, want %q", name, script)
	}
	if dir != filepath.Dir(script) {
		t.Errorf("dir = %q, want %q", dir, filepath.Dir(script))
	}
	want := []string{"-v", "-x", "-config=/etc/analyzer.properties", "-cu=src/A.java"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %q, want %q", args, want)
	}
}

func TestCommand_DirectoryUsesFirstParam(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, DefaultConfigName)
	if err := os.WriteFile(props, []byte("x=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	r := NewRunner(Config{Path: dir, Params: "java -jar analyzer.jar"})

	name, args, gotDir, err := r.Command("")
	if err != nil {
		t.Fatalf("Command failed: %v", err)
	}
	if name != "java" || gotDir != dir {
		t.Errorf("name=%q dir=%q", name, gotDir)
	}
	want := []string{"-jar", "analyzer.jar", "-config=" + props}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %q, want %q", args, want)
	}
}

func TestCommand_NotConfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no path", Config{}},
		{"missing path", Config{Path: filepath.Join(t.TempDir(), "nope")}},
		{"directory without params", Config{Path: t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, _, err := NewRunner(tt.cfg).Command("")
			if !apperrors.IsCode(err, apperrors.CodeAnalysisNotConfigured) {
				t.Fatalf("expected %s, got %v", apperrors.CodeAnalysisNotConfigured, err)
			}
		})
	}
}

func TestRun_CapturesOutputAndRecords(t *testing.T) {
	script := writeScript(t, "echo \"args: $*\"\nprintf 'partial'\n")

	var mu sync.Mutex
	var seen []string
	var recorded *storage.AnalysisRun

	r := NewRunner(Config{Path: script})
	r.SetOutputHandler(func(line string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
	})
	r.SetRecorder(recorderFunc(func(run *storage.AnalysisRun) error {
		recorded = run
		return nil
	}))

	res, err := r.Run(context.Background(), "src/A.java")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 || res.Lines != 2 {
		t.Errorf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "args: -cu=src/A.java" || seen[1] != "partial" {
		t.Errorf("unexpected output: %#v", seen)
	}
	if got := r.Lines(); len(got) != 2 {
		t.Errorf("buffered lines = %#v", got)
	}
	if recorded == nil || recorded.ID != res.ID || recorded.Target != "src/A.java" || recorded.OutputLines != 2 {
		t.Errorf("recorded = %+v", recorded)
	}
	if r.IsRunning() {
		t.Error("runner still marked running")
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	script := writeScript(t, "echo failing\nexit 3\n")
	var recorded *storage.AnalysisRun
	r := NewRunner(Config{Path: script})
	r.SetRecorder(recorderFunc(func(run *storage.AnalysisRun) error {
		recorded = run
		return errors.New("disk full")
	}))

	res, err := r.Run(context.Background(), "")
	if !apperrors.IsCode(err, apperrors.CodeAnalysisFailed) {
		t.Fatalf("expected %s, got %v", apperrors.CodeAnalysisFailed, err)
	}
	if res == nil || res.ExitCode != 3 {
		t.Fatalf("result = %+v", res)
	}
	if recorded == nil || recorded.ExitCode != 3 || recorded.Error == "" {
		t.Errorf("recorded = %+v", recorded)
	}
}

func TestRun_SanitizesNonUTF8(t *testing.T) {
	script := writeScript(t, "printf 'bad \\377 byte\\n'\n")
	r := NewRunner(Config{Path: script})

	if _, err := r.Run(context.Background(), ""); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	lines := r.Lines()
	if len(lines) != 1 || lines[0] != "bad � byte" {
		t.Errorf("lines = %#v", lines)
	}
}

func TestRun_RejectsSecondRunAndCancels(t *testing.T) {
	script := writeScript(t, "echo started\nsleep 30\n")
	r := NewRunner(Config{Path: script})

	started := make(chan struct{})
	var once sync.Once
	r.SetOutputHandler(func(string) { once.Do(func() { close(started) }) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := r.Run(ctx, "")
		done <- outcome{res, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("analyzer produced no output")
	}

	if !r.IsRunning() {
		t.Error("expected runner to be running")
	}
	if _, err := r.Run(context.Background(), ""); !apperrors.IsCode(err, apperrors.CodeAnalysisAlreadyRunning) {
		t.Fatalf("expected %s, got %v", apperrors.CodeAnalysisAlreadyRunning, err)
	}

	cancel()
	select {
	case out := <-done:
		if !errors.Is(out.err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", out.err)
		}
		if out.res == nil || out.res.ExitCode == 0 {
			t.Errorf("result = %+v", out.res)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	if r.IsRunning() {
		t.Error("runner still marked running after cancel")
	}
}

func TestStop_Idle(t *testing.T) {
	if err := NewRunner(Config{}).Stop(); err != nil {
		t.Fatalf("Stop on idle runner: %v", err)
	}
}

type countingWaker struct {
	mu       sync.Mutex
	runs     []keepawake.Run
	released int
}

func (w *countingWaker) Hold(_ context.Context, run keepawake.Run) func() {
	w.mu.Lock()
	w.runs = append(w.runs, run)
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		w.released++
		w.mu.Unlock()
	}
}

func TestRun_HoldsWakerForDuration(t *testing.T) {
	script := writeScript(t, "echo busy\n")
	r := NewRunner(Config{Path: script})
	w := &countingWaker{}
	r.SetWaker(w)

	res, err := r.Run(context.Background(), "src/A.java")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.runs) != 1 || w.released != 1 {
		t.Fatalf("held=%d released=%d, want 1/1", len(w.runs), w.released)
	}
	run := w.runs[0]
	if run.ID != res.ID || run.Target != "src/A.java" || run.PID <= 0 {
		t.Fatalf("held for %+v, want run %s on src/A.java with the analyzer pid", run, res.ID)
	}
}
