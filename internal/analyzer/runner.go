// Package analyzer runs the external security analyzer in a PTY.
//
// The analyzer is a separate executable that writes patches and the issue
// manifest. The runner starts it for the whole project or for one file,
// forwards its output line by line, and reports completion by exit code.
// Only one run may be outstanding at a time.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/keepawake"
	"github.com/fixdeck/host/internal/storage"
)

// DefaultConfigName is looked up next to the analyzer when no config file
// is configured.
const DefaultConfigName = "config.properties"

// Config describes how the analyzer is invoked.
type Config struct {
	// Path is the analyzer executable, or the directory it runs in. When it
	// is a directory, the first word of Params is the command.
	Path string

	// Params are extra arguments, split on whitespace.
	Params string

	// ConfigFile is passed as -config=<file>.
	ConfigFile string

	// HistoryLines is how many output lines are kept for late subscribers.
	HistoryLines int
}

// Recorder stores finished runs. *storage.SQLiteStore implements it.
type Recorder interface {
	RecordAnalysisRun(run *storage.AnalysisRun) error
}

// Waker keeps the host awake while an analyzer process runs.
// *keepawake.Manager implements it.
type Waker interface {
	Hold(ctx context.Context, run keepawake.Run) (release func())
}

// Result describes a finished run.
type Result struct {
	ID         string    `json:"id"`
	Target     string    `json:"target,omitempty"`
	ExitCode   int       `json:"exitCode"`
	Lines      int       `json:"lines"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Runner starts analyzer runs. A Runner is safe for concurrent use; a Run
// requested while another is outstanding fails immediately.
type Runner struct {
	cfg Config

	recorder Recorder
	waker    Waker
	onOutput func(line string)

	running atomic.Bool
	buffer  *RingBuffer

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewRunner creates a runner for cfg.
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg, buffer: NewRingBuffer(cfg.HistoryLines)}
}

// SetRecorder sets the optional store for finished runs.
func (r *Runner) SetRecorder(rec Recorder) {
	r.recorder = rec
}

// SetWaker sets the optional keep-awake holder used while a run is
// outstanding.
func (r *Runner) SetWaker(w Waker) {
	r.waker = w
}

// SetOutputHandler sets the callback invoked for each output line.
func (r *Runner) SetOutputHandler(fn func(line string)) {
	r.onOutput = fn
}

// IsRunning reports whether a run is outstanding.
func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// Lines returns the output of the current or last run.
func (r *Runner) Lines() []string {
	return r.buffer.Lines()
}

// Command returns the command line for a run over target, or over the whole
// project when target is empty.
func (r *Runner) Command(target string) (name string, args []string, dir string, err error) {
	if r.cfg.Path == "" {
		return "", nil, "", apperrors.AnalysisNotConfigured("analyzer_path is not set")
	}
	params := strings.Fields(r.cfg.Params)

	info, statErr := os.Stat(r.cfg.Path)
	switch {
	case statErr != nil:
		return "", nil, "", apperrors.AnalysisNotConfigured(statErr.Error())
	case info.IsDir():
		if len(params) == 0 {
			return "", nil, "", apperrors.AnalysisNotConfigured("analyzer_params must name the command when analyzer_path is a directory")
		}
		name, args, dir = params[0], params[1:], r.cfg.Path
	default:
		name, args, dir = r.cfg.Path, params, filepath.Dir(r.cfg.Path)
	}

	configFile := r.cfg.ConfigFile
	if configFile == "" {
		candidate := filepath.Join(dir, DefaultConfigName)
		if _, err := os.Stat(candidate); err == nil {
			configFile = candidate
		}
	}
	if configFile != "" {
		args = append(args, "-config="+configFile)
	}
	if target != "" {
		args = append(args, "-cu="+target)
	}
	return name, args, dir, nil
}

// Run starts the analyzer and waits for it to exit. Cancelling ctx stops
// it. The run is recorded whether or not it succeeds.
//
// Returns a CodedError with appropriate error code:
//   - analysis.already_running if another run is outstanding
//   - analysis.not_configured if the analyzer path or params are missing
//   - analysis.failed if the analyzer cannot start or exits non-zero
func (r *Runner) Run(ctx context.Context, target string) (*Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, apperrors.AnalysisAlreadyRunning()
	}
	defer r.running.Store(false)

	name, args, dir, err := r.Command(target)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = dir

	r.buffer.Clear()
	res := &Result{ID: uuid.NewString(), Target: target, StartedAt: time.Now()}

	log.Printf("analyzer: starting %s %s", name, strings.Join(args, " "))
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, apperrors.AnalysisFailed("cannot start analyzer", err)
	}

	r.mu.Lock()
	r.cmd = cmd
	r.mu.Unlock()

	if r.waker != nil {
		release := r.waker.Hold(ctx, keepawake.Run{ID: res.ID, Target: target, PID: cmd.Process.Pid})
		defer release()
	}

	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		res.Lines = r.capture(ptmx)
	}()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		if err := r.Stop(); err != nil {
			log.Printf("analyzer: stop failed: %v", err)
		}
		waitErr = <-waitCh
	}

	<-outputDone
	ptmx.Close()

	r.mu.Lock()
	r.cmd = nil
	r.mu.Unlock()

	res.FinishedAt = time.Now()
	res.ExitCode = exitCode(waitErr)
	r.record(res, waitErr)
	log.Printf("analyzer: finished in %s with exit code %d (%d lines)",
		res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), res.ExitCode, res.Lines)

	if err := ctx.Err(); err != nil {
		return res, err
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return res, apperrors.AnalysisFailed("analyzer did not finish", waitErr)
	}
	if res.ExitCode != 0 {
		return res, apperrors.AnalysisFailed(fmt.Sprintf("analyzer exited with status %d", res.ExitCode), waitErr)
	}
	return res, nil
}

// Stop terminates the analyzer and every process it started.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd == nil || r.cmd.Process == nil {
		return nil
	}
	return killProcessGroup(r.cmd.Process)
}

// capture reads the PTY until the analyzer closes it and returns the number
// of lines seen.
func (r *Runner) capture(ptmx io.Reader) int {
	buf := make([]byte, 4096)
	var pending strings.Builder
	count := 0

	emit := func(line string) {
		line = strings.ToValidUTF8(strings.TrimRight(line, "\r"), "�")
		r.buffer.Write(line)
		count++
		if r.onOutput != nil {
			r.onOutput(line)
		}
	}

	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := pending.String() + string(buf[:n])
			pending.Reset()
			for {
				idx := strings.IndexByte(chunk, '\n')
				if idx < 0 {
					pending.WriteString(chunk)
					break
				}
				emit(chunk[:idx])
				chunk = chunk[idx+1:]
			}
		}
		if err != nil {
			// Linux reports EIO once the last writer is gone.
			if pending.Len() > 0 {
				emit(pending.String())
			}
			return count
		}
	}
}

func (r *Runner) record(res *Result, waitErr error) {
	if r.recorder == nil {
		return
	}
	run := &storage.AnalysisRun{
		ID:          res.ID,
		Target:      res.Target,
		StartedAt:   res.StartedAt,
		FinishedAt:  res.FinishedAt,
		ExitCode:    res.ExitCode,
		OutputLines: res.Lines,
	}
	if waitErr != nil {
		run.Error = waitErr.Error()
	}
	if err := r.recorder.RecordAnalysisRun(run); err != nil {
		log.Printf("analyzer: failed to record run %s: %v", res.ID, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
