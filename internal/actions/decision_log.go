package actions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/storage"
)

// Decision values written to the log. Undo uses the user-facing sentence as
// its decision so the log reads naturally.
const (
	DecisionApplied  = storage.DecisionApplied
	DecisionDeclined = storage.DecisionDeclined
	DecisionUndone   = storage.DecisionUndone
)

// DefaultDecisionLogName is the log file created next to the patches.
const DefaultDecisionLogName = "user_decisions.txt"

// Entry is one line of the decision log.
type Entry struct {
	ID         string
	Time       time.Time
	SourceFile string
	PatchPath  string
	Decision   string
	Reason     string
}

// String renders the entry as a log line without the trailing newline:
//
//	2026/3/4 9:5 == /proj/A.java original File <-> p1.diff patch, decision: applied, reason: ok
func (e Entry) String() string {
	t := e.Time
	return fmt.Sprintf("%d/%d/%d %d:%d == %s original File <-> %s patch, decision: %s, reason: %s",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(),
		e.SourceFile, e.PatchPath, e.Decision, oneLine(e.Reason))
}

// DecisionLog is an append-only text file of decisions.
type DecisionLog struct {
	path string
	mu   sync.Mutex
}

// NewDecisionLog creates a log stored at path. The file is created on the
// first append.
func NewDecisionLog(path string) *DecisionLog {
	return &DecisionLog{path: path}
}

// Path returns the log file location.
func (l *DecisionLog) Path() string {
	return l.path
}

// Append writes one line to the log.
func (l *DecisionLog) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return apperrors.Wrap(apperrors.CodeDecisionLogFailed, "cannot create decision log directory", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDecisionLogFailed, "cannot open decision log", err)
	}
	if _, err := f.WriteString(e.String() + "\n"); err != nil {
		f.Close()
		return apperrors.Wrap(apperrors.CodeDecisionLogFailed, "cannot append to decision log", err)
	}
	if err := f.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeDecisionLogFailed, "cannot close decision log", err)
	}
	return nil
}

// Lines returns the logged lines, oldest first. A missing log has no lines.
func (l *DecisionLog) Lines() ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// oneLine keeps a multi-line reason on a single log line.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
