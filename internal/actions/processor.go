package actions

import (
	"log"
	"sync"
	"time"

	"github.com/fixdeck/host/internal/issues"
	"github.com/fixdeck/host/internal/patch"
	"github.com/fixdeck/host/internal/paths"
	"github.com/fixdeck/host/internal/storage"
	"github.com/fixdeck/host/internal/undo"
)

// TreeChangedCallback is called after a decision changed the issue tree.
// The patch path is provided so a tree view can refresh the affected node.
type TreeChangedCallback func(patchPath string)

// DiagnosticsChangedCallback is called after a decision rewrote a source
// file, so open editors can recompute its diagnostics.
type DiagnosticsChangedCallback func(file string)

// History receives one row per decision. *storage.SQLiteStore implements it.
type History interface {
	SaveDecision(rec *storage.DecisionRecord) error
}

// Engine applies, declines and undoes patches. Decisions are serialized:
// a decision requested while another is in flight waits for it.
type Engine struct {
	// store is the issue store the decisions mutate.
	store *issues.Store

	// norm maps patch headers and fragment paths onto the filesystem.
	norm *paths.Normalizer

	// slot holds the snapshot taken before the latest decision.
	slot *undo.Slot

	// decisions is the text log appended after every decision.
	decisions *DecisionLog

	// applier locates and applies hunks.
	applier patch.Applier

	// history is the optional SQLite decision history.
	// If nil, decisions are only written to the text log.
	history History

	onTreeChanged        TreeChangedCallback
	onDiagnosticsChanged DiagnosticsChangedCallback

	// now is replaceable in tests.
	now func() time.Time

	// mu serializes decisions.
	mu sync.Mutex
}

// NewEngine creates an engine over the given issue store, undo slot and
// decision log.
func NewEngine(store *issues.Store, slot *undo.Slot, decisions *DecisionLog) *Engine {
	return &Engine{
		store:     store,
		norm:      store.Normalizer(),
		slot:      slot,
		decisions: decisions,
		applier:   patch.Applier{FuzzFactor: patch.DefaultFuzzFactor},
		now:       time.Now,
	}
}

// SetApplier replaces the default applier options.
func (e *Engine) SetApplier(a patch.Applier) {
	e.applier = a
}

// SetHistory sets the optional decision history.
func (e *Engine) SetHistory(h History) {
	e.history = h
}

// SetTreeChangedCallback sets the callback called after the tree changed.
func (e *Engine) SetTreeChangedCallback(cb TreeChangedCallback) {
	e.onTreeChanged = cb
}

// SetDiagnosticsChangedCallback sets the callback called after a source file
// was rewritten.
func (e *Engine) SetDiagnosticsChangedCallback(cb DiagnosticsChangedCallback) {
	e.onDiagnosticsChanged = cb
}

// Store returns the issue store the engine works on.
func (e *Engine) Store() *issues.Store {
	return e.store
}

func (e *Engine) notifyTreeChanged(patchPath string) {
	if e.onTreeChanged != nil {
		e.onTreeChanged(patchPath)
	}
}

func (e *Engine) notifyDiagnosticsChanged(file string) {
	if e.onDiagnosticsChanged != nil && file != "" {
		e.onDiagnosticsChanged(file)
	}
}

// record writes a decision to the text log and, when configured, the
// history. Only the text log is authoritative; a history failure is logged.
func (e *Engine) record(entry Entry, fix issues.Fix, snapshotID string) error {
	if err := e.decisions.Append(entry); err != nil {
		return err
	}
	if e.history == nil {
		return nil
	}
	rec := &storage.DecisionRecord{
		ID:          entry.ID,
		DecidedAt:   entry.Time,
		SourceFile:  entry.SourceFile,
		PatchPath:   entry.PatchPath,
		Decision:    entry.Decision,
		Reason:      entry.Reason,
		Explanation: fix.Patch.Explanation,
		Score:       fix.Patch.Score,
		SnapshotID:  snapshotID,
	}
	if err := e.history.SaveDecision(rec); err != nil {
		log.Printf("actions: failed to save decision %s to history: %v", entry.ID, err)
	}
	return nil
}
