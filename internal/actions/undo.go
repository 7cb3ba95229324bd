package actions

import (
	"context"
	"log"

	"github.com/google/uuid"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// Undo restores the source file and fragments saved before the latest apply
// or decline, logs the undo and reloads the issue tree.
//
// The snapshot is kept after an undo, so a second undo restores the same
// content again. Undo after a decline restores identical files and is still
// logged.
//
// Returns a CodedError with appropriate error code:
//   - undo.no_snapshot if nothing has been applied or declined yet
//   - undo.failed if the snapshot cannot be read or restored
//   - decision.log_failed if the decision log cannot be written
func (e *Engine) Undo(ctx context.Context, reason string) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, err := e.slot.Restore()
	if err != nil {
		if !apperrors.IsCode(err, apperrors.CodeUndoNoSnapshot) {
			log.Printf("actions: undo failed: %v", err)
		}
		return nil, err
	}

	// The files are back; the tree follows even if the caller gives up now.
	if _, err := e.store.Reload(context.WithoutCancel(ctx)); err != nil {
		log.Printf("actions: reload after undo failed: %v", err)
	}

	entry := Entry{
		ID:         uuid.NewString(),
		Time:       e.now(),
		SourceFile: snap.SourceFile,
		PatchPath:  e.store.PatchFile(snap.PatchPath),
		Decision:   DecisionUndone,
		Reason:     reason,
	}
	if err := e.record(entry, e.fixFor(snap.PatchPath), snap.ID); err != nil {
		return nil, err
	}
	log.Printf("actions: undo completed for %s (was %s)", snap.PatchPath, snap.Decision)

	e.notifyTreeChanged(snap.PatchPath)
	e.notifyDiagnosticsChanged(snap.SourceFile)

	fragments := make([]string, len(snap.Fragments))
	for i, img := range snap.Fragments {
		fragments[i] = img.Path
	}
	return &Outcome{
		ID:         entry.ID,
		Decision:   DecisionUndone,
		PatchPath:  snap.PatchPath,
		SourceFile: snap.SourceFile,
		SnapshotID: snap.ID,
		Fragments:  fragments,
	}, nil
}
