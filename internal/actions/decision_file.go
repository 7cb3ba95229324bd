package actions

import (
	"context"
	"log"
	"os"

	"github.com/google/uuid"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/issues"
	"github.com/fixdeck/host/internal/patch"
	"github.com/fixdeck/host/internal/undo"
)

// Outcome describes a completed decision.
type Outcome struct {
	ID         string            `json:"id"`
	Decision   string            `json:"decision"`
	PatchPath  string            `json:"patchPath"`
	SourceFile string            `json:"sourceFile"`
	SnapshotID string            `json:"snapshotId"`
	Hunks      []patch.Placement `json:"hunks,omitempty"`
	Fragments  []string          `json:"fragments,omitempty"`
}

// Apply applies patchPath to its source file and removes it from the issue
// fragments and the tree.
//
// The patch is parsed, located and applied in memory and the fragment
// rewrites are computed before anything is written, so a failure up to that
// point leaves every file untouched. Then the undo snapshot is saved, the
// source file and the fragments are persisted, the tree is pruned and the
// decision is logged. A failure after the first write restores the
// snapshot.
//
// Returns a CodedError with appropriate error code:
//   - patch.not_found if the patch file does not exist
//   - patch.malformed if the patch has no headers or hunks
//   - path.resolution_failed if the source file cannot be found
//   - patch.apply_failed if a hunk cannot be located
//   - decision.log_failed if the decision log cannot be written
func (e *Engine) Apply(ctx context.Context, patchPath, reason string) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lp, err := e.loadPatch(patchPath)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(e.norm.FS(lp.source))
	if err != nil {
		return nil, apperrors.PathResolutionFailed(lp.source, err.Error())
	}

	res, err := e.applier.ApplyPatch(string(content), lp.parsed)
	if err != nil {
		log.Printf("actions: %s does not apply: %v", patchPath, err)
		return nil, err
	}

	edits, err := e.store.RewriteFragments(patchPath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fragments := make([]string, len(edits))
	for i, ed := range edits {
		fragments[i] = ed.Path
	}
	snap, revert, err := e.snapshot(lp, fragments, DecisionApplied)
	if err != nil {
		return nil, err
	}

	// From here on a failure rolls back, including the undo slot.
	if err := patch.Persist(e.norm.FS(lp.source), []byte(res.Content)); err != nil {
		e.rollback(snap, revert, false)
		return nil, apperrors.Internal("cannot write "+lp.source, err)
	}
	for _, ed := range edits {
		if err := patch.Persist(e.norm.FS(ed.Path), ed.After); err != nil {
			e.rollback(snap, revert, false)
			return nil, apperrors.Wrap(apperrors.CodeManifestSaveFailed, "cannot write "+ed.Path, err)
		}
	}

	e.store.RemoveByPatchPath(patchPath)

	entry := e.newEntry(DecisionApplied, lp, reason)
	if err := e.record(entry, lp.fix, snap.ID); err != nil {
		e.rollback(snap, revert, true)
		return nil, err
	}

	for _, pl := range res.Hunks {
		if pl.Offset != 0 || pl.Fuzz != 0 {
			log.Printf("actions: hunk %d of %s applied at line %d (offset %d, fuzz %d)",
				pl.Hunk, patchPath, pl.Line, pl.Offset, pl.Fuzz)
		}
	}
	log.Printf("actions: applied %s to %s (%d fragment(s) updated)", patchPath, lp.source, len(edits))

	e.notifyTreeChanged(patchPath)
	e.notifyDiagnosticsChanged(lp.source)

	return &Outcome{
		ID:         entry.ID,
		Decision:   DecisionApplied,
		PatchPath:  patchPath,
		SourceFile: lp.source,
		SnapshotID: snap.ID,
		Hunks:      res.Hunks,
		Fragments:  fragments,
	}, nil
}

// Decline records that the user rejected patchPath. Files and the tree are
// not changed, but a snapshot is still taken so an undo after a decline is
// well defined.
//
// A patch that can no longer be read or parsed can still be declined when
// its issue names the source file.
func (e *Engine) Decline(ctx context.Context, patchPath, reason string) (*Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lp, err := e.loadPatch(patchPath)
	if err != nil {
		fix, ok := e.store.Lookup(patchPath)
		if patchPath == "" || !ok || fix.Source == "" {
			return nil, err
		}
		log.Printf("actions: declining %s without a readable patch: %v", patchPath, err)
		lp = &loadedPatch{path: patchPath, file: fix.PatchFile, source: fix.Source, fix: fix, known: true}
	}

	fragments, err := e.store.FragmentsContaining(patchPath)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap, revert, err := e.snapshot(lp, fragments, DecisionDeclined)
	if err != nil {
		return nil, err
	}

	entry := e.newEntry(DecisionDeclined, lp, reason)
	if err := e.record(entry, lp.fix, snap.ID); err != nil {
		if rerr := revert(); rerr != nil {
			log.Printf("actions: cannot restore undo slot after failed decline: %v", rerr)
		}
		return nil, err
	}
	log.Printf("actions: declined %s", patchPath)

	return &Outcome{
		ID:         entry.ID,
		Decision:   DecisionDeclined,
		PatchPath:  patchPath,
		SourceFile: lp.source,
		SnapshotID: snap.ID,
		Fragments:  fragments,
	}, nil
}

// snapshot captures the source file and fragments and saves them to the
// undo slot. The returned revert puts the previous slot back.
func (e *Engine) snapshot(lp *loadedPatch, fragments []string, decision string) (*undo.Snapshot, func() error, error) {
	fsPaths := make([]string, len(fragments))
	for i, f := range fragments {
		fsPaths[i] = e.norm.FS(f)
	}
	snap, err := undo.Capture(e.norm.FS(lp.source), fsPaths)
	if err != nil {
		return nil, nil, apperrors.Internal("cannot take undo snapshot", err)
	}
	snap.PatchPath = lp.path
	snap.SourceFile = lp.source
	snap.Decision = decision

	revert, err := e.slot.Checkpoint(snap)
	if err != nil {
		return nil, nil, apperrors.Internal("cannot save undo snapshot", err)
	}
	return snap, revert, nil
}

// rollback restores the files of snap after a failed decision and puts the
// previous undo slot back, so the last successful decision stays undoable.
// When the tree was already pruned it is reloaded from the restored
// fragments.
func (e *Engine) rollback(snap *undo.Snapshot, revert func() error, reload bool) {
	if err := revert(); err != nil {
		log.Printf("actions: cannot restore undo slot after %s: %v", snap.PatchPath, err)
	}
	if err := undo.RestoreImages(snap); err != nil {
		log.Printf("actions: rollback of %s failed: %v", snap.PatchPath, err)
		return
	}
	log.Printf("actions: rolled back %s", snap.PatchPath)
	if reload {
		if _, err := e.store.Reload(context.Background()); err != nil {
			log.Printf("actions: reload after rollback failed: %v", err)
		}
	}
}

func (e *Engine) newEntry(decision string, lp *loadedPatch, reason string) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Time:       e.now(),
		SourceFile: lp.source,
		PatchPath:  lp.file,
		Decision:   decision,
		Reason:     reason,
	}
}

// fixFor looks up the issue entry of a patch for history rows.
func (e *Engine) fixFor(patchPath string) issues.Fix {
	fix, _ := e.store.Lookup(patchPath)
	return fix
}
