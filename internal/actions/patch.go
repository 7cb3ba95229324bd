package actions

import (
	"errors"
	"io/fs"
	"os"

	"github.com/fixdeck/host/internal/diff"
	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/issues"
)

// loadedPatch is a patch file read from disk and mapped to its source file.
type loadedPatch struct {
	path   string // as requested
	file   string // normalized patch file
	text   string
	parsed *diff.Patch
	source string // normalized source file
	fix    issues.Fix
	known  bool // an issue in the tree references the patch
}

// loadPatch reads and parses patchPath and resolves the file it applies to.
// The "---" header decides the source; when it cannot be resolved, the
// source file named by the issue is used instead.
func (e *Engine) loadPatch(patchPath string) (*loadedPatch, error) {
	if patchPath == "" {
		return nil, apperrors.InvalidDecision("patch path is required")
	}

	lp := &loadedPatch{path: patchPath, file: e.store.PatchFile(patchPath)}
	lp.fix, lp.known = e.store.Lookup(patchPath)

	data, err := os.ReadFile(e.norm.FS(lp.file))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.PatchNotFound(patchPath)
	}
	if err != nil {
		return nil, apperrors.Internal("cannot read patch "+patchPath, err)
	}
	lp.text = string(data)

	lp.parsed, err = diff.Parse(lp.text)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePatchMalformed, "malformed patch "+patchPath, err)
	}

	lp.source, err = e.norm.ResolvePatchSource(lp.parsed.Source)
	if err != nil {
		if !lp.known || lp.fix.Source == "" {
			return nil, err
		}
		lp.source = lp.fix.Source
	}
	return lp, nil
}

// Preview describes a patch for a diff view.
type Preview struct {
	PatchPath string      `json:"patchPath"`
	PatchFile string      `json:"patchFile"`
	Source    string      `json:"source"`
	Left      string      `json:"left"`
	Right     string      `json:"right"`
	Stats     diff.Stats  `json:"stats"`
	Fix       *issues.Fix `json:"fix,omitempty"`

	// Applies reports whether the patch would apply to the current source.
	Applies bool   `json:"applies"`
	Reason  string `json:"reason,omitempty"`
}

// Preview returns both sides of a patch and whether it still applies.
// Nothing is written.
func (e *Engine) Preview(patchPath string) (*Preview, error) {
	lp, err := e.loadPatch(patchPath)
	if err != nil {
		return nil, err
	}

	left, right := lp.parsed.Sides()
	pv := &Preview{
		PatchPath: patchPath,
		PatchFile: lp.file,
		Source:    lp.source,
		Left:      left,
		Right:     right,
		Stats:     lp.parsed.Stats(),
	}
	if lp.known {
		fix := lp.fix
		pv.Fix = &fix
	}

	content, err := os.ReadFile(e.norm.FS(lp.source))
	if err != nil {
		pv.Reason = err.Error()
		return pv, nil
	}
	if _, err := e.applier.ApplyPatch(string(content), lp.parsed); err != nil {
		pv.Reason = apperrors.GetMessage(err)
		return pv, nil
	}
	pv.Applies = true
	return pv, nil
}
