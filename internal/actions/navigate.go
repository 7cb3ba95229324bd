package actions

import "github.com/fixdeck/host/internal/issues"

// Next returns the fix step positions away from current among the fixes for
// file, in issue order, wrapping around at either end. With an empty or
// unknown current it starts at the first fix for a forward step and the last
// fix for a backward one. It reports false when file has no fixes.
func (e *Engine) Next(file, current string, step int) (issues.Fix, bool) {
	fixes := e.store.FixesFor(file)
	n := len(fixes)
	if n == 0 {
		return issues.Fix{}, false
	}

	idx := -1
	if current != "" {
		for i, f := range fixes {
			if issues.MatchesPatch(current, f.Patch.Path) || e.norm.Equal(current, f.PatchFile) {
				idx = i
				break
			}
		}
	}

	switch {
	case idx < 0 && step < 0:
		return fixes[n-1], true
	case idx < 0:
		return fixes[0], true
	}
	return fixes[((idx+step)%n+n)%n], true
}
