// Package patch applies unified-diff patches to file content.
//
// Each hunk is located in the source by its line-number hint. When the
// context is not at the hint, nearby offsets are tried, then fuzz levels
// that ignore leading and trailing context lines. Located hunks become byte
// range edits applied in one pass, so a failed hunk leaves nothing applied.
package patch

import (
	"fmt"
	"strings"

	udiff "github.com/aymanbagabas/go-udiff"

	"github.com/fixdeck/host/internal/diff"
	apperrors "github.com/fixdeck/host/internal/errors"
)

// DefaultFuzzFactor is the number of context lines that may be ignored at
// each end of a hunk.
const DefaultFuzzFactor = 2

// Applier holds hunk placement options. The zero value applies exactly at
// any offset with no fuzz.
type Applier struct {
	// FuzzFactor is the largest number of leading or trailing context lines
	// a hunk may lose and still match.
	FuzzFactor int

	// MaxOffset bounds how far from its hint a hunk may land, in lines.
	// Zero means anywhere after the previous hunk.
	MaxOffset int
}

// Placement records where a hunk landed.
type Placement struct {
	Hunk   int `json:"hunk"`   // 1-based hunk number
	Line   int `json:"line"`   // 1-based first matched source line
	Offset int `json:"offset"` // distance from the header's hint
	Fuzz   int `json:"fuzz"`   // context lines ignored at either end
}

// Result is a successful application.
type Result struct {
	Content string
	Hunks   []Placement
}

// Apply applies patchText to source with the default fuzz factor.
func Apply(source, patchText string) (string, error) {
	a := Applier{FuzzFactor: DefaultFuzzFactor}
	res, err := a.Apply(source, patchText)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

// Apply parses patchText and applies every hunk to source. It fails with a
// MalformedPatchError when the patch does not parse and a PatchApplyFailure
// when a hunk cannot be located.
func (a Applier) Apply(source, patchText string) (*Result, error) {
	p, err := diff.Parse(patchText)
	if err != nil {
		return nil, err
	}
	return a.ApplyPatch(source, p)
}

// Check reports whether patchText would apply to source.
func (a Applier) Check(source, patchText string) error {
	_, err := a.Apply(source, patchText)
	return err
}

// ApplyPatch applies an already parsed patch.
func (a Applier) ApplyPatch(source string, p *diff.Patch) (*Result, error) {
	lines, offsets := splitSource(source)

	res := &Result{}
	edits := make([]udiff.Edit, 0, len(p.Hunks))
	floor := 0
	for i, h := range p.Hunks {
		pl, start, end, repl, ok := a.locate(lines, h, floor)
		if !ok {
			return nil, apperrors.PatchApplyFailed(p.Source, a.reason(lines, h, i+1, floor))
		}
		pl.Hunk = i + 1
		res.Hunks = append(res.Hunks, pl)
		edits = append(edits, udiff.Edit{Start: offsets[start], End: offsets[end], New: repl})
		floor = end
	}

	out, err := udiff.Apply(source, edits)
	if err != nil {
		return nil, apperrors.PatchApplyFailed(p.Source, err.Error())
	}
	res.Content = out
	return res, nil
}

// locate finds the source line range [start, end) that the hunk replaces and
// the text replacing it. Lines before floor belong to earlier hunks.
func (a Applier) locate(lines []string, h *diff.Hunk, floor int) (pl Placement, start, end int, repl string, ok bool) {
	oldSide := render(h.OldLines())
	newSide := render(h.NewLines())
	lead, trail := contextRun(h)

	hint := h.OldStart - 1
	if h.OldCount == 0 {
		// "-N,0" inserts after line N.
		hint = h.OldStart
	}

	for fuzz := 0; fuzz <= a.FuzzFactor; fuzz++ {
		cutLead, cutTrail := min(fuzz, lead), min(fuzz, trail)
		if fuzz > 0 && cutLead+cutTrail == 0 {
			break
		}
		if cutLead+cutTrail >= len(oldSide) && len(oldSide) > 0 {
			break
		}
		want := oldSide[cutLead : len(oldSide)-cutTrail]
		pos, found := a.search(lines, want, hint+cutLead, floor)
		if !found {
			continue
		}
		pl = Placement{Line: pos + 1, Offset: pos - (hint + cutLead), Fuzz: max(cutLead, cutTrail)}
		repl = strings.Join(newSide[cutLead:len(newSide)-cutTrail], "")
		return pl, pos, pos + len(want), repl, true
	}
	return Placement{}, 0, 0, "", false
}

// search looks for want at hint, then at growing distances on both sides.
func (a Applier) search(lines, want []string, hint, floor int) (int, bool) {
	limit := a.MaxOffset
	if limit <= 0 {
		limit = len(lines) + 1
	}
	for d := 0; d <= limit; d++ {
		candidates := []int{hint + d}
		if d > 0 {
			candidates = append(candidates, hint-d)
		}
		for _, pos := range candidates {
			if pos < floor || pos+len(want) > len(lines) {
				continue
			}
			if matchAt(lines, want, pos) {
				return pos, true
			}
		}
		if hint-d < floor && hint+d+len(want) > len(lines) {
			break
		}
	}
	return 0, false
}

// reason explains why a hunk could not be placed.
func (a Applier) reason(lines []string, h *diff.Hunk, n, floor int) string {
	newSide := render(h.NewLines())
	oldSide := render(h.OldLines())
	if len(newSide) > 0 && !equalLines(oldSide, newSide) {
		probe := Applier{MaxOffset: a.MaxOffset}
		if _, found := probe.search(lines, newSide, h.NewStart-1, floor); found {
			return fmt.Sprintf("hunk %d is already applied", n)
		}
	}
	return fmt.Sprintf("hunk %d context not found near line %d", n, h.OldStart)
}

// contextRun counts the context lines at the start and end of a hunk.
func contextRun(h *diff.Hunk) (lead, trail int) {
	for _, l := range h.Lines {
		if l.Kind != diff.Context {
			break
		}
		lead++
	}
	if lead == len(h.Lines) {
		return lead, 0
	}
	for i := len(h.Lines) - 1; i >= 0 && h.Lines[i].Kind == diff.Context; i-- {
		trail++
	}
	return lead, trail
}

func matchAt(lines, want []string, pos int) bool {
	for i, w := range want {
		if lines[pos+i] != w {
			return false
		}
	}
	return true
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func render(ls []diff.Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.String()
	}
	return out
}

// splitSource splits source into lines that keep their "\n" and returns the
// byte offset at which each line starts, plus one final offset at the end.
func splitSource(source string) ([]string, []int) {
	var lines []string
	offsets := []int{0}
	for rest, at := source, 0; rest != ""; {
		n := strings.IndexByte(rest, '\n') + 1
		if n == 0 {
			n = len(rest)
		}
		lines = append(lines, rest[:n])
		at += n
		offsets = append(offsets, at)
		rest = rest[n:]
	}
	return lines, offsets
}
