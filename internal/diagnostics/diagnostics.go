// Package diagnostics turns the issues of one open file into editor
// diagnostics.
package diagnostics

import (
	"fmt"
	"log"
	"slices"
	"sync"

	"fortio.org/safecast"

	"github.com/fixdeck/host/internal/issues"
)

// Source is the diagnostic source shown by editors.
const Source = "fixdeck"

// Code marks diagnostics produced from analyzer findings.
const Code = "analyzer_mention"

// SeverityInformation is the only severity used; findings are suggestions.
const SeverityInformation = "information"

// Position is a 0-based line and column.
type Position struct {
	Line      uint32 `json:"line"`
	Character uint32 `json:"character"`
}

// Range is a span in a document.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Action is one quick fix offered on a diagnostic.
type Action struct {
	Title     string  `json:"title"`
	PatchPath string  `json:"patchPath"`
	Score     float64 `json:"score"`
}

// Diagnostic is one issue in an open file.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity string   `json:"severity"`
	Source   string   `json:"source"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Actions  []Action `json:"actions"`
}

// Collection receives the diagnostics of a document, replacing any it held
// for that document before.
type Collection interface {
	Set(document string, diags []Diagnostic)
}

// FixSource lists the fixes that apply to a file. *issues.Store implements it.
type FixSource interface {
	FixesFor(file string) []issues.Fix
}

// Refresh computes the diagnostics of document and stores them in c.
// Each issue yields one diagnostic whose actions are its patches in score
// order. Lines are converted from the 1-based issue ranges.
func Refresh(src FixSource, document string, c Collection) []Diagnostic {
	diags := Build(src.FixesFor(document))
	c.Set(document, diags)
	return diags
}

// Build groups fixes, already ordered by issue, into diagnostics.
func Build(fixes []issues.Fix) []Diagnostic {
	diags := make([]Diagnostic, 0, len(fixes))
	var last *issues.Fix
	for i := range fixes {
		f := &fixes[i]
		action := Action{Title: f.Patch.Explanation, PatchPath: f.Patch.Path, Score: f.Patch.Score}
		if last != nil && last.GroupKey == f.GroupKey && last.TextRange == f.TextRange {
			d := &diags[len(diags)-1]
			d.Actions = append(d.Actions, action)
			continue
		}

		r, err := convertRange(f.TextRange)
		if err != nil {
			log.Printf("diagnostics: skipping %s: %v", f.Patch.Path, err)
			continue
		}
		diags = append(diags, Diagnostic{
			Range:    r,
			Severity: SeverityInformation,
			Source:   Source,
			Code:     Code,
			Message:  f.GroupKey,
			Actions:  []Action{action},
		})
		last = f
	}
	for i := range diags {
		slices.SortStableFunc(diags[i].Actions, func(a, b Action) int {
			switch {
			case a.Score > b.Score:
				return -1
			case a.Score < b.Score:
				return 1
			}
			return 0
		})
	}
	return diags
}

func convertRange(tr issues.TextRange) (Range, error) {
	var r Range
	var err error
	if r.Start.Line, err = safecast.Conv[uint32](max(tr.StartLine-1, 0)); err != nil {
		return r, fmt.Errorf("start line %d: %w", tr.StartLine, err)
	}
	if r.Start.Character, err = safecast.Conv[uint32](tr.StartColumn); err != nil {
		return r, fmt.Errorf("start column %d: %w", tr.StartColumn, err)
	}
	if r.End.Line, err = safecast.Conv[uint32](max(tr.EndLine-1, 0)); err != nil {
		return r, fmt.Errorf("end line %d: %w", tr.EndLine, err)
	}
	if r.End.Character, err = safecast.Conv[uint32](tr.EndColumn); err != nil {
		return r, fmt.Errorf("end column %d: %w", tr.EndColumn, err)
	}
	return r, nil
}

// MemoryCollection keeps diagnostics in memory.
type MemoryCollection struct {
	mu    sync.RWMutex
	items map[string][]Diagnostic
}

// NewMemoryCollection creates an empty collection.
func NewMemoryCollection() *MemoryCollection {
	return &MemoryCollection{items: make(map[string][]Diagnostic)}
}

// Set implements Collection. An empty list removes the document.
func (m *MemoryCollection) Set(document string, diags []Diagnostic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(diags) == 0 {
		delete(m.items, document)
		return
	}
	m.items[document] = slices.Clone(diags)
}

// Get returns the diagnostics of a document.
func (m *MemoryCollection) Get(document string) []Diagnostic {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items[document])
}

// Documents lists the documents that have diagnostics, sorted.
func (m *MemoryCollection) Documents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.items))
	for doc := range m.items {
		out = append(out, doc)
	}
	slices.Sort(out)
	return out
}

// CollectionFunc adapts a function to Collection.
type CollectionFunc func(document string, diags []Diagnostic)

// Set implements Collection.
func (f CollectionFunc) Set(document string, diags []Diagnostic) {
	f(document, diags)
}
