// Package diff parses unified-diff patch files produced by the analyzer.
// It recovers the source and destination file identity from the ---/+++
// headers and splits hunk bodies into typed lines, so callers can apply a
// patch or render its pre- and post-image side by side.
package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// LineKind classifies one line of a hunk body.
type LineKind int

const (
	// Context lines appear in both the pre-image and the post-image.
	Context LineKind = iota
	// Added lines appear only in the post-image ("+" prefix).
	Added
	// Removed lines appear only in the pre-image ("-" prefix).
	Removed
)

// Line is one line of a hunk body without its prefix and terminator.
type Line struct {
	Kind LineKind `json:"kind"`

	// Text is the line content. It excludes the trailing "\n" but keeps a
	// trailing "\r" so CRLF files round-trip byte for byte.
	Text string `json:"text"`

	// NoNewline is set when the line was followed by a
	// "\ No newline at end of file" marker.
	NoNewline bool `json:"no_newline,omitempty"`
}

// String renders the line back to its exact byte content.
func (l Line) String() string {
	if l.NoNewline {
		return l.Text
	}
	return l.Text + "\n"
}

// Hunk is a single @@ section of a patch.
type Hunk struct {
	// OldStart is the 1-based starting line in the original file.
	// Zero means the hunk inserts into an empty file.
	OldStart int `json:"old_start"`

	// OldCount is the number of pre-image lines (context + removed).
	OldCount int `json:"old_count"`

	// NewStart is the 1-based starting line in the patched file.
	NewStart int `json:"new_start"`

	// NewCount is the number of post-image lines (context + added).
	NewCount int `json:"new_count"`

	// Section is the optional text after the closing @@ (often a function name).
	Section string `json:"section,omitempty"`

	// Lines is the hunk body in order.
	Lines []Line `json:"lines"`
}

// ID returns a short content hash identifying the hunk.
// Uses the first 12 hex chars of SHA256, which is unique enough per file.
func (h *Hunk) ID() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d:%d:%d:%d\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
	for _, l := range h.Lines {
		fmt.Fprintf(&b, "%d%s\n", l.Kind, l.String())
	}
	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])[:12]
}

// OldLines returns the pre-image lines (context and removed).
func (h *Hunk) OldLines() []Line {
	return h.side(Added)
}

// NewLines returns the post-image lines (context and added).
func (h *Hunk) NewLines() []Line {
	return h.side(Removed)
}

// side returns every line except those of the excluded kind.
func (h *Hunk) side(exclude LineKind) []Line {
	out := make([]Line, 0, len(h.Lines))
	for _, l := range h.Lines {
		if l.Kind != exclude {
			out = append(out, l)
		}
	}
	return out
}

// Patch is a parsed unified-diff file.
type Patch struct {
	Headers
	Hunks []*Hunk `json:"hunks"`
}

// Headers holds the file paths named by the --- and +++ lines.
type Headers struct {
	// Source is the path token of the first "--- " line.
	Source string `json:"source"`

	// Destination is the path token of the first "+++ " line.
	Destination string `json:"destination"`
}

// Stats summarizes the size of a patch.
type Stats struct {
	Hunks   int `json:"hunks"`
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Stats counts hunks and added/removed lines.
func (p *Patch) Stats() Stats {
	s := Stats{Hunks: len(p.Hunks)}
	for _, h := range p.Hunks {
		for _, l := range h.Lines {
			switch l.Kind {
			case Added:
				s.Added++
			case Removed:
				s.Removed++
			}
		}
	}
	return s
}

// Sides returns the pre-image ("left") and post-image ("right") of every
// hunk concatenated in order. Each side reconstructs the exact bytes of the
// affected region, including a missing final newline.
func (p *Patch) Sides() (left, right string) {
	var l, r strings.Builder
	for _, h := range p.Hunks {
		for _, line := range h.OldLines() {
			l.WriteString(line.String())
		}
		for _, line := range h.NewLines() {
			r.WriteString(line.String())
		}
	}
	return l.String(), r.String()
}
