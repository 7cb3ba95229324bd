// Package issues loads analyzer findings into an in-memory issue tree.
//
// The analyzer writes a manifest, a newline-delimited list of JSON fragment
// files. Each fragment maps a group key (usually a rule identifier) to the
// issues found for it, and each issue carries candidate patches. The Store
// merges all fragments into one Tree keyed by (group key, source file),
// removing duplicate issues by text range and keeping every issue's patches
// ordered by descending score.
package issues

import (
	"cmp"
	"slices"
)

// TextRange locates an issue in its source file. Lines are 1-based as
// emitted by the analyzer; columns are 0-based offsets within the line.
type TextRange struct {
	StartLine   int `json:"startLine" jsonschema:"minimum=0"`
	StartColumn int `json:"startColumn" jsonschema:"minimum=0"`
	EndLine     int `json:"endLine" jsonschema:"minimum=0"`
	EndColumn   int `json:"endColumn" jsonschema:"minimum=0"`
}

// Before orders ranges by start position.
func (r TextRange) Before(o TextRange) bool {
	if r.StartLine != o.StartLine {
		return r.StartLine < o.StartLine
	}
	return r.StartColumn < o.StartColumn
}

// Patch is one candidate fix for an issue.
type Patch struct {
	// Path is the unified-diff file, relative to the patch directory.
	Path string `json:"path" jsonschema:"minLength=1"`

	// Explanation is the action label shown to the user.
	Explanation string `json:"explanation"`

	// Score ranks candidates; higher is preferred.
	Score float64 `json:"score"`
}

// Issue is one finding at a source location.
type Issue struct {
	TextRange TextRange `json:"textRange"`

	// SourceFileName is the file the issue applies to. The analyzer may omit
	// it, in which case it is taken from the first readable patch header.
	SourceFileName string `json:"sourceFileName,omitempty"`

	// Patches are kept sorted by descending score.
	Patches []Patch `json:"patches"`
}

// sortPatches orders patches by descending score, keeping the original
// order for equal scores.
func (i *Issue) sortPatches() {
	slices.SortStableFunc(i.Patches, func(a, b Patch) int {
		return cmp.Compare(b.Score, a.Score)
	})
}

func (i *Issue) clone() *Issue {
	c := *i
	c.Patches = slices.Clone(i.Patches)
	return &c
}

// Group holds the issues of one group key in one source file.
type Group struct {
	Key            string   `json:"key"`
	SourceFileName string   `json:"sourceFileName,omitempty"`
	Issues         []*Issue `json:"issues"`
}

// find returns the issue at r, or nil.
func (g *Group) find(r TextRange) *Issue {
	for _, iss := range g.Issues {
		if iss.TextRange == r {
			return iss
		}
	}
	return nil
}

// SortedIssues returns the issues ordered by position for display.
func (g *Group) SortedIssues() []*Issue {
	out := slices.Clone(g.Issues)
	slices.SortStableFunc(out, func(a, b *Issue) int {
		switch {
		case a.TextRange.Before(b.TextRange):
			return -1
		case b.TextRange.Before(a.TextRange):
			return 1
		}
		return 0
	})
	return out
}

func (g *Group) clone() *Group {
	c := &Group{Key: g.Key, SourceFileName: g.SourceFileName, Issues: make([]*Issue, len(g.Issues))}
	for i, iss := range g.Issues {
		c.Issues[i] = iss.clone()
	}
	return c
}

// Tree is the merged aggregate of all fragments. Groups keep the order in
// which they were first seen. No group is empty and no two issues in a group
// share a text range.
type Tree struct {
	Groups []*Group `json:"groups"`
}

// Find returns the group for key and source file. sameFile compares source
// file names; nil means exact string equality.
func (t *Tree) Find(key, source string, sameFile func(a, b string) bool) *Group {
	for _, g := range t.Groups {
		if g.Key != key {
			continue
		}
		if sameFile == nil {
			if g.SourceFileName == source {
				return g
			}
		} else if sameFile(g.SourceFileName, source) {
			return g
		}
	}
	return nil
}

// Counts returns the number of groups, issues and patches in the tree.
func (t *Tree) Counts() (groups, issues, patches int) {
	for _, g := range t.Groups {
		issues += len(g.Issues)
		for _, iss := range g.Issues {
			patches += len(iss.Patches)
		}
	}
	return len(t.Groups), issues, patches
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	c := &Tree{Groups: make([]*Group, len(t.Groups))}
	for i, g := range t.Groups {
		c.Groups[i] = g.clone()
	}
	return c
}

// RemoveByPatchPath returns a copy of t without any patch whose path equals
// patchPath or is a trailing path of it. Issues left without patches and
// groups left without issues are dropped. Applying it twice with the same
// path is the same as applying it once.
func RemoveByPatchPath(t *Tree, patchPath string) *Tree {
	out := &Tree{}
	for _, g := range t.Groups {
		ng := &Group{Key: g.Key, SourceFileName: g.SourceFileName}
		for _, iss := range g.Issues {
			ni := iss.clone()
			ni.Patches = slices.DeleteFunc(ni.Patches, func(p Patch) bool {
				return MatchesPatch(patchPath, p.Path)
			})
			if len(ni.Patches) > 0 {
				ng.Issues = append(ng.Issues, ni)
			}
		}
		if len(ng.Issues) > 0 {
			out.Groups = append(out.Groups, ng)
		}
	}
	return out
}
