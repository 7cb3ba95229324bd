package issues

import (
	"strings"

	"github.com/sahilm/fuzzy"
)

// groupSource implements fuzzy.Source over tree groups.
type groupSource []*Group

func (g groupSource) String(i int) string {
	if g[i].SourceFileName == "" {
		return g[i].Key
	}
	return g[i].Key + " " + g[i].SourceFileName
}

func (g groupSource) Len() int { return len(g) }

// Filter returns the groups of t whose key or source file fuzzy-matches
// query, best match first. An empty query returns a copy of t.
func Filter(t *Tree, query string) *Tree {
	query = strings.TrimSpace(query)
	if query == "" {
		return t.Clone()
	}
	out := &Tree{}
	for _, m := range fuzzy.FindFrom(query, groupSource(t.Groups)) {
		out.Groups = append(out.Groups, t.Groups[m.Index].clone())
	}
	return out
}

// Filter applies Filter to the current tree.
func (s *Store) Filter(query string) *Tree {
	return Filter(s.Tree(), query)
}
