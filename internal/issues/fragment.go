package issues

import (
	"encoding/json"
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/fixdeck/host/internal/paths"
)

// Fragment is the document shape of one analyzer output file: group key to
// the issues found for it.
type Fragment map[string][]Issue

// typedFragment keeps the group order of the file.
type typedFragment = orderedmap.OrderedMap[string, []Issue]

// rawObject is a JSON object whose members are kept verbatim and in order,
// so a rewrite only touches the patches it removes.
type rawObject = orderedmap.OrderedMap[string, json.RawMessage]

// decodeFragment parses and validates fragment JSON.
func decodeFragment(data []byte) (*typedFragment, error) {
	frag := orderedmap.New[string, []Issue]()
	if err := json.Unmarshal(data, frag); err != nil {
		return nil, err
	}
	for pair := frag.Oldest(); pair != nil; pair = pair.Next() {
		for i, iss := range pair.Value {
			if err := iss.validate(); err != nil {
				return nil, fmt.Errorf("group %q issue %d: %w", pair.Key, i, err)
			}
		}
	}
	return frag, nil
}

func (i Issue) validate() error {
	r := i.TextRange
	if r.StartLine > r.EndLine {
		return fmt.Errorf("textRange startLine %d is after endLine %d", r.StartLine, r.EndLine)
	}
	if r.StartLine < 0 || r.StartColumn < 0 || r.EndColumn < 0 {
		return fmt.Errorf("textRange has a negative position")
	}
	for j, p := range i.Patches {
		if p.Path == "" {
			return fmt.Errorf("patch %d has no path", j)
		}
	}
	return nil
}

// MatchesPatch reports whether candidate, a patch path as stored in a
// fragment, refers to patchPath. Both are slash-normalized and case-folded;
// the candidate matches when it names patchPath or its trailing path
// segments, so callers may pass either the stored relative path or an
// absolute one.
func MatchesPatch(patchPath, candidate string) bool {
	if candidate == "" {
		return false
	}
	return paths.HasPathSuffix(patchPath, candidate)
}

// rewriteFragment removes every patch matching patchPath from fragment JSON.
// Issues left without patches and groups left without issues are removed.
// It reports whether anything changed; unchanged input is returned as is.
func rewriteFragment(data []byte, patchPath string) ([]byte, bool, error) {
	frag := orderedmap.New[string, []*rawObject]()
	if err := json.Unmarshal(data, frag); err != nil {
		return nil, false, err
	}

	changed := false
	var emptied []string
	for pair := frag.Oldest(); pair != nil; pair = pair.Next() {
		kept := make([]*rawObject, 0, len(pair.Value))
		for _, iss := range pair.Value {
			if iss == nil {
				kept = append(kept, iss)
				continue
			}
			keep, removed, err := filterPatches(iss, patchPath)
			if err != nil {
				return nil, false, fmt.Errorf("group %q: %w", pair.Key, err)
			}
			changed = changed || removed
			if keep {
				kept = append(kept, iss)
			}
		}
		if len(kept) == 0 && len(pair.Value) > 0 {
			emptied = append(emptied, pair.Key)
		}
		pair.Value = kept
	}
	if !changed {
		return data, false, nil
	}
	for _, k := range emptied {
		frag.Delete(k)
	}

	out, err := json.MarshalIndent(frag, "", "  ")
	if err != nil {
		return nil, false, err
	}
	return append(out, '\n'), true, nil
}

// filterPatches drops matching entries from the issue's "patches" member.
// keep is false when the issue lost its last patch.
func filterPatches(iss *rawObject, patchPath string) (keep, removed bool, err error) {
	raw, ok := iss.Get("patches")
	if !ok {
		return true, false, nil
	}
	var patches []*rawObject
	if err := json.Unmarshal(raw, &patches); err != nil {
		return false, false, fmt.Errorf("patches: %w", err)
	}

	kept := patches[:0]
	for _, p := range patches {
		if p != nil {
			var path string
			if v, ok := p.Get("path"); ok {
				_ = json.Unmarshal(v, &path)
			}
			if MatchesPatch(patchPath, path) {
				removed = true
				continue
			}
		}
		kept = append(kept, p)
	}
	if !removed {
		return true, false, nil
	}
	if len(kept) == 0 {
		return false, true, nil
	}

	encoded, err := json.Marshal(kept)
	if err != nil {
		return false, false, err
	}
	iss.Set("patches", encoded)
	return true, true, nil
}
