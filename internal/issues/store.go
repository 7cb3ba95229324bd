package issues

import (
	"context"
	"fmt"
	"log"
	"maps"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fixdeck/host/internal/diff"
	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/paths"
)

// DefaultConcurrency bounds parallel fragment reads.
const DefaultConcurrency = 8

// Fix is one patch candidate together with the issue it fixes.
type Fix struct {
	GroupKey       string    `json:"groupKey"`
	SourceFileName string    `json:"sourceFileName,omitempty"`
	TextRange      TextRange `json:"textRange"`
	Patch          Patch     `json:"patch"`

	// PatchFile is the normalized location of the diff file.
	PatchFile string `json:"patchFile"`

	// Source is the normalized file the patch applies to, or empty when the
	// patch header could not be resolved.
	Source string `json:"source,omitempty"`
}

// FragmentEdit is the rewritten content of one fragment file.
type FragmentEdit struct {
	Path   string
	Before []byte
	After  []byte
}

// Store owns the issue tree. All methods are safe for concurrent use; the
// tree handed out by Tree and Load is a copy.
type Store struct {
	norm     *paths.Normalizer
	patchDir string
	limit    int

	mu        sync.RWMutex
	manifest  string
	fragments []string
	tree      *Tree
	sources   map[string]string // patch key -> source file
	skipped   []error
	warned    bool
}

// NewStore creates an empty store. Relative patch paths in fragments are
// resolved against patchDir.
func NewStore(n *paths.Normalizer, patchDir string) *Store {
	return &Store{
		norm:     n,
		patchDir: n.Normalize(patchDir),
		limit:    DefaultConcurrency,
		sources:  make(map[string]string),
	}
}

// SetConcurrency changes the number of fragments read in parallel.
func (s *Store) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
}

// Normalizer returns the path normalizer the store compares with.
func (s *Store) Normalizer() *paths.Normalizer {
	return s.norm
}

// PatchFile returns the normalized location of a stored patch path.
func (s *Store) PatchFile(p string) string {
	return s.norm.Resolve(s.patchDir, p)
}

// ManifestPath returns the manifest of the last load.
func (s *Store) ManifestPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// Fragments returns the fragment files listed by the manifest at the last
// successful load, in manifest order.
func (s *Store) Fragments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fragments)
}

// Skipped returns the fragment errors of the last load.
func (s *Store) Skipped() []error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.skipped)
}

// Tree returns a copy of the current tree. It is empty before the first load.
func (s *Store) Tree() *Tree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tree == nil {
		return &Tree{}
	}
	return s.tree.Clone()
}

// Load reads the manifest and merges its fragments, in manifest order, into
// a new tree that replaces the current one.
//
// A fragment that cannot be read or parsed is logged and skipped. When the
// manifest itself cannot be read, Load returns a ManifestLoadError together
// with the tree it already had, which is empty on a first load. The warning
// is logged once until a load succeeds again.
func (s *Store) Load(ctx context.Context, manifestPath string) (*Tree, error) {
	manifestPath = s.norm.Normalize(manifestPath)
	list, err := s.readManifest(manifestPath)
	if err != nil {
		lerr := apperrors.ManifestLoadFailed(manifestPath, err)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.manifest = manifestPath
		if !s.warned {
			log.Printf("issues: %v (run the analyzer to create it)", lerr)
			s.warned = true
		}
		if s.tree == nil {
			s.tree = &Tree{}
		}
		return s.tree.Clone(), lerr
	}

	s.mu.RLock()
	limit := s.limit
	s.mu.RUnlock()

	results := make([]fragmentResult, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, fp := range list {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.readFragment(fp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return s.Tree(), err
	}

	tree, sources, skipped := s.merge(results)

	s.mu.Lock()
	s.manifest = manifestPath
	s.fragments = list
	s.tree = tree
	s.sources = sources
	s.skipped = skipped
	s.warned = false
	s.mu.Unlock()

	groups, issues, patches := tree.Counts()
	log.Printf("issues: loaded %d fragments (%d skipped): %d groups, %d issues, %d patches",
		len(list)-len(skipped), len(skipped), groups, issues, patches)
	return tree.Clone(), nil
}

// Reload loads the manifest of the previous Load again.
func (s *Store) Reload(ctx context.Context) (*Tree, error) {
	m := s.ManifestPath()
	if m == "" {
		return s.Tree(), apperrors.ManifestLoadFailed("", fmt.Errorf("no manifest has been loaded"))
	}
	return s.Load(ctx, m)
}

// RemoveByPatchPath drops every patch matching patchPath from the tree and
// returns the result. See the package-level RemoveByPatchPath.
func (s *Store) RemoveByPatchPath(patchPath string) *Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tree == nil {
		s.tree = &Tree{}
	}
	s.tree = RemoveByPatchPath(s.tree, patchPath)
	return s.tree.Clone()
}

// Lookup finds the first fix whose patch matches patchPath.
func (s *Store) Lookup(patchPath string) (Fix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tree == nil {
		return Fix{}, false
	}
	for _, g := range s.tree.Groups {
		for _, iss := range g.Issues {
			for _, p := range iss.Patches {
				if MatchesPatch(patchPath, p.Path) {
					return s.fix(g, iss, p), true
				}
			}
		}
	}
	return Fix{}, false
}

// FixesFor returns every fix whose patch applies to file, ordered by issue
// position. Callers step through it for next and previous navigation.
func (s *Store) FixesFor(file string) []Fix {
	key := s.norm.Key(file)

	s.mu.RLock()
	var out []Fix
	if s.tree != nil {
		for _, g := range s.tree.Groups {
			for _, iss := range g.Issues {
				for _, p := range iss.Patches {
					f := s.fix(g, iss, p)
					if f.Source != "" && s.norm.Key(f.Source) == key {
						out = append(out, f)
					}
				}
			}
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b Fix) int {
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

// fix builds a Fix; the caller holds s.mu.
func (s *Store) fix(g *Group, iss *Issue, p Patch) Fix {
	f := Fix{
		GroupKey:       g.Key,
		SourceFileName: iss.SourceFileName,
		TextRange:      iss.TextRange,
		Patch:          p,
		PatchFile:      s.PatchFile(p.Path),
	}
	if src := s.sources[s.norm.Key(f.PatchFile)]; src != "" {
		f.Source = src
	} else if iss.SourceFileName != "" {
		f.Source = s.norm.Normalize(iss.SourceFileName)
	}
	return f
}

// RewriteFragments computes the content every fragment file would have once
// patchPath is removed. Only fragments that change are returned. Nothing is
// written.
func (s *Store) RewriteFragments(patchPath string) ([]FragmentEdit, error) {
	var edits []FragmentEdit
	for _, fp := range s.Fragments() {
		before, err := os.ReadFile(s.norm.FS(fp))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, apperrors.FragmentParseFailed(fp, err)
		}
		after, changed, err := rewriteFragment(before, patchPath)
		if err != nil {
			// It was skipped at load time too, so it holds nothing to remove.
			log.Printf("issues: not rewriting %s: %v", fp, err)
			continue
		}
		if changed {
			edits = append(edits, FragmentEdit{Path: fp, Before: before, After: after})
		}
	}
	return edits, nil
}

// FragmentsContaining lists the fragment files that reference patchPath.
func (s *Store) FragmentsContaining(patchPath string) ([]string, error) {
	edits, err := s.RewriteFragments(patchPath)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(edits))
	for i, e := range edits {
		out[i] = e.Path
	}
	return out, nil
}

// readManifest returns the normalized fragment paths of a manifest.
// Relative entries are resolved against the manifest's directory.
func (s *Store) readManifest(manifestPath string) ([]string, error) {
	data, err := os.ReadFile(s.norm.FS(manifestPath))
	if err != nil {
		return nil, err
	}
	dir := path.Dir(manifestPath)
	var list []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		list = append(list, s.norm.Resolve(dir, line))
	}
	return list, nil
}

type fragmentResult struct {
	path    string
	groups  *typedFragment
	sources map[string]string
	err     error
}

// readFragment decodes one fragment and resolves the source file of every
// patch it references.
func (s *Store) readFragment(fp string) fragmentResult {
	res := fragmentResult{path: fp, sources: make(map[string]string)}
	data, err := os.ReadFile(s.norm.FS(fp))
	if err != nil {
		res.err = apperrors.FragmentParseFailed(fp, err)
		return res
	}
	groups, err := decodeFragment(data)
	if err != nil {
		res.err = apperrors.FragmentParseFailed(fp, err)
		return res
	}

	for pair := groups.Oldest(); pair != nil; pair = pair.Next() {
		for i := range pair.Value {
			iss := &pair.Value[i]
			for _, p := range iss.Patches {
				pf := s.PatchFile(p.Path)
				key := s.norm.Key(pf)
				src, ok := res.sources[key]
				if !ok {
					src = s.patchSource(pf)
					res.sources[key] = src
				}
				if iss.SourceFileName == "" && src != "" {
					if rel, err := s.norm.Rel(src); err == nil {
						iss.SourceFileName = rel
					} else {
						iss.SourceFileName = src
					}
				}
			}
		}
	}
	res.groups = groups
	return res
}

// patchSource reads the "---" header of a patch file and resolves it under
// the project root. An unreadable header yields "". An unresolvable one
// yields the normalized header path so comparisons can still be made.
func (s *Store) patchSource(patchFile string) string {
	data, err := os.ReadFile(s.norm.FS(patchFile))
	if err != nil {
		return ""
	}
	h, err := diff.ParseHeaders(string(data))
	if err != nil {
		return ""
	}
	if src, err := s.norm.ResolvePatchSource(h.Source); err == nil {
		return src
	}
	return s.norm.Normalize(h.Source)
}

// merge folds fragment results into a tree in manifest order.
func (s *Store) merge(results []fragmentResult) (*Tree, map[string]string, []error) {
	tree := &Tree{}
	sources := make(map[string]string)
	var skipped []error

	for _, r := range results {
		if r.err != nil {
			log.Printf("issues: skipping fragment: %v", r.err)
			skipped = append(skipped, r.err)
			continue
		}
		maps.Copy(sources, r.sources)

		for pair := r.groups.Oldest(); pair != nil; pair = pair.Next() {
			for i := range pair.Value {
				in := &pair.Value[i]
				g := tree.Find(pair.Key, in.SourceFileName, s.sameFile)
				if g == nil {
					g = &Group{Key: pair.Key, SourceFileName: in.SourceFileName}
					tree.Groups = append(tree.Groups, g)
				}
				if existing := g.find(in.TextRange); existing != nil {
					s.mergePatches(existing, in.Patches)
					continue
				}
				g.Issues = append(g.Issues, in.clone())
			}
		}
	}

	for _, g := range tree.Groups {
		for _, iss := range g.Issues {
			iss.sortPatches()
		}
	}
	return tree, sources, skipped
}

// mergePatches appends the incoming patches the issue does not already have.
// Patches are identified by their resolved file; the first occurrence wins.
func (s *Store) mergePatches(iss *Issue, incoming []Patch) {
	seen := make(map[string]bool, len(iss.Patches))
	for _, p := range iss.Patches {
		seen[s.norm.Key(s.PatchFile(p.Path))] = true
	}
	for _, p := range incoming {
		k := s.norm.Key(s.PatchFile(p.Path))
		if seen[k] {
			continue
		}
		seen[k] = true
		iss.Patches = append(iss.Patches, p)
	}
}

// sameFile compares source file names. An empty name only matches itself.
func (s *Store) sameFile(a, b string) bool {
	if a == "" || b == "" {
		return a == b
	}
	return s.norm.Equal(a, b)
}
