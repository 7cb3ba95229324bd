package issues

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/paths"
)

type fixture struct {
	root     string
	patchDir string
	manifest string
	store    *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		root:     root,
		patchDir: filepath.Join(root, "patches"),
		manifest: filepath.Join(root, "out", "manifest.txt"),
	}
	require.NoError(t, os.MkdirAll(f.patchDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "out"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	f.write(t, "src/A.java", "class A {\n  int x;\n}\n")
	f.write(t, "src/B.java", "class B {\n}\n")
	f.store = NewStore(paths.New(root), f.patchDir)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	p := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// writePatch writes a one-line patch against source under the patch dir.
func (f *fixture) writePatch(t *testing.T, name, source string) {
	t.Helper()
	f.write(t, "patches/"+name, "--- "+source+"\n+++ "+source+"\n@@ -2 +2 @@\n-  int x;\n+  int x = 0;\n")
}

func (f *fixture) writeFragment(t *testing.T, name, body string) string {
	t.Helper()
	return f.write(t, "out/"+name, body)
}

func (f *fixture) writeManifest(t *testing.T, fragments ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(f.manifest, []byte(strings.Join(fragments, "\n")+"\n"), 0o644))
}

func (f *fixture) load(t *testing.T) *Tree {
	t.Helper()
	tree, err := f.store.Load(context.Background(), f.manifest)
	require.NoError(t, err)
	return tree
}

func TestStore_Load_SortsPatchesByScore(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "p1.diff", "src/A.java")
	f.writePatch(t, "p2.diff", "src/A.java")
	frag := f.writeFragment(t, "f1.json", `{"G1": [{
		"textRange": {"startLine": 2, "startColumn": 2, "endLine": 2, "endColumn": 8},
		"patches": [
			{"path": "p2.diff", "explanation": "weaker", "score": 0.5},
			{"path": "p1.diff", "explanation": "stronger", "score": 0.9}
		]}]}`)
	f.writeManifest(t, frag)

	tree := f.load(t)

	require.Len(t, tree.Groups, 1)
	g := tree.Groups[0]
	assert.Equal(t, "G1", g.Key)
	assert.Equal(t, "src/A.java", g.SourceFileName)
	require.Len(t, g.Issues, 1)
	require.Len(t, g.Issues[0].Patches, 2)
	assert.Equal(t, 0.9, g.Issues[0].Patches[0].Score)
	assert.Equal(t, "p1.diff", g.Issues[0].Patches[0].Path)
}

func TestStore_Load_DedupsByTextRangeAcrossFragments(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "a.diff", "src/A.java")
	f.writePatch(t, "b.diff", "src/A.java")
	f.writePatch(t, "c.diff", "src/A.java")
	fa := f.writeFragment(t, "a.json", `{"G1": [{
		"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 10},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 0.4}]}]}`)
	fb := f.writeFragment(t, "b.json", `{"G1": [{
		"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 10},
		"patches": [
			{"path": "a.diff", "explanation": "a again", "score": 0.1},
			{"path": "b.diff", "explanation": "b", "score": 0.8}
		]},
		{"textRange": {"startLine": 3, "startColumn": 0, "endLine": 3, "endColumn": 1},
		"patches": [{"path": "c.diff", "explanation": "c", "score": 0.2}]}]}`)
	f.writeManifest(t, fa, fb)

	tree := f.load(t)

	require.Len(t, tree.Groups, 1)
	issues := tree.Groups[0].Issues
	require.Len(t, issues, 2)

	at := 0
	for _, iss := range issues {
		if iss.TextRange == (TextRange{1, 0, 1, 10}) {
			at++
			require.Len(t, iss.Patches, 2)
			assert.Equal(t, "b.diff", iss.Patches[0].Path)
			assert.Equal(t, "a.diff", iss.Patches[1].Path)
			assert.Equal(t, "a", iss.Patches[1].Explanation, "first occurrence wins")
		}
	}
	assert.Equal(t, 1, at)
}

func TestStore_Load_PatchesNonIncreasing(t *testing.T) {
	f := newFixture(t)
	var patches []string
	for i, score := range []string{"0.1", "0.7", "0.3", "0.7", "0.9"} {
		name := "p" + string(rune('a'+i)) + ".diff"
		f.writePatch(t, name, "src/A.java")
		patches = append(patches, `{"path": "`+name+`", "explanation": "x", "score": `+score+`}`)
	}
	frag := f.writeFragment(t, "f.json", `{"G": [{"textRange": {"startLine": 2, "startColumn": 0, "endLine": 2, "endColumn": 3},
		"patches": [`+strings.Join(patches, ",")+`]}]}`)
	f.writeManifest(t, frag)

	got := f.load(t).Groups[0].Issues[0].Patches
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
	// Equal scores keep their original order.
	assert.Equal(t, "pb.diff", got[1].Path)
	assert.Equal(t, "pd.diff", got[2].Path)
}

func TestStore_Load_GroupsKeyedBySourceFile(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "a.diff", "src/A.java")
	f.writePatch(t, "b.diff", "src/B.java")
	frag := f.writeFragment(t, "f.json", `{"SQLI": [
		{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		 "patches": [{"path": "a.diff", "explanation": "a", "score": 1}]},
		{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		 "patches": [{"path": "b.diff", "explanation": "b", "score": 1}]}
	]}`)
	f.writeManifest(t, frag)

	tree := f.load(t)

	require.Len(t, tree.Groups, 2)
	assert.Equal(t, "src/A.java", tree.Groups[0].SourceFileName)
	assert.Equal(t, "src/B.java", tree.Groups[1].SourceFileName)
	assert.Len(t, tree.Groups[0].Issues, 1)
	assert.Len(t, tree.Groups[1].Issues, 1)
}

func TestStore_Load_ExplicitSourceFileName(t *testing.T) {
	f := newFixture(t)
	frag := f.writeFragment(t, "f.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"sourceFileName": "src/B.java",
		"patches": [{"path": "missing.diff", "explanation": "m", "score": 1}]}]}`)
	f.writeManifest(t, frag)

	tree := f.load(t)
	require.Len(t, tree.Groups, 1)
	assert.Equal(t, "src/B.java", tree.Groups[0].SourceFileName)

	fixes := f.store.FixesFor(filepath.Join(f.root, "src", "B.java"))
	require.Len(t, fixes, 1)
	assert.Equal(t, "missing.diff", fixes[0].Patch.Path)
}

func TestStore_Load_SkipsBadFragments(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "a.diff", "src/A.java")
	good := f.writeFragment(t, "good.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 1}]}]}`)
	bad := f.writeFragment(t, "bad.json", `{"G": [{"textRange": `)
	inverted := f.writeFragment(t, "inverted.json", `{"G": [{"textRange": {"startLine": 9, "startColumn": 0, "endLine": 1, "endColumn": 5}, "patches": []}]}`)
	missing := filepath.Join(f.root, "out", "nope.json")
	f.writeManifest(t, bad, "", good, "   ", inverted, missing)

	tree := f.load(t)

	require.Len(t, tree.Groups, 1)
	skipped := f.store.Skipped()
	require.Len(t, skipped, 3)
	for _, err := range skipped {
		assert.True(t, apperrors.IsCode(err, apperrors.CodeFragmentParseFailed), "%v", err)
	}
}

func TestStore_Load_RelativeFragmentPaths(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "a.diff", "src/A.java")
	f.writeFragment(t, "rel.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 1}]}]}`)
	f.writeManifest(t, "rel.json")

	assert.Len(t, f.load(t).Groups, 1)
}

func TestStore_Load_MissingManifest(t *testing.T) {
	f := newFixture(t)

	tree, err := f.store.Load(context.Background(), f.manifest)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeManifestLoadFailed))
	assert.Empty(t, tree.Groups)

	f.writePatch(t, "a.diff", "src/A.java")
	frag := f.writeFragment(t, "f.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 1}]}]}`)
	f.writeManifest(t, frag)
	require.Len(t, f.load(t).Groups, 1)

	// A failing refresh keeps the tree it had.
	require.NoError(t, os.Remove(f.manifest))
	tree, err = f.store.Reload(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.CodeManifestLoadFailed))
	assert.Len(t, tree.Groups, 1)
	assert.Len(t, f.store.Tree().Groups, 1)
}

func TestStore_Load_Cancelled(t *testing.T) {
	f := newFixture(t)
	frag := f.writeFragment(t, "f.json", `{}`)
	f.writeManifest(t, frag)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.store.Load(ctx, f.manifest)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemoveByPatchPath(t *testing.T) {
	tree := &Tree{Groups: []*Group{
		{Key: "G1", Issues: []*Issue{
			{TextRange: TextRange{1, 0, 1, 5}, Patches: []Patch{{Path: "p1.diff", Score: 0.9}, {Path: "p2.diff", Score: 0.5}}},
			{TextRange: TextRange{4, 0, 4, 5}, Patches: []Patch{{Path: "sub/p1.diff", Score: 0.3}}},
		}},
		{Key: "G2", Issues: []*Issue{
			{TextRange: TextRange{7, 0, 7, 5}, Patches: []Patch{{Path: "p1.diff", Score: 0.1}}},
		}},
	}}

	once := RemoveByPatchPath(tree, "/work/patches/p1.diff")
	twice := RemoveByPatchPath(once, "/work/patches/p1.diff")

	assert.Equal(t, once, twice)
	require.Len(t, once.Groups, 1)
	require.Len(t, once.Groups[0].Issues, 2)
	assert.Equal(t, []Patch{{Path: "p2.diff", Score: 0.5}}, once.Groups[0].Issues[0].Patches)
	assert.Equal(t, "sub/p1.diff", once.Groups[0].Issues[1].Patches[0].Path, "different directory is not a match")

	// The input is left untouched.
	assert.Len(t, tree.Groups, 2)
	assert.Len(t, tree.Groups[0].Issues[0].Patches, 2)
}

func TestRemoveByPatchPath_NoPartialSegmentMatch(t *testing.T) {
	tree := &Tree{Groups: []*Group{{Key: "G", Issues: []*Issue{
		{TextRange: TextRange{1, 0, 1, 1}, Patches: []Patch{{Path: "1.diff"}}},
	}}}}
	assert.Len(t, RemoveByPatchPath(tree, "/patches/p1.diff").Groups, 1)
}

func TestMatchesPatch_NormalizesSeparatorsAndCase(t *testing.T) {
	tests := []struct {
		patchPath, candidate string
		want                 bool
	}{
		{`sub\p1.diff`, "sub/p1.diff", true},
		{"sub/p1.diff", `sub\p1.diff`, true},
		{`C:\out\patches\P1.diff`, "p1.diff", true},
		{"p1.diff", "P1.DIFF", true},
		{"/patches/p1.diff", "1.diff", false},
		{"p1.diff", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchesPatch(tt.patchPath, tt.candidate), "MatchesPatch(%q, %q)", tt.patchPath, tt.candidate)
	}
}

func TestStore_FixesForAndLookup(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "late.diff", "src/A.java")
	f.writePatch(t, "early.diff", "a/src/A.java")
	f.writePatch(t, "other.diff", "src/B.java")
	frag := f.writeFragment(t, "f.json", `{
		"G1": [{"textRange": {"startLine": 9, "startColumn": 0, "endLine": 9, "endColumn": 5},
		        "patches": [{"path": "late.diff", "explanation": "late", "score": 1}]}],
		"G2": [{"textRange": {"startLine": 2, "startColumn": 0, "endLine": 2, "endColumn": 5},
		        "patches": [{"path": "early.diff", "explanation": "early", "score": 1}]},
		       {"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		        "patches": [{"path": "other.diff", "explanation": "other", "score": 1}]}]}`)
	f.writeManifest(t, frag)
	f.load(t)

	fixes := f.store.FixesFor(strings.ToUpper(filepath.Join(f.root, "src", "a.java")))
	require.Len(t, fixes, 2)
	assert.Equal(t, "early.diff", fixes[0].Patch.Path)
	assert.Equal(t, "late.diff", fixes[1].Patch.Path)
	assert.True(t, f.store.Normalizer().Equal(filepath.Join(f.root, "src", "A.java"), fixes[0].Source))

	fix, ok := f.store.Lookup(filepath.Join(f.patchDir, "other.diff"))
	require.True(t, ok)
	assert.Equal(t, "G2", fix.GroupKey)
	assert.True(t, f.store.Normalizer().Equal(filepath.Join(f.patchDir, "other.diff"), fix.PatchFile))

	_, ok = f.store.Lookup("nothing.diff")
	assert.False(t, ok)
}

func TestStore_RewriteFragments(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "p1.diff", "src/A.java")
	f.writePatch(t, "p2.diff", "src/A.java")
	f.writePatch(t, "p3.diff", "src/B.java")
	fragA := f.writeFragment(t, "a.json", `{
  "Z_RULE": [{"textRange": {"startLine": 2, "startColumn": 0, "endLine": 2, "endColumn": 5},
              "severity": "high",
              "patches": [{"path": "p1.diff", "explanation": "one", "score": 0.9, "model": "m1"},
                          {"path": "p2.diff", "explanation": "two", "score": 0.5}]}],
  "A_RULE": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
              "patches": [{"path": "p1.diff", "explanation": "only", "score": 0.3}]}]
}`)
	fragB := f.writeFragment(t, "b.json", `{"B": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 2},
		"patches": [{"path": "p3.diff", "explanation": "three", "score": 1}]}]}`)
	f.writeManifest(t, fragA, fragB)
	f.load(t)

	edits, err := f.store.RewriteFragments(filepath.Join(f.patchDir, "p1.diff"))
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.True(t, f.store.Normalizer().Equal(fragA, edits[0].Path))

	before, _ := os.ReadFile(fragA)
	assert.Equal(t, before, edits[0].Before)

	after := string(edits[0].After)
	assert.NotContains(t, after, "A_RULE", "emptied group is dropped")
	assert.NotContains(t, after, `"p1.diff"`)
	assert.Contains(t, after, `"severity": "high"`, "unknown members are kept")
	assert.Contains(t, after, `"p2.diff"`)

	var decoded map[string][]Issue
	require.NoError(t, json.Unmarshal(edits[0].After, &decoded))
	require.Len(t, decoded["Z_RULE"], 1)
	assert.Len(t, decoded["Z_RULE"][0].Patches, 1)

	files, err := f.store.FragmentsContaining("p3.diff")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, f.store.Normalizer().Equal(fragB, files[0]))

	files, err = f.store.FragmentsContaining("unknown.diff")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRewriteFragment_KeepsGroupOrder(t *testing.T) {
	in := []byte(`{"b": [{"patches": [{"path": "x.diff"}]}], "a": [{"patches": [{"path": "y.diff"}]}], "c": []}`)
	out, changed, err := rewriteFragment(in, "y.diff")
	require.NoError(t, err)
	require.True(t, changed)

	s := string(out)
	assert.Less(t, strings.Index(s, `"b"`), strings.Index(s, `"c"`))
	assert.NotContains(t, s, `"a"`)
}

func TestFilter(t *testing.T) {
	tree := &Tree{Groups: []*Group{
		{Key: "SQL_INJECTION", SourceFileName: "src/Dao.java", Issues: []*Issue{{}}},
		{Key: "XSS", SourceFileName: "web/View.java", Issues: []*Issue{{}}},
		{Key: "PATH_TRAVERSAL", SourceFileName: "src/Files.java", Issues: []*Issue{{}}},
	}}

	got := Filter(tree, "SQLINJ")
	require.Len(t, got.Groups, 1)
	assert.Equal(t, "SQL_INJECTION", got.Groups[0].Key)

	got = Filter(tree, "View")
	require.Len(t, got.Groups, 1)
	assert.Equal(t, "XSS", got.Groups[0].Key)

	assert.Len(t, Filter(tree, "  ").Groups, 3)
	assert.Empty(t, Filter(tree, "zzzz").Groups)
}

func TestSchema(t *testing.T) {
	data, err := json.Marshal(Schema())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "object", doc["type"])
	assert.Contains(t, string(data), "textRange")
	assert.Contains(t, string(data), "startLine")
	assert.Contains(t, string(data), "explanation")
}

func TestWatcher_ReloadsOnFragmentChange(t *testing.T) {
	f := newFixture(t)
	f.writePatch(t, "a.diff", "src/A.java")
	f.writePatch(t, "b.diff", "src/B.java")
	frag := f.writeFragment(t, "f.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 1}]}]}`)
	f.writeManifest(t, frag)
	f.load(t)

	reloaded := make(chan *Tree, 4)
	w := NewWatcher(WatcherConfig{
		Store:    f.store,
		Debounce: 100 * time.Millisecond,
		OnReload: func(tree *Tree) { reloaded <- tree },
	})
	require.NoError(t, w.Start())
	defer w.Stop()
	assert.True(t, w.IsRunning())

	f.writeFragment(t, "f.json", `{"G": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 5},
		"patches": [{"path": "a.diff", "explanation": "a", "score": 1}]}],
		"H": [{"textRange": {"startLine": 1, "startColumn": 0, "endLine": 1, "endColumn": 2},
		"patches": [{"path": "b.diff", "explanation": "b", "score": 1}]}]}`)

	select {
	case tree := <-reloaded:
		assert.Len(t, tree.Groups, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload")
	}

	w.Stop()
	assert.False(t, w.IsRunning())
}
