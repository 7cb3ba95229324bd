// Package paths canonicalizes file paths for comparison.
//
// Every "does this issue belong to this file" decision goes through a
// Normalizer built once from the configured project root. Nothing else in the
// module compares path strings directly.
package paths

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// driveRegex matches a windows drive prefix ("c:" or "C:/...").
var driveRegex = regexp.MustCompile(`^[A-Za-z]:(/|$)`)

// Normalizer maps path strings to a canonical absolute slash form.
// It is immutable and safe for concurrent use.
type Normalizer struct {
	root string
	goos string
}

// New creates a Normalizer for the host platform.
// A relative root is made absolute against the working directory.
func New(root string) *Normalizer {
	return NewFor(root, runtime.GOOS)
}

// NewFor creates a Normalizer that applies the leading-slash rules of goos.
// Tests use it to exercise windows behavior on any platform.
func NewFor(root, goos string) *Normalizer {
	n := &Normalizer{goos: goos}
	if goos == runtime.GOOS && root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	n.root = n.canonical(root)
	return n
}

// Root returns the normalized project root.
func (n *Normalizer) Root() string {
	return n.root
}

// Normalize returns the canonical absolute form of p:
//  1. backslashes become forward slashes
//  2. "." and ".." segments are collapsed
//  3. relative paths are joined to the project root
//  4. on posix a leading "/" is guaranteed; on windows leading separators
//     are dropped ("/c:/src" becomes "c:/src", "\src" becomes "src" and is
//     joined to the root)
//
// Normalize is idempotent. An empty path normalizes to the root.
func (n *Normalizer) Normalize(p string) string {
	if p == "" {
		return n.root
	}
	s := n.canonical(p)
	if !n.isAbs(s) {
		s = path.Join(n.root, s)
	}
	if !n.windows() && !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return s
}

// canonical applies slash, leading-separator and Clean rules without
// joining the root.
func (n *Normalizer) canonical(p string) string {
	s := strings.ReplaceAll(p, `\`, "/")
	if n.windows() {
		s = strings.TrimLeft(s, "/")
	}
	return path.Clean(s)
}

func (n *Normalizer) windows() bool {
	return n.goos == "windows"
}

// isAbs reports whether a canonical path is absolute. On windows only a
// drive prefix counts.
func (n *Normalizer) isAbs(s string) bool {
	if n.windows() {
		return driveRegex.MatchString(s)
	}
	return strings.HasPrefix(s, "/")
}

// Resolve normalizes p against base instead of the project root. Absolute
// inputs ignore base. Used for patch paths, which are relative to the patch
// directory, and fragment paths, which are relative to the manifest.
func (n *Normalizer) Resolve(base, p string) string {
	s := n.canonical(p)
	if p == "" || n.isAbs(s) {
		return n.Normalize(p)
	}
	return n.Normalize(path.Join(n.Normalize(base), s))
}

// Key returns the case-folded comparison key for p.
func (n *Normalizer) Key(p string) string {
	return fold(n.Normalize(p))
}

// Equal reports whether a and b name the same file, ignoring case.
func (n *Normalizer) Equal(a, b string) bool {
	return n.Key(a) == n.Key(b)
}

// FS returns the normalized path in the operating system's separator form,
// ready for os calls.
func (n *Normalizer) FS(p string) string {
	s := n.Normalize(p)
	if n.goos == runtime.GOOS {
		return filepath.FromSlash(s)
	}
	return s
}

// Rel returns p relative to the project root in slash form.
// It fails with a path resolution error when p lies outside the root.
func (n *Normalizer) Rel(p string) (string, error) {
	full := segments(n.Normalize(p))
	root := segments(n.root)
	if len(full) < len(root) {
		return "", apperrors.PathResolutionFailed(p, "outside project root "+n.root)
	}
	for i := range root {
		if fold(root[i]) != fold(full[i]) {
			return "", apperrors.PathResolutionFailed(p, "outside project root "+n.root)
		}
	}
	if len(full) == len(root) {
		return ".", nil
	}
	return strings.Join(full[len(root):], "/"), nil
}

// Within reports whether p lies under the project root.
func (n *Normalizer) Within(p string) bool {
	_, err := n.Rel(p)
	return err == nil
}

// ResolvePatchSource maps the path token of a "--- " header to an existing
// file under the project root. The header is tried as written, then with a
// git-style "a/" or "b/" prefix removed.
func (n *Normalizer) ResolvePatchSource(header string) (string, error) {
	if header == "" || header == "/dev/null" {
		return "", apperrors.PathResolutionFailed(header, "patch has no source file")
	}

	candidates := []string{header}
	if rest, ok := strings.CutPrefix(header, "a/"); ok {
		candidates = append(candidates, rest)
	} else if rest, ok := strings.CutPrefix(header, "b/"); ok {
		candidates = append(candidates, rest)
	}

	reason := "no such file under project root " + n.root
	for _, c := range candidates {
		abs := n.Normalize(c)
		if !n.Within(abs) {
			reason = "escapes project root " + n.root
			continue
		}
		info, err := os.Stat(n.FS(abs))
		if err == nil && !info.IsDir() {
			return abs, nil
		}
	}
	return "", apperrors.PathResolutionFailed(header, reason)
}

// HasPathSuffix reports whether suffix names full, either exactly or as a
// trailing run of whole path segments. Both sides are slash-normalized and
// compared case-insensitively; the project root is not applied.
func HasPathSuffix(full, suffix string) bool {
	f := fold(cleanSlash(full))
	s := fold(cleanSlash(suffix))
	if s == "" || s == "." {
		return false
	}
	if f == s {
		return true
	}
	return strings.HasSuffix(f, "/"+strings.TrimPrefix(s, "/"))
}

func cleanSlash(p string) string {
	if p == "" {
		return ""
	}
	return path.Clean(strings.ReplaceAll(p, `\`, "/"))
}

func segments(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fold applies NFC then full Unicode case folding.
// A fresh Caser per call since Casers carry state.
func fold(s string) string {
	return cases.Fold().String(norm.NFC.String(s))
}
