package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/fixdeck/host/internal/errors"
)

// sourceHeaderRegex matches the pre-image header and captures the path token
// up to the first whitespace, so trailing timestamps are dropped:
// --- src/main/A.java	2024-01-01 10:00:00
var sourceHeaderRegex = regexp.MustCompile(`^--- ([^ \n\r\t]+)`)

// destinationHeaderRegex matches the post-image header.
var destinationHeaderRegex = regexp.MustCompile(`^\+\+\+ ([^ \n\r\t]+)`)

// hunkHeaderRegex matches hunk headers like:
// @@ -1,5 +1,7 @@
// @@ -0,0 +1,10 @@ (new file)
// @@ -12 +12 @@ func main() (counts omitted means 1)
var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// noNewlineMarker starts the line that follows a line without a terminator.
const noNewlineMarker = `\`

// ParseHeaders extracts the source and destination paths from the first
// "--- " and "+++ " lines. Either header missing is a malformed patch.
func ParseHeaders(text string) (Headers, error) {
	h, _, err := scanHeaders(splitLines(text))
	return h, err
}

// Parse parses a single-file unified diff into headers and hunks.
//
// Hunk bodies are consumed by the counts in the @@ header, so content lines
// that happen to start with "---" or "+++" are never mistaken for headers.
// Anything between hunks (git "diff"/"index" lines) is ignored.
func Parse(text string) (*Patch, error) {
	lines := splitLines(text)
	headers, next, err := scanHeaders(lines)
	if err != nil {
		return nil, err
	}

	p := &Patch{Headers: headers}
	for i := next; i < len(lines); {
		m := hunkHeaderRegex.FindStringSubmatch(lines[i])
		if m == nil {
			i++
			continue
		}

		h, err := newHunk(m)
		if err != nil {
			return nil, err
		}
		i++

		oldLeft, newLeft := h.OldCount, h.NewCount
		for oldLeft > 0 || newLeft > 0 {
			if i >= len(lines) {
				return nil, apperrors.MalformedPatch("",
					fmt.Sprintf("hunk %d is truncated (%d old and %d new lines missing)",
						len(p.Hunks)+1, oldLeft, newLeft))
			}
			line := lines[i]
			i++

			if strings.HasPrefix(line, noNewlineMarker) {
				markNoNewline(h)
				continue
			}

			var kind LineKind
			var text string
			switch {
			case line == "":
				// Some tools strip the single space of an empty context line.
				kind = Context
			case line[0] == ' ':
				kind, text = Context, line[1:]
			case line[0] == '-':
				kind, text = Removed, line[1:]
			case line[0] == '+':
				kind, text = Added, line[1:]
			default:
				return nil, apperrors.MalformedPatch("",
					fmt.Sprintf("unexpected line in hunk %d: %q", len(p.Hunks)+1, line))
			}

			switch kind {
			case Context:
				oldLeft--
				newLeft--
			case Removed:
				oldLeft--
			case Added:
				newLeft--
			}
			if oldLeft < 0 || newLeft < 0 {
				return nil, apperrors.MalformedPatch("",
					fmt.Sprintf("hunk %d body does not match its header counts", len(p.Hunks)+1))
			}
			h.Lines = append(h.Lines, Line{Kind: kind, Text: text})
		}

		// A marker after the last counted line belongs to this hunk.
		if i < len(lines) && strings.HasPrefix(lines[i], noNewlineMarker) {
			markNoNewline(h)
			i++
		}

		p.Hunks = append(p.Hunks, h)
	}

	if len(p.Hunks) == 0 {
		return nil, apperrors.MalformedPatch("", "no hunks found")
	}
	return p, nil
}

// Sides parses the patch and returns its pre-image and post-image text.
// See Patch.Sides.
func Sides(text string) (left, right string, err error) {
	p, err := Parse(text)
	if err != nil {
		return "", "", err
	}
	left, right = p.Sides()
	return left, right, nil
}

// scanHeaders finds the first --- and +++ lines. It returns the index of the
// line after whichever header came last, where hunks may start.
func scanHeaders(lines []string) (Headers, int, error) {
	var h Headers
	next := 0
	for i, line := range lines {
		if h.Source == "" {
			if m := sourceHeaderRegex.FindStringSubmatch(line); m != nil {
				h.Source = m[1]
				next = i + 1
				continue
			}
		}
		if h.Destination == "" {
			if m := destinationHeaderRegex.FindStringSubmatch(line); m != nil {
				h.Destination = m[1]
				next = i + 1
			}
		}
		if h.Source != "" && h.Destination != "" {
			break
		}
		// Headers come before the first hunk.
		if hunkHeaderRegex.MatchString(line) {
			break
		}
	}

	if h.Source == "" {
		return Headers{}, 0, apperrors.MalformedPatch("", "missing '--- <source>' header")
	}
	if h.Destination == "" {
		return Headers{}, 0, apperrors.MalformedPatch("", "missing '+++ <destination>' header")
	}
	return h, next, nil
}

// newHunk builds a Hunk from a header match. Omitted counts default to 1.
func newHunk(m []string) (*Hunk, error) {
	h := &Hunk{OldCount: 1, NewCount: 1, Section: strings.TrimSpace(m[5])}

	var err error
	if h.OldStart, err = strconv.Atoi(m[1]); err != nil {
		return nil, apperrors.MalformedPatch("", "bad hunk header: "+m[0])
	}
	if m[2] != "" {
		if h.OldCount, err = strconv.Atoi(m[2]); err != nil {
			return nil, apperrors.MalformedPatch("", "bad hunk header: "+m[0])
		}
	}
	if h.NewStart, err = strconv.Atoi(m[3]); err != nil {
		return nil, apperrors.MalformedPatch("", "bad hunk header: "+m[0])
	}
	if m[4] != "" {
		if h.NewCount, err = strconv.Atoi(m[4]); err != nil {
			return nil, apperrors.MalformedPatch("", "bad hunk header: "+m[0])
		}
	}
	return h, nil
}

// markNoNewline flags the most recent line of the hunk.
func markNoNewline(h *Hunk) {
	if n := len(h.Lines); n > 0 {
		h.Lines[n-1].NoNewline = true
	}
}

// splitLines splits on "\n" and drops the empty element left by a trailing
// newline. Carriage returns are kept as part of the line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
