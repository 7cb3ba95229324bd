package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// printer colors CLI output when it goes to a terminal.
type printer struct {
	okColor   *color.Color
	warnColor *color.Color
	errColor  *color.Color
	dimColor  *color.Color
	keyColor  *color.Color
}

// newPrinter creates a printer for out. mode is auto, on or off; auto
// colors only when out is a terminal.
func newPrinter(out io.Writer, mode string) *printer {
	enabled := false
	switch mode {
	case "on", "always":
		enabled = true
	case "off", "never":
	default:
		if f, ok := out.(*os.File); ok {
			enabled = isTerminal(f) && os.Getenv("NO_COLOR") == ""
		}
	}

	p := &printer{
		okColor:   color.New(color.FgGreen),
		warnColor: color.New(color.FgYellow),
		errColor:  color.New(color.FgRed, color.Bold),
		dimColor:  color.New(color.Faint),
		keyColor:  color.New(color.FgCyan, color.Bold),
	}
	for _, c := range []*color.Color{p.okColor, p.warnColor, p.errColor, p.dimColor, p.keyColor} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) ok(a ...interface{}) string   { return p.okColor.Sprint(a...) }
func (p *printer) warn(a ...interface{}) string { return p.warnColor.Sprint(a...) }
func (p *printer) err(a ...interface{}) string  { return p.errColor.Sprint(a...) }
func (p *printer) dim(a ...interface{}) string  { return p.dimColor.Sprint(a...) }
func (p *printer) key(a ...interface{}) string  { return p.keyColor.Sprint(a...) }

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
