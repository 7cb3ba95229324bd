package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Log levels in increasing severity.
const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
)

// currentLevel gates debugf and warnf. Library packages log through the
// standard logger directly.
var currentLevel = levelInfo

func parseLevel(s string) int {
	switch s {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// setupLogging routes the standard logger to logFile, or to stderr when
// logFile is empty. At level error, package log output is discarded. The
// returned closer must be called on exit.
func setupLogging(level, logFile string, stderr io.Writer) (io.Closer, error) {
	currentLevel = parseLevel(level)

	var out io.Writer = stderr
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, closer = f, f
	}
	if currentLevel >= levelError {
		out = io.Discard
	}

	log.SetOutput(out)
	log.SetFlags(log.LstdFlags)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func debugf(format string, args ...interface{}) {
	if currentLevel <= levelDebug {
		log.Printf("debug: "+format, args...)
	}
}

func warnf(format string, args ...interface{}) {
	if currentLevel <= levelWarn {
		log.Printf("warning: "+format, args...)
	}
}
