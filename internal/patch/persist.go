package patch

import (
	"fmt"
	"os"
	"path/filepath"
)

// Persist replaces the file at path with content. The content is written to
// a temporary file in the same directory, synced and renamed over the
// target, so readers see either the old or the new file and never a partial
// one. An existing file keeps its permissions; a new file gets 0644.
func Persist(path string, content []byte) error {
	perm := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		if info.IsDir() {
			return fmt.Errorf("persist %s: is a directory", path)
		}
		perm = info.Mode().Perm()
	}
	return atomicWriteFile(path, content, perm)
}

// atomicWriteFile writes content to a temp file and renames it onto
// targetPath.
func atomicWriteFile(targetPath string, content []byte, perm os.FileMode) error {
	dir := filepath.Dir(targetPath)
	tmp, err := os.CreateTemp(dir, ".fixdeck-write-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
