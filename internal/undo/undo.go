// Package undo keeps the single-slot snapshot taken before each decision.
//
// A snapshot holds the source file and every fragment file a decision may
// rewrite. It is overwritten by the next decision and left in place after an
// undo, so there is exactly one level of history. The slot is persisted so
// an undo survives a restart.
package undo

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	apperrors "github.com/fixdeck/host/internal/errors"
	"github.com/fixdeck/host/internal/patch"
)

// FileImage is the captured content of one file.
type FileImage struct {
	Path    string      `msgpack:"path"`
	Content []byte      `msgpack:"content"`
	Existed bool        `msgpack:"existed"`
	Mode    fs.FileMode `msgpack:"mode"`
}

// Snapshot is the state before one decision.
type Snapshot struct {
	ID         string      `msgpack:"id"`
	File       FileImage   `msgpack:"file"`
	Fragments  []FileImage `msgpack:"fragments"`
	PatchPath  string      `msgpack:"patch_path"`
	SourceFile string      `msgpack:"source_file"`
	Decision   string      `msgpack:"decision"`
	TakenAt    time.Time   `msgpack:"taken_at"`
}

// Capture reads file and fragments into a new snapshot. Files that do not
// exist are recorded as absent.
func Capture(file string, fragments []string) (*Snapshot, error) {
	snap := &Snapshot{ID: uuid.NewString(), TakenAt: time.Now().UTC()}
	img, err := captureFile(file)
	if err != nil {
		return nil, err
	}
	snap.File = img
	for _, f := range fragments {
		img, err := captureFile(f)
		if err != nil {
			return nil, err
		}
		snap.Fragments = append(snap.Fragments, img)
	}
	return snap, nil
}

func captureFile(path string) (FileImage, error) {
	img := FileImage{Path: path}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return img, nil
	}
	if err != nil {
		return img, fmt.Errorf("snapshot %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return img, fmt.Errorf("snapshot %s: %w", path, err)
	}
	img.Content = data
	img.Existed = true
	img.Mode = info.Mode().Perm()
	return img, nil
}

// Slot is the persisted single-slot history.
type Slot struct {
	path string

	mu     sync.Mutex
	latest *Snapshot
}

// NewSlot creates a slot stored at path.
func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// Path returns where the slot is stored.
func (s *Slot) Path() string {
	return s.path
}

// Save overwrites the slot with snap.
func (s *Slot) Save(snap *Snapshot) error {
	data, err := msgpack.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	if err := patch.Persist(s.path, data); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
	return nil
}

// Checkpoint saves snap like Save and returns a function that puts the
// previous slot contents back. Reverting an empty slot removes the file.
func (s *Slot) Checkpoint(snap *Snapshot) (revert func() error, err error) {
	prev, readErr := os.ReadFile(s.path)
	existed := readErr == nil
	if readErr != nil && !errors.Is(readErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("read previous snapshot: %w", readErr)
	}
	s.mu.Lock()
	prevLatest := s.latest
	s.mu.Unlock()

	if err := s.Save(snap); err != nil {
		return nil, err
	}

	return func() error {
		if existed {
			if err := patch.Persist(s.path, prev); err != nil {
				return fmt.Errorf("restore previous snapshot: %w", err)
			}
		} else if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clear snapshot: %w", err)
		}
		s.mu.Lock()
		s.latest = prevLatest
		s.mu.Unlock()
		return nil
	}, nil
}

// Latest returns the current snapshot, reading it from disk when this
// process has not saved one yet. It fails with NoSnapshotAvailable when the
// slot is empty.
func (s *Slot) Latest() (*Snapshot, error) {
	s.mu.Lock()
	latest := s.latest
	s.mu.Unlock()
	if latest != nil {
		return latest, nil
	}
	return s.Load()
}

// Load reads the slot from disk.
func (s *Slot) Load() (*Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NoSnapshot()
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUndoFailed, "cannot read undo snapshot", err)
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUndoFailed, "undo snapshot is corrupt", err)
	}

	s.mu.Lock()
	s.latest = &snap
	s.mu.Unlock()
	return &snap, nil
}

// Restore writes every captured image back to disk, fragments first and the
// source file last. Files that did not exist are removed. The slot itself
// is kept.
func (s *Slot) Restore() (*Snapshot, error) {
	snap, err := s.Latest()
	if err != nil {
		return nil, err
	}
	if err := RestoreImages(snap); err != nil {
		return nil, err
	}
	log.Printf("undo: restored %s and %d fragment(s) from snapshot %s", snap.File.Path, len(snap.Fragments), snap.ID)
	return snap, nil
}

// RestoreImages writes a snapshot's images to disk without touching any slot.
// The engine uses it to roll back a decision that failed half way.
func RestoreImages(snap *Snapshot) error {
	images := append(append([]FileImage{}, snap.Fragments...), snap.File)
	for _, img := range images {
		if img.Path == "" {
			continue
		}
		if err := restoreFile(img); err != nil {
			return apperrors.Wrap(apperrors.CodeUndoFailed, "cannot restore "+img.Path, err)
		}
	}
	return nil
}

func restoreFile(img FileImage) error {
	if !img.Existed {
		if err := os.Remove(img.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := patch.Persist(img.Path, img.Content); err != nil {
		return err
	}
	if img.Mode != 0 {
		return os.Chmod(img.Path, img.Mode)
	}
	return nil
}
