package issues

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig holds configuration for the manifest watcher.
type WatcherConfig struct {
	// Store is reloaded when the manifest or a fragment changes.
	Store *Store

	// Debounce is how long to wait after the last event before reloading.
	// The analyzer writes many files per run.
	Debounce time.Duration

	// OnReload is called with the new tree after each reload that changed
	// the content on disk.
	OnReload func(tree *Tree)

	// OnError is called when a reload or the underlying watch fails.
	// If nil, errors are ignored.
	OnError func(err error)
}

// Watcher reloads a Store when its manifest or fragment files change.
// It tracks a content hash so events that leave the bytes unchanged (a touch,
// an identical rewrite) do not trigger a reload.
type Watcher struct {
	config WatcherConfig

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	lastHash string
	watched  map[string]bool // directories
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce <= 0 {
		config.Debounce = 300 * time.Millisecond
	}
	return &Watcher{config: config}
}

// Start begins watching the directories of the manifest and its fragments.
// Start after Stop restarts the watcher.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	w.watched = make(map[string]bool)
	w.lastHash = w.fingerprint()
	w.addDirsLocked()

	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	go w.loop(fsw, w.stopCh, w.doneCh)
	return nil
}

// Stop halts the watcher and waits for its loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	stopCh, doneCh, fsw := w.stopCh, w.doneCh, w.fsw
	w.mu.Unlock()

	close(stopCh)
	<-doneCh
	fsw.Close()
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	debounce := time.NewTimer(w.config.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if w.relevant(ev.Name) {
				debounce.Reset(w.config.Debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		case <-debounce.C:
			w.reload()
		}
	}
}

// relevant reports whether name is the manifest or one of its fragments.
func (w *Watcher) relevant(name string) bool {
	s := w.config.Store
	key := s.norm.Key(name)
	if key == s.norm.Key(s.ManifestPath()) {
		return true
	}
	for _, f := range s.Fragments() {
		if key == s.norm.Key(f) {
			return true
		}
	}
	return false
}

func (w *Watcher) reload() {
	w.mu.Lock()
	hash := w.fingerprint()
	changed := hash != w.lastHash
	w.lastHash = hash
	w.mu.Unlock()
	if !changed {
		return
	}

	tree, err := w.config.Store.Reload(context.Background())
	if err != nil {
		w.reportError(err)
		return
	}

	w.mu.Lock()
	if w.running {
		w.addDirsLocked()
	}
	w.mu.Unlock()

	if w.config.OnReload != nil {
		w.config.OnReload(tree)
	}
}

// addDirsLocked watches any directory of the manifest or a fragment not yet
// watched. Files are watched through their directory so that atomic
// replacements (write then rename) are seen.
func (w *Watcher) addDirsLocked() {
	s := w.config.Store
	files := append([]string{s.ManifestPath()}, s.Fragments()...)
	for _, f := range files {
		if f == "" {
			continue
		}
		dir := path.Dir(f)
		if w.watched[dir] {
			continue
		}
		if err := w.fsw.Add(s.norm.FS(dir)); err != nil {
			w.reportError(err)
			continue
		}
		w.watched[dir] = true
	}
}

// fingerprint hashes the manifest and every fragment it lists.
func (w *Watcher) fingerprint() string {
	s := w.config.Store
	h := sha256.New()
	for _, f := range append([]string{s.ManifestPath()}, s.Fragments()...) {
		h.Write([]byte(f))
		h.Write([]byte{0})
		if data, err := os.ReadFile(s.norm.FS(f)); err == nil {
			h.Write(data)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (w *Watcher) reportError(err error) {
	if w.config.OnError != nil {
		w.config.OnError(err)
	}
}
