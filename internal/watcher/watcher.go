// Package watcher monitors session working directories and reports file
// changes so connected clients can refresh their workspace views.
package watcher

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const debounceInterval = 500 * time.Millisecond

// EventFilesChanged is the event name emitted through the router.
const EventFilesChanged = "workspace.files_changed"

// FilesChangedPayload reports the current file count of a workspace.
type FilesChangedPayload struct {
	FileCount int `json:"fileCount"`
}

// excludedDirs are directories excluded from watching and counting.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"vendor":       true,
}

// UpdateCallback is called when the file count changes for a session.
type UpdateCallback func(sessionID string, fileCount int)

// Watcher monitors working directories for file changes.
type Watcher struct {
	mu       sync.RWMutex
	watchers map[string]*sessionWatcher // sessionID → watcher
	callback UpdateCallback
}

type sessionWatcher struct {
	sessionID string
	workDir   string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}

	// mu guards lastCount: the initial recount and debounced recounts
	// run on separate goroutines.
	mu        sync.Mutex
	lastCount int
}

// New creates a new file system watcher.
func New(callback UpdateCallback) *Watcher {
	return &Watcher{
		watchers: make(map[string]*sessionWatcher),
		callback: callback,
	}
}

// Watch starts watching a directory for a given session. Watching the
// same session twice is a no-op.
func (w *Watcher) Watch(sessionID, workDir string) error {
	w.mu.RLock()
	_, exists := w.watchers[sessionID]
	w.mu.RUnlock()
	if exists {
		return nil
	}

	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	sw := &sessionWatcher{
		sessionID: sessionID,
		workDir:   workDir,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		lastCount: -1, // Force initial update.
	}

	// Add directories recursively.
	if err := addDirsRecursive(fsW, workDir); err != nil {
		fsW.Close()
		return err
	}

	w.mu.Lock()
	w.watchers[sessionID] = sw
	w.mu.Unlock()

	go w.watchLoop(sw)

	// Report the initial count.
	go w.recount(sw)

	return nil
}

// Unwatch stops watching a session's directory.
func (w *Watcher) Unwatch(sessionID string) {
	w.mu.Lock()
	sw, ok := w.watchers[sessionID]
	if ok {
		delete(w.watchers, sessionID)
	}
	w.mu.Unlock()

	if ok {
		close(sw.cancel)
		sw.fsWatcher.Close()
	}
}

// watchLoop processes fsnotify events with debouncing.
func (w *Watcher) watchLoop(sw *sessionWatcher) {
	var timer *time.Timer

	for {
		select {
		case <-sw.cancel:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-sw.fsWatcher.Events:
			if !ok {
				return
			}

			// If a new directory is created, watch it too.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					base := filepath.Base(event.Name)
					if !excludedDirs[base] && !isHidden(base) {
						sw.fsWatcher.Add(event.Name)
					}
				}
			}

			// Debounce: reset timer on each event.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceInterval, func() {
				w.recount(sw)
			})

		case err, ok := <-sw.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error for session %s: %v", sw.sessionID, err)
		}
	}
}

// recount recalculates file count and notifies if changed.
func (w *Watcher) recount(sw *sessionWatcher) {
	count := CountFiles(sw.workDir)

	sw.mu.Lock()
	changed := count != sw.lastCount
	if changed {
		sw.lastCount = count
	}
	sw.mu.Unlock()

	if changed && w.callback != nil {
		w.callback(sw.sessionID, count)
	}
}

// CountFiles counts all non-excluded files in a directory.
func CountFiles(dir string) int {
	count := 0
	filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip inaccessible paths.
		}

		name := d.Name()

		if d.IsDir() {
			if excludedDirs[name] {
				return filepath.SkipDir
			}
			if isHidden(name) && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if isHidden(name) {
			return nil
		}

		count++
		return nil
	})
	return count
}

// Shutdown stops all watchers.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.watchers))
	for id := range w.watchers {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.Unwatch(id)
	}
}

// addDirsRecursive adds a directory and its subdirectories to an fsnotify watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}

		name := d.Name()
		if excludedDirs[name] && path != dir {
			return filepath.SkipDir
		}
		if isHidden(name) && path != dir {
			return filepath.SkipDir
		}

		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
