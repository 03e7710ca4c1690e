// Package watcher flags the index dirty between syncs using fsnotify.
// This is purely an optimization hint: the sync coordinator stays
// authoritative and idempotent regardless of whether the watcher ever
// fires.
package watcher

import (
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DirtyMarker is the subset of *syncer.Coordinator the watcher needs.
type DirtyMarker interface {
	MarkDirty()
}

// Watcher observes a workspace directory tree and marks the index dirty
// on any write/create/remove/rename event touching an indexable file.
type Watcher struct {
	fsw    *fsnotify.Watcher
	marker DirtyMarker
	log    *slog.Logger
	done   chan struct{}
}

// New starts watching root (and any subdirectories already present)
// for changes. Callers should Close the returned Watcher on shutdown.
// A failure to construct the underlying fsnotify watcher is non-fatal
// to the caller: sync remains correct without the optimization, so New
// returns an error the caller may choose to log and ignore.
func New(root string, marker DirtyMarker, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{fsw: fsw, marker: marker, log: log, done: make(chan struct{})}

	if err := addRecursive(fsw, root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				// A newly created directory needs its own watch; Add on a
				// plain file is harmless and keeps this branch simple.
				_ = w.fsw.Add(ev.Name)
			}
			if filepath.Ext(ev.Name) != ".md" && filepath.Ext(ev.Name) != ".jsonl" {
				continue
			}
			w.marker.MarkDirty()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}
