package watcher

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeMarker struct{ dirty int32 }

func (f *fakeMarker) MarkDirty() { atomic.AddInt32(&f.dirty, 1) }

func TestWatcherMarksDirtyOnMarkdownWrite(t *testing.T) {
	dir := t.TempDir()
	marker := &fakeMarker{}

	w, err := New(dir, marker, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.md"), []byte("hello"), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&marker.dirty) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected a .md write to mark the index dirty")
}

func TestWatcherIgnoresNonTrackedExtensions(t *testing.T) {
	dir := t.TempDir()
	marker := &fakeMarker{}

	w, err := New(dir, marker, nil)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o644))
	// Give the watcher a moment, then confirm a non-.md/.jsonl write never
	// marks the index dirty.
	time.Sleep(100 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&marker.dirty))
}

func TestWatcherWatchesNewlyCreatedSubdirectories(t *testing.T) {
	dir := t.TempDir()
	marker := &fakeMarker{}

	w, err := New(dir, marker, nil)
	require.NoError(t, err)
	defer w.Close()

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond) // let the watcher pick up the new dir

	require.NoError(t, os.WriteFile(filepath.Join(sub, "nested.md"), []byte("hi"), 0o644))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&marker.dirty) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected a write under a newly created subdirectory to mark the index dirty")
}
