// Package filestore keeps a single JSON document on disk. Writes go to a
// temporary file that is renamed over the target, so readers always see
// either the previous or the new document.
package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/moby/sys/atomicwriter"

	"github.com/drblury/taskflow/internal/runtime/jsoncodec"
)

// File is a JSON document of type T stored at a fixed path.
type File[T any] struct {
	path string
	perm os.FileMode
	mu   sync.RWMutex
}

// New returns a File for path. Nothing is touched on disk until the first write.
func New[T any](path string) *File[T] {
	return &File[T]{path: path, perm: 0o644}
}

// Path returns the document location.
func (f *File[T]) Path() string {
	return f.path
}

// Load reads the document. A missing or empty file reports exists=false.
func (f *File[T]) Load() (v T, exists bool, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.load()
}

// Save replaces the document with v.
func (f *File[T]) Save(v T) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(v)
}

// Update runs a read-modify-write cycle under the write lock. fn receives the
// current document; its result is written back unless it returns an error.
func (f *File[T]) Update(fn func(cur T, exists bool) (T, error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur, exists, err := f.load()
	if err != nil {
		return err
	}
	next, err := fn(cur, exists)
	if err != nil {
		return err
	}
	return f.save(next)
}

func (f *File[T]) load() (v T, exists bool, err error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("filestore: read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return v, false, nil
	}
	if err := jsoncodec.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("filestore: decode %s: %w", f.path, err)
	}
	return v, true, nil
}

func (f *File[T]) save(v T) error {
	data, err := jsoncodec.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode %s: %w", f.path, err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("filestore: mkdir %s: %w", dir, err)
		}
	}
	if err := atomicwriter.WriteFile(f.path, data, f.perm); err != nil {
		return fmt.Errorf("filestore: write %s: %w", f.path, err)
	}
	return nil
}
