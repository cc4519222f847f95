// Package cache stores received and recorded audio payloads as write-once,
// read-once files in a local directory.
package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a resource does not exist or was already taken.
var ErrNotFound = errors.New("cache: resource not found")

const scheme = "file://"

// Dir is a directory-backed resource cache. Resource URIs are file:// URLs
// of uniquely named files inside the directory.
type Dir struct {
	root string
}

// New creates the cache directory if needed. An empty root selects a
// "voice-tutor" directory below os.TempDir.
func New(root string) (*Dir, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "voice-tutor")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the cache directory.
func (d *Dir) Root() string { return d.root }

// Put writes data to a new file and returns its URI. ext is appended to the
// generated name and should include the leading dot.
func (d *Dir) Put(data []byte, ext string) (string, error) {
	name := uuid.NewString() + ext
	path := filepath.Join(d.root, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("cache: write %s: %w", name, err)
	}
	return scheme + path, nil
}

// Take reads the resource and removes it.
func (d *Dir) Take(uri string) ([]byte, error) {
	path, err := d.resolve(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", uri, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache: remove %s: %w", uri, err)
	}
	return data, nil
}

// Discard removes the resource. Discarding a missing resource is not an error.
func (d *Dir) Discard(uri string) error {
	path, err := d.resolve(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cache: remove %s: %w", uri, err)
	}
	return nil
}

// Purge removes every resource left in the cache and reports how many files
// were deleted.
func (d *Dir) Purge() (int, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return 0, fmt.Errorf("cache: list %s: %w", d.root, err)
	}
	var (
		n    int
		errs []error
	)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(d.root, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// resolve maps a URI back to a path, refusing anything outside the root.
func (d *Dir) resolve(uri string) (string, error) {
	path, ok := strings.CutPrefix(uri, scheme)
	if !ok {
		return "", fmt.Errorf("%w: unsupported uri %q", ErrNotFound, uri)
	}
	path = filepath.Clean(path)
	if filepath.Dir(path) != filepath.Clean(d.root) {
		return "", fmt.Errorf("%w: %s is outside the cache", ErrNotFound, uri)
	}
	return path, nil
}
