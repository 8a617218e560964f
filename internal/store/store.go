// Package store stages uploaded workbooks on the local filesystem so the
// mapping step can re-read a file by name after the upload request has
// completed.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no staged file exists under the given name.
var ErrNotFound = errors.New("uploaded file not found")

// ErrBadName is returned for names that are empty or attempt to escape
// the staging directory.
var ErrBadName = errors.New("invalid file name")

// Store is a flat directory of staged uploads keyed by client file name.
type Store struct {
	dir string
}

// New creates the staging directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the uploaded bytes under name, replacing any previous upload
// with the same name.
func (s *Store) Save(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("stage upload %q: %w", name, err)
	}
	return nil
}

// Read returns the staged bytes for name, or ErrNotFound.
func (s *Store) Read(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read staged upload %q: %w", name, err)
	}
	return data, nil
}

// path validates name and joins it under the staging directory. Uploaded
// names come straight from clients, so anything that is not a bare file
// name is rejected.
func (s *Store) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return filepath.Join(s.dir, name), nil
}
