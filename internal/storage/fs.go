package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/docbroker/docbroker/internal/apperr"
)

// TempPrefix marks in-flight writes inside the upload directory.
const TempPrefix = ".docbroker-tmp-"

// FS implements Provider on a local directory.
type FS struct {
	root string // absolute path to the upload directory
}

// NewFS creates a provider rooted at dir, creating the directory if needed.
func NewFS(dir string) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// Root returns the absolute upload directory.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves name to a file directly under root. Anything that is
// not a plain basename is rejected.
func (f *FS) safePath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("%w: invalid object name %q", apperr.ErrInvalidInput, name)
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: object name escapes upload directory: %q", apperr.ErrInvalidInput, name)
	}
	return filepath.Join(f.root, name), nil
}

// Put writes atomically: tmp file, fsync, rename.
func (f *FS) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	abs, err := f.safePath(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Open returns the file for reading; its Body is an *os.File.
func (f *FS) Open(_ context.Context, name string) (*Object, error) {
	abs, err := f.safePath(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: open %s: %w", name, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: open %s: %w", name, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: stat %s: %w", name, err)
	}
	return &Object{
		Body:        file,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: mime.TypeByExtension(filepath.Ext(name)),
	}, nil
}

// Delete removes a file from the upload directory.
func (f *FS) Delete(_ context.Context, name string) error {
	abs, err := f.safePath(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: delete %s: %w", name, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}

// Ready checks that the upload directory still exists.
func (f *FS) Ready(context.Context) error {
	info, err := os.Stat(f.root)
	if err != nil {
		return fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage: root is not a directory: %s", f.root)
	}
	return nil
}
