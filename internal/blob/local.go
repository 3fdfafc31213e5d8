// Package blob stores uploaded face images.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot rejects refs that do not belong to the store.
var ErrOutsideRoot = errors.New("blob: ref outside store root")

// Local keeps images on the local filesystem. Refs are file paths, which
// the face service client uploads as multipart files.
type Local struct {
	root string
}

// NewLocal creates root when missing.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("blob: create %s: %w", abs, err)
	}
	return &Local{root: abs}, nil
}

// Save writes r to name below the root. Existing files are never overwritten.
func (l *Local) Save(_ context.Context, name string, r io.Reader) (string, error) {
	dst := filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+name)))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return "", err
	}
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// Delete removes ref. A missing file is not an error.
func (l *Local) Delete(_ context.Context, ref string) error {
	if !l.owns(ref) {
		return ErrOutsideRoot
	}
	if err := os.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) owns(ref string) bool {
	rel, err := filepath.Rel(l.root, filepath.Clean(ref))
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// TempFile copies r into a new file in dir. The returned cleanup removes it
// and is safe to call more than once.
func TempFile(dir, pattern string, r io.Reader) (string, func(), error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", func() {}, err
	}
	name := f.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return name, cleanup, nil
}
