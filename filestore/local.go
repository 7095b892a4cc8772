// Package filestore resolves stored file bytes for redeemed downloads, from a
// local directory or an S3-compatible bucket.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	fileGate "github.com/MrEthical07/fileGate"
)

// ErrInvalidPath rejects storage paths that are absolute or climb out of the
// store.
var ErrInvalidPath = errors.New("invalid storage path")

// Local serves files below one directory. Paths are resolved through
// os.Root, so symlinks cannot leave it either.
type Local struct {
	root *os.Root
}

var _ fileGate.FileStore = (*Local)(nil)

func NewLocal(dir string) (*Local, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: open %s: %w", dir, err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Close() error {
	return l.root.Close()
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	name, err := cleanPath(p)
	if err != nil {
		return false, err
	}
	info, err := l.root.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *Local) Open(_ context.Context, p string) (io.ReadCloser, error) {
	name, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	return l.root.Open(name)
}

func cleanPath(p string) (string, error) {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" || path.IsAbs(p) {
		return "", ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrInvalidPath
	}
	return clean, nil
}
