// Package media stores uploaded files (exam PDFs, profile photos) under a
// root directory addressed by slash-separated relative paths.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	ErrInvalidPath = errors.New("invalid media path")
	ErrNotFound    = errors.New("media file not found")
)

// Storage is a media file store backed by an afero filesystem
type Storage struct {
	fs afero.Fs
}

// NewOS returns a Storage rooted at dir on the local disk, creating dir if needed
func NewOS(dir string) (*Storage, error) {
	if dir == "" {
		return nil, fmt.Errorf("media root is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	return &Storage{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}, nil
}

// NewMemory returns a Storage kept entirely in memory
func NewMemory() *Storage {
	return &Storage{fs: afero.NewMemMapFs()}
}

// Clean validates a relative media path and returns its canonical form
func Clean(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// Save writes r to p, creating parent directories. It returns the bytes written.
func (s *Storage) Save(p string, r io.Reader) (int64, error) {
	name, err := Clean(p)
	if err != nil {
		return 0, err
	}
	if err := s.fs.MkdirAll(filepath.FromSlash(path.Dir(name)), 0o755); err != nil {
		return 0, fmt.Errorf("create media dir: %w", err)
	}

	f, err := s.fs.OpenFile(filepath.FromSlash(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = s.fs.Remove(filepath.FromSlash(name))
		return 0, fmt.Errorf("write %s: %w", name, err)
	}

	log.Debug().Str("path", name).Int64("bytes", n).Msg("Media file saved")
	return n, nil
}

// Open returns a reader for p. The caller closes it.
func (s *Storage) Open(p string) (afero.File, error) {
	name, err := Clean(p)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(filepath.FromSlash(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes p. A missing file is not an error.
func (s *Storage) Remove(p string) error {
	name, err := Clean(p)
	if err != nil {
		return err
	}
	err = s.fs.Remove(filepath.FromSlash(name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	// Drop the per-exam directory when it is left empty
	dir := path.Dir(name)
	if dir != "." {
		if empty, _ := afero.IsEmpty(s.fs, filepath.FromSlash(dir)); empty {
			_ = s.fs.Remove(filepath.FromSlash(dir))
		}
	}
	return nil
}

// Exists reports whether p is present
func (s *Storage) Exists(p string) bool {
	name, err := Clean(p)
	if err != nil {
		return false
	}
	ok, _ := afero.Exists(s.fs, filepath.FromSlash(name))
	return ok
}
