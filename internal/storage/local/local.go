// Package local stores page images on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"fieldscan/internal/domain"
	"fieldscan/internal/port"
)

// Storage keeps objects as files beneath a root directory.
type Storage struct {
	root string
}

var _ port.ObjectStorage = (*Storage)(nil)

// New creates the root directory if needed and returns a Storage over it.
func New(root string) (*Storage, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage root is required: %w", domain.ErrInvalidInput)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &Storage{root: root}, nil
}

// path resolves key under root and rejects keys that escape it.
func (s *Storage) path(key string) (string, error) {
	clean := filepath.Clean("/" + strings.TrimSpace(key))
	if clean == "/" {
		return "", fmt.Errorf("empty object key: %w", domain.ErrInvalidInput)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

func (s *Storage) Upload(ctx context.Context, input port.UploadInput) (*port.UploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(input.Key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("local upload: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("local upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, input.Body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("local upload write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("local upload close: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, fmt.Errorf("local upload rename: %w", err)
	}
	return &port.UploadOutput{Location: p}, nil
}

func (s *Storage) Download(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("local download %s: %w", key, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("local download: %w", err)
	}
	return data, nil
}
