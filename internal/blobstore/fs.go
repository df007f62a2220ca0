package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FSStore keeps blobs under dir/<first two hex chars>/<id>.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blobs directory: %w", err)
	}
	return &FSStore{dir: dir}, nil
}

func (s *FSStore) Put(_ context.Context, data []byte) (string, error) {
	id := ID(data)
	path := s.path(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}
	if err := AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return id, nil
}

// Get reads a blob and verifies its hash before returning it.
func (s *FSStore) Get(_ context.Context, id string) ([]byte, error) {
	if err := validID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if err := verify(id, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (s *FSStore) Exists(_ context.Context, id string) (bool, error) {
	if err := validID(id); err != nil {
		return false, err
	}
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FSStore) Delete(_ context.Context, id string) error {
	if err := validID(id); err != nil {
		return err
	}
	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FSStore) path(id string) string {
	return filepath.Join(s.dir, id[:2], id)
}
