// Package blobstore keeps uploaded file contents on disk, addressed by the
// hex BLAKE3-256 of their bytes. Identical files are stored once.
package blobstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/sakif/archon/internal/apperror"
)

type Store struct {
	dir string
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: creating %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Hash returns the key data would be stored under.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its hash. Writing the same bytes twice is a
// no-op. Files appear atomically via rename.
func (s *Store) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := s.path(hash)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: creating shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blobstore: writing blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blobstore: closing blob: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("blobstore: publishing blob: %w", err)
	}
	return hash, nil
}

// Get returns the bytes stored under hash, or NotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	if !validHash(hash) {
		return nil, apperror.NotFound("blob", hash)
	}
	data, err := os.ReadFile(s.path(hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperror.NotFound("blob", hash)
		}
		return nil, fmt.Errorf("blobstore: reading %s: %w", hash, err)
	}
	return data, nil
}

// path shards by the first two hex characters.
func (s *Store) path(hash string) string {
	return filepath.Join(s.dir, hash[:2], hash[2:])
}

func validHash(h string) bool {
	if len(h) != 64 {
		return false
	}
	_, err := hex.DecodeString(h)
	return err == nil
}
