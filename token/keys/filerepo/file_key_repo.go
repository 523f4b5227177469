// Package filerepo stores signing keys as one JSON file per key in a directory.
package filerepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jrsteele09/go-oidc-engine/token/keys"
)

var _ keys.Store = (*FileKeyRepo)(nil)

const filePrefix = "is-signing-key-"

type FileKeyRepo struct {
	dir string
}

// New creates the directory if needed.
func New(dir string) (*FileKeyRepo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	return &FileKeyRepo{dir: dir}, nil
}

func (r *FileKeyRepo) path(id string) string {
	return filepath.Join(r.dir, filePrefix+filepath.Base(id)+".json")
}

func (r *FileKeyRepo) LoadKeys(_ context.Context) ([]*keys.SerializedKey, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	var out []*keys.SerializedKey
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to read key file: %w", err)
		}
		var key keys.SerializedKey
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("failed to parse key file %s: %w", e.Name(), err)
		}
		out = append(out, &key)
	}
	return out, nil
}

// StoreKey writes to a temporary file and renames it so readers never see partial keys.
func (r *FileKeyRepo) StoreKey(_ context.Context, key *keys.SerializedKey) error {
	data, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to marshal key: %w", err)
	}
	tmp, err := os.CreateTemp(r.dir, ".tmp-key-*")
	if err != nil {
		return fmt.Errorf("failed to create key file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path(key.ID)); err != nil {
		return fmt.Errorf("failed to store key file: %w", err)
	}
	return nil
}

func (r *FileKeyRepo) DeleteKey(_ context.Context, id string) error {
	if err := os.Remove(r.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete key file: %w", err)
	}
	return nil
}
