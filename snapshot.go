package dbpatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// SnapshotStore persists the last known schema. Load returns a nil schema
// when no snapshot has been saved yet.
type SnapshotStore interface {
	Load(ctx context.Context) (*Schema, error)
	Save(ctx context.Context, s *Schema) error
}

// FileSnapshotStore keeps the snapshot as a JSON document in a single file.
// The file is always replaced whole. Concurrent writers race and the last
// one wins.
type FileSnapshotStore struct {
	Path string
}

// NewFileSnapshotStore returns a store backed by path.
func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{Path: path}
}

func (s *FileSnapshotStore) Load(_ context.Context) (*Schema, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", s.Path, err)
	}
	var schema Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.Path, err)
	}
	return &schema, nil
}

// Save writes to a temporary file next to Path and renames it into place.
func (s *FileSnapshotStore) Save(_ context.Context, schema *Schema) error {
	if schema == nil {
		schema = NewSchema()
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".schema-*.json")
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", s.Path, err)
	}
	return nil
}
