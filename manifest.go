package dbpatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest lists the SQL file patches of a project in registration order.
//
//	patches:
//	  - name: 20240101-patch
//	    description: create widgets
//	    up: database/up/20240101-patch.sql
//	    down: database/down/20240101-patch.sql
type Manifest struct {
	Patches []ManifestEntry `yaml:"patches"`
}

// ManifestEntry describes one SQL file patch.
type ManifestEntry struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description,omitempty"`
	Type        PatchType `yaml:"type,omitempty"`
	Up          string    `yaml:"up"`
	Down        string    `yaml:"down,omitempty"`
}

// LoadManifest reads a manifest file. A missing file yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	for i, e := range m.Patches {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("manifest %s: entry %d has no name", path, i+1)
		}
		if strings.TrimSpace(e.Up) == "" {
			return nil, fmt.Errorf("manifest %s: patch %s has no up file", path, e.Name)
		}
	}
	return &m, nil
}

// Save writes the manifest to path, creating parent directories.
func (m *Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Upsert replaces the entry with the same name or appends e.
func (m *Manifest) Upsert(e ManifestEntry) {
	for i, existing := range m.Patches {
		if existing.Name == e.Name {
			m.Patches[i] = e
			return
		}
	}
	m.Patches = append(m.Patches, e)
}

// Patch builds the SQL file patch described by the entry.
func (e ManifestEntry) Patch() *SQLFilePatch {
	return NewSQLFilePatch(e.Name, e.Up, e.Down, e.options()...)
}

func (e ManifestEntry) options() []PatchOption {
	return []PatchOption{WithDescription(e.Description), WithPatchType(e.Type)}
}

func manifestEntry(p *SQLFilePatch) ManifestEntry {
	return ManifestEntry{
		Name:        p.UniqueName(),
		Description: p.Description(),
		Type:        p.PatchType(),
		Up:          p.UpFile(),
		Down:        p.DownFile(),
	}
}
