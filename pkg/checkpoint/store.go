// Package checkpoint persists one JSON artifact per fetched partition.
// The presence of an artifact is the only signal that a partition is done.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/TitoGod/scraping-colombia/pkg/record"
)

const artifactExt = ".json"

// ErrNotFound is returned when reading an artifact that does not exist.
var ErrNotFound = errors.New("artifact not found")

// FS is a directory of write-once artifacts.
type FS struct {
	dir string
}

// NewFS creates the artifact directory if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &FS{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *FS) Dir() string {
	return s.dir
}

// Path returns the file path of an artifact id.
func (s *FS) Path(id string) string {
	return filepath.Join(s.dir, id+artifactExt)
}

// Exists reports whether an artifact was already written.
func (s *FS) Exists(id string) (bool, error) {
	_, err := os.Stat(s.Path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat artifact %s: %w", id, err)
}

// Write stores rows under id. The file appears atomically; when an artifact
// with the same id already exists it is left untouched and written is false.
func (s *FS) Write(id string, rows []record.RawEntry) (written bool, err error) {
	if rows == nil {
		rows = []record.RawEntry{}
	}
	data, err := json.MarshalIndent(rows, "", "    ")
	if err != nil {
		return false, fmt.Errorf("marshal artifact %s: %w", id, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp artifact: %w", err)
	}

	// Link fails if the target exists, unlike Rename.
	if err := os.Link(tmp.Name(), s.Path(id)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("publish artifact %s: %w", id, err)
	}
	return true, nil
}

// Read loads the rows of one artifact.
func (s *FS) Read(id string) ([]record.RawEntry, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}

	var rows []record.RawEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	return rows, nil
}

// List returns all artifact ids in lexical order.
func (s *FS) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, artifactExt))
	}
	sort.Strings(ids)
	return ids, nil
}

// Keys collects every request number present in the artifacts. Unreadable
// artifacts are reported through skip and left out.
func (s *FS) Keys(skip func(id string, err error)) (map[string]struct{}, error) {
	ids, err := s.List()
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{})
	for _, id := range ids {
		rows, err := s.Read(id)
		if err != nil {
			if skip != nil {
				skip(id, err)
			}
			continue
		}
		for _, row := range rows {
			if k := strings.TrimSpace(row.RequestNumber); k != "" {
				keys[k] = struct{}{}
			}
		}
	}
	return keys, nil
}

// Clear removes every artifact and the directory itself.
func (s *FS) Clear() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove artifact dir: %w", err)
	}
	return nil
}
