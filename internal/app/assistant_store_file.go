package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileAssistantStore keeps one JSON snapshot per assistant on disk. It is
// the fallback when the SQLite store cannot be opened, and the format the
// desktop app originally shipped with.
//
// Layout:
//
//	<root>/assistants/<assistantID>.json
type FileAssistantStore struct {
	Root string
}

// DefaultStorageRoot resolves the app's data directory.
func DefaultStorageRoot() string {
	if base := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); base != "" {
		return filepath.Join(base, "aio")
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, "aio")
	}
	return filepath.Join(os.TempDir(), "aio")
}

func NewFileAssistantStore(root string) *FileAssistantStore {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	return &FileAssistantStore{Root: filepath.Clean(root)}
}

func (s *FileAssistantStore) assistantsDir() string {
	return filepath.Join(s.Root, "assistants")
}

func (s *FileAssistantStore) assistantPath(id string) string {
	return filepath.Join(s.assistantsDir(), id+".json")
}

// LoadAssistants reads every snapshot, skipping files that fail to parse so
// one corrupt entry cannot take the whole list down. Results are ordered by
// id for a stable startup layout.
func (s *FileAssistantStore) LoadAssistants(ctx context.Context) ([]Assistant, error) {
	ents, err := os.ReadDir(s.assistantsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Assistant{}, nil
		}
		return nil, err
	}

	out := make([]Assistant, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(s.assistantsDir(), e.Name()))
		if err != nil {
			continue
		}
		var a Assistant
		if err := json.Unmarshal(b, &a); err != nil {
			continue
		}
		if strings.TrimSpace(a.ID) == "" {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAssistant overwrites the whole snapshot for one assistant. The write
// goes through a temp file and rename so a crash mid-write never leaves a
// truncated snapshot behind.
func (s *FileAssistantStore) SaveAssistant(ctx context.Context, a Assistant) error {
	if strings.TrimSpace(a.ID) == "" {
		return errors.New("missing assistant id")
	}
	if err := os.MkdirAll(s.assistantsDir(), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(&a, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.assistantPath(a.ID) + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.assistantPath(a.ID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *FileAssistantStore) DeleteAssistant(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("missing assistant id")
	}
	if err := os.Remove(s.assistantPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileAssistantStore) Close() error { return nil }
