package app

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ModelCatalog stores the provider model list and the user's activated
// subset as JSON files under the storage root, mirroring how the desktop
// app kept them next to its other state.
type ModelCatalog struct {
	Root string
}

func NewModelCatalog(root string) *ModelCatalog {
	if strings.TrimSpace(root) == "" {
		root = DefaultStorageRoot()
	}
	return &ModelCatalog{Root: filepath.Clean(root)}
}

func (c *ModelCatalog) fetchedPath() string {
	return filepath.Join(c.Root, "fetched_models.json")
}

func (c *ModelCatalog) activatedPath() string {
	return filepath.Join(c.Root, "activated_models.json")
}

func (c *ModelCatalog) SaveFetched(models []ModelInfo) error {
	return c.writeJSON(c.fetchedPath(), models)
}

func (c *ModelCatalog) LoadFetched() ([]ModelInfo, error) {
	var models []ModelInfo
	if err := c.readJSON(c.fetchedPath(), &models); err != nil {
		return nil, err
	}
	return models, nil
}

func (c *ModelCatalog) SaveActivated(models []ActivatedModel) error {
	return c.writeJSON(c.activatedPath(), models)
}

func (c *ModelCatalog) LoadActivated() ([]ActivatedModel, error) {
	var models []ActivatedModel
	if err := c.readJSON(c.activatedPath(), &models); err != nil {
		return nil, err
	}
	return models, nil
}

// Activate adds a model to the activated list, replacing an existing entry
// with the same model id.
func (c *ModelCatalog) Activate(m ActivatedModel) error {
	models, err := c.LoadActivated()
	if err != nil {
		return err
	}
	out := models[:0]
	for _, existing := range models {
		if existing.ModelID != m.ModelID {
			out = append(out, existing)
		}
	}
	out = append(out, m)
	return c.SaveActivated(out)
}

func (c *ModelCatalog) Deactivate(modelID string) error {
	models, err := c.LoadActivated()
	if err != nil {
		return err
	}
	out := models[:0]
	for _, existing := range models {
		if existing.ModelID != modelID {
			out = append(out, existing)
		}
	}
	return c.SaveActivated(out)
}

func (c *ModelCatalog) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *ModelCatalog) readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, v)
}
