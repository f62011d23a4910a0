package app

import (
	"path/filepath"
	"testing"
)

func TestConfigRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")

	cfg := Config{
		APIURL:       "https://api.example.com/v1",
		APIKey:       "secret",
		DefaultModel: "gpt-4o",
		Debug:        true,
	}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded != cfg {
		t.Fatalf("roundtrip mismatch:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestConfigMissingFileUsesDefaults(t *testing.T) {
	loaded, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.APIURL == "" || loaded.DefaultModel == "" {
		t.Fatalf("defaults not applied: %+v", loaded)
	}
}

func TestConfigTarget(t *testing.T) {
	cfg := Config{APIURL: "u", APIKey: "k", DefaultModel: "m"}
	target := cfg.Target()
	if target.APIURL != "u" || target.APIKey != "k" || target.Model != "m" {
		t.Fatalf("target mismatch: %+v", target)
	}
}
