package app

import "testing"

func TestModelCatalogRoundtrip(t *testing.T) {
	catalog := NewModelCatalog(t.TempDir())

	if models, err := catalog.LoadFetched(); err != nil || len(models) != 0 {
		t.Fatalf("fresh catalog should be empty: %v %v", models, err)
	}

	fetched := []ModelInfo{{ID: "gpt-4o-mini", OwnedBy: "openai"}, {ID: "gpt-4o"}}
	if err := catalog.SaveFetched(fetched); err != nil {
		t.Fatalf("save fetched: %v", err)
	}
	loaded, err := catalog.LoadFetched()
	if err != nil {
		t.Fatalf("load fetched: %v", err)
	}
	if len(loaded) != 2 || loaded[0].ID != "gpt-4o-mini" {
		t.Fatalf("unexpected fetched list %+v", loaded)
	}
}

func TestModelCatalogActivate(t *testing.T) {
	catalog := NewModelCatalog(t.TempDir())

	m := ActivatedModel{APIURL: "https://api.example.com/v1", APIKey: "k", ModelID: "gpt-4o"}
	if err := catalog.Activate(m); err != nil {
		t.Fatalf("activate: %v", err)
	}
	// Re-activating the same id replaces the entry instead of duplicating it.
	m.APIKey = "k2"
	if err := catalog.Activate(m); err != nil {
		t.Fatalf("re-activate: %v", err)
	}

	active, err := catalog.LoadActivated()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(active) != 1 || active[0].APIKey != "k2" {
		t.Fatalf("unexpected activated list %+v", active)
	}

	if err := catalog.Deactivate("gpt-4o"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	active, err = catalog.LoadActivated()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivate left %+v", active)
	}
}
