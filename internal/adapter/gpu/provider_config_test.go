package gpu

import "testing"

func TestLoadEndpointTable(t *testing.T) {
	entries, err := LoadEndpointTable("testdata/providers.yaml")
	if err != nil {
		t.Fatalf("LoadEndpointTable() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("LoadEndpointTable() returned %d entries, want 2", len(entries))
	}

	modal := entries[0]
	if modal.Name != "modal" || modal.Dialect != "async" {
		t.Fatalf("LoadEndpointTable() first entry = %+v, want name=modal dialect=async", modal)
	}
	if modal.StatusPath == "" {
		t.Fatal("expected async provider to have a status path")
	}

	runpod := entries[1]
	if runpod.Name != "runpod" || runpod.Dialect != "sync" {
		t.Fatalf("LoadEndpointTable() second entry = %+v, want name=runpod dialect=sync", runpod)
	}
}

func TestLoadEndpointTable_MissingFile(t *testing.T) {
	_, err := LoadEndpointTable("testdata/does-not-exist.yaml")
	if err == nil {
		t.Fatal("LoadEndpointTable() error = nil, want error for missing file")
	}
}
