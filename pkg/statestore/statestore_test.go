package statestore

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestLoadMissingFileReturnsEmptySet(t *testing.T) {
	store := New(afero.NewMemMapFs(), "state/strmsync.state.json")

	set := store.Load()
	if len(set) != 0 {
		t.Errorf("expected empty set for missing state file, got %d entries", len(set))
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := New(fs, "state/strmsync.state.json")

	in := map[string]struct{}{
		"movies/action": {},
		"shows/drama":   {},
		".":             {},
	}
	if err := store.Save(in); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	out := store.Load()
	if len(out) != len(in) {
		t.Fatalf("expected %d entries, got %d", len(in), len(out))
	}
	for key := range in {
		if _, ok := out[key]; !ok {
			t.Errorf("entry %q missing after round trip", key)
		}
	}
}

func TestSaveWritesSortedJSONArray(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := New(fs, "strmsync.state.json")

	if err := store.Save(map[string]struct{}{"b": {}, "a": {}, "c": {}}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	data, err := afero.ReadFile(fs, "strmsync.state.json")
	if err != nil {
		t.Fatalf("failed to read state file: %v", err)
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("state file is not a JSON string array: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(entries) != len(want) {
		t.Fatalf("expected %v, got %v", want, entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("expected sorted entries %v, got %v", want, entries)
			break
		}
	}
}

func TestLoadCorruptFileReturnsEmptySet(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "strmsync.state.json", []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to seed corrupt file: %v", err)
	}

	store := New(fs, "strmsync.state.json")
	if set := store.Load(); len(set) != 0 {
		t.Errorf("expected empty set for corrupt state file, got %d entries", len(set))
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := New(fs, "state/strmsync.state.json")

	if err := store.Save(map[string]struct{}{"movies": {}}); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	entries, err := afero.ReadDir(fs, "state")
	if err != nil {
		t.Fatalf("failed to list state dir: %v", err)
	}
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".tmp") {
			t.Errorf("stale temp file left behind: %s", entry.Name())
		}
	}
}

func TestSaveOverwritesWholesale(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := New(fs, "strmsync.state.json")

	if err := store.Save(map[string]struct{}{"old/entry": {}}); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}
	if err := store.Save(map[string]struct{}{"new/entry": {}}); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	set := store.Load()
	if _, ok := set["old/entry"]; ok {
		t.Error("previous state survived a wholesale overwrite")
	}
	if _, ok := set["new/entry"]; !ok {
		t.Error("new state missing after overwrite")
	}
}
