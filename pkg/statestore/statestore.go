// Package statestore persists the set of source subfolders that have already
// been reconciled, so subsequent runs can skip re-scanning them.
//
// The on-disk format is a JSON array of source-root-relative subfolder path
// keys, overwritten wholesale each run. Writes go through a temporary file
// in the same directory followed by a rename, so a crash mid-write never
// truncates the previously persisted set.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/hope140/strmsync/pkg/plog"
	"github.com/hope140/strmsync/pkg/util"
)

// DefaultFileName is the state file created next to the config when no
// explicit path is configured.
const DefaultFileName = "strmsync.state.json"

// Store reads and writes the processed-subfolder set at a fixed path.
type Store struct {
	fs   afero.Fs
	path string
}

// New returns a Store persisting to path. A nil fs defaults to the OS
// filesystem.
func New(fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, path: path}
}

// Path returns the location of the persisted state file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted subfolder set. A missing, unreadable or corrupt
// state file yields an empty set: the worst outcome is redundant re-scanning,
// never data loss, so load problems are logged and absorbed.
func (s *Store) Load() map[string]struct{} {
	set := make(map[string]struct{})

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			plog.Warn("Could not read state file, starting with an empty processed set", "path", s.path, "error", err)
		}
		return set
	}

	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		plog.Warn("State file is corrupt, starting with an empty processed set", "path", s.path, "error", err)
		return set
	}

	for _, entry := range entries {
		set[util.NormalizePath(entry)] = struct{}{}
	}
	return set
}

// Save atomically replaces the persisted set. Entries are written sorted for
// stable diffs; the set itself carries no ordering guarantee.
func (s *Store) Save(set map[string]struct{}) error {
	entries := make([]string, 0, len(set))
	for entry := range set {
		entries = append(entries, entry)
	}
	sort.Strings(entries)

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal processed set: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create state directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, "strmsync-state-*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temporary state file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = s.fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write temporary state file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary state file %s: %w", tmpPath, err)
	}

	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("could not replace state file %s: %w", s.path, err)
	}
	tmpPath = "" // Prevent the deferred removal.

	plog.Debug("Persisted processed-subfolder set", "path", s.path, "entries", len(entries))
	return nil
}
