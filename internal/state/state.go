// Package state persists the record of what is currently installed in a pack
// root. The file map is the only authority for deletions: files the installer
// did not place are never touched.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// FileName is the state file kept at the top of the pack root.
const FileName = ".packsmith-state.json"

// FileRecord describes one installed file.
type FileRecord struct {
	// Identity is the manifest-entry key the file was installed for.
	Identity string `json:"identity"`
	// Version is the entry's version label at install time.
	Version string `json:"version"`
	// SHA256 is the content fingerprint of the placed file.
	SHA256 string `json:"sha256,omitempty"`
}

// State is the persisted local installation record. It is read once at the
// start of a sync and replaced atomically at the end; it is never mutated on
// disk mid-run.
type State struct {
	ManifestVersion int      `json:"manifest_version"`
	ModpackVersion  string   `json:"modpack_version"`
	PackUUID        string   `json:"pack_uuid,omitempty"`
	Features        []string `json:"features"`
	// ProfileWritten records that the launcher profile for this install has
	// been registered, so an up-to-date pack can still retry a failed write.
	ProfileWritten bool `json:"profile_written,omitempty"`
	// Files maps slash-separated paths relative to the pack root to their
	// install records.
	Files map[string]FileRecord `json:"files"`
}

// New returns an empty never-installed state.
func New() *State {
	return &State{Files: make(map[string]FileRecord)}
}

// Load reads the state file from the pack root. A missing file is not an
// error: it means nothing has been installed yet. Unknown fields are ignored
// so newer installers can read older files and vice versa.
func Load(root string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(root, FileName))
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Files == nil {
		s.Files = make(map[string]FileRecord)
	}
	return &s, nil
}

// Save writes the state to the pack root with a whole-file atomic replace.
func (s *State) Save(root string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}

	path := filepath.Join(root, FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

// Installed reports whether a sync has completed before.
func (s *State) Installed() bool {
	return s.ModpackVersion != "" || len(s.Files) > 0
}

// EnabledSet returns the persisted feature selection as a set.
func (s *State) EnabledSet() map[string]bool {
	set := make(map[string]bool, len(s.Features))
	for _, id := range s.Features {
		set[id] = true
	}
	return set
}

// SetEnabled records a feature selection, sorted for stable output.
func (s *State) SetEnabled(enabled map[string]bool) {
	s.Features = s.Features[:0]
	for id, on := range enabled {
		if on {
			s.Features = append(s.Features, id)
		}
	}
	slices.Sort(s.Features)
}

// ByIdentity indexes the file map by entry identity. Identities are unique
// per entry for catalog files; include identities may map to several files,
// so the index holds path lists.
func (s *State) ByIdentity() map[string][]string {
	idx := make(map[string][]string)
	for p, rec := range s.Files {
		idx[rec.Identity] = append(idx[rec.Identity], p)
	}
	for _, paths := range idx {
		slices.Sort(paths)
	}
	return idx
}
