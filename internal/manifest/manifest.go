// Package manifest holds the typed model of a declarative modpack manifest
// and its parsing and validation rules.
package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
)

// SchemaVersion is the manifest_version this installer understands. Documents
// with any other version are rejected; no cross-version migration is
// attempted.
const SchemaVersion = 3

// DefaultFeatureID is the implicit feature every entry belongs to unless it
// names another one. It is always enabled and never shown for selection.
const DefaultFeatureID = "default"

// Source identifies where an entry's payload comes from.
type Source string

const (
	// SourceModrinth resolves the entry through the Modrinth registry API.
	SourceModrinth Source = "modrinth"
	// SourceDirect treats the entry location as the final download URL.
	SourceDirect Source = "ddl"
	// SourceOptifine resolves the entry through the OptiFine download page.
	SourceOptifine Source = "optifine"
)

// Kind is the catalog an entry belongs to; it doubles as the directory the
// entry is installed under.
type Kind string

const (
	KindMod          Kind = "mods"
	KindShaderpack   Kind = "shaderpacks"
	KindResourcepack Kind = "resourcepacks"
)

// Loader describes the mod loader the pack targets.
type Loader struct {
	Type             string `json:"type"`
	Version          string `json:"version"`
	MinecraftVersion string `json:"minecraft_version"`
}

// Author is display-only attribution metadata.
type Author struct {
	Name string `json:"name"`
	Link string `json:"link,omitempty"`
}

// Entry is one mod, shaderpack, or resourcepack declared by the manifest.
type Entry struct {
	Name      string   `json:"name"`
	Source    Source   `json:"source"`
	Location  string   `json:"location"`
	Version   string   `json:"version"`
	FeatureID string   `json:"id,omitempty"`
	Authors   []Author `json:"authors,omitempty"`

	// Kind is assigned at parse time from the list the entry appeared in.
	Kind Kind `json:"-"`
}

// Identity is the stable key an installed file is tracked under. It survives
// version changes, so a version bump is seen as an update rather than a
// remove plus unrelated add.
func (e Entry) Identity() string {
	return string(e.Kind) + "/" + string(e.Source) + ":" + e.Location
}

// Dir returns the directory under the pack root the entry installs into.
func (e Entry) Dir() string {
	return string(e.Kind)
}

// PathHint returns the statically derivable destination path used for
// collision checks. For registry entries the final filename is only known
// after resolution, so the slug stands in for it.
func (e Entry) PathHint() string {
	switch e.Source {
	case SourceDirect:
		name := path.Base(e.Location)
		if u, err := url.Parse(e.Location); err == nil && u.Path != "" {
			name = path.Base(u.Path)
		}
		return path.Join(string(e.Kind), name)
	default:
		return path.Join(string(e.Kind), e.Location)
	}
}

// Include is a raw file or directory shipped alongside the catalog entries,
// identified by its relative path under the pack root.
type Include struct {
	Location  string   `json:"location"`
	FeatureID string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Authors   []Author `json:"authors,omitempty"`
}

// Identity returns the stable tracking key for files placed by this include.
func (i Include) Identity() string {
	return "include:" + i.Location
}

// Feature is a user-toggleable inclusion gate.
type Feature struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
	Hidden  bool   `json:"hidden,omitempty"`
}

// Manifest is the versioned description of a modpack. It is immutable for
// the duration of an install run.
type Manifest struct {
	ManifestVersion int       `json:"manifest_version"`
	ModpackVersion  string    `json:"modpack_version"`
	Name            string    `json:"name"`
	Subtitle        string    `json:"subtitle,omitempty"`
	Description     string    `json:"description,omitempty"`
	UUID            string    `json:"uuid"`
	Loader          Loader    `json:"loader"`
	Mods            []Entry   `json:"mods"`
	Shaderpacks     []Entry   `json:"shaderpacks"`
	Resourcepacks   []Entry   `json:"resourcepacks"`
	Include         []Include `json:"include"`
	Features        []Feature `json:"features"`
}

// SchemaError reports a manifest document this installer cannot process at
// all: malformed JSON or an unsupported manifest_version.
type SchemaError struct {
	Version int
	Err     error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("manifest schema: %v", e.Err)
	}
	return fmt.Sprintf("unsupported manifest version %d (this installer supports version %d)", e.Version, SchemaVersion)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ValidationError reports a structurally valid manifest that violates the
// model invariants. All problems are collected before failing.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	// Check the schema gate before decoding the full model so version
	// mismatches surface as such rather than as field errors.
	var gate struct {
		ManifestVersion int `json:"manifest_version"`
	}
	if err := json.Unmarshal(data, &gate); err != nil {
		return nil, &SchemaError{Err: err}
	}
	if gate.ManifestVersion != SchemaVersion {
		return nil, &SchemaError{Version: gate.ManifestVersion}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &SchemaError{Err: err}
	}

	assignKinds(&m)
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func assignKinds(m *Manifest) {
	lists := []struct {
		entries []Entry
		kind    Kind
	}{
		{m.Mods, KindMod},
		{m.Shaderpacks, KindShaderpack},
		{m.Resourcepacks, KindResourcepack},
	}
	for _, l := range lists {
		for i := range l.entries {
			l.entries[i].Kind = l.kind
			if l.entries[i].FeatureID == "" {
				l.entries[i].FeatureID = DefaultFeatureID
			}
		}
	}
	for i := range m.Include {
		if m.Include[i].FeatureID == "" {
			m.Include[i].FeatureID = DefaultFeatureID
		}
	}
}

// Entries returns mods, shaderpacks, and resourcepacks in manifest order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, 0, len(m.Mods)+len(m.Shaderpacks)+len(m.Resourcepacks))
	out = append(out, m.Mods...)
	out = append(out, m.Shaderpacks...)
	out = append(out, m.Resourcepacks...)
	return out
}

// EffectiveEntries returns the entries whose feature is enabled, in manifest
// order. Pure; no I/O.
func (m *Manifest) EffectiveEntries(enabled map[string]bool) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if enabled[e.FeatureID] {
			out = append(out, e)
		}
	}
	return out
}

// EffectiveIncludes returns the includes whose feature is enabled, in
// manifest order.
func (m *Manifest) EffectiveIncludes(enabled map[string]bool) []Include {
	var out []Include
	for _, inc := range m.Include {
		if enabled[inc.FeatureID] {
			out = append(out, inc)
		}
	}
	return out
}

// DefaultFeatures returns the feature selection for a first install: the
// implicit default feature plus every declared feature with default=true.
func (m *Manifest) DefaultFeatures() map[string]bool {
	enabled := map[string]bool{DefaultFeatureID: true}
	for _, f := range m.Features {
		if f.Default {
			enabled[f.ID] = true
		}
	}
	return enabled
}

// SelectableFeatures returns the declared features a user may toggle, in
// manifest order, excluding hidden ones.
func (m *Manifest) SelectableFeatures() []Feature {
	var out []Feature
	for _, f := range m.Features {
		if !f.Hidden {
			out = append(out, f)
		}
	}
	return out
}

// FeatureIDs returns the set of declared feature ids plus the implicit
// default.
func (m *Manifest) FeatureIDs() map[string]bool {
	ids := map[string]bool{DefaultFeatureID: true}
	for _, f := range m.Features {
		ids[f.ID] = true
	}
	return ids
}
