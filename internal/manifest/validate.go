package manifest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// validate checks the model invariants and collects every violation into a
// single ValidationError.
func (m *Manifest) validate() error {
	var problems []string

	if strings.TrimSpace(m.Name) == "" {
		problems = append(problems, "missing pack name")
	}
	if strings.TrimSpace(m.ModpackVersion) == "" {
		problems = append(problems, "missing modpack_version")
	}
	if strings.TrimSpace(m.UUID) == "" {
		problems = append(problems, "missing uuid")
	} else if _, err := uuid.Parse(m.UUID); err != nil {
		problems = append(problems, fmt.Sprintf("malformed uuid %q", m.UUID))
	}
	if strings.TrimSpace(m.Loader.Type) == "" {
		problems = append(problems, "missing loader type")
	}
	if strings.TrimSpace(m.Loader.MinecraftVersion) == "" {
		problems = append(problems, "missing loader minecraft_version")
	}

	declared := map[string]bool{DefaultFeatureID: true}
	for _, f := range m.Features {
		if strings.TrimSpace(f.ID) == "" {
			problems = append(problems, "feature with empty id")
			continue
		}
		if f.ID == DefaultFeatureID {
			// The implicit default cannot be redefined: it is always enabled
			// and never hidden.
			if f.Hidden || !f.Default {
				problems = append(problems, `feature "default" cannot be hidden or disabled`)
			}
			continue
		}
		if declared[f.ID] {
			problems = append(problems, fmt.Sprintf("duplicate feature id %q", f.ID))
		}
		declared[f.ID] = true
	}

	knownSources := map[Source]bool{SourceModrinth: true, SourceDirect: true, SourceOptifine: true}
	paths := make(map[string]string)
	for _, e := range m.Entries() {
		label := fmt.Sprintf("%s entry %q", e.Kind, e.Name)
		if strings.TrimSpace(e.Name) == "" {
			label = fmt.Sprintf("%s entry %q", e.Kind, e.Location)
		}
		if !knownSources[e.Source] {
			problems = append(problems, fmt.Sprintf("%s: unknown source %q", label, e.Source))
		}
		if strings.TrimSpace(e.Location) == "" {
			problems = append(problems, fmt.Sprintf("%s: missing location", label))
		}
		if strings.TrimSpace(e.Version) == "" {
			problems = append(problems, fmt.Sprintf("%s: missing version", label))
		}
		if !declared[e.FeatureID] {
			problems = append(problems, fmt.Sprintf("%s: undeclared feature id %q", label, e.FeatureID))
		}
		hint := e.PathHint()
		if prev, ok := paths[hint]; ok {
			problems = append(problems, fmt.Sprintf("%s: installs to the same path as %s", label, prev))
		} else {
			paths[hint] = label
		}
	}

	for _, inc := range m.Include {
		loc := strings.TrimSpace(inc.Location)
		if loc == "" {
			problems = append(problems, "include with empty location")
			continue
		}
		if strings.HasPrefix(loc, "/") || strings.Contains(loc, "..") {
			problems = append(problems, fmt.Sprintf("include %q: location must be a relative path inside the pack", inc.Location))
		}
		if !declared[inc.FeatureID] {
			problems = append(problems, fmt.Sprintf("include %q: undeclared feature id %q", inc.Location, inc.FeatureID))
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
