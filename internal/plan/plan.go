// Package plan computes the ordered set of operations that brings a pack
// root from its recorded local state to the state a manifest plus feature
// selection describes.
package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/state"
)

// OpKind enumerates plan operations.
type OpKind int

const (
	// OpDelete removes a tracked file. All deletes are ordered before any
	// operation that writes, so a renamed artifact can never collide with
	// its predecessor on case-insensitive filesystems.
	OpDelete OpKind = iota
	// OpFetch downloads a catalog entry through the source resolver.
	OpFetch
	// OpCopyLocal copies one include file from a local pack checkout.
	OpCopyLocal
	// OpFetchArchive downloads and extracts a feature's include archive for
	// remotely hosted packs.
	OpFetchArchive
)

// Op is one planned operation. Path is slash-separated and relative to the
// pack root; which other fields are set depends on Kind.
type Op struct {
	Kind OpKind
	Path string

	// OpFetch
	Entry *manifest.Entry

	// OpCopyLocal
	Source string // absolute path in the local pack checkout
	SHA256 string // fingerprint of the source file

	// OpFetchArchive
	FeatureID string

	Identity string
	Version  string
	Name     string
}

// Plan is the ordered operation list plus the files that stay in place.
type Plan struct {
	Ops []Op
	// Keep holds the already-correct files to carry into the next state.
	Keep map[string]state.FileRecord

	Added     int
	Updated   int
	Removed   int
	Unchanged int
}

// Empty reports whether the plan requires no work.
func (p *Plan) Empty() bool { return len(p.Ops) == 0 }

// Work returns the non-delete operations in order.
func (p *Plan) Work() []Op {
	var out []Op
	for _, op := range p.Ops {
		if op.Kind != OpDelete {
			out = append(out, op)
		}
	}
	return out
}

// Deletes returns the delete operations in order.
func (p *Plan) Deletes() []Op {
	var out []Op
	for _, op := range p.Ops {
		if op.Kind == OpDelete {
			out = append(out, op)
		}
	}
	return out
}

// Options configures plan computation.
type Options struct {
	// Force replans every desired item regardless of recorded versions,
	// turning the sync into a repair run.
	Force bool
	// LocalDir is the directory containing the manifest when the pack is a
	// local checkout; includes are copied from it. Empty means the pack is
	// remotely hosted and includes arrive as release archives.
	LocalDir string
}

// ArchiveIdentity is the tracking key for files extracted from a feature's
// include archive.
func ArchiveIdentity(featureID string) string {
	return "include-archive:" + featureID
}

// UpToDate reports whether a sync can be skipped entirely: the recorded pack
// version matches the manifest and the feature selection is unchanged.
func UpToDate(m *manifest.Manifest, enabled map[string]bool, st *state.State) bool {
	if !st.Installed() || st.ModpackVersion != m.ModpackVersion {
		return false
	}
	recorded := st.EnabledSet()
	if len(recorded) != countEnabled(enabled) {
		return false
	}
	for id, on := range enabled {
		if on && !recorded[id] {
			return false
		}
	}
	return true
}

func countEnabled(enabled map[string]bool) int {
	n := 0
	for _, on := range enabled {
		if on {
			n++
		}
	}
	return n
}

// Compute diffs the desired manifest contents under the enabled features
// against the local state. Only pack-level version labels are ignored here:
// per-entry labels alone decide what is refetched, so downgrades plan the
// same way upgrades do.
func Compute(m *manifest.Manifest, enabled map[string]bool, st *state.State, opts Options) (*Plan, error) {
	p := &Plan{Keep: make(map[string]state.FileRecord)}
	idx := st.ByIdentity()

	desired := make(map[string]bool)
	deletes := make(map[string]bool)
	var work []Op

	for _, e := range m.EffectiveEntries(enabled) {
		e := e
		id := e.Identity()
		desired[id] = true

		existing := idx[id]
		if len(existing) > 0 {
			current := existing[0]
			rec := st.Files[current]
			// A single catalog entry owns a single file; stale duplicates
			// under the same identity are removed.
			for _, extra := range existing[1:] {
				deletes[extra] = true
			}
			if !opts.Force && rec.Version == e.Version {
				p.Keep[current] = rec
				p.Unchanged++
				continue
			}
			deletes[current] = true
			p.Updated++
		} else {
			p.Added++
		}
		work = append(work, Op{
			Kind:     OpFetch,
			Path:     e.Dir(),
			Entry:    &e,
			Identity: id,
			Version:  e.Version,
			Name:     e.Name,
		})
	}

	includeOps, err := planIncludes(m, enabled, st, idx, opts, desired, deletes)
	if err != nil {
		return nil, err
	}
	for _, op := range includeOps.work {
		work = append(work, op)
	}
	for path, rec := range includeOps.keep {
		p.Keep[path] = rec
		p.Unchanged++
	}
	p.Added += includeOps.added
	p.Updated += includeOps.updated

	// Everything tracked under an identity the manifest no longer wants, or
	// that a disabled feature gates, becomes obsolete.
	for id, paths := range idx {
		if desired[id] {
			continue
		}
		for _, path := range paths {
			if !deletes[path] {
				deletes[path] = true
				p.Removed++
			}
		}
	}
	for path := range includeOps.stale {
		if !deletes[path] {
			deletes[path] = true
			p.Removed++
		}
	}

	deletePaths := make([]string, 0, len(deletes))
	for path := range deletes {
		deletePaths = append(deletePaths, path)
	}
	sort.Strings(deletePaths)
	for _, path := range deletePaths {
		p.Ops = append(p.Ops, Op{Kind: OpDelete, Path: path, Name: path})
	}
	p.Ops = append(p.Ops, work...)
	return p, nil
}

type includePlan struct {
	work    []Op
	keep    map[string]state.FileRecord
	stale   map[string]bool
	added   int
	updated int
}

// planIncludes handles both pack layouts. Local checkouts are diffed per
// file by content fingerprint; remote packs are diffed per feature archive
// by pack version, since archive contents are only known after extraction.
func planIncludes(m *manifest.Manifest, enabled map[string]bool, st *state.State, idx map[string][]string, opts Options, desired, deletes map[string]bool) (*includePlan, error) {
	ip := &includePlan{keep: make(map[string]state.FileRecord), stale: make(map[string]bool)}
	includes := m.EffectiveIncludes(enabled)
	if len(includes) == 0 {
		return ip, nil
	}

	if opts.LocalDir != "" {
		for _, inc := range includes {
			id := inc.Identity()
			desired[id] = true

			present := make(map[string]bool)
			err := walkIncludeFiles(opts.LocalDir, inc.Location, func(rel, abs string) error {
				sum, err := hashFile(abs)
				if err != nil {
					return err
				}
				present[rel] = true
				if rec, ok := st.Files[rel]; ok && rec.Identity == id {
					if !opts.Force && rec.SHA256 == sum {
						ip.keep[rel] = rec
						return nil
					}
					ip.updated++
				} else {
					ip.added++
				}
				ip.work = append(ip.work, Op{
					Kind:     OpCopyLocal,
					Path:     rel,
					Source:   abs,
					SHA256:   sum,
					Identity: id,
					Name:     rel,
				})
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("include %q: %w", inc.Location, err)
			}

			// Files this include placed earlier that its source no longer
			// contains.
			for _, path := range idx[id] {
				if !present[path] {
					ip.stale[path] = true
				}
			}
		}
		return ip, nil
	}

	// Remote pack: one archive per feature that has includes.
	seen := make(map[string]bool)
	for _, inc := range includes {
		if seen[inc.FeatureID] {
			continue
		}
		seen[inc.FeatureID] = true

		id := ArchiveIdentity(inc.FeatureID)
		desired[id] = true

		existing := idx[id]
		if len(existing) > 0 && !opts.Force && archiveCurrent(st, existing, m.ModpackVersion) {
			for _, path := range existing {
				ip.keep[path] = st.Files[path]
			}
			continue
		}
		for _, path := range existing {
			deletes[path] = true
		}
		if len(existing) > 0 {
			ip.updated++
		} else {
			ip.added++
		}
		ip.work = append(ip.work, Op{
			Kind:      OpFetchArchive,
			FeatureID: inc.FeatureID,
			Identity:  id,
			Version:   m.ModpackVersion,
			Name:      inc.FeatureID + ".zip",
		})
	}
	return ip, nil
}

func archiveCurrent(st *state.State, paths []string, version string) bool {
	for _, path := range paths {
		if st.Files[path].Version != version {
			return false
		}
	}
	return true
}

// walkIncludeFiles visits every file under the include location, which may
// be a single file or a directory tree. rel is the slash-separated
// destination path under the pack root.
func walkIncludeFiles(localDir, location string, visit func(rel, abs string) error) error {
	src := filepath.Join(localDir, filepath.FromSlash(location))
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return visit(location, src)
	}
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		sub, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		rel := filepath.ToSlash(filepath.Join(filepath.FromSlash(location), sub))
		return visit(rel, path)
	})
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
