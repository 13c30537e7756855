// Package installer orchestrates one full sync run: load the pack, diff it
// against the local state, execute the plan, and persist the outcome.
package installer

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"os"
	"slices"

	"github.com/packsmith/packsmith/internal/executor"
	"github.com/packsmith/packsmith/internal/github"
	"github.com/packsmith/packsmith/internal/launcher"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/plan"
	"github.com/packsmith/packsmith/internal/progress"
	"github.com/packsmith/packsmith/internal/resolver"
	"github.com/packsmith/packsmith/internal/semver"
	"github.com/packsmith/packsmith/internal/state"
)

// Options configures a sync run.
type Options struct {
	// Pack is a local manifest path, a manifest URL, or owner/repo[@branch].
	Pack string
	// Root overrides the launcher-managed pack root. When set, no launcher
	// profile is written.
	Root     string
	Launcher string
	// Features replaces the persisted feature selection when non-empty. The
	// implicit default feature is always included.
	Features []string
	Enable   []string
	Disable  []string

	Concurrency       int
	Retries           int
	DryRun            bool
	Force             bool
	NoLauncherProfile bool

	Events chan<- progress.Event
}

// SyncResult summarizes a run.
type SyncResult struct {
	PackName   string
	OldVersion string
	NewVersion string
	Features   []string

	Added     int
	Removed   int
	Updated   int
	Unchanged int

	UpToDate bool
	DryRun   bool
	Failures []executor.ItemFailure
}

// Sync performs the full install/update flow for a pack.
func Sync(ctx context.Context, opts Options) (*SyncResult, error) {
	gh := github.NewClient()
	src, err := loadPack(ctx, opts.Pack, gh, http.DefaultClient)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Parse(src.Data)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Verbose: pack %s version=%s uuid=%s\n", m.Name, m.ModpackVersion, m.UUID)

	root := opts.Root
	var lnch launcher.Launcher
	launcherManaged := root == ""
	if launcherManaged {
		lnch, err = launcher.Detect(opts.Launcher)
		if err != nil {
			return nil, err
		}
		root = lnch.PackRoot(m.UUID)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating pack root: %w", err)
	}

	release, err := acquireLock(root)
	if err != nil {
		return nil, err
	}
	defer release()

	st, err := state.Load(root)
	if err != nil {
		return nil, err
	}

	enabled, err := selectFeatures(m, st, opts)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		PackName:   m.Name,
		OldVersion: st.ModpackVersion,
		NewVersion: m.ModpackVersion,
		Features:   sortedEnabled(enabled),
		DryRun:     opts.DryRun,
	}

	if !opts.Force && plan.UpToDate(m, enabled, st) {
		// A crash or meta-server outage can leave an installed pack without
		// its launcher profile; finish that part before declaring victory.
		if launcherManaged && !opts.NoLauncherProfile && !st.ProfileWritten {
			if err := launcher.WriteProfile(ctx, http.DefaultClient, lnch, m, root); err != nil {
				return result, fmt.Errorf("pack installed but launcher profile failed: %w", err)
			}
			st.ProfileWritten = true
			if err := st.Save(root); err != nil {
				return result, err
			}
		}
		logging.Infoln("Already up to date.")
		result.UpToDate = true
		return result, nil
	}

	pl, err := plan.Compute(m, enabled, st, plan.Options{Force: opts.Force, LocalDir: src.LocalDir})
	if err != nil {
		return nil, err
	}
	result.Added, result.Updated, result.Removed, result.Unchanged = pl.Added, pl.Updated, pl.Removed, pl.Unchanged

	if opts.DryRun {
		printPlan(pl)
		return result, nil
	}

	var archives executor.ArchiveSource
	if src.IsRepo {
		archives = &githubArchives{client: gh, repo: src.Repo, tag: m.ModpackVersion}
	}

	res := executor.Execute(ctx, pl, executor.Options{
		Root:        root,
		Concurrency: opts.Concurrency,
		Retries:     opts.Retries,
		Resolver:    resolver.New(m.Loader),
		Archives:    archives,
		Events:      opts.Events,
	})
	result.Failures = res.Failures

	// The profile write happens before the state save so its outcome lands
	// in ProfileWritten; a failed write is retried on the next run even when
	// the files themselves are already up to date.
	var profileErr error
	ns := buildState(m, enabled, st, pl, res)
	ns.ProfileWritten = st.ProfileWritten
	if res.OK() && launcherManaged && !opts.NoLauncherProfile {
		profileErr = launcher.WriteProfile(ctx, http.DefaultClient, lnch, m, root)
		ns.ProfileWritten = profileErr == nil
	}
	if err := ns.Save(root); err != nil {
		return result, err
	}

	if res.Fatal != nil {
		return result, res.Fatal
	}
	if len(res.Failures) > 0 {
		for _, f := range res.Failures {
			logging.Warnf("%s: %v\n", f.Name, f.Err)
		}
		return result, fmt.Errorf("%d of %d items failed; re-run to retry", len(res.Failures), len(pl.Work()))
	}
	if profileErr != nil {
		return result, fmt.Errorf("pack installed but launcher profile failed: %w", profileErr)
	}

	progress.Emit(opts.Events, progress.Event{Phase: progress.PhaseDone})
	return result, nil
}

// buildState folds the execution outcome into the next persisted state.
// Only items that fully succeeded are recorded; on a failed run the pack
// version label is cleared so the next sync replans instead of skipping.
func buildState(m *manifest.Manifest, enabled map[string]bool, old *state.State, pl *plan.Plan, res *executor.Result) *state.State {
	ns := state.New()
	ns.ManifestVersion = manifest.SchemaVersion
	ns.PackUUID = m.UUID
	ns.SetEnabled(enabled)

	maps.Copy(ns.Files, pl.Keep)
	maps.Copy(ns.Files, res.Installed)

	// Planned deletes that never executed still exist on disk; keeping their
	// records preserves the right to delete them next run.
	executed := make(map[string]bool, len(res.Deleted))
	for _, p := range res.Deleted {
		executed[p] = true
	}
	for _, op := range pl.Deletes() {
		if !executed[op.Path] {
			if rec, ok := old.Files[op.Path]; ok {
				ns.Files[op.Path] = rec
			}
		}
	}

	if res.OK() {
		ns.ModpackVersion = m.ModpackVersion
	}
	return ns
}

// selectFeatures computes the enabled-feature set for this run: the
// persisted selection (or the manifest defaults on first install), then any
// explicit replacement, then per-run enables and disables.
func selectFeatures(m *manifest.Manifest, st *state.State, opts Options) (map[string]bool, error) {
	known := m.FeatureIDs()

	var enabled map[string]bool
	switch {
	case len(opts.Features) > 0:
		enabled = map[string]bool{manifest.DefaultFeatureID: true}
		for _, id := range opts.Features {
			enabled[id] = true
		}
	case st.Installed():
		enabled = st.EnabledSet()
	default:
		enabled = m.DefaultFeatures()
	}

	for _, id := range opts.Enable {
		enabled[id] = true
	}
	for _, id := range opts.Disable {
		if id == manifest.DefaultFeatureID {
			return nil, fmt.Errorf("the default feature cannot be disabled")
		}
		delete(enabled, id)
	}
	enabled[manifest.DefaultFeatureID] = true

	for id, on := range enabled {
		if on && !known[id] {
			// Persisted selections may reference features a newer manifest
			// dropped; explicit requests may not.
			if slices.Contains(opts.Features, id) || slices.Contains(opts.Enable, id) {
				return nil, fmt.Errorf("unknown feature %q", id)
			}
			delete(enabled, id)
		}
	}
	return enabled, nil
}

func sortedEnabled(enabled map[string]bool) []string {
	var out []string
	for id, on := range enabled {
		if on {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func printPlan(pl *plan.Plan) {
	logging.Infof("\nDry run - no changes made:\n")
	logging.Infof("  %d to add, %d to update, %d to remove, %d unchanged\n",
		pl.Added, pl.Updated, pl.Removed, pl.Unchanged)
	for _, op := range pl.Ops {
		switch op.Kind {
		case plan.OpDelete:
			logging.Infof("  - %s\n", op.Path)
		case plan.OpFetch:
			logging.Infof("  + %s %s\n", op.Name, op.Version)
		case plan.OpCopyLocal:
			logging.Infof("  + %s\n", op.Path)
		case plan.OpFetchArchive:
			logging.Infof("  + %s (feature %s)\n", op.Name, op.FeatureID)
		}
	}
}

// Validate loads and validates a pack without touching any local state.
func Validate(ctx context.Context, packRef string) (*manifest.Manifest, error) {
	src, err := loadPack(ctx, packRef, github.NewClient(), http.DefaultClient)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(src.Data)
}

// StatusReport compares an installed pack against its current manifest.
type StatusReport struct {
	PackName         string
	Installed        bool
	InstalledVersion string
	ManifestVersion  string
	UpdateAvailable  bool
	Downgrade        bool
	Features         []string
	FileCount        int
}

// Status reports the installed state for a pack without modifying anything.
func Status(ctx context.Context, packRef, rootOverride, launcherSpec string) (*StatusReport, error) {
	src, err := loadPack(ctx, packRef, github.NewClient(), http.DefaultClient)
	if err != nil {
		return nil, err
	}
	m, err := manifest.Parse(src.Data)
	if err != nil {
		return nil, err
	}

	root := rootOverride
	if root == "" {
		lnch, err := launcher.Detect(launcherSpec)
		if err != nil {
			return nil, err
		}
		root = lnch.PackRoot(m.UUID)
	}
	st, err := state.Load(root)
	if err != nil {
		return nil, err
	}

	cmp := semver.Compare(m.ModpackVersion, st.ModpackVersion)
	return &StatusReport{
		PackName:         m.Name,
		Installed:        st.Installed(),
		InstalledVersion: st.ModpackVersion,
		ManifestVersion:  m.ModpackVersion,
		UpdateAvailable:  st.Installed() && cmp > 0,
		Downgrade:        st.Installed() && cmp < 0,
		Features:         st.Features,
		FileCount:        len(st.Files),
	}, nil
}
