// Package executor runs a computed plan against the pack root: deletions
// first, then downloads and copies on a bounded worker pool. No partially
// transferred file is ever visible at a final path; every write lands in a
// temporary file and is renamed into place only after validation.
package executor

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/modrinth"
	"github.com/packsmith/packsmith/internal/plan"
	"github.com/packsmith/packsmith/internal/progress"
	"github.com/packsmith/packsmith/internal/resolver"
	"github.com/packsmith/packsmith/internal/state"
)

const (
	defaultConcurrency = 6
	defaultRetries     = 3

	// Temp names are namespaced so stale-temp cleanup can tell the
	// installer's own leftovers apart from user files.
	tempSuffix        = ".packsmith-part"
	archiveTempPrefix = ".packsmith-archive-"
)

// ArchiveSource supplies download URLs for feature include archives of
// remotely hosted packs.
type ArchiveSource interface {
	ArchiveURL(ctx context.Context, featureID string) (string, error)
}

// IntegrityError reports an item whose resolved metadata or downloaded
// content failed validation. Retrying cannot help; any temp file has been
// discarded.
type IntegrityError struct {
	Name   string
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for %s: %s", e.Name, e.Reason)
}

// FilesystemError reports a failure touching the destination root. It is
// fatal for the whole run: if the root is unusable, nothing else can land.
type FilesystemError struct {
	Op  string
	Err error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("filesystem: %s: %v", e.Op, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// ItemFailure is one named item that could not be brought in line.
type ItemFailure struct {
	Name string
	Err  error
}

// Result is the outcome of executing a plan. Installed holds the records of
// every file that fully succeeded, so the caller can persist a state that
// resumes from the failure point on the next run.
type Result struct {
	Installed map[string]state.FileRecord
	Deleted   []string
	Failures  []ItemFailure
	Fatal     error
}

// OK reports whether every operation succeeded.
func (r *Result) OK() bool { return r.Fatal == nil && len(r.Failures) == 0 }

// Options configures plan execution.
type Options struct {
	Root        string
	Concurrency int
	Retries     int
	Resolver    *resolver.Resolver
	Archives    ArchiveSource
	Events      chan<- progress.Event
}

// Execute runs the plan. Deletes are sequential and tolerant of files that
// are already gone; fetch and copy operations run concurrently.
func Execute(ctx context.Context, p *plan.Plan, opts Options) *Result {
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Retries < 1 {
		opts.Retries = defaultRetries
	}

	res := &Result{Installed: make(map[string]state.FileRecord)}
	e := &engine{
		opts:   opts,
		client: grab.NewClient(),
	}
	e.client.UserAgent = modrinth.UserAgent

	removeStaleTemps(opts.Root)

	deletes := p.Deletes()
	for i, op := range deletes {
		abs, err := e.abs(op.Path)
		if err != nil {
			res.Fatal = err
			return res
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			res.Fatal = &FilesystemError{Op: "removing " + op.Path, Err: err}
			return res
		}
		logging.Debugf("Verbose: deleted %s\n", op.Path)
		res.Deleted = append(res.Deleted, op.Path)
		progress.Emit(opts.Events, progress.Event{
			Phase:     progress.PhaseDelete,
			Completed: i + 1,
			Total:     len(deletes),
			Item:      op.Path,
		})
	}

	work := p.Work()
	if len(work) == 0 {
		return res
	}

	type itemResult struct {
		records map[string]state.FileRecord
		err     error
		skipped bool
	}
	results := make([]itemResult, len(work))
	workCh := make(chan int, len(work))
	for i := range work {
		workCh <- i
	}
	close(workCh)

	var (
		completed atomic.Int64
		aborted   atomic.Bool
		wg        sync.WaitGroup
	)

	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				if aborted.Load() || ctx.Err() != nil {
					results[i] = itemResult{skipped: true}
					continue
				}
				op := work[i]
				records, err := e.runWithRetry(ctx, op)
				results[i] = itemResult{records: records, err: err}
				if isFatal(err) {
					aborted.Store(true)
				}

				n := completed.Add(1)
				progress.Emit(opts.Events, progress.Event{
					Phase:     phaseFor(op.Kind),
					Completed: int(n),
					Total:     len(work),
					Item:      op.Name,
				})
			}
		}()
	}
	wg.Wait()

	for i, r := range results {
		switch {
		case r.skipped:
			// Aborted before starting; the next run picks it up.
		case r.err != nil:
			if isFatal(r.err) && res.Fatal == nil {
				res.Fatal = r.err
				continue
			}
			res.Failures = append(res.Failures, ItemFailure{Name: work[i].Name, Err: r.err})
		default:
			for path, rec := range r.records {
				res.Installed[path] = rec
			}
		}
	}
	if res.Fatal == nil && ctx.Err() != nil {
		res.Fatal = ctx.Err()
	}
	return res
}

func isFatal(err error) bool {
	var fsErr *FilesystemError
	return errors.As(err, &fsErr)
}

func phaseFor(kind plan.OpKind) progress.Phase {
	switch kind {
	case plan.OpCopyLocal:
		return progress.PhaseCopy
	case plan.OpFetchArchive:
		return progress.PhaseExtract
	default:
		return progress.PhaseDownload
	}
}

type engine struct {
	opts   Options
	client *grab.Client
}

// abs resolves a plan-relative path and refuses anything that would escape
// the pack root.
func (e *engine) abs(rel string) (string, error) {
	if rel == "" || !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", &FilesystemError{Op: "resolving path", Err: fmt.Errorf("path %q escapes the pack root", rel)}
	}
	return filepath.Join(e.opts.Root, filepath.FromSlash(rel)), nil
}

func (e *engine) runWithRetry(ctx context.Context, op plan.Op) (map[string]state.FileRecord, error) {
	var lastErr error
	for attempt := 0; attempt < e.opts.Retries; attempt++ {
		if attempt > 0 {
			logging.Debugf("Verbose: retrying %s attempt=%d/%d\n", op.Name, attempt+1, e.opts.Retries)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}

		records, err := e.run(ctx, op)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

// retryable reports whether an error class is worth another attempt.
// Integrity and filesystem failures are deterministic; resolution failures
// from the registry are definitive answers, not timeouts.
func retryable(err error) bool {
	var integrity *IntegrityError
	var fsErr *FilesystemError
	if errors.As(err, &integrity) || errors.As(err, &fsErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, modrinth.ErrProjectNotFound) ||
		errors.Is(err, modrinth.ErrVersionNotFound) ||
		errors.Is(err, modrinth.ErrLoaderMismatch) {
		return false
	}
	return true
}

func (e *engine) run(ctx context.Context, op plan.Op) (map[string]state.FileRecord, error) {
	switch op.Kind {
	case plan.OpFetch:
		return e.fetchEntry(ctx, op)
	case plan.OpCopyLocal:
		return e.copyLocal(op)
	case plan.OpFetchArchive:
		return e.fetchArchive(ctx, op)
	default:
		return nil, fmt.Errorf("unexpected operation kind %d", op.Kind)
	}
}

func (e *engine) fetchEntry(ctx context.Context, op plan.Op) (map[string]state.FileRecord, error) {
	progress.Emit(e.opts.Events, progress.Event{Phase: progress.PhaseResolve, Item: op.Name})
	desc, err := e.opts.Resolver.Resolve(ctx, *op.Entry)
	if err != nil {
		return nil, err
	}
	// A filename from a remote registry is untrusted input; one that is not
	// a plain base name fails this item only, not the whole run.
	if desc.Filename != filepath.Base(desc.Filename) || !filepath.IsLocal(desc.Filename) {
		return nil, &IntegrityError{Name: op.Name, Reason: fmt.Sprintf("unsafe filename %q", desc.Filename)}
	}

	rel := op.Entry.Dir() + "/" + desc.Filename
	abs, err := e.abs(rel)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, &FilesystemError{Op: "creating " + op.Entry.Dir(), Err: err}
	}

	if err := e.download(ctx, desc, abs, op.Name); err != nil {
		return nil, err
	}

	sum, err := hashFile(abs)
	if err != nil {
		return nil, &FilesystemError{Op: "hashing " + rel, Err: err}
	}
	logging.Debugf("Verbose: installed %s (%s)\n", rel, desc.Version)
	return map[string]state.FileRecord{
		rel: {Identity: op.Identity, Version: desc.Version, SHA256: sum},
	}, nil
}

// download transfers a URL into place atomically: the payload lands in a
// temp file, is checked against the descriptor's size and hash when known,
// and only then renamed to its final path.
func (e *engine) download(ctx context.Context, desc resolver.Descriptor, abs, name string) error {
	tmp := abs + tempSuffix

	req, err := grab.NewRequest(tmp, desc.URL)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", name, err)
	}
	req = req.WithContext(ctx)
	req.NoResume = true
	if desc.SHA1 != "" {
		if sum, err := hex.DecodeString(desc.SHA1); err == nil {
			req.SetChecksum(sha1.New(), sum, true)
		}
	}

	resp := e.client.Do(req)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
poll:
	for {
		select {
		case <-ticker.C:
			progress.Emit(e.opts.Events, progress.Event{
				Phase:      progress.PhaseDownload,
				Item:       name,
				BytesDone:  resp.BytesComplete(),
				BytesTotal: resp.Size(),
			})
		case <-resp.Done:
			break poll
		}
	}

	if err := resp.Err(); err != nil {
		os.Remove(tmp)
		if errors.Is(err, grab.ErrBadChecksum) {
			return &IntegrityError{Name: name, Reason: "sha1 mismatch"}
		}
		return fmt.Errorf("downloading %s: %w", name, err)
	}

	if desc.Size > 0 {
		fi, err := os.Stat(tmp)
		if err != nil {
			os.Remove(tmp)
			return &FilesystemError{Op: "checking " + name, Err: err}
		}
		if fi.Size() != desc.Size {
			os.Remove(tmp)
			return &IntegrityError{Name: name, Reason: fmt.Sprintf("size mismatch: got %d, want %d", fi.Size(), desc.Size)}
		}
	}

	if err := os.Rename(tmp, abs); err != nil {
		os.Remove(tmp)
		return &FilesystemError{Op: "finalizing " + name, Err: err}
	}
	return nil
}

func (e *engine) copyLocal(op plan.Op) (map[string]state.FileRecord, error) {
	abs, err := e.abs(op.Path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, &FilesystemError{Op: "creating directory for " + op.Path, Err: err}
	}
	if err := copyFileAtomic(op.Source, abs); err != nil {
		return nil, &FilesystemError{Op: "copying " + op.Path, Err: err}
	}
	logging.Debugf("Verbose: copied %s\n", op.Path)
	return map[string]state.FileRecord{
		op.Path: {Identity: op.Identity, SHA256: op.SHA256},
	}, nil
}

func (e *engine) fetchArchive(ctx context.Context, op plan.Op) (map[string]state.FileRecord, error) {
	if e.opts.Archives == nil {
		return nil, fmt.Errorf("pack has includes but no archive source is configured")
	}
	progress.Emit(e.opts.Events, progress.Event{Phase: progress.PhaseResolve, Item: op.Name})
	url, err := e.opts.Archives.ArchiveURL(ctx, op.FeatureID)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(e.opts.Root, archiveTempPrefix+"*"+tempSuffix)
	if err != nil {
		return nil, &FilesystemError{Op: "creating archive temp file", Err: err}
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := e.download(ctx, resolver.Descriptor{URL: url}, tmpPath, op.Name); err != nil {
		return nil, err
	}
	// download renames its own temp over tmpPath, so the archive now sits at
	// tmpPath itself.
	records, err := e.extractArchive(tmpPath, op)
	if err != nil {
		return nil, err
	}
	logging.Debugf("Verbose: extracted %s (%d files)\n", op.Name, len(records))
	return records, nil
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + tempSuffix
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
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

// removeStaleTemps deletes leftover temp files from an interrupted earlier
// run. Only names the installer itself generates are touched; everything
// else under the root belongs to the user.
func removeStaleTemps(root string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(d.Name(), tempSuffix) || strings.HasPrefix(d.Name(), archiveTempPrefix) {
			os.Remove(path)
		}
		return nil
	})
}
