package executor

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/modrinth"
	"github.com/packsmith/packsmith/internal/plan"
	"github.com/packsmith/packsmith/internal/resolver"
)

func ddlOp(name, url, version string) plan.Op {
	e := &manifest.Entry{
		Name:     name,
		Kind:     manifest.KindMod,
		Source:   manifest.SourceDirect,
		Location: url,
		Version:  version,
	}
	return plan.Op{
		Kind:     plan.OpFetch,
		Path:     e.Dir(),
		Entry:    e,
		Identity: e.Identity(),
		Version:  version,
		Name:     name,
	}
}

func testResolver() *resolver.Resolver {
	return resolver.New(manifest.Loader{Type: "fabric"})
}

func TestExecute_FetchDirect(t *testing.T) {
	payload := []byte("jar bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/files/extra-2.1.jar" {
			http.NotFound(w, r)
			return
		}
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	p := &plan.Plan{Ops: []plan.Op{ddlOp("Extra", srv.URL+"/files/extra-2.1.jar", "2.1")}}

	res := Execute(context.Background(), p, Options{Root: root, Resolver: testResolver()})
	if !res.OK() {
		t.Fatalf("Execute failed: fatal=%v failures=%v", res.Fatal, res.Failures)
	}

	data, err := os.ReadFile(filepath.Join(root, "mods", "extra-2.1.jar"))
	if err != nil {
		t.Fatalf("installed file missing: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("content mismatch: %q", data)
	}

	rec, ok := res.Installed["mods/extra-2.1.jar"]
	if !ok {
		t.Fatalf("Installed=%v", res.Installed)
	}
	wantSum := sha256.Sum256(payload)
	if rec.SHA256 != hex.EncodeToString(wantSum[:]) || rec.Version != "2.1" {
		t.Fatalf("record=%+v", rec)
	}

	// No temp residue.
	if _, err := os.Stat(filepath.Join(root, "mods", "extra-2.1.jar"+tempSuffix)); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}

func TestExecute_DeleteTolerant(t *testing.T) {
	root := t.TempDir()
	present := filepath.Join(root, "mods", "old.jar")
	if err := os.MkdirAll(filepath.Dir(present), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(present, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &plan.Plan{Ops: []plan.Op{
		{Kind: plan.OpDelete, Path: "mods/gone-already.jar", Name: "mods/gone-already.jar"},
		{Kind: plan.OpDelete, Path: "mods/old.jar", Name: "mods/old.jar"},
	}}

	res := Execute(context.Background(), p, Options{Root: root, Resolver: testResolver()})
	if !res.OK() {
		t.Fatalf("Execute failed: fatal=%v", res.Fatal)
	}
	if len(res.Deleted) != 2 {
		t.Fatalf("Deleted=%v", res.Deleted)
	}
	if _, err := os.Stat(present); !os.IsNotExist(err) {
		t.Fatalf("tracked file not removed")
	}
}

func TestExecute_RejectsEscapingPaths(t *testing.T) {
	p := &plan.Plan{Ops: []plan.Op{
		{Kind: plan.OpDelete, Path: "../outside.txt", Name: "../outside.txt"},
	}}
	res := Execute(context.Background(), p, Options{Root: t.TempDir(), Resolver: testResolver()})
	if res.Fatal == nil {
		t.Fatalf("escape should be fatal")
	}
}

func TestExecute_FailedDownloadLeavesNoFinalFile(t *testing.T) {
	// Announce more bytes than we send so the transfer fails mid-flight.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		w.Write([]byte("short"))
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	p := &plan.Plan{Ops: []plan.Op{ddlOp("Broken", srv.URL+"/broken.jar", "1.0")}}

	res := Execute(context.Background(), p, Options{Root: root, Retries: 1, Resolver: testResolver()})
	if res.OK() {
		t.Fatalf("truncated download should fail")
	}
	if len(res.Failures) != 1 || res.Failures[0].Name != "Broken" {
		t.Fatalf("Failures=%v", res.Failures)
	}
	if _, err := os.Stat(filepath.Join(root, "mods", "broken.jar")); !os.IsNotExist(err) {
		t.Fatalf("partial download visible at final path")
	}
	if _, err := os.Stat(filepath.Join(root, "mods", "broken.jar"+tempSuffix)); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind after failed download")
	}
	if len(res.Installed) != 0 {
		t.Fatalf("Installed=%v", res.Installed)
	}
}

func TestExecute_UnsafeResolvedFilenameIsItemFailure(t *testing.T) {
	// A registry response controls the filename; a traversal in it must fail
	// that item without aborting the rest of the run.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/project/evil/version":
			w.Write([]byte(`[{"version_number": "1.0", "loaders": ["fabric"], "files": [
				{"url": "` + "http://" + r.Host + `/cdn/evil.jar", "filename": "../../evil.jar",
				 "primary": true, "hashes": {}}]}]`))
		case "/good.jar":
			w.Write([]byte("good"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	r := testResolver()
	r.Modrinth = &modrinth.Client{BaseURL: srv.URL, HTTPClient: srv.Client()}

	e := &manifest.Entry{
		Name: "Evil", Kind: manifest.KindMod,
		Source: manifest.SourceModrinth, Location: "evil", Version: "1.0",
	}
	p := &plan.Plan{Ops: []plan.Op{
		{Kind: plan.OpFetch, Path: e.Dir(), Entry: e, Identity: e.Identity(), Version: "1.0", Name: "Evil"},
		ddlOp("Good", srv.URL+"/good.jar", "1.0"),
	}}

	root := t.TempDir()
	res := Execute(context.Background(), p, Options{Root: root, Retries: 1, Resolver: r, Concurrency: 1})
	if res.Fatal != nil {
		t.Fatalf("hostile filename must not abort the run: %v", res.Fatal)
	}
	if len(res.Failures) != 1 || res.Failures[0].Name != "Evil" {
		t.Fatalf("Failures=%v", res.Failures)
	}
	var ie *IntegrityError
	if !errors.As(res.Failures[0].Err, &ie) {
		t.Fatalf("want IntegrityError, got %v", res.Failures[0].Err)
	}
	if _, ok := res.Installed["mods/good.jar"]; !ok {
		t.Fatalf("other items should still install: %v", res.Installed)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "evil.jar")); !os.IsNotExist(err) {
		t.Fatalf("filename escaped the pack root")
	}
}

func TestExecute_PartialFailureKeepsSuccesses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/good.jar":
			w.Write([]byte("good"))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	p := &plan.Plan{Ops: []plan.Op{
		ddlOp("Good", srv.URL+"/good.jar", "1.0"),
		ddlOp("Bad", srv.URL+"/bad.jar", "1.0"),
	}}

	res := Execute(context.Background(), p, Options{Root: root, Retries: 1, Resolver: testResolver()})
	if res.Fatal != nil {
		t.Fatalf("item failure must not be fatal: %v", res.Fatal)
	}
	if len(res.Failures) != 1 || res.Failures[0].Name != "Bad" {
		t.Fatalf("Failures=%v", res.Failures)
	}
	if _, ok := res.Installed["mods/good.jar"]; !ok {
		t.Fatalf("successful item should be recorded: %v", res.Installed)
	}
}

func TestExecute_SizeMismatchIsIntegrityError(t *testing.T) {
	payload := []byte("actual content")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/project/sodium/version":
			// Registry claims a different size than the CDN serves.
			w.Write([]byte(`[{"version_number": "1.0", "loaders": ["fabric"], "files": [
				{"url": "` + "http://" + r.Host + `/cdn/sodium.jar", "filename": "sodium.jar",
				 "primary": true, "size": 9999, "hashes": {}}]}]`))
		case "/cdn/sodium.jar":
			w.Write(payload)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	r := testResolver()
	r.Modrinth = &modrinth.Client{BaseURL: srv.URL, HTTPClient: srv.Client()}

	e := &manifest.Entry{
		Name: "Sodium", Kind: manifest.KindMod,
		Source: manifest.SourceModrinth, Location: "sodium", Version: "1.0",
	}
	p := &plan.Plan{Ops: []plan.Op{{
		Kind: plan.OpFetch, Path: e.Dir(), Entry: e,
		Identity: e.Identity(), Version: "1.0", Name: "Sodium",
	}}}

	root := t.TempDir()
	res := Execute(context.Background(), p, Options{Root: root, Retries: 3, Resolver: r})
	if res.OK() {
		t.Fatalf("size mismatch should fail")
	}
	var ie *IntegrityError
	if !errors.As(res.Failures[0].Err, &ie) {
		t.Fatalf("want IntegrityError, got %v", res.Failures[0].Err)
	}
	if _, err := os.Stat(filepath.Join(root, "mods", "sodium.jar")); !os.IsNotExist(err) {
		t.Fatalf("mismatched content visible at final path")
	}
}

func TestExecute_CopyLocal(t *testing.T) {
	src := t.TempDir()
	srcFile := filepath.Join(src, "options.txt")
	if err := os.WriteFile(srcFile, []byte("render:high"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := t.TempDir()
	sum := sha256.Sum256([]byte("render:high"))
	p := &plan.Plan{Ops: []plan.Op{{
		Kind:     plan.OpCopyLocal,
		Path:     "config/options.txt",
		Source:   srcFile,
		SHA256:   hex.EncodeToString(sum[:]),
		Identity: "include:config",
		Name:     "config/options.txt",
	}}}

	res := Execute(context.Background(), p, Options{Root: root, Resolver: testResolver()})
	if !res.OK() {
		t.Fatalf("Execute failed: %v %v", res.Fatal, res.Failures)
	}
	data, err := os.ReadFile(filepath.Join(root, "config", "options.txt"))
	if err != nil || string(data) != "render:high" {
		t.Fatalf("copied file: %q %v", data, err)
	}
	rec := res.Installed["config/options.txt"]
	if rec.Identity != "include:config" || rec.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("record=%+v", rec)
	}
}

type staticArchives map[string]string

func (s staticArchives) ArchiveURL(_ context.Context, featureID string) (string, error) {
	url, ok := s[featureID]
	if !ok {
		return "", errors.New("no archive for feature " + featureID)
	}
	return url, nil
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExecute_FetchArchive(t *testing.T) {
	archive := zipBytes(t, map[string]string{
		"config/settings.cfg": "a=1",
		"config/sub/deep.cfg": "b=2",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	p := &plan.Plan{Ops: []plan.Op{{
		Kind:      plan.OpFetchArchive,
		FeatureID: "default",
		Identity:  plan.ArchiveIdentity("default"),
		Version:   "1.2.0",
		Name:      "default.zip",
	}}}

	res := Execute(context.Background(), p, Options{
		Root:     root,
		Resolver: testResolver(),
		Archives: staticArchives{"default": srv.URL + "/default.zip"},
	})
	if !res.OK() {
		t.Fatalf("Execute failed: %v %v", res.Fatal, res.Failures)
	}

	data, err := os.ReadFile(filepath.Join(root, "config", "sub", "deep.cfg"))
	if err != nil || string(data) != "b=2" {
		t.Fatalf("extracted file: %q %v", data, err)
	}
	rec, ok := res.Installed["config/settings.cfg"]
	if !ok || rec.Identity != plan.ArchiveIdentity("default") || rec.Version != "1.2.0" {
		t.Fatalf("record=%+v installed=%v", rec, res.Installed)
	}

	// The archive temp file is gone.
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Name() != "config" {
			t.Fatalf("unexpected residue in root: %s", e.Name())
		}
	}
}

func TestExecute_ArchiveEscapeRejected(t *testing.T) {
	archive := zipBytes(t, map[string]string{"../evil.txt": "owned"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	p := &plan.Plan{Ops: []plan.Op{{
		Kind:      plan.OpFetchArchive,
		FeatureID: "default",
		Identity:  plan.ArchiveIdentity("default"),
		Version:   "1.0",
		Name:      "default.zip",
	}}}

	res := Execute(context.Background(), p, Options{
		Root:     root,
		Resolver: testResolver(),
		Archives: staticArchives{"default": srv.URL + "/default.zip"},
	})
	if res.OK() {
		t.Fatalf("escaping archive entry should fail")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(root), "evil.txt")); !os.IsNotExist(err) {
		t.Fatalf("archive escaped the pack root")
	}
}

func TestExecute_CleansStaleTemps(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "mods", "old.jar"+tempSuffix)
	staleArchive := filepath.Join(root, archiveTempPrefix+"123456")
	user := filepath.Join(root, "mods", "backup.part")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, path := range []string{stale, staleArchive, user} {
		if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	Execute(context.Background(), &plan.Plan{}, Options{Root: root, Resolver: testResolver()})
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("stale temp not cleaned")
	}
	if _, err := os.Stat(staleArchive); !os.IsNotExist(err) {
		t.Fatalf("stale archive temp not cleaned")
	}
	if _, err := os.Stat(user); err != nil {
		t.Fatalf("user file removed by temp cleanup: %v", err)
	}
}

func TestRetryable(t *testing.T) {
	if retryable(&IntegrityError{Name: "x", Reason: "sha1 mismatch"}) {
		t.Fatalf("integrity errors are deterministic")
	}
	if retryable(&FilesystemError{Op: "x", Err: errors.New("disk full")}) {
		t.Fatalf("filesystem errors are fatal, not retryable")
	}
	if retryable(context.Canceled) {
		t.Fatalf("cancellation is not retryable")
	}
	if retryable(modrinth.ErrVersionNotFound) {
		t.Fatalf("registry answers are definitive")
	}
	if !retryable(errors.New("connection reset")) {
		t.Fatalf("transient network errors should retry")
	}
}
