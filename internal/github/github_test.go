package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseRef(t *testing.T) {
	tests := []struct {
		ref     string
		want    Repo
		wantErr bool
	}{
		{ref: "acme/winter-pack", want: Repo{Owner: "acme", Name: "winter-pack"}},
		{ref: "acme/winter-pack@dev", want: Repo{Owner: "acme", Name: "winter-pack", Branch: "dev"}},
		{ref: " acme/winter-pack ", want: Repo{Owner: "acme", Name: "winter-pack"}},
		{ref: "just-a-name", wantErr: true},
		{ref: "a/b/c", wantErr: true},
		{ref: "/missing-owner", wantErr: true},
		{ref: "@branch-only", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseRef(tt.ref)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseRef(%q) should fail", tt.ref)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRef(%q): %v", tt.ref, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRef(%q)=%+v, want %+v", tt.ref, got, tt.want)
		}
	}
}

func TestRepoString(t *testing.T) {
	if s := (Repo{Owner: "a", Name: "b"}).String(); s != "a/b" {
		t.Fatalf("String=%q", s)
	}
	if s := (Repo{Owner: "a", Name: "b", Branch: "dev"}).String(); s != "a/b@dev" {
		t.Fatalf("String=%q", s)
	}
}

func pointAt(t *testing.T, srv *httptest.Server) {
	t.Helper()
	oldAPI, oldRaw := APIBase, RawBase
	APIBase, RawBase = srv.URL, srv.URL
	t.Cleanup(func() { APIBase, RawBase = oldAPI, oldRaw })
}

func TestResolveBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/pack" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"default_branch": "main"}`))
	}))
	t.Cleanup(srv.Close)
	pointAt(t, srv)

	c := NewClient()
	repo, err := c.ResolveBranch(context.Background(), Repo{Owner: "acme", Name: "pack"})
	if err != nil {
		t.Fatalf("ResolveBranch: %v", err)
	}
	if repo.Branch != "main" {
		t.Fatalf("Branch=%q", repo.Branch)
	}

	// An explicit branch is never overridden.
	repo, err = c.ResolveBranch(context.Background(), Repo{Owner: "x", Name: "y", Branch: "dev"})
	if err != nil || repo.Branch != "dev" {
		t.Fatalf("explicit branch: %+v %v", repo, err)
	}
}

func TestFetchManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/acme/pack/main/manifest.json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"manifest_version": 3}`))
	}))
	t.Cleanup(srv.Close)
	pointAt(t, srv)

	data, err := NewClient().FetchManifest(context.Background(), Repo{Owner: "acme", Name: "pack", Branch: "main"})
	if err != nil {
		t.Fatalf("FetchManifest: %v", err)
	}
	if string(data) != `{"manifest_version": 3}` {
		t.Fatalf("data=%q", data)
	}
}

func TestArchiveURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/pack/releases/tags/1.2.0":
			w.Write([]byte(`{"tag_name": "1.2.0", "assets": [
				{"name": "default.zip", "browser_download_url": "https://dl.example/default.zip"},
				{"name": "shaders.zip", "browser_download_url": "https://dl.example/shaders.zip"}
			]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	pointAt(t, srv)

	c := NewClient()
	repo := Repo{Owner: "acme", Name: "pack", Branch: "main"}

	url, err := c.ArchiveURL(context.Background(), repo, "1.2.0", "shaders")
	if err != nil {
		t.Fatalf("ArchiveURL: %v", err)
	}
	if url != "https://dl.example/shaders.zip" {
		t.Fatalf("url=%q", url)
	}

	if _, err := c.ArchiveURL(context.Background(), repo, "1.2.0", "nope"); err == nil {
		t.Fatalf("missing asset should fail")
	}

	_, err = c.ArchiveURL(context.Background(), repo, "9.9.9", "default")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("want ErrReleaseNotFound, got %v", err)
	}
}
