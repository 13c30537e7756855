package modrinth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const sodiumVersions = `[
  {
    "version_number": "0.6.0",
    "game_versions": ["1.21"],
    "loaders": ["fabric"],
    "files": [
      {"url": "https://cdn.example/sodium-0.6.0.jar", "filename": "sodium-0.6.0.jar", "primary": true, "size": 100,
       "hashes": {"sha1": "aaaa", "sha512": "bbbb"}}
    ]
  },
  {
    "version_number": "0.5.8",
    "game_versions": ["1.21"],
    "loaders": ["fabric", "quilt"],
    "files": [
      {"url": "https://cdn.example/sodium-0.5.8-sources.jar", "filename": "sodium-0.5.8-sources.jar", "primary": false, "size": 50,
       "hashes": {"sha1": "cccc", "sha512": "dddd"}},
      {"url": "https://cdn.example/sodium-0.5.8.jar", "filename": "sodium-0.5.8.jar", "primary": true, "size": 90,
       "hashes": {"sha1": "eeee", "sha512": "ffff"}}
    ]
  },
  {
    "version_number": "0.5.0",
    "game_versions": ["1.20"],
    "loaders": ["forge"],
    "files": [
      {"url": "https://cdn.example/sodium-0.5.0.jar", "filename": "sodium-0.5.0.jar", "primary": true, "size": 80,
       "hashes": {"sha1": "1111", "sha512": "2222"}}
    ]
  }
]`

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &Client{BaseURL: srv.URL, HTTPClient: srv.Client()}
}

func TestResolveVersion(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/project/sodium/version" {
			http.NotFound(w, r)
			return
		}
		if ua := r.Header.Get("User-Agent"); ua != UserAgent {
			t.Errorf("User-Agent=%q", ua)
		}
		w.Write([]byte(sodiumVersions))
	})

	t.Run("picks pinned version and primary file", func(t *testing.T) {
		v, f, err := c.ResolveVersion(context.Background(), "sodium", "0.5.8", "fabric", false)
		if err != nil {
			t.Fatalf("ResolveVersion: %v", err)
		}
		if v.VersionNumber != "0.5.8" {
			t.Fatalf("version=%q", v.VersionNumber)
		}
		if f.Filename != "sodium-0.5.8.jar" || f.Hashes.SHA1 != "eeee" {
			t.Fatalf("file=%+v", f)
		}
	})

	t.Run("version not published", func(t *testing.T) {
		_, _, err := c.ResolveVersion(context.Background(), "sodium", "9.9.9", "fabric", false)
		if !errors.Is(err, ErrVersionNotFound) {
			t.Fatalf("want ErrVersionNotFound, got %v", err)
		}
	})

	t.Run("version exists under a different loader", func(t *testing.T) {
		_, _, err := c.ResolveVersion(context.Background(), "sodium", "0.5.0", "fabric", false)
		if !errors.Is(err, ErrLoaderMismatch) {
			t.Fatalf("want ErrLoaderMismatch, got %v", err)
		}
	})

	t.Run("shaderpacks skip the loader check", func(t *testing.T) {
		_, f, err := c.ResolveVersion(context.Background(), "sodium", "0.5.0", "fabric", true)
		if err != nil {
			t.Fatalf("ResolveVersion: %v", err)
		}
		if f.Filename != "sodium-0.5.0.jar" {
			t.Fatalf("file=%+v", f)
		}
	})
}

func TestResolveVersion_LoaderIndependentContent(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"version_number": "1.0", "loaders": ["minecraft"],
			"files": [{"url": "u", "filename": "pack.zip", "primary": true}]}]`))
	})

	_, f, err := c.ResolveVersion(context.Background(), "some-pack", "1.0", "fabric", false)
	if err != nil {
		t.Fatalf("loader-independent content should match any loader: %v", err)
	}
	if f.Filename != "pack.zip" {
		t.Fatalf("file=%+v", f)
	}
}

func TestVersions_ProjectNotFound(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := c.Versions(context.Background(), "no-such-slug")
	if !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("want ErrProjectNotFound, got %v", err)
	}
}

func TestVersions_ServerError(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Versions(context.Background(), "sodium")
	if err == nil || errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("server errors must not read as not-found: %v", err)
	}
}

func TestPrimaryFile_FallsBackToFirst(t *testing.T) {
	files := []File{{Filename: "a.jar"}, {Filename: "b.jar"}}
	if f := primaryFile(files); f == nil || f.Filename != "a.jar" {
		t.Fatalf("primaryFile=%+v", f)
	}
	if f := primaryFile(nil); f != nil {
		t.Fatalf("primaryFile(nil)=%+v", f)
	}
}
