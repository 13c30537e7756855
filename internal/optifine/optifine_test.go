package optifine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const downloadPage = `<!DOCTYPE html>
<html><body>
<div id="content">
  <span id="Download">
    <a href="downloadx?f=OptiFine_1.21_HD_U_J1.jar&x=abc123">Download</a>
  </span>
</div>
</body></html>`

func serve(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	old := BaseURL
	BaseURL = srv.URL
	t.Cleanup(func() { BaseURL = old })
}

func TestResolveURL(t *testing.T) {
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/adloadx" || r.URL.Query().Get("f") != "OptiFine_1.21_HD_U_J1.jar" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(downloadPage))
	})

	got, err := ResolveURL(context.Background(), http.DefaultClient, "OptiFine_1.21_HD_U_J1.jar")
	if err != nil {
		t.Fatalf("ResolveURL: %v", err)
	}
	want := BaseURL + "/downloadx?f=OptiFine_1.21_HD_U_J1.jar&x=abc123"
	if got != want {
		t.Fatalf("ResolveURL=%q, want %q", got, want)
	}
}

func TestResolveURL_LayoutChanged(t *testing.T) {
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>no link here</p></body></html>`))
	})

	if _, err := ResolveURL(context.Background(), http.DefaultClient, "OptiFine.jar"); err == nil {
		t.Fatalf("missing download anchor should be an error")
	}
}

func TestResolveURL_PageError(t *testing.T) {
	serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	if _, err := ResolveURL(context.Background(), http.DefaultClient, "OptiFine.jar"); err == nil {
		t.Fatalf("HTTP error should propagate")
	}
}
