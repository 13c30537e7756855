package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/packsmith/packsmith/internal/github"
)

// Source is a loaded pack: the raw manifest document plus where it came
// from, which decides how includes are materialized.
type Source struct {
	Data []byte
	// LocalDir is set when the pack is a local checkout; includes are copied
	// from it.
	LocalDir string
	// Repo is set when the pack is GitHub-hosted; includes come from release
	// archives.
	Repo   github.Repo
	IsRepo bool
}

// loadPack resolves a pack reference: a local manifest path, a direct
// manifest URL, or an owner/repo[@branch] GitHub reference.
func loadPack(ctx context.Context, ref string, gh *github.Client, httpClient *http.Client) (*Source, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("no pack specified")
	}

	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		data, err := fetchManifestURL(ctx, httpClient, ref)
		if err != nil {
			return nil, err
		}
		return &Source{Data: data}, nil
	}

	if info, err := os.Stat(ref); err == nil {
		path := ref
		if info.IsDir() {
			path = filepath.Join(ref, "manifest.json")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		return &Source{Data: data, LocalDir: filepath.Dir(path)}, nil
	}

	repo, err := github.ParseRef(ref)
	if err != nil {
		return nil, fmt.Errorf("pack %q is not a file, URL, or repository reference", ref)
	}
	repo, err = gh.ResolveBranch(ctx, repo)
	if err != nil {
		return nil, err
	}
	data, err := gh.FetchManifest(ctx, repo)
	if err != nil {
		return nil, err
	}
	return &Source{Data: data, Repo: repo, IsRepo: true}, nil
}

func fetchManifestURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching manifest: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return data, nil
}

// githubArchives adapts the pack repository to the executor's archive
// source: include archives are assets on the release tagged with the pack
// version.
type githubArchives struct {
	client *github.Client
	repo   github.Repo
	tag    string
}

func (g *githubArchives) ArchiveURL(ctx context.Context, featureID string) (string, error) {
	return g.client.ArchiveURL(ctx, g.repo, g.tag, featureID)
}
