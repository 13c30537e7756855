// Package github fetches pack manifests and include archives from
// GitHub-hosted modpack repositories.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// APIBase and RawBase are variables so tests can point the client at a
	// local server.
	APIBase = "https://api.github.com"
	RawBase = "https://raw.githubusercontent.com"
)

// ErrReleaseNotFound means the repository has no release tagged with the
// requested pack version.
var ErrReleaseNotFound = errors.New("release not found")

// Repo addresses one modpack repository and branch.
type Repo struct {
	Owner  string
	Name   string
	Branch string // empty means the repository default branch
}

func (r Repo) String() string {
	if r.Branch == "" {
		return r.Owner + "/" + r.Name
	}
	return r.Owner + "/" + r.Name + "@" + r.Branch
}

// ParseRef parses an "owner/repo" or "owner/repo@branch" pack reference.
func ParseRef(ref string) (Repo, error) {
	ref = strings.TrimSpace(ref)
	var branch string
	if at := strings.IndexByte(ref, '@'); at >= 0 {
		branch = ref[at+1:]
		ref = ref[:at]
	}
	parts := strings.Split(strings.Trim(ref, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("invalid pack reference %q (want owner/repo[@branch])", ref)
	}
	return Repo{Owner: parts[0], Name: parts[1], Branch: branch}, nil
}

// Release is the subset of GitHub's release API response we need.
type Release struct {
	TagName string         `json:"tag_name"`
	Assets  []ReleaseAsset `json:"assets"`
}

// ReleaseAsset is one downloadable file attached to a release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Client talks to GitHub for one pack repository.
type Client struct {
	HTTPClient *http.Client
}

// NewClient returns a client using the default HTTP client.
func NewClient() *Client {
	return &Client{HTTPClient: http.DefaultClient}
}

// ResolveBranch fills in the repository's default branch when the reference
// did not name one.
func (c *Client) ResolveBranch(ctx context.Context, repo Repo) (Repo, error) {
	if repo.Branch != "" {
		return repo, nil
	}
	var info struct {
		DefaultBranch string `json:"default_branch"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s", APIBase, repo.Owner, repo.Name)
	if err := c.getJSON(ctx, url, &info); err != nil {
		return Repo{}, fmt.Errorf("resolving default branch for %s: %w", repo, err)
	}
	repo.Branch = info.DefaultBranch
	return repo, nil
}

// FetchManifest downloads the raw manifest.json from the pack branch.
func (c *Client) FetchManifest(ctx context.Context, repo Repo) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/%s/manifest.json", RawBase, repo.Owner, repo.Name, repo.Branch)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching manifest for %s: %w", repo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching manifest for %s: HTTP %d", repo, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading manifest for %s: %w", repo, err)
	}
	return data, nil
}

// ReleaseByTag finds the release carrying a pack version's include archives.
func (c *Client) ReleaseByTag(ctx context.Context, repo Repo, tag string) (*Release, error) {
	var rel Release
	url := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", APIBase, repo.Owner, repo.Name, tag)
	if err := c.getJSON(ctx, url, &rel); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, fmt.Errorf("%s tag %q: %w", repo, tag, ErrReleaseNotFound)
		}
		return nil, fmt.Errorf("fetching release %q for %s: %w", tag, repo, err)
	}
	return &rel, nil
}

// ArchiveURL returns the download URL of the include archive for a feature,
// an asset named "<feature-id>.zip" on the release tagged with the pack
// version.
func (c *Client) ArchiveURL(ctx context.Context, repo Repo, tag, featureID string) (string, error) {
	rel, err := c.ReleaseByTag(ctx, repo, tag)
	if err != nil {
		return "", err
	}
	want := featureID + ".zip"
	for _, asset := range rel.Assets {
		if strings.TrimSpace(asset.Name) == want {
			return asset.BrowserDownloadURL, nil
		}
	}
	return "", fmt.Errorf("release %q of %s has no asset %q", tag, repo, want)
}

var errNotFound = errors.New("HTTP 404")

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return errNotFound
	default:
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
