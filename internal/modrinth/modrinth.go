// Package modrinth is a minimal client for the parts of the Modrinth API the
// installer needs: listing a project's published versions and picking the one
// a manifest entry pins.
package modrinth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

const DefaultBaseURL = "https://api.modrinth.com/v2"

// UserAgent identifies the installer to the API, as Modrinth requests.
const UserAgent = "packsmith/1.0 (github.com/packsmith/packsmith)"

var (
	// ErrProjectNotFound means the slug does not exist on the registry.
	ErrProjectNotFound = errors.New("project not found")
	// ErrVersionNotFound means the project exists but has no published
	// version matching the pinned label.
	ErrVersionNotFound = errors.New("version not found")
	// ErrLoaderMismatch means the pinned version exists but none of its
	// publications target the configured loader.
	ErrLoaderMismatch = errors.New("version exists but targets a different loader")
)

// File is one downloadable artifact of a version.
type File struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Primary  bool   `json:"primary"`
	Size     int64  `json:"size"`
	Hashes   struct {
		SHA1   string `json:"sha1"`
		SHA512 string `json:"sha512"`
	} `json:"hashes"`
}

// Version is the subset of Modrinth's version object the resolver needs.
type Version struct {
	VersionNumber string   `json:"version_number"`
	GameVersions  []string `json:"game_versions"`
	Loaders       []string `json:"loaders"`
	Files         []File   `json:"files"`
}

// Client talks to one Modrinth-compatible endpoint.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client against the public Modrinth API.
func NewClient() *Client {
	return &Client{BaseURL: DefaultBaseURL, HTTPClient: http.DefaultClient}
}

// Versions lists a project's published versions.
func (c *Client) Versions(ctx context.Context, slug string) ([]Version, error) {
	url := fmt.Sprintf("%s/project/%s/version", c.BaseURL, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching versions for %q: %w", slug, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("project %q: %w", slug, ErrProjectNotFound)
	default:
		return nil, fmt.Errorf("fetching versions for %q: HTTP %d", slug, resp.StatusCode)
	}

	var versions []Version
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("parsing versions for %q: %w", slug, err)
	}
	return versions, nil
}

// ResolveVersion finds the published version matching the pinned label for
// the given loader type. Shaderpacks are exempt from the loader check since
// shader loaders are not modeled as Modrinth loaders consistently.
// Loader "minecraft" marks loader-independent content and always matches.
func (c *Client) ResolveVersion(ctx context.Context, slug, version, loaderType string, shaderpack bool) (*Version, *File, error) {
	versions, err := c.Versions(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	versionSeen := false
	for i := range versions {
		v := &versions[i]
		if v.VersionNumber != version {
			continue
		}
		versionSeen = true
		if !shaderpack && !loaderOK(v.Loaders, loaderType) {
			continue
		}
		f := primaryFile(v.Files)
		if f == nil {
			return nil, nil, fmt.Errorf("project %q version %q has no files", slug, version)
		}
		return v, f, nil
	}

	if versionSeen {
		return nil, nil, fmt.Errorf("project %q version %q for loader %q: %w", slug, version, loaderType, ErrLoaderMismatch)
	}
	return nil, nil, fmt.Errorf("project %q version %q: %w", slug, version, ErrVersionNotFound)
}

func loaderOK(loaders []string, loaderType string) bool {
	for _, l := range loaders {
		if l == loaderType || l == "minecraft" {
			return true
		}
	}
	return false
}

func primaryFile(files []File) *File {
	for i := range files {
		if files[i].Primary {
			return &files[i]
		}
	}
	if len(files) > 0 {
		return &files[0]
	}
	return nil
}
