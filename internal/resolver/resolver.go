// Package resolver turns a manifest entry's declared source into a concrete
// fetch descriptor. The set of sources is closed by the manifest schema, so
// dispatch is a switch with one resolution path per source kind.
package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/packsmith/packsmith/internal/modrinth"
	"github.com/packsmith/packsmith/internal/optifine"
)

// Descriptor is everything the execution engine needs to fetch one entry.
type Descriptor struct {
	URL      string
	Filename string
	Version  string
	// Size and SHA1 are hints for integrity checking; zero/empty when the
	// source does not publish them.
	Size int64
	SHA1 string
}

// ResolutionError wraps a per-entry resolution failure with the entry name
// so failures can be reported against named items.
type ResolutionError struct {
	Name string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.Name, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver resolves entries against the pack's configured loader.
type Resolver struct {
	Modrinth   *modrinth.Client
	HTTPClient *http.Client
	Loader     manifest.Loader
}

// New returns a resolver using the public providers.
func New(loader manifest.Loader) *Resolver {
	return &Resolver{
		Modrinth:   modrinth.NewClient(),
		HTTPClient: http.DefaultClient,
		Loader:     loader,
	}
}

// Resolve produces the fetch descriptor for an entry. Network I/O only; no
// filesystem or state mutation.
func (r *Resolver) Resolve(ctx context.Context, e manifest.Entry) (Descriptor, error) {
	switch e.Source {
	case manifest.SourceModrinth:
		return r.resolveModrinth(ctx, e)
	case manifest.SourceDirect:
		return resolveDirect(e)
	case manifest.SourceOptifine:
		return r.resolveOptifine(ctx, e)
	default:
		return Descriptor{}, &ResolutionError{Name: e.Name, Err: fmt.Errorf("unsupported source %q", e.Source)}
	}
}

func (r *Resolver) resolveModrinth(ctx context.Context, e manifest.Entry) (Descriptor, error) {
	shaderpack := e.Kind == manifest.KindShaderpack
	_, file, err := r.Modrinth.ResolveVersion(ctx, e.Location, e.Version, r.Loader.Type, shaderpack)
	if err != nil {
		return Descriptor{}, &ResolutionError{Name: e.Name, Err: err}
	}
	return Descriptor{
		URL:      file.URL,
		Filename: file.Filename,
		Version:  e.Version,
		Size:     file.Size,
		SHA1:     file.Hashes.SHA1,
	}, nil
}

// resolveDirect uses the location verbatim. The version label is opaque and
// only drives change detection; it is never checked against the remote
// content.
func resolveDirect(e manifest.Entry) (Descriptor, error) {
	name := path.Base(e.Location)
	if u, err := url.Parse(e.Location); err == nil && u.Path != "" {
		name = path.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		return Descriptor{}, &ResolutionError{Name: e.Name, Err: fmt.Errorf("cannot derive a file name from %q", e.Location)}
	}
	return Descriptor{URL: e.Location, Filename: name, Version: e.Version}, nil
}

func (r *Resolver) resolveOptifine(ctx context.Context, e manifest.Entry) (Descriptor, error) {
	u, err := optifine.ResolveURL(ctx, r.HTTPClient, e.Location)
	if err != nil {
		return Descriptor{}, &ResolutionError{Name: e.Name, Err: err}
	}
	return Descriptor{URL: u, Filename: e.Location, Version: e.Version}, nil
}
