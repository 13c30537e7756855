// Package optifine resolves OptiFine downloads by scraping the adloadx
// landing page for the real file link. OptiFine has no API; the page layout
// is the contract, so a missing link means the layout changed.
package optifine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// BaseURL is a variable so tests can point the scraper at a local server.
var BaseURL = "https://optifine.net"

var downloadSel = cascadia.MustCompile("#Download > a")

// PageURL returns the landing page for a given OptiFine file name.
func PageURL(file string) string {
	return fmt.Sprintf("%s/adloadx?f=%s", BaseURL, url.QueryEscape(file))
}

// ResolveURL scrapes the landing page for file and returns the direct
// download URL.
func ResolveURL(ctx context.Context, client *http.Client, file string) (string, error) {
	pageURL := PageURL(file)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching download page for %q: %w", file, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching download page for %q: HTTP %d", file, resp.StatusCode)
	}

	// Don't parse pages larger than 1MiB.
	root, err := html.Parse(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return "", fmt.Errorf("parsing download page for %q: %w", file, err)
	}

	n := downloadSel.MatchFirst(root)
	if n == nil || n.Type != html.ElementNode || n.Data != "a" {
		return "", fmt.Errorf("download link not found on page for %q (page layout changed?)", file)
	}
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == "href" {
			return fmt.Sprintf("%s/%s", BaseURL, attr.Val), nil
		}
	}
	return "", fmt.Errorf("download link for %q has no href (page layout changed?)", file)
}
