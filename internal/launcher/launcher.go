// Package launcher materializes a synced pack as a playable profile in a
// game launcher: a launcher_profiles.json entry for the vanilla launcher or
// an mmc-pack.json instance for MultiMC-style launchers.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/packsmith/packsmith/internal/manifest"
)

// Kind selects the launcher family a pack is installed for.
type Kind string

const (
	KindVanilla Kind = "vanilla"
	KindMultiMC Kind = "multimc"
)

// FabricMetaURL is the fabric loader metadata endpoint; a variable so tests
// can point it at a local server.
var FabricMetaURL = "https://meta.fabricmc.net/v2"

// Launcher is one resolved launcher installation.
type Launcher struct {
	Kind Kind
	// Dir is the launcher's data directory (.minecraft for vanilla, the
	// MultiMC root for MultiMC).
	Dir string
}

// Detect resolves a launcher spec: "vanilla", "multimc", or
// "multimc:<data-dir-name>" for renamed MultiMC distributions.
func Detect(spec string) (Launcher, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case spec == "" || spec == string(KindVanilla):
		dir, err := minecraftDir()
		if err != nil {
			return Launcher{}, err
		}
		return Launcher{Kind: KindVanilla, Dir: dir}, nil
	case spec == string(KindMultiMC) || strings.HasPrefix(spec, "multimc:"):
		name := strings.TrimPrefix(spec, "multimc")
		name = strings.TrimPrefix(name, ":")
		if name == "" {
			name = "MultiMC"
		}
		dir, err := appDataDir(name)
		if err != nil {
			return Launcher{}, err
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return Launcher{}, fmt.Errorf("MultiMC directory %s not found", dir)
		}
		return Launcher{Kind: KindMultiMC, Dir: dir}, nil
	default:
		return Launcher{}, fmt.Errorf("unknown launcher %q (want vanilla or multimc[:<dir>])", spec)
	}
}

// PackRoot returns the directory a pack installs into for this launcher.
// Roots are keyed by the pack UUID so renamed packs keep their install.
func (l Launcher) PackRoot(uuid string) string {
	switch l.Kind {
	case KindMultiMC:
		return filepath.Join(l.Dir, "instances", uuid, ".minecraft")
	default:
		return filepath.Join(l.Dir, ".packsmith", uuid)
	}
}

func minecraftDir() (string, error) {
	if runtime.GOOS == "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".minecraft"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	if runtime.GOOS == "darwin" {
		return filepath.Join(base, "minecraft"), nil
	}
	return filepath.Join(base, ".minecraft"), nil
}

func appDataDir(name string) (string, error) {
	if runtime.GOOS == "linux" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, name), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, name), nil
}

// WriteProfile registers the pack with the launcher. Only fabric packs are
// supported; the loader version id format is the fabric launcher convention.
func WriteProfile(ctx context.Context, client *http.Client, l Launcher, m *manifest.Manifest, packRoot string) error {
	if m.Loader.Type != "fabric" {
		return fmt.Errorf("unsupported loader %q: only fabric profiles can be written", m.Loader.Type)
	}
	switch l.Kind {
	case KindMultiMC:
		return writeMultiMCInstance(l.Dir, m)
	default:
		if err := installFabric(ctx, client, l.Dir, m.Loader); err != nil {
			return err
		}
		return writeVanillaProfile(l.Dir, m, packRoot)
	}
}

func fabricVersionID(loader manifest.Loader) string {
	return fmt.Sprintf("fabric-loader-%s-%s", loader.Version, loader.MinecraftVersion)
}

// installFabric fetches the fabric loader launch profile into versions/.
// The launcher only needs the JSON; the jar next to it stays empty.
func installFabric(ctx context.Context, client *http.Client, minecraftDir string, loader manifest.Loader) error {
	name := fabricVersionID(loader)
	dir := filepath.Join(minecraftDir, "versions", name)
	if _, err := os.Stat(filepath.Join(dir, name+".json")); err == nil {
		return nil
	}

	url := fmt.Sprintf("%s/versions/loader/%s/%s/profile/json", FabricMetaURL, loader.MinecraftVersion, loader.Version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching fabric profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching fabric profile: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading fabric profile: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating fabric version directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".json"), data, 0o644); err != nil {
		return fmt.Errorf("writing fabric profile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".jar"), nil, 0o644); err != nil {
		return fmt.Errorf("writing fabric placeholder jar: %w", err)
	}
	return nil
}

// writeVanillaProfile upserts the pack's entry in launcher_profiles.json.
// The file is decoded loosely so launcher settings we do not model survive
// the round trip.
func writeVanillaProfile(minecraftDir string, m *manifest.Manifest, packRoot string) error {
	path := filepath.Join(minecraftDir, "launcher_profiles.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading launcher_profiles.json: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing launcher_profiles.json: %w", err)
	}

	profiles, _ := doc["profiles"].(map[string]any)
	if profiles == nil {
		profiles = make(map[string]any)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	profiles[m.UUID] = map[string]any{
		"name":          m.Name,
		"type":          "custom",
		"icon":          "Furnace",
		"created":       now,
		"lastUsed":      now,
		"lastVersionId": fabricVersionID(m.Loader),
		"gameDir":       packRoot,
	}
	doc["profiles"] = profiles

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding launcher_profiles.json: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("writing launcher_profiles.json: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing launcher_profiles.json: %w", err)
	}
	return nil
}

type mmcComponent struct {
	UID            string `json:"uid"`
	Version        string `json:"version"`
	CachedVolatile bool   `json:"cachedVolatile,omitempty"`
	DependencyOnly bool   `json:"dependencyOnly,omitempty"`
	Important      bool   `json:"important,omitempty"`
}

type mmcPack struct {
	Components    []mmcComponent `json:"components"`
	FormatVersion int            `json:"formatVersion"`
}

// writeMultiMCInstance writes mmc-pack.json and instance.cfg; MultiMC
// launchers install the loader themselves from the component list.
func writeMultiMCInstance(mmcDir string, m *manifest.Manifest) error {
	instDir := filepath.Join(mmcDir, "instances", m.UUID)
	if err := os.MkdirAll(instDir, 0o755); err != nil {
		return fmt.Errorf("creating instance directory: %w", err)
	}

	pack := mmcPack{
		FormatVersion: 1,
		Components: []mmcComponent{
			{UID: "net.minecraft", Version: m.Loader.MinecraftVersion, Important: true},
			{UID: "net.fabricmc.intermediary", Version: m.Loader.MinecraftVersion, CachedVolatile: true, DependencyOnly: true},
			{UID: "net.fabricmc.fabric-loader", Version: m.Loader.Version},
		},
	}
	data, err := json.MarshalIndent(pack, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding mmc-pack.json: %w", err)
	}
	if err := os.WriteFile(filepath.Join(instDir, "mmc-pack.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing mmc-pack.json: %w", err)
	}

	cfg := fmt.Sprintf("InstanceType=OneSix\niconKey=default\nname=%s\n", m.Name)
	if err := os.WriteFile(filepath.Join(instDir, "instance.cfg"), []byte(cfg), 0o644); err != nil {
		return fmt.Errorf("writing instance.cfg: %w", err)
	}
	return nil
}
