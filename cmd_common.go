package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chunkinstall/core/config"
	"github.com/chunkinstall/core/manifest"
)

// loadConfigForInstall loads the saved config and overlays a specific
// install's directory, so CacheDir (and in turn the cached manifest path)
// resolve against that install rather than the configured default.
func loadConfigForInstall(installDir string) (config.Options, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Options{}, fmt.Errorf("loading config: %w", err)
	}
	return config.Merge(cfg, config.Options{DownloadDir: installDir}), nil
}

// loadManifest reads a manifest from a local path or, if source looks like
// a URL, fetches it over HTTP. Manifests are small relative to the chunk
// store they describe, so this is always read fully into memory. It
// returns the raw bytes alongside the parsed manifest so callers can cache
// them for a later update run.
func loadManifest(ctx context.Context, source string) (*manifest.Manifest, []byte, error) {
	var data []byte
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
		if err != nil {
			return nil, nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch manifest: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, nil, fmt.Errorf("fetch manifest: unexpected status %s", resp.Status)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch manifest: %w", err)
		}
	} else {
		var err error
		data, err = os.ReadFile(source)
		if err != nil {
			return nil, nil, fmt.Errorf("read manifest: %w", err)
		}
	}

	m, err := manifest.Read(data)
	if err != nil {
		return nil, nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, data, nil
}

// cacheManifestPath returns where a build's raw manifest bytes are cached
// for later diffing against an update's new manifest.
func cacheManifestPath(cacheDir string) string {
	return filepath.Join(cacheDir, "manifest.bin")
}

// cacheManifest persists a manifest's raw bytes under cacheDir so a
// subsequent update run can load the installed build's old manifest
// without re-fetching it from the chunk store.
func cacheManifest(cacheDir string, data []byte) error {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}
	return os.WriteFile(cacheManifestPath(cacheDir), data, 0o644)
}

// splitCommaList turns a "a,b,c" flag value into a trimmed, non-empty
// string slice, or nil when s is empty.
func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// formatBytes renders a byte count for terminal display.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
