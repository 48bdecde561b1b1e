// Package config loads and persists the installer's configuration surface:
// directories, the chunk base URL, worker/memory limits, and the
// update/resume journal paths. It is a single JSON file under
// os.UserConfigDir(), loaded once and overlaid with CLI flag overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// testConfigDir overrides configDir during tests.
var testConfigDir string

// SetTestConfigDir overrides the configuration directory for testing. Pass
// an empty string to restore the default os.UserConfigDir()-based path.
func SetTestConfigDir(dir string) {
	testConfigDir = dir
}

func configDir() (string, error) {
	if testConfigDir != "" {
		return testConfigDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "chunkinstall"), nil
}

func configFile() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Options is the full configuration surface an install/update run reads
// from: the directories it writes into, the manifest's chunk source, and
// the resource limits bounding workers and the shared chunk pool.
type Options struct {
	// DownloadDir is the root the manifest's files are written under.
	DownloadDir string `json:"download_dir"`
	// CacheDir holds the resume journal and any cached manifests. Defaults
	// to DownloadDir/.cache when empty.
	CacheDir string `json:"cache_dir,omitempty"`
	// BaseURL is the chunk store's base URL; chunk object paths (manifest.ChunkInfo.Path)
	// are appended to it verbatim.
	BaseURL string `json:"base_url"`

	// MaxWorkers bounds concurrent download workers. Defaults to
	// min(2*runtime.NumCPU(), 16).
	MaxWorkers int `json:"max_workers,omitempty"`
	// DownloadTimeoutSeconds bounds a single chunk fetch attempt.
	DownloadTimeoutSeconds int `json:"dl_timeout,omitempty"`
	// MaxSharedMemoryBytes sizes the chunk pool's arena. Defaults to 1 GiB.
	MaxSharedMemoryBytes int64 `json:"max_shared_memory,omitempty"`
	// UpdateIntervalSeconds is the progress telemetry poll interval.
	UpdateIntervalSeconds int `json:"update_interval,omitempty"`

	// BindAddresses lists local addresses for outbound HTTP connections. It
	// is loaded, saved and merged, but the downloader does not read it:
	// connections are not bound to these addresses.
	BindAddresses []string `json:"bind_addresses,omitempty"`
	// ResumeJournalPath overrides the resume journal's location; defaults
	// to CacheDir/resume.journal when empty.
	ResumeJournalPath string `json:"resume_journal_path,omitempty"`
}

const (
	defaultMaxWorkersCap  = 16
	defaultMaxSharedMem   = 1 << 30 // 1 GiB
	defaultDLTimeout      = 30
	defaultUpdateInterval = 1
)

// Defaults returns an Options populated with documented defaults; callers
// normally load a saved file and then call Options.applyDefaults to fill
// in anything the file omitted.
func Defaults() Options {
	return Options{
		MaxWorkers:             defaultMaxWorkers(),
		DownloadTimeoutSeconds: defaultDLTimeout,
		MaxSharedMemoryBytes:   defaultMaxSharedMem,
		UpdateIntervalSeconds:  defaultUpdateInterval,
	}
}

func defaultMaxWorkers() int {
	n := 2 * runtime.NumCPU()
	if n > defaultMaxWorkersCap {
		return defaultMaxWorkersCap
	}
	if n < 1 {
		return 1
	}
	return n
}

// applyDefaults fills any zero-valued field with its documented default.
func (o *Options) applyDefaults() {
	if o.MaxWorkers == 0 {
		o.MaxWorkers = defaultMaxWorkers()
	}
	if o.DownloadTimeoutSeconds == 0 {
		o.DownloadTimeoutSeconds = defaultDLTimeout
	}
	if o.MaxSharedMemoryBytes == 0 {
		o.MaxSharedMemoryBytes = defaultMaxSharedMem
	}
	if o.UpdateIntervalSeconds == 0 {
		o.UpdateIntervalSeconds = defaultUpdateInterval
	}
	if o.CacheDir == "" && o.DownloadDir != "" {
		o.CacheDir = filepath.Join(o.DownloadDir, ".cache")
	}
	if o.ResumeJournalPath == "" && o.CacheDir != "" {
		o.ResumeJournalPath = filepath.Join(o.CacheDir, "resume.journal")
	}
}

// DownloadTimeout returns DownloadTimeoutSeconds as a time.Duration.
func (o Options) DownloadTimeout() time.Duration {
	return time.Duration(o.DownloadTimeoutSeconds) * time.Second
}

// UpdateInterval returns UpdateIntervalSeconds as a time.Duration.
func (o Options) UpdateInterval() time.Duration {
	return time.Duration(o.UpdateIntervalSeconds) * time.Second
}

// Load reads the saved configuration file, applying defaults to any field
// it omits. A missing file yields Defaults() rather than an error.
func Load() (Options, error) {
	path, err := configFile()
	if err != nil {
		return Options{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			o := Defaults()
			return o, nil
		}
		return Options{}, err
	}

	var o Options
	if err := json.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	o.applyDefaults()
	return o, nil
}

// Save persists o to the configuration file, creating its parent directory
// if necessary.
func Save(o Options) error {
	path, err := configFile()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Merge overlays non-zero fields of override onto base, then applies
// defaults to anything still unset. It is used to apply CLI flag overrides
// on top of a loaded or default configuration.
func Merge(base, override Options) Options {
	merged := base
	if override.DownloadDir != "" {
		merged.DownloadDir = override.DownloadDir
	}
	if override.CacheDir != "" {
		merged.CacheDir = override.CacheDir
	}
	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	if override.MaxWorkers != 0 {
		merged.MaxWorkers = override.MaxWorkers
	}
	if override.DownloadTimeoutSeconds != 0 {
		merged.DownloadTimeoutSeconds = override.DownloadTimeoutSeconds
	}
	if override.MaxSharedMemoryBytes != 0 {
		merged.MaxSharedMemoryBytes = override.MaxSharedMemoryBytes
	}
	if override.UpdateIntervalSeconds != 0 {
		merged.UpdateIntervalSeconds = override.UpdateIntervalSeconds
	}
	if len(override.BindAddresses) > 0 {
		merged.BindAddresses = override.BindAddresses
	}
	if override.ResumeJournalPath != "" {
		merged.ResumeJournalPath = override.ResumeJournalPath
	}
	merged.applyDefaults()
	return merged
}
