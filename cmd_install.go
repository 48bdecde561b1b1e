package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chunkinstall/core/config"
	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/state"
	"github.com/spf13/cobra"
)

func newInstallCmd() *cobra.Command {
	var (
		baseURL      string
		installDir   string
		workers      int
		maxMemory    int64
		dlTimeout    int
		prefix       string
		exclude      string
		excludeGlob  string
		installTags  string
		noResume     bool
		infoOnly     bool
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "install <manifest>",
		Short: "Install a build from its manifest",
		Long: `Install a build described by a manifest file or URL into a local
directory, downloading and reassembling chunks from the chunk store at
--base-url.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			m, rawManifest, err := loadManifest(ctx, args[0])
			if err != nil {
				return err
			}

			buildID := m.Meta.BuildID()
			if existing, err := state.Get(buildID); err == nil && existing != nil && !infoOnly {
				logger.Info("build already installed", "app", m.Meta.AppName, "version", m.Meta.BuildVersion, "path", existing.InstallPath)
				logger.Info("run 'verify' to check file integrity, or 'uninstall' first to reinstall")
				return nil
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			override := config.Options{
				DownloadDir:            installDir,
				BaseURL:                baseURL,
				MaxWorkers:             workers,
				DownloadTimeoutSeconds: dlTimeout,
				MaxSharedMemoryBytes:   maxMemory,
			}
			cfg = config.Merge(cfg, override)
			if cfg.BaseURL == "" {
				return fmt.Errorf("--base-url is required (no chunk store configured)")
			}
			if cfg.DownloadDir == "" {
				cfg = config.Merge(cfg, config.Options{
					DownloadDir: filepath.Join(defaultInstallBasePath(), buildID),
				})
			}

			opts := planner.Options{
				ProcessingOptimization: true,
				Resume:                 !noResume,
				ResumeJournalPath:      cfg.ResumeJournalPath,
				InstallDir:             cfg.DownloadDir,
				SharedMemorySize:       cfg.MaxSharedMemoryBytes,
				FilePrefixFilter:       splitCommaList(prefix),
				FileExcludeFilter:      splitCommaList(exclude),
				FileExcludeConfigured:  splitCommaList(excludeGlob),
			}
			if tags := splitCommaList(installTags); tags != nil {
				opts.FileInstallTag = make(map[string]bool, len(tags))
				for _, t := range tags {
					opts.FileInstallTag[t] = true
				}
			}

			result, err := planner.Plan(m, nil, opts)
			if err != nil {
				var insufficient *planner.ErrInsufficientSharedMemory
				if errors.As(err, &insufficient) {
					return fmt.Errorf("%w (pass --max-memory %d)", insufficient, insufficient.Suggested)
				}
				return fmt.Errorf("planning install: %w", err)
			}

			logger.Info("installing",
				"app", m.Meta.AppName,
				"version", m.Meta.BuildVersion,
				"download_size", result.DownloadSize,
				"files", len(m.Files))

			if infoOnly {
				printPlanInfo(result)
				return nil
			}

			if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
				return fmt.Errorf("creating install dir: %w", err)
			}

			if err := runPlan(ctx, cfg, m, result, verbose); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			if err := state.Add(buildID, &state.InstallInfo{
				InstallPath:   cfg.DownloadDir,
				AppName:       m.Meta.AppName,
				BuildVersion:  m.Meta.BuildVersion,
				BuildID:       buildID,
				LaunchExe:     m.Meta.LaunchExe,
				LaunchCommand: m.Meta.LaunchCommand,
			}); err != nil {
				logger.Warn("failed to record install state", "error", err)
			}

			if err := cacheManifest(cfg.CacheDir, rawManifest); err != nil {
				logger.Warn("failed to cache manifest for future updates", "error", err)
			}

			logger.Info("installation complete", "path", cfg.DownloadDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL of the chunk store")
	cmd.Flags().StringVar(&installDir, "install-dir", "", "Directory to install into")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of parallel download workers (default: min(2*CPUs, 16))")
	cmd.Flags().Int64Var(&maxMemory, "max-memory", 0, "Maximum shared chunk pool size in bytes (default: 1 GiB)")
	cmd.Flags().IntVar(&dlTimeout, "dl-timeout", 0, "Per-chunk download timeout in seconds (default: 30)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Comma-separated install-path prefixes to include")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma-separated install-path prefixes to exclude")
	cmd.Flags().StringVar(&excludeGlob, "exclude-glob", "", "Comma-separated glob patterns to exclude")
	cmd.Flags().StringVar(&installTags, "tags", "", "Comma-separated install tags to include")
	cmd.Flags().BoolVar(&noResume, "no-resume", false, "Ignore any existing resume journal")
	cmd.Flags().BoolVarP(&infoOnly, "info", "i", false, "Show install info without installing")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show per-run summary statistics")

	return cmd
}

func printPlanInfo(result *planner.Result) {
	fmt.Printf("Download size:     %s\n", formatBytes(result.DownloadSize))
	fmt.Printf("Reused from disk:  %s\n", formatBytes(result.ReuseSize))
	fmt.Printf("Install size:      %s\n", formatBytes(result.InstallSize))
	if result.DiskSpaceDelta >= 0 {
		fmt.Printf("Disk space needed: +%s\n", formatBytes(result.DiskSpaceDelta))
	} else {
		fmt.Printf("Disk space freed:  %s\n", formatBytes(-result.DiskSpaceDelta))
	}
}

func newUninstallCmd() *cobra.Command {
	var keepFiles bool

	cmd := &cobra.Command{
		Use:   "uninstall <build-id>",
		Short: "Uninstall a build",
		Long: `Remove an installed build from this machine. The build ID is the one
reported by 'info' or recorded at install time.

By default, this removes both the game files and the configuration entry.
Use --keep-files to only remove the configuration entry without deleting files.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			buildID := args[0]

			info, err := state.Get(buildID)
			if err != nil {
				return fmt.Errorf("checking install state: %w", err)
			}
			if info == nil {
				return fmt.Errorf("%s is not installed", buildID)
			}

			logger.Info("uninstalling", "app", info.AppName, "version", info.BuildVersion)

			if !keepFiles {
				logger.Info("removing files", "path", info.InstallPath)
				if err := os.RemoveAll(info.InstallPath); err != nil {
					return fmt.Errorf("removing install files: %w", err)
				}
			}

			if err := state.Remove(buildID); err != nil {
				return fmt.Errorf("updating install state: %w", err)
			}

			logger.Info("uninstall complete", "build_id", buildID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Keep installed files, only remove from state")
	return cmd
}
