package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/chunkinstall/core/config"
	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/planner"
	"github.com/chunkinstall/core/state"
	"github.com/spf13/cobra"
)

func newUpdateCmd() *cobra.Command {
	var (
		workers   int
		maxMemory int64
		dlTimeout int
		infoOnly  bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "update <build-id> <new-manifest>",
		Short: "Update an installed build to a new manifest",
		Long: `Update a previously installed build in place. build-id identifies the
currently installed build (as reported by 'info' or recorded at install
time); new-manifest is the path or URL of the manifest to update to.

Only chunks that changed between the old and new manifest are downloaded;
unchanged file regions are reused from disk.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			buildID, newSource := args[0], args[1]

			installed, err := state.Get(buildID)
			if err != nil {
				return fmt.Errorf("checking install state: %w", err)
			}
			if installed == nil {
				return fmt.Errorf("%s is not installed", buildID)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = config.Merge(cfg, config.Options{
				DownloadDir:            installed.InstallPath,
				MaxWorkers:             workers,
				DownloadTimeoutSeconds: dlTimeout,
				MaxSharedMemoryBytes:   maxMemory,
			})
			if cfg.BaseURL == "" {
				return fmt.Errorf("no chunk store configured: set base_url in the config file")
			}

			oldManifest, _, err := loadManifest(ctx, cacheManifestPath(cfg.CacheDir))
			if err != nil {
				logger.Warn("no cached manifest for the installed build, patching against an empty baseline", "error", err)
				oldManifest = nil
			}

			newManifest, rawManifest, err := loadManifest(ctx, newSource)
			if err != nil {
				return err
			}

			newBuildID := newManifest.Meta.BuildID()
			if !infoOnly && newBuildID == buildID {
				logger.Info("already up to date", "app", installed.AppName, "version", installed.BuildVersion)
				return nil
			}

			opts := planner.Options{
				Patch:                  true,
				ProcessingOptimization: true,
				Resume:                 true,
				ResumeJournalPath:      cfg.ResumeJournalPath,
				InstallDir:             cfg.DownloadDir,
				SharedMemorySize:       cfg.MaxSharedMemoryBytes,
			}

			result, err := planner.Plan(newManifest, oldManifest, opts)
			if err != nil {
				var insufficient *planner.ErrInsufficientSharedMemory
				if errors.As(err, &insufficient) {
					return fmt.Errorf("%w (pass --max-memory %d)", insufficient, insufficient.Suggested)
				}
				return fmt.Errorf("planning update: %w", err)
			}

			logger.Info("updating",
				"app", installed.AppName,
				"from", installed.BuildVersion,
				"to", newManifest.Meta.BuildVersion,
				"download_size", result.DownloadSize)

			if infoOnly {
				printPlanInfo(result)
				return nil
			}

			if err := runPlan(ctx, cfg, newManifest, result, verbose); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}

			if buildID != newBuildID {
				if err := state.Remove(buildID); err != nil {
					logger.Warn("failed to clear old install state", "error", err)
				}
			}
			if err := state.Add(newBuildID, &state.InstallInfo{
				InstallPath:   cfg.DownloadDir,
				AppName:       newManifest.Meta.AppName,
				BuildVersion:  newManifest.Meta.BuildVersion,
				BuildID:       newBuildID,
				LaunchExe:     newManifest.Meta.LaunchExe,
				LaunchCommand: newManifest.Meta.LaunchCommand,
			}); err != nil {
				logger.Warn("failed to record install state", "error", err)
			}

			if err := cacheManifest(cfg.CacheDir, rawManifest); err != nil {
				logger.Warn("failed to cache manifest for future updates", "error", err)
			}

			logger.Info("update complete", "path", cfg.DownloadDir, "build_id", newBuildID)
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "Number of parallel download workers (default: min(2*CPUs, 16))")
	cmd.Flags().Int64Var(&maxMemory, "max-memory", 0, "Maximum shared chunk pool size in bytes (default: 1 GiB)")
	cmd.Flags().IntVar(&dlTimeout, "dl-timeout", 0, "Per-chunk download timeout in seconds (default: 30)")
	cmd.Flags().BoolVarP(&infoOnly, "info", "i", false, "Show update info without applying it")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "Show per-run summary statistics")

	return cmd
}
