package main

import (
	"fmt"

	"github.com/chunkinstall/core/state"
	"github.com/chunkinstall/core/verify"
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var (
		verboseFlag bool
		workers     int
	)

	cmd := &cobra.Command{
		Use:   "verify <build-id>",
		Short: "Verify file integrity for an installed build",
		Long: `Verify the integrity of an installed build by re-hashing every file on
disk against the SHA-1 digests recorded in its manifest. This catches
corruption or partial writes a prior install or update left behind.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()
			buildID := args[0]

			installed, err := state.Get(buildID)
			if err != nil {
				return fmt.Errorf("checking install state: %w", err)
			}
			if installed == nil {
				return fmt.Errorf("%s is not installed", buildID)
			}

			cfg, err := loadConfigForInstall(installed.InstallPath)
			if err != nil {
				return err
			}

			m, _, err := loadManifest(ctx, cacheManifestPath(cfg.CacheDir))
			if err != nil {
				return fmt.Errorf("loading cached manifest for %s: %w", buildID, err)
			}

			fmt.Printf("Verifying %s (v%s) at %s...\n", installed.AppName, installed.BuildVersion, installed.InstallPath)

			valid, results, err := verify.Installation(installed.InstallPath, m, verify.Options{
				Verbose:    verboseFlag,
				MaxWorkers: workers,
			})
			if err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}

			var failed []verify.Result
			for _, r := range results {
				if !r.Valid {
					failed = append(failed, r)
				}
			}

			fmt.Printf("\nVerified %d files\n", len(results))
			if valid {
				fmt.Printf("%s passed verification.\n", installed.AppName)
				return nil
			}

			fmt.Printf("\n%d files failed verification:\n", len(failed))
			for _, r := range failed {
				if r.Error != nil {
					fmt.Printf("  %s: %v\n", r.FileName, r.Error)
				} else {
					fmt.Printf("  %s: hash mismatch\n", r.FileName)
				}
			}
			fmt.Printf("\nRun 'uninstall %s' and then 'install <manifest>' to replace corrupted files; 'update' skips a build that is already installed.\n", buildID)
			return fmt.Errorf("verification failed")
		},
	}

	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "Show progress for each file")
	cmd.Flags().IntVar(&workers, "workers", 0, "Number of parallel hashing workers (default: number of CPUs)")

	return cmd
}
