package main

import (
	"context"
	"fmt"

	"github.com/chunkinstall/core/launch"
	"github.com/chunkinstall/core/logger"
	"github.com/chunkinstall/core/state"
	"github.com/spf13/cobra"
)

func newLaunchCmd() *cobra.Command {
	var (
		exeName    string
		dryRun     bool
		list       bool
		winePath   string
		winePrefix string
		noWine     bool
	)

	cmd := &cobra.Command{
		Use:   "launch <build-id> [-- args...]",
		Short: "Launch an installed build",
		Long: `Launch an installed build by its build ID.

If multiple executables are found, you can specify which one with --exe.
Use --list to see all available executables.
Any arguments after -- are passed to the launched process.

For Windows builds on macOS/Linux, Wine is used automatically if available.
Use --wine to specify a custom Wine path, or --no-wine to disable Wine.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			buildID := args[0]

			var launchArgs []string
			if cmd.ArgsLenAtDash() > 0 {
				launchArgs = args[cmd.ArgsLenAtDash():]
			}

			installed, err := state.Get(buildID)
			if err != nil {
				return fmt.Errorf("checking install state: %w", err)
			}
			if installed == nil {
				return fmt.Errorf("%s is not installed", buildID)
			}

			platform := launch.DetectPlatform(installed.InstallPath, installed.LaunchExe)

			executables, err := launch.FindExecutables(installed.InstallPath, platform)
			if err != nil {
				return fmt.Errorf("failed to find executables: %w", err)
			}
			if len(executables) == 0 {
				return fmt.Errorf("no executables found in %s", installed.InstallPath)
			}

			if list {
				fmt.Printf("Executables for %s:\n\n", installed.AppName)
				for i, exe := range executables {
					fmt.Printf("  %d. %s\n", i+1, exe.Name)
					fmt.Printf("     %s\n", exe.Path)
				}
				return nil
			}

			var exe *launch.Executable
			if exeName != "" {
				exe, err = launch.SelectExecutable(executables, exeName)
				if err != nil {
					return err
				}
			} else if installed.LaunchExe != "" {
				exe, err = launch.SelectExecutable(executables, installed.LaunchExe)
				if err != nil {
					exe = &executables[0]
				}
			} else {
				exe = &executables[0]
				if len(executables) > 1 {
					logger.Info("multiple executables found, using first", "exe", exe.Name)
					logger.Info("use --list to see all, --exe <name> to specify another")
				}
			}

			if len(launchArgs) == 0 && installed.LaunchCommand != "" {
				launchArgs = splitCommaList(installed.LaunchCommand)
			}

			logger.Info("launching", "name", exe.Name, "path", exe.Path)
			if len(launchArgs) > 0 {
				logger.Debug("launch arguments", "args", launchArgs)
			}

			if dryRun {
				logger.Info("dry-run mode, not launching")
				return nil
			}

			launchOpts := &launch.Options{
				WinePath:   winePath,
				WinePrefix: winePrefix,
				NoWine:     noWine,
			}
			if err := launch.Game(cmd.Context(), exe.Path, platform, launchArgs, launchOpts); err != nil {
				if err == context.Canceled {
					return nil
				}
				return fmt.Errorf("failed to launch: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&exeName, "exe", "", "Name of the executable to launch (if multiple found)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be launched without actually launching")
	cmd.Flags().BoolVarP(&list, "list", "l", false, "List all available executables")
	cmd.Flags().StringVar(&winePath, "wine", "", "Path to Wine executable (for Windows builds on macOS/Linux)")
	cmd.Flags().StringVar(&winePrefix, "wine-prefix", "", "WINEPREFIX to use (optional)")
	cmd.Flags().BoolVar(&noWine, "no-wine", false, "Disable Wine even for Windows executables")

	return cmd
}
