package main

import (
	"fmt"

	"github.com/chunkinstall/core/state"
	"github.com/spf13/cobra"
)

func newInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <manifest>",
		Short: "Show information about a manifest",
		Long: `Display the application name, build version, launch command, and file
totals described by a manifest, along with whether it is currently
installed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true
			ctx := cmd.Context()

			m, _, err := loadManifest(ctx, args[0])
			if err != nil {
				return err
			}

			buildID := m.Meta.BuildID()

			fmt.Printf("App:           %s\n", m.Meta.AppName)
			fmt.Printf("Version:       %s\n", m.Meta.BuildVersion)
			fmt.Printf("Build ID:      %s\n", buildID)
			fmt.Printf("Feature level: %d\n", m.FeatureLevel)
			fmt.Printf("Data version:  %d\n", m.DataVersion)

			launchExe := m.Meta.LaunchExe
			if launchExe == "" {
				launchExe = "None"
			}
			launchCmd := m.Meta.LaunchCommand
			if launchCmd == "" {
				launchCmd = "None"
			}
			fmt.Printf("Launch exe:    %s\n", launchExe)
			fmt.Printf("Launch args:   %s\n", launchCmd)

			var totalSize int64
			var fileCount int
			for _, f := range m.Files {
				if f.IsEmpty() {
					continue
				}
				fileCount++
				totalSize += f.FileSize()
			}
			fmt.Printf("\nFiles:         %d\n", fileCount)
			fmt.Printf("Install size:  %s\n", formatBytes(totalSize))
			fmt.Printf("Chunks:        %d\n", len(m.ChunksByGUID))

			fmt.Println()
			installed, err := state.Get(buildID)
			if err != nil {
				return fmt.Errorf("checking install state: %w", err)
			}
			if installed != nil {
				fmt.Printf("Installed:     yes, at %s\n", installed.InstallPath)
			} else {
				fmt.Println("Installed:     no")
			}

			return nil
		},
	}

	return cmd
}
