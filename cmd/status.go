package cmd

import (
	"context"

	"github.com/packsmith/packsmith/internal/installer"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed state of a pack and whether an update is available",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePack(); err != nil {
			return err
		}

		rep, err := installer.Status(context.Background(), packRef, rootDir, launcherSpec)
		if err != nil {
			return err
		}

		logging.Infof("%s\n", rep.PackName)
		if !rep.Installed {
			logging.Infof("  not installed (manifest version %s)\n", rep.ManifestVersion)
			return nil
		}

		logging.Infof("  installed: %s (%d files)\n", rep.InstalledVersion, rep.FileCount)
		logging.Infof("  features:  %s\n", joinStrings(rep.Features))
		switch {
		case rep.UpdateAvailable:
			logging.Infof("  update available: %s\n", rep.ManifestVersion)
		case rep.Downgrade:
			logging.Infof("  manifest version %s is older than installed\n", rep.ManifestVersion)
		default:
			logging.Infoln("  up to date")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
