package cmd

import (
	"context"
	"errors"

	"github.com/packsmith/packsmith/internal/installer"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/manifest"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that a pack manifest is well-formed",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePack(); err != nil {
			return err
		}

		m, err := installer.Validate(context.Background(), packRef)
		if err != nil {
			var ve *manifest.ValidationError
			if errors.As(err, &ve) {
				logging.Infof("Manifest has %d problem(s):\n", len(ve.Problems))
				for _, p := range ve.Problems {
					logging.Infof("  - %s\n", p)
				}
			}
			return err
		}

		logging.Infof("%s %s: OK\n", m.Name, m.ModpackVersion)
		logging.Infof("  loader: %s %s (minecraft %s)\n", m.Loader.Type, m.Loader.Version, m.Loader.MinecraftVersion)
		logging.Infof("  %d mods, %d shaderpacks, %d resourcepacks, %d includes, %d features\n",
			len(m.Mods), len(m.Shaderpacks), len(m.Resourcepacks), len(m.Include), len(m.Features))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
