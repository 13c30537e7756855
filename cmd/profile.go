package cmd

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved option profiles",
}

// Flags for profile create
var (
	profPack        *string
	profRoot        *string
	profLauncher    *string
	profConcurrency *int
	profRetries     *int
	profVerbose     *bool
)

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := &profile.Profile{}

		if cmd.Flags().Changed("pack") {
			p.Pack = profPack
		}
		if cmd.Flags().Changed("root") {
			p.Root = profRoot
		}
		if cmd.Flags().Changed("launcher") {
			p.Launcher = profLauncher
		}
		if cmd.Flags().Changed("concurrency") {
			p.Concurrency = profConcurrency
		}
		if cmd.Flags().Changed("retries") {
			p.Retries = profRetries
		}
		if cmd.Flags().Changed("verbose") {
			p.Verbose = profVerbose
		}
		if cmd.Flags().Changed("log-file") {
			p.LogFile = &logFile
		}

		if err := profile.Save(args[0], p); err != nil {
			return err
		}
		logging.Infof("Profile %q saved to %s\n", args[0], profile.Dir())
		return nil
	},
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No profiles saved.")
			return nil
		}
		for _, n := range names {
			logging.Infoln(n)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile's contents",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return err
		}
		logging.Infof("%s", buf.String())
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Delete(args[0]); err != nil {
			return err
		}
		logging.Infof("Profile %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	// Local flag variables so create's flags don't collide with the
	// root/sync flags of the same name.
	profPack = profileCreateCmd.Flags().String("pack", "", "Pack reference: manifest path, URL, or owner/repo[@branch]")
	profRoot = profileCreateCmd.Flags().String("root", "", "Install directory override")
	profLauncher = profileCreateCmd.Flags().String("launcher", "", "Target launcher: vanilla, multimc, or multimc:<dir>")
	profConcurrency = profileCreateCmd.Flags().Int("concurrency", 6, "Number of concurrent downloads")
	profRetries = profileCreateCmd.Flags().Int("retries", 3, "Download retry attempts per item")
	profVerbose = profileCreateCmd.Flags().Bool("verbose", false, "Enable verbose logging")

	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileShowCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
