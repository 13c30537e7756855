package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/profile"
	"github.com/spf13/cobra"
)

var (
	packRef      string
	rootDir      string
	launcherSpec string
	profileName  string
	verbose      bool
	logFile      string
)

var rootCmd = &cobra.Command{
	Use:           "packsmith",
	Short:         "Manifest-driven Minecraft modpack installer",
	Long:          "Install and update Minecraft modpacks from a versioned manifest, keeping the local instance in sync with mods, shaderpacks, resourcepacks, and pack files.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Apply profile defaults for flags not explicitly set by the user.
		if profileName != "" {
			p, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			if p.Pack != nil && !cmd.Flags().Changed("pack") {
				packRef = *p.Pack
			}
			if p.Root != nil && !cmd.Flags().Changed("root") {
				rootDir = *p.Root
			}
			if p.Launcher != nil && !cmd.Flags().Changed("launcher") {
				launcherSpec = *p.Launcher
			}
			if p.Concurrency != nil && !cmd.Flags().Changed("concurrency") {
				concurrency = *p.Concurrency
			}
			if p.Retries != nil && !cmd.Flags().Changed("retries") {
				retries = *p.Retries
			}
			if p.Verbose != nil && !cmd.Flags().Changed("verbose") {
				verbose = *p.Verbose
			}
			if p.LogFile != nil && !cmd.Flags().Changed("log-file") {
				logFile = *p.LogFile
			}
		}

		logging.SetVerbose(verbose)
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&packRef, "pack", "p", "", "Pack to operate on: manifest path, URL, or owner/repo[@branch]")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "Install into this directory instead of a launcher-managed one")
	rootCmd.PersistentFlags().StringVar(&launcherSpec, "launcher", "vanilla", "Target launcher: vanilla, multimc, or multimc:<dir>")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
}

func requirePack() error {
	if packRef == "" {
		return wrapUsageError(errors.New("no pack given: set --pack or use a profile"))
	}
	return nil
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
