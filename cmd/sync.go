package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/packsmith/packsmith/internal/installer"
	"github.com/packsmith/packsmith/internal/logging"
	"github.com/packsmith/packsmith/internal/progress"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	syncFeatures      []string
	syncEnable        []string
	syncDisable       []string
	concurrency       int
	retries           int
	dryRun            bool
	force             bool
	noLauncherProfile bool
	noProgress        bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Install or update a pack so the local files match its manifest",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePack(); err != nil {
			return err
		}

		events := make(chan progress.Event, 64)
		rendered := make(chan struct{})
		if noProgress || dryRun || verbose {
			// Bar output interleaves badly with per-item log lines.
			go drainEvents(events, rendered)
		} else {
			go renderEvents(events, rendered)
		}

		opts := installer.Options{
			Pack:              packRef,
			Root:              rootDir,
			Launcher:          launcherSpec,
			Features:          syncFeatures,
			Enable:            syncEnable,
			Disable:           syncDisable,
			Concurrency:       concurrency,
			Retries:           retries,
			DryRun:            dryRun,
			Force:             force,
			NoLauncherProfile: noLauncherProfile,
			Events:            events,
		}

		result, err := installer.Sync(context.Background(), opts)
		close(events)
		<-rendered
		if err != nil {
			if result != nil {
				for _, f := range result.Failures {
					fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", f.Name, f.Err)
				}
			}
			return err
		}

		if result.UpToDate || result.DryRun {
			return nil
		}

		if result.OldVersion == "" {
			logging.Infof("\nInstalled %s %s\n", result.PackName, result.NewVersion)
		} else {
			logging.Infof("\nSync complete: %s %s → %s\n", result.PackName, result.OldVersion, result.NewVersion)
		}
		logging.Infof("  %d added, %d removed, %d updated, %d unchanged\n",
			result.Added, result.Removed, result.Updated, result.Unchanged)
		logging.Infof("  Features: %s\n", joinStrings(result.Features))
		return nil
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncFeatures, "features", nil, "Replace the enabled feature set (the default feature stays on)")
	syncCmd.Flags().StringSliceVar(&syncEnable, "enable", nil, "Enable additional features for this and future runs")
	syncCmd.Flags().StringSliceVar(&syncDisable, "disable", nil, "Disable features for this and future runs")
	syncCmd.Flags().IntVar(&concurrency, "concurrency", 6, "Number of concurrent downloads")
	syncCmd.Flags().IntVar(&retries, "retries", 3, "Download retry attempts per item")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would change without modifying anything")
	syncCmd.Flags().BoolVar(&force, "force", false, "Reinstall every item even if already up to date")
	syncCmd.Flags().BoolVar(&noLauncherProfile, "no-launcher-profile", false, "Skip writing the launcher profile after a successful sync")
	syncCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	rootCmd.AddCommand(syncCmd)
}

// renderEvents drives a single bar over plan items, describing the item
// currently in flight. Closes done when the event channel closes.
func renderEvents(events <-chan progress.Event, done chan<- struct{}) {
	defer close(done)

	var bar *progressbar.ProgressBar
	for ev := range events {
		if ev.Phase == progress.PhaseDone {
			continue
		}
		if bar == nil && ev.Total > 0 {
			bar = progressbar.NewOptions(ev.Total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("syncing"),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionSetRenderBlankState(true),
			)
		}
		if bar == nil {
			continue
		}
		if ev.Item != "" {
			bar.Describe(fmt.Sprintf("%-10s %s", ev.Phase, ev.Item))
		}
		_ = bar.Set(ev.Completed)
	}
	if bar != nil {
		_ = bar.Finish()
	}
}

func drainEvents(events <-chan progress.Event, done chan<- struct{}) {
	defer close(done)
	for range events {
	}
}

func joinStrings(s []string) string {
	if len(s) == 0 {
		return "(none)"
	}
	result := s[0]
	for _, v := range s[1:] {
		result += ", " + v
	}
	return result
}
