package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/asdfhub/learnbuild/internal/config"
	"github.com/asdfhub/learnbuild/internal/learnbuild"
	"github.com/asdfhub/learnbuild/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:   "learnbuild",
	Short: "Gamified learning progress tracker",
	Long:  "LearnBuild tracks quests, modules, and XP across learning tracks, with offline-first sync.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := newSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.Close()

		d := sys.Dashboard()
		fmt.Printf("%s  •  Level %d %s  •  %d XP\n", d.User, d.Profile.Level, d.Profile.Rank.Title, d.Profile.TotalXP)
		fmt.Printf("%s %d/%d XP to level %d\n",
			progressBar(d.Profile.Percent, 24), d.Profile.XPIntoLevel, d.Profile.XPForNextLevel, d.Profile.Level+1)
		fmt.Printf("Streak: %d day(s)", d.Profile.Streak)
		if d.Profile.StreakBonus > 0 {
			fmt.Printf(" (+%.0f%% XP)", d.Profile.StreakBonus*100)
		}
		fmt.Println()
		fmt.Printf("Quests: %d/%d completed, %d in progress, %d available\n",
			d.Quests.Completed, d.Quests.Total, d.Quests.InProgress, d.Quests.Available)
		for _, tp := range d.Tracks {
			fmt.Printf("  %-10s %s %d/%d modules\n", tp.Track, progressBar(tp.Percent, 16), tp.Completed, tp.Total)
		}
		if d.Pending > 0 {
			fmt.Printf("Sync: %d write(s) pending\n", d.Pending)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("cache", "", "Path to local cache file (overrides LEARNBUILD_CACHE)")
	rootCmd.PersistentFlags().String("user", "", "Active user id (overrides LEARNBUILD_USER)")

	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if p, _ := cmd.Flags().GetString("cache"); p != "" {
		cfg.CachePath = p
	}
	if u, _ := cmd.Flags().GetString("user"); u != "" {
		cfg.UserID = u
	}
	return cfg, nil
}

func newSystem(cmd *cobra.Command) (*learnbuild.System, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, err
	}
	return learnbuild.New(cmd.Context(), cfg, log)
}

// progressBar renders a fixed-width bar for a 0-100 percentage.
func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}
