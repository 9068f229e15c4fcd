package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show XP, streak, and per-track progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := newSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.Close()

		p := sys.XP.Profile()
		fmt.Printf("User:    %s\n", p.UserID)
		fmt.Printf("Level:   %d (%s)\n", p.Level, p.Rank.Title)
		fmt.Printf("XP:      %d total, %d/%d into level\n", p.TotalXP, p.XPIntoLevel, p.XPForNextLevel)
		fmt.Printf("Today:   %d/%d XP\n", p.TodayXP, p.DailyCap)
		fmt.Printf("Streak:  %d day(s), +%.1f%% bonus\n", p.Streak, p.StreakBonus*100)

		fmt.Println("\nTracks:")
		for _, t := range sys.Modules.Tracks() {
			tp := sys.Modules.TrackProgress(t)
			fmt.Printf("  %-10s %3.0f%% (%d/%d modules)\n", tp.Track, tp.Percent, tp.Completed, tp.Total)
		}

		qs := sys.Quests.ProgressSummary()
		fmt.Printf("\nQuests:  %d/%d completed (%.0f%%), %d in progress, %d available, %d failed\n",
			qs.Completed, qs.Total, qs.Percent, qs.InProgress, qs.Available, qs.Failed)

		if history := sys.XP.History(); len(history) > 0 {
			fmt.Println("\nRecent XP:")
			start := len(history) - 5
			if start < 0 {
				start = 0
			}
			for _, e := range history[start:] {
				fmt.Printf("  %s  +%d (%s", e.Timestamp.Format("2006-01-02 15:04"), e.Amount, e.Source)
				if e.SourceID != "" {
					fmt.Printf(" %s", e.SourceID)
				}
				fmt.Println(")")
			}
		}
		return nil
	},
}
