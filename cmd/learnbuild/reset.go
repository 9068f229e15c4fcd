package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/asdfhub/learnbuild/internal/syncstore"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear all locally cached progress",
	Long:  "Clears the local cache, including any queued writes. Remote data is untouched.",
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			fmt.Println("This deletes all local progress data. Re-run with --yes to confirm.")
			return nil
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cache, err := syncstore.OpenCache(cfg.CachePath, cfg.CachePrefix)
		if err != nil {
			return err
		}
		defer cache.Close()
		if err := cache.Clear(); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Println("Local cache cleared.")
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "Skip the confirmation prompt")
}
