package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swattool/swattool-go/internal/config"
	"github.com/swattool/swattool-go/internal/gitarchive"
)

var archiveFlags struct {
	minAge time.Duration
}

var archiveCmd = &cobra.Command{
	Use:   "update-archive",
	Short: "Update the local poky-ci-archive mirror",
	RunE:  runArchive,
}

func init() {
	archiveCmd.Flags().DurationVar(&archiveFlags.minAge, "min-age", time.Hour, "Skip the fetch when the last one is younger than this")
}

func runArchive(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	archive := gitarchive.New(cfg.DataDir, log)
	if err := archive.Update(archiveFlags.minAge); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Archive up to date")
	return nil
}
