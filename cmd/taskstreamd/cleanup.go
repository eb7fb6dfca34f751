package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opendeepresearch/taskstream/internal/app"
	"github.com/opendeepresearch/taskstream/internal/config"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "run the retention sweep once and exit",
	RunE:  runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	container, err := app.New(cfg, logger, nil)
	if err != nil {
		return err
	}

	deleted, err := container.Retention.RunOnce(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("deleted %d tasks older than %d days\n", deleted, cfg.Retention.OlderThanDays)
	return nil
}
