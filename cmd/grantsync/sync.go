package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mkoziy/grants/syncer/internal/ledger"
	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
)

func syncCommand() *cobra.Command {
	var (
		force     bool
		sourceURL string
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync and print the result as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig(cmd)
			logger := commonRun(cfg)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			res, runErr := a.syncer.Run(cmd.Context(), pipeline.Options{
				Trigger:   models.TriggerCLI,
				Force:     force,
				SourceURL: sourceURL,
			})
			var running *ledger.AlreadyRunningError
			if errors.As(runErr, &running) {
				return fmt.Errorf("%w (file %q, started %s)", runErr, running.FileName, running.StartedAt.Format("2006-01-02 15:04:05 MST"))
			}
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "process the extract even if it was already synced")
	cmd.Flags().StringVar(&sourceURL, "url", "", "explicit extract URL instead of the newest published one")
	return cmd
}
