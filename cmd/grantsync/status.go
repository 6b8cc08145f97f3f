package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mkoziy/grants/syncer/internal/models"
	"github.com/mkoziy/grants/syncer/internal/pipeline"
)

func statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored opportunity counts and recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustConfig(cmd)
			logger := commonRun(cfg)

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.syncer.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
}

func printStatus(w io.Writer, st *pipeline.Status) {
	fmt.Fprintf(w, "Opportunities: %d stored, %d active\n", st.TotalOpportunities, st.ActiveOpportunities)

	if st.Live != nil {
		fmt.Fprintf(w, "Live run:      %s %s (%s, started %s ago)\n",
			color.New(color.FgYellow).Sprint("RUNNING"),
			st.Live.RunID,
			displayFile(st.Live.FileName),
			st.Live.Age(st.CheckedAt).Truncate(time.Second),
		)
	} else {
		fmt.Fprintf(w, "Live run:      %s\n", color.New(color.FgHiBlack).Sprint("none"))
	}

	if st.LastSuccess != nil {
		fmt.Fprintf(w, "Last success:  %s (%s)\n",
			st.LastSuccess.StartedAt.Format(time.RFC3339),
			displayFile(st.LastSuccess.FileName),
		)
	} else {
		fmt.Fprintf(w, "Last success:  %s\n", color.New(color.FgRed).Sprint("never"))
	}

	if len(st.Recent) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Recent runs:")
	for _, run := range st.Recent {
		line := fmt.Sprintf("  %s  %s  %-9s %-32s +%d -%d ~%d",
			statusLabel(run.Status),
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Trigger,
			displayFile(run.FileName),
			run.RecordsProcessed,
			run.RecordsDeleted,
			run.RecordsSkipped,
		)
		if run.ErrorMessage != nil {
			line += "  " + color.New(color.FgRed).Sprint(*run.ErrorMessage)
		}
		fmt.Fprintln(w, line)
	}
}

func statusLabel(s models.SyncStatus) string {
	switch s {
	case models.SyncSuccess:
		return color.New(color.FgGreen).Sprint("OK     ")
	case models.SyncFailed:
		return color.New(color.FgRed).Sprint("FAILED ")
	default:
		return color.New(color.FgYellow).Sprint("RUNNING")
	}
}

func displayFile(name string) string {
	if name == "" {
		return "(unresolved)"
	}
	return name
}
