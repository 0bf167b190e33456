package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mirror a project's Dropbox folder into the database",
		Long: `Run one sync for a project. The run resumes from the stored cursor
unless --full is given, and stops early when the per-run file cap is hit;
run it again to continue.

Only one run per connection happens at a time. A run that finds the
connection busy exits with an error instead of waiting.`,
		Args: cobra.NoArgs,
		RunE: runSync,
	}

	cmd.Flags().String("project", "", "project ID (required)")
	cmd.Flags().String("path", "", "Dropbox folder to sync (overrides the stored path)")
	cmd.Flags().Bool("full", false, "ignore the stored cursor and list from scratch")

	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)

	projectID, _ := cmd.Flags().GetString("project")
	path, _ := cmd.Flags().GetString("path")
	full, _ := cmd.Flags().GetBool("full")

	ctx := shutdownContext(cmd.Context(), logger)

	a, err := openApp(ctx, cfg, logger, cfg.RequireOAuth)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.sched.Run(ctx, sync.Request{
		ProjectID: projectID,
		Path:      path,
		FullSync:  full,
	})
	if err != nil {
		if report != nil {
			statusf(flagQuiet, "Sync stopped during %s after %d files\n", report.Phase, report.TotalProcessed)
		}

		return fmt.Errorf("syncing project %s: %w", projectID, err)
	}

	if flagJSON {
		return printSyncJSON(cmd.OutOrStdout(), report)
	}

	printSyncText(cmd.OutOrStdout(), report)

	return nil
}

// syncJSON is the machine-readable form of a sync report.
type syncJSON struct {
	FilesAdded     int    `json:"files_added"`
	FilesUpdated   int    `json:"files_updated"`
	FilesDeleted   int    `json:"files_deleted"`
	TotalProcessed int    `json:"total_processed"`
	SyncPath       string `json:"sync_path"`
	HasMore        bool   `json:"has_more"`
	Truncated      bool   `json:"truncated"`
	LogID          string `json:"log_id"`
	DurationMs     int64  `json:"duration_ms"`
}

func printSyncJSON(w io.Writer, r *sync.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(syncJSON{
		FilesAdded:     r.FilesAdded,
		FilesUpdated:   r.FilesUpdated,
		FilesDeleted:   r.FilesDeleted,
		TotalProcessed: r.TotalProcessed,
		SyncPath:       r.SyncPath,
		HasMore:        r.HasMore,
		Truncated:      r.Truncated,
		LogID:          r.LogID,
		DurationMs:     r.Duration.Milliseconds(),
	}); err != nil {
		return fmt.Errorf("encoding sync report: %w", err)
	}

	return nil
}

func printSyncText(w io.Writer, r *sync.Report) {
	fmt.Fprintf(w, "Synced %s in %s\n", r.SyncPath, r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  added:     %d\n", r.FilesAdded)
	fmt.Fprintf(w, "  updated:   %d\n", r.FilesUpdated)
	fmt.Fprintf(w, "  deleted:   %d\n", r.FilesDeleted)
	fmt.Fprintf(w, "  processed: %d\n", r.TotalProcessed)

	if r.Truncated || r.HasMore {
		fmt.Fprintln(w, "More changes remain; run sync again to continue.")
	}
}
