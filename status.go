package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/vault"
)

const defaultStatusLimit = 10

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a project's Dropbox connection and recent sync runs",
		Long: `Display which connection serves a project and its most recent sync logs.

Reads only the database; no secrets or network access are needed. Token
material is never printed.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}

	cmd.Flags().String("project", "", "project ID (required)")
	cmd.Flags().Int("limit", defaultStatusLimit, "number of sync logs to show")

	_ = cmd.MarkFlagRequired("project")

	return cmd
}

// statusOutput is the JSON shape of the status command.
type statusOutput struct {
	ProjectID  string            `json:"project_id"`
	OrgID      string            `json:"org_id"`
	Connected  bool              `json:"connected"`
	Connection *statusConnection `json:"connection,omitempty"`
	Logs       []store.SyncLog   `json:"logs"`
}

type statusConnection struct {
	ID           string    `json:"id"`
	Scope        string    `json:"scope"`
	AccountID    string    `json:"account_id,omitempty"`
	SyncPath     string    `json:"sync_path,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at,omitzero"`
	ExpiresAt    time.Time `json:"token_expires_at,omitzero"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	projectID, _ := cmd.Flags().GetString("project")

	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	project, err := st.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project %s: %w", projectID, err)
	}

	candidates, err := st.ScopeConnections(ctx, project.OrgID, project.ID)
	if err != nil {
		return err
	}

	logs, err := st.ListSyncLogs(ctx, project.ID, limit)
	if err != nil {
		return err
	}

	out := statusOutput{
		ProjectID: project.ID,
		OrgID:     project.OrgID,
		Logs:      logs,
	}

	if out.Logs == nil {
		out.Logs = []store.SyncLog{}
	}

	if conn := vault.ResolveConnection(candidates, project.OrgID, project.ID); conn != nil {
		out.Connected = true
		out.Connection = &statusConnection{
			ID:           conn.ID,
			Scope:        connectionScope(conn),
			AccountID:    conn.AccountID,
			SyncPath:     conn.SyncPath,
			LastSyncedAt: conn.LastSyncedAt,
			ExpiresAt:    conn.TokenExpiresAt,
		}
	}

	if flagJSON {
		return printStatusJSON(cmd.OutOrStdout(), out)
	}

	printStatusText(cmd.OutOrStdout(), out)

	return nil
}

func connectionScope(c *store.Connection) string {
	if c.ProjectID != "" {
		return "project"
	}

	return "org"
}

func printStatusJSON(w io.Writer, out statusOutput) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}

	return nil
}

func printStatusText(w io.Writer, out statusOutput) {
	fmt.Fprintf(w, "Project %s (org %s)\n", out.ProjectID, out.OrgID)

	if c := out.Connection; c != nil {
		fmt.Fprintf(w, "  Connection: %s (%s scope)\n", c.ID, c.Scope)

		if c.SyncPath != "" {
			fmt.Fprintf(w, "  Sync path:  %s\n", c.SyncPath)
		}

		if !c.LastSyncedAt.IsZero() {
			fmt.Fprintf(w, "  Last sync:  %s\n", formatTime(c.LastSyncedAt))
		}
	} else {
		fmt.Fprintln(w, "  Not connected to Dropbox")
	}

	if len(out.Logs) == 0 {
		fmt.Fprintln(w, "\nNo sync runs yet.")
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, len(out.Logs))
	for i := range out.Logs {
		l := &out.Logs[i]
		rows = append(rows, []string{
			formatTime(l.StartedAt),
			l.Status,
			strconv.Itoa(l.FilesAdded),
			strconv.Itoa(l.FilesUpdated),
			strconv.Itoa(l.FilesDeleted),
			l.SyncPath,
		})
	}

	printTable(w, []string{"STARTED", "STATUS", "ADDED", "UPDATED", "DELETED", "PATH"}, rows)
}
