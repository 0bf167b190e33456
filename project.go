package main

import (
	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/store"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the project read model",
	}

	cmd.AddCommand(newProjectAddCmd())

	return cmd
}

func newProjectAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a project",
		Long: `Record a project so it can be synced and provisioned. Running it again
with the same ID updates the stored org, name, and client.`,
		Args: cobra.NoArgs,
		RunE: runProjectAdd,
	}

	cmd.Flags().String("id", "", "project ID (required)")
	cmd.Flags().String("org", "", "owning organization ID (required)")
	cmd.Flags().String("name", "", "project name")
	cmd.Flags().String("client", "", "client name")

	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("org")

	return cmd
}

func runProjectAdd(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	var p store.Project
	p.ID, _ = cmd.Flags().GetString("id")
	p.OrgID, _ = cmd.Flags().GetString("org")
	p.Name, _ = cmd.Flags().GetString("name")
	p.ClientName, _ = cmd.Flags().GetString("client")

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.UpsertProject(ctx, p); err != nil {
		return err
	}

	statusf(flagQuiet, "Saved project %s (org %s)\n", p.ID, p.OrgID)

	return nil
}
