package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/provision"
)

func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a project's Dropbox folder tree",
		Long: `Create the project folder, its standard subfolders, and a shared link,
then record the folder as the project's sync path.

The folder lands under [dropbox] root_path, nested under the client name
when one is known. Existing folders are reused.`,
		Args: cobra.NoArgs,
		RunE: runProvision,
	}

	cmd.Flags().String("project", "", "project ID (required)")
	cmd.Flags().String("folder", "", "folder name (defaults to the project name)")
	cmd.Flags().String("client", "", "client name (defaults to the project's client)")
	cmd.Flags().String("name", "", "project display name")

	_ = cmd.MarkFlagRequired("project")

	return cmd
}

func runProvision(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	var req provision.Request
	req.ProjectID, _ = cmd.Flags().GetString("project")
	req.FolderName, _ = cmd.Flags().GetString("folder")
	req.ClientName, _ = cmd.Flags().GetString("client")
	req.ProjectName, _ = cmd.Flags().GetString("name")

	a, err := openApp(ctx, cfg, logger, cfg.RequireOAuth)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.prov.ProvisionProjectFolder(ctx, req)
	if err != nil {
		return fmt.Errorf("provisioning project %s: %w", req.ProjectID, err)
	}

	w := cmd.OutOrStdout()

	if flagJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(res)
	}

	fmt.Fprintf(w, "Provisioned %s\n", res.Path)
	fmt.Fprintf(w, "  Deliveries: %s\n", res.DeliveriesPath)

	if res.FolderURL != "" {
		fmt.Fprintf(w, "  Folder link: %s\n", res.FolderURL)
	}

	if res.DeliveriesURL != "" {
		fmt.Fprintf(w, "  Deliveries link: %s\n", res.DeliveriesURL)
	}

	return nil
}
