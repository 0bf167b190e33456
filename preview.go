package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNoPreview = errors.New("no preview link available")

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview FILE_ID",
		Short: "Print a temporary download link for a synced file",
		Long: `Ask Dropbox for a short-lived direct link to a synced file. Links expire
after a few hours.`,
		Args: cobra.ExactArgs(1),
		RunE: runPreview,
	}
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, logger, cfg.RequireOAuth)
	if err != nil {
		return err
	}
	defer a.Close()

	link, err := a.linker.Link(ctx, args[0])
	if err != nil {
		return fmt.Errorf("linking file %s: %w", args[0], err)
	}

	if flagJSON {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
			Link *string `json:"link"`
		}{link})
	}

	if link == nil {
		return fmt.Errorf("file %s: %w", args[0], errNoPreview)
	}

	fmt.Fprintln(cmd.OutOrStdout(), *link)

	return nil
}
