package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the sync, status, provisioning, and Dropbox connect endpoints.

Shuts down gracefully on SIGINT or SIGTERM; a second signal forces exit.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("listen", "", "listen address (overrides [server] listen)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)

	ctx := shutdownContext(cmd.Context(), logger)

	a, err := openApp(ctx, cfg, logger, cfg.RequireServer)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(&server.Config{
		Store:       a.store,
		Vault:       a.vault,
		Syncer:      a.sched,
		Logs:        a.orch,
		Provisioner: a.prov,
		Previewer:   a.linker,
		OAuth:       a.oauth,
		HTTPClient:  a.http,
		StateSecret: []byte(cfg.Secrets.StateSecret),
		StateTTL:    cfg.StateTTL(),
		Logger:      logger,
		AccessLog:   accessLogWriter(logger),
	})

	if err := srv.Run(ctx, cfg.Server.Listen, cfg.ShutdownTimeout()); err != nil {
		return fmt.Errorf("serving: %w", err)
	}

	return nil
}
