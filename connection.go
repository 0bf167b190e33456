package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/framehouse/dropsync/internal/tokenfile"
	"github.com/framehouse/dropsync/internal/vault"
)

func newConnectionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connection",
		Short: "Manage Dropbox connections",
	}

	cmd.AddCommand(newConnectionImportCmd())
	cmd.AddCommand(newConnectionRevokeCmd())

	return cmd
}

func newConnectionImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import a connection from a token file",
		Long: `Encrypt the tokens in FILE and store them as the active connection for
the scope named in its meta block. A connection already holding that
scope is revoked. Use "-" to read the file from standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: runConnectionImport,
	}
}

func runConnectionImport(cmd *cobra.Command, args []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()
	path := args[0]

	if exposed, err := tokenfile.Exposed(path); err != nil {
		return err
	} else if exposed {
		logger.Warn("token file is readable by other users", slog.String("path", path))
	}

	tf, err := tokenfile.Load(path)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, logger, cfg.RequireVault)
	if err != nil {
		return err
	}
	defer a.Close()

	conn, err := a.vault.CreateConnection(ctx, vault.NewConnection{
		OrgID:        tf.Meta.OrgID,
		ProjectID:    tf.Meta.ProjectID,
		AccountID:    tf.Meta.AccountID,
		AccessToken:  tf.Token.AccessToken,
		RefreshToken: tf.Token.RefreshToken,
		ExpiresAt:    tf.Token.Expiry,
		SyncPath:     tf.Meta.SyncPath,
	})
	if err != nil {
		return fmt.Errorf("importing connection: %w", err)
	}

	if flagJSON {
		fmt.Fprintf(cmd.OutOrStdout(), "{\"id\": %q}\n", conn.ID)
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), conn.ID)
	statusf(flagQuiet, "Imported connection for org %s\n", conn.OrgID)

	return nil
}

func newConnectionRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke a connection",
		Long: `Mark a connection revoked. Its tokens stay encrypted in the database but
it no longer serves syncs or provisioning.`,
		Args: cobra.ExactArgs(1),
		RunE: runConnectionRevoke,
	}
}

func runConnectionRevoke(cmd *cobra.Command, args []string) error {
	cfg := resolvedCfg
	logger := buildLogger(cfg)
	ctx := cmd.Context()

	a, err := openApp(ctx, cfg, logger, cfg.RequireVault)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.vault.Revoke(ctx, args[0]); err != nil {
		return fmt.Errorf("revoking connection %s: %w", args[0], err)
	}

	statusf(flagQuiet, "Revoked connection %s\n", args[0])

	return nil
}
