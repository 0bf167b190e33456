package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/framehouse/dropsync/internal/config"
	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/preview"
	"github.com/framehouse/dropsync/internal/provision"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/sync"
	"github.com/framehouse/dropsync/internal/vault"
)

// app holds the wired collaborators a command needs. Commands that only
// read the database use openStore instead.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *store.Store
	vault  *vault.Vault
	oauth  *oauth2.Config
	client *dropbox.Client
	http   *http.Client
	orch   *sync.Orchestrator
	sched  *sync.Scheduler
	prov   *provision.Provisioner
	linker *preview.Linker
}

// openStore opens the configured database and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	return st, nil
}

// openApp wires the full stack. require checks the secrets the calling
// command depends on before anything is opened.
func openApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, require func() error) (*app, error) {
	if err := require(); err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, store: st, http: newHTTPClient(cfg)}

	if err := a.wire(); err != nil {
		st.Close()
		return nil, err
	}

	return a, nil
}

func (a *app) wire() error {
	cfg := a.cfg

	v2, err := vault.NewV2Codec([]byte(cfg.Secrets.EncryptionKey))
	if err != nil {
		return err
	}

	opts := []vault.Option{
		vault.WithRefreshSkew(cfg.RefreshSkew()),
		vault.WithHTTPClient(a.http),
	}

	if cfg.Secrets.LegacyKey != "" {
		legacy, err := vault.NewLegacyCodec(cfg.Secrets.LegacyKey)
		if err != nil {
			return err
		}

		opts = append(opts, vault.WithLegacyCodec(legacy))
	}

	a.oauth = dropbox.OAuthConfig(
		cfg.Dropbox.AppKey, cfg.Secrets.DropboxSecret, cfg.Dropbox.RedirectURL,
		cfg.Dropbox.AuthURL, cfg.Dropbox.TokenURL,
	)
	a.vault = vault.New(a.store, a.oauth, v2, a.logger, opts...)

	baseURL := cfg.Dropbox.APIURL
	if baseURL == "" {
		baseURL = dropbox.DefaultBaseURL
	}

	a.client = dropbox.NewClient(baseURL, a.http, a.logger,
		dropbox.WithRateLimit(cfg.Dropbox.RequestsPerSecond),
		dropbox.WithPageLimit(cfg.Dropbox.PageLimit),
		dropbox.WithUserAgent(cfg.Network.UserAgent),
	)

	a.orch = sync.NewOrchestrator(&sync.OrchestratorConfig{
		Store:          a.store,
		Vault:          a.vault,
		Lister:         a.client,
		TenantRoot:     cfg.Dropbox.RootPath,
		MaxFilesPerRun: cfg.Sync.MaxFilesPerRun,
		Recursive:      cfg.Sync.Recursive,
		Logger:         a.logger,
	})
	a.sched = sync.NewScheduler(a.orch, cfg.LeaseTTL())
	a.prov = provision.NewProvisioner(a.store, a.vault, a.client, cfg.Dropbox.RootPath, a.logger)
	a.linker = preview.NewLinker(a.store, a.vault, a.client, a.logger)

	return nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// newHTTPClient builds the outbound client from [network]. The overall
// timeout bounds a single request; retries get a fresh budget each.
func newHTTPClient(cfg *config.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   cfg.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = cfg.ConnectTimeout()

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.DataTimeout(),
	}
}
