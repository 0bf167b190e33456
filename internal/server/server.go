// Package server exposes sync, status, provisioning, and the Dropbox
// connect flow over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/framehouse/dropsync/internal/provision"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/sync"
	"github.com/framehouse/dropsync/internal/vault"
)

// Server timeouts.
const (
	readTimeout  = 15 * time.Second
	writeTimeout = 5 * time.Minute // a capped sync run can take a while
	idleTimeout  = 60 * time.Second

	defaultLogLimit = 20
	maxLogLimit     = 200
)

// Syncer runs one sync for a project; the lease scheduler in production.
type Syncer interface {
	Run(ctx context.Context, req sync.Request) (*sync.Report, error)
}

// LogReader lists a project's sync logs.
type LogReader interface {
	Logs(ctx context.Context, projectID string, limit int) ([]store.SyncLog, error)
}

// Provisioner creates project folders.
type Provisioner interface {
	ProvisionProjectFolder(ctx context.Context, req provision.Request) (*provision.Result, error)
}

// Previewer resolves a file record to a temporary link.
type Previewer interface {
	Link(ctx context.Context, fileID string) (*string, error)
}

// TokenVault manages stored connections.
type TokenVault interface {
	Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error)
	CreateConnection(ctx context.Context, nc vault.NewConnection) (*store.Connection, error)
	Revoke(ctx context.Context, id string) error
}

// Store is what the handlers read directly.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	Ping(ctx context.Context) error
}

// Config wires the server's collaborators.
type Config struct {
	Store       Store
	Vault       TokenVault
	Syncer      Syncer
	Logs        LogReader
	Provisioner Provisioner
	Previewer   Previewer

	OAuth       *oauth2.Config
	HTTPClient  *http.Client // used for the code exchange; nil = default
	StateSecret []byte
	StateTTL    time.Duration

	Logger    *slog.Logger
	AccessLog io.Writer // combined log format; nil disables access logging
}

// Server is the HTTP surface.
type Server struct {
	cfg     *Config
	logger  *slog.Logger
	nowFunc func() time.Time
}

// New returns a Server. Handler builds its routes.
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	return &Server{cfg: cfg, logger: logger, nowFunc: time.Now}
}

// Handler returns the routed handler with panic recovery and, when
// configured, access logging.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/dropbox").Subrouter()
	api.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	api.HandleFunc("/sync", s.handleSyncStatus).Methods(http.MethodGet)
	api.HandleFunc("/provision-folder", s.handleProvision).Methods(http.MethodPost)
	api.HandleFunc("/connect", s.handleConnect).Methods(http.MethodGet)
	api.HandleFunc("/callback", s.handleCallback).Methods(http.MethodGet)
	api.HandleFunc("/connections/{id}", s.handleRevoke).Methods(http.MethodDelete)
	api.HandleFunc("/files/{id}/preview", s.handlePreview).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	var h http.Handler = r
	if s.cfg.AccessLog != nil {
		h = handlers.CombinedLoggingHandler(s.cfg.AccessLog, h)
	}

	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	)(h)
}

// Run listens on addr and serves until ctx is canceled, then shuts down
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listening on %s: %w", addr, err)
	}

	return s.Serve(ctx, ln, shutdownTimeout)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	errc := make(chan error, 1)

	go func() {
		errc <- srv.Serve(ln)
	}()

	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}

	s.logger.Info("http server stopped")

	return nil
}

// recoveryLogger routes handler panics into slog.
type recoveryLogger struct {
	logger *slog.Logger
}

func (l recoveryLogger) Println(v ...any) {
	l.logger.Error("handler panic", slog.String("panic", fmt.Sprint(v...)))
}
