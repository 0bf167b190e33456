// Package vault resolves the Dropbox connection serving a project, decodes
// its stored tokens, and refreshes the access token before it expires.
//
// Token material lives in three column variants per token. Decoding walks
// them newest first (v2, legacy ciphertext, plaintext) and degrades to the
// next on any decode failure. Writes always fill both ciphertext variants so
// older readers keep working, and clear the plaintext column.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/framehouse/dropsync/internal/store"
)

// Defaults for token lifetime handling.
const (
	DefaultRefreshSkew = 5 * time.Minute
	DefaultTokenTTL    = 4 * time.Hour
)

// Sentinel errors.
var (
	ErrNotConnected  = errors.New("vault: no active dropbox connection")
	ErrNoToken       = errors.New("vault: no decodable token")
	ErrRefreshFailed = errors.New("vault: token refresh failed")
)

// ConnectionStore is the persistence the vault needs.
type ConnectionStore interface {
	ScopeConnections(ctx context.Context, orgID, projectID string) ([]store.Connection, error)
	CreateConnection(ctx context.Context, c *store.Connection) error
	UpdateConnectionTokens(ctx context.Context, id string, u store.TokenUpdate) error
	RevokeConnection(ctx context.Context, id string) error
}

// Vault owns token decoding and refresh for stored connections. It holds no
// lock: concurrent refreshes of one connection are last-write-wins.
type Vault struct {
	store      ConnectionStore
	oauth      *oauth2.Config
	v2         *V2Codec
	legacy     *LegacyCodec // nil when no legacy secret is configured
	httpClient *http.Client
	logger     *slog.Logger
	skew       time.Duration
	nowFunc    func() time.Time
}

// Option configures a Vault.
type Option func(*Vault)

// WithRefreshSkew sets how long before expiry a token is refreshed.
func WithRefreshSkew(d time.Duration) Option {
	return func(v *Vault) { v.skew = d }
}

// WithLegacyCodec enables reading and writing the legacy ciphertext column.
func WithLegacyCodec(c *LegacyCodec) Option {
	return func(v *Vault) { v.legacy = c }
}

// WithHTTPClient sets the client used for the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Vault) { v.httpClient = c }
}

// New builds a Vault. oauthCfg supplies the token endpoint and app
// credentials used for refresh.
func New(st ConnectionStore, oauthCfg *oauth2.Config, v2 *V2Codec, logger *slog.Logger, opts ...Option) *Vault {
	v := &Vault{
		store:      st,
		oauth:      oauthCfg,
		v2:         v2,
		httpClient: http.DefaultClient,
		logger:     logger,
		skew:       DefaultRefreshSkew,
		nowFunc:    time.Now,
	}

	for _, opt := range opts {
		opt(v)
	}

	return v
}

// ResolveConnection picks the connection serving a project. An active
// org-wide connection for orgID wins over a project-specific one; within a
// scope the most recently updated row wins. Returns nil when none applies.
func ResolveConnection(candidates []store.Connection, orgID, projectID string) *store.Connection {
	var org, proj *store.Connection

	for i := range candidates {
		c := &candidates[i]
		if !c.Active() {
			continue
		}

		switch {
		case c.IsOrgScope() && c.OrgID == orgID:
			if org == nil || c.UpdatedAt.After(org.UpdatedAt) {
				org = c
			}
		case !c.IsOrgScope() && projectID != "" && c.ProjectID == projectID:
			if proj == nil || c.UpdatedAt.After(proj.UpdatedAt) {
				proj = c
			}
		}
	}

	if org != nil {
		return org
	}

	return proj
}

// Resolve loads the candidates for a scope and applies ResolveConnection.
func (v *Vault) Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error) {
	candidates, err := v.store.ScopeConnections(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}

	conn := ResolveConnection(candidates, orgID, projectID)
	if conn == nil {
		return nil, fmt.Errorf("%w: org %s project %s", ErrNotConnected, orgID, projectID)
	}

	return conn, nil
}

type representation struct {
	name  string
	value string
	codec Codec
}

// decode returns the first representation that yields a token.
func (v *Vault) decode(connID, which string, reps []representation) (string, error) {
	for _, r := range reps {
		if r.value == "" {
			continue
		}

		if r.codec == nil {
			return r.value, nil
		}

		plain, err := r.codec.Decrypt(r.value)
		if err != nil {
			v.logger.Warn("token representation undecodable, trying next",
				slog.String("connection_id", connID),
				slog.String("token", which),
				slog.String("format", r.name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if plain != "" {
			return plain, nil
		}
	}

	return "", fmt.Errorf("%w: %s token of connection %s", ErrNoToken, which, connID)
}

func (v *Vault) reps(encrypted, ciphertext, plain string) []representation {
	reps := make([]representation, 0, 3)

	if v.v2 != nil {
		reps = append(reps, representation{name: "v2", value: encrypted, codec: v.v2})
	}

	if v.legacy != nil {
		reps = append(reps, representation{name: "legacy", value: ciphertext, codec: v.legacy})
	}

	return append(reps, representation{name: "plaintext", value: plain})
}

// AccessToken decodes the connection's access token.
func (v *Vault) AccessToken(c *store.Connection) (string, error) {
	return v.decode(c.ID, "access", v.reps(c.AccessTokenEncrypted, c.AccessTokenCiphertext, c.AccessTokenPlain))
}

// RefreshToken decodes the connection's refresh token.
func (v *Vault) RefreshToken(c *store.Connection) (string, error) {
	return v.decode(c.ID, "refresh", v.reps(c.RefreshTokenEncrypted, c.RefreshTokenCiphertext, c.RefreshTokenPlain))
}

// EnsureFresh returns a usable access token, refreshing it first when it is
// within the skew window of expiry. The stored token is only replaced after
// a successful refresh. c is updated in place on success.
func (v *Vault) EnsureFresh(ctx context.Context, c *store.Connection) (string, error) {
	current, accessErr := v.AccessToken(c)
	now := v.nowFunc()

	needsRefresh := accessErr != nil ||
		(!c.TokenExpiresAt.IsZero() && !now.Add(v.skew).Before(c.TokenExpiresAt))
	if !needsRefresh {
		return current, nil
	}

	refresh, err := v.RefreshToken(c)
	if err != nil {
		if accessErr != nil {
			return "", accessErr
		}

		// Without a refresh token the provider has the final say.
		v.logger.Debug("token near expiry but no refresh token",
			slog.String("connection_id", c.ID),
		)

		return current, nil
	}

	tok, err := v.refresh(ctx, refresh)
	if err != nil {
		v.logger.Error("token refresh failed",
			slog.String("connection_id", c.ID),
			slog.String("error", err.Error()),
		)

		return "", fmt.Errorf("%w: connection %s: %w", ErrRefreshFailed, c.ID, err)
	}

	ttl := tokenTTL(tok, v.nowFunc)
	update, err := v.encode(tok.AccessToken)
	if err != nil {
		return "", err
	}

	update.ExpiresAt = expiryFor(now, ttl, v.skew)

	if err := v.store.UpdateConnectionTokens(ctx, c.ID, update); err != nil {
		return "", fmt.Errorf("vault: persisting refreshed token: %w", err)
	}

	c.AccessTokenEncrypted = update.AccessTokenEncrypted
	c.AccessTokenCiphertext = update.AccessTokenCiphertext
	c.AccessTokenPlain = ""
	c.TokenExpiresAt = update.ExpiresAt

	v.logger.Info("refreshed access token",
		slog.String("connection_id", c.ID),
		slog.Time("expires_at", update.ExpiresAt),
	)

	return tok.AccessToken, nil
}

func (v *Vault) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.httpClient)

	// An empty access token forces the source to hit the token endpoint.
	src := v.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return nil, err
	}

	if tok.AccessToken == "" {
		return nil, errors.New("empty access token in refresh response")
	}

	return tok, nil
}

// tokenTTL reads the lifetime from the refresh response, falling back to
// DefaultTokenTTL when the provider omits it.
func tokenTTL(tok *oauth2.Token, now func() time.Time) time.Duration {
	switch secs := tok.Extra("expires_in").(type) {
	case float64:
		if secs > 0 {
			return time.Duration(secs) * time.Second
		}
	case string:
		if n, err := strconv.Atoi(secs); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}

	if !tok.Expiry.IsZero() {
		if d := tok.Expiry.Sub(now()); d > 0 {
			return d
		}
	}

	return DefaultTokenTTL
}

// expiryFor stores expiry early by skew, but never at or before now.
func expiryFor(now time.Time, ttl, skew time.Duration) time.Time {
	if ttl > skew {
		return now.Add(ttl - skew)
	}

	return now.Add(ttl)
}

// encode fills every ciphertext column for a token.
func (v *Vault) encode(token string) (store.TokenUpdate, error) {
	var u store.TokenUpdate

	if token == "" {
		return u, nil
	}

	enc, err := v.v2.Encrypt(token)
	if err != nil {
		return u, err
	}

	u.AccessTokenEncrypted = enc

	if v.legacy != nil {
		legacy, err := v.legacy.Encrypt(token)
		if err != nil {
			return u, err
		}

		u.AccessTokenCiphertext = legacy
	}

	return u, nil
}

// NewConnection describes freshly issued credentials.
type NewConnection struct {
	OrgID        string
	ProjectID    string // empty for an org-wide connection
	AccountID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time // zero when the token does not expire
	SyncPath     string
}

// CreateConnection encrypts the tokens and stores a new active connection,
// revoking whichever connection held the same scope.
func (v *Vault) CreateConnection(ctx context.Context, nc NewConnection) (*store.Connection, error) {
	if nc.OrgID == "" {
		return nil, errors.New("vault: org id required")
	}

	if nc.AccessToken == "" && nc.RefreshToken == "" {
		return nil, errors.New("vault: no token to store")
	}

	access, err := v.encode(nc.AccessToken)
	if err != nil {
		return nil, err
	}

	refresh, err := v.encode(nc.RefreshToken)
	if err != nil {
		return nil, err
	}

	c := &store.Connection{
		OrgID:                  nc.OrgID,
		ProjectID:              nc.ProjectID,
		AccountID:              nc.AccountID,
		AccessTokenEncrypted:   access.AccessTokenEncrypted,
		AccessTokenCiphertext:  access.AccessTokenCiphertext,
		RefreshTokenEncrypted:  refresh.AccessTokenEncrypted,
		RefreshTokenCiphertext: refresh.AccessTokenCiphertext,
		TokenExpiresAt:         nc.ExpiresAt,
		SyncPath:               nc.SyncPath,
	}

	if err := v.store.CreateConnection(ctx, c); err != nil {
		return nil, err
	}

	v.logger.Info("stored dropbox connection",
		slog.String("connection_id", c.ID),
		slog.String("org_id", c.OrgID),
		slog.String("project_id", c.ProjectID),
	)

	return c, nil
}

// Revoke tombstones a connection. Rows are never deleted.
func (v *Vault) Revoke(ctx context.Context, id string) error {
	if err := v.store.RevokeConnection(ctx, id); err != nil {
		return err
	}

	v.logger.Info("revoked dropbox connection", slog.String("connection_id", id))

	return nil
}
