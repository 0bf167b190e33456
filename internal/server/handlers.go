package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/oauth2"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/provision"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/sync"
	"github.com/framehouse/dropsync/internal/vault"
)

const maxBodyBytes = 64 << 10

type syncRequest struct {
	ProjectID string `json:"projectId"`
	Path      string `json:"path"`
	FullSync  bool   `json:"fullSync"`
}

type syncResponse struct {
	FilesAdded     int    `json:"filesAdded"`
	FilesUpdated   int    `json:"filesUpdated"`
	FilesDeleted   int    `json:"filesDeleted"`
	TotalProcessed int    `json:"totalProcessed"`
	SyncPath       string `json:"syncPath"`
	HasMore        bool   `json:"hasMore"`
	Truncated      bool   `json:"truncated"`
}

type statusResponse struct {
	Connected  bool            `json:"connected"`
	Connection *connectionView `json:"connection"`
	Logs       []store.SyncLog `json:"logs"`
}

// connectionView is the public shape of a connection. It never carries
// token material.
type connectionView struct {
	ID             string    `json:"id"`
	OrgID          string    `json:"orgId"`
	ProjectID      string    `json:"projectId,omitempty"`
	AccountID      string    `json:"accountId,omitempty"`
	SyncPath       string    `json:"syncPath,omitempty"`
	LastSyncedAt   time.Time `json:"lastSyncedAt,omitzero"`
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitzero"`
	CreatedAt      time.Time `json:"createdAt"`
}

func viewOf(c *store.Connection) *connectionView {
	return &connectionView{
		ID:             c.ID,
		OrgID:          c.OrgID,
		ProjectID:      c.ProjectID,
		AccountID:      c.AccountID,
		SyncPath:       c.SyncPath,
		LastSyncedAt:   c.LastSyncedAt,
		TokenExpiresAt: c.TokenExpiresAt,
		CreatedAt:      c.CreatedAt,
	}
}

type provisionRequest struct {
	ProjectID   string `json:"projectId"`
	FolderName  string `json:"folderName"`
	ClientName  string `json:"clientName"`
	ProjectName string `json:"projectName"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decoding body: %w", errBadRequest, err)
	}

	return nil
}

func requireField(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", errBadRequest, name)
	}

	return nil
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := requireField("projectId", req.ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	// A run outlives the request; a dropped client must not leave the
	// cursor and file records half written.
	report, err := s.cfg.Syncer.Run(context.WithoutCancel(r.Context()), sync.Request{
		ProjectID: req.ProjectID,
		Path:      req.Path,
		FullSync:  req.FullSync,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, syncResponse{
		FilesAdded:     report.FilesAdded,
		FilesUpdated:   report.FilesUpdated,
		FilesDeleted:   report.FilesDeleted,
		TotalProcessed: report.TotalProcessed,
		SyncPath:       report.SyncPath,
		HasMore:        report.HasMore,
		Truncated:      report.Truncated,
	})
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	projectID := q.Get("projectId")
	if err := requireField("projectId", projectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	project, err := s.cfg.Store.GetProject(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := statusResponse{Logs: []store.SyncLog{}}

	conn, err := s.cfg.Vault.Resolve(r.Context(), project.OrgID, project.ID)

	switch {
	case err == nil:
		resp.Connected = true
		resp.Connection = viewOf(conn)
	case !errors.Is(err, vault.ErrNotConnected):
		s.writeError(w, r, err)
		return
	}

	logs, err := s.cfg.Logs.Logs(r.Context(), project.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if logs != nil {
		resp.Logs = logs
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultLogLimit, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadRequest)
	}

	return min(n, maxLogLimit), nil
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := requireField("projectId", req.ProjectID); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.cfg.Provisioner.ProvisionProjectFolder(context.WithoutCancel(r.Context()), provision.Request{
		ProjectID:   req.ProjectID,
		FolderName:  req.FolderName,
		ClientName:  req.ClientName,
		ProjectName: req.ProjectName,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if s.cfg.OAuth == nil {
		s.writeError(w, r, errors.New("server: dropbox oauth is not configured"))
		return
	}

	q := r.URL.Query()

	orgID := q.Get("orgId")
	if err := requireField("orgId", orgID); err != nil {
		s.writeError(w, r, err)
		return
	}

	state, err := s.signState(orgID, q.Get("projectId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, dropbox.AuthCodeURL(s.cfg.OAuth, state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.OAuth == nil {
		s.writeError(w, r, errors.New("server: dropbox oauth is not configured"))
		return
	}

	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		s.writeError(w, r, fmt.Errorf("%w: authorization denied: %s %s", errBadRequest, e, q.Get("error_description")))
		return
	}

	claims, err := s.parseState(q.Get("state"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	code := q.Get("code")
	if err := requireField("code", code); err != nil {
		s.writeError(w, r, err)
		return
	}

	tok, err := s.exchange(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	accountID, _ := tok.Extra("account_id").(string)

	conn, err := s.cfg.Vault.CreateConnection(r.Context(), vault.NewConnection{
		OrgID:        claims.OrgID,
		ProjectID:    claims.ProjectID,
		AccountID:    accountID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, statusResponse{
		Connected:  true,
		Connection: viewOf(conn),
		Logs:       []store.SyncLog{},
	})
}

func (s *Server) exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if s.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	}

	tok, err := s.cfg.OAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("server: exchanging authorization code: %w", err)
	}

	return tok, nil
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Vault.Revoke(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	link, err := s.cfg.Previewer.Link(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, struct {
		Link *string `json:"link"`
	}{link})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Store.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
