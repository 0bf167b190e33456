package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	sqlUpsertProject = `INSERT INTO projects (id, org_id, name, client_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		 org_id = excluded.org_id,
		 name = excluded.name,
		 client_name = excluded.client_name,
		 updated_at = excluded.updated_at`

	sqlGetProject = `SELECT id, org_id, name, client_name FROM projects WHERE id = ?`

	sqlGetSyncContainer = `SELECT id FROM deliverables WHERE project_id = ? AND kind = 'sync_container'`

	sqlInsertSyncContainer = `INSERT INTO deliverables (id, project_id, title, kind, created_at)
		VALUES (?, ?, ?, 'sync_container', ?)
		ON CONFLICT DO NOTHING`
)

// syncContainerTitle names the sentinel deliverable shown in the portal.
const syncContainerTitle = "Dropbox Sync"

// UpsertProject inserts or updates the project read model.
func (s *Store) UpsertProject(ctx context.Context, p Project) error {
	now := s.nowFunc().UnixNano()

	if _, err := s.db.ExecContext(ctx, s.q(sqlUpsertProject), p.ID, p.OrgID, p.Name, p.ClientName, now, now); err != nil {
		return fmt.Errorf("store: upserting project %s: %w", p.ID, err)
	}

	return nil
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project

	err := s.db.QueryRowContext(ctx, s.q(sqlGetProject), id).Scan(&p.ID, &p.OrgID, &p.Name, &p.ClientName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading project %s: %w", id, err)
	}

	return &p, nil
}

// EnsureSyncContainer returns the id of the project's sync container
// deliverable, creating it on first use. Concurrent callers converge on one
// row through the partial unique index.
func (s *Store) EnsureSyncContainer(ctx context.Context, projectID string) (string, error) {
	id, err := s.syncContainerID(ctx, projectID)
	if err == nil {
		return id, nil
	}

	if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, s.q(sqlInsertSyncContainer),
		uuid.NewString(), projectID, syncContainerTitle, s.nowFunc().UnixNano())
	if err != nil {
		return "", fmt.Errorf("store: creating sync container for %s: %w", projectID, err)
	}

	return s.syncContainerID(ctx, projectID)
}

func (s *Store) syncContainerID(ctx context.Context, projectID string) (string, error) {
	var id string

	err := s.db.QueryRowContext(ctx, s.q(sqlGetSyncContainer), projectID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: sync container for %s", ErrNotFound, projectID)
	}

	if err != nil {
		return "", fmt.Errorf("store: loading sync container for %s: %w", projectID, err)
	}

	return id, nil
}
