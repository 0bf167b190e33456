package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const (
	sqlGetFolderMapping = `SELECT project_id, root_path, base_path, deliveries_path,
		folder_id, root_url, deliveries_url, updated_at
		FROM folder_mappings WHERE project_id = ?`

	sqlUpsertFolderMapping = `INSERT INTO folder_mappings
		(project_id, root_path, base_path, deliveries_path, folder_id, root_url, deliveries_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
		 root_path = excluded.root_path,
		 base_path = excluded.base_path,
		 deliveries_path = excluded.deliveries_path,
		 folder_id = excluded.folder_id,
		 root_url = excluded.root_url,
		 deliveries_url = excluded.deliveries_url,
		 updated_at = excluded.updated_at`
)

// GetFolderMapping loads a project's folder mapping.
func (s *Store) GetFolderMapping(ctx context.Context, projectID string) (*FolderMapping, error) {
	var (
		m       FolderMapping
		updated sql.NullInt64
	)

	err := s.db.QueryRowContext(ctx, s.q(sqlGetFolderMapping), projectID).Scan(
		&m.ProjectID, &m.RootPath, &m.BasePath, &m.DeliveriesPath,
		&m.FolderID, &m.RootURL, &m.DeliveriesURL, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: folder mapping for %s", ErrNotFound, projectID)
	}

	if err != nil {
		return nil, fmt.Errorf("store: loading folder mapping for %s: %w", projectID, err)
	}

	m.UpdatedAt = fromNanos(updated)

	return &m, nil
}

// UpsertFolderMapping creates or overwrites a project's folder mapping.
func (s *Store) UpsertFolderMapping(ctx context.Context, m *FolderMapping) error {
	m.UpdatedAt = s.nowFunc()

	_, err := s.db.ExecContext(ctx, s.q(sqlUpsertFolderMapping),
		m.ProjectID, m.RootPath, m.BasePath, m.DeliveriesPath,
		m.FolderID, m.RootURL, m.DeliveriesURL, m.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: upserting folder mapping for %s: %w", m.ProjectID, err)
	}

	return nil
}
