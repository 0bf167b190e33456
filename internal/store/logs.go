package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const (
	sqlInsertSyncLog = `INSERT INTO sync_logs
		(id, connection_id, project_id, sync_path, status, started_at)
		VALUES (?, ?, ?, ?, 'pending', ?)`

	sqlCompleteSyncLog = `UPDATE sync_logs SET
		status = ?, files_added = ?, files_updated = ?, files_deleted = ?,
		error_message = ?, completed_at = ?
		WHERE id = ?`

	sqlListSyncLogs = `SELECT id, connection_id, project_id, sync_path, status,
		files_added, files_updated, files_deleted, error_message, started_at, completed_at
		FROM sync_logs WHERE project_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`
)

// SyncCounts are the per-run totals recorded on a sync log.
type SyncCounts struct {
	Added   int
	Updated int
	Deleted int
}

// StartSyncLog appends a pending log row and returns it.
func (s *Store) StartSyncLog(ctx context.Context, connectionID, projectID, syncPath string) (*SyncLog, error) {
	l := &SyncLog{
		ID:           uuid.NewString(),
		ConnectionID: connectionID,
		ProjectID:    projectID,
		SyncPath:     syncPath,
		Status:       StatusPending,
		StartedAt:    s.nowFunc(),
	}

	_, err := s.db.ExecContext(ctx, s.q(sqlInsertSyncLog),
		l.ID, l.ConnectionID, l.ProjectID, l.SyncPath, l.StartedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("store: inserting sync log: %w", err)
	}

	return l, nil
}

// CompleteSyncLog moves a log out of pending. errMsg is stored only for
// StatusError.
func (s *Store) CompleteSyncLog(ctx context.Context, id, status string, counts SyncCounts, errMsg string) error {
	_, err := s.db.ExecContext(ctx, s.q(sqlCompleteSyncLog),
		status, counts.Added, counts.Updated, counts.Deleted,
		nullString(errMsg), s.nowFunc().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("store: completing sync log %s: %w", id, err)
	}

	return nil
}

// ListSyncLogs returns the most recent logs for a project, newest first.
func (s *Store) ListSyncLogs(ctx context.Context, projectID string, limit int) ([]SyncLog, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlListSyncLogs), projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: listing sync logs: %w", err)
	}
	defer rows.Close()

	logs := make([]SyncLog, 0, limit)

	for rows.Next() {
		var (
			l         SyncLog
			errMsg    sql.NullString
			started   sql.NullInt64
			completed sql.NullInt64
		)

		if err := rows.Scan(&l.ID, &l.ConnectionID, &l.ProjectID, &l.SyncPath, &l.Status,
			&l.FilesAdded, &l.FilesUpdated, &l.FilesDeleted, &errMsg, &started, &completed); err != nil {
			return nil, fmt.Errorf("store: scanning sync log: %w", err)
		}

		l.ErrorMessage = errMsg.String
		l.StartedAt = fromNanos(started)
		l.CompletedAt = fromNanos(completed)
		logs = append(logs, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating sync logs: %w", err)
	}

	return logs, nil
}
