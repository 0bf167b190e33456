package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const fileColumns = `id, project_id, deliverable_id, remote_path, display_path, filename,
	category, version_label, folder_phase, mime_type, size, modified_at,
	remote_id, remote_rev, content_hash, created_at, updated_at`

const (
	sqlGetFileByKey = `SELECT ` + fileColumns + ` FROM file_records
		WHERE project_id = ? AND remote_path = ?`

	sqlGetFileByID = `SELECT ` + fileColumns + ` FROM file_records WHERE id = ?`

	sqlInsertFile = `INSERT INTO file_records (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateFile = `UPDATE file_records SET
		deliverable_id = ?, display_path = ?, filename = ?, category = ?,
		version_label = ?, folder_phase = ?, mime_type = ?, size = ?,
		modified_at = ?, remote_id = ?, remote_rev = ?, content_hash = ?, updated_at = ?
		WHERE id = ?`

	sqlCountFiles = `SELECT COUNT(*) FROM file_records WHERE project_id = ?`
)

// FindFileRecord looks up a record by its natural key.
func (s *Store) FindFileRecord(ctx context.Context, projectID, remotePath string) (*FileRecord, error) {
	rec, err := scanFileRecord(s.db.QueryRowContext(ctx, s.q(sqlGetFileByKey), projectID, remotePath))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, remotePath)
	}

	return rec, err
}

// GetFileRecord loads a record by id.
func (s *Store) GetFileRecord(ctx context.Context, id string) (*FileRecord, error) {
	rec, err := scanFileRecord(s.db.QueryRowContext(ctx, s.q(sqlGetFileByID), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: file %s", ErrNotFound, id)
	}

	return rec, err
}

// InsertFileRecord inserts a new record, assigning ID and timestamps.
func (s *Store) InsertFileRecord(ctx context.Context, r *FileRecord) error {
	now := s.nowFunc()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, s.q(sqlInsertFile),
		r.ID, r.ProjectID, r.DeliverableID, r.RemotePath, r.DisplayPath, r.Filename,
		r.Category, nullStringPtr(r.VersionLabel), r.FolderPhase, r.MimeType, r.Size, nanos(r.ModifiedAt),
		r.RemoteID, r.RemoteRev, r.ContentHash, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: inserting file %s: %w", r.RemotePath, err)
	}

	return nil
}

// UpdateFileRecord rewrites the mutable fields of an existing record.
// The natural key and creation time are never changed.
func (s *Store) UpdateFileRecord(ctx context.Context, r *FileRecord) error {
	now := s.nowFunc()
	r.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, s.q(sqlUpdateFile),
		r.DeliverableID, r.DisplayPath, r.Filename, r.Category,
		nullStringPtr(r.VersionLabel), r.FolderPhase, r.MimeType, r.Size,
		nanos(r.ModifiedAt), r.RemoteID, r.RemoteRev, r.ContentHash, now.UnixNano(),
		r.ID,
	)
	if err != nil {
		return fmt.Errorf("store: updating file %s: %w", r.RemotePath, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: file %s", ErrNotFound, r.ID)
	}

	return nil
}

// CountFileRecords returns the number of records for a project.
func (s *Store) CountFileRecords(ctx context.Context, projectID string) (int, error) {
	var n int

	if err := s.db.QueryRowContext(ctx, s.q(sqlCountFiles), projectID).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting files for %s: %w", projectID, err)
	}

	return n, nil
}

func scanFileRecord(row rowScanner) (*FileRecord, error) {
	var (
		r         FileRecord
		label     sql.NullString
		modified  sql.NullInt64
		createdAt sql.NullInt64
		updatedAt sql.NullInt64
	)

	err := row.Scan(
		&r.ID, &r.ProjectID, &r.DeliverableID, &r.RemotePath, &r.DisplayPath, &r.Filename,
		&r.Category, &label, &r.FolderPhase, &r.MimeType, &r.Size, &modified,
		&r.RemoteID, &r.RemoteRev, &r.ContentHash, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning file record: %w", err)
	}

	r.VersionLabel = stringPtr(label)
	r.ModifiedAt = fromNanos(modified)
	r.CreatedAt = fromNanos(createdAt)
	r.UpdatedAt = fromNanos(updatedAt)

	return &r, nil
}
