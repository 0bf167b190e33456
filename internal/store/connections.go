package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const connectionColumns = `id, org_id, project_id, account_id,
	access_token_encrypted, access_token_ciphertext, access_token,
	refresh_token_encrypted, refresh_token_ciphertext, refresh_token,
	token_expires_at, sync_cursor, sync_path, last_synced_at, revoked_at,
	created_at, updated_at`

const (
	sqlListScopeConnections = `SELECT ` + connectionColumns + ` FROM connections
		WHERE revoked_at IS NULL
		  AND ((org_id = ? AND project_id = '') OR (project_id <> '' AND project_id = ?))`

	sqlGetConnection = `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`

	sqlRevokeScope = `UPDATE connections SET revoked_at = ?, updated_at = ?
		WHERE org_id = ? AND project_id = ? AND revoked_at IS NULL`

	sqlInsertConnection = `INSERT INTO connections (` + connectionColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlUpdateTokens = `UPDATE connections SET
		access_token_encrypted = ?, access_token_ciphertext = ?, access_token = NULL,
		token_expires_at = ?, updated_at = ?
		WHERE id = ?`

	sqlUpdateSyncState = `UPDATE connections SET
		sync_cursor = ?, sync_path = ?, last_synced_at = ?, updated_at = ?
		WHERE id = ?`

	sqlRevokeConnection = `UPDATE connections SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL`
)

// ScopeConnections returns the active connections that could serve a
// project: org-wide ones for orgID and project-specific ones for projectID.
// Choosing between them is the caller's job.
func (s *Store) ScopeConnections(ctx context.Context, orgID, projectID string) ([]Connection, error) {
	rows, err := s.db.QueryContext(ctx, s.q(sqlListScopeConnections), orgID, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: listing connections: %w", err)
	}
	defer rows.Close()

	var conns []Connection

	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}

		conns = append(conns, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterating connections: %w", err)
	}

	return conns, nil
}

// GetConnection loads a connection by id, revoked or not.
func (s *Store) GetConnection(ctx context.Context, id string) (*Connection, error) {
	c, err := scanConnection(s.db.QueryRowContext(ctx, s.q(sqlGetConnection), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: connection %s", ErrNotFound, id)
	}

	return c, err
}

// CreateConnection revokes any active connection in the same scope and
// inserts c, in one transaction. ID and timestamps are filled when empty.
func (s *Store) CreateConnection(ctx context.Context, c *Connection) error {
	now := s.nowFunc()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	c.CreatedAt = now
	c.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, s.q(sqlRevokeScope), now.UnixNano(), now.UnixNano(), c.OrgID, c.ProjectID)
	if err != nil {
		return fmt.Errorf("store: revoking previous connection: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("revoked previous connection in scope",
			slog.String("org_id", c.OrgID),
			slog.String("project_id", c.ProjectID),
		)
	}

	_, err = tx.ExecContext(ctx, s.q(sqlInsertConnection),
		c.ID, c.OrgID, c.ProjectID, c.AccountID,
		nullString(c.AccessTokenEncrypted), nullString(c.AccessTokenCiphertext), nullString(c.AccessTokenPlain),
		nullString(c.RefreshTokenEncrypted), nullString(c.RefreshTokenCiphertext), nullString(c.RefreshTokenPlain),
		nanos(c.TokenExpiresAt), nullString(c.Cursor), nullString(c.SyncPath), nanos(c.LastSyncedAt),
		nanos(c.RevokedAt), now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: inserting connection: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing connection: %w", err)
	}

	return nil
}

// UpdateConnectionTokens swaps in a refreshed access token across the
// current and legacy ciphertext columns and clears the plaintext column.
func (s *Store) UpdateConnectionTokens(ctx context.Context, id string, u TokenUpdate) error {
	_, err := s.db.ExecContext(ctx, s.q(sqlUpdateTokens),
		nullString(u.AccessTokenEncrypted), nullString(u.AccessTokenCiphertext),
		nanos(u.ExpiresAt), s.nowFunc().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("store: updating tokens for %s: %w", id, err)
	}

	return nil
}

// UpdateConnectionSyncState records the cursor and path of a completed run.
// Last write wins; there is no optimistic concurrency check.
func (s *Store) UpdateConnectionSyncState(ctx context.Context, id, cursor, syncPath string, syncedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.q(sqlUpdateSyncState),
		nullString(cursor), nullString(syncPath), nanos(syncedAt), s.nowFunc().UnixNano(), id,
	)
	if err != nil {
		return fmt.Errorf("store: updating sync state for %s: %w", id, err)
	}

	return nil
}

// RevokeConnection tombstones a connection. Revoking an already revoked or
// unknown connection returns ErrNotFound.
func (s *Store) RevokeConnection(ctx context.Context, id string) error {
	now := s.nowFunc().UnixNano()

	res, err := s.db.ExecContext(ctx, s.q(sqlRevokeConnection), now, now, id)
	if err != nil {
		return fmt.Errorf("store: revoking connection %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: active connection %s", ErrNotFound, id)
	}

	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConnection(row rowScanner) (*Connection, error) {
	var (
		c                                          Connection
		accEnc, accCipher, accPlain                sql.NullString
		refEnc, refCipher, refPlain                sql.NullString
		cursor, syncPath                           sql.NullString
		expires, synced, revoked, created, updated sql.NullInt64
	)

	err := row.Scan(
		&c.ID, &c.OrgID, &c.ProjectID, &c.AccountID,
		&accEnc, &accCipher, &accPlain,
		&refEnc, &refCipher, &refPlain,
		&expires, &cursor, &syncPath, &synced, &revoked,
		&created, &updated,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("store: scanning connection: %w", err)
	}

	c.AccessTokenEncrypted = accEnc.String
	c.AccessTokenCiphertext = accCipher.String
	c.AccessTokenPlain = accPlain.String
	c.RefreshTokenEncrypted = refEnc.String
	c.RefreshTokenCiphertext = refCipher.String
	c.RefreshTokenPlain = refPlain.String
	c.TokenExpiresAt = fromNanos(expires)
	c.Cursor = cursor.String
	c.SyncPath = syncPath.String
	c.LastSyncedAt = fromNanos(synced)
	c.RevokedAt = fromNanos(revoked)
	c.CreatedAt = fromNanos(created)
	c.UpdatedAt = fromNanos(updated)

	return &c, nil
}
