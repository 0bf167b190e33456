package store

import (
	"context"
	"fmt"
	"time"
)

const (
	// The conditional DO UPDATE only steals a lease that has expired.
	sqlAcquireLease = `INSERT INTO sync_leases (connection_id, token, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(connection_id) DO UPDATE SET
		 token = excluded.token,
		 expires_at = excluded.expires_at
		WHERE sync_leases.expires_at <= ?`

	sqlLeaseToken = `SELECT token FROM sync_leases WHERE connection_id = ?`

	sqlReleaseLease = `DELETE FROM sync_leases WHERE connection_id = ? AND token = ?`
)

// AcquireLease tries to take the sync lease for a connection. It reports
// whether token now holds the lease.
func (s *Store) AcquireLease(ctx context.Context, connectionID, token string, ttl time.Duration) (bool, error) {
	now := s.nowFunc()

	_, err := s.db.ExecContext(ctx, s.q(sqlAcquireLease),
		connectionID, token, now.Add(ttl).UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("store: acquiring lease for %s: %w", connectionID, err)
	}

	var holder string
	if err := s.db.QueryRowContext(ctx, s.q(sqlLeaseToken), connectionID).Scan(&holder); err != nil {
		return false, fmt.Errorf("store: reading lease for %s: %w", connectionID, err)
	}

	return holder == token, nil
}

// ReleaseLease drops the lease if token still holds it.
func (s *Store) ReleaseLease(ctx context.Context, connectionID, token string) error {
	if _, err := s.db.ExecContext(ctx, s.q(sqlReleaseLease), connectionID, token); err != nil {
		return fmt.Errorf("store: releasing lease for %s: %w", connectionID, err)
	}

	return nil
}
