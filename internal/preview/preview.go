// Package preview hands out short-lived direct links to synced files.
package preview

import (
	"context"
	"log/slog"

	"github.com/framehouse/dropsync/internal/store"
)

// LinkClient is the temporary-link half of the Dropbox client. It returns
// nil when no link can be obtained.
type LinkClient interface {
	TemporaryLink(ctx context.Context, token, path string) *string
}

// TokenVault resolves and refreshes connections.
type TokenVault interface {
	Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error)
	EnsureFresh(ctx context.Context, c *store.Connection) (string, error)
}

// Store loads file records and their projects.
type Store interface {
	GetFileRecord(ctx context.Context, id string) (*store.FileRecord, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
}

// Linker resolves a file record to a temporary link.
type Linker struct {
	store  Store
	vault  TokenVault
	client LinkClient
	logger *slog.Logger
}

// NewLinker returns a Linker.
func NewLinker(st Store, v TokenVault, client LinkClient, logger *slog.Logger) *Linker {
	return &Linker{store: st, vault: v, client: client, logger: logger}
}

// Link returns a temporary link for the file, or nil when Dropbox will not
// issue one. Unknown files and missing connections are errors.
func (l *Linker) Link(ctx context.Context, fileID string) (*string, error) {
	rec, err := l.store.GetFileRecord(ctx, fileID)
	if err != nil {
		return nil, err
	}

	project, err := l.store.GetProject(ctx, rec.ProjectID)
	if err != nil {
		return nil, err
	}

	conn, err := l.vault.Resolve(ctx, project.OrgID, project.ID)
	if err != nil {
		return nil, err
	}

	token, err := l.vault.EnsureFresh(ctx, conn)
	if err != nil {
		return nil, err
	}

	link := l.client.TemporaryLink(ctx, token, rec.RemotePath)

	l.logger.Debug("preview link requested",
		slog.String("file_id", rec.ID),
		slog.Bool("available", link != nil),
	)

	return link, nil
}
