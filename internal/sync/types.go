// Package sync mirrors a project's Dropbox folder into local file records.
// One run resolves the connection, refreshes its token, drains the listing
// (bounded per run), classifies and upserts every file, then persists the
// cursor and the run's sync log.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/store"
)

// DefaultMaxFilesPerRun bounds how many file entries one run reconciles.
const DefaultMaxFilesPerRun = 5000

// DefaultLeaseTTL is how long a scheduler holds a connection's sync lease.
const DefaultLeaseTTL = 10 * time.Minute

// Sentinel errors.
var (
	ErrReconciliationFailed = errors.New("sync: reconciliation failed")
	ErrSyncInProgress       = errors.New("sync: another run holds the lease")
)

// Phase is the orchestrator's position in a run.
type Phase int

// Run phases, in order. A run ends in PhaseDone or PhaseFailed.
const (
	PhaseIdle Phase = iota
	PhaseListing
	PhaseDraining
	PhaseReconciling
	PhasePersisting
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseListing:
		return "listing"
	case PhaseDraining:
		return "draining"
	case PhaseReconciling:
		return "reconciling"
	case PhasePersisting:
		return "persisting"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Request selects what one run syncs.
type Request struct {
	ProjectID string
	Path      string // optional; overrides the stored sync path
	FullSync  bool   // ignore the stored cursor
}

// Report summarizes a run. It is returned alongside the error on failure so
// callers can see how far the run got.
type Report struct {
	FilesAdded     int
	FilesUpdated   int
	FilesDeleted   int
	TotalProcessed int
	SyncPath       string
	Cursor         string
	HasMore        bool // more remote pages remain for the next run
	Truncated      bool // the per-run file cap was hit
	LogID          string
	Phase          Phase
	Duration       time.Duration
}

// Lister is the listing half of the Dropbox client.
type Lister interface {
	ListFolder(ctx context.Context, token, path string, recursive bool) (*dropbox.Page, error)
	ListFolderContinue(ctx context.Context, token, cursor string) (*dropbox.Page, error)
}

// TokenVault resolves and refreshes connections.
type TokenVault interface {
	Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error)
	EnsureFresh(ctx context.Context, c *store.Connection) (string, error)
}

// Store is the persistence a run touches.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	GetFolderMapping(ctx context.Context, projectID string) (*store.FolderMapping, error)
	UpsertFolderMapping(ctx context.Context, m *store.FolderMapping) error
	StartSyncLog(ctx context.Context, connectionID, projectID, syncPath string) (*store.SyncLog, error)
	CompleteSyncLog(ctx context.Context, id, status string, counts store.SyncCounts, errMsg string) error
	ListSyncLogs(ctx context.Context, projectID string, limit int) ([]store.SyncLog, error)
	EnsureSyncContainer(ctx context.Context, projectID string) (string, error)
	FindFileRecord(ctx context.Context, projectID, remotePath string) (*store.FileRecord, error)
	InsertFileRecord(ctx context.Context, r *store.FileRecord) error
	UpdateFileRecord(ctx context.Context, r *store.FileRecord) error
	UpdateConnectionSyncState(ctx context.Context, id, cursor, syncPath string, syncedAt time.Time) error
	AcquireLease(ctx context.Context, connectionID, token string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, connectionID, token string) error
}
