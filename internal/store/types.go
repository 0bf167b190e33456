package store

import "time"

// Sync log statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusError   = "error"
)

// KindSyncContainer marks the per-project deliverable that anchors synced
// files not attached to an explicit deliverable.
const KindSyncContainer = "sync_container"

// Project is the engine's read model of a business-app project.
type Project struct {
	ID         string
	OrgID      string
	Name       string
	ClientName string
}

// Connection is a stored Dropbox credential scoped to an organization
// (ProjectID empty) or a single project. Token material is kept in three
// column variants for migration compatibility; see vault for decoding order.
type Connection struct {
	ID        string
	OrgID     string
	ProjectID string
	AccountID string

	AccessTokenEncrypted  string // current tagged format ("v2:...")
	AccessTokenCiphertext string // legacy ciphertext
	AccessTokenPlain      string // legacy plaintext

	RefreshTokenEncrypted  string
	RefreshTokenCiphertext string
	RefreshTokenPlain      string

	TokenExpiresAt time.Time // zero = never expires
	Cursor         string
	SyncPath       string
	LastSyncedAt   time.Time
	RevokedAt      time.Time // zero = active
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsOrgScope reports whether the connection applies to the whole organization.
func (c *Connection) IsOrgScope() bool {
	return c.ProjectID == ""
}

// Active reports whether the connection has not been revoked.
func (c *Connection) Active() bool {
	return c.RevokedAt.IsZero()
}

// TokenUpdate carries a refreshed access token in every stored format.
// The plaintext column is cleared on write.
type TokenUpdate struct {
	AccessTokenEncrypted  string
	AccessTokenCiphertext string
	ExpiresAt             time.Time
}

// FileRecord mirrors one remote file. (ProjectID, RemotePath) is unique.
type FileRecord struct {
	ID            string
	ProjectID     string
	DeliverableID string
	RemotePath    string // Dropbox path_lower
	DisplayPath   string
	Filename      string
	Category      string
	VersionLabel  *string
	FolderPhase   string
	MimeType      string
	Size          int64
	ModifiedAt    time.Time
	RemoteID      string
	RemoteRev     string
	ContentHash   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SyncLog is the audit row for one orchestrator run.
type SyncLog struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	ProjectID    string    `json:"projectId"`
	SyncPath     string    `json:"syncPath"`
	Status       string    `json:"status"`
	FilesAdded   int       `json:"filesAdded"`
	FilesUpdated int       `json:"filesUpdated"`
	FilesDeleted int       `json:"filesDeleted"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	CompletedAt  time.Time `json:"completedAt,omitzero"`
}

// FolderMapping records a project's provisioned folder paths and links.
type FolderMapping struct {
	ProjectID      string
	RootPath       string
	BasePath       string
	DeliveriesPath string
	FolderID       string
	RootURL        string
	DeliveriesURL  string
	UpdatedAt      time.Time
}
