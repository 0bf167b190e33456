package dropbox

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Entry tags as reported in the ".tag" field of list_folder entries.
const (
	TagFile    = "file"
	TagFolder  = "folder"
	TagDeleted = "deleted"
)

// Entry is one item in a list_folder page.
type Entry struct {
	Tag            string    `json:".tag"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	PathDisplay    string    `json:"path_display"`
	ID             string    `json:"id,omitempty"`
	Rev            string    `json:"rev,omitempty"`
	Size           int64     `json:"size,omitempty"`
	ClientModified time.Time `json:"client_modified,omitzero"`
	ServerModified time.Time `json:"server_modified,omitzero"`
	ContentHash    string    `json:"content_hash,omitempty"`
}

// IsFile reports whether the entry is a file (not a folder or deletion).
func (e *Entry) IsFile() bool {
	return e.Tag == TagFile
}

// Page is one page of a folder listing.
type Page struct {
	Entries []Entry `json:"entries"`
	Cursor  string  `json:"cursor"`
	HasMore bool    `json:"has_more"`
}

// FolderMetadata describes a folder returned by create_folder_v2.
type FolderMetadata struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PathLower   string `json:"path_lower"`
	PathDisplay string `json:"path_display"`

	// Existed is true when the folder was already present (conflict treated as success).
	Existed bool `json:"-"`
}

type listFolderArgs struct {
	Path           string `json:"path"`
	Recursive      bool   `json:"recursive"`
	IncludeDeleted bool   `json:"include_deleted"`
	Limit          int    `json:"limit,omitempty"`
}

type listFolderContinueArgs struct {
	Cursor string `json:"cursor"`
}

type pathArgs struct {
	Path string `json:"path"`
}

type createFolderArgs struct {
	Path       string `json:"path"`
	Autorename bool   `json:"autorename"`
}

type createFolderResult struct {
	Metadata FolderMetadata `json:"metadata"`
}

type temporaryLinkResult struct {
	Link string `json:"link"`
}

// apiPath converts a canonical path into the form Dropbox expects: the
// account root is the empty string, not "/".
func apiPath(p string) string {
	if p == "/" {
		return ""
	}

	return p
}

// ListFolder fetches the first page of a folder listing.
func (c *Client) ListFolder(ctx context.Context, token, path string, recursive bool) (*Page, error) {
	c.logger.Info("listing folder",
		slog.String("path", path),
		slog.Bool("recursive", recursive),
	)

	var page Page

	err := c.rpc(ctx, token, "/files/list_folder", listFolderArgs{
		Path:           apiPath(path),
		Recursive:      recursive,
		IncludeDeleted: true,
		Limit:          c.pageLimit,
	}, &page)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetched listing page",
		slog.Int("entries", len(page.Entries)),
		slog.Bool("has_more", page.HasMore),
	)

	return &page, nil
}

// ListFolderContinue fetches the page following cursor.
func (c *Client) ListFolderContinue(ctx context.Context, token, cursor string) (*Page, error) {
	var page Page

	if err := c.rpc(ctx, token, "/files/list_folder/continue", listFolderContinueArgs{Cursor: cursor}, &page); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched continuation page",
		slog.Int("entries", len(page.Entries)),
		slog.Bool("has_more", page.HasMore),
	)

	return &page, nil
}

// CreateFolder creates path. An existing folder is not an error: the
// returned metadata has Existed set and echoes the requested path.
func (c *Client) CreateFolder(ctx context.Context, token, path string) (*FolderMetadata, error) {
	var res createFolderResult

	err := c.rpc(ctx, token, "/files/create_folder_v2", createFolderArgs{Path: path}, &res)
	if errors.Is(err, ErrConflict) {
		c.logger.Debug("folder already exists", slog.String("path", path))

		return &FolderMetadata{PathDisplay: path, Existed: true}, nil
	}

	if err != nil {
		return nil, err
	}

	c.logger.Info("created folder", slog.String("path", res.Metadata.PathDisplay))

	return &res.Metadata, nil
}

// TemporaryLink returns a short-lived direct URL for a file, or nil when
// one cannot be obtained. Callers treat nil as "not previewable right now".
func (c *Client) TemporaryLink(ctx context.Context, token, path string) *string {
	var res temporaryLinkResult

	if err := c.rpc(ctx, token, "/files/get_temporary_link", pathArgs{Path: path}, &res); err != nil {
		c.logger.Warn("temporary link unavailable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if res.Link == "" {
		return nil
	}

	return &res.Link
}
