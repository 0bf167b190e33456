package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/framehouse/dropsync/internal/classify"
	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/store"
)

// reconcileCounts tallies writes made by one reconcile pass.
type reconcileCounts struct {
	added   int
	updated int
}

// reconcile upserts one record per file keyed by (projectID, path_lower).
// Each write commits on its own: a failure stops the pass but leaves
// earlier records in place.
func reconcile(
	ctx context.Context, st Store, projectID, containerID string, files []dropbox.Entry,
) (reconcileCounts, error) {
	var counts reconcileCounts

	for i := range files {
		rec := recordFromEntry(projectID, containerID, &files[i])

		existing, err := st.FindFileRecord(ctx, projectID, rec.RemotePath)

		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := st.InsertFileRecord(ctx, rec); err != nil {
				return counts, fmt.Errorf("%w: inserting %s: %w", ErrReconciliationFailed, rec.RemotePath, err)
			}

			counts.added++
		case err != nil:
			return counts, fmt.Errorf("%w: looking up %s: %w", ErrReconciliationFailed, rec.RemotePath, err)
		default:
			rec.ID = existing.ID
			rec.CreatedAt = existing.CreatedAt

			// A record already attached to a real deliverable stays there.
			if existing.DeliverableID != "" {
				rec.DeliverableID = existing.DeliverableID
			}

			if err := st.UpdateFileRecord(ctx, rec); err != nil {
				return counts, fmt.Errorf("%w: updating %s: %w", ErrReconciliationFailed, rec.RemotePath, err)
			}

			counts.updated++
		}
	}

	return counts, nil
}

// recordFromEntry builds the record for one listed file. It is a pure
// function of its inputs.
func recordFromEntry(projectID, containerID string, e *dropbox.Entry) *store.FileRecord {
	result := classify.Categorize(e.Name, e.PathDisplay)

	return &store.FileRecord{
		ProjectID:     projectID,
		DeliverableID: containerID,
		RemotePath:    e.PathLower,
		DisplayPath:   e.PathDisplay,
		Filename:      e.Name,
		Category:      result.Category,
		VersionLabel:  result.VersionLabel,
		FolderPhase:   result.FolderPhase,
		MimeType:      classify.MimeType(e.Name),
		Size:          e.Size,
		ModifiedAt:    modifiedAt(e),
		RemoteID:      e.ID,
		RemoteRev:     e.Rev,
		ContentHash:   e.ContentHash,
	}
}

// modifiedAt prefers the server timestamp; client_modified can be set
// arbitrarily by uploaders.
func modifiedAt(e *dropbox.Entry) time.Time {
	if !e.ServerModified.IsZero() {
		return e.ServerModified.UTC()
	}

	return e.ClientModified.UTC()
}
