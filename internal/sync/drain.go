package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/framehouse/dropsync/internal/dropbox"
)

// drainResult is what one run pulled from the remote listing.
type drainResult struct {
	files     []dropbox.Entry
	cursor    string // cursor to persist: the last fully drained page
	hasMore   bool
	truncated bool
	deleted   int // deleted entries seen and skipped
	folders   int
	pages     int
}

// drainer pages through one listing sequentially. Pages are never fetched
// concurrently so cursors advance in order.
type drainer struct {
	lister    Lister
	token     string
	path      string
	recursive bool
	maxFiles  int
	logger    *slog.Logger
}

// drain lists from scratch when cursor is empty, otherwise continues from
// it. A reset cursor falls back to a full listing.
func (d *drainer) drain(ctx context.Context, cursor string) (*drainResult, error) {
	page, err := d.first(ctx, cursor)
	if err != nil {
		return nil, err
	}

	res := &drainResult{cursor: cursor}
	if page.fromScratch {
		res.cursor = ""
	}

	for p := page.Page; ; {
		res.pages++

		if full := d.take(res, p); full {
			return res, nil
		}

		res.cursor = p.Cursor

		if !p.HasMore {
			return res, nil
		}

		next, err := d.lister.ListFolderContinue(ctx, d.token, p.Cursor)
		if err != nil {
			return nil, fmt.Errorf("sync: listing page %d: %w", res.pages+1, err)
		}

		p = next
	}
}

type firstPage struct {
	*dropbox.Page
	fromScratch bool
}

func (d *drainer) first(ctx context.Context, cursor string) (firstPage, error) {
	if cursor != "" {
		page, err := d.lister.ListFolderContinue(ctx, d.token, cursor)
		if err == nil {
			return firstPage{Page: page}, nil
		}

		if !errors.Is(err, dropbox.ErrCursorReset) {
			return firstPage{}, fmt.Errorf("sync: continuing listing: %w", err)
		}

		d.logger.Warn("stored cursor was reset, listing from scratch",
			slog.String("path", d.path),
		)
	}

	page, err := d.lister.ListFolder(ctx, d.token, d.path, d.recursive)
	if err != nil {
		return firstPage{}, fmt.Errorf("sync: listing %s: %w", d.path, err)
	}

	return firstPage{Page: page, fromScratch: true}, nil
}

// take accumulates the file entries of p. It reports true when the per-run
// cap stops the drain. A page that would cross the cap is cut short and its
// cursor is not adopted, so the next run re-lists that page in full. The
// first page of a run is the exception: it is always taken whole, since
// cutting it would leave the cursor where it started on every run.
func (d *drainer) take(res *drainResult, p *dropbox.Page) bool {
	files := make([]dropbox.Entry, 0, len(p.Entries))

	for i := range p.Entries {
		e := p.Entries[i]

		switch e.Tag {
		case dropbox.TagFile:
			files = append(files, e)
		case dropbox.TagDeleted:
			res.deleted++
			d.logger.Debug("skipping deleted entry", slog.String("path", e.PathLower))
		default:
			res.folders++
		}
	}

	room := d.maxFiles - len(res.files)
	if len(files) > room && res.pages == 1 {
		res.files = append(res.files, files...)
		res.cursor = p.Cursor
		res.truncated = true
		res.hasMore = p.HasMore

		d.logger.Warn("first page exceeds per-run file cap, taking it whole",
			slog.Int("cap", d.maxFiles),
			slog.Int("page_files", len(files)),
		)

		return true
	}

	if len(files) > room {
		res.files = append(res.files, files[:room]...)
		res.truncated = true
		res.hasMore = true

		d.logger.Info("per-run file cap reached, deferring rest of listing",
			slog.Int("cap", d.maxFiles),
			slog.Int("deferred_on_page", len(files)-room),
		)

		return true
	}

	res.files = append(res.files, files...)

	if len(res.files) == d.maxFiles && p.HasMore {
		res.cursor = p.Cursor
		res.truncated = true
		res.hasMore = true

		d.logger.Info("per-run file cap reached at page boundary", slog.Int("cap", d.maxFiles))

		return true
	}

	return false
}
