package sync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/store"
	"github.com/framehouse/dropsync/internal/vault"
)

var testEpoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// fakeLister serves a fixed set of entries in pages. Cursors are "cur-N"
// where N is the number of pages already served.
type fakeLister struct {
	mu        gosync.Mutex
	entries   []dropbox.Entry
	pageSize  int
	reset     map[string]bool // cursors answered with ErrCursorReset
	failPage  int             // 1-based page that fails; 0 = never
	listCalls []string        // paths passed to ListFolder
	contCalls []string        // cursors passed to ListFolderContinue
	tokens    map[string]int  // access tokens seen
}

func newFakeLister(entries []dropbox.Entry, pageSize int) *fakeLister {
	return &fakeLister{
		entries:  entries,
		pageSize: pageSize,
		reset:    map[string]bool{},
		tokens:   map[string]int{},
	}
}

func (f *fakeLister) pages() int {
	n := (len(f.entries) + f.pageSize - 1) / f.pageSize
	if n == 0 {
		return 1
	}

	return n
}

func (f *fakeLister) page(idx int) (*dropbox.Page, error) {
	if f.failPage == idx+1 {
		return nil, fmt.Errorf("%w: HTTP 500", dropbox.ErrServerError)
	}

	total := f.pages()
	if idx >= total {
		// Past the end: an unchanged folder yields an empty page.
		return &dropbox.Page{Cursor: fmt.Sprintf("cur-%d", total)}, nil
	}

	lo := idx * f.pageSize
	hi := min(lo+f.pageSize, len(f.entries))

	return &dropbox.Page{
		Entries: append([]dropbox.Entry(nil), f.entries[lo:hi]...),
		Cursor:  fmt.Sprintf("cur-%d", idx+1),
		HasMore: idx+1 < total,
	}, nil
}

func (f *fakeLister) ListFolder(_ context.Context, token, path string, _ bool) (*dropbox.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens[token]++
	f.listCalls = append(f.listCalls, path)

	return f.page(0)
}

func (f *fakeLister) ListFolderContinue(_ context.Context, token, cursor string) (*dropbox.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.tokens[token]++
	f.contCalls = append(f.contCalls, cursor)

	if f.reset[cursor] {
		return nil, &dropbox.APIError{StatusCode: 409, Summary: "reset/..", Err: dropbox.ErrCursorReset}
	}

	var served int
	if _, err := fmt.Sscanf(cursor, "cur-%d", &served); err != nil {
		return nil, fmt.Errorf("%w: bad cursor %q", dropbox.ErrBadRequest, cursor)
	}

	return f.page(served)
}

func fileEntries(dir string, n int) []dropbox.Entry {
	out := make([]dropbox.Entry, 0, n)

	for i := range n {
		name := fmt.Sprintf("clip_%05d.mp4", i)
		display := dir + "/" + name

		out = append(out, dropbox.Entry{
			Tag:            dropbox.TagFile,
			Name:           name,
			PathDisplay:    display,
			PathLower:      strings.ToLower(display),
			ID:             fmt.Sprintf("id:%d", i),
			Rev:            "rev1",
			Size:           int64(1000 + i),
			ServerModified: testEpoch.Add(-time.Duration(i) * time.Minute),
		})
	}

	return out
}

// fakeVault resolves the single stored connection and hands out a token.
type fakeVault struct {
	st         *store.Store
	connID     string
	refreshErr error
	fresh      int
}

func (v *fakeVault) Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error) {
	if v.connID == "" {
		return nil, fmt.Errorf("%w: org %s project %s", vault.ErrNotConnected, orgID, projectID)
	}

	return v.st.GetConnection(ctx, v.connID)
}

func (v *fakeVault) EnsureFresh(_ context.Context, _ *store.Connection) (string, error) {
	v.fresh++

	if v.refreshErr != nil {
		return "", v.refreshErr
	}

	return "access-token", nil
}

type fixture struct {
	st     *store.Store
	vault  *fakeVault
	lister *fakeLister
	orch   *Orchestrator
	conn   *store.Connection
}

const testProject = "proj-1"

func newFixture(t *testing.T, entries []dropbox.Entry, pageSize int) *fixture {
	t.Helper()

	ctx := t.Context()
	logger := slog.New(slog.DiscardHandler)

	st, err := store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "sync.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.UpsertProject(ctx, store.Project{ID: testProject, OrgID: "org-1", Name: "Launch", ClientName: "Acme"}))

	conn := &store.Connection{OrgID: "org-1", AccessTokenPlain: "unused"}
	require.NoError(t, st.CreateConnection(ctx, conn))

	f := &fixture{
		st:     st,
		vault:  &fakeVault{st: st, connID: conn.ID},
		lister: newFakeLister(entries, pageSize),
		conn:   conn,
	}

	f.orch = NewOrchestrator(&OrchestratorConfig{
		Store:      st,
		Vault:      f.vault,
		Lister:     f.lister,
		TenantRoot: "/Studio",
		Recursive:  true,
		Logger:     logger,
	})
	f.orch.nowFunc = func() time.Time { return testEpoch }

	return f
}

func (f *fixture) logs(t *testing.T) []store.SyncLog {
	t.Helper()

	logs, err := f.st.ListSyncLogs(t.Context(), testProject, 50)
	require.NoError(t, err)

	return logs
}

func (f *fixture) connection(t *testing.T) *store.Connection {
	t.Helper()

	c, err := f.st.GetConnection(t.Context(), f.conn.ID)
	require.NoError(t, err)

	return c
}
