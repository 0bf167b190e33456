package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/store"
)

// insertLimitStore fails every insert after the first n.
type insertLimitStore struct {
	*store.Store
	n int
}

var errDiskFull = errors.New("disk full")

func (s *insertLimitStore) InsertFileRecord(ctx context.Context, r *store.FileRecord) error {
	if s.n == 0 {
		return errDiskFull
	}

	s.n--

	return s.Store.InsertFileRecord(ctx, r)
}

func TestReconcile_AddsThenUpdates(t *testing.T) {
	f := newFixture(t, nil, 10)
	ctx := t.Context()

	container, err := f.st.EnsureSyncContainer(ctx, testProject)
	require.NoError(t, err)

	files := fileEntries("/Studio/Acme", 3)

	counts, err := reconcile(ctx, f.st, testProject, container, files)
	require.NoError(t, err)
	assert.Equal(t, reconcileCounts{added: 3}, counts)

	files[0].Rev = "rev2"
	files[0].Size = 99

	counts, err = reconcile(ctx, f.st, testProject, container, files)
	require.NoError(t, err)
	assert.Equal(t, reconcileCounts{updated: 3}, counts, "unchanged records count as updated")

	rec, err := f.st.FindFileRecord(ctx, testProject, files[0].PathLower)
	require.NoError(t, err)
	assert.Equal(t, "rev2", rec.RemoteRev)
	assert.Equal(t, int64(99), rec.Size)
	assert.Equal(t, container, rec.DeliverableID)

	n, err := f.st.CountFileRecords(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReconcile_FailureKeepsEarlierWrites(t *testing.T) {
	f := newFixture(t, nil, 10)
	ctx := t.Context()

	container, err := f.st.EnsureSyncContainer(ctx, testProject)
	require.NoError(t, err)

	st := &insertLimitStore{Store: f.st, n: 2}

	counts, err := reconcile(ctx, st, testProject, container, fileEntries("/Studio/Acme", 5))
	require.ErrorIs(t, err, ErrReconciliationFailed)
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 2, counts.added)

	n, err := f.st.CountFileRecords(ctx, testProject)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestModifiedAt_PrefersServerTime(t *testing.T) {
	client := testEpoch.Add(-48 * time.Hour)

	e := &dropbox.Entry{ServerModified: testEpoch, ClientModified: client}
	assert.Equal(t, testEpoch, modifiedAt(e))

	e = &dropbox.Entry{ClientModified: client}
	assert.Equal(t, client, modifiedAt(e))
}
