package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/framehouse/dropsync/internal/pathguard"
	"github.com/framehouse/dropsync/internal/store"
)

// OrchestratorConfig holds the collaborators of an Orchestrator. The CLI and
// server populate it from resolved config.
type OrchestratorConfig struct {
	Store          Store
	Vault          TokenVault
	Lister         Lister
	TenantRoot     string // normalized; "/" means the whole account
	MaxFilesPerRun int    // 0 uses DefaultMaxFilesPerRun
	Recursive      bool
	Logger         *slog.Logger
}

// Orchestrator runs the sync pipeline for one project at a time. It does
// not serialize runs itself; see Scheduler.
type Orchestrator struct {
	cfg     *OrchestratorConfig
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(cfg *OrchestratorConfig) *Orchestrator {
	if cfg.MaxFilesPerRun <= 0 {
		cfg.MaxFilesPerRun = DefaultMaxFilesPerRun
	}

	if cfg.TenantRoot == "" {
		cfg.TenantRoot = pathguard.Separator
	}

	return &Orchestrator{
		cfg:     cfg,
		logger:  cfg.Logger,
		nowFunc: time.Now,
	}
}

// run carries the mutable state of one Run call.
type run struct {
	req     Request
	project *store.Project
	conn    *store.Connection
	mapping *store.FolderMapping // nil when the project has none yet
	report  *Report
	logger  *slog.Logger
}

func (r *run) enter(p Phase) {
	r.report.Phase = p
	r.logger.Debug("sync phase", slog.String("phase", p.String()))
}

// Run executes one sync for req.ProjectID. Errors before the sync log is
// written (unknown project, no connection, bad path, refresh failure) leave
// no trace in the database; later errors mark the log as failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	start := o.nowFunc()

	r := &run{
		req:    req,
		report: &Report{Phase: PhaseIdle},
		logger: o.logger.With(slog.String("project_id", req.ProjectID)),
	}

	if err := o.prepare(ctx, r); err != nil {
		r.report.Phase = PhaseFailed
		return r.report, err
	}

	token, err := o.cfg.Vault.EnsureFresh(ctx, r.conn)
	if err != nil {
		r.report.Phase = PhaseFailed
		return r.report, err
	}

	syncLog, err := o.cfg.Store.StartSyncLog(ctx, r.conn.ID, req.ProjectID, r.report.SyncPath)
	if err != nil {
		r.report.Phase = PhaseFailed
		return r.report, err
	}

	r.report.LogID = syncLog.ID
	r.logger = r.logger.With(slog.String("sync_log_id", syncLog.ID))

	r.logger.Info("sync started",
		slog.String("connection_id", r.conn.ID),
		slog.String("path", r.report.SyncPath),
		slog.Bool("full_sync", req.FullSync),
	)

	runErr := o.execute(ctx, r, token)
	r.report.Duration = o.nowFunc().Sub(start)

	counts := store.SyncCounts{
		Added:   r.report.FilesAdded,
		Updated: r.report.FilesUpdated,
		Deleted: r.report.FilesDeleted,
	}

	if runErr != nil {
		r.report.Phase = PhaseFailed

		// The run's own context may be what failed; the log must still close.
		if err := o.cfg.Store.CompleteSyncLog(context.WithoutCancel(ctx), syncLog.ID, store.StatusError, counts, runErr.Error()); err != nil {
			r.logger.Error("failed to mark sync log as error", slog.String("error", err.Error()))
		}

		r.logger.Error("sync failed",
			slog.String("error", runErr.Error()),
			slog.Int("files_added", counts.Added),
			slog.Int("files_updated", counts.Updated),
		)

		return r.report, runErr
	}

	if err := o.cfg.Store.CompleteSyncLog(ctx, syncLog.ID, store.StatusSuccess, counts, ""); err != nil {
		r.report.Phase = PhaseFailed
		return r.report, err
	}

	r.report.Phase = PhaseDone

	r.logger.Info("sync complete",
		slog.Int("files_added", counts.Added),
		slog.Int("files_updated", counts.Updated),
		slog.Int("total_processed", r.report.TotalProcessed),
		slog.Bool("has_more", r.report.HasMore),
		slog.Duration("duration", r.report.Duration),
	)

	return r.report, nil
}

// prepare loads the project, resolves its connection, and settles the
// effective sync path. Nothing remote happens here.
func (o *Orchestrator) prepare(ctx context.Context, r *run) error {
	project, err := o.cfg.Store.GetProject(ctx, r.req.ProjectID)
	if err != nil {
		return err
	}

	r.project = project

	conn, err := o.cfg.Vault.Resolve(ctx, project.OrgID, project.ID)
	if err != nil {
		return err
	}

	r.conn = conn

	mapping, err := o.cfg.Store.GetFolderMapping(ctx, project.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}

	r.mapping = mapping

	syncPath := effectivePath(r.req.Path, mapping, conn)

	if r.req.Path != "" {
		if err := o.assertInsideTenant(syncPath); err != nil {
			return err
		}
	}

	r.report.SyncPath = syncPath

	return nil
}

// assertInsideTenant checks an explicitly requested path. Dropbox paths are
// case-insensitive, so both sides are compared lowercased.
func (o *Orchestrator) assertInsideTenant(p string) error {
	if pathguard.HasDotSegment(p) {
		return fmt.Errorf("%w: %q has a relative segment", pathguard.ErrPathOutsideRoot, p)
	}

	root := strings.ToLower(o.cfg.TenantRoot)
	if root == pathguard.Separator {
		return pathguard.AssertInsideRoot(root, p)
	}

	return pathguard.AssertInsideRoot(root, strings.ToLower(p))
}

// effectivePath picks the folder to sync: explicit request, then the
// project's mapped folders, then the connection's last path, then "/".
func effectivePath(explicit string, m *store.FolderMapping, c *store.Connection) string {
	candidates := []string{explicit}

	if m != nil {
		candidates = append(candidates, m.DeliveriesPath, m.BasePath, m.RootPath)
	}

	candidates = append(candidates, c.SyncPath)

	for _, p := range candidates {
		if strings.TrimSpace(p) != "" {
			return pathguard.NormalizeRoot(p)
		}
	}

	return pathguard.Separator
}

// execute is everything after the pending sync log exists.
func (o *Orchestrator) execute(ctx context.Context, r *run, token string) error {
	cursor := r.conn.Cursor

	// A cursor is only meaningful for the path it was issued for.
	if r.req.FullSync || !strings.EqualFold(pathguard.NormalizeRoot(r.conn.SyncPath), r.report.SyncPath) {
		cursor = ""
	}

	r.enter(PhaseListing)

	d := &drainer{
		lister:    o.cfg.Lister,
		token:     token,
		path:      r.report.SyncPath,
		recursive: o.cfg.Recursive,
		maxFiles:  o.cfg.MaxFilesPerRun,
		logger:    r.logger,
	}

	r.enter(PhaseDraining)

	drained, err := d.drain(ctx, cursor)
	if err != nil {
		return err
	}

	r.report.Cursor = drained.cursor
	r.report.HasMore = drained.hasMore
	r.report.Truncated = drained.truncated

	r.logger.Debug("listing drained",
		slog.Int("pages", drained.pages),
		slog.Int("files", len(drained.files)),
		slog.Int("folders", drained.folders),
		slog.Int("deleted_skipped", drained.deleted),
	)

	r.enter(PhaseReconciling)

	containerID, err := o.cfg.Store.EnsureSyncContainer(ctx, r.project.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReconciliationFailed, err)
	}

	counts, err := reconcile(ctx, o.cfg.Store, r.project.ID, containerID, drained.files)
	r.report.FilesAdded = counts.added
	r.report.FilesUpdated = counts.updated
	r.report.TotalProcessed = counts.added + counts.updated

	if err != nil {
		return err
	}

	r.enter(PhasePersisting)

	return o.persist(ctx, r)
}

// persist records the cursor on the connection and mirrors the path onto the
// project's folder mapping.
func (o *Orchestrator) persist(ctx context.Context, r *run) error {
	now := o.nowFunc()

	if err := o.cfg.Store.UpdateConnectionSyncState(ctx, r.conn.ID, r.report.Cursor, r.report.SyncPath, now); err != nil {
		return err
	}

	m := r.mapping
	if m == nil {
		m = &store.FolderMapping{ProjectID: r.project.ID}
	}

	mirrorPaths(m, o.cfg.TenantRoot, r.report.SyncPath)

	return o.cfg.Store.UpsertFolderMapping(ctx, m)
}

// deliveriesFolder is the provisioned subfolder that receives client deliveries.
const deliveriesFolder = "deliveries"

// mirrorPaths fills the mapping's empty path fields. Paths set by
// provisioning are never overwritten.
func mirrorPaths(m *store.FolderMapping, tenantRoot, syncPath string) {
	if m.RootPath == "" {
		m.RootPath = tenantRoot
	}

	if m.BasePath == "" {
		m.BasePath = syncPath
	}

	if m.DeliveriesPath == "" && strings.EqualFold(path.Base(syncPath), deliveriesFolder) {
		m.DeliveriesPath = syncPath
	}
}

// Logs returns the latest sync logs of a project, newest first.
func (o *Orchestrator) Logs(ctx context.Context, projectID string, limit int) ([]store.SyncLog, error) {
	return o.cfg.Store.ListSyncLogs(ctx, projectID, limit)
}
