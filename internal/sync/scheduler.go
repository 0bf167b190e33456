package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// runner is the part of Orchestrator the scheduler drives. Tests inject fakes.
type runner interface {
	Run(ctx context.Context, req Request) (*Report, error)
}

// projectResolver maps a project to the connection that would serve it.
type projectResolver interface {
	ConnectionFor(ctx context.Context, projectID string) (string, error)
}

// Scheduler guarantees at most one run per connection at a time by taking
// the connection's sync lease before calling the orchestrator.
type Scheduler struct {
	runner   runner
	resolver projectResolver
	store    Store
	ttl      time.Duration
	logger   *slog.Logger
}

// NewScheduler wraps o with lease handling. ttl <= 0 uses DefaultLeaseTTL.
func NewScheduler(o *Orchestrator, ttl time.Duration) *Scheduler {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	return &Scheduler{
		runner:   o,
		resolver: o,
		store:    o.cfg.Store,
		ttl:      ttl,
		logger:   o.logger,
	}
}

// ConnectionFor resolves the connection id serving a project.
func (o *Orchestrator) ConnectionFor(ctx context.Context, projectID string) (string, error) {
	project, err := o.cfg.Store.GetProject(ctx, projectID)
	if err != nil {
		return "", err
	}

	conn, err := o.cfg.Vault.Resolve(ctx, project.OrgID, project.ID)
	if err != nil {
		return "", err
	}

	return conn.ID, nil
}

// Run acquires the lease, runs the orchestrator, and releases the lease.
// It returns ErrSyncInProgress without running when the lease is held.
// A panic inside the run is recovered and returned as an error.
func (s *Scheduler) Run(ctx context.Context, req Request) (report *Report, err error) {
	connID, err := s.resolver.ConnectionFor(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()

	ok, err := s.store.AcquireLease(ctx, connID, token, s.ttl)
	if err != nil {
		return nil, err
	}

	if !ok {
		s.logger.Info("sync skipped, lease held",
			slog.String("project_id", req.ProjectID),
			slog.String("connection_id", connID),
		)

		return nil, fmt.Errorf("%w: connection %s", ErrSyncInProgress, connID)
	}

	defer func() {
		if rerr := s.store.ReleaseLease(context.WithoutCancel(ctx), connID, token); rerr != nil {
			s.logger.Warn("failed to release sync lease",
				slog.String("connection_id", connID),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			report = nil
			err = fmt.Errorf("sync: panic in run for project %s: %v", req.ProjectID, r)
		}
	}()

	return s.runner.Run(ctx, req)
}
