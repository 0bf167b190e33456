// Package provision creates a project's folder tree inside the tenant root
// and records the resulting paths and shared links.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/framehouse/dropsync/internal/dropbox"
	"github.com/framehouse/dropsync/internal/pathguard"
	"github.com/framehouse/dropsync/internal/store"
)

// DeliveriesFolder receives client deliveries and gets its own shared link.
const DeliveriesFolder = "Deliveries"

// Subfolders are created under every provisioned project folder.
var Subfolders = []string{DeliveriesFolder, "Brief", "References", "Assets", "Archive"}

// ErrMissingName is returned when no usable project folder name is given.
var ErrMissingName = errors.New("provision: folder name required")

// FolderClient is the folder and link half of the Dropbox client.
type FolderClient interface {
	CreateFolder(ctx context.Context, token, path string) (*dropbox.FolderMetadata, error)
	CreateSharedLink(ctx context.Context, token, path string) (string, error)
}

// TokenVault resolves and refreshes connections.
type TokenVault interface {
	Resolve(ctx context.Context, orgID, projectID string) (*store.Connection, error)
	EnsureFresh(ctx context.Context, c *store.Connection) (string, error)
}

// Store is the persistence provisioning touches.
type Store interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	GetFolderMapping(ctx context.Context, projectID string) (*store.FolderMapping, error)
	UpsertFolderMapping(ctx context.Context, m *store.FolderMapping) error
}

// Request names the folder to provision. ClientName and ProjectName are
// optional; ProjectName falls back to FolderName, then the project's name.
type Request struct {
	ProjectID   string
	FolderName  string
	ClientName  string
	ProjectName string
}

// Result is what the caller shows once the tree exists.
type Result struct {
	Path           string `json:"path"`
	DeliveriesPath string `json:"deliveriesPath"`
	FolderID       string `json:"folderId"`
	FolderURL      string `json:"folderUrl"`
	DeliveriesURL  string `json:"deliveriesUrl"`
}

// Provisioner creates project folders.
type Provisioner struct {
	store      Store
	vault      TokenVault
	client     FolderClient
	tenantRoot string
	logger     *slog.Logger
}

// NewProvisioner returns a Provisioner confined to tenantRoot.
func NewProvisioner(st Store, v TokenVault, client FolderClient, tenantRoot string, logger *slog.Logger) *Provisioner {
	return &Provisioner{
		store:      st,
		vault:      v,
		client:     client,
		tenantRoot: pathguard.NormalizeRoot(tenantRoot),
		logger:     logger,
	}
}

// ProvisionProjectFolder builds and checks the project path, creates the
// folder and its standard subfolders, links the root and Deliveries
// folders, and stores the folder mapping. Any error other than an
// already-existing folder aborts the call.
func (p *Provisioner) ProvisionProjectFolder(ctx context.Context, req Request) (*Result, error) {
	project, err := p.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	folderPath, err := p.projectPath(req, project)
	if err != nil {
		return nil, err
	}

	deliveriesPath := pathguard.Join(folderPath, DeliveriesFolder)

	logger := p.logger.With(
		slog.String("project_id", project.ID),
		slog.String("path", folderPath),
	)

	conn, err := p.vault.Resolve(ctx, project.OrgID, project.ID)
	if err != nil {
		return nil, err
	}

	token, err := p.vault.EnsureFresh(ctx, conn)
	if err != nil {
		return nil, err
	}

	root, err := p.client.CreateFolder(ctx, token, folderPath)
	if err != nil {
		return nil, fmt.Errorf("provision: creating %s: %w", folderPath, err)
	}

	if err := p.createSubfolders(ctx, token, folderPath); err != nil {
		return nil, err
	}

	folderURL, err := p.client.CreateSharedLink(ctx, token, folderPath)
	if err != nil {
		return nil, fmt.Errorf("provision: linking %s: %w", folderPath, err)
	}

	deliveriesURL, err := p.client.CreateSharedLink(ctx, token, deliveriesPath)
	if err != nil {
		return nil, fmt.Errorf("provision: linking %s: %w", deliveriesPath, err)
	}

	res := &Result{
		Path:           folderPath,
		DeliveriesPath: deliveriesPath,
		FolderID:       root.ID,
		FolderURL:      folderURL,
		DeliveriesURL:  deliveriesURL,
	}

	if err := p.saveMapping(ctx, project.ID, res); err != nil {
		return nil, err
	}

	logger.Info("project folder provisioned",
		slog.Bool("existed", root.Existed),
		slog.String("folder_id", res.FolderID),
	)

	return res, nil
}

// projectPath sanitizes the names and confines the result to the tenant
// root. It runs before any remote call.
func (p *Provisioner) projectPath(req Request, project *store.Project) (string, error) {
	name := firstNonBlank(req.ProjectName, req.FolderName, project.Name)
	if name == "" {
		return "", ErrMissingName
	}

	client := firstNonBlank(req.ClientName, project.ClientName)

	folderPath, err := pathguard.ProjectPath(p.tenantRoot, client, name)
	if err != nil {
		return "", err
	}

	err = pathguard.AssertInsideRoot(p.tenantRoot, folderPath)
	if err == nil && pathguard.HasDotSegment(folderPath) {
		err = fmt.Errorf("%w: %q has a relative segment", pathguard.ErrPathOutsideRoot, folderPath)
	}

	if err != nil {
		p.logger.Warn("rejected project folder outside tenant root",
			slog.String("project_id", project.ID),
			slog.String("path", folderPath),
		)

		return "", err
	}

	return folderPath, nil
}

// createSubfolders creates the standard subfolders concurrently. The first
// failure cancels the rest and is returned.
func (p *Provisioner) createSubfolders(ctx context.Context, token, parent string) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, name := range Subfolders {
		sub := pathguard.Join(parent, name)

		g.Go(func() error {
			if _, err := p.client.CreateFolder(gctx, token, sub); err != nil {
				return fmt.Errorf("provision: creating %s: %w", sub, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// saveMapping overwrites the project's folder mapping. When the root folder
// already existed Dropbox returns no id, so a previously stored one is kept.
func (p *Provisioner) saveMapping(ctx context.Context, projectID string, res *Result) error {
	if res.FolderID == "" {
		prev, err := p.store.GetFolderMapping(ctx, projectID)

		switch {
		case err == nil:
			res.FolderID = prev.FolderID
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
	}

	return p.store.UpsertFolderMapping(ctx, &store.FolderMapping{
		ProjectID:      projectID,
		RootPath:       p.tenantRoot,
		BasePath:       res.Path,
		DeliveriesPath: res.DeliveriesPath,
		FolderID:       res.FolderID,
		RootURL:        res.FolderURL,
		DeliveriesURL:  res.DeliveriesURL,
	})
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}
