package dropbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type createSharedLinkArgs struct {
	Path     string             `json:"path"`
	Settings sharedLinkSettings `json:"settings"`
}

type sharedLinkSettings struct {
	RequestedVisibility string `json:"requested_visibility"`
}

type sharedLink struct {
	URL string `json:"url"`
}

type listSharedLinksArgs struct {
	Path       string `json:"path"`
	DirectOnly bool   `json:"direct_only"`
}

type listSharedLinksResult struct {
	Links []sharedLink `json:"links"`
}

// CreateSharedLink returns a public shared link for path. When a link
// already exists it is looked up and reused.
func (c *Client) CreateSharedLink(ctx context.Context, token, path string) (string, error) {
	var link sharedLink

	err := c.rpc(ctx, token, "/sharing/create_shared_link_with_settings", createSharedLinkArgs{
		Path:     path,
		Settings: sharedLinkSettings{RequestedVisibility: "public"},
	}, &link)

	switch {
	case err == nil:
		c.logger.Info("created shared link", slog.String("path", path))
		return link.URL, nil
	case errors.Is(err, ErrSharedLinkExists):
		return c.existingSharedLink(ctx, token, path)
	default:
		return "", err
	}
}

func (c *Client) existingSharedLink(ctx context.Context, token, path string) (string, error) {
	var res listSharedLinksResult

	if err := c.rpc(ctx, token, "/sharing/list_shared_links", listSharedLinksArgs{
		Path:       path,
		DirectOnly: true,
	}, &res); err != nil {
		return "", err
	}

	if len(res.Links) == 0 || res.Links[0].URL == "" {
		return "", fmt.Errorf("%w: shared link reported as existing but none listed for %s", ErrRequestFailed, path)
	}

	c.logger.Debug("reusing existing shared link", slog.String("path", path))

	return res.Links[0].URL, nil
}
