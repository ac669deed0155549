package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toolmux/toolmux/protocol"
)

// ListResources fetches one page of the server's resource catalog.
func (c *Client) ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error) {
	raw, err := c.SendRequest(ctx, protocol.MethodListResources, protocol.ListResourcesParams{Cursor: cursor})
	if err != nil {
		return nil, err
	}
	var result protocol.ListResourcesResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode resources/list result: %w", err)
	}
	return &result, nil
}

// ListAllResources follows pagination cursors until the catalog is
// exhausted.
func (c *Client) ListAllResources(ctx context.Context) ([]protocol.Resource, error) {
	var resources []protocol.Resource
	cursor := ""
	for {
		page, err := c.ListResources(ctx, cursor)
		if err != nil {
			return nil, err
		}
		resources = append(resources, page.Resources...)
		if page.NextCursor == "" {
			return resources, nil
		}
		cursor = page.NextCursor
	}
}

// ReadResource fetches the contents behind a resource URI.
func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	raw, err := c.SendRequest(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, err
	}
	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode resources/read result: %w", err)
	}
	return &result, nil
}
