package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/toolmux/toolmux/protocol"
)

// ListTools fetches one page of the server's tool catalog. An empty
// cursor asks for the first page.
func (c *Client) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	raw, err := c.SendRequest(ctx, protocol.MethodListTools, protocol.ListToolsParams{Cursor: cursor})
	if err != nil {
		return nil, err
	}
	var result protocol.ListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return &result, nil
}

// ListAllTools follows pagination cursors until the catalog is
// exhausted.
func (c *Client) ListAllTools(ctx context.Context) ([]protocol.Tool, error) {
	var tools []protocol.Tool
	cursor := ""
	for {
		page, err := c.ListTools(ctx, cursor)
		if err != nil {
			return nil, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			return tools, nil
		}
		cursor = page.NextCursor
	}
}

// CallTool invokes a tool by its server-local name. A result with
// IsError set is returned as-is: tool failures are data, not Go
// errors.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	return c.callTool(ctx, protocol.CallToolParams{Name: name, Arguments: args})
}

// CallToolWithProgress invokes a tool and streams progress
// notifications carrying the request's token to onProgress. The
// handler runs on the reader goroutine and must not block.
func (c *Client) CallToolWithProgress(ctx context.Context, name string, args map[string]interface{}, onProgress func(protocol.ProgressParams)) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{Name: name, Arguments: args}
	if onProgress != nil {
		token := protocol.NewProgressToken()
		params.Meta = &protocol.RequestMeta{ProgressToken: token}

		c.mu.Lock()
		c.onProgress[token] = onProgress
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.onProgress, token)
			c.mu.Unlock()
		}()
	}
	return c.callTool(ctx, params)
}

func (c *Client) callTool(ctx context.Context, params protocol.CallToolParams) (*protocol.CallToolResult, error) {
	raw, err := c.SendRequest(ctx, protocol.MethodCallTool, params)
	if err != nil {
		return nil, err
	}
	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &result, nil
}

// Ping checks liveness over the existing connection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendRequest(ctx, protocol.MethodPing, protocol.PingParams{})
	return err
}
