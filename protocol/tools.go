package protocol

import (
	"encoding/json"
	"fmt"
)

// --- Tooling Structures ---

// ToolInputSchema describes a tool's expected arguments as a JSON
// Schema subset.
type ToolInputSchema struct {
	Type       string                    `json:"type"` // typically "object"
	Properties map[string]PropertyDetail `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertyDetail describes a single parameter within a ToolInputSchema.
type PropertyDetail struct {
	Type        string        `json:"type"`
	Description string        `json:"description,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
	Format      string        `json:"format,omitempty"`
}

// Tool is one tool a server advertises.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"inputSchema"`
}

// ListToolsParams is the payload of a 'tools/list' request.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is the payload of a successful 'tools/list' response.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams is the payload of a 'tools/call' request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Meta      *RequestMeta           `json:"_meta,omitempty"`
}

// CallToolResult is the payload of a 'tools/call' response. IsError
// marks a failure of the tool itself, carried in Content; protocol
// failures arrive as error responses instead.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// UnmarshalJSON decodes the content blocks through the type
// discriminator. An alias type keeps the default decoding for the
// remaining fields.
func (r *CallToolResult) UnmarshalJSON(data []byte) error {
	type alias CallToolResult
	aux := &struct {
		Content []json.RawMessage `json:"content"`
		*alias
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("decode tool call result: %w", err)
	}
	content, err := decodeContentList(aux.Content)
	if err != nil {
		return err
	}
	r.Content = content
	return nil
}

// TextOf concatenates the text of every text content block, a
// convenience for tools whose output is plain text.
func (r *CallToolResult) TextOf() string {
	var out string
	for _, c := range r.Content {
		if tc, ok := c.(TextContent); ok {
			out += tc.Text
		}
	}
	return out
}
