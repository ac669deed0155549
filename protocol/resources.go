package protocol

// --- Resource Structures ---

// Resource is one piece of server-side context addressable by URI.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ResourceContents is the content of one resource, either text or a
// base64 blob.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ListResourcesParams is the payload of a 'resources/list' request.
type ListResourcesParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListResourcesResult is the payload of a 'resources/list' response.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams is the payload of a 'resources/read' request.
type ReadResourceParams struct {
	URI string `json:"uri"`
}

// ReadResourceResult is the payload of a 'resources/read' response.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}
