package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Implementation identifies one side of a connection by name and version.
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ClientCapabilities advertises what the connecting client supports.
type ClientCapabilities struct {
	Progress     *ProgressCapability        `json:"progress,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// ProgressCapability signals that the client consumes progress
// notifications for requests carrying a progress token.
type ProgressCapability struct{}

// ServerCapabilities describes what a server offers, as reported in its
// initialize response.
type ServerCapabilities struct {
	Tools        *ToolsCapability           `json:"tools,omitempty"`
	Resources    *ResourcesCapability       `json:"resources,omitempty"`
	Experimental map[string]json.RawMessage `json:"experimental,omitempty"`
}

// ToolsCapability describes the tools feature block.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability describes the resources feature block.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// InitializeParams is the payload of the 'initialize' request opening
// every connection.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Implementation     `json:"clientInfo"`
}

// InitializeResult is the server's reply to 'initialize'.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion,omitempty"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      *Implementation    `json:"serverInfo,omitempty"`
	Instructions    string             `json:"instructions,omitempty"`
}

// InitializedParams is the payload of the 'initialized' notification
// completing the handshake (empty).
type InitializedParams struct{}

// PingParams is the payload of a 'ping' request (empty).
type PingParams struct{}

// --- Content Structures ---

// Content is the interface over the content block variants a tool call
// or resource read can return. The concrete type is selected by the
// "type" discriminator during decoding.
type Content interface {
	ContentType() string
}

// TextContent is plain text output.
type TextContent struct {
	Type string `json:"type"` // always "text"
	Text string `json:"text"`
}

func (c TextContent) ContentType() string { return "text" }

// ImageContent is base64-encoded image data.
type ImageContent struct {
	Type     string `json:"type"` // always "image"
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (c ImageContent) ContentType() string { return "image" }

// AudioContent is base64-encoded audio data.
type AudioContent struct {
	Type     string `json:"type"` // always "audio"
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

func (c AudioContent) ContentType() string { return "audio" }

// EmbeddedResourceContent is a resource inlined into a result.
type EmbeddedResourceContent struct {
	Type     string           `json:"type"` // always "resource"
	Resource ResourceContents `json:"resource"`
}

func (c EmbeddedResourceContent) ContentType() string { return "resource" }

// UnknownContent preserves a content block with an unrecognized type
// discriminator. Unknown variants are carried through, not rejected, so
// newer servers keep working against this client.
type UnknownContent struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

func (c UnknownContent) ContentType() string { return c.Type }

// DecodeContent decodes a single content block by its "type" field.
func DecodeContent(raw json.RawMessage) (Content, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("content block is not an object: %w", err)
	}
	switch probe.Type {
	case "text":
		var c TextContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode text content: %w", err)
		}
		return c, nil
	case "image":
		var c ImageContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode image content: %w", err)
		}
		return c, nil
	case "audio":
		var c AudioContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode audio content: %w", err)
		}
		return c, nil
	case "resource":
		var c EmbeddedResourceContent
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("decode resource content: %w", err)
		}
		return c, nil
	default:
		return UnknownContent{Type: probe.Type, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
}

func decodeContentList(raws []json.RawMessage) ([]Content, error) {
	out := make([]Content, 0, len(raws))
	for i, raw := range raws {
		c, err := DecodeContent(raw)
		if err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Progress ---

// RequestMeta carries request metadata under the '_meta' key.
type RequestMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

// ProgressParams is the payload of a 'notifications/progress'
// notification tied to an in-flight request by its progress token.
type ProgressParams struct {
	ProgressToken string   `json:"progressToken"`
	Progress      float64  `json:"progress"`
	Total         *float64 `json:"total,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// NewProgressToken mints an opaque token a caller attaches to a request
// to receive progress notifications for it.
func NewProgressToken() string {
	return uuid.NewString()
}
