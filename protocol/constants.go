// Package protocol defines the wire structures and constants for the
// tool-server protocol, a JSON-RPC style message exchange over
// newline-delimited transports.
package protocol

const (
	// --- Method Name Constants ---
	// These align with the protocol 'method' field names.

	// Initialization
	MethodInitialize  = "initialize"
	MethodInitialized = "initialized" // Notification, no response expected

	// Tools
	MethodListTools              = "tools/list"
	MethodCallTool               = "tools/call"
	MethodNotifyToolsListChanged = "notifications/tools/list_changed" // Notification

	// Resources
	MethodListResources              = "resources/list"
	MethodReadResource               = "resources/read"
	MethodNotifyResourcesListChanged = "notifications/resources/list_changed" // Notification
	MethodNotifyResourceUpdated      = "notifications/resources/updated"      // Notification

	// Progress reporting for long-running requests
	MethodNotifyProgress = "notifications/progress" // Notification

	// Ping
	MethodPing = "ping"
)
