// Package toolmux multiplexes external tool servers behind one
// catalog.
//
// # Overview
//
// A tool server is an external process or network endpoint that
// advertises named, schema-described tools and executes them on
// request over a JSON message protocol. toolmux speaks that protocol
// as a client: it connects to many servers at once, negotiates
// capabilities with each, aggregates every server's tools under
// collision-free namespaced names, and routes invocations to the
// server that owns them.
//
// # Organization
//
//   - github.com/toolmux/toolmux/protocol: wire envelope, typed
//     payloads, and version negotiation
//   - github.com/toolmux/toolmux/transport: process, socket,
//     http-stream, and websocket transports with newline-delimited
//     JSON framing
//   - github.com/toolmux/toolmux/client: per-server protocol client
//     (handshake, request correlation, notifications)
//   - github.com/toolmux/toolmux/manager: multi-server supervision,
//     catalog aggregation, namespaced routing
//   - github.com/toolmux/toolmux/config: configuration loading in
//     YAML, JSON, or TOML
//   - github.com/toolmux/toolmux/schema: tool input schemas from Go
//     structs and argument decoding
//   - github.com/toolmux/toolmux/cli: the toolmux command
//
// # Basic Usage
//
//	import "github.com/toolmux/toolmux/manager"
//
//	m := manager.New()
//	if err := m.LoadConfiguration("toolmux.yaml"); err != nil {
//		log.Fatal(err)
//	}
//	defer m.Close()
//
//	if err := m.InitializeAll(ctx); err != nil {
//		log.Printf("some servers unavailable: %v", err)
//	}
//	for _, entry := range m.GetAllTools() {
//		fmt.Println(entry.Name)
//	}
//	result, err := m.CallNamespacedTool(ctx, "mcp_git_status", nil)
//
// A single server can be driven directly with the client package:
//
//	c := client.New(config.ServerDescriptor{
//		Name:    "git",
//		Command: "git-server",
//	})
//	if err := c.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer c.Disconnect()
//	tools, err := c.ListAllTools(ctx)
package toolmux
