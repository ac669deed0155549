// Package manager supervises a fleet of tool servers: it owns their
// configuration, connects and disconnects clients, caches each
// server's catalog, and routes namespaced tool invocations to the
// right connection.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/toolmux/toolmux/client"
	"github.com/toolmux/toolmux/config"
	"github.com/toolmux/toolmux/protocol"
)

// Conn is the per-server connection surface the manager drives. It is
// what *client.Client provides; tests substitute fakes.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsReady() bool
	State() client.State
	ServerInfo() *protocol.Implementation
	ServerCapabilities() protocol.ServerCapabilities
	ListAllTools(ctx context.Context) ([]protocol.Tool, error)
	ListAllResources(ctx context.Context) ([]protocol.Resource, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*protocol.CallToolResult, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error)
	Ping(ctx context.Context) error
}

var _ Conn = (*client.Client)(nil)

// DialFunc builds the connection for one descriptor. The observer must
// be wired into the client so the manager sees notifications and the
// close event.
type DialFunc func(desc config.ServerDescriptor, obs client.Observer) Conn

// CatalogEntry is one tool in the aggregate catalog.
type CatalogEntry struct {
	// Server is the configured name of the server offering the tool.
	Server string
	// Name is the namespaced invocation name.
	Name string
	// Tool is the definition as the server returned it; Tool.Name is
	// the server-local name.
	Tool protocol.Tool
}

// ResourceEntry is one resource in the aggregate catalog. Resource
// URIs are already globally scoped, so they are not renamed.
type ResourceEntry struct {
	Server   string
	Resource protocol.Resource
}

// Server availability as reported by Status.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
)

// Status is a point-in-time summary of one server.
type Status struct {
	Name      string
	State     string
	Tools     int
	Resources int
	Info      *protocol.Implementation
}

// Manager supervises a set of tool servers. All methods are safe for
// concurrent use. The zero value is not usable; construct with New.
type Manager struct {
	logger        *slog.Logger
	prefix        string
	clientName    string
	clientVersion string
	dial          DialFunc

	mu        sync.RWMutex
	closed    bool
	timeout   time.Duration
	retry     RetryPolicy
	order     []string
	descs     map[string]config.ServerDescriptor
	clients   map[string]Conn
	tools     map[string][]protocol.Tool
	resources map[string][]protocol.Resource
	locks     map[string]*sync.Mutex
}

// New builds an empty manager. Configure it with LoadConfiguration or
// SetConfiguration, then InitializeAll or ConnectServer.
func New(opts ...Option) *Manager {
	m := &Manager{
		logger:     slog.Default(),
		prefix:     DefaultPrefix,
		clientName: "toolmux",
		retry:      DefaultRetryPolicy(),
		descs:      make(map[string]config.ServerDescriptor),
		clients:    make(map[string]Conn),
		tools:      make(map[string][]protocol.Tool),
		resources:  make(map[string][]protocol.Resource),
		locks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dial == nil {
		m.dial = m.defaultDial
	}
	return m
}

func (m *Manager) defaultDial(desc config.ServerDescriptor, obs client.Observer) Conn {
	opts := []client.Option{
		client.WithLogger(m.logger),
		client.WithObserver(obs),
	}
	m.mu.RLock()
	if m.timeout > 0 {
		opts = append(opts, client.WithRequestTimeout(m.timeout))
	}
	m.mu.RUnlock()
	if m.clientName != "" {
		opts = append(opts, client.WithClientInfo(m.clientName, m.clientVersion))
	}
	return client.New(desc, opts...)
}

// LoadConfiguration reads and installs a configuration file. A missing
// file installs zero servers.
func (m *Manager) LoadConfiguration(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return m.SetConfiguration(cfg)
}

// SaveConfiguration writes the current descriptor list and settings to
// path, in the format its extension implies.
func (m *Manager) SaveConfiguration(path string) error {
	m.mu.RLock()
	cfg := &config.Config{
		Servers:       make([]config.ServerDescriptor, 0, len(m.order)),
		Timeout:       m.timeout,
		RetryAttempts: m.retry.Attempts,
	}
	for _, name := range m.order {
		cfg.Servers = append(cfg.Servers, m.descs[name])
	}
	m.mu.RUnlock()
	return config.Save(path, cfg)
}

// SetConfiguration validates and installs descriptors and settings.
// Servers connected under a name the new configuration no longer
// carries are disconnected.
func (m *Manager) SetConfiguration(cfg *config.Config) error {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.order = m.order[:0]
	m.descs = make(map[string]config.ServerDescriptor, len(cfg.Servers))
	for _, d := range cfg.Servers {
		m.order = append(m.order, d.Name)
		m.descs[d.Name] = d
	}
	if cfg.Timeout > 0 {
		m.timeout = cfg.Timeout
	}
	if cfg.RetryAttempts > 0 {
		m.retry.Attempts = cfg.RetryAttempts
	}
	var removed []string
	for name := range m.clients {
		if _, ok := m.descs[name]; !ok {
			removed = append(removed, name)
		}
	}
	m.mu.Unlock()

	for _, name := range removed {
		m.logger.Info("disconnecting server dropped from configuration", "server", name)
		if err := m.DisconnectServer(name); err != nil {
			m.logger.Warn("disconnect failed", "server", name, "error", err)
		}
	}
	return nil
}

// ServerNames returns the configured names in configuration order.
func (m *Manager) ServerNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// InitializeAll connects every enabled server concurrently. Each
// failure is logged and joined into the returned error; no failure
// stops the others.
func (m *Manager) InitializeAll(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	var names []string
	for _, name := range m.order {
		desc := m.descs[name]
		if desc.IsEnabled() {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			if err := m.ConnectServer(ctx, name); err != nil {
				m.logger.Warn("server failed to initialize", "server", name, "error", err)
				errs[i] = err
			}
		}(i, name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ConnectServer connects one configured server, replacing any existing
// connection under that name. Connect failures are retried per the
// retry policy. On success the server's catalogs are fetched and
// cached; a catalog fetch failure leaves an empty catalog and is not
// an error.
func (m *Manager) ConnectServer(ctx context.Context, name string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	desc, ok := m.descs[name]
	if !ok {
		m.mu.Unlock()
		return &UnknownServerError{Server: name}
	}
	lock := m.lockFor(name)
	retry := m.retry
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	if old := m.activeConn(name); old != nil {
		m.logger.Info("replacing existing connection", "server", name)
		m.dropConn(name, old)
		_ = old.Disconnect()
	}

	conn, err := m.connectWithRetry(ctx, desc, retry)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Disconnect()
		return ErrManagerClosed
	}
	m.clients[name] = conn
	m.mu.Unlock()

	// The connection may have dropped between handshake and
	// registration, before its close event could evict anything.
	if conn.State() == client.StateClosed {
		m.dropConn(name, conn)
		return fmt.Errorf("connection to %s closed before it became usable", name)
	}

	m.fetchCatalogs(ctx, name, conn)
	return nil
}

func (m *Manager) connectWithRetry(ctx context.Context, desc config.ServerDescriptor, retry RetryPolicy) (Conn, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		obs := &serverObserver{m: m, name: desc.Name}
		conn := m.dial(desc, obs)
		obs.conn = conn

		err := conn.Connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if client.IsConfigError(err) || attempt >= retry.Attempts {
			return nil, err
		}
		delay := retry.Delay(attempt + 1)
		m.logger.Warn("connect failed, retrying",
			"server", desc.Name,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		}
	}
}

// fetchCatalogs pulls the tool and resource lists for a freshly
// connected server. Failures leave that catalog empty.
func (m *Manager) fetchCatalogs(ctx context.Context, name string, conn Conn) {
	caps := conn.ServerCapabilities()

	var tools []protocol.Tool
	if caps.Tools != nil {
		var err error
		tools, err = conn.ListAllTools(ctx)
		if err != nil {
			m.logger.Warn("tool catalog fetch failed", "server", name, "error", err)
			tools = nil
		}
	} else {
		m.logger.Debug("server does not advertise tools", "server", name)
	}
	tools = dropDuplicateTools(m.logger, name, tools)

	var resources []protocol.Resource
	if caps.Resources != nil {
		var err error
		resources, err = conn.ListAllResources(ctx)
		if err != nil {
			m.logger.Warn("resource catalog fetch failed", "server", name, "error", err)
			resources = nil
		}
	}

	m.mu.Lock()
	stored := m.clients[name] == conn
	if stored {
		m.tools[name] = tools
		m.resources[name] = resources
	}
	m.mu.Unlock()
	if stored {
		m.logger.Info("catalog loaded", "server", name, "tools", len(tools), "resources", len(resources))
	}
}

func dropDuplicateTools(logger *slog.Logger, server string, tools []protocol.Tool) []protocol.Tool {
	seen := make(map[string]bool, len(tools))
	out := tools[:0]
	for _, t := range tools {
		if seen[t.Name] {
			logger.Warn("dropping duplicate tool name", "server", server, "tool", t.Name)
			continue
		}
		seen[t.Name] = true
		out = append(out, t)
	}
	return out
}

// DisconnectServer tears down one server's connection and drops its
// catalogs. Unknown or already-disconnected names are not an error.
func (m *Manager) DisconnectServer(name string) error {
	m.mu.Lock()
	lock := m.lockFor(name)
	m.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	conn := m.activeConn(name)
	if conn == nil {
		return nil
	}
	m.dropConn(name, conn)
	return conn.Disconnect()
}

// DisconnectAll disconnects every connected server, always processing
// all of them, and joins the individual errors.
func (m *Manager) DisconnectAll() error {
	m.mu.RLock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	m.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if err := m.DisconnectServer(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close disconnects everything and marks the manager unusable.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.DisconnectAll()
}

// GetAllTools returns the aggregate catalog: configured server order,
// then each server's tools in the order the server returned them, with
// namespaced names.
func (m *Manager) GetAllTools() []CatalogEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []CatalogEntry
	for _, name := range m.order {
		if _, ok := m.clients[name]; !ok {
			continue
		}
		for _, tool := range m.tools[name] {
			out = append(out, CatalogEntry{
				Server: name,
				Name:   Namespaced(m.prefix, name, tool.Name),
				Tool:   tool,
			})
		}
	}
	return out
}

// GetAllResources returns every connected server's resources in
// configured server order.
func (m *Manager) GetAllResources() []ResourceEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ResourceEntry
	for _, name := range m.order {
		if _, ok := m.clients[name]; !ok {
			continue
		}
		for _, res := range m.resources[name] {
			out = append(out, ResourceEntry{Server: name, Resource: res})
		}
	}
	return out
}

// CallNamespacedTool parses a namespaced name, routes the call to the
// owning server, and returns the result unchanged.
func (m *Manager) CallNamespacedTool(ctx context.Context, fullName string, args map[string]interface{}) (*protocol.CallToolResult, error) {
	server, tool, err := ParseNamespaced(m.prefix, fullName)
	if err != nil {
		return nil, err
	}
	conn := m.activeConn(server)
	if conn == nil {
		return nil, &UnknownServerError{Server: server}
	}
	return conn.CallTool(ctx, tool, args)
}

// ReadResource reads a resource from a named server.
func (m *Manager) ReadResource(ctx context.Context, server, uri string) (*protocol.ReadResourceResult, error) {
	conn := m.activeConn(server)
	if conn == nil {
		return nil, &UnknownServerError{Server: server}
	}
	return conn.ReadResource(ctx, uri)
}

// Ping checks liveness of a named server over its existing connection.
func (m *Manager) Ping(ctx context.Context, server string) error {
	conn := m.activeConn(server)
	if conn == nil {
		return &UnknownServerError{Server: server}
	}
	return conn.Ping(ctx)
}

// ServerStatus reports one server's availability. Unknown names report
// disconnected, never an error.
func (m *Manager) ServerStatus(name string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked(name)
}

// Statuses reports every configured server in configuration order.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.statusLocked(name))
	}
	return out
}

func (m *Manager) statusLocked(name string) Status {
	st := Status{Name: name, State: StateDisconnected}
	conn, ok := m.clients[name]
	if !ok || !conn.IsReady() {
		return st
	}
	st.State = StateConnected
	st.Tools = len(m.tools[name])
	st.Resources = len(m.resources[name])
	st.Info = conn.ServerInfo()
	return st
}

// activeConn returns the connection registered under name, or nil.
func (m *Manager) activeConn(name string) Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[name]
}

// dropConn removes a specific connection and its catalogs. The
// identity check keeps a stale connection's close event from evicting
// its replacement.
func (m *Manager) dropConn(name string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clients[name] == conn {
		delete(m.clients, name)
		delete(m.tools, name)
		delete(m.resources, name)
	}
}

// lockFor returns the per-name mutex, creating it on first use. Caller
// holds m.mu.
func (m *Manager) lockFor(name string) *sync.Mutex {
	lock, ok := m.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[name] = lock
	}
	return lock
}

// refreshTools re-fetches one server's tool list after a list_changed
// notification and atomically replaces the cached catalog.
func (m *Manager) refreshTools(name string, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tools, err := conn.ListAllTools(ctx)
	if err != nil {
		m.logger.Warn("tool catalog refresh failed", "server", name, "error", err)
		return
	}
	tools = dropDuplicateTools(m.logger, name, tools)
	m.mu.Lock()
	if m.clients[name] == conn {
		m.tools[name] = tools
	}
	m.mu.Unlock()
	m.logger.Info("tool catalog refreshed", "server", name, "tools", len(tools))
}

func (m *Manager) refreshResources(name string, conn Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	resources, err := conn.ListAllResources(ctx)
	if err != nil {
		m.logger.Warn("resource catalog refresh failed", "server", name, "error", err)
		return
	}
	m.mu.Lock()
	if m.clients[name] == conn {
		m.resources[name] = resources
	}
	m.mu.Unlock()
}

// serverObserver adapts one client's events into manager bookkeeping.
type serverObserver struct {
	m    *Manager
	name string
	conn Conn
}

func (o *serverObserver) OnNotification(method string, params json.RawMessage) {
	switch method {
	case protocol.MethodNotifyToolsListChanged:
		o.m.logger.Debug("tool list changed", "server", o.name)
		go o.m.refreshTools(o.name, o.conn)
	case protocol.MethodNotifyResourcesListChanged:
		o.m.logger.Debug("resource list changed", "server", o.name)
		go o.m.refreshResources(o.name, o.conn)
	default:
		o.m.logger.Debug("notification", "server", o.name, "method", method)
	}
}

func (o *serverObserver) OnError(err error) {
	o.m.logger.Warn("protocol error", "server", o.name, "error", err)
}

func (o *serverObserver) OnClose() {
	o.m.logger.Info("server connection closed", "server", o.name)
	o.m.dropConn(o.name, o.conn)
}
