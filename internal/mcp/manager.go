package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"cmdloop/internal/domain"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultCallTimeout    = 120 * time.Second
)

// Manager owns the configured capability servers and their live connections.
type Manager struct {
	path           string
	connectTimeout time.Duration
	callTimeout    time.Duration
	logger         *slog.Logger

	mu    sync.RWMutex
	file  *File
	conns map[string]*Conn

	statusMu sync.Mutex
	status   domain.StatusFunc
}

type ManagerConfig struct {
	// ConfigPath is the server file; empty disables persistence.
	ConfigPath     string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	Status         domain.StatusFunc // optional
	Logger         *slog.Logger
}

// ServerStatus is a snapshot of one configured server.
type ServerStatus struct {
	Name      string
	Config    ServerConfig
	Enabled   bool
	Connected bool
	Tools     int
}

// NewManager loads the server file (a missing file means no servers).
func NewManager(cfg ManagerConfig) (*Manager, error) {
	file := &File{Servers: make(map[string]ServerConfig)}
	if cfg.ConfigPath != "" {
		loaded, err := LoadFile(cfg.ConfigPath)
		if err != nil {
			return nil, err
		}
		file = loaded
	}
	return newManager(cfg, file), nil
}

// NewManagerFromFile uses an in-memory configuration.
func NewManagerFromFile(cfg ManagerConfig, file *File) *Manager {
	if file.Servers == nil {
		file.Servers = make(map[string]ServerConfig)
	}
	return newManager(cfg, file)
}

func newManager(cfg ManagerConfig, file *File) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	return &Manager{
		path:           cfg.ConfigPath,
		connectTimeout: cfg.ConnectTimeout,
		callTimeout:    cfg.CallTimeout,
		logger:         cfg.Logger,
		file:           file,
		conns:          make(map[string]*Conn),
		status:         cfg.Status,
	}
}

// SetStatusFunc replaces the status callback.
func (m *Manager) SetStatusFunc(fn domain.StatusFunc) {
	m.statusMu.Lock()
	m.status = fn
	m.statusMu.Unlock()
}

func (m *Manager) report(name, status string) {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	if m.status != nil {
		m.status(name, status)
	}
}

// ConnectAll connects every enabled server concurrently. Failures are
// isolated per server, reported through the status callback, and returned
// joined once all attempts have finished.
func (m *Manager) ConnectAll(ctx context.Context) error {
	m.mu.RLock()
	names := m.file.Names()
	configs := make(map[string]ServerConfig, len(names))
	for _, name := range names {
		configs[name] = m.file.Servers[name]
	}
	m.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		if !configs[name].IsEnabled() {
			m.report(name, "disabled")
			continue
		}
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := m.Connect(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Connect starts the named server unless it already has a live connection.
// A connection whose process died is replaced.
func (m *Manager) Connect(ctx context.Context, name string) error {
	m.mu.RLock()
	sc, ok := m.file.Servers[name]
	existing := m.conns[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	if existing != nil {
		if existing.Connected() {
			return nil
		}
		m.dropConn(name, existing)
	}

	m.report(name, "connecting")
	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	start := time.Now()
	conn, err := Dial(dialCtx, name, sc, m.logger)
	if err != nil {
		m.logger.Warn("mcp server connect failed", "server", name, "err", err)
		m.report(name, "failed: "+err.Error())
		return err
	}

	m.mu.Lock()
	if prev := m.conns[name]; prev != nil && prev.Connected() {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conns[name] = conn
	m.mu.Unlock()

	tools := len(conn.Tools())
	m.logger.Info("mcp server connected",
		"server", name,
		"tools", tools,
		"remote", conn.Info().Name,
		"duration", time.Since(start),
	)
	m.report(name, fmt.Sprintf("connected (%d tools)", tools))
	m.warnShadowed(conn)
	return nil
}

// warnShadowed logs tool names that conn shares with another live server.
// Routing picks the first server by name.
func (m *Manager) warnShadowed(conn *Conn) {
	for _, other := range m.live() {
		if other == conn {
			continue
		}
		for _, t := range conn.Tools() {
			if _, ok := other.Tool(t.Name); ok {
				m.logger.Warn("mcp tool advertised by several servers",
					"tool", t.Name, "server", conn.Name(), "also", other.Name())
			}
		}
	}
}

func (m *Manager) dropConn(name string, conn *Conn) {
	m.mu.Lock()
	if m.conns[name] == conn {
		delete(m.conns, name)
	}
	m.mu.Unlock()
	conn.Close()
}

// Disconnect terminates the named server's connection, if any.
func (m *Manager) Disconnect(name string) error {
	m.mu.Lock()
	conn := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	m.report(name, "disconnected")
	return err
}

// DisconnectAll closes every live connection.
func (m *Manager) DisconnectAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Conn)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, conn := range conns {
		wg.Add(1)
		go func(name string, conn *Conn) {
			defer wg.Done()
			if err := conn.Close(); err != nil {
				m.logger.Debug("mcp close failed", "server", name, "err", err)
			}
		}(name, conn)
	}
	wg.Wait()
}

// AddServer registers a new server and persists the configuration.
func (m *Manager) AddServer(name string, sc ServerConfig) error {
	if name == "" {
		return fmt.Errorf("server name is required")
	}
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("server %s: %w", name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.file.Servers[name]; exists {
		return fmt.Errorf("%w: %s", ErrServerExists, name)
	}
	m.file.Servers[name] = sc
	if err := m.persistLocked(); err != nil {
		delete(m.file.Servers, name)
		return err
	}
	return nil
}

// RemoveServer disconnects and forgets a server, then persists.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	sc, ok := m.file.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	delete(m.file.Servers, name)
	if err := m.persistLocked(); err != nil {
		m.file.Servers[name] = sc
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	return m.Disconnect(name)
}

// SetEnabled flips a server's enabled flag and persists. Disabling a server
// also disconnects it; enabling does not connect.
func (m *Manager) SetEnabled(name string, enabled bool) error {
	m.mu.Lock()
	sc, ok := m.file.Servers[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	prev := sc.Enabled
	sc.SetEnabled(enabled)
	m.file.Servers[name] = sc
	if err := m.persistLocked(); err != nil {
		sc.Enabled = prev
		m.file.Servers[name] = sc
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()
	if !enabled {
		return m.Disconnect(name)
	}
	return nil
}

func (m *Manager) persistLocked() error {
	if m.path == "" {
		return nil
	}
	return m.file.Save(m.path)
}

// Servers reports every configured server in name order.
func (m *Manager) Servers() []ServerStatus {
	m.mu.RLock()
	out := make([]ServerStatus, 0, len(m.file.Servers))
	conns := make([]*Conn, 0, len(m.file.Servers))
	for _, name := range m.file.Names() {
		sc := m.file.Servers[name]
		out = append(out, ServerStatus{Name: name, Config: sc, Enabled: sc.IsEnabled()})
		conns = append(conns, m.conns[name])
	}
	m.mu.RUnlock()

	for i, conn := range conns {
		if conn != nil && conn.Connected() {
			out[i].Connected = true
			out[i].Tools = len(conn.Tools())
		}
	}
	return out
}

// IsConnected reports whether the named server has a live connection.
func (m *Manager) IsConnected(name string) bool {
	m.mu.RLock()
	conn := m.conns[name]
	m.mu.RUnlock()
	return conn != nil && conn.Connected()
}

// live returns connected servers sorted by name so that routing is stable.
// Liveness is checked after m.mu is released.
func (m *Manager) live() []*Conn {
	m.mu.RLock()
	all := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		all = append(all, conn)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	conns := all[:0]
	for _, conn := range all {
		if conn.Connected() {
			conns = append(conns, conn)
		}
	}
	return conns
}

// GetAllTools merges the tools of every connected server, each tagged with
// its server.
func (m *Manager) GetAllTools() []Tool {
	var out []Tool
	for _, c := range m.live() {
		out = append(out, c.Tools()...)
	}
	return out
}

func (m *Manager) GetAllResources() []Resource {
	var out []Resource
	for _, c := range m.live() {
		out = append(out, c.Resources()...)
	}
	return out
}

func (m *Manager) GetAllPrompts() []Prompt {
	var out []Prompt
	for _, c := range m.live() {
		out = append(out, c.Prompts()...)
	}
	return out
}

// FindTool returns the first connected server's tool with this name.
func (m *Manager) FindTool(name string) (Tool, bool) {
	for _, c := range m.live() {
		if t, ok := c.Tool(name); ok {
			return t, true
		}
	}
	return Tool{}, false
}

// CallTool routes to the first connected server advertising name. The call
// is bounded by the manager's call timeout.
func (m *Manager) CallTool(ctx context.Context, name string, args map[string]any) (CallResult, error) {
	for _, c := range m.live() {
		if _, ok := c.Tool(name); !ok {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
		start := time.Now()
		res := c.CallTool(callCtx, name, args)
		m.logger.Debug("mcp tool call",
			"server", c.Name(),
			"tool", name,
			"success", res.Success,
			"duration", time.Since(start),
		)
		if !res.Success && !c.Connected() {
			return res, fmt.Errorf("%w: %s: %s", ErrNotConnected, c.Name(), res.Error)
		}
		return res, nil
	}
	return CallResult{}, fmt.Errorf("%w tool %s", ErrNoServer, name)
}

// ReadResource routes to the server advertising uri.
func (m *Manager) ReadResource(ctx context.Context, uri string) (string, error) {
	for _, c := range m.live() {
		if !c.hasResource(uri) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
		return c.ReadResource(callCtx, uri)
	}
	return "", fmt.Errorf("%w resource %s", ErrNoServer, uri)
}

// GetPrompt routes to the server advertising the prompt.
func (m *Manager) GetPrompt(ctx context.Context, name string, args map[string]string) (string, error) {
	for _, c := range m.live() {
		if !c.hasPrompt(name) {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		defer cancel()
		return c.GetPrompt(callCtx, name, args)
	}
	return "", fmt.Errorf("%w prompt %s", ErrNoServer, name)
}

// Refresh re-lists capabilities on every connected server concurrently, each
// bounded by the call timeout so one stuck server cannot hold up the rest.
func (m *Manager) Refresh(ctx context.Context) error {
	conns := m.live()
	errs := make([]error, len(conns))
	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *Conn) {
			defer wg.Done()
			refreshCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
			defer cancel()
			if err := c.Refresh(refreshCtx); err != nil {
				errs[i] = fmt.Errorf("server %s: %w", c.Name(), err)
				m.logger.Warn("mcp refresh failed", "server", c.Name(), "err", err)
			}
		}(i, c)
	}
	wg.Wait()
	return errors.Join(errs...)
}
