package tunnel

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
	"tunnelctl/internal/supervisor"
	"tunnelctl/pkg/logging"
)

const logSubsystem = "TunnelManager"

// cleanupOrphansFn pattern-kills wrapper processes left over from a previous
// run. Overridable in tests.
var cleanupOrphansFn = supervisor.CleanupOrphanProcesses

// Manager owns the full connection lifecycle: the persisted registry, the
// runtime state machine, the process supervisor underneath, and the pending
// notification queue. All operations are synchronous; Start and Restart block
// through the stabilization delays.
type Manager struct {
	store    *config.Store
	sup      ProcessSupervisor
	binaries BinaryLocator
	settings config.Settings

	mu      sync.RWMutex
	states  map[uuid.UUID]ConnectionState
	configs []config.ConnectionConfig

	notifMu       sync.Mutex
	notifications []Notification
}

// NewManager builds a manager over the given collaborators, ensures the
// config directory exists, sweeps orphan wrapper processes from previous
// runs, and loads the registry into the cache.
func NewManager(store *config.Store, sup ProcessSupervisor, binaries BinaryLocator, settings config.Settings) (*Manager, error) {
	dir, err := config.UserConfigDir()
	if err == nil {
		if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", dir, mkErr)
		}
	}

	cleanupOrphansFn()

	m := &Manager{
		store:    store,
		sup:      sup,
		binaries: binaries,
		settings: settings,
		states:   make(map[uuid.UUID]ConnectionState),
	}
	if err := m.ReloadConnections(); err != nil {
		return nil, err
	}
	return m, nil
}

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

// Connections returns the cached connection configs in registry order.
func (m *Manager) Connections() []config.ConnectionConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]config.ConnectionConfig, len(m.configs))
	copy(out, m.configs)
	return out
}

// Connection returns a single cached connection config.
func (m *Manager) Connection(id uuid.UUID) (config.ConnectionConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cachedConfig(id)
}

// AddConnection persists a new connection, then installs it in the cache with
// a fresh Disconnected state. The cache is untouched when the store rejects
// the write.
func (m *Manager) AddConnection(cfg config.ConnectionConfig) error {
	if err := m.store.Add(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = append(m.configs, cfg)
	m.states[cfg.ID] = newConnectionState(cfg.ID)
	return nil
}

// UpdateConnection persists a changed connection, then refreshes the cache.
func (m *Manager) UpdateConnection(cfg config.ConnectionConfig) error {
	if err := m.store.Update(cfg); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.configs {
		if m.configs[i].ID == cfg.ID {
			m.configs[i] = cfg
			break
		}
	}
	return nil
}

// RemoveConnection stops the connection, removes it from the registry, and
// drops its state.
func (m *Manager) RemoveConnection(id uuid.UUID) error {
	m.Stop(id)

	if err := m.store.Remove(id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.configs {
		if m.configs[i].ID == id {
			m.configs = append(m.configs[:i], m.configs[i+1:]...)
			break
		}
	}
	delete(m.states, id)
	return nil
}

// ReloadConnections re-reads the registry from disk, replacing the cache and
// initializing states for connections it has not seen before.
func (m *Manager) ReloadConnections() error {
	file, err := m.store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = file.Connections
	for _, cfg := range file.Connections {
		if _, ok := m.states[cfg.ID]; !ok {
			m.states[cfg.ID] = newConnectionState(cfg.ID)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Lifecycle
// ----------------------------------------------------------------------------

// Start brings a connection up. Calling it while the connection is Connected
// or Connecting is a no-op. Spawn failures propagate; a tunnel that spawned
// but never accepted connections is reported through the Error state and an
// error notification, not the return value.
func (m *Manager) Start(id uuid.UUID) error {
	m.mu.Lock()
	if state, ok := m.states[id]; ok {
		if state.PortForwardStatus == StatusConnected || state.PortForwardStatus == StatusConnecting {
			m.mu.Unlock()
			return nil
		}
	}
	cfg, err := m.cachedConfig(id)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	// A missing binary fails before any state changes; the connection stays
	// Disconnected rather than entering futile monitor-driven retries.
	if !m.binaries.IsKubectlAvailable() {
		return discovery.ErrKubectlNotFound
	}
	if (cfg.UseDirectExec || cfg.HasProxy()) && !m.binaries.IsSocatAvailable() {
		return discovery.ErrSocatNotFound
	}

	m.updateState(id, func(s *ConnectionState) {
		s.PortForwardStatus = StatusConnecting
		s.IsIntentionallyStopped = false
		s.LastError = ""
	})
	m.sup.ClearError(id)

	logging.Info(logSubsystem, "Starting connection %s (%s/%s)", cfg.Name, cfg.Namespace, cfg.Service)

	if cfg.UseDirectExec {
		return m.startDirectExec(cfg)
	}
	return m.startStandard(cfg)
}

// startDirectExec brings up the single-listener mode: one socat listener that
// spawns a dedicated port-forward per client.
func (m *Manager) startDirectExec(cfg config.ConnectionConfig) error {
	id := cfg.ID
	if err := m.sup.StartDirectExecProxy(id, cfg); err != nil {
		m.failConnection(cfg, fmt.Sprintf("Failed to start tunnel: %v", err))
		return err
	}

	time.Sleep(m.settings.ProxyStabilization)

	if !m.sup.IsPortOpen(cfg.EffectivePort()) {
		m.failConnection(cfg, m.diagnose(id, supervisor.Proxy, "Failed to establish connection"))
		return nil
	}

	m.updateState(id, func(s *ConnectionState) {
		s.PortForwardStatus = StatusConnected
		s.ProxyStatus = StatusConnected
	})
	m.addConnectedNotification(id, cfg.Name)
	logging.Info(logSubsystem, "Connection %s is up on port %d", cfg.Name, cfg.EffectivePort())
	return nil
}

// startStandard brings up the classic mode: a tracked kubectl port-forward,
// plus a socat relay when a proxy port is configured.
func (m *Manager) startStandard(cfg config.ConnectionConfig) error {
	id := cfg.ID
	if err := m.sup.StartPortForward(id, cfg); err != nil {
		m.failConnection(cfg, fmt.Sprintf("Failed to start tunnel: %v", err))
		return err
	}

	time.Sleep(m.settings.PortForwardStabilization)

	if !m.sup.IsPortOpen(cfg.LocalPort) {
		m.failConnection(cfg, m.diagnose(id, supervisor.PortForward, "Port forward failed to establish"))
		return nil
	}

	m.updateState(id, func(s *ConnectionState) {
		s.PortForwardStatus = StatusConnected
	})

	if cfg.HasProxy() {
		proxyPort := *cfg.ProxyPort
		m.updateState(id, func(s *ConnectionState) {
			s.ProxyStatus = StatusConnecting
		})

		if err := m.sup.StartProxy(id, proxyPort, cfg.LocalPort); err != nil {
			m.updateState(id, func(s *ConnectionState) {
				s.ProxyStatus = StatusError
				s.LastError = fmt.Sprintf("Failed to start proxy: %v", err)
			})
			m.sup.MarkConnectionError(id)
			return err
		}

		time.Sleep(m.settings.ProxyStabilization)

		if m.sup.IsPortOpen(proxyPort) {
			m.updateState(id, func(s *ConnectionState) {
				s.ProxyStatus = StatusConnected
			})
		} else {
			m.updateState(id, func(s *ConnectionState) {
				s.ProxyStatus = StatusError
				s.LastError = "Proxy failed to start"
			})
			m.sup.MarkConnectionError(id)
		}
	}

	m.addConnectedNotification(id, cfg.Name)
	logging.Info(logSubsystem, "Connection %s is up on port %d", cfg.Name, cfg.LocalPort)
	return nil
}

// Stop tears a connection down and marks it intentionally stopped so the
// monitor will not bring it back. Safe to call for connections that are not
// running.
func (m *Manager) Stop(id uuid.UUID) {
	m.mu.RLock()
	cfg, cfgErr := m.cachedConfig(id)
	wasConnected := false
	if state, ok := m.states[id]; ok {
		wasConnected = state.PortForwardStatus == StatusConnected
	}
	m.mu.RUnlock()

	m.sup.KillProcesses(id)

	m.updateState(id, func(s *ConnectionState) {
		s.PortForwardStatus = StatusDisconnected
		s.ProxyStatus = StatusDisconnected
		s.IsIntentionallyStopped = true
	})

	if wasConnected && cfgErr == nil && cfg.NotifyOnDisconnect {
		m.addDisconnectedNotification(id, cfg.Name)
	}
	if cfgErr == nil {
		logging.Info(logSubsystem, "Stopped connection %s", cfg.Name)
	}
}

// Restart stops the connection, pauses for the configured delay, and starts
// it again.
func (m *Manager) Restart(id uuid.UUID) error {
	m.Stop(id)
	time.Sleep(m.settings.RestartDelay)
	return m.Start(id)
}

// StopAll is the emergency teardown of every connection, including processes
// this manager never tracked.
func (m *Manager) StopAll() {
	m.sup.KillAll()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, state := range m.states {
		state.PortForwardStatus = StatusDisconnected
		state.ProxyStatus = StatusDisconnected
		state.IsIntentionallyStopped = true
		m.states[id] = state
	}
}

// ----------------------------------------------------------------------------
// State access
// ----------------------------------------------------------------------------

// States returns a snapshot of all connection states.
func (m *Manager) States() []ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ConnectionState, 0, len(m.states))
	for _, state := range m.states {
		out = append(out, state)
	}
	return out
}

// State returns one connection's state snapshot.
func (m *Manager) State(id uuid.UUID) (ConnectionState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.states[id]
	return state, ok
}

// IsKubectlAvailable reports whether the kubectl binary was located.
func (m *Manager) IsKubectlAvailable() bool { return m.binaries.IsKubectlAvailable() }

// IsSocatAvailable reports whether the socat binary was located.
func (m *Manager) IsSocatAvailable() bool { return m.binaries.IsSocatAvailable() }

// ----------------------------------------------------------------------------
// Notifications
// ----------------------------------------------------------------------------

// DrainNotifications returns all pending notifications and clears the queue.
func (m *Manager) DrainNotifications() []Notification {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	out := m.notifications
	m.notifications = nil
	return out
}

// HasPendingNotifications reports whether the queue is non-empty.
func (m *Manager) HasPendingNotifications() bool {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	return len(m.notifications) > 0
}

// addConnectedNotification queues a connected event, gated by the config's
// NotifyOnConnect flag and deduplicated against the pending queue: a second
// connect for the same id while the first is still undrained is dropped.
func (m *Manager) addConnectedNotification(id uuid.UUID, name string) {
	m.mu.RLock()
	cfg, err := m.cachedConfig(id)
	m.mu.RUnlock()
	if err != nil || !cfg.NotifyOnConnect {
		return
	}

	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	for _, n := range m.notifications {
		if n.Kind == NotificationConnected && n.ConnectionID == id {
			return
		}
	}
	m.notifications = append(m.notifications, Notification{
		Kind:           NotificationConnected,
		ConnectionID:   id,
		ConnectionName: name,
	})
}

// addDisconnectedNotification queues a disconnected event. Disconnects are
// never deduplicated; every drop is worth reporting.
func (m *Manager) addDisconnectedNotification(id uuid.UUID, name string) {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	m.notifications = append(m.notifications, Notification{
		Kind:           NotificationDisconnected,
		ConnectionID:   id,
		ConnectionName: name,
	})
}

func (m *Manager) addErrorNotification(id uuid.UUID, name, message string) {
	m.notifMu.Lock()
	defer m.notifMu.Unlock()
	m.notifications = append(m.notifications, Notification{
		Kind:           NotificationError,
		ConnectionID:   id,
		ConnectionName: name,
		Message:        message,
	})
}

// ----------------------------------------------------------------------------
// Internal helpers
// ----------------------------------------------------------------------------

// cachedConfig looks a connection up in the cache. Callers hold m.mu.
func (m *Manager) cachedConfig(id uuid.UUID) (config.ConnectionConfig, error) {
	for _, cfg := range m.configs {
		if cfg.ID == id {
			return cfg, nil
		}
	}
	return config.ConnectionConfig{}, fmt.Errorf("%w: %s", config.ErrConnectionNotFound, id)
}

// updateState mutates a connection's state under the lock, creating it if
// missing.
func (m *Manager) updateState(id uuid.UUID, fn func(*ConnectionState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[id]
	if !ok {
		state = newConnectionState(id)
	}
	fn(&state)
	m.states[id] = state
}

// failConnection records a failed start: Error status, diagnostic, error
// window mark, and an error notification.
func (m *Manager) failConnection(cfg config.ConnectionConfig, message string) {
	m.updateState(cfg.ID, func(s *ConnectionState) {
		s.PortForwardStatus = StatusError
		s.LastError = message
	})
	m.sup.MarkConnectionError(cfg.ID)
	m.addErrorNotification(cfg.ID, cfg.Name, message)
	logging.Warn(logSubsystem, "Connection %s failed: %s", cfg.Name, message)
}

// diagnose builds a probe-failure message, enriched with the child's error
// output when it captured any.
func (m *Manager) diagnose(id uuid.UUID, kind supervisor.ProcessKind, fallback string) string {
	lines := m.sup.ReadProcessOutput(id, kind)
	for _, line := range lines {
		if port, ok := supervisor.DetectPortConflict(line); ok {
			return fmt.Sprintf("%s: port %d is already in use", fallback, port)
		}
	}
	var errLines []string
	for _, line := range lines {
		if supervisor.IsErrorLine(line) {
			errLines = append(errLines, line)
		}
	}
	if len(errLines) > 0 {
		return fmt.Sprintf("%s: %s", fallback, strings.Join(errLines, "; "))
	}
	return fallback
}
