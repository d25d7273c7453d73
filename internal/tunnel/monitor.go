package tunnel

import (
	"tunnelctl/internal/config"
	"tunnelctl/internal/supervisor"
	"tunnelctl/pkg/logging"
)

// Monitor sweeps every enabled auto-reconnect connection once and restarts
// the unhealthy ones. It never creates its own timer; the caller decides the
// cadence (the up command ticks it every second). Restart failures are logged
// and never propagated, so one broken connection cannot stall the sweep.
func (m *Manager) Monitor() {
	for _, cfg := range m.Connections() {
		if !cfg.IsEnabled || !cfg.AutoReconnect {
			continue
		}

		state, ok := m.State(cfg.ID)
		if !ok {
			continue
		}
		if state.IsIntentionallyStopped {
			continue
		}
		// A start is already in flight; don't pile a second one on.
		if state.PortForwardStatus == StatusConnecting {
			continue
		}

		if !m.needsReconnect(cfg) {
			continue
		}

		logging.Info(logSubsystem, "Connection %s is unhealthy, reconnecting", cfg.Name)

		// Restart's stop half reports the drop when the connection was
		// Connected and the config asks for disconnect notifications.
		if err := m.Restart(cfg.ID); err != nil {
			logging.Warn(logSubsystem, "Reconnect of %s failed: %v", cfg.Name, err)
		}
	}
}

// needsReconnect decides whether a connection requires a full restart. A dead
// relay in front of a healthy port-forward is respawned in place instead;
// that path reports false.
func (m *Manager) needsReconnect(cfg config.ConnectionConfig) bool {
	id := cfg.ID

	if m.sup.HasRecentError(id) {
		return true
	}

	if cfg.UseDirectExec {
		if !m.sup.IsProcessRunning(id, supervisor.Proxy) {
			return true
		}
		return !m.sup.IsPortOpen(cfg.EffectivePort())
	}

	if !m.sup.IsProcessRunning(id, supervisor.PortForward) {
		return true
	}
	if !m.sup.IsPortOpen(cfg.LocalPort) {
		return true
	}

	if cfg.HasProxy() {
		proxyPort := *cfg.ProxyPort
		if !m.sup.IsProcessRunning(id, supervisor.Proxy) {
			// Only the relay died; the tunnel underneath is fine.
			logging.Info(logSubsystem, "Respawning relay for %s on port %d", cfg.Name, proxyPort)
			if err := m.sup.StartProxy(id, proxyPort, cfg.LocalPort); err != nil {
				logging.Warn(logSubsystem, "Relay respawn for %s failed: %v", cfg.Name, err)
			}
			return false
		}
		if !m.sup.IsPortOpen(proxyPort) {
			return true
		}
	}

	return false
}
