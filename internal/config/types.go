package config

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionConfig describes a single tunnel to a remote service. It is the
// persisted unit of the registry; runtime state lives elsewhere and is never
// written to disk.
type ConnectionConfig struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Namespace  string    `json:"namespace"`
	Service    string    `json:"service"`
	LocalPort  uint16    `json:"localPort"`
	RemotePort uint16    `json:"remotePort"`

	// ProxyPort, when set, re-exposes the tunnel on this port through a
	// second local relay.
	ProxyPort *uint16 `json:"proxyPort,omitempty"`

	IsEnabled     bool `json:"isEnabled"`
	AutoReconnect bool `json:"autoReconnect"`

	// UseDirectExec selects the listener-per-client mode: one socat listener
	// spawns a fresh kubectl port-forward per inbound connection.
	UseDirectExec bool `json:"useDirectExec"`

	NotifyOnConnect    bool `json:"notifyOnConnect"`
	NotifyOnDisconnect bool `json:"notifyOnDisconnect"`
}

// NewConnection creates a connection config with a fresh ID and default
// runtime behavior (enabled, auto-reconnect, direct-exec, notifications on).
func NewConnection(name, namespace, service string, localPort, remotePort uint16) ConnectionConfig {
	return ConnectionConfig{
		ID:                 uuid.New(),
		Name:               name,
		Namespace:          namespace,
		Service:            service,
		LocalPort:          localPort,
		RemotePort:         remotePort,
		IsEnabled:          true,
		AutoReconnect:      true,
		UseDirectExec:      true,
		NotifyOnConnect:    true,
		NotifyOnDisconnect: true,
	}
}

// EffectivePort returns the port clients should actually dial: the proxy port
// when configured, otherwise the local tunnel port.
func (c ConnectionConfig) EffectivePort() uint16 {
	if c.ProxyPort != nil {
		return *c.ProxyPort
	}
	return c.LocalPort
}

// HasProxy reports whether a secondary relay is configured.
func (c ConnectionConfig) HasProxy() bool {
	return c.ProxyPort != nil
}

// TunnelsFile is the on-disk shape of the connection registry.
type TunnelsFile struct {
	Connections []ConnectionConfig `json:"connections"`
}

// Settings holds the tunable timing and lookup parameters. All of them have
// working defaults; users override individual fields in settings.yaml. Fields
// left at their zero value keep the default, so a zero duration cannot be set
// explicitly.
type Settings struct {
	// PortForwardStabilization is the wait after spawning kubectl
	// port-forward before probing the local port.
	PortForwardStabilization time.Duration `yaml:"portForwardStabilization,omitempty"`

	// ProxyStabilization is the wait after spawning a socat relay (or a
	// direct-exec listener) before probing its port.
	ProxyStabilization time.Duration `yaml:"proxyStabilization,omitempty"`

	// RestartDelay is the pause between the stop and start halves of a restart.
	RestartDelay time.Duration `yaml:"restartDelay,omitempty"`

	// ProbeTimeout bounds a single loopback TCP connect probe.
	ProbeTimeout time.Duration `yaml:"probeTimeout,omitempty"`

	// RecentErrorWindow is how long a recorded error keeps a connection
	// eligible for monitor-driven restart.
	RecentErrorWindow time.Duration `yaml:"recentErrorWindow,omitempty"`

	// KubectlPaths and SocatPaths are candidate binary locations searched in
	// order before falling back to PATH.
	KubectlPaths []string `yaml:"kubectlPaths,omitempty"`
	SocatPaths   []string `yaml:"socatPaths,omitempty"`
}
