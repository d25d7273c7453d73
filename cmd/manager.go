package cmd

import (
	"fmt"

	"github.com/google/uuid"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
	"tunnelctl/internal/supervisor"
	"tunnelctl/internal/tunnel"
)

// buildManager assembles the full stack: settings, binary discovery, process
// supervisor, registry store, and the lifecycle manager on top.
func buildManager() (*tunnel.Manager, error) {
	settings, err := config.LoadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	store, err := config.NewStore()
	if err != nil {
		return nil, err
	}

	disc := discovery.New(settings)
	sup := supervisor.New(disc, settings)

	return tunnel.NewManager(store, sup, disc, settings)
}

// resolveConnection accepts either a connection UUID or a connection name.
func resolveConnection(m *tunnel.Manager, arg string) (config.ConnectionConfig, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return m.Connection(id)
	}

	for _, cfg := range m.Connections() {
		if cfg.Name == arg {
			return cfg, nil
		}
	}
	return config.ConnectionConfig{}, fmt.Errorf("no connection named %q", arg)
}

// describeConnection renders the one-line summary used by list and status.
func describeConnection(cfg config.ConnectionConfig) string {
	target := fmt.Sprintf("%s/%s:%d", cfg.Namespace, cfg.Service, cfg.RemotePort)
	line := fmt.Sprintf("%-20s %5d -> %s", cfg.Name, cfg.EffectivePort(), target)
	if !cfg.IsEnabled {
		line += "  (disabled)"
	}
	return line
}
