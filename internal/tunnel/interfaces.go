package tunnel

import (
	"github.com/google/uuid"

	"tunnelctl/internal/config"
	"tunnelctl/internal/supervisor"
)

// ProcessSupervisor is the process-control surface the manager drives.
// *supervisor.Supervisor implements it; tests substitute a fake.
type ProcessSupervisor interface {
	StartPortForward(id uuid.UUID, cfg config.ConnectionConfig) error
	StartProxy(id uuid.UUID, externalPort, internalPort uint16) error
	StartDirectExecProxy(id uuid.UUID, cfg config.ConnectionConfig) error
	KillProcesses(id uuid.UUID)
	KillAll()
	IsProcessRunning(id uuid.UUID, kind supervisor.ProcessKind) bool
	IsPortOpen(port uint16) bool
	ReadProcessOutput(id uuid.UUID, kind supervisor.ProcessKind) []string
	MarkConnectionError(id uuid.UUID)
	HasRecentError(id uuid.UUID) bool
	ClearError(id uuid.UUID)
}

// BinaryLocator answers whether the external binaries were found.
// *discovery.Discovery implements it.
type BinaryLocator interface {
	IsKubectlAvailable() bool
	IsSocatAvailable() bool
}
