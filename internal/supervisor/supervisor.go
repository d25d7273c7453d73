package supervisor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
	"tunnelctl/pkg/logging"
)

const logSubsystem = "Supervisor"

// ErrProcessSpawn indicates the OS refused to start an external process.
var ErrProcessSpawn = errors.New("failed to start process")

// Grace period before force-killing a process found on a port.
const killGracePeriod = 300 * time.Millisecond

// Settle wait after the emergency pattern-kill in KillAll.
const killAllSettle = 500 * time.Millisecond

// trackedProcess is one owned child. done is closed once Wait has returned,
// so liveness checks never block and every child is reaped exactly once.
type trackedProcess struct {
	cmd    *exec.Cmd
	done   chan struct{}
	output *outputBuffer
}

func (p *trackedProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// kill terminates the child and waits for it to be reaped.
func (p *trackedProcess) kill() {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	<-p.done
}

// Supervisor spawns, tracks, probes, and terminates the OS processes backing
// tunnel connections. Each connection owns at most one process per kind; the
// table invariant is enforced on registration, not trusted.
type Supervisor struct {
	discovery *discovery.Discovery
	settings  config.Settings

	mu        sync.Mutex
	processes map[uuid.UUID]map[ProcessKind]*trackedProcess

	errMu            sync.Mutex
	connectionErrors map[uuid.UUID]time.Time
}

// New creates a Supervisor backed by the given binary discovery and settings.
func New(d *discovery.Discovery, settings config.Settings) *Supervisor {
	return &Supervisor{
		discovery:        d,
		settings:         settings,
		processes:        make(map[uuid.UUID]map[ProcessKind]*trackedProcess),
		connectionErrors: make(map[uuid.UUID]time.Time),
	}
}

// ----------------------------------------------------------------------------
// Process lifecycle
// ----------------------------------------------------------------------------

// StartPortForward spawns a kubectl port-forward bound to the connection's
// local port and registers it under (id, PortForward).
func (s *Supervisor) StartPortForward(id uuid.UUID, cfg config.ConnectionConfig) error {
	kubectlPath := s.discovery.KubectlPath()
	if kubectlPath == "" {
		return discovery.ErrKubectlNotFound
	}

	cmd := exec.Command(kubectlPath,
		"port-forward",
		"-n", cfg.Namespace,
		fmt.Sprintf("svc/%s", cfg.Service),
		fmt.Sprintf("%d:%d", cfg.LocalPort, cfg.RemotePort),
		"--address=127.0.0.1",
	)

	tracked, err := s.spawn(cmd)
	if err != nil {
		return fmt.Errorf("%w: kubectl port-forward: %v", ErrProcessSpawn, err)
	}

	logging.Debug(logSubsystem, "Started kubectl port-forward for %s (%d -> %s/%s:%d), pid %d",
		cfg.Name, cfg.LocalPort, cfg.Namespace, cfg.Service, cfg.RemotePort, cmd.Process.Pid)
	s.register(id, PortForward, tracked)
	return nil
}

// StartProxy spawns a socat relay from externalPort to internalPort on
// loopback and registers it under (id, Proxy).
func (s *Supervisor) StartProxy(id uuid.UUID, externalPort, internalPort uint16) error {
	socatPath := s.discovery.SocatPath()
	if socatPath == "" {
		return discovery.ErrSocatNotFound
	}

	cmd := exec.Command(socatPath,
		fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", externalPort),
		fmt.Sprintf("TCP:127.0.0.1:%d", internalPort),
	)

	tracked, err := s.spawn(cmd)
	if err != nil {
		return fmt.Errorf("%w: socat: %v", ErrProcessSpawn, err)
	}

	logging.Debug(logSubsystem, "Started socat proxy %d -> 127.0.0.1:%d, pid %d",
		externalPort, internalPort, cmd.Process.Pid)
	s.register(id, Proxy, tracked)
	return nil
}

// StartDirectExecProxy starts a single socat listener that execs a generated
// wrapper script per inbound client. Each accepted connection gets its own
// dedicated kubectl port-forward, which is what gives direct-exec mode true
// multi-client support.
func (s *Supervisor) StartDirectExecProxy(id uuid.UUID, cfg config.ConnectionConfig) error {
	kubectlPath := s.discovery.KubectlPath()
	if kubectlPath == "" {
		return discovery.ErrKubectlNotFound
	}
	socatPath := s.discovery.SocatPath()
	if socatPath == "" {
		return discovery.ErrSocatNotFound
	}

	scriptPath := WrapperScriptPath(id)
	script := wrapperScript(kubectlPath, socatPath, cfg.Namespace, cfg.Service, cfg.RemotePort)
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to write wrapper script %s: %w", scriptPath, err)
	}

	cmd := exec.Command(socatPath,
		fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", cfg.EffectivePort()),
		fmt.Sprintf("EXEC:%s", scriptPath),
	)

	tracked, err := s.spawn(cmd)
	if err != nil {
		return fmt.Errorf("%w: direct-exec proxy: %v", ErrProcessSpawn, err)
	}

	logging.Debug(logSubsystem, "Started direct-exec proxy for %s on port %d, pid %d",
		cfg.Name, cfg.EffectivePort(), cmd.Process.Pid)
	s.register(id, Proxy, tracked)
	return nil
}

// KillProcesses terminates and reaps both tracked processes for a connection,
// pattern-kills any stragglers still referencing its wrapper script, removes
// the script, and clears the connection's error timestamp. Calling it for an
// untracked id is a no-op.
func (s *Supervisor) KillProcesses(id uuid.UUID) {
	s.mu.Lock()
	procs := s.processes[id]
	delete(s.processes, id)
	s.mu.Unlock()

	for kind, p := range procs {
		logging.Debug(logSubsystem, "Killing %s process for connection %s", kind, id)
		p.kill()
	}

	// The wrapper script forks kubectl children the table never saw.
	// Best-effort cleanup by pattern; not a strict ownership guarantee.
	scriptPath := WrapperScriptPath(id)
	_ = exec.Command("pkill", "-f", scriptPath).Run()
	_ = os.Remove(scriptPath)

	s.ClearError(id)
}

// KillAll is the emergency cleanup: pattern-kill every kubectl port-forward
// and socat listener on the system, clear all tables, and sweep the temp
// directory for orphaned wrapper scripts. It covers process state lost across
// a supervisor restart.
func (s *Supervisor) KillAll() {
	_ = exec.Command("pkill", "-9", "-f", "kubectl.*port-forward").Run()
	_ = exec.Command("pkill", "-9", "-f", "socat.*TCP-LISTEN").Run()

	time.Sleep(killAllSettle)

	s.mu.Lock()
	stale := s.processes
	s.processes = make(map[uuid.UUID]map[ProcessKind]*trackedProcess)
	s.mu.Unlock()

	// Reap whatever we were tracking; the pattern-kill above already
	// terminated them.
	for _, procs := range stale {
		for _, p := range procs {
			<-p.done
		}
	}

	s.errMu.Lock()
	s.connectionErrors = make(map[uuid.UUID]time.Time)
	s.errMu.Unlock()

	CleanupOrphanScripts()
}

// ----------------------------------------------------------------------------
// Status checks
// ----------------------------------------------------------------------------

// IsProcessRunning reports whether the tracked process is still alive. A
// process found exited is removed from the table; exited handles are never
// retained.
func (s *Supervisor) IsProcessRunning(id uuid.UUID, kind ProcessKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	procs, ok := s.processes[id]
	if !ok {
		return false
	}
	p, ok := procs[kind]
	if !ok {
		return false
	}
	if p.exited() {
		delete(procs, kind)
		return false
	}
	return true
}

// IsPortOpen reports whether something accepts TCP connections on the given
// loopback port within the configured probe timeout.
func (s *Supervisor) IsPortOpen(port uint16) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), s.settings.ProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ReadProcessOutput returns the captured stdout/stderr lines of a tracked
// process, empty if the process is unknown.
func (s *Supervisor) ReadProcessOutput(id uuid.UUID, kind ProcessKind) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if procs, ok := s.processes[id]; ok {
		if p, ok := procs[kind]; ok {
			return p.output.Lines()
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Error window
// ----------------------------------------------------------------------------

// MarkConnectionError records an error instant for a connection.
func (s *Supervisor) MarkConnectionError(id uuid.UUID) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	s.connectionErrors[id] = time.Now()
}

// HasRecentError reports whether a connection error was recorded within the
// configured recency window.
func (s *Supervisor) HasRecentError(id uuid.UUID) bool {
	s.errMu.Lock()
	defer s.errMu.Unlock()

	at, ok := s.connectionErrors[id]
	return ok && time.Since(at) < s.settings.RecentErrorWindow
}

// ClearError drops the recorded error instant for a connection.
func (s *Supervisor) ClearError(id uuid.UUID) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	delete(s.connectionErrors, id)
}

// ----------------------------------------------------------------------------
// Port conflict resolution
// ----------------------------------------------------------------------------

// KillProcessOnPort terminates whatever is listening on the given TCP port:
// SIGTERM first, then SIGKILL after a short grace period.
func (s *Supervisor) KillProcessOnPort(port uint16) error {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		// lsof exits non-zero when nothing is listening; treat as done.
		return nil
	}

	for _, pid := range splitPIDs(out) {
		_ = exec.Command("kill", "-15", pid).Run()
		time.Sleep(killGracePeriod)
		if exec.Command("kill", "-0", pid).Run() == nil {
			_ = exec.Command("kill", "-9", pid).Run()
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Internal helpers
// ----------------------------------------------------------------------------

// spawn starts the command with output capture and a reaper goroutine.
func (s *Supervisor) spawn(cmd *exec.Cmd) (*trackedProcess, error) {
	output := newOutputBuffer()
	cmd.Stdout = output
	cmd.Stderr = output

	// Grandchildren (socat fork workers, wrapper children) inherit the output
	// pipe; Wait must return once the child itself is gone, not when the last
	// grandchild lets go of the pipe.
	cmd.WaitDelay = killGracePeriod

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &trackedProcess{
		cmd:    cmd,
		done:   make(chan struct{}),
		output: output,
	}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// register installs a process under its (id, kind) slot, first terminating
// and reaping any previous occupant. At most one live process per slot.
func (s *Supervisor) register(id uuid.UUID, kind ProcessKind, p *trackedProcess) {
	s.mu.Lock()
	procs, ok := s.processes[id]
	if !ok {
		procs = make(map[ProcessKind]*trackedProcess)
		s.processes[id] = procs
	}
	old := procs[kind]
	procs[kind] = p
	s.mu.Unlock()

	if old != nil {
		logging.Debug(logSubsystem, "Replacing %s process for connection %s", kind, id)
		old.kill()
	}
}

// WrapperScriptPath returns the temp-dir path of a connection's direct-exec
// wrapper script.
func WrapperScriptPath(id uuid.UUID) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("pf-wrapper-%s.sh", id))
}

// CleanupOrphanScripts removes wrapper scripts left behind by previous runs.
func CleanupOrphanScripts() {
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "pf-wrapper-*.sh"))
	if err != nil {
		return
	}
	for _, path := range matches {
		_ = os.Remove(path)
	}
}

// CleanupOrphanProcesses pattern-kills wrapper-script processes left behind
// by previous runs. Called once at manager startup.
func CleanupOrphanProcesses() {
	_ = exec.Command("pkill", "-f", "pf-wrapper-").Run()
}

func splitPIDs(out []byte) []string {
	var pids []string
	for _, field := range splitLines(string(out)) {
		if field != "" {
			pids = append(pids, field)
		}
	}
	return pids
}
