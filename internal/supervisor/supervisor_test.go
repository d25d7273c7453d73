package supervisor

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tunnelctl/internal/config"
	"tunnelctl/internal/discovery"
)

// fakeBinary writes an executable shell script standing in for kubectl or
// socat. The default body sleeps so the process stays alive for liveness
// checks.
func fakeBinary(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testSupervisor(t *testing.T, kubectlBody, socatBody string) *Supervisor {
	t.Helper()
	d := discovery.NewWithPaths(
		fakeBinary(t, "kubectl", kubectlBody),
		fakeBinary(t, "socat", socatBody),
	)
	settings := config.DefaultSettings()
	settings.ProbeTimeout = 200 * time.Millisecond
	settings.RecentErrorWindow = 150 * time.Millisecond
	return New(d, settings)
}

func testConnection() config.ConnectionConfig {
	return config.NewConnection("db", "default", "postgres", 15432, 5432)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartPortForwardTracksProcess(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))
	defer s.KillProcesses(cfg.ID)

	assert.True(t, s.IsProcessRunning(cfg.ID, PortForward))
	assert.False(t, s.IsProcessRunning(cfg.ID, Proxy))
}

func TestStartPortForwardWithoutKubectl(t *testing.T) {
	d := discovery.NewWithPaths("", fakeBinary(t, "socat", "sleep 30"))
	s := New(d, config.DefaultSettings())
	cfg := testConnection()

	err := s.StartPortForward(cfg.ID, cfg)
	assert.ErrorIs(t, err, discovery.ErrKubectlNotFound)
}

func TestStartProxyWithoutSocat(t *testing.T) {
	d := discovery.NewWithPaths(fakeBinary(t, "kubectl", "sleep 30"), "")
	s := New(d, config.DefaultSettings())
	cfg := testConnection()

	err := s.StartProxy(cfg.ID, 18080, cfg.LocalPort)
	assert.ErrorIs(t, err, discovery.ErrSocatNotFound)
}

func TestExitedProcessIsNotRunning(t *testing.T) {
	s := testSupervisor(t, "exit 0", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))

	waitFor(t, func() bool { return !s.IsProcessRunning(cfg.ID, PortForward) },
		"process should be observed as exited")
	// The exited handle is dropped; a second check stays false.
	assert.False(t, s.IsProcessRunning(cfg.ID, PortForward))
}

func TestKillProcessesStopsBothKinds(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))
	require.NoError(t, s.StartProxy(cfg.ID, 18081, cfg.LocalPort))
	s.MarkConnectionError(cfg.ID)

	s.KillProcesses(cfg.ID)

	assert.False(t, s.IsProcessRunning(cfg.ID, PortForward))
	assert.False(t, s.IsProcessRunning(cfg.ID, Proxy))
	assert.False(t, s.HasRecentError(cfg.ID))

	// Idempotent for an untracked id.
	s.KillProcesses(cfg.ID)
	s.KillProcesses(uuid.New())
}

func TestRegisterReplacesPreviousOccupant(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))
	s.mu.Lock()
	firstPid := s.processes[cfg.ID][PortForward].cmd.Process.Pid
	s.mu.Unlock()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))
	defer s.KillProcesses(cfg.ID)

	s.mu.Lock()
	p := s.processes[cfg.ID][PortForward]
	s.mu.Unlock()

	assert.NotEqual(t, firstPid, p.cmd.Process.Pid)
	assert.True(t, s.IsProcessRunning(cfg.ID, PortForward))
}

func TestReadProcessOutput(t *testing.T) {
	s := testSupervisor(t, "echo 'Forwarding from 127.0.0.1:15432 -> 5432'; sleep 30", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))
	defer s.KillProcesses(cfg.ID)

	waitFor(t, func() bool { return len(s.ReadProcessOutput(cfg.ID, PortForward)) > 0 },
		"expected captured output")
	lines := s.ReadProcessOutput(cfg.ID, PortForward)
	assert.Contains(t, lines[0], "Forwarding from")

	assert.Nil(t, s.ReadProcessOutput(uuid.New(), PortForward))
}

func TestStartDirectExecProxyWritesWrapperScript(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	cfg := testConnection()
	proxyPort := uint16(18082)
	cfg.ProxyPort = &proxyPort

	require.NoError(t, s.StartDirectExecProxy(cfg.ID, cfg))
	defer s.KillProcesses(cfg.ID)

	scriptPath := WrapperScriptPath(cfg.ID)
	data, err := os.ReadFile(scriptPath)
	require.NoError(t, err)
	script := string(data)
	assert.True(t, strings.HasPrefix(script, "#!/bin/bash"))
	assert.Contains(t, script, "port-forward -n default svc/postgres")
	assert.Contains(t, script, fmt.Sprintf("$PORT:%d", cfg.RemotePort))
	assert.Contains(t, script, "trap")
	// The relay must not replace the shell or the EXIT trap never runs.
	assert.NotContains(t, script, "\nexec ")

	assert.True(t, s.IsProcessRunning(cfg.ID, Proxy))

	s.KillProcesses(cfg.ID)
	_, err = os.Stat(scriptPath)
	assert.True(t, os.IsNotExist(err))
}

// The wrapper backgrounds a dedicated port-forward per client; when the relay
// half exits, the EXIT trap must take that forward down with it.
func TestWrapperScriptTerminatesDedicatedForward(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "forward.pid")

	// The forward stub records its PID and stays alive.
	kubectl := filepath.Join(dir, "kubectl")
	require.NoError(t, os.WriteFile(kubectl,
		[]byte("#!/bin/sh\necho $$ > \"$FORWARD_PID_FILE\"\nsleep 30\n"), 0o755))
	// The relay stub stands in for a client that disconnects immediately.
	socat := filepath.Join(dir, "socat")
	require.NoError(t, os.WriteFile(socat, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	// nc reports the port open once the forward stub has come up.
	nc := filepath.Join(dir, "nc")
	require.NoError(t, os.WriteFile(nc, []byte("#!/bin/sh\ntest -f \"$FORWARD_PID_FILE\"\n"), 0o755))

	scriptPath := filepath.Join(dir, "wrapper.sh")
	script := wrapperScript(kubectl, socat, "default", "postgres", 5432)
	require.NoError(t, os.WriteFile(scriptPath, []byte(script), 0o755))

	cmd := exec.Command("bash", scriptPath)
	cmd.Env = append(os.Environ(),
		"PATH="+dir+":"+os.Getenv("PATH"),
		"FORWARD_PID_FILE="+pidFile,
	)
	require.NoError(t, cmd.Run())

	data, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	require.NoError(t, err)

	waitFor(t, func() bool { return syscall.Kill(pid, 0) != nil },
		"dedicated forward should die with the wrapper")
}

func TestKillProcessesReturnsDespiteGrandchildren(t *testing.T) {
	// The stub holds a grandchild on the inherited output pipe; reaping must
	// still be bounded by the wait delay.
	s := testSupervisor(t, "sleep 30 &\nsleep 30", "sleep 30")
	cfg := testConnection()

	require.NoError(t, s.StartPortForward(cfg.ID, cfg))

	start := time.Now()
	s.KillProcesses(cfg.ID)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.IsProcessRunning(cfg.ID, PortForward))
}

func TestIsPortOpen(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := uint16(ln.Addr().(*net.TCPAddr).Port)

	assert.True(t, s.IsPortOpen(port))

	ln.Close()
	waitFor(t, func() bool { return !s.IsPortOpen(port) }, "port should close")
}

func TestErrorWindowExpires(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	id := uuid.New()

	assert.False(t, s.HasRecentError(id))
	s.MarkConnectionError(id)
	assert.True(t, s.HasRecentError(id))

	waitFor(t, func() bool { return !s.HasRecentError(id) }, "error window should expire")
}

func TestClearError(t *testing.T) {
	s := testSupervisor(t, "sleep 30", "sleep 30")
	id := uuid.New()

	s.MarkConnectionError(id)
	s.ClearError(id)
	assert.False(t, s.HasRecentError(id))
}

func TestWrapperScriptPath(t *testing.T) {
	id := uuid.New()
	path := WrapperScriptPath(id)
	assert.Equal(t, filepath.Join(os.TempDir(), fmt.Sprintf("pf-wrapper-%s.sh", id)), path)
}

func TestProcessKindString(t *testing.T) {
	assert.Equal(t, "port-forward", PortForward.String())
	assert.Equal(t, "proxy", Proxy.String())
	assert.Equal(t, "unknown", ProcessKind(42).String())
}

func TestIsErrorLine(t *testing.T) {
	errorLines := []string{
		"error: lost connection to pod",
		"E0814 12:00:00 portforward.go:400] an error occurred forwarding",
		"Unable to connect to the server",
		"dial tcp 127.0.0.1:5432: connection refused",
		"command failed with exit code 1",
	}
	for _, line := range errorLines {
		assert.True(t, IsErrorLine(line), line)
	}

	okLines := []string{
		"Forwarding from 127.0.0.1:15432 -> 5432",
		"Handling connection for 15432",
	}
	for _, line := range okLines {
		assert.False(t, IsErrorLine(line), line)
	}
}

func TestDetectPortConflict(t *testing.T) {
	port, ok := DetectPortConflict("Unable to listen on port 8080: listen tcp4 127.0.0.1:8080: bind: address already in use")
	assert.True(t, ok)
	assert.Equal(t, uint16(8080), port)

	port, ok = DetectPortConflict("2024/01/01 socat[12345] E bind(5, {AF=2 0.0.0.0:9090}, 16): Address already in use")
	assert.True(t, ok)
	assert.Equal(t, uint16(9090), port)

	_, ok = DetectPortConflict("Forwarding from 127.0.0.1:15432 -> 5432")
	assert.False(t, ok)

	// Low numbers alone are indistinguishable from IP octets.
	_, ok = DetectPortConflict("address already in use: 127.0.0.1")
	assert.False(t, ok)
}

func TestOutputBufferBounded(t *testing.T) {
	b := newOutputBuffer()
	chunk := []byte(strings.Repeat("x", 1024) + "\n")
	for i := 0; i < 2*maxCaptureBytes/len(chunk); i++ {
		n, err := b.Write(chunk)
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	total := 0
	for _, line := range b.Lines() {
		total += len(line)
	}
	assert.LessOrEqual(t, total, maxCaptureBytes)
}

func TestSplitLines(t *testing.T) {
	lines := splitLines("first\r\n\nsecond\n  \nthird")
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}
