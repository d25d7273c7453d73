package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"tunnelctl/internal/config"
	"tunnelctl/pkg/logging"
)

// Sentinel errors for external tool lookup and cluster queries.
var (
	ErrKubectlNotFound  = errors.New("kubectl not found")
	ErrSocatNotFound    = errors.New("socat not found")
	ErrDiscoveryTimeout = errors.New("cluster query timed out")
)

// Timeout for a single kubectl discovery invocation.
const kubectlTimeout = 15 * time.Second

// For mocking in tests.
var execLookPath = exec.LookPath

// Discovery locates the external kubectl and socat binaries and answers
// cluster queries through kubectl. Lookup happens once, at construction.
type Discovery struct {
	kubectlPath string
	socatPath   string
}

// New creates a Discovery, searching the configured candidate paths first and
// PATH second for each binary.
func New(settings config.Settings) *Discovery {
	return &Discovery{
		kubectlPath: findExecutable("kubectl", settings.KubectlPaths),
		socatPath:   findExecutable("socat", settings.SocatPaths),
	}
}

// NewWithPaths creates a Discovery with explicit binary paths, primarily for
// tests.
func NewWithPaths(kubectlPath, socatPath string) *Discovery {
	return &Discovery{kubectlPath: kubectlPath, socatPath: socatPath}
}

// KubectlPath returns the located kubectl path, empty if not found.
func (d *Discovery) KubectlPath() string { return d.kubectlPath }

// SocatPath returns the located socat path, empty if not found.
func (d *Discovery) SocatPath() string { return d.socatPath }

// IsKubectlAvailable reports whether kubectl was located.
func (d *Discovery) IsKubectlAvailable() bool { return d.kubectlPath != "" }

// IsSocatAvailable reports whether socat was located.
func (d *Discovery) IsSocatAvailable() bool { return d.socatPath != "" }

// FetchNamespaces lists all namespaces in the current cluster, sorted by name.
func (d *Discovery) FetchNamespaces(ctx context.Context) ([]Namespace, error) {
	out, err := d.execKubectl(ctx, "get", "namespaces", "-o", "json", "--request-timeout=10s")
	if err != nil {
		return nil, err
	}

	var list namespaceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to parse kubectl namespace output: %w", err)
	}

	namespaces := list.toNamespaces()
	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i].Name < namespaces[j].Name })
	return namespaces, nil
}

// FetchServices lists the services in a namespace, sorted by name.
func (d *Discovery) FetchServices(ctx context.Context, namespace string) ([]Service, error) {
	out, err := d.execKubectl(ctx, "get", "services", "-n", namespace, "-o", "json", "--request-timeout=10s")
	if err != nil {
		return nil, err
	}

	var list serviceList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to parse kubectl service output: %w", err)
	}

	services := list.toServices()
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

// execKubectl runs kubectl with the given args under the discovery timeout and
// returns its stdout.
func (d *Discovery) execKubectl(ctx context.Context, args ...string) ([]byte, error) {
	if d.kubectlPath == "" {
		return nil, ErrKubectlNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, kubectlTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.kubectlPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.Debug("Discovery", "Running %s %v", d.kubectlPath, args)
	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w after %s", ErrDiscoveryTimeout, kubectlTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("kubectl %v failed: %w (stderr: %s)", args, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// findExecutable returns the first candidate path that exists on disk, falling
// back to a PATH lookup by name.
func findExecutable(name string, candidates []string) string {
	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if path, err := execLookPath(name); err == nil {
		return path
	}
	return ""
}
