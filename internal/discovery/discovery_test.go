package discovery

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKubectl writes an executable script that prints the given payload on
// any invocation and returns its path.
func fakeKubectl(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubectl")
	script := "#!/bin/sh\ncat <<'EOF'\n" + payload + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

const namespacesJSON = `{
  "items": [
    {"metadata": {"name": "kube-system"}},
    {"metadata": {"name": "default"}},
    {"metadata": {"name": "monitoring"}}
  ]
}`

const servicesJSON = `{
  "items": [
    {
      "metadata": {"name": "web", "namespace": "default"},
      "spec": {
        "type": "ClusterIP",
        "clusterIP": "10.0.0.1",
        "ports": [
          {"name": "http", "port": 80, "targetPort": 8080, "protocol": "TCP"},
          {"name": "metrics", "port": 9090, "targetPort": "metrics", "protocol": "TCP"}
        ]
      }
    },
    {
      "metadata": {"name": "db", "namespace": "default"},
      "spec": {
        "clusterIP": "10.0.0.2",
        "ports": [{"port": 5432, "targetPort": 5432}]
      }
    }
  ]
}`

func TestFetchNamespacesSorted(t *testing.T) {
	d := NewWithPaths(fakeKubectl(t, namespacesJSON), "")

	namespaces, err := d.FetchNamespaces(context.Background())
	require.NoError(t, err)
	require.Len(t, namespaces, 3)
	assert.Equal(t, "default", namespaces[0].Name)
	assert.Equal(t, "kube-system", namespaces[1].Name)
	assert.Equal(t, "monitoring", namespaces[2].Name)
}

func TestFetchServices(t *testing.T) {
	d := NewWithPaths(fakeKubectl(t, servicesJSON), "")

	services, err := d.FetchServices(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, services, 2)

	// Sorted by name: db first.
	db := services[0]
	assert.Equal(t, "db", db.Name)
	assert.Equal(t, "ClusterIP", db.Type) // defaulted when spec.type is absent
	require.Len(t, db.Ports, 1)
	assert.Equal(t, uint16(5432), db.Ports[0].TargetPort)

	web := services[1]
	assert.Equal(t, "default/web", web.ID())
	require.Len(t, web.Ports, 2)
	assert.Equal(t, uint16(8080), web.Ports[0].TargetPort)
	// Named target ports fall back to the service port.
	assert.Equal(t, uint16(9090), web.Ports[1].TargetPort)
}

func TestFetchNamespacesWithoutKubectl(t *testing.T) {
	d := NewWithPaths("", "")

	_, err := d.FetchNamespaces(context.Background())
	assert.ErrorIs(t, err, ErrKubectlNotFound)
}

func TestServicePortDisplayName(t *testing.T) {
	named := ServicePort{Name: "http", Port: 8080, TargetPort: 80}
	assert.Equal(t, "8080 (http)", named.DisplayName())

	unnamed := ServicePort{Port: 3000, TargetPort: 3000}
	assert.Equal(t, "3000", unnamed.DisplayName())
}

func TestFindExecutable(t *testing.T) {
	tempDir := t.TempDir()
	binary := filepath.Join(tempDir, "tool")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0o755))

	// Candidate path hit.
	assert.Equal(t, binary, findExecutable("tool", []string{binary}))

	// Miss everywhere: candidates absent and not on PATH.
	original := execLookPath
	execLookPath = func(string) (string, error) { return "", os.ErrNotExist }
	defer func() { execLookPath = original }()
	assert.Equal(t, "", findExecutable("tool", []string{filepath.Join(tempDir, "missing")}))
}

func TestAvailability(t *testing.T) {
	d := NewWithPaths("/usr/bin/kubectl", "")
	assert.True(t, d.IsKubectlAvailable())
	assert.False(t, d.IsSocatAvailable())
}
