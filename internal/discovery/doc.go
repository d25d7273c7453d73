// Package discovery locates the external kubectl and socat binaries and
// answers read-only cluster queries: namespace and service listings through
// kubectl's JSON output, kubeconfig context inspection, and a node readiness
// check via the Kubernetes Go client.
//
// Discovery never touches running tunnels; a timed-out or failed cluster
// query has no effect on existing connections.
package discovery
