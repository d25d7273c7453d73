package supervisor

import "fmt"

// wrapperScript renders the per-client bash script used by direct-exec mode.
// socat runs one instance per accepted client; each instance picks a free
// ephemeral loopback port, starts its own kubectl port-forward to it, waits
// for the forward to accept, and then relays socat's stdio to it. The relay
// must run as a child of the shell, not replace it, so the EXIT trap can tear
// down the dedicated port-forward when the client disconnects.
func wrapperScript(kubectlPath, socatPath, namespace, service string, remotePort uint16) string {
	return fmt.Sprintf(`#!/bin/bash
# Per-client relay: dedicated kubectl port-forward for each accepted connection.

PORT=$((30000 + ($$ %% 30000)))
while nc -z 127.0.0.1 $PORT 2>/dev/null; do
    PORT=$((PORT + 1))
    if [ $PORT -ge 60000 ]; then
        PORT=30000
    fi
done

%s port-forward -n %s svc/%s $PORT:%d --address=127.0.0.1 >/dev/null 2>&1 &
PF_PID=$!

trap "kill $PF_PID 2>/dev/null" EXIT

for i in $(seq 1 10); do
    if nc -z 127.0.0.1 $PORT 2>/dev/null; then
        break
    fi
    sleep 0.5
done

%s - TCP:127.0.0.1:$PORT
`, kubectlPath, namespace, service, remotePort, socatPath)
}
