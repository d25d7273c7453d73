// Package config provides the persisted connection registry and user settings
// for tunnelctl.
//
// Two files live under ~/.tunnelctl/:
//
//  1. connections.json — the connection registry. A single JSON object holding
//     every ConnectionConfig. All writes are atomic (temp file + rename), so a
//     concurrent reader never sees a partial file.
//
//  2. settings.yaml — optional user settings. Loaded over the built-in
//     defaults; only the fields the user sets are overridden.
//
// # Registry Shape
//
//	{
//	  "connections": [
//	    {
//	      "id": "5f2c7b9e-...",
//	      "name": "staging-db",
//	      "namespace": "databases",
//	      "service": "postgres",
//	      "localPort": 5432,
//	      "remotePort": 5432,
//	      "proxyPort": 15432,
//	      "isEnabled": true,
//	      "autoReconnect": true,
//	      "useDirectExec": false,
//	      "notifyOnConnect": true,
//	      "notifyOnDisconnect": true
//	    }
//	  ]
//	}
//
// Runtime connection state (statuses, last error, intentional-stop flag) is
// deliberately not part of this file; it is rebuilt from scratch on every run.
//
// # Settings
//
//	portForwardStabilization: 2s
//	proxyStabilization: 1s
//	restartDelay: 500ms
//	probeTimeout: 500ms
//	recentErrorWindow: 10s
//	kubectlPaths: ["/usr/local/bin/kubectl"]
//	socatPaths: ["/usr/local/bin/socat"]
package config
