// Package supervisor owns the OS processes behind tunnel connections. It
// spawns kubectl port-forwards and socat relays, tracks them per connection
// and kind, probes liveness and port reachability, and tears everything down
// on demand. Higher-level state decisions live in internal/tunnel; this
// package only answers "is it running" and "make it run / make it stop".
package supervisor
