// Package tunnel is the heart of the tool: the connection lifecycle manager
// and its health monitor. The Manager ties the persisted registry, the
// runtime state machine, and the process supervisor together behind a
// front-end agnostic API; any presentation layer (the bundled CLI or
// something else) drives it through Start/Stop/Restart, reads States, ticks
// Monitor, and drains Notifications.
package tunnel
