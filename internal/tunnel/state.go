package tunnel

import "github.com/google/uuid"

// Status is the lifecycle phase of one half of a connection (the kubectl
// port-forward or the relay).
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ConnectionState is the runtime state of one connection. It is never
// persisted; a fresh process starts every connection Disconnected.
type ConnectionState struct {
	ID                uuid.UUID
	PortForwardStatus Status
	ProxyStatus       Status
	LastError         string

	// IsIntentionallyStopped marks a user-requested stop so the monitor
	// leaves the connection alone.
	IsIntentionallyStopped bool
}

func newConnectionState(id uuid.UUID) ConnectionState {
	return ConnectionState{
		ID:                id,
		PortForwardStatus: StatusDisconnected,
		ProxyStatus:       StatusDisconnected,
	}
}

// FullyConnected reports whether everything the connection needs is up: the
// port-forward, and the relay too when one is configured.
func (s ConnectionState) FullyConnected(hasProxy bool) bool {
	if s.PortForwardStatus != StatusConnected {
		return false
	}
	if hasProxy && s.ProxyStatus != StatusConnected {
		return false
	}
	return true
}

// NotificationKind classifies a connection event surfaced to the user.
type NotificationKind int

const (
	NotificationConnected NotificationKind = iota
	NotificationDisconnected
	NotificationError
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationConnected:
		return "connected"
	case NotificationDisconnected:
		return "disconnected"
	case NotificationError:
		return "error"
	default:
		return "unknown"
	}
}

// Notification is a pending user-facing connection event. The manager queues
// them; a front-end drains and renders them.
type Notification struct {
	Kind           NotificationKind
	ConnectionID   uuid.UUID
	ConnectionName string

	// Message carries the diagnostic for error notifications, empty otherwise.
	Message string
}
