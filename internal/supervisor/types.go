package supervisor

// ProcessKind distinguishes the two process slots a connection may own.
type ProcessKind int

const (
	// PortForward is the kubectl port-forward process.
	PortForward ProcessKind = iota
	// Proxy is the socat relay process (or the direct-exec listener).
	Proxy
)

func (k ProcessKind) String() string {
	switch k {
	case PortForward:
		return "port-forward"
	case Proxy:
		return "proxy"
	default:
		return "unknown"
	}
}
