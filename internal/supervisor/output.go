package supervisor

import (
	"strings"
	"sync"
)

// Cap on captured output per process; kubectl and socat are chatty on failure
// but we only ever need the head for diagnostics.
const maxCaptureBytes = 64 * 1024

// outputBuffer is a concurrency-safe, bounded sink for a child's combined
// stdout/stderr.
type outputBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func newOutputBuffer() *outputBuffer {
	return &outputBuffer{}
}

func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if remaining := maxCaptureBytes - b.buf.Len(); remaining > 0 {
		if len(p) > remaining {
			b.buf.Write(p[:remaining])
		} else {
			b.buf.Write(p)
		}
	}
	// Always report full consumption so the child never blocks on a full pipe.
	return len(p), nil
}

// Lines returns the captured output split into non-empty lines.
func (b *outputBuffer) Lines() []string {
	b.mu.Lock()
	captured := b.buf.String()
	b.mu.Unlock()

	return splitLines(captured)
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// IsErrorLine classifies a kubectl/socat output line as an error indicator.
func IsErrorLine(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "unable to") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "lost connection") ||
		strings.Contains(lower, "an error occurred")
}

// DetectPortConflict extracts the conflicting port from a bind failure line.
//
// kubectl: "listen tcp4 127.0.0.1:8080: bind: address already in use"
// socat:   "socat[12345] E bind(5, {AF=2 0.0.0.0:9090}, 16): Address already in use"
func DetectPortConflict(line string) (uint16, bool) {
	if !strings.Contains(strings.ToLower(line), "address already in use") {
		return 0, false
	}

	parts := strings.Split(line, ":")
	for i, part := range parts {
		if i == 0 {
			continue
		}

		digits := leadingDigits(part)
		if digits == "" {
			continue
		}

		if port := parsePort(digits); port > 255 {
			// Ports <= 255 are indistinguishable from IP octets here.
			return port, true
		}
	}
	return 0, false
}

func leadingDigits(s string) string {
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	return s[:end]
}

func parsePort(digits string) uint16 {
	var n uint32
	for i := 0; i < len(digits); i++ {
		n = n*10 + uint32(digits[i]-'0')
		if n > 65535 {
			return 0
		}
	}
	return uint16(n)
}
