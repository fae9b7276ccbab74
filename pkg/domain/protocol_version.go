package domain

import "fmt"

// ProtocolVersion is the sync wire protocol version negotiated during the
// handshake. This is a domain primitive that enforces validity at parse time.
type ProtocolVersion uint32

// Supported protocol versions.
const (
	ProtocolV1 ProtocolVersion = 1
	// Future versions: ProtocolV2 ProtocolVersion = 2
)

// supportedProtocols is the single source of truth for the back-compat
// window. Currently exactly one version is supported.
var supportedProtocols = map[ProtocolVersion]bool{
	ProtocolV1: true,
}

// ParseProtocolVersion validates a protocol version from the wire.
// Returns an error if the version is outside the supported window.
func ParseProtocolVersion(v uint32) (ProtocolVersion, error) {
	p := ProtocolVersion(v)
	if !supportedProtocols[p] {
		return 0, fmt.Errorf("unsupported protocol version: %d", v)
	}
	return p, nil
}

// IsSupported reports whether the hub speaks this version.
func (v ProtocolVersion) IsSupported() bool { return supportedProtocols[v] }

// DefaultProtocolVersion returns the version new devices should speak.
func DefaultProtocolVersion() ProtocolVersion { return ProtocolV1 }
