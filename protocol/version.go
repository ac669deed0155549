package protocol

import "fmt"

// Known protocol revisions.
const (
	// CurrentProtocolVersion is the revision this implementation prefers
	// and offers during the handshake.
	CurrentProtocolVersion = "2025-03-26"
	// OldProtocolVersion is an older revision accepted for compatibility.
	OldProtocolVersion = "2024-11-05"
)

// SupportedVersions lists accepted revisions in order of preference.
var SupportedVersions = []string{
	CurrentProtocolVersion,
	OldProtocolVersion,
}

// NegotiateVersion validates the revision a server settled on during
// the handshake. An empty server version is treated as agreement with
// the offered revision; anything outside SupportedVersions is a
// negotiation failure.
func NegotiateVersion(serverVersion string) (string, error) {
	if serverVersion == "" {
		return CurrentProtocolVersion, nil
	}
	for _, v := range SupportedVersions {
		if v == serverVersion {
			return v, nil
		}
	}
	return "", fmt.Errorf("unsupported protocol version %q (supported: %v)", serverVersion, SupportedVersions)
}
