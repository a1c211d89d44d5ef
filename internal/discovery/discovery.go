// Package discovery locates the broker on the local network over UDP. The
// broker runs a responder on a well-known port; clients probe by LAN
// broadcast first and fall back to a unicast sweep of the local subnet for
// networks that filter broadcast traffic.
package discovery

const (
	probePhrase    = "pingpong_discover_v1"
	responsePrefix = "pingpong_server_v1"

	// DefaultPort is the responder's UDP port.
	DefaultPort = 60009
)
