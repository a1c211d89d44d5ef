package transport

// Validation handshake constants. The values are part of the wire contract:
// a peer computing the scramble with different constants never validates.
const (
	scrambleXorIn  uint64 = 0xBABA15ACAB0011FF
	scrambleXorOut uint64 = 0xBABA15FACE1EE788
	scrambleMask   uint64 = 0x00C0A0C0A0B0B0B0
)

// scramble maps the handshake nonce to its expected reply. Not
// cryptographic; it only keeps arbitrary stream peers out of the message
// loop.
func scramble(x uint64) uint64 {
	v := (x ^ scrambleXorIn) & scrambleMask
	return (v>>4 | v<<4) ^ scrambleXorOut
}
