// Package wire implements bit-exact readers/writers for the protocol
// headers this translator rewrites: IPv4, IPv6, the IPv6 fragment
// extension header, TCP, UDP, ICMPv4, and ICMPv6.
//
// Each header has a typed Go struct plus Marshal/Unmarshal functions that
// operate directly on a byte buffer, in the same style as the BFD Control
// packet codec this module is grounded on: sentinel errors for every
// validation failure, no panics on malformed input, and zero-allocation
// decoding (wrapper structs reference the original buffer rather than
// copying it).
package wire
