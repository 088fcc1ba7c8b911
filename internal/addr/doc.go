// Package addr implements IPv4/IPv6 address and prefix primitives used
// throughout the translator core: parsing, comparison, masking, bit
// extraction/insertion, longest-prefix-match, and RFC 6052 IPv4-embedded-
// IPv6 address synthesis/extraction.
//
// All types are value types with no I/O and no shared mutable state,
// matching the BFD ControlPacket codec's pure-function style.
package addr
