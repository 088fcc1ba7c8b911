package nat64

import "net/netip"

// TransportAddr is an (address, port) pair; for ICMP, Port holds the
// ICMP identifier (spec.md §3: "For ICMP the 'port' is the ICMP
// identifier").
type TransportAddr struct {
	Addr netip.Addr
	Port uint16
}

// BIBEntry binds one IPv6 transport address to one IPv4 transport
// address for a protocol (spec.md §3). sessions counts the live Session
// values referencing this entry; the entry is removed once it reaches
// zero (spec.md §3: "a BIB is deleted only when it owns no sessions").
type BIBEntry struct {
	Proto Protocol
	V6    TransportAddr
	V4    TransportAddr

	sessions int
}
