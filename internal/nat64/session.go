package nat64

import "time"

// fiveTuple6 is a session's IPv6-side identity: source and destination
// transport addresses.
type fiveTuple6 struct {
	Src TransportAddr
	Dst TransportAddr
}

// fiveTuple4 is a session's IPv4-side identity.
type fiveTuple4 struct {
	Src TransportAddr
	Dst TransportAddr
}

// Session is the full five-tuple session entry linked to exactly one
// BIB (spec.md §3). TCPState is meaningful only when Proto is ProtoTCP;
// other protocols carry it at its zero value and ignore it.
type Session struct {
	Proto Protocol
	V6    fiveTuple6
	V4    fiveTuple4

	BIB      *BIBEntry
	Expiry   time.Time
	TCPState TCPState
}
