package wire

import "sync"

// -------------------------------------------------------------------------
// Family
// -------------------------------------------------------------------------

// Family identifies an IP address family.
type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// String returns "IPv4" or "IPv6".
func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "IPv4"
	case FamilyV6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// -------------------------------------------------------------------------
// Packet
// -------------------------------------------------------------------------

// MaxPacketSize is the largest packet this translator buffers: the IPv6
// non-jumbogram payload length field is 16 bits, so 40 (fixed header) +
// 65535 covers the largest packet any non-jumbo path can produce.
const MaxPacketSize = 40 + 65535

// Packet holds a decoded IP packet and the offsets into its backing
// buffer needed to translate it, without copying header or payload bytes
// out of Buf. A zero-value Packet has no Buf and is not usable; GetPacket
// returns one with Buf allocated through PacketPool and the rest reset.
type Packet struct {
	// Family is the address family of the packet as received.
	Family Family

	// Buf is the full wire image of the packet, Buf[:Len].
	Buf []byte
	Len int

	IPv4 IPv4Header
	IPv6 IPv6Header

	// Chain is only meaningful when Family == FamilyV6.
	Chain ExtHeaderChain

	// TransportProtocol is the upper-layer protocol number (TCP, UDP,
	// ICMPv4, or ICMPv6), taken from IPv4.Protocol or Chain.UpperProtocol.
	TransportProtocol uint8

	// TransportOffset is the byte offset of the upper-layer header within
	// Buf.
	TransportOffset int

	// IsFragment reports whether this packet is one fragment of a larger
	// original datagram (either an IPv4 fragment or an IPv6 packet with a
	// Fragment header).
	IsFragment bool

	// IsFirstFragment reports whether this fragment carries the
	// upper-layer header (fragment offset zero).
	IsFirstFragment bool

	// Inner marks a packet that is itself the embedded original-packet
	// payload of an ICMP error, bounding recursive translation to one
	// level (spec.md C8: "never nest ICMP-in-ICMP").
	Inner bool
}

// Reset clears a Packet for reuse, preserving Buf's underlying array.
func (p *Packet) Reset() {
	buf := p.Buf
	*p = Packet{Buf: buf}
}

// Data returns the full wire image of the packet.
func (p *Packet) Data() []byte {
	return p.Buf[:p.Len]
}

// Transport returns the upper-layer header and payload, i.e. everything
// from TransportOffset to the end of the packet.
func (p *Packet) Transport() []byte {
	return p.Buf[p.TransportOffset:p.Len]
}

// PacketPool provides reusable *Packet buffers, avoiding a fresh
// allocation per packet on the translation hot path.
var PacketPool = sync.Pool{
	New: func() any {
		return &Packet{Buf: make([]byte, MaxPacketSize)}
	},
}

// GetPacket fetches a *Packet from PacketPool, resetting it for reuse.
func GetPacket() *Packet {
	p, _ := PacketPool.Get().(*Packet)
	p.Reset()
	return p
}

// PutPacket returns p to PacketPool.
func PutPacket(p *Packet) {
	PacketPool.Put(p)
}
