package translate

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/wire"
)

// ErrUnsupportedTransport indicates a BIB/session lookup was attempted
// for an upper-layer protocol this translator's stateful path does not
// track (anything but TCP, UDP, or ICMP echo).
var ErrUnsupportedTransport = errors.New("translate: upper-layer protocol has no port/identifier concept")

// protoFromV6 maps a wire.NextHeader* value to the nat64.Protocol used to
// index the BIB/session store. Only called once the caller has already
// confirmed the value is TCP, UDP, or ICMPv6.
func protoFromV6(nextHeader uint8) nat64.Protocol {
	switch nextHeader {
	case wire.NextHeaderTCP:
		return nat64.ProtoTCP
	case wire.NextHeaderUDP:
		return nat64.ProtoUDP
	default:
		return nat64.ProtoICMP
	}
}

// protoFromV4 is the IPv4-side counterpart of protoFromV6, keyed off the
// IPv4 Protocol field instead of the IPv6 Next Header chain.
func protoFromV4(protocol uint8) nat64.Protocol {
	switch protocol {
	case wire.NextHeaderTCP:
		return nat64.ProtoTCP
	case wire.NextHeaderUDP:
		return nat64.ProtoUDP
	default:
		return nat64.ProtoICMP
	}
}

// upperProtocolToV4 maps an IPv6 Next Header value to its IPv4 Protocol
// counterpart (spec.md §4.3: "set Protocol from the last header in the
// IPv6 next-header chain, mapping NEXTHDR_ICMP to IPPROTO_ICMP"). Every
// other protocol number is shared between the two IANA registries.
func upperProtocolToV4(nextHeader uint8) uint8 {
	if nextHeader == wire.NextHeaderICMPv6 {
		return wire.ProtocolICMPv4
	}
	return nextHeader
}

// upperProtocolToV6 is the symmetric 4→6 mapping (spec.md §4.4:
// "next-header from IPv4 Protocol (IPPROTO_ICMP → NEXTHDR_ICMP)").
func upperProtocolToV6(protocol uint8) uint8 {
	if protocol == wire.ProtocolICMPv4 {
		return wire.NextHeaderICMPv6
	}
	return protocol
}

// transportKey is the (source, destination) port pair or, for ICMP, the
// (identifier, 0) pair used as a BIB/session lookup key (spec.md §3:
// "For ICMP the 'port' is the ICMP identifier").
type transportKey struct {
	SrcPort uint16
	DstPort uint16
}

// extractV6TransportKey reads the source/destination ports (or ICMPv6
// echo identifier) from in's transport header.
func extractV6TransportKey(in *wire.Packet) (transportKey, error) {
	payload := in.Transport()
	switch in.TransportProtocol {
	case wire.NextHeaderTCP:
		var h wire.TCPHeader
		if err := wire.UnmarshalTCP(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract tcp ports: %w", err)
		}
		return transportKey{h.SrcPort, h.DstPort}, nil
	case wire.NextHeaderUDP:
		var h wire.UDPHeader
		if err := wire.UnmarshalUDP(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract udp ports: %w", err)
		}
		return transportKey{h.SrcPort, h.DstPort}, nil
	case wire.NextHeaderICMPv6:
		var h wire.ICMPv6Header
		if err := wire.UnmarshalICMPv6(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract icmpv6 identifier: %w", err)
		}
		if h.IsError() {
			return transportKey{}, nil
		}
		return transportKey{h.Identifier(), 0}, nil
	default:
		return transportKey{}, fmt.Errorf("protocol %d: %w", in.TransportProtocol, ErrUnsupportedTransport)
	}
}

// extractV4TransportKey is the IPv4-side equivalent of
// extractV6TransportKey.
func extractV4TransportKey(in *wire.Packet) (transportKey, error) {
	payload := in.Transport()
	switch in.TransportProtocol {
	case wire.NextHeaderTCP:
		var h wire.TCPHeader
		if err := wire.UnmarshalTCP(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract tcp ports: %w", err)
		}
		return transportKey{h.SrcPort, h.DstPort}, nil
	case wire.NextHeaderUDP:
		var h wire.UDPHeader
		if err := wire.UnmarshalUDP(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract udp ports: %w", err)
		}
		return transportKey{h.SrcPort, h.DstPort}, nil
	case wire.ProtocolICMPv4:
		var h wire.ICMPv4Header
		if err := wire.UnmarshalICMPv4(payload, &h); err != nil {
			return transportKey{}, fmt.Errorf("extract icmpv4 identifier: %w", err)
		}
		if h.IsError() {
			return transportKey{}, nil
		}
		return transportKey{h.Identifier(), 0}, nil
	default:
		return transportKey{}, fmt.Errorf("protocol %d: %w", in.TransportProtocol, ErrUnsupportedTransport)
	}
}

func isStatefulTransport(protocol uint8, v6 bool) bool {
	if v6 {
		return protocol == wire.NextHeaderTCP || protocol == wire.NextHeaderUDP || protocol == wire.NextHeaderICMPv6
	}
	return protocol == wire.NextHeaderTCP || protocol == wire.NextHeaderUDP || protocol == wire.ProtocolICMPv4
}

// tcpEventFromFlags derives the FSM stimulus a TCP segment represents,
// preferring RST, then SYN, then FIN, matching RFC 6146's precedence
// (a segment can carry more than one of these bits; RST always wins). A
// segment with none of those set is still a stimulus: TCPEventData, which
// Store.ApplyTCP rejects as an illegal transition if it lands in V4_INIT
// or V6_INIT before the opposite side's own SYN has ever been seen.
func tcpEventFromFlags(flags uint8, fromV6 bool) nat64.TCPEvent {
	switch {
	case flags&wire.TCPFlagRST != 0:
		return nat64.TCPEventRST
	case flags&wire.TCPFlagSYN != 0:
		if fromV6 {
			return nat64.TCPEventSYN6
		}
		return nat64.TCPEventSYN4
	case flags&wire.TCPFlagFIN != 0:
		if fromV6 {
			return nat64.TCPEventFIN6
		}
		return nat64.TCPEventFIN4
	default:
		return nat64.TCPEventData
	}
}

func putChecksum16(buf []byte, offset int, sum uint16) {
	binary.BigEndian.PutUint16(buf[offset:offset+2], sum)
}
