package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// IPv6 Header — RFC 8200 Section 3
// -------------------------------------------------------------------------

// IPv6HeaderLen is the fixed IPv6 header length in bytes (RFC 8200
// Section 3: 40 bytes, extension headers follow).
const IPv6HeaderLen = 40

// Next Header values this translator recognizes while walking the
// extension header chain (RFC 8200 Section 4.1, plus IANA protocol
// numbers for the upper-layer protocols it translates).
const (
	NextHeaderHopByHop  = 0
	NextHeaderTCP       = 6
	NextHeaderUDP       = 17
	NextHeaderRouting   = 43
	NextHeaderFragment  = 44
	NextHeaderICMPv6    = 58
	NextHeaderNone      = 59
	NextHeaderDestOpts  = 60
	ProtocolICMPv4      = 1
)

// Sentinel errors for IPv6 codec failures.
var (
	ErrIPv6TooShort          = errors.New("ipv6 packet shorter than header")
	ErrIPv6BadVersion        = errors.New("ipv6 version field is not 6")
	ErrIPv6BufTooSmall       = errors.New("buffer too small for ipv6 header")
	ErrIPv6ChainTruncated    = errors.New("ipv6 extension header chain truncated")
	ErrIPv6RoutingSegLeft    = errors.New("ipv6 routing header has nonzero segments left")
	ErrIPv6UnsupportedExtHdr = errors.New("ipv6 extension header not supported")
)

// IPv6Header represents a decoded fixed IPv6 header (RFC 8200 Section 3).
type IPv6Header struct {
	// TrafficClass packs DSCP (upper 6 bits) and ECN (lower 2 bits), the
	// IPv6 equivalent of the IPv4 Type of Service octet.
	TrafficClass uint8

	// FlowLabel is the 20-bit flow label.
	FlowLabel uint32

	// PayloadLength is the length of everything after the fixed header,
	// including extension headers.
	PayloadLength uint16

	// NextHeader identifies the first header following the fixed header;
	// may be an extension header or an upper-layer protocol.
	NextHeader uint8

	// HopLimit is the IPv6 equivalent of the IPv4 TTL.
	HopLimit uint8

	Src netip.Addr
	Dst netip.Addr
}

// UnmarshalIPv6 decodes the fixed 40-byte IPv6 header from the start of
// buf.
func UnmarshalIPv6(buf []byte, h *IPv6Header) error {
	if len(buf) < IPv6HeaderLen {
		return fmt.Errorf("unmarshal ipv6: %d bytes: %w", len(buf), ErrIPv6TooShort)
	}

	versionClassFlow := binary.BigEndian.Uint32(buf[0:4])
	version := versionClassFlow >> 28
	if version != 6 {
		return fmt.Errorf("unmarshal ipv6: version %d: %w", version, ErrIPv6BadVersion)
	}

	h.TrafficClass = uint8((versionClassFlow >> 20) & 0xFF)
	h.FlowLabel = versionClassFlow & 0x000FFFFF

	h.PayloadLength = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]

	h.Src = netip.AddrFrom16([16]byte(buf[8:24]))
	h.Dst = netip.AddrFrom16([16]byte(buf[24:40]))

	return nil
}

// DSCP returns the 6-bit Differentiated Services Code Point portion of
// TrafficClass.
func (h *IPv6Header) DSCP() uint8 { return h.TrafficClass >> 2 }

// ECN returns the 2-bit Explicit Congestion Notification portion of
// TrafficClass.
func (h *IPv6Header) ECN() uint8 { return h.TrafficClass & 0x03 }

// MarshalIPv6 writes h's fixed 40-byte header into buf.
func MarshalIPv6(h *IPv6Header, buf []byte) (int, error) {
	if len(buf) < IPv6HeaderLen {
		return 0, fmt.Errorf("marshal ipv6: buffer %d bytes: %w", len(buf), ErrIPv6BufTooSmall)
	}
	if !h.Src.Is6() || !h.Dst.Is6() {
		return 0, fmt.Errorf("marshal ipv6: %w", ErrIPv6BadVersion)
	}

	versionClassFlow := uint32(6)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0x000FFFFF)
	binary.BigEndian.PutUint32(buf[0:4], versionClassFlow)

	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLength)
	buf[6] = h.NextHeader
	buf[7] = h.HopLimit

	src16 := h.Src.As16()
	dst16 := h.Dst.As16()
	copy(buf[8:24], src16[:])
	copy(buf[24:40], dst16[:])

	return IPv6HeaderLen, nil
}

// -------------------------------------------------------------------------
// Extension Header Chain Walk — RFC 8200 Section 4.1
// -------------------------------------------------------------------------

// ExtHeaderChain describes what was found while walking an IPv6 packet's
// next-header chain looking for the first upper-layer protocol (spec.md
// C3: "the last header in the next-header chain determines the upper-layer
// protocol; Hop-by-Hop, Routing, and Destination Options headers are
// skipped over; a Fragment header is recorded and also skipped over").
type ExtHeaderChain struct {
	// UpperProtocol is the Next Header value of the first non-extension
	// header encountered (TCP, UDP, ICMPv6, or an unrecognized protocol
	// that the translator forwards untouched).
	UpperProtocol uint8

	// UpperOffset is the byte offset of UpperProtocol's header from the
	// start of the whole packet buffer.
	UpperOffset int

	// HasFragment reports whether a Fragment extension header was found.
	HasFragment bool

	// FragmentOffset is the byte offset of the Fragment header, valid
	// only when HasFragment is true.
	FragmentOffset int
}

// WalkExtensionHeaders scans buf starting at the fixed IPv6 header's
// NextHeader field (offset ipv6HeaderEnd, value firstNextHeader) and
// follows Hop-by-Hop, Routing, and Destination Options headers until it
// reaches the upper-layer protocol or runs out of buffer.
//
// Each skippable extension header shares the generic 8-byte-unit layout
// of RFC 8200 Section 4: byte 0 is the next Next Header value, byte 1 is
// the header's length in 8-byte units not counting the first 8 bytes. The
// Fragment header (RFC 8200 Section 4.5) is the one exception — it has a
// fixed 8-byte length with a different internal layout — so it is decoded
// with UnmarshalFragmentHeader rather than this generic rule.
//
// A Routing header with nonzero Segments Left is rejected
// (ErrIPv6RoutingSegLeft): spec.md C3 treats a packet still being routed
// through waypoints as Untranslatable, since the final destination is not
// yet known.
func WalkExtensionHeaders(buf []byte, ipv6HeaderEnd int, firstNextHeader uint8) (ExtHeaderChain, error) {
	var chain ExtHeaderChain

	nextHeader := firstNextHeader
	offset := ipv6HeaderEnd

	for {
		switch nextHeader {
		case NextHeaderHopByHop, NextHeaderDestOpts:
			if offset+2 > len(buf) {
				return chain, fmt.Errorf("walk ext headers: hdr at %d: %w", offset, ErrIPv6ChainTruncated)
			}
			next := buf[offset]
			hdrExtLen := buf[offset+1]
			size := (int(hdrExtLen) + 1) * 8
			if offset+size > len(buf) {
				return chain, fmt.Errorf("walk ext headers: hdr at %d size %d: %w", offset, size, ErrIPv6ChainTruncated)
			}
			nextHeader = next
			offset += size

		case NextHeaderRouting:
			if offset+4 > len(buf) {
				return chain, fmt.Errorf("walk ext headers: routing hdr at %d: %w", offset, ErrIPv6ChainTruncated)
			}
			next := buf[offset]
			hdrExtLen := buf[offset+1]
			segmentsLeft := buf[offset+3]
			if segmentsLeft != 0 {
				return chain, fmt.Errorf("walk ext headers: routing hdr at %d: %w", offset, ErrIPv6RoutingSegLeft)
			}
			size := (int(hdrExtLen) + 1) * 8
			if offset+size > len(buf) {
				return chain, fmt.Errorf("walk ext headers: routing hdr at %d size %d: %w", offset, size, ErrIPv6ChainTruncated)
			}
			nextHeader = next
			offset += size

		case NextHeaderFragment:
			if offset+FragmentHeaderLen > len(buf) {
				return chain, fmt.Errorf("walk ext headers: fragment hdr at %d: %w", offset, ErrIPv6ChainTruncated)
			}
			chain.HasFragment = true
			chain.FragmentOffset = offset
			nextHeader = buf[offset]
			offset += FragmentHeaderLen

		default:
			chain.UpperProtocol = nextHeader
			chain.UpperOffset = offset
			return chain, nil
		}
	}
}
