package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// -------------------------------------------------------------------------
// IPv4 Header — RFC 791 Section 3.1
// -------------------------------------------------------------------------

// IPv4HeaderLen is the fixed IPv4 header length in bytes. Options are not
// supported on the translation path: UnmarshalIPv4 rejects IHL > 5 with
// ErrIPv4HasOptions, and the pipeline drops such a packet as malformed.
const IPv4HeaderLen = 20

// Sentinel errors for IPv4 codec failures.
var (
	ErrIPv4TooShort     = errors.New("ipv4 packet shorter than header")
	ErrIPv4BadVersion   = errors.New("ipv4 version field is not 4")
	ErrIPv4HasOptions   = errors.New("ipv4 header carries options")
	ErrIPv4BadTotalLen  = errors.New("ipv4 total length exceeds buffer")
	ErrIPv4BufTooSmall  = errors.New("buffer too small for ipv4 header")
)

// IPv4Header represents a decoded IPv4 header with no options (RFC 791
// Section 3.1). Field names match the RFC terminology.
type IPv4Header struct {
	// DSCP is the 6-bit Differentiated Services Code Point (RFC 2474),
	// the upper bits of the legacy Type of Service octet.
	DSCP uint8

	// ECN is the 2-bit Explicit Congestion Notification field (RFC 3168).
	ECN uint8

	// TotalLength is the entire packet length (header + data) in bytes.
	TotalLength uint16

	// ID is the fragment identification field.
	ID uint16

	// DontFragment is the DF flag (bit 1 of the Flags field).
	DontFragment bool

	// MoreFragments is the MF flag (bit 2 of the Flags field).
	MoreFragments bool

	// FragmentOffset is the fragment offset in 8-byte units.
	FragmentOffset uint16

	// TTL is the Time To Live.
	TTL uint8

	// Protocol is the upper-layer protocol number.
	Protocol uint8

	// Checksum is the header checksum as it appears on the wire.
	Checksum uint16

	// Src and Dst are the source and destination addresses.
	Src netip.Addr
	Dst netip.Addr
}

// IsFragment reports whether this header describes a packet that is part
// of a fragmented datagram (RFC 791: either MF is set or the offset is
// nonzero).
func (h *IPv4Header) IsFragment() bool {
	return h.MoreFragments || h.FragmentOffset != 0
}

// IsFirstFragment reports whether this is the first (or only) fragment —
// the one carrying the transport-layer header.
func (h *IPv4Header) IsFirstFragment() bool {
	return h.FragmentOffset == 0
}

// TOS packs DSCP and ECN back into the single Type of Service octet.
func (h *IPv4Header) TOS() uint8 {
	return (h.DSCP << 2) | (h.ECN & 0x03)
}

// UnmarshalIPv4 decodes a fixed (no-options) IPv4 header from the start of
// buf. Returns ErrIPv4HasOptions if IHL indicates options are present —
// this translator never forwards translated options (spec.md C3).
func UnmarshalIPv4(buf []byte, h *IPv4Header) error {
	if len(buf) < IPv4HeaderLen {
		return fmt.Errorf("unmarshal ipv4: %d bytes: %w", len(buf), ErrIPv4TooShort)
	}

	versionIHL := buf[0]
	version := versionIHL >> 4
	ihl := versionIHL & 0x0F

	if version != 4 {
		return fmt.Errorf("unmarshal ipv4: version %d: %w", version, ErrIPv4BadVersion)
	}
	if ihl != 5 {
		return fmt.Errorf("unmarshal ipv4: ihl %d: %w", ihl, ErrIPv4HasOptions)
	}

	tos := buf[1]
	h.DSCP = tos >> 2
	h.ECN = tos & 0x03

	h.TotalLength = binary.BigEndian.Uint16(buf[2:4])
	if int(h.TotalLength) > len(buf) {
		return fmt.Errorf("unmarshal ipv4: total length %d exceeds buffer %d: %w",
			h.TotalLength, len(buf), ErrIPv4BadTotalLen)
	}

	h.ID = binary.BigEndian.Uint16(buf[4:6])

	flagsFrag := binary.BigEndian.Uint16(buf[6:8])
	h.DontFragment = flagsFrag&0x4000 != 0
	h.MoreFragments = flagsFrag&0x2000 != 0
	h.FragmentOffset = flagsFrag & 0x1FFF

	h.TTL = buf[8]
	h.Protocol = buf[9]
	h.Checksum = binary.BigEndian.Uint16(buf[10:12])

	h.Src = netip.AddrFrom4([4]byte(buf[12:16]))
	h.Dst = netip.AddrFrom4([4]byte(buf[16:20]))

	return nil
}

// MarshalIPv4 writes h's fixed 20-byte header into buf and returns the
// number of bytes written. The checksum field is computed here from
// scratch over the header bytes; callers never need to pre-zero it.
func MarshalIPv4(h *IPv4Header, buf []byte) (int, error) {
	if len(buf) < IPv4HeaderLen {
		return 0, fmt.Errorf("marshal ipv4: buffer %d bytes: %w", len(buf), ErrIPv4BufTooSmall)
	}
	if !h.Src.Is4() || !h.Dst.Is4() {
		return 0, fmt.Errorf("marshal ipv4: %w", ErrIPv4BadVersion)
	}

	buf[0] = (4 << 4) | 5 // version 4, IHL 5
	buf[1] = h.TOS()
	binary.BigEndian.PutUint16(buf[2:4], h.TotalLength)
	binary.BigEndian.PutUint16(buf[4:6], h.ID)

	var flagsFrag uint16
	if h.DontFragment {
		flagsFrag |= 0x4000
	}
	if h.MoreFragments {
		flagsFrag |= 0x2000
	}
	flagsFrag |= h.FragmentOffset & 0x1FFF
	binary.BigEndian.PutUint16(buf[6:8], flagsFrag)

	buf[8] = h.TTL
	buf[9] = h.Protocol
	binary.BigEndian.PutUint16(buf[10:12], 0) // zeroed before recompute

	src4 := h.Src.As4()
	dst4 := h.Dst.As4()
	copy(buf[12:16], src4[:])
	copy(buf[16:20], dst4[:])

	sum := headerChecksum(buf[:IPv4HeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], sum)

	return IPv4HeaderLen, nil
}

// headerChecksum computes the RFC 791 Section 3.1 one's-complement header
// checksum over a byte range with the checksum field already zeroed.
func headerChecksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(header[i : i+2]))
	}
	if len(header)%2 == 1 {
		sum += uint32(header[len(header)-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
