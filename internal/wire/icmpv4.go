package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// ICMPv4 Header — RFC 792
// -------------------------------------------------------------------------

// ICMPv4HeaderLen is the fixed ICMPv4 header length: Type(1) + Code(1) +
// Checksum(2) + the 4-byte type-specific "rest of header" field.
const ICMPv4HeaderLen = 8

// ICMPv4 message types this translator maps to/from ICMPv6 (RFC 792, RFC
// 7915 Section 4.2/4.3).
const (
	ICMPv4EchoReply        uint8 = 0
	ICMPv4DestUnreachable  uint8 = 3
	ICMPv4EchoRequest      uint8 = 8
	ICMPv4TimeExceeded     uint8 = 11
	ICMPv4ParameterProblem uint8 = 12
)

// ICMPv4 Destination Unreachable codes used by the RFC 7915 mapping
// tables.
const (
	ICMPv4CodeNetUnreachable      uint8 = 0
	ICMPv4CodeHostUnreachable     uint8 = 1
	ICMPv4CodeProtoUnreachable    uint8 = 2
	ICMPv4CodePortUnreachable     uint8 = 3
	ICMPv4CodeFragNeeded          uint8 = 4
	ICMPv4CodeSourceRouteFailed   uint8 = 5
	ICMPv4CodeAdminProhibited     uint8 = 13
)

// ErrICMPv4TooShort indicates fewer than ICMPv4HeaderLen bytes were
// available.
var ErrICMPv4TooShort = errors.New("icmpv4 message shorter than header")

// ICMPv4Header represents a decoded ICMPv4 header. Rest holds the
// type-specific 4-byte field verbatim; accessors below interpret it for
// the message types this translator cares about.
type ICMPv4Header struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Rest     [4]byte
}

// Identifier returns the Echo Identifier field (valid for Echo Request and
// Echo Reply).
func (h *ICMPv4Header) Identifier() uint16 {
	return binary.BigEndian.Uint16(h.Rest[0:2])
}

// SetIdentifier sets the Echo Identifier field.
func (h *ICMPv4Header) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(h.Rest[0:2], id)
}

// SequenceNumber returns the Echo Sequence Number field.
func (h *ICMPv4Header) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(h.Rest[2:4])
}

// SetSequenceNumber sets the Echo Sequence Number field.
func (h *ICMPv4Header) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(h.Rest[2:4], seq)
}

// NextHopMTU returns the MTU field valid when Type=DestUnreachable,
// Code=FragNeeded (RFC 792's "Fragmentation Needed and DF Set" message).
func (h *ICMPv4Header) NextHopMTU() uint16 {
	return binary.BigEndian.Uint16(h.Rest[2:4])
}

// SetNextHopMTU sets the Fragmentation Needed MTU field.
func (h *ICMPv4Header) SetNextHopMTU(mtu uint16) {
	h.Rest[0], h.Rest[1] = 0, 0
	binary.BigEndian.PutUint16(h.Rest[2:4], mtu)
}

// Pointer returns the byte offset into the original header identified by
// a Parameter Problem message.
func (h *ICMPv4Header) Pointer() uint8 {
	return h.Rest[0]
}

// SetPointer sets the Parameter Problem pointer field.
func (h *ICMPv4Header) SetPointer(p uint8) {
	h.Rest = [4]byte{p, 0, 0, 0}
}

// UnmarshalICMPv4 decodes an ICMPv4 header from the start of buf.
func UnmarshalICMPv4(buf []byte, h *ICMPv4Header) error {
	if len(buf) < ICMPv4HeaderLen {
		return fmt.Errorf("unmarshal icmpv4: %d bytes: %w", len(buf), ErrICMPv4TooShort)
	}

	h.Type = buf[0]
	h.Code = buf[1]
	h.Checksum = binary.BigEndian.Uint16(buf[2:4])
	copy(h.Rest[:], buf[4:8])

	return nil
}

// MarshalICMPv4 writes h's fixed 8-byte header into buf.
func MarshalICMPv4(h *ICMPv4Header, buf []byte) (int, error) {
	if len(buf) < ICMPv4HeaderLen {
		return 0, fmt.Errorf("marshal icmpv4: buffer %d bytes: %w", len(buf), ErrICMPv4TooShort)
	}

	buf[0] = h.Type
	buf[1] = h.Code
	binary.BigEndian.PutUint16(buf[2:4], h.Checksum)
	copy(buf[4:8], h.Rest[:])

	return ICMPv4HeaderLen, nil
}

// IsError reports whether Type identifies an ICMPv4 error message (as
// opposed to an informational message like Echo Request/Reply).
func (h *ICMPv4Header) IsError() bool {
	switch h.Type {
	case ICMPv4DestUnreachable, ICMPv4TimeExceeded, ICMPv4ParameterProblem:
		return true
	default:
		return false
	}
}
