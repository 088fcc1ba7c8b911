package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// ICMPv6 Header — RFC 4443
// -------------------------------------------------------------------------

// ICMPv6HeaderLen is the fixed ICMPv6 header length: Type(1) + Code(1) +
// Checksum(2) + the 4-byte type-specific "rest of header" field.
const ICMPv6HeaderLen = 8

// ICMPv6 message types this translator maps to/from ICMPv4 (RFC 4443, RFC
// 7915 Section 4.2/4.3).
const (
	ICMPv6DestUnreachable  uint8 = 1
	ICMPv6PacketTooBig     uint8 = 2
	ICMPv6TimeExceeded     uint8 = 3
	ICMPv6ParameterProblem uint8 = 4
	ICMPv6EchoRequest      uint8 = 128
	ICMPv6EchoReply        uint8 = 129
)

// ICMPv6 Destination Unreachable codes.
const (
	ICMPv6CodeNoRoute          uint8 = 0
	ICMPv6CodeAdminProhibited  uint8 = 1
	ICMPv6CodeBeyondScope      uint8 = 2
	ICMPv6CodeAddrUnreachable  uint8 = 3
	ICMPv6CodePortUnreachable  uint8 = 4
)

// ICMPv6 Parameter Problem codes.
const (
	ICMPv6CodeErroneousHeader  uint8 = 0
	ICMPv6CodeUnrecognizedNext uint8 = 1
	ICMPv6CodeUnrecognizedOpt  uint8 = 2
)

// ErrICMPv6TooShort indicates fewer than ICMPv6HeaderLen bytes were
// available.
var ErrICMPv6TooShort = errors.New("icmpv6 message shorter than header")

// ICMPv6Header represents a decoded ICMPv6 header. Rest holds the
// type-specific 4-byte field verbatim, same convention as ICMPv4Header.
type ICMPv6Header struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Rest     [4]byte
}

// Identifier returns the Echo Identifier field.
func (h *ICMPv6Header) Identifier() uint16 {
	return binary.BigEndian.Uint16(h.Rest[0:2])
}

// SetIdentifier sets the Echo Identifier field.
func (h *ICMPv6Header) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(h.Rest[0:2], id)
}

// SequenceNumber returns the Echo Sequence Number field.
func (h *ICMPv6Header) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(h.Rest[2:4])
}

// SetSequenceNumber sets the Echo Sequence Number field.
func (h *ICMPv6Header) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(h.Rest[2:4], seq)
}

// MTU returns the 4-byte MTU field of a Packet Too Big message.
func (h *ICMPv6Header) MTU() uint32 {
	return binary.BigEndian.Uint32(h.Rest[:])
}

// SetMTU sets the Packet Too Big MTU field.
func (h *ICMPv6Header) SetMTU(mtu uint32) {
	binary.BigEndian.PutUint32(h.Rest[:], mtu)
}

// Pointer returns the 4-byte pointer field of a Parameter Problem message.
func (h *ICMPv6Header) Pointer() uint32 {
	return binary.BigEndian.Uint32(h.Rest[:])
}

// SetPointer sets the Parameter Problem pointer field.
func (h *ICMPv6Header) SetPointer(p uint32) {
	binary.BigEndian.PutUint32(h.Rest[:], p)
}

// UnmarshalICMPv6 decodes an ICMPv6 header from the start of buf.
func UnmarshalICMPv6(buf []byte, h *ICMPv6Header) error {
	if len(buf) < ICMPv6HeaderLen {
		return fmt.Errorf("unmarshal icmpv6: %d bytes: %w", len(buf), ErrICMPv6TooShort)
	}

	h.Type = buf[0]
	h.Code = buf[1]
	h.Checksum = binary.BigEndian.Uint16(buf[2:4])
	copy(h.Rest[:], buf[4:8])

	return nil
}

// MarshalICMPv6 writes h's fixed 8-byte header into buf.
func MarshalICMPv6(h *ICMPv6Header, buf []byte) (int, error) {
	if len(buf) < ICMPv6HeaderLen {
		return 0, fmt.Errorf("marshal icmpv6: buffer %d bytes: %w", len(buf), ErrICMPv6TooShort)
	}

	buf[0] = h.Type
	buf[1] = h.Code
	binary.BigEndian.PutUint16(buf[2:4], h.Checksum)
	copy(buf[4:8], h.Rest[:])

	return ICMPv6HeaderLen, nil
}

// IsError reports whether Type identifies an ICMPv6 error message.
func (h *ICMPv6Header) IsError() bool {
	return h.Type < 128
}
