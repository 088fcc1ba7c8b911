package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// UDP Header — RFC 768
// -------------------------------------------------------------------------

// UDPHeaderLen is the fixed UDP header length in bytes.
const UDPHeaderLen = 8

// ErrUDPTooShort indicates fewer than UDPHeaderLen bytes were available.
var ErrUDPTooShort = errors.New("udp segment shorter than header")

// UDPHeader represents a decoded UDP header (RFC 768).
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// UnmarshalUDP decodes a UDP header from the start of buf.
func UnmarshalUDP(buf []byte, h *UDPHeader) error {
	if len(buf) < UDPHeaderLen {
		return fmt.Errorf("unmarshal udp: %d bytes: %w", len(buf), ErrUDPTooShort)
	}

	h.SrcPort = binary.BigEndian.Uint16(buf[0:2])
	h.DstPort = binary.BigEndian.Uint16(buf[2:4])
	h.Length = binary.BigEndian.Uint16(buf[4:6])
	h.Checksum = binary.BigEndian.Uint16(buf[6:8])

	return nil
}

// MarshalUDP writes h's fixed 8-byte header into buf.
func MarshalUDP(h *UDPHeader, buf []byte) (int, error) {
	if len(buf) < UDPHeaderLen {
		return 0, fmt.Errorf("marshal udp: buffer %d bytes: %w", len(buf), ErrUDPTooShort)
	}

	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	binary.BigEndian.PutUint16(buf[6:8], h.Checksum)

	return UDPHeaderLen, nil
}
