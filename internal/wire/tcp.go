package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// TCP Header — RFC 9293 Section 3.1
// -------------------------------------------------------------------------

// TCPHeaderLen is the fixed (no-options) TCP header length in bytes.
const TCPHeaderLen = 20

// TCP control bit positions within the Flags byte (RFC 9293 Section 3.1).
const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagPSH uint8 = 1 << 3
	TCPFlagACK uint8 = 1 << 4
	TCPFlagURG uint8 = 1 << 5
)

// ErrTCPTooShort indicates fewer bytes were available than the Data
// Offset field claims the header occupies.
var ErrTCPTooShort = errors.New("tcp segment shorter than header")

// TCPHeader represents a decoded TCP header. Options are intentionally
// left as opaque bytes (Options) rather than parsed: this translator never
// needs to interpret or rewrite TCP options (spec.md C6/C7: "the TCP
// header's own fields are copied verbatim aside from the checksum"), only
// to know where they end.
type TCPHeader struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	DataOffset uint8 // header length in 32-bit words, RFC 9293
	Flags      uint8
	Window     uint16
	Checksum   uint16
	Urgent     uint16

	// Options holds the raw option bytes (DataOffset*4 - TCPHeaderLen),
	// a slice into the original buffer.
	Options []byte
}

// HeaderLen returns the total header length in bytes, including options.
func (h *TCPHeader) HeaderLen() int {
	return int(h.DataOffset) * 4
}

// Is sets reports whether flag is set in h.Flags.
func (h *TCPHeader) Is(flag uint8) bool {
	return h.Flags&flag != 0
}

// UnmarshalTCP decodes a TCP header (including options, left opaque) from
// the start of buf.
func UnmarshalTCP(buf []byte, h *TCPHeader) error {
	if len(buf) < TCPHeaderLen {
		return fmt.Errorf("unmarshal tcp: %d bytes: %w", len(buf), ErrTCPTooShort)
	}

	h.SrcPort = binary.BigEndian.Uint16(buf[0:2])
	h.DstPort = binary.BigEndian.Uint16(buf[2:4])
	h.SeqNum = binary.BigEndian.Uint32(buf[4:8])
	h.AckNum = binary.BigEndian.Uint32(buf[8:12])

	dataOffsetReserved := buf[12]
	h.DataOffset = dataOffsetReserved >> 4
	h.Flags = buf[13]
	h.Window = binary.BigEndian.Uint16(buf[14:16])
	h.Checksum = binary.BigEndian.Uint16(buf[16:18])
	h.Urgent = binary.BigEndian.Uint16(buf[18:20])

	hdrLen := h.HeaderLen()
	if hdrLen < TCPHeaderLen || hdrLen > len(buf) {
		return fmt.Errorf("unmarshal tcp: data offset implies header length %d, have %d: %w",
			hdrLen, len(buf), ErrTCPTooShort)
	}
	h.Options = buf[TCPHeaderLen:hdrLen]

	return nil
}

// MarshalTCP writes h (including its Options slice) into buf.
func MarshalTCP(h *TCPHeader, buf []byte) (int, error) {
	hdrLen := TCPHeaderLen + len(h.Options)
	if len(buf) < hdrLen {
		return 0, fmt.Errorf("marshal tcp: buffer %d bytes, need %d: %w", len(buf), hdrLen, ErrTCPTooShort)
	}

	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint32(buf[4:8], h.SeqNum)
	binary.BigEndian.PutUint32(buf[8:12], h.AckNum)

	dataOffset := uint8(hdrLen / 4)
	buf[12] = dataOffset << 4
	buf[13] = h.Flags
	binary.BigEndian.PutUint16(buf[14:16], h.Window)
	binary.BigEndian.PutUint16(buf[16:18], h.Checksum)
	binary.BigEndian.PutUint16(buf[18:20], h.Urgent)

	copy(buf[TCPHeaderLen:hdrLen], h.Options)

	return hdrLen, nil
}
