package verdict

import (
	"errors"
	"net/netip"

	"github.com/jool-go/jool/internal/csum"
	"github.com/jool-go/jool/internal/wire"
)

// Sentinel errors for EmitICMPError's own preconditions (spec.md §4.7:
// "No ICMP error is emitted in response to another ICMP error ... or to
// a non-first fragment").
var (
	ErrNotUntranslatable = errors.New("outcome is not Untranslatable")
	ErrNestedICMPError    = errors.New("refusing to emit an icmp error for an inner packet")
	ErrReplyToICMPError   = errors.New("refusing to emit an icmp error in reply to another icmp error")
	ErrReplyToFragment    = errors.New("refusing to emit an icmp error for a non-first fragment")
	ErrUnsupportedReason  = errors.New("reason has no icmp error mapping in this family")
)

// icmpv4MaxTotal is the conventional cap on an ICMPv4 error message's
// total IP length (spec.md §4.3 applies an analogous 576-byte cap to
// translated ICMP errors; this applies the same cap when emitting a
// native ICMPv4 error).
const icmpv4MaxTotal = 576

// icmpv6MaxTotal is the IPv6 minimum link MTU (spec.md §4.4: "Cap
// ICMPv4-error outputs at IPv6 min MTU (1280)"); applied here to native
// ICMPv6 error emission for the same reason.
const icmpv6MaxTotal = 1280

// EmitICMPError builds a new packet carrying an ICMP error, in the same
// address family as original, addressed from src back to original's
// source, describing outcome's failure. It embeds as much of original's
// own bytes as fit under the family's size cap, per spec.md §4.5's
// "recursively translate the inner packet" path for generated errors —
// here there is no cross-family translation, since the error is emitted
// in the family the (untranslatable) packet already arrived in.
func EmitICMPError(original *wire.Packet, src netip.Addr, outcome Outcome) (*wire.Packet, error) {
	if outcome.Verdict != Untranslatable {
		return nil, ErrNotUntranslatable
	}
	if outcome.Inner {
		return nil, ErrNestedICMPError
	}
	if original.IsFragment && !original.IsFirstFragment {
		return nil, ErrReplyToFragment
	}
	if isICMPError(original) {
		return nil, ErrReplyToICMPError
	}

	switch original.Family {
	case wire.FamilyV4:
		return emitICMPv4Error(original, src, outcome)
	default:
		return emitICMPv6Error(original, src, outcome)
	}
}

// isICMPError reports whether original's transport layer is itself an
// ICMP error message.
func isICMPError(p *wire.Packet) bool {
	data := p.Transport()

	switch p.Family {
	case wire.FamilyV4:
		if p.TransportProtocol != wire.ProtocolICMPv4 {
			return false
		}
		var h wire.ICMPv4Header
		if err := wire.UnmarshalICMPv4(data, &h); err != nil {
			return false
		}
		return h.IsError()
	default:
		if p.TransportProtocol != wire.NextHeaderICMPv6 {
			return false
		}
		var h wire.ICMPv6Header
		if err := wire.UnmarshalICMPv6(data, &h); err != nil {
			return false
		}
		return h.IsError()
	}
}

func icmpv4TypeCode(outcome Outcome) (uint8, uint8, bool) {
	switch outcome.Reason {
	case ReasonTTLExceeded:
		return wire.ICMPv4TimeExceeded, 0, true
	case ReasonAddrUnreachable:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeHostUnreachable, true
	case ReasonPortUnreachable:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodePortUnreachable, true
	case ReasonProtoUnreachable:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeProtoUnreachable, true
	case ReasonAdminProhibited, ReasonPolicy:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeAdminProhibited, true
	case ReasonParamProblem, ReasonSegmentsLeft:
		return wire.ICMPv4ParameterProblem, 0, true
	case ReasonSourceRouteFailed:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeSourceRouteFailed, true
	case ReasonFragNeeded:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeFragNeeded, true
	default:
		return 0, 0, false
	}
}

func icmpv6TypeCode(outcome Outcome) (uint8, uint8, bool) {
	switch outcome.Reason {
	case ReasonHopLimitExceeded:
		return wire.ICMPv6TimeExceeded, 0, true
	case ReasonAddrUnreachable:
		return wire.ICMPv6DestUnreachable, wire.ICMPv6CodeAddrUnreachable, true
	case ReasonPortUnreachable:
		return wire.ICMPv6DestUnreachable, wire.ICMPv6CodePortUnreachable, true
	case ReasonProtoUnreachable:
		return wire.ICMPv6ParameterProblem, wire.ICMPv6CodeUnrecognizedNext, true
	case ReasonAdminProhibited, ReasonPolicy:
		return wire.ICMPv6DestUnreachable, wire.ICMPv6CodeAdminProhibited, true
	case ReasonParamProblem, ReasonSegmentsLeft:
		return wire.ICMPv6ParameterProblem, wire.ICMPv6CodeErroneousHeader, true
	default:
		return 0, 0, false
	}
}

func emitICMPv4Error(original *wire.Packet, src netip.Addr, outcome Outcome) (*wire.Packet, error) {
	icmpType, icmpCode, ok := icmpv4TypeCode(outcome)
	if !ok {
		return nil, ErrUnsupportedReason
	}

	innerMax := icmpv4MaxTotal - wire.IPv4HeaderLen - wire.ICMPv4HeaderLen
	inner := truncate(original.Data(), innerMax)

	totalLen := wire.IPv4HeaderLen + wire.ICMPv4HeaderLen + len(inner)
	out := wire.GetPacket()
	out.Family = wire.FamilyV4
	out.Len = totalLen

	ipHdr := wire.IPv4Header{
		TotalLength: uint16(totalLen),
		TTL:         64,
		Protocol:    wire.ProtocolICMPv4,
		Src:         src,
		Dst:         original.IPv4.Src,
	}
	if _, err := wire.MarshalIPv4(&ipHdr, out.Buf[:wire.IPv4HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, err
	}

	icmpHdr := wire.ICMPv4Header{Type: icmpType, Code: icmpCode}
	if outcome.Reason == ReasonParamProblem || outcome.Reason == ReasonSegmentsLeft {
		icmpHdr.SetPointer(uint8(outcome.Detail))
	}
	if outcome.Reason == ReasonFragNeeded {
		icmpHdr.SetNextHopMTU(uint16(outcome.Detail))
	}

	icmpOff := wire.IPv4HeaderLen
	if _, err := wire.MarshalICMPv4(&icmpHdr, out.Buf[icmpOff:]); err != nil {
		wire.PutPacket(out)
		return nil, err
	}
	copy(out.Buf[icmpOff+wire.ICMPv4HeaderLen:totalLen], inner)

	sum := csum.Of(out.Buf[icmpOff:totalLen], 0)
	binaryPutICMPv4Checksum(out.Buf, icmpOff, csum.Fold(sum))

	out.TransportProtocol = wire.ProtocolICMPv4
	out.TransportOffset = icmpOff

	return out, nil
}

func emitICMPv6Error(original *wire.Packet, src netip.Addr, outcome Outcome) (*wire.Packet, error) {
	icmpType, icmpCode, ok := icmpv6TypeCode(outcome)
	if !ok {
		return nil, ErrUnsupportedReason
	}

	innerMax := icmpv6MaxTotal - wire.IPv6HeaderLen - wire.ICMPv6HeaderLen
	inner := truncate(original.Data(), innerMax)

	totalLen := wire.IPv6HeaderLen + wire.ICMPv6HeaderLen + len(inner)
	out := wire.GetPacket()
	out.Family = wire.FamilyV6
	out.Len = totalLen

	payloadLen := wire.ICMPv6HeaderLen + len(inner)
	ipHdr := wire.IPv6Header{
		PayloadLength: uint16(payloadLen),
		NextHeader:    wire.NextHeaderICMPv6,
		HopLimit:      64,
		Src:           src,
		Dst:           original.IPv6.Src,
	}
	if _, err := wire.MarshalIPv6(&ipHdr, out.Buf[:wire.IPv6HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, err
	}

	icmpHdr := wire.ICMPv6Header{Type: icmpType, Code: icmpCode}
	if outcome.Reason == ReasonParamProblem || outcome.Reason == ReasonSegmentsLeft {
		icmpHdr.SetPointer(outcome.Detail)
	}

	icmpOff := wire.IPv6HeaderLen
	if _, err := wire.MarshalICMPv6(&icmpHdr, out.Buf[icmpOff:]); err != nil {
		wire.PutPacket(out)
		return nil, err
	}
	copy(out.Buf[icmpOff+wire.ICMPv6HeaderLen:totalLen], inner)

	pseudo := csum.PseudoHeader6(csum.ProtoICMPv6, src, original.IPv6.Src, uint16(payloadLen))
	sum := csum.Recompute(pseudo, out.Buf[icmpOff:totalLen])
	binaryPutICMPv6Checksum(out.Buf, icmpOff, sum)

	out.TransportProtocol = wire.NextHeaderICMPv6
	out.TransportOffset = icmpOff

	return out, nil
}

// truncate returns at most max bytes of data.
func truncate(data []byte, max int) []byte {
	if max < 0 {
		return nil
	}
	if len(data) > max {
		return data[:max]
	}
	return data
}

func binaryPutICMPv4Checksum(buf []byte, icmpOff int, sum uint16) {
	buf[icmpOff+2] = byte(sum >> 8)
	buf[icmpOff+3] = byte(sum)
}

func binaryPutICMPv6Checksum(buf []byte, icmpOff int, sum uint16) {
	buf[icmpOff+2] = byte(sum >> 8)
	buf[icmpOff+3] = byte(sum)
}
