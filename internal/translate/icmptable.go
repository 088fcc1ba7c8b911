package translate

import "github.com/jool-go/jool/internal/wire"

// icmpv6ToICMPv4TypeCode implements spec.md §4.5's ICMPv6→ICMPv4 table.
// ok is false when the (type, code) pair has no counterpart and the
// packet must be treated as Untranslatable.
func icmpv6ToICMPv4TypeCode(icmpType, icmpCode uint8) (newType, newCode uint8, ok bool) {
	switch icmpType {
	case wire.ICMPv6EchoRequest:
		return wire.ICMPv4EchoRequest, 0, true
	case wire.ICMPv6EchoReply:
		return wire.ICMPv4EchoReply, 0, true

	case wire.ICMPv6DestUnreachable:
		switch icmpCode {
		case wire.ICMPv6CodeNoRoute, wire.ICMPv6CodeBeyondScope, wire.ICMPv6CodeAddrUnreachable:
			return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeHostUnreachable, true
		case wire.ICMPv6CodeAdminProhibited:
			return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeAdminProhibited, true
		case wire.ICMPv6CodePortUnreachable:
			return wire.ICMPv4DestUnreachable, wire.ICMPv4CodePortUnreachable, true
		default:
			return 0, 0, false
		}

	case wire.ICMPv6PacketTooBig:
		return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeFragNeeded, true

	case wire.ICMPv6TimeExceeded:
		return wire.ICMPv4TimeExceeded, icmpCode, true

	case wire.ICMPv6ParameterProblem:
		switch icmpCode {
		case wire.ICMPv6CodeErroneousHeader:
			return wire.ICMPv4ParameterProblem, 0, true
		case wire.ICMPv6CodeUnrecognizedNext:
			return wire.ICMPv4DestUnreachable, wire.ICMPv4CodeProtoUnreachable, true
		default:
			return 0, 0, false
		}

	default:
		return 0, 0, false
	}
}

// icmpv4ToICMPv6TypeCode implements the symmetric 4→6 direction.
func icmpv4ToICMPv6TypeCode(icmpType, icmpCode uint8) (newType, newCode uint8, ok bool) {
	switch icmpType {
	case wire.ICMPv4EchoRequest:
		return wire.ICMPv6EchoRequest, 0, true
	case wire.ICMPv4EchoReply:
		return wire.ICMPv6EchoReply, 0, true

	case wire.ICMPv4DestUnreachable:
		switch icmpCode {
		case wire.ICMPv4CodeNetUnreachable, wire.ICMPv4CodeHostUnreachable:
			return wire.ICMPv6DestUnreachable, wire.ICMPv6CodeNoRoute, true
		case wire.ICMPv4CodeProtoUnreachable:
			return wire.ICMPv6ParameterProblem, wire.ICMPv6CodeUnrecognizedNext, true
		case wire.ICMPv4CodePortUnreachable:
			return wire.ICMPv6DestUnreachable, wire.ICMPv6CodePortUnreachable, true
		case wire.ICMPv4CodeFragNeeded:
			return wire.ICMPv6PacketTooBig, 0, true
		case wire.ICMPv4CodeAdminProhibited:
			return wire.ICMPv6DestUnreachable, wire.ICMPv6CodeAdminProhibited, true
		default:
			return 0, 0, false
		}

	case wire.ICMPv4TimeExceeded:
		return wire.ICMPv6TimeExceeded, icmpCode, true

	case wire.ICMPv4ParameterProblem:
		return wire.ICMPv6ParameterProblem, wire.ICMPv6CodeErroneousHeader, true

	default:
		return 0, 0, false
	}
}

// pointerV6ToV4 implements spec.md §4.5's Parameter Problem pointer
// table: "0→0, 1→1, 4|5→2, 6→9, 7→8, ≥8∧<24→12, ≥24→16; 2, 3, and
// others are untranslatable."
func pointerV6ToV4(pointer uint32) (uint8, bool) {
	switch {
	case pointer == 0:
		return 0, true
	case pointer == 1:
		return 1, true
	case pointer == 4 || pointer == 5:
		return 2, true
	case pointer == 6:
		return 9, true
	case pointer == 7:
		return 8, true
	case pointer >= 8 && pointer < 24:
		return 12, true
	case pointer >= 24:
		return 16, true
	default:
		return 0, false
	}
}

// pointerV4ToV6 implements the symmetric pointer table: "0→0, 1→1,
// 2→4, 3→4, 6→7, 7→6, 8→8, 9→8, 10→8, 11→8, 12→24, 13→24, 14→24,
// 15→24, 16→24; values 4, 5, and others are untranslatable."
func pointerV4ToV6(pointer uint8) (uint32, bool) {
	switch pointer {
	case 0:
		return 0, true
	case 1:
		return 1, true
	case 2, 3:
		return 4, true
	case 6:
		return 7, true
	case 7:
		return 6, true
	case 8, 9, 10, 11:
		return 8, true
	case 12, 13, 14, 15, 16:
		return 24, true
	default:
		return 0, false
	}
}
