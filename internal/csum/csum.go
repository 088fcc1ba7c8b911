package csum

import (
	"net/netip"

	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// Protocol identifies the transport protocol a checksum is computed for,
// mirroring the gvisor header.*ProtocolNumber constants this package is
// built on.
type Protocol = tcpip.TransportProtocolNumber

// Protocol numbers used by the pseudo-header checksum (re-exported so
// callers outside this package never need to import gvisor directly).
const (
	ProtoTCP    Protocol = header.TCPProtocolNumber
	ProtoUDP    Protocol = header.UDPProtocolNumber
	ProtoICMPv4 Protocol = header.ICMPv4ProtocolNumber
	ProtoICMPv6 Protocol = header.ICMPv6ProtocolNumber
)

func toTCPIPAddr(a netip.Addr) tcpip.Address {
	return tcpip.AddrFromSlice(a.AsSlice())
}

// PseudoHeader4 computes the one's-complement partial sum of the IPv4
// pseudo-header (source address, destination address, zero byte, protocol,
// TCP/UDP length) per RFC 793/768. The result is a *partial* sum: it has
// not been folded to its final complemented form and must be combined with
// further partial sums (header bytes, payload) before Fold inverts it.
func PseudoHeader4(proto Protocol, src, dst netip.Addr, length uint16) uint16 {
	return header.PseudoHeaderChecksum(proto, toTCPIPAddr(src), toTCPIPAddr(dst), length)
}

// PseudoHeader6 computes the one's-complement partial sum of the IPv6
// pseudo-header (source address, destination address, upper-layer length,
// next header) per RFC 2460 Section 8.1. See PseudoHeader4 for the partial-
// sum contract.
func PseudoHeader6(proto Protocol, src, dst netip.Addr, length uint16) uint16 {
	return header.PseudoHeaderChecksum(proto, toTCPIPAddr(src), toTCPIPAddr(dst), length)
}

// Combine performs one's-complement addition (with end-around carry) of
// two partial sums, exactly as header.ChecksumCombine does. Exposed here so
// callers assembling a checksum from several partial sums (pseudo-header +
// header bytes + payload) never need to import gvisor directly.
func Combine(a, b uint16) uint16 {
	return header.ChecksumCombine(a, b)
}

// Of computes the one's-complement partial sum of data, combined with an
// existing partial sum (pass 0 to start fresh). Wraps header.Checksum.
func Of(data []byte, initial uint16) uint16 {
	return header.Checksum(data, initial)
}

// Fold inverts a partial sum into the value that belongs in a checksum
// field on the wire (RFC 1071 Section 4.1: "the ones complement of the
// ones complement sum").
func Fold(partial uint16) uint16 {
	return ^partial
}

// Recompute computes a full checksum-field value from scratch over a
// pseudo-header partial sum plus the header+payload bytes that follow it.
// Used whenever spec.md calls for recomputing "from scratch" rather than
// applying a delta (ICMP errors, and UDP zero-checksum amendment).
//
// segment must have its checksum field already zeroed; the caller writes
// the returned value back into that field.
func Recompute(pseudoHeaderPartial uint16, segment []byte) uint16 {
	return Fold(Of(segment, pseudoHeaderPartial))
}

// -------------------------------------------------------------------------
// RFC 1624 Incremental Update
// -------------------------------------------------------------------------

// ReplaceSum applies the RFC 1624 Section 3 "HC' = ~(~HC + ~m + m')"
// incremental update: given a wire checksum field value (oldChecksum,
// already in its final complemented form), and the partial sums of the
// field(s) being removed (oldPartial) and inserted (newPartial), returns
// the new wire checksum field value.
//
// This is the single piece of arithmetic spec.md §4.6 describes as
// "csum_new = csum_fold(csum ⊖ old_pseudo ⊖ old_hdr_copy ⊕ new_pseudo ⊕
// new_hdr_copy)": each ⊖/⊕ term is one more partial sum folded into the
// running one's-complement accumulator, and csum_fold is the final
// inversion performed here via Fold.
func ReplaceSum(oldChecksum, oldPartial, newPartial uint16) uint16 {
	acc := Combine(^oldChecksum, ^oldPartial)
	acc = Combine(acc, newPartial)
	return Fold(acc)
}

// DeltaPseudoHeader carries an old/new address-family pseudo-header pair
// through ReplaceSum. The protocol number and upper-layer length are
// unchanged by the family swap for TCP and UDP (spec.md §4.6: "both
// pseudo-headers [are treated] as if payload-length and protocol fields
// were zero ... and only the addresses are substituted"), so only the
// address bytes actually move between Old and New.
type DeltaPseudoHeader struct {
	Proto  Protocol
	OldSrc netip.Addr
	OldDst netip.Addr
	NewSrc netip.Addr
	NewDst netip.Addr
	Length uint16
}

func (d DeltaPseudoHeader) oldPartial() uint16 {
	if d.OldSrc.Is4() {
		return PseudoHeader4(d.Proto, d.OldSrc, d.OldDst, d.Length)
	}
	return PseudoHeader6(d.Proto, d.OldSrc, d.OldDst, d.Length)
}

func (d DeltaPseudoHeader) newPartial() uint16 {
	if d.NewSrc.Is4() {
		return PseudoHeader4(d.Proto, d.NewSrc, d.NewDst, d.Length)
	}
	return PseudoHeader6(d.Proto, d.NewSrc, d.NewDst, d.Length)
}

// Apply performs the family-crossing checksum delta update described by
// spec.md §4.6: it substitutes d's old pseudo-header for its new one in
// oldChecksum via RFC 1624 incremental update, leaving the TCP/UDP header
// and payload bytes untouched and unread.
//
// Use this on the "software" (non hardware-partial) path when the L4
// header's own fields (ports, sequence numbers, flags) are copied
// verbatim — only the addresses change, so only the pseudo-header terms
// need to flow through ReplaceSum.
func (d DeltaPseudoHeader) Apply(oldChecksum uint16) uint16 {
	return ReplaceSum(oldChecksum, d.oldPartial(), d.newPartial())
}

// -------------------------------------------------------------------------
// Partial Checksum Handoff (hardware offload)
// -------------------------------------------------------------------------

// Partial represents a checksum that a caller's NIC/driver has already
// partially computed (pseudo-header only, per hardware checksum-offload
// convention) and handed to the translator without a completed L4
// checksum field. spec.md §4.6: "For hardware-partial checksums, the L4
// header copies are skipped and only the pseudo-headers are exchanged."
type Partial struct {
	// Sum is the partial (uninverted) checksum the hardware has computed
	// so far, covering only the pseudo-header.
	Sum uint16
}

// Retarget exchanges the pseudo-header contribution to a hardware-partial
// checksum without touching the rest of the accumulated sum, leaving it
// ready for the NIC (or a software fallback) to finish summing the L4
// header and payload.
func (p Partial) Retarget(d DeltaPseudoHeader) Partial {
	acc := Combine(p.Sum, ^d.oldPartial())
	acc = Combine(acc, d.newPartial())
	return Partial{Sum: acc}
}

// ICMPv4ZeroIsZero reports that, unlike UDP, ICMPv4 has no rule requiring
// a nonzero checksum field. spec.md §4.6: "For ICMPv4 outputs with value
// zero after fold, emit 0xFFFF (RFC mandates non-zero for UDP; ICMP has no
// such rule -- retain zero)." The function exists so call sites read as a
// deliberate policy choice rather than an oversight.
func ICMPv4ZeroIsZero(v uint16) uint16 {
	return v
}

// UDPNonZero enforces RFC 768's "if the computed checksum is zero, it is
// transmitted as all ones" rule for UDP.
func UDPNonZero(v uint16) uint16 {
	if v == 0 {
		return 0xFFFF
	}
	return v
}
