package translate

import (
	"net/netip"

	"github.com/jool-go/jool/internal/csum"
	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/verdict"
	"github.com/jool-go/jool/internal/wire"
)

// icmpv4ErrorCap is the conventional total-length cap applied to a
// translated ICMPv4 message (spec.md §4.3: "set Total Length ... with a
// cap of 576 bytes for ICMP error messages").
const icmpv4ErrorCap = 576

// SixToFour translates an IPv6 packet into its IPv4 equivalent (RFC
// 7915 Section 4.1), consulting ctx's address resolver (SIIT: stateless
// EAM/pool6; NAT64: BIB/session store) for the translated addresses and
// ports. depth bounds recursive inner-packet translation to exactly one
// level and must be 0 for an outer (non-ICMP-error-embedded) packet.
func SixToFour(ctx *Context, in *wire.Packet, depth int) (*wire.Packet, verdict.Outcome) {
	if in.IsFragment && !in.IsFirstFragment {
		return sixToFourFragmentOnly(ctx, in)
	}

	dstRes, err := ctx.SIIT.Resolve6to4(in.IPv6.Dst, true, true)
	if err != nil || dstRes.Outcome == siit.NoMatch {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}
	if dstRes.Outcome == siit.Accept {
		return nil, verdict.AcceptOutcome(verdict.ReasonPolicy)
	}
	v4Dst := dstRes.Addr

	stateful := isStatefulTransport(in.Chain.UpperProtocol, true)

	var v4Src netip.Addr
	var key transportKey
	portsRewritten := false

	if stateful {
		key, err = extractV6TransportKey(in)
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
	}

	switch ctx.Mode {
	case ModeNAT64:
		if !stateful {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonProtoUnreachable, 0, in.Inner)
		}
		proto := protoFromV6(in.Chain.UpperProtocol)
		v6Src := nat64.TransportAddr{Addr: in.IPv6.Src, Port: key.SrcPort}
		v6Dst := nat64.TransportAddr{Addr: in.IPv6.Dst, Port: key.DstPort}
		v4DstTA := nat64.TransportAddr{Addr: v4Dst, Port: key.DstPort}

		v4SrcTA, sess, err := ctx.Store.LookupOrCreate6to4(proto, v6Src, v6Dst, v4DstTA, ctx.now())
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonResourceExhaustion)
		}
		v4Src = v4SrcTA.Addr
		portsRewritten = key.SrcPort != v4SrcTA.Port
		key.SrcPort = v4SrcTA.Port

		if proto == nat64.ProtoTCP && in.Chain.UpperProtocol == wire.NextHeaderTCP {
			if err := advanceTCPFromV6(ctx, sess, in); err != nil {
				return nil, verdict.UntranslatableOutcome(verdict.ReasonAdminProhibited, 0, in.Inner)
			}
		}

	default: // ModeSIIT
		srcRes, err := ctx.SIIT.Resolve6to4(in.IPv6.Src, true, true)
		if err != nil || srcRes.Outcome != siit.Translate {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
		}
		v4Src = srcRes.Addr
	}

	hopLimit := in.IPv6.HopLimit
	if !in.Inner {
		if hopLimit <= 1 {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonHopLimitExceeded, 0, false)
		}
		hopLimit--
	}

	protocolOut := upperProtocolToV4(in.Chain.UpperProtocol)

	id, df, mf, fragOffset := ipv4FragFieldsFromV6(ctx, in)

	payload := in.Transport()
	var outPayload []byte
	var outcome verdict.Outcome

	switch in.Chain.UpperProtocol {
	case wire.NextHeaderTCP:
		outPayload, outcome = translateTCP6to4(in, key.SrcPort, portsRewritten, v4Src, v4Dst, payload)
	case wire.NextHeaderUDP:
		outPayload, outcome = translateUDP6to4(in, key.SrcPort, portsRewritten, v4Src, v4Dst, payload)
	case wire.NextHeaderICMPv6:
		outPayload, outcome = translateICMPv6to4(ctx, in, key.SrcPort, portsRewritten, depth, payload)
	default:
		outPayload = payload
	}
	if outcome.Verdict != verdict.Continue {
		return nil, outcome
	}

	totalLen := wire.IPv4HeaderLen + len(outPayload)
	if isICMPv4Error(protocolOut, outPayload) && totalLen > icmpv4ErrorCap {
		overflow := totalLen - icmpv4ErrorCap
		outPayload = outPayload[:len(outPayload)-overflow]
		totalLen = icmpv4ErrorCap
	}

	out := wire.GetPacket()
	out.Family = wire.FamilyV4
	out.Len = totalLen
	out.TransportProtocol = protocolOut
	out.TransportOffset = wire.IPv4HeaderLen

	ipHdr := wire.IPv4Header{
		DSCP:           outboundDSCP(ctx, in),
		ECN:            in.IPv6.ECN(),
		TotalLength:    uint16(totalLen),
		ID:             id,
		DontFragment:   df,
		MoreFragments:  mf,
		FragmentOffset: fragOffset,
		TTL:            hopLimit,
		Protocol:       protocolOut,
		Src:            v4Src,
		Dst:            v4Dst,
	}
	if _, err := wire.MarshalIPv4(&ipHdr, out.Buf[:wire.IPv4HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out.Buf[wire.IPv4HeaderLen:totalLen], outPayload)

	return out, verdict.ContinueOutcome
}

func outboundDSCP(ctx *Context, in *wire.Packet) uint8 {
	if ctx.Config.ResetTOS {
		return ctx.Config.NewTOS >> 2
	}
	return in.IPv6.DSCP()
}

// ipv4FragFieldsFromV6 derives the IPv4 Identification/DF/MF/Offset
// fields (spec.md §4.3): when the input carried an IPv6 Fragment header,
// those fields drive the output; otherwise Identification is random or
// zero and DF is set based on length/configuration.
func ipv4FragFieldsFromV6(ctx *Context, in *wire.Packet) (id uint16, df, mf bool, offset uint16) {
	if in.Chain.HasFragment {
		var frag wire.FragmentHeader
		_ = wire.UnmarshalFragmentHeader(in.Buf[in.Chain.FragmentOffset:], &frag)
		return uint16(frag.Identification), false, frag.More, frag.Offset
	}

	outLen := in.Len - in.TransportOffset + wire.IPv4HeaderLen
	df = ctx.Config.DFAlwaysOn || outLen > 1260
	if df {
		return 0, true, false, 0
	}
	if ctx.Config.BuildIPv4ID {
		return pseudoRandomID(in), false, false, 0
	}
	return 0, false, false, 0
}

// pseudoRandomID derives a deterministic, packet-dependent Identification
// value instead of calling into a global PRNG, keeping translation a pure
// function of its input (spec.md §4.3 only requires the field look
// random to an observer, not that it be cryptographically unpredictable).
func pseudoRandomID(in *wire.Packet) uint16 {
	return uint16(in.IPv6.FlowLabel) ^ uint16(in.IPv6.FlowLabel>>16)
}

func isICMPv4Error(protocol uint8, payload []byte) bool {
	if protocol != wire.ProtocolICMPv4 || len(payload) < 1 {
		return false
	}
	var h wire.ICMPv4Header
	if err := wire.UnmarshalICMPv4(payload, &h); err != nil {
		return false
	}
	return h.IsError()
}

func translateTCP6to4(in *wire.Packet, newSrcPort uint16, portsChanged bool, v4Src, v4Dst netip.Addr, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.TCPHeader
	if err := wire.UnmarshalTCP(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	out := make([]byte, len(payload))
	h.SrcPort = newSrcPort

	length := uint16(len(payload))
	if portsChanged {
		h.Checksum = 0
		if _, err := wire.MarshalTCP(&h, out); err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		copy(out[h.HeaderLen():], payload[h.HeaderLen():])
		pseudo := csum.PseudoHeader4(csum.ProtoTCP, v4Src, v4Dst, length)
		sum := csum.Recompute(pseudo, out)
		putChecksum16(out, 16, sum)
		return out, verdict.ContinueOutcome
	}

	delta := csum.DeltaPseudoHeader{
		Proto: csum.ProtoTCP, OldSrc: in.IPv6.Src, OldDst: in.IPv6.Dst,
		NewSrc: v4Src, NewDst: v4Dst, Length: length,
	}
	h.Checksum = delta.Apply(h.Checksum)
	if _, err := wire.MarshalTCP(&h, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[h.HeaderLen():], payload[h.HeaderLen():])
	return out, verdict.ContinueOutcome
}

func translateUDP6to4(in *wire.Packet, newSrcPort uint16, portsChanged bool, v4Src, v4Dst netip.Addr, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.UDPHeader
	if err := wire.UnmarshalUDP(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	out := make([]byte, len(payload))
	h.SrcPort = newSrcPort
	length := h.Length

	if portsChanged {
		h.Checksum = 0
		if _, err := wire.MarshalUDP(&h, out); err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		copy(out[wire.UDPHeaderLen:], payload[wire.UDPHeaderLen:])
		pseudo := csum.PseudoHeader4(csum.ProtoUDP, v4Src, v4Dst, length)
		sum := csum.UDPNonZero(csum.Recompute(pseudo, out))
		putChecksum16(out, 6, sum)
		return out, verdict.ContinueOutcome
	}

	if h.Checksum != 0 {
		delta := csum.DeltaPseudoHeader{
			Proto: csum.ProtoUDP, OldSrc: in.IPv6.Src, OldDst: in.IPv6.Dst,
			NewSrc: v4Src, NewDst: v4Dst, Length: length,
		}
		h.Checksum = csum.UDPNonZero(delta.Apply(h.Checksum))
	}
	if _, err := wire.MarshalUDP(&h, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[wire.UDPHeaderLen:], payload[wire.UDPHeaderLen:])
	return out, verdict.ContinueOutcome
}

func translateICMPv6to4(ctx *Context, in *wire.Packet, newIdentifier uint16, idChanged bool, depth int, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.ICMPv6Header
	if err := wire.UnmarshalICMPv6(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	newType, newCode, ok := icmpv6ToICMPv4TypeCode(h.Type, h.Code)
	if !ok {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonProtoUnreachable, 0, in.Inner)
	}

	out4 := wire.ICMPv4Header{Type: newType, Code: newCode}
	var body []byte

	if h.IsError() {
		if depth > 0 {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}

		switch h.Type {
		case wire.ICMPv6ParameterProblem:
			if h.Code == wire.ICMPv6CodeErroneousHeader {
				p, ok := pointerV6ToV4(h.Pointer())
				if !ok {
					return nil, verdict.UntranslatableOutcome(verdict.ReasonParamProblem, uint32(h.Pointer()), in.Inner)
				}
				out4.SetPointer(p)
			}
		case wire.ICMPv6PacketTooBig:
			mtu := ptbMTU6to4(h.MTU(), ctx.Config.OutDeviceMTU, ctx.Config.InDeviceMTU)
			out4.SetNextHopMTU(uint16(mtu))
		}

		innerRaw := payload[wire.ICMPv6HeaderLen:]
		translated, err := translateInner6to4(ctx, innerRaw, depth+1)
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		body = translated
	} else {
		id := h.Identifier()
		if idChanged {
			id = newIdentifier
		}
		out4.SetIdentifier(id)
		out4.SetSequenceNumber(h.SequenceNumber())
		body = payload[wire.ICMPv6HeaderLen:]
	}

	out := make([]byte, wire.ICMPv4HeaderLen+len(body))
	if _, err := wire.MarshalICMPv4(&out4, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[wire.ICMPv4HeaderLen:], body)

	sum := csum.Of(out, 0)
	putChecksum16(out, 2, csum.ICMPv4ZeroIsZero(csum.Fold(sum)))

	return out, verdict.ContinueOutcome
}

// translateInner6to4 translates the IPv6 packet embedded in an ICMPv6
// error's body into its IPv4 equivalent, for re-embedding in the
// translated ICMPv4 error (spec.md §4.5: "For ICMP errors, recursively
// translate the inner packet"). depth must already account for this
// call (C8: exactly one level below the outer packet).
func translateInner6to4(ctx *Context, raw []byte, depth int) ([]byte, error) {
	inner := wire.GetPacket()
	defer wire.PutPacket(inner)

	copy(inner.Buf, raw)
	inner.Len = len(raw)
	inner.Inner = true

	if err := wire.ParsePacket(inner); err != nil {
		return nil, err
	}

	out, outcome := SixToFour(ctx, inner, depth)
	if outcome.Verdict != verdict.Continue {
		return nil, verdict.ErrUnsupportedReason
	}
	defer wire.PutPacket(out)

	result := make([]byte, out.Len)
	copy(result, out.Data())
	return result, nil
}

// sixToFourFragmentOnly rewrites only the L3 header of a non-first
// fragment (spec.md §4.3: "For subsequent fragments only the L3 header
// is rewritten; no L4 processing is done"). NAT64 mode cannot resolve a
// per-flow source port/address without the first fragment's transport
// header, so it drops; SIIT's address mapping needs no port information
// and proceeds normally.
func sixToFourFragmentOnly(ctx *Context, in *wire.Packet) (*wire.Packet, verdict.Outcome) {
	if ctx.Mode == ModeNAT64 {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	dstRes, err := ctx.SIIT.Resolve6to4(in.IPv6.Dst, true, true)
	if err != nil || dstRes.Outcome == siit.NoMatch {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}
	if dstRes.Outcome == siit.Accept {
		return nil, verdict.AcceptOutcome(verdict.ReasonPolicy)
	}
	srcRes, err := ctx.SIIT.Resolve6to4(in.IPv6.Src, true, true)
	if err != nil || srcRes.Outcome != siit.Translate {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}

	var frag wire.FragmentHeader
	_ = wire.UnmarshalFragmentHeader(in.Buf[in.Chain.FragmentOffset:], &frag)

	payload := in.Buf[in.Chain.FragmentOffset+wire.FragmentHeaderLen : in.Len]
	totalLen := wire.IPv4HeaderLen + len(payload)

	out := wire.GetPacket()
	out.Family = wire.FamilyV4
	out.Len = totalLen
	out.TransportProtocol = upperProtocolToV4(frag.NextHeader)
	out.TransportOffset = wire.IPv4HeaderLen

	hopLimit := in.IPv6.HopLimit
	if hopLimit > 0 {
		hopLimit--
	}

	ipHdr := wire.IPv4Header{
		DSCP:           outboundDSCP(ctx, in),
		ECN:            in.IPv6.ECN(),
		TotalLength:    uint16(totalLen),
		ID:             uint16(frag.Identification),
		MoreFragments:  frag.More,
		FragmentOffset: frag.Offset,
		TTL:            hopLimit,
		Protocol:       upperProtocolToV4(frag.NextHeader),
		Src:            srcRes.Addr,
		Dst:            dstRes.Addr,
	}
	if _, err := wire.MarshalIPv4(&ipHdr, out.Buf[:wire.IPv4HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out.Buf[wire.IPv4HeaderLen:totalLen], payload)

	return out, verdict.ContinueOutcome
}

// advanceTCPFromV6 applies the TCP stimulus an IPv6-side segment carries
// to sess's state machine, returning the error Store.ApplyTCP reports for
// an illegal transition. A segment whose header fails to parse carries no
// stimulus at all; that case is reported upstream as a malformed packet,
// not here, so it is silently skipped.
func advanceTCPFromV6(ctx *Context, sess *nat64.Session, in *wire.Packet) error {
	var h wire.TCPHeader
	if err := wire.UnmarshalTCP(in.Transport(), &h); err != nil {
		return nil
	}
	return ctx.Store.ApplyTCP(sess, tcpEventFromFlags(h.Flags, true), ctx.now())
}
