package translate

import (
	"encoding/binary"
	"net/netip"

	"github.com/jool-go/jool/internal/csum"
	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/verdict"
	"github.com/jool-go/jool/internal/wire"
)

// icmpv6ErrorCap is the ceiling this translator trims translated ICMPv6
// errors to: IPv6's guaranteed minimum link MTU (RFC 8200 Section
// 5), so a translated error never itself requires fragmentation.
const icmpv6ErrorCap = 1280

// FourToSix translates an IPv4 packet into its IPv6 equivalent (RFC 7915
// Section 4.2). See SixToFour for the depth and ctx contract.
func FourToSix(ctx *Context, in *wire.Packet, depth int) (*wire.Packet, verdict.Outcome) {
	if in.IsFragment && !in.IsFirstFragment {
		return fourToSixFragmentOnly(ctx, in)
	}

	srcRes, err := ctx.SIIT.Resolve4to6(in.IPv4.Src, true, true)
	if err != nil || srcRes.Outcome == siit.NoMatch {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}
	if srcRes.Outcome == siit.Accept {
		return nil, verdict.AcceptOutcome(verdict.ReasonPolicy)
	}
	v6Src := srcRes.Addr

	stateful := isStatefulTransport(in.TransportProtocol, false)

	var v6Dst netip.Addr
	var key transportKey
	portsRewritten := false

	if stateful {
		key, err = extractV4TransportKey(in)
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
	}

	switch ctx.Mode {
	case ModeNAT64:
		if !stateful {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonProtoUnreachable, 0, in.Inner)
		}
		proto := protoFromV4(in.TransportProtocol)

		// ICMP carries a single identifier, extracted into key.SrcPort
		// by convention regardless of direction (l4.go); the BIB/session
		// lookup key for the NAT64-facing side is that identifier, not
		// key.DstPort as it is for TCP/UDP.
		isICMP := in.TransportProtocol == wire.ProtocolICMPv4
		lookupPort := key.DstPort
		if isICMP {
			lookupPort = key.SrcPort
		}

		v4SrcTA := nat64.TransportAddr{Addr: in.IPv4.Src, Port: key.SrcPort}
		v4DstTA := nat64.TransportAddr{Addr: in.IPv4.Dst, Port: lookupPort}
		v6SrcTA := nat64.TransportAddr{Addr: v6Src, Port: key.SrcPort}

		v6DstTA, sess, err := ctx.Store.Lookup4to6(proto, v4SrcTA, v4DstTA, v6SrcTA, ctx.now())
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonPolicy)
		}
		v6Dst = v6DstTA.Addr
		if isICMP {
			portsRewritten = key.SrcPort != v6DstTA.Port
			key.SrcPort = v6DstTA.Port
		} else {
			portsRewritten = key.DstPort != v6DstTA.Port
			key.DstPort = v6DstTA.Port
		}

		if proto == nat64.ProtoTCP && in.TransportProtocol == wire.NextHeaderTCP {
			if err := advanceTCPFromV4(ctx, sess, in); err != nil {
				return nil, verdict.UntranslatableOutcome(verdict.ReasonAdminProhibited, 0, in.Inner)
			}
		}

	default: // ModeSIIT
		dstRes, err := ctx.SIIT.Resolve4to6(in.IPv4.Dst, true, true)
		if err != nil || dstRes.Outcome != siit.Translate {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
		}
		v6Dst = dstRes.Addr
	}

	hopLimit := in.IPv4.TTL
	if !in.Inner {
		if hopLimit <= 1 {
			return nil, verdict.UntranslatableOutcome(verdict.ReasonTTLExceeded, 0, false)
		}
		hopLimit--
	}

	nextHeader := upperProtocolToV6(in.TransportProtocol)

	payload := in.Transport()
	var outPayload []byte
	var outcome verdict.Outcome

	switch in.TransportProtocol {
	case wire.NextHeaderTCP:
		outPayload, outcome = translateTCP4to6(in, key.DstPort, portsRewritten, v6Src, v6Dst, payload)
	case wire.NextHeaderUDP:
		outPayload, outcome = translateUDP4to6(ctx, in, key.DstPort, portsRewritten, v6Src, v6Dst, payload)
	case wire.ProtocolICMPv4:
		outPayload, outcome = translateICMPv4to6(ctx, in, key.SrcPort, portsRewritten, depth, payload)
	default:
		outPayload = payload
	}
	if outcome.Verdict != verdict.Continue {
		return nil, outcome
	}

	needsFragHeader := in.IPv4.MoreFragments || !in.IPv4.DontFragment

	headerLen := wire.IPv6HeaderLen
	if needsFragHeader {
		headerLen += wire.FragmentHeaderLen
	}
	totalLen := headerLen + len(outPayload)

	if nextHeader == wire.NextHeaderICMPv6 && isICMPv6Error(outPayload) && totalLen > icmpv6ErrorCap {
		overflow := totalLen - icmpv6ErrorCap
		outPayload = outPayload[:len(outPayload)-overflow]
		totalLen = icmpv6ErrorCap
	}

	out := wire.GetPacket()
	out.Family = wire.FamilyV6
	out.Len = totalLen
	out.TransportProtocol = nextHeader
	out.TransportOffset = headerLen

	ipHdr := wire.IPv6Header{
		TrafficClass:  outboundTrafficClass(ctx, in),
		PayloadLength: uint16(totalLen - wire.IPv6HeaderLen),
		NextHeader:    nextHeader,
		HopLimit:      hopLimit,
		Src:           v6Src,
		Dst:           v6Dst,
	}
	if needsFragHeader {
		ipHdr.NextHeader = wire.NextHeaderFragment
	}
	if _, err := wire.MarshalIPv6(&ipHdr, out.Buf[:wire.IPv6HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	if needsFragHeader {
		frag := wire.FragmentHeader{
			NextHeader:     nextHeader,
			Offset:         in.IPv4.FragmentOffset,
			More:           in.IPv4.MoreFragments,
			Identification: uint32(in.IPv4.ID),
		}
		if _, err := wire.MarshalFragmentHeader(&frag, out.Buf[wire.IPv6HeaderLen:headerLen]); err != nil {
			wire.PutPacket(out)
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
	}
	copy(out.Buf[headerLen:totalLen], outPayload)

	return out, verdict.ContinueOutcome
}

func outboundTrafficClass(ctx *Context, in *wire.Packet) uint8 {
	if ctx.Config.ResetTrafficClass {
		return (ctx.Config.NewTrafficClass << 2) | in.IPv4.ECN
	}
	return (in.IPv4.DSCP << 2) | in.IPv4.ECN
}

func isICMPv6Error(payload []byte) bool {
	if len(payload) < 1 {
		return false
	}
	return payload[0] < 128
}

func translateTCP4to6(in *wire.Packet, newDstPort uint16, portsChanged bool, v6Src, v6Dst netip.Addr, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.TCPHeader
	if err := wire.UnmarshalTCP(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	out := make([]byte, len(payload))
	h.DstPort = newDstPort

	length := uint16(len(payload))
	if portsChanged {
		h.Checksum = 0
		if _, err := wire.MarshalTCP(&h, out); err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		copy(out[h.HeaderLen():], payload[h.HeaderLen():])
		pseudo := csum.PseudoHeader6(csum.ProtoTCP, v6Src, v6Dst, length)
		sum := csum.Recompute(pseudo, out)
		putChecksum16(out, 16, sum)
		return out, verdict.ContinueOutcome
	}

	delta := csum.DeltaPseudoHeader{
		Proto: csum.ProtoTCP, OldSrc: in.IPv4.Src, OldDst: in.IPv4.Dst,
		NewSrc: v6Src, NewDst: v6Dst, Length: length,
	}
	h.Checksum = delta.Apply(h.Checksum)
	if _, err := wire.MarshalTCP(&h, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[h.HeaderLen():], payload[h.HeaderLen():])
	return out, verdict.ContinueOutcome
}

func translateUDP4to6(ctx *Context, in *wire.Packet, newDstPort uint16, portsChanged bool, v6Src, v6Dst netip.Addr, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.UDPHeader
	if err := wire.UnmarshalUDP(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	// IPv6 has no equivalent of IPv4's optional zero checksum (RFC 768);
	// a zero-checksum datagram must either be amended with a real
	// checksum or dropped (spec.md §4.6).
	amend := false
	if h.Checksum == 0 {
		if !ctx.Config.AmendZeroUDPChecksum {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		amend = true
	}

	out := make([]byte, len(payload))
	h.DstPort = newDstPort
	length := h.Length

	if portsChanged || amend {
		h.Checksum = 0
		if _, err := wire.MarshalUDP(&h, out); err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		copy(out[wire.UDPHeaderLen:], payload[wire.UDPHeaderLen:])
		pseudo := csum.PseudoHeader6(csum.ProtoUDP, v6Src, v6Dst, length)
		sum := csum.UDPNonZero(csum.Recompute(pseudo, out))
		putChecksum16(out, 6, sum)
		return out, verdict.ContinueOutcome
	}

	delta := csum.DeltaPseudoHeader{
		Proto: csum.ProtoUDP, OldSrc: in.IPv4.Src, OldDst: in.IPv4.Dst,
		NewSrc: v6Src, NewDst: v6Dst, Length: length,
	}
	h.Checksum = csum.UDPNonZero(delta.Apply(h.Checksum))
	if _, err := wire.MarshalUDP(&h, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[wire.UDPHeaderLen:], payload[wire.UDPHeaderLen:])
	return out, verdict.ContinueOutcome
}

func translateICMPv4to6(ctx *Context, in *wire.Packet, newIdentifier uint16, idChanged bool, depth int, payload []byte) ([]byte, verdict.Outcome) {
	var h wire.ICMPv4Header
	if err := wire.UnmarshalICMPv4(payload, &h); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	newType, newCode, ok := icmpv4ToICMPv6TypeCode(h.Type, h.Code)
	if !ok {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonProtoUnreachable, 0, in.Inner)
	}

	out6 := wire.ICMPv6Header{Type: newType, Code: newCode}
	var body []byte

	if h.IsError() {
		if depth > 0 {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}

		switch h.Type {
		case wire.ICMPv4ParameterProblem:
			p, ok := pointerV4ToV6(h.Pointer())
			if !ok {
				return nil, verdict.UntranslatableOutcome(verdict.ReasonParamProblem, uint32(h.Pointer()), in.Inner)
			}
			out6.SetPointer(p)
		case wire.ICMPv4DestUnreachable:
			if h.Code == wire.ICMPv4CodeFragNeeded {
				innerRaw := payload[wire.ICMPv4HeaderLen:]
				var innerTotalLen uint16
				if len(innerRaw) >= 4 {
					innerTotalLen = binary.BigEndian.Uint16(innerRaw[2:4])
				}
				mtu := fragNeededMTU4to6(uint32(h.NextHopMTU()), innerTotalLen, ctx.Config.MTUPlateaus,
					ctx.Config.OutDeviceMTU, ctx.Config.InDeviceMTU)
				out6.SetMTU(mtu)
			}
		}

		innerRaw := payload[wire.ICMPv4HeaderLen:]
		translated, err := translateInner4to6(ctx, innerRaw, depth+1)
		if err != nil {
			return nil, verdict.DropOutcome(verdict.ReasonMalformed)
		}
		body = translated
	} else {
		id := h.Identifier()
		if idChanged {
			id = newIdentifier
		}
		out6.SetIdentifier(id)
		out6.SetSequenceNumber(h.SequenceNumber())
		body = payload[wire.ICMPv4HeaderLen:]
	}

	out := make([]byte, wire.ICMPv6HeaderLen+len(body))
	if _, err := wire.MarshalICMPv6(&out6, out); err != nil {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out[wire.ICMPv6HeaderLen:], body)

	return out, verdict.ContinueOutcome
}

// translateInner4to6 is the 4→6 counterpart of translateInner6to4: it
// translates the IPv4 packet embedded in an ICMPv4 error's body for
// re-embedding in the translated ICMPv6 error.
func translateInner4to6(ctx *Context, raw []byte, depth int) ([]byte, error) {
	inner := wire.GetPacket()
	defer wire.PutPacket(inner)

	copy(inner.Buf, raw)
	inner.Len = len(raw)
	inner.Inner = true

	if err := wire.ParsePacket(inner); err != nil {
		return nil, err
	}

	out, outcome := FourToSix(ctx, inner, depth)
	if outcome.Verdict != verdict.Continue {
		return nil, verdict.ErrUnsupportedReason
	}
	defer wire.PutPacket(out)

	result := make([]byte, out.Len)
	copy(result, out.Data())
	return result, nil
}

// fourToSixFragmentOnly rewrites only the L3 header of a non-first IPv4
// fragment, mirroring sixToFourFragmentOnly (spec.md §4.4). NAT64 mode
// drops such fragments for the same reason: the per-flow session lookup
// needs the first fragment's transport header.
func fourToSixFragmentOnly(ctx *Context, in *wire.Packet) (*wire.Packet, verdict.Outcome) {
	if ctx.Mode == ModeNAT64 {
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	srcRes, err := ctx.SIIT.Resolve4to6(in.IPv4.Src, true, true)
	if err != nil || srcRes.Outcome == siit.NoMatch {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}
	if srcRes.Outcome == siit.Accept {
		return nil, verdict.AcceptOutcome(verdict.ReasonPolicy)
	}
	dstRes, err := ctx.SIIT.Resolve4to6(in.IPv4.Dst, true, true)
	if err != nil || dstRes.Outcome != siit.Translate {
		return nil, verdict.UntranslatableOutcome(verdict.ReasonAddrUnreachable, 0, in.Inner)
	}

	payload := in.Buf[in.TransportOffset:in.Len]
	headerLen := wire.IPv6HeaderLen + wire.FragmentHeaderLen
	totalLen := headerLen + len(payload)

	nextHeader := upperProtocolToV6(in.TransportProtocol)

	out := wire.GetPacket()
	out.Family = wire.FamilyV6
	out.Len = totalLen
	out.TransportProtocol = nextHeader
	out.TransportOffset = headerLen

	hopLimit := in.IPv4.TTL
	if hopLimit > 0 {
		hopLimit--
	}

	ipHdr := wire.IPv6Header{
		TrafficClass:  outboundTrafficClass(ctx, in),
		PayloadLength: uint16(totalLen - wire.IPv6HeaderLen),
		NextHeader:    wire.NextHeaderFragment,
		HopLimit:      hopLimit,
		Src:           srcRes.Addr,
		Dst:           dstRes.Addr,
	}
	if _, err := wire.MarshalIPv6(&ipHdr, out.Buf[:wire.IPv6HeaderLen]); err != nil {
		wire.PutPacket(out)
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}

	frag := wire.FragmentHeader{
		NextHeader:     nextHeader,
		Offset:         in.IPv4.FragmentOffset,
		More:           in.IPv4.MoreFragments,
		Identification: uint32(in.IPv4.ID),
	}
	if _, err := wire.MarshalFragmentHeader(&frag, out.Buf[wire.IPv6HeaderLen:headerLen]); err != nil {
		wire.PutPacket(out)
		return nil, verdict.DropOutcome(verdict.ReasonMalformed)
	}
	copy(out.Buf[headerLen:totalLen], payload)

	return out, verdict.ContinueOutcome
}

// advanceTCPFromV4 is advanceTCPFromV6's IPv4-side counterpart.
func advanceTCPFromV4(ctx *Context, sess *nat64.Session, in *wire.Packet) error {
	var h wire.TCPHeader
	if err := wire.UnmarshalTCP(in.Transport(), &h); err != nil {
		return nil
	}
	return ctx.Store.ApplyTCP(sess, tcpEventFromFlags(h.Flags, false), ctx.now())
}
