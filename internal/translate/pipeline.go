package translate

import (
	"errors"
	"net/netip"

	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/verdict"
	"github.com/jool-go/jool/internal/wire"
)

// maxHairpinPasses bounds hairpin re-entry to exactly one extra
// translation pass, so a misconfigured EAM/pool6 pair (each mapping into
// the other) cannot loop a packet forever.
const maxHairpinPasses = 1

// Translate is the single entry point: it parses raw, dispatches to
// SixToFour or FourToSix by detected family, follows a bounded hairpin
// re-entry when the translated destination turns out to belong to the
// translator's own domain, and turns an Untranslatable verdict into a
// ready-to-send ICMP error.
//
// On success it returns the packet to send, which the caller must
// release with wire.PutPacket. For an emitted ICMP error the returned
// packet is that error. On verdict.Accept (send the original untouched)
// and on verdict.Drop (including an Untranslatable outcome for which no
// ICMP error applies) the returned packet is nil with no error.
func Translate(ctx *Context, raw []byte) (*wire.Packet, verdict.Outcome, error) {
	in := wire.GetPacket()

	n := copy(in.Buf, raw)
	in.Len = n

	if err := wire.ParsePacket(in); err != nil {
		outcome := parseErrorOutcome(err)
		wire.PutPacket(in)
		return nil, outcome, nil
	}

	out, outcome := translateDispatch(ctx, in, 0)

	if outcome.Verdict == verdict.Untranslatable {
		icmp, err := emitErrorFor(ctx, in, outcome)
		wire.PutPacket(in)
		if err != nil {
			// No RFC-specified ICMP error applies (e.g. the reason has
			// no mapping in this family, or the original was itself an
			// ICMP error/non-first fragment); fall back to a silent
			// drop rather than surfacing the construction failure.
			if errors.Is(err, verdict.ErrUnsupportedReason) ||
				errors.Is(err, verdict.ErrNestedICMPError) ||
				errors.Is(err, verdict.ErrReplyToICMPError) ||
				errors.Is(err, verdict.ErrReplyToFragment) {
				return nil, verdict.DropOutcome(outcome.Reason), nil
			}
			return nil, outcome, err
		}
		return icmp, outcome, nil
	}

	if outcome.Verdict != verdict.Continue {
		wire.PutPacket(in)
		return nil, outcome, nil
	}

	wire.PutPacket(in)
	return out, outcome, nil
}

func translateDispatch(ctx *Context, in *wire.Packet, depth int) (*wire.Packet, verdict.Outcome) {
	var out *wire.Packet
	var outcome verdict.Outcome

	switch in.Family {
	case wire.FamilyV6:
		out, outcome = SixToFour(ctx, in, depth)
	default:
		out, outcome = FourToSix(ctx, in, depth)
	}
	if outcome.Verdict != verdict.Continue {
		return out, outcome
	}

	if depth < maxHairpinPasses {
		if hairpinOut, hairpinOutcome, did := tryHairpin(ctx, in, out, depth); did {
			wire.PutPacket(out)
			return hairpinOut, hairpinOutcome
		}
	}

	return out, outcome
}

// tryHairpin checks whether out's destination actually belongs back on
// the side it came from (spec.md §4.1: EAM/pool6 hairpinning), and if so
// re-translates out across the family boundary a second time instead of
// letting the caller forward it. did is false whenever no hairpin
// re-entry applies, in which case out is untouched and still owned by
// the caller.
func tryHairpin(ctx *Context, in *wire.Packet, out *wire.Packet, depth int) (*wire.Packet, verdict.Outcome, bool) {
	if ctx.SIIT == nil || ctx.SIIT.HairpinMode == siit.HairpinOff {
		return nil, verdict.Outcome{}, false
	}

	outerIsError := isOutcomeCarryingICMPError(out)

	var check siit.HairpinCheck
	var reverse func(*Context, *wire.Packet, int) (*wire.Packet, verdict.Outcome)

	switch out.Family {
	case wire.FamilyV4:
		var foundEAM bool
		if ctx.SIIT.EAM != nil {
			_, foundEAM = ctx.SIIT.EAM.Lookup4to6(out.IPv4.Dst)
		}
		check = siit.HairpinCheck{ViaPool6: !foundEAM, FallsInEAM: foundEAM}
		reverse = FourToSix
	default:
		var foundEAM bool
		if ctx.SIIT.EAM != nil {
			_, foundEAM = ctx.SIIT.EAM.Lookup6to4(out.IPv6.Dst)
		}
		check = siit.HairpinCheck{ViaPool6: !foundEAM, FallsInEAM: foundEAM}
		reverse = SixToFour
	}

	if !check.FallsInEAM && !(ctx.SIIT.HairpinMode == siit.HairpinSimple) {
		return nil, verdict.Outcome{}, false
	}
	if !ctx.SIIT.IsHairpin(outerIsError, check) {
		return nil, verdict.Outcome{}, false
	}

	// A hairpin pass re-translates a freshly synthesized outer packet,
	// not a nested ICMP-error payload, so it starts its own depth=0
	// rather than inheriting the caller's ICMP-nesting depth.
	hairpinOut, hairpinOutcome := reverse(ctx, out, 0)
	return hairpinOut, hairpinOutcome, true
}

func isOutcomeCarryingICMPError(p *wire.Packet) bool {
	switch p.Family {
	case wire.FamilyV4:
		return p.TransportProtocol == wire.ProtocolICMPv4
	default:
		return p.TransportProtocol == wire.NextHeaderICMPv6
	}
}

// emitErrorFor builds the ICMP error for an Untranslatable outcome,
// choosing the translator's own address in the original's family as the
// error's source: the RFC 6791 substitute when configured, falling back
// to the original packet's own destination address (the interface it
// arrived on is assumed numbered there).
func emitErrorFor(ctx *Context, original *wire.Packet, outcome verdict.Outcome) (*wire.Packet, error) {
	src := errorSourceFor(ctx, original)
	return verdict.EmitICMPError(original, src, outcome)
}

func errorSourceFor(ctx *Context, original *wire.Packet) netip.Addr {
	if ctx.SIIT != nil {
		switch original.Family {
		case wire.FamilyV4:
			if a, ok := ctx.SIIT.SubstituteRFC6791To4(); ok {
				return a
			}
		default:
			if a, ok := ctx.SIIT.SubstituteRFC6791To6(original.IPv6.Dst); ok {
				return a
			}
		}
	}

	switch original.Family {
	case wire.FamilyV4:
		return original.IPv4.Dst
	default:
		return original.IPv6.Dst
	}
}

// parseErrorOutcome maps a wire-layer parse failure to the Outcome
// spec.md §4.3/§7 assigns it: a Routing header with segments left is
// Untranslatable with a pointer detail; every other malformed-input
// failure is a silent Drop (spec.md §7: "structurally invalid input with
// no RFC-specified ICMP error").
func parseErrorOutcome(err error) verdict.Outcome {
	if errors.Is(err, wire.ErrIPv6RoutingSegLeft) {
		return verdict.UntranslatableOutcome(verdict.ReasonSegmentsLeft, wire.IPv6HeaderLen, false)
	}
	return verdict.DropOutcome(verdict.ReasonMalformed)
}
