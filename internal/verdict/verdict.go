package verdict

import "fmt"

// unknownFmt is the format string for unrecognized enum values.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Verdict — spec.md §3, §4.7
// -------------------------------------------------------------------------

// Verdict is the typed outcome of a packet-processing step. Every step in
// the translation pipeline returns one; callers short-circuit on anything
// other than Continue (spec.md §7: "each leaf returns a Verdict; callers
// short-circuit on anything other than Continue").
type Verdict uint8

const (
	// Continue means keep going: this step produced no terminal outcome.
	Continue Verdict = iota

	// Accept means hand the untranslated packet to the next upstream
	// hook — the packet is out of this translator's scope.
	Accept

	// Drop means free the packet and account for it; no reply is sent.
	Drop

	// Untranslatable means emit a single ICMP error describing the
	// failure, then drop.
	Untranslatable

	// Stolen means the packet was queued for later processing (e.g. a
	// fragment buffered awaiting the rest of the datagram) and must not
	// be freed by the caller.
	Stolen
)

var verdictNames = [...]string{
	"Continue",
	"Accept",
	"Drop",
	"Untranslatable",
	"Stolen",
}

// String returns the human-readable name of v.
func (v Verdict) String() string {
	if int(v) < len(verdictNames) {
		return verdictNames[v]
	}
	return fmt.Sprintf(unknownFmt, uint8(v))
}

// -------------------------------------------------------------------------
// Reason — the specific cause behind an Untranslatable/Drop verdict
// -------------------------------------------------------------------------

// Reason identifies why a step returned Untranslatable (or, for the
// stat-only reasons, Drop). Most Untranslatable reasons map directly to
// an RFC-specified ICMP error; EmitICMPError uses Reason to pick the
// outgoing ICMP type/code.
type Reason uint8

const (
	ReasonNone Reason = iota

	// ReasonHopLimitExceeded: IPv6 hop limit reached zero/one before
	// decrement (spec.md §4.3).
	ReasonHopLimitExceeded

	// ReasonTTLExceeded: IPv4 TTL reached zero/one before decrement.
	ReasonTTLExceeded

	// ReasonAddrUnreachable: no route/translation exists for the
	// destination address.
	ReasonAddrUnreachable

	// ReasonPortUnreachable: UDP destination port has no listener (or
	// the translator cannot map it).
	ReasonPortUnreachable

	// ReasonProtoUnreachable: upper-layer protocol has no ICMP
	// counterpart in the target family.
	ReasonProtoUnreachable

	// ReasonAdminProhibited: policy denies forwarding to this
	// destination, including a NAT64 TCP segment that arrived out of
	// order for its session's state (spec.md §4.2).
	ReasonAdminProhibited

	// ReasonParamProblem: a header field could not be translated; Detail
	// on the Outcome carries the RFC-specified pointer.
	ReasonParamProblem

	// ReasonFragNeeded: the output would exceed the next hop's MTU;
	// Detail carries the computed MTU.
	ReasonFragNeeded

	// ReasonSourceRouteFailed: an IPv4 source route option was present
	// and unexpired (spec.md §4.4).
	ReasonSourceRouteFailed

	// ReasonSegmentsLeft: an IPv6 Routing header carried nonzero
	// Segments Left (spec.md §4.3); Detail carries the byte offset of
	// the field from the start of the outer IPv6 header.
	ReasonSegmentsLeft

	// ReasonMalformed: truncated or structurally invalid input with no
	// RFC-specified ICMP error (stat INHDRERRORS, Drop not
	// Untranslatable).
	ReasonMalformed

	// ReasonResourceExhaustion: a pool (ports, addresses) has no free
	// entries (stat OUTDISCARDS, Drop not Untranslatable).
	ReasonResourceExhaustion

	// ReasonPolicy: blacklist, drop-by-addr, or another configured
	// policy matched (Accept or Drop depending on which policy).
	ReasonPolicy
)

var reasonNames = [...]string{
	"None",
	"HopLimitExceeded",
	"TTLExceeded",
	"AddrUnreachable",
	"PortUnreachable",
	"ProtoUnreachable",
	"AdminProhibited",
	"ParamProblem",
	"FragNeeded",
	"SourceRouteFailed",
	"SegmentsLeft",
	"Malformed",
	"ResourceExhaustion",
	"Policy",
}

// String returns the human-readable name of r.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf(unknownFmt, uint8(r))
}

// -------------------------------------------------------------------------
// Outcome
// -------------------------------------------------------------------------

// Outcome bundles a Verdict with the Reason and any detail (pointer or
// MTU value) an Untranslatable verdict needs to build its ICMP error.
type Outcome struct {
	Verdict Verdict
	Reason  Reason

	// Detail carries a reason-specific value: the byte pointer for
	// ReasonParamProblem/ReasonSegmentsLeft, the MTU for
	// ReasonFragNeeded. Zero otherwise.
	Detail uint32

	// Inner marks that this Outcome was produced while translating a
	// packet nested inside an ICMP error (spec.md §7: "inner-packet
	// failures never emit nested errors"). EmitICMPError refuses to act
	// on an Outcome with Inner set.
	Inner bool
}

// ContinueOutcome is the zero-value Continue outcome, for leaf functions
// that have nothing more to say.
var ContinueOutcome = Outcome{Verdict: Continue}

// AcceptOutcome builds an Accept outcome for the given policy reason.
func AcceptOutcome(reason Reason) Outcome {
	return Outcome{Verdict: Accept, Reason: reason}
}

// DropOutcome builds a Drop outcome for the given reason.
func DropOutcome(reason Reason) Outcome {
	return Outcome{Verdict: Drop, Reason: reason}
}

// UntranslatableOutcome builds an Untranslatable outcome. inner marks
// that the failure occurred while translating a nested ICMP-error
// payload, which suppresses EmitICMPError (spec.md §7, §4.7: "No ICMP
// error is emitted in response to another ICMP error").
func UntranslatableOutcome(reason Reason, detail uint32, inner bool) Outcome {
	return Outcome{Verdict: Untranslatable, Reason: reason, Detail: detail, Inner: inner}
}
