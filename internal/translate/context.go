package translate

import (
	"time"

	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
)

// Mode selects whether a Context resolves addresses statelessly (SIIT)
// or through a NAT64 binding/session store.
type Mode uint8

const (
	ModeSIIT Mode = iota
	ModeNAT64
)

// Config carries the per-instance translation-behavior knobs spec.md §6
// lists (the subset that affects header synthesis rather than the
// control plane).
type Config struct {
	// ResetTOS/NewTOS override the 6→4 TOS byte instead of copying it
	// from the IPv6 traffic class.
	ResetTOS bool
	NewTOS   uint8

	// ResetTrafficClass/NewTrafficClass override the 4→6 traffic class
	// instead of copying it from the IPv4 TOS byte.
	ResetTrafficClass bool
	NewTrafficClass   uint8

	// MTUPlateaus is the descending, deduplicated, nonzero plateau table
	// used when an incoming MTU hint is zero (spec.md §4.5).
	MTUPlateaus []uint32

	// BuildIPv4ID requests a pseudo-random Identification field on 6→4
	// output instead of zero, when DF would not be set.
	BuildIPv4ID bool

	// DFAlwaysOn forces DF=1 on every 6→4 output regardless of length.
	DFAlwaysOn bool

	// AmendZeroUDPChecksum allows 4→6 to compute a full UDP checksum
	// when the IPv4 input carried the RFC 768 zero-checksum exemption
	// (spec.md §4.6); otherwise such packets are dropped.
	AmendZeroUDPChecksum bool

	// OutDeviceMTU and InDeviceMTU feed the PTB/FRAG_NEEDED MTU
	// calculations (spec.md §4.5); a route oracle supplies these as
	// out-of-scope inputs.
	OutDeviceMTU uint32
	InDeviceMTU  uint32
}

// Context bundles everything one packet translation needs beyond the
// packet itself: which address-resolution strategy to use and its
// backing tables, plus the instance's header-synthesis configuration.
type Context struct {
	Mode Mode

	SIIT  *siit.Translator
	Store *nat64.Store

	Config Config

	// Now returns the current time, used to stamp NAT64 session
	// expiry; defaults to time.Now when nil.
	Now func() time.Time
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
