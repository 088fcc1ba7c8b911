package siit

import (
	"fmt"
	"net/netip"

	"github.com/jool-go/jool/internal/addr"
)

// Outcome describes what an address resolution decided to do with the
// candidate it found (spec.md §4.1).
type Outcome uint8

const (
	// NoMatch means no EAM entry and no pool6/blacklist candidate
	// produced a translatable address; the caller should treat this as
	// "try something else" (for SIIT, typically Untranslatable).
	NoMatch Outcome = iota

	// Translate means Addr is ready to use as the translated address.
	Translate

	// Accept means the original (untranslated) packet should be passed
	// upstream rather than translated — the candidate address matched
	// the blacklist or a must-not-translate scope (spec.md §4.1).
	Accept
)

// Resolution is the result of a 6→4 or 4→6 address resolution.
type Resolution struct {
	Addr    netip.Addr
	Outcome Outcome
}

// Translator holds one SIIT/NAT64 instance's address-translation
// configuration: the EAM table, the RFC 6052 pool6 prefix, the blacklist,
// and the RFC 6791 substitution pool. It is immutable; configuration
// changes build a new Translator and swap it in (spec.md §9).
type Translator struct {
	EAM *EAMTable

	// Pool6 is the RFC 6052 prefix used when no EAM entry matches. A
	// zero Prefix (Bits() < 0) means pool6 is unset.
	Pool6 netip.Prefix

	// AllowUBit disables the zero-u-octet invariant, per spec.md §3's
	// override flag.
	AllowUBit bool

	// Blacklist4 and Blacklist6 are user-configured denylists, combined
	// with the built-in must-not-translate scopes to form the
	// accept-set (spec.md §4.1).
	Blacklist4 PrefixSet
	Blacklist6 PrefixSet

	// RFC6791Pool4 lists configured IPv4 addresses usable as an ICMP
	// error's substituted source during 6→4 translation (spec.md §4.1).
	RFC6791Pool4 []netip.Addr

	// RFC6791Pool6 is the IPv6 prefix SubstituteRFC6791To6 hash-derives
	// RFC 6791 addresses from. The hash is applied whenever the prefix is
	// set; there is no switch here that turns it off.
	RFC6791Pool6 netip.Prefix

	HairpinMode HairpinMode
}

func (t *Translator) hasPool6() bool {
	return t.Pool6.IsValid() && t.Pool6.Bits() >= 0
}

// Resolve6to4 implements spec.md §4.1's 6→4 resolution order: EAM
// longest-prefix first; else pool6 RFC 6052 extraction; else NoMatch.
// useEAM/useBlacklist let a caller disable either step for a specific
// lookup (spec.md §4.1: "a flag that enables/disables blacklist for this
// lookup; a flag that enables/disables EAM for this lookup").
func (t *Translator) Resolve6to4(v6 netip.Addr, useEAM, useBlacklist bool) (Resolution, error) {
	var candidate netip.Addr
	var found bool

	if useEAM && t.EAM != nil {
		candidate, found = t.EAM.Lookup6to4(v6)
	}
	if !found && t.hasPool6() {
		v4, err := addr.ExtractV4(t.Pool6, v6)
		if err == nil {
			candidate, found = v4, true
		}
	}
	if !found {
		return Resolution{Outcome: NoMatch}, nil
	}

	return t.classify4(candidate, useBlacklist), nil
}

// Resolve4to6 implements spec.md §4.1's 4→6 resolution order: EAM first,
// then pool6 injection.
func (t *Translator) Resolve4to6(v4 netip.Addr, useEAM, useBlacklist bool) (Resolution, error) {
	var candidate netip.Addr
	var found bool

	if useEAM && t.EAM != nil {
		candidate, found = t.EAM.Lookup4to6(v4)
	}
	if !found && t.hasPool6() {
		v6, err := addr.EmbedV4(t.Pool6, v4, t.AllowUBit)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve4to6: %w", err)
		}
		candidate, found = v6, true
	}
	if !found {
		return Resolution{Outcome: NoMatch}, nil
	}

	return t.classify6(candidate, useBlacklist), nil
}

func (t *Translator) classify4(candidate netip.Addr, useBlacklist bool) Resolution {
	if mustNotTranslate4.Contains(candidate) {
		return Resolution{Addr: candidate, Outcome: Accept}
	}
	if useBlacklist && t.Blacklist4.Contains(candidate) {
		return Resolution{Addr: candidate, Outcome: Accept}
	}
	return Resolution{Addr: candidate, Outcome: Translate}
}

func (t *Translator) classify6(candidate netip.Addr, useBlacklist bool) Resolution {
	if mustNotTranslate6.Contains(candidate) {
		return Resolution{Addr: candidate, Outcome: Accept}
	}
	if useBlacklist && t.Blacklist6.Contains(candidate) {
		return Resolution{Addr: candidate, Outcome: Accept}
	}
	return Resolution{Addr: candidate, Outcome: Translate}
}

// SubstituteRFC6791To4 picks a configured IPv4 address to serve as an
// ICMP error's source during 6→4 translation, when the error's true
// source address failed normal translation (spec.md §4.1). Returns false
// if no RFC 6791 pool is configured.
func (t *Translator) SubstituteRFC6791To4() (netip.Addr, bool) {
	if len(t.RFC6791Pool4) == 0 {
		return netip.Addr{}, false
	}
	return t.RFC6791Pool4[0], true
}

// SubstituteRFC6791To6 derives an IPv6 address from RFC6791Pool6 for the
// 4→6 reverse direction, hashing origAddr into the pool's host bits so
// distinct IPv4 sources map to distinct (if collidable) IPv6 addresses.
func (t *Translator) SubstituteRFC6791To6(origAddr netip.Addr) (netip.Addr, bool) {
	if !t.RFC6791Pool6.IsValid() {
		return netip.Addr{}, false
	}

	hostBitCount := 128 - t.RFC6791Pool6.Bits()
	if hostBitCount <= 0 {
		return t.RFC6791Pool6.Addr(), true
	}

	h := fnv1a(origAddr.AsSlice())
	base := append([]byte(nil), t.RFC6791Pool6.Addr().AsSlice()...)

	for i := 0; i < hostBitCount; i++ {
		bitPos := t.RFC6791Pool6.Bits() + i
		byteIdx := bitPos / 8
		bitInByte := uint(7 - bitPos%8)
		if (h>>(uint(i)%32))&1 != 0 {
			base[byteIdx] |= 1 << bitInByte
		} else {
			base[byteIdx] &^= 1 << bitInByte
		}
	}

	return netip.AddrFrom16([16]byte(base)), true
}

// fnv1a is a tiny deterministic hash, adequate for distributing RFC 6791
// addresses across a pool's host bits without pulling in a hashing
// dependency for four lines of arithmetic.
func fnv1a(data []byte) uint32 {
	const offsetBasis uint32 = 2166136261
	const prime uint32 = 16777619

	h := offsetBasis
	for _, b := range data {
		h ^= uint32(b)
		h *= prime
	}
	return h
}
