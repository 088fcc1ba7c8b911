package siit

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/jool-go/jool/internal/addr"
)

// Sentinel errors for EAM table construction and lookup.
var (
	// ErrHostBitMismatch indicates an EAM entry's IPv4 and IPv6 prefixes
	// do not share the same host-bit count, violating the bijection
	// invariant (spec.md §3: "the trailing-bit counts agree so that the
	// mapping is bijective within each prefix pair").
	ErrHostBitMismatch = errors.New("eam entry host-bit counts do not match")

	// ErrNoEAMMatch indicates no EAM entry's prefix contains the queried
	// address.
	ErrNoEAMMatch = errors.New("no eam entry matches address")
)

// EAMEntry is one Explicit Address Mapping: an IPv4 prefix paired with an
// IPv6 prefix of equal host-bit count (spec.md §3).
type EAMEntry struct {
	Prefix4 netip.Prefix
	Prefix6 netip.Prefix
}

// hostBits4 and hostBits6 return how many address bits are NOT covered by
// the prefix — the portion the bijection carries across address
// families unchanged.
func hostBits4(p netip.Prefix) int { return 32 - p.Bits() }
func hostBits6(p netip.Prefix) int { return 128 - p.Bits() }

// NewEAMEntry validates and constructs an EAMEntry.
func NewEAMEntry(p4, p6 netip.Prefix) (EAMEntry, error) {
	if !addr.IsCanonical(p4) || !addr.IsCanonical(p6) {
		return EAMEntry{}, fmt.Errorf("eam entry %s <-> %s: %w", p4, p6, addr.ErrHostBitsSet)
	}
	if hostBits4(p4) != hostBits6(p6) {
		return EAMEntry{}, fmt.Errorf("eam entry %s (%d host bits) <-> %s (%d host bits): %w",
			p4, hostBits4(p4), p6, hostBits6(p6), ErrHostBitMismatch)
	}
	return EAMEntry{Prefix4: p4, Prefix6: p6}, nil
}

// EAMTable is an immutable, longest-prefix-match lookup structure over a
// set of EAMEntry values, queryable from either address family.
type EAMTable struct {
	entries []EAMEntry
	v4      []netip.Prefix
	v6      []netip.Prefix
}

// NewEAMTable builds a table from entries. The table is immutable after
// construction; a configuration update builds a new table and swaps it in
// (spec.md §9: "atomic root pointer swap").
func NewEAMTable(entries []EAMEntry) *EAMTable {
	t := &EAMTable{
		entries: entries,
		v4:      make([]netip.Prefix, len(entries)),
		v6:      make([]netip.Prefix, len(entries)),
	}
	for i, e := range entries {
		t.v4[i] = e.Prefix4
		t.v6[i] = e.Prefix6
	}
	return t
}

// translateHost copies matchAddr's host bits (those past matchPrefix's
// length) onto a copy of targetPrefix's address, starting right after
// targetPrefix's length.
func translateHost(matchPrefix netip.Prefix, matchAddr netip.Addr, targetPrefix netip.Prefix) netip.Addr {
	srcBytes := matchAddr.AsSlice()
	dstBytes := append([]byte(nil), targetPrefix.Addr().AsSlice()...)

	hostBitCount := len(srcBytes)*8 - matchPrefix.Bits()
	dstBitLen := len(dstBytes) * 8
	dstPrefixBits := targetPrefix.Bits()

	for i := 0; i < hostBitCount; i++ {
		srcBitPos := matchPrefix.Bits() + i
		dstBitPos := dstPrefixBits + i
		if dstBitPos >= dstBitLen {
			break
		}

		srcByte := srcBytes[srcBitPos/8]
		srcBit := (srcByte >> (7 - uint(srcBitPos%8))) & 1

		dstByteIdx := dstBitPos / 8
		dstBitInByte := uint(7 - dstBitPos%8)
		if srcBit != 0 {
			dstBytes[dstByteIdx] |= 1 << dstBitInByte
		} else {
			dstBytes[dstByteIdx] &^= 1 << dstBitInByte
		}
	}

	if len(dstBytes) == 4 {
		return netip.AddrFrom4([4]byte(dstBytes))
	}
	return netip.AddrFrom16([16]byte(dstBytes))
}

// Lookup6to4 finds the longest-prefix-matching EAM entry for v6 and
// returns the corresponding IPv4 address, carrying v6's host bits across
// onto the matched IPv4 prefix.
func (t *EAMTable) Lookup6to4(v6 netip.Addr) (netip.Addr, bool) {
	idx, ok := addr.LongestMatch(t.v6, v6)
	if !ok {
		return netip.Addr{}, false
	}
	e := t.entries[idx]
	return translateHost(e.Prefix6, v6, e.Prefix4), true
}

// Lookup4to6 finds the longest-prefix-matching EAM entry for v4 and
// returns the corresponding IPv6 address.
func (t *EAMTable) Lookup4to6(v4 netip.Addr) (netip.Addr, bool) {
	idx, ok := addr.LongestMatch(t.v4, v4)
	if !ok {
		return netip.Addr{}, false
	}
	e := t.entries[idx]
	return translateHost(e.Prefix4, v4, e.Prefix6), true
}

// Entries returns the table's entries, for iteration (config dump,
// testing).
func (t *EAMTable) Entries() []EAMEntry {
	return t.entries
}
