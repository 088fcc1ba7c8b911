package csum_test

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/jool-go/jool/internal/csum"
)

// buildUDP4 returns a UDP header+payload and the checksum computed over the
// IPv4 pseudo-header, for use as a baseline a delta update must match.
func buildUDP4(t *testing.T, src, dst netip.Addr, sport, dport uint16, payload []byte) []byte {
	t.Helper()

	seg := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(seg[0:2], sport)
	binary.BigEndian.PutUint16(seg[2:4], dport)
	binary.BigEndian.PutUint16(seg[4:6], uint16(len(seg)))
	binary.BigEndian.PutUint16(seg[6:8], 0) // checksum placeholder
	copy(seg[8:], payload)

	pseudo := csum.PseudoHeader4(csum.ProtoUDP, src, dst, uint16(len(seg)))
	cs := csum.Recompute(pseudo, seg)
	cs = csum.UDPNonZero(cs)
	binary.BigEndian.PutUint16(seg[6:8], cs)

	return seg
}

// TestReplaceSumMatchesRecompute verifies that applying the RFC 1624
// incremental update across a simulated 4->6 family swap produces the same
// checksum as recomputing the UDP checksum from scratch with the new
// addresses -- the core invariant behind spec.md §4.6's delta formula.
func TestReplaceSumMatchesRecompute(t *testing.T) {
	t.Parallel()

	v4Src := netip.MustParseAddr("192.0.2.1")
	v4Dst := netip.MustParseAddr("198.51.100.1")
	v6Src := netip.MustParseAddr("64:ff9b::c000:0201")
	v6Dst := netip.MustParseAddr("2001:db8::1")

	payload := []byte("hello NAT64")
	seg := buildUDP4(t, v4Src, v4Dst, 5000, 6000, payload)

	oldChecksum := binary.BigEndian.Uint16(seg[6:8])

	delta := csum.DeltaPseudoHeader{
		Proto:  csum.ProtoUDP,
		OldSrc: v4Src,
		OldDst: v4Dst,
		NewSrc: v6Src,
		NewDst: v6Dst,
		Length: uint16(len(seg)),
	}
	got := csum.UDPNonZero(delta.Apply(oldChecksum))

	// Recompute from scratch with the new (v6) pseudo-header and a
	// zeroed checksum field, as the "recompute" path would.
	scratch := make([]byte, len(seg))
	copy(scratch, seg)
	binary.BigEndian.PutUint16(scratch[6:8], 0)
	pseudo6 := csum.PseudoHeader6(csum.ProtoUDP, v6Src, v6Dst, uint16(len(seg)))
	want := csum.UDPNonZero(csum.Recompute(pseudo6, scratch))

	if got != want {
		t.Fatalf("delta update = %#04x, full recompute = %#04x", got, want)
	}
}

func TestUDPNonZero(t *testing.T) {
	t.Parallel()

	if got := csum.UDPNonZero(0); got != 0xFFFF {
		t.Fatalf("UDPNonZero(0) = %#04x, want 0xFFFF", got)
	}
	if got := csum.UDPNonZero(0x1234); got != 0x1234 {
		t.Fatalf("UDPNonZero(0x1234) = %#04x, want unchanged", got)
	}
}

func TestICMPv4ZeroIsZero(t *testing.T) {
	t.Parallel()

	if got := csum.ICMPv4ZeroIsZero(0); got != 0 {
		t.Fatalf("ICMPv4ZeroIsZero(0) = %#04x, want 0", got)
	}
}
