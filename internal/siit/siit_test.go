package siit_test

import (
	"net/netip"
	"testing"

	"github.com/jool-go/jool/internal/siit"
)

// TestEAMBijection verifies spec.md §8's "EAM bijection" property: for an
// entry with matching host-bit counts, 6to4(4to6(a4)) == a4 for every
// address inside the prefix pair.
func TestEAMBijection(t *testing.T) {
	t.Parallel()

	p4 := netip.MustParsePrefix("192.0.2.0/24")
	p6 := netip.MustParsePrefix("2001:db8:1::/120")

	entry, err := siit.NewEAMEntry(p4, p6)
	if err != nil {
		t.Fatalf("NewEAMEntry: %v", err)
	}
	table := siit.NewEAMTable([]siit.EAMEntry{entry})

	for host := 0; host < 256; host++ {
		v4 := netip.AddrFrom4([4]byte{192, 0, 2, byte(host)})

		v6, ok := table.Lookup4to6(v4)
		if !ok {
			t.Fatalf("Lookup4to6(%s): no match", v4)
		}

		gotV4, ok := table.Lookup6to4(v6)
		if !ok {
			t.Fatalf("Lookup6to4(%s): no match", v6)
		}
		if gotV4 != v4 {
			t.Fatalf("bijection broken: v4=%s -> v6=%s -> v4=%s", v4, v6, gotV4)
		}
	}
}

func TestEAMRejectsHostBitMismatch(t *testing.T) {
	t.Parallel()

	p4 := netip.MustParsePrefix("192.0.2.0/24")
	p6 := netip.MustParsePrefix("2001:db8:1::/112") // 16 host bits vs 8

	_, err := siit.NewEAMEntry(p4, p6)
	if err == nil {
		t.Fatal("expected ErrHostBitMismatch")
	}
}

func TestResolve6to4ViaPool6(t *testing.T) {
	t.Parallel()

	xlat := &siit.Translator{
		Pool6: netip.MustParsePrefix("64:ff9b::/96"),
	}

	v6 := netip.MustParseAddr("64:ff9b::c000:0201")
	res, err := xlat.Resolve6to4(v6, true, true)
	if err != nil {
		t.Fatalf("Resolve6to4: %v", err)
	}
	if res.Outcome != siit.Translate {
		t.Fatalf("outcome = %v, want Translate", res.Outcome)
	}
	if res.Addr != netip.MustParseAddr("192.0.2.1") {
		t.Fatalf("addr = %s, want 192.0.2.1", res.Addr)
	}
}

func TestResolve6to4PrefersEAMOverPool6(t *testing.T) {
	t.Parallel()

	p4 := netip.MustParsePrefix("203.0.113.0/24")
	p6 := netip.MustParsePrefix("2001:db8:9::/120")
	entry, err := siit.NewEAMEntry(p4, p6)
	if err != nil {
		t.Fatalf("NewEAMEntry: %v", err)
	}

	xlat := &siit.Translator{
		EAM:   siit.NewEAMTable([]siit.EAMEntry{entry}),
		Pool6: netip.MustParsePrefix("64:ff9b::/96"),
	}

	v6 := netip.MustParseAddr("2001:db8:9::5")
	res, err := xlat.Resolve6to4(v6, true, true)
	if err != nil {
		t.Fatalf("Resolve6to4: %v", err)
	}
	if res.Addr != netip.MustParseAddr("203.0.113.5") {
		t.Fatalf("addr = %s, want the EAM-mapped address, not a pool6 one", res.Addr)
	}
}

func TestResolve6to4MustNotTranslateAccepts(t *testing.T) {
	t.Parallel()

	xlat := &siit.Translator{
		Pool6: netip.MustParsePrefix("64:ff9b::/96"),
	}

	// 64:ff9b::7f00:1 embeds 127.0.0.1, which is in the built-in
	// must-not-translate loopback scope.
	v6 := netip.MustParseAddr("64:ff9b::7f00:1")
	res, err := xlat.Resolve6to4(v6, true, true)
	if err != nil {
		t.Fatalf("Resolve6to4: %v", err)
	}
	if res.Outcome != siit.Accept {
		t.Fatalf("outcome = %v, want Accept", res.Outcome)
	}
}

func TestResolve6to4NoMatch(t *testing.T) {
	t.Parallel()

	xlat := &siit.Translator{}

	res, err := xlat.Resolve6to4(netip.MustParseAddr("2001:db8::1"), true, true)
	if err != nil {
		t.Fatalf("Resolve6to4: %v", err)
	}
	if res.Outcome != siit.NoMatch {
		t.Fatalf("outcome = %v, want NoMatch", res.Outcome)
	}
}

func TestHairpinIntrinsicMode(t *testing.T) {
	t.Parallel()

	xlat := &siit.Translator{HairpinMode: siit.HairpinIntrinsic}

	if !xlat.IsHairpin(false, siit.HairpinCheck{ViaPool6: true, FallsInEAM: true}) {
		t.Fatal("expected hairpin for outer non-error pool6+EAM match")
	}
	if xlat.IsHairpin(true, siit.HairpinCheck{ViaPool6: true, FallsInEAM: true}) {
		t.Fatal("expected no hairpin for an outer ICMP error packet")
	}
	if xlat.IsHairpin(false, siit.HairpinCheck{ViaPool6: false, FallsInEAM: true}) {
		t.Fatal("expected no hairpin when address came from EAM, not pool6")
	}
}

func TestHairpinSimpleModeAlwaysTrue(t *testing.T) {
	t.Parallel()

	xlat := &siit.Translator{HairpinMode: siit.HairpinSimple}
	if !xlat.IsHairpin(true, siit.HairpinCheck{}) {
		t.Fatal("expected simple mode to always report hairpin")
	}
}
