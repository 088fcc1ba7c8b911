package translate

import (
	"testing"

	"github.com/jool-go/jool/internal/wire"
)

// TestPTBMTUCalculation exercises the literal testable property spec.md
// §4.5 gives for Packet Too Big translation: an ICMPv6 PTB reporting MTU
// 1500 becomes an ICMPv4 Fragmentation Needed reporting MTU 1480 absent
// any device MTU ceiling.
func TestPTBMTUCalculation(t *testing.T) {
	got := ptbMTU6to4(1500, 65535, 65535)
	if got != 1480 {
		t.Fatalf("ptb mtu = %d, want 1480", got)
	}
}

func TestFragNeededMTUFloorsAtIPv6Min(t *testing.T) {
	got := fragNeededMTU4to6(68, 100, nil, 65535, 65535)
	if got != ipv6MinMTU {
		t.Fatalf("mtu = %d, want floor %d", got, ipv6MinMTU)
	}
}

func TestFragNeededMTUUsesPlateauWhenZero(t *testing.T) {
	plateaus := []uint32{1500, 1280, 576}
	got := choosePlateau(plateaus, 600)
	if got != 576 {
		t.Fatalf("plateau = %d, want 576", got)
	}

	got = choosePlateau(plateaus, 2000)
	if got != 1500 {
		t.Fatalf("plateau = %d, want 1500", got)
	}
}

func TestICMPTypeCodeTablesAreSymmetricWhereDefined(t *testing.T) {
	cases := []struct {
		v4Type, v4Code uint8
	}{
		{wire.ICMPv4EchoRequest, 0},
		{wire.ICMPv4EchoReply, 0},
		{wire.ICMPv4DestUnreachable, wire.ICMPv4CodeHostUnreachable},
		{wire.ICMPv4DestUnreachable, wire.ICMPv4CodePortUnreachable},
		{wire.ICMPv4DestUnreachable, wire.ICMPv4CodeFragNeeded},
		{wire.ICMPv4TimeExceeded, 0},
	}
	for _, c := range cases {
		v6Type, v6Code, ok := icmpv4ToICMPv6TypeCode(c.v4Type, c.v4Code)
		if !ok {
			t.Fatalf("icmpv4->icmpv6(%d,%d): no mapping", c.v4Type, c.v4Code)
		}
		if _, _, ok := icmpv6ToICMPv4TypeCode(v6Type, v6Code); !ok {
			t.Fatalf("icmpv6->icmpv4(%d,%d) has no reverse mapping", v6Type, v6Code)
		}
	}
}

func TestPointerTablesRoundTripKnownValues(t *testing.T) {
	cases := []uint32{0, 1, 4, 6, 7, 8, 23, 24, 40}
	for _, p := range cases {
		v4, ok := pointerV6ToV4(p)
		if !ok {
			t.Fatalf("pointerV6ToV4(%d): no mapping", p)
		}
		if _, ok := pointerV4ToV6(v4); !ok {
			t.Fatalf("pointerV4ToV6(%d) has no reverse mapping (from v6 pointer %d)", v4, p)
		}
	}
}
