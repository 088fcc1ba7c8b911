package translate_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jool-go/jool/internal/csum"
	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/translate"
	"github.com/jool-go/jool/internal/verdict"
	"github.com/jool-go/jool/internal/wire"
)

func buildIPv6UDP(t *testing.T, src, dst netip.Addr, sport, dport uint16, payload []byte) []byte {
	t.Helper()

	udpLen := wire.UDPHeaderLen + len(payload)
	buf := make([]byte, wire.IPv6HeaderLen+udpLen)

	udp := wire.UDPHeader{SrcPort: sport, DstPort: dport, Length: uint16(udpLen)}
	if _, err := wire.MarshalUDP(&udp, buf[wire.IPv6HeaderLen:]); err != nil {
		t.Fatalf("MarshalUDP: %v", err)
	}
	copy(buf[wire.IPv6HeaderLen+wire.UDPHeaderLen:], payload)

	pseudo := csum.PseudoHeader6(csum.ProtoUDP, src, dst, uint16(udpLen))
	sum := csum.UDPNonZero(csum.Recompute(pseudo, buf[wire.IPv6HeaderLen:]))
	buf[wire.IPv6HeaderLen+6] = byte(sum >> 8)
	buf[wire.IPv6HeaderLen+7] = byte(sum)

	ip6 := wire.IPv6Header{
		PayloadLength: uint16(udpLen),
		NextHeader:    wire.NextHeaderUDP,
		HopLimit:      64,
		Src:           src,
		Dst:           dst,
	}
	if _, err := wire.MarshalIPv6(&ip6, buf[:wire.IPv6HeaderLen]); err != nil {
		t.Fatalf("MarshalIPv6: %v", err)
	}

	return buf
}

func buildIPv4UDP(t *testing.T, src, dst netip.Addr, sport, dport uint16, payload []byte) []byte {
	t.Helper()

	udpLen := wire.UDPHeaderLen + len(payload)
	buf := make([]byte, wire.IPv4HeaderLen+udpLen)

	udp := wire.UDPHeader{SrcPort: sport, DstPort: dport, Length: uint16(udpLen)}
	if _, err := wire.MarshalUDP(&udp, buf[wire.IPv4HeaderLen:]); err != nil {
		t.Fatalf("MarshalUDP: %v", err)
	}
	copy(buf[wire.IPv4HeaderLen+wire.UDPHeaderLen:], payload)

	pseudo := csum.PseudoHeader4(csum.ProtoUDP, src, dst, uint16(udpLen))
	sum := csum.UDPNonZero(csum.Recompute(pseudo, buf[wire.IPv4HeaderLen:]))
	buf[wire.IPv4HeaderLen+6] = byte(sum >> 8)
	buf[wire.IPv4HeaderLen+7] = byte(sum)

	ip4 := wire.IPv4Header{
		TotalLength: uint16(len(buf)),
		TTL:         64,
		Protocol:    wire.NextHeaderUDP,
		Src:         src,
		Dst:         dst,
	}
	if _, err := wire.MarshalIPv4(&ip4, buf[:wire.IPv4HeaderLen]); err != nil {
		t.Fatalf("MarshalIPv4: %v", err)
	}

	return buf
}

func siitContext(t *testing.T) *translate.Context {
	t.Helper()

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

	return &translate.Context{
		Mode: translate.ModeSIIT,
		SIIT: xlat,
		Config: translate.Config{
			MTUPlateaus: []uint32{1500, 1280, 576},
		},
	}
}

func TestSixToFourSIITUDPRoundTrip(t *testing.T) {
	src := netip.MustParseAddr("2001:db8:9::5")   // EAM -> 203.0.113.5
	dst := netip.MustParseAddr("64:ff9b::c000:0201") // pool6 -> 192.0.2.1

	ctx := siitContext(t)
	raw := buildIPv6UDP(t, src, dst, 5000, 80, []byte("hello"))

	out, outcome, err := translate.Translate(ctx, raw)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if outcome.Verdict != verdict.Continue {
		t.Fatalf("outcome = %+v, want Continue", outcome)
	}
	defer wire.PutPacket(out)

	if out.Family != wire.FamilyV4 {
		t.Fatalf("family = %v, want IPv4", out.Family)
	}
	if out.IPv4.Src != netip.MustParseAddr("203.0.113.5") {
		t.Fatalf("src = %s, want 203.0.113.5", out.IPv4.Src)
	}
	if out.IPv4.Dst != netip.MustParseAddr("192.0.2.1") {
		t.Fatalf("dst = %s, want 192.0.2.1", out.IPv4.Dst)
	}

	var udp wire.UDPHeader
	if err := wire.UnmarshalUDP(out.Transport(), &udp); err != nil {
		t.Fatalf("UnmarshalUDP: %v", err)
	}
	if udp.SrcPort != 5000 || udp.DstPort != 80 {
		t.Fatalf("ports = %d/%d, want 5000/80", udp.SrcPort, udp.DstPort)
	}
}

func TestFourToSixSIITRoundTrip(t *testing.T) {
	ctx := siitContext(t)

	src := netip.MustParseAddr("203.0.113.5")
	dst := netip.MustParseAddr("192.0.2.1")
	raw := buildIPv4UDP(t, src, dst, 5000, 80, []byte("hello"))

	out, outcome, err := translate.Translate(ctx, raw)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if outcome.Verdict != verdict.Continue {
		t.Fatalf("outcome = %+v, want Continue", outcome)
	}
	defer wire.PutPacket(out)

	if out.Family != wire.FamilyV6 {
		t.Fatalf("family = %v, want IPv6", out.Family)
	}
	if out.IPv6.Src != netip.MustParseAddr("2001:db8:9::5") {
		t.Fatalf("src = %s, want 2001:db8:9::5", out.IPv6.Src)
	}
	if out.IPv6.Dst != netip.MustParseAddr("64:ff9b::c000:0201") {
		t.Fatalf("dst = %s, want 64:ff9b::c000:0201", out.IPv6.Dst)
	}
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

func nat64Context(t *testing.T) *translate.Context {
	t.Helper()

	pool := nat64.NewPool4()
	pool.Add(nat64.ProtoUDP, nat64.Pool4Entry{
		Addr: mustAddr(t, "198.51.100.1"), PortMin: 1024, PortMax: 65535,
	})
	alloc := nat64.NewPortAllocator(pool)
	store := nat64.NewStore(alloc, nat64.Timeouts{
		UDP: time.Minute, ICMP: time.Minute, TCPEst: time.Hour, TCPTrans: 4 * time.Second,
	}, true, false, nat64.FilterArgsSrcAddr|nat64.FilterArgsSrcPort|nat64.FilterArgsDstAddr|nat64.FilterArgsDstPort)

	xlat := &siit.Translator{
		Pool6: netip.MustParsePrefix("64:ff9b::/96"),
	}

	return &translate.Context{
		Mode:  translate.ModeNAT64,
		SIIT:  xlat,
		Store: store,
		Now:   func() time.Time { return time.Unix(1000, 0) },
	}
}

// TestNAT64RoundTripPreservesBIB translates an outbound IPv6 UDP
// datagram to IPv4, then translates a reply from the external host back
// to IPv6, checking the binding created by the first pass routes the
// reply to the original internal source port.
func TestNAT64RoundTripPreservesBIB(t *testing.T) {
	ctx := nat64Context(t)

	v6Src := mustAddr(t, "2001:db8::1")
	v4Dst := mustAddr(t, "192.0.2.1")
	v6Dst := mustAddr(t, "64:ff9b::c000:0201") // pool6 embedding of v4Dst

	outbound := buildIPv6UDP(t, v6Src, v6Dst, 5000, 80, []byte("ping"))
	out1, outcome1, err := translate.Translate(ctx, outbound)
	if err != nil {
		t.Fatalf("Translate outbound: %v", err)
	}
	if outcome1.Verdict != verdict.Continue {
		t.Fatalf("outbound outcome = %+v, want Continue", outcome1)
	}
	if out1.IPv4.Src != mustAddr(t, "198.51.100.1") {
		t.Fatalf("allocated v4 src = %s, want 198.51.100.1", out1.IPv4.Src)
	}
	var udp1 wire.UDPHeader
	if err := wire.UnmarshalUDP(out1.Transport(), &udp1); err != nil {
		t.Fatalf("UnmarshalUDP: %v", err)
	}
	allocatedPort := udp1.SrcPort
	wire.PutPacket(out1)

	reply := buildIPv4UDP(t, v4Dst, mustAddr(t, "198.51.100.1"), 80, allocatedPort, []byte("pong"))
	out2, outcome2, err := translate.Translate(ctx, reply)
	if err != nil {
		t.Fatalf("Translate reply: %v", err)
	}
	if outcome2.Verdict != verdict.Continue {
		t.Fatalf("reply outcome = %+v, want Continue", outcome2)
	}
	defer wire.PutPacket(out2)

	if out2.IPv6.Dst != v6Src {
		t.Fatalf("reply dst = %s, want original source %s", out2.IPv6.Dst, v6Src)
	}
	var udp2 wire.UDPHeader
	if err := wire.UnmarshalUDP(out2.Transport(), &udp2); err != nil {
		t.Fatalf("UnmarshalUDP: %v", err)
	}
	if udp2.DstPort != 5000 {
		t.Fatalf("reply dst port = %d, want original source port 5000", udp2.DstPort)
	}
}

func TestNAT64DropsReplyWithNoBinding(t *testing.T) {
	ctx := nat64Context(t)

	reply := buildIPv4UDP(t, mustAddr(t, "192.0.2.1"), mustAddr(t, "198.51.100.1"), 80, 40000, []byte("x"))
	out, outcome, err := translate.Translate(ctx, reply)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if out != nil {
		wire.PutPacket(out)
	}
	if outcome.Verdict != verdict.Drop {
		t.Fatalf("outcome = %+v, want Drop", outcome)
	}
}

