package wire_test

import (
	"net/netip"
	"testing"

	"github.com/jool-go/jool/internal/wire"
)

func TestIPv4RoundTrip(t *testing.T) {
	t.Parallel()

	h := wire.IPv4Header{
		DSCP:           10,
		ECN:            1,
		TotalLength:    40,
		ID:             1234,
		DontFragment:   true,
		FragmentOffset: 0,
		TTL:            64,
		Protocol:       wire.NextHeaderTCP,
		Src:            netip.MustParseAddr("192.0.2.1"),
		Dst:            netip.MustParseAddr("198.51.100.1"),
	}

	buf := make([]byte, h.TotalLength)
	n, err := wire.MarshalIPv4(&h, buf)
	if err != nil {
		t.Fatalf("MarshalIPv4: %v", err)
	}
	if n != wire.IPv4HeaderLen {
		t.Fatalf("wrote %d bytes, want %d", n, wire.IPv4HeaderLen)
	}

	var got wire.IPv4Header
	if err := wire.UnmarshalIPv4(buf, &got); err != nil {
		t.Fatalf("UnmarshalIPv4: %v", err)
	}

	if got.Src != h.Src || got.Dst != h.Dst || got.ID != h.ID || got.TTL != h.TTL ||
		got.Protocol != h.Protocol || got.DSCP != h.DSCP || got.ECN != h.ECN ||
		got.DontFragment != h.DontFragment {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestIPv4RejectsOptions(t *testing.T) {
	t.Parallel()

	buf := make([]byte, 24)
	buf[0] = (4 << 4) | 6 // IHL=6, options present

	var h wire.IPv4Header
	if err := wire.UnmarshalIPv4(buf, &h); err == nil {
		t.Fatal("expected ErrIPv4HasOptions")
	}
}

func TestIPv6RoundTrip(t *testing.T) {
	t.Parallel()

	h := wire.IPv6Header{
		TrafficClass:  0xAB,
		FlowLabel:     0x12345,
		PayloadLength: 512,
		NextHeader:    wire.NextHeaderUDP,
		HopLimit:      55,
		Src:           netip.MustParseAddr("2001:db8::1"),
		Dst:           netip.MustParseAddr("64:ff9b::c000:0201"),
	}

	buf := make([]byte, wire.IPv6HeaderLen)
	if _, err := wire.MarshalIPv6(&h, buf); err != nil {
		t.Fatalf("MarshalIPv6: %v", err)
	}

	var got wire.IPv6Header
	if err := wire.UnmarshalIPv6(buf, &got); err != nil {
		t.Fatalf("UnmarshalIPv6: %v", err)
	}

	if got.Src != h.Src || got.Dst != h.Dst || got.NextHeader != h.NextHeader ||
		got.HopLimit != h.HopLimit || got.PayloadLength != h.PayloadLength ||
		got.TrafficClass != h.TrafficClass || got.FlowLabel != h.FlowLabel {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

// TestWalkExtensionHeadersSkipsHopByHopAndFragment builds a Hop-by-Hop
// header followed by a Fragment header followed by a UDP header, and
// verifies the walk finds UDP as the upper protocol while recording the
// fragment.
func TestWalkExtensionHeadersSkipsHopByHopAndFragment(t *testing.T) {
	t.Parallel()

	var buf []byte

	// Hop-by-Hop: NextHeader=Fragment, HdrExtLen=0 (8 bytes total).
	buf = append(buf, wire.NextHeaderFragment, 0, 0, 0, 0, 0, 0, 0)

	// Fragment header: NextHeader=UDP, offset=0, M=0, ID=0xdeadbeef.
	fragOff := len(buf)
	frag := wire.FragmentHeader{NextHeader: wire.NextHeaderUDP, Offset: 0, More: false, Identification: 0xdeadbeef}
	fragBuf := make([]byte, wire.FragmentHeaderLen)
	if _, err := wire.MarshalFragmentHeader(&frag, fragBuf); err != nil {
		t.Fatalf("MarshalFragmentHeader: %v", err)
	}
	buf = append(buf, fragBuf...)

	// UDP header.
	udpOff := len(buf)
	udp := wire.UDPHeader{SrcPort: 1, DstPort: 2, Length: 8, Checksum: 0}
	udpBuf := make([]byte, wire.UDPHeaderLen)
	if _, err := wire.MarshalUDP(&udp, udpBuf); err != nil {
		t.Fatalf("MarshalUDP: %v", err)
	}
	buf = append(buf, udpBuf...)

	chain, err := wire.WalkExtensionHeaders(buf, 0, wire.NextHeaderHopByHop)
	if err != nil {
		t.Fatalf("WalkExtensionHeaders: %v", err)
	}

	if chain.UpperProtocol != wire.NextHeaderUDP {
		t.Fatalf("upper protocol = %d, want UDP", chain.UpperProtocol)
	}
	if chain.UpperOffset != udpOff {
		t.Fatalf("upper offset = %d, want %d", chain.UpperOffset, udpOff)
	}
	if !chain.HasFragment {
		t.Fatal("expected HasFragment = true")
	}
	if chain.FragmentOffset != fragOff {
		t.Fatalf("fragment offset = %d, want %d", chain.FragmentOffset, fragOff)
	}
}

func TestWalkExtensionHeadersRejectsRoutingInTransit(t *testing.T) {
	t.Parallel()

	// Routing header: NextHeader=TCP, HdrExtLen=0, RoutingType=0, SegmentsLeft=1.
	buf := []byte{wire.NextHeaderTCP, 0, 0, 1, 0, 0, 0, 0}

	_, err := wire.WalkExtensionHeaders(buf, 0, wire.NextHeaderRouting)
	if err == nil {
		t.Fatal("expected ErrIPv6RoutingSegLeft")
	}
}

func TestTCPRoundTripWithOptions(t *testing.T) {
	t.Parallel()

	h := wire.TCPHeader{
		SrcPort: 443,
		DstPort: 51000,
		SeqNum:  1,
		AckNum:  2,
		Flags:   wire.TCPFlagSYN | wire.TCPFlagACK,
		Window:  65535,
		Options: []byte{0x02, 0x04, 0x05, 0xb4}, // MSS option
	}

	buf := make([]byte, wire.TCPHeaderLen+len(h.Options))
	n, err := wire.MarshalTCP(&h, buf)
	if err != nil {
		t.Fatalf("MarshalTCP: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("wrote %d bytes, want %d", n, len(buf))
	}

	var got wire.TCPHeader
	if err := wire.UnmarshalTCP(buf, &got); err != nil {
		t.Fatalf("UnmarshalTCP: %v", err)
	}

	if got.SrcPort != h.SrcPort || got.DstPort != h.DstPort || got.Flags != h.Flags ||
		string(got.Options) != string(h.Options) {
		t.Fatalf("round trip mismatch: got %+v opts=%v, want %+v opts=%v", got, got.Options, h, h.Options)
	}
	if !got.Is(wire.TCPFlagSYN) || !got.Is(wire.TCPFlagACK) {
		t.Fatal("expected SYN|ACK flags set")
	}
}

func TestICMPv4EchoRoundTrip(t *testing.T) {
	t.Parallel()

	var h wire.ICMPv4Header
	h.Type = wire.ICMPv4EchoRequest
	h.SetIdentifier(7)
	h.SetSequenceNumber(42)

	buf := make([]byte, wire.ICMPv4HeaderLen)
	if _, err := wire.MarshalICMPv4(&h, buf); err != nil {
		t.Fatalf("MarshalICMPv4: %v", err)
	}

	var got wire.ICMPv4Header
	if err := wire.UnmarshalICMPv4(buf, &got); err != nil {
		t.Fatalf("UnmarshalICMPv4: %v", err)
	}
	if got.Identifier() != 7 || got.SequenceNumber() != 42 {
		t.Fatalf("got id=%d seq=%d, want 7/42", got.Identifier(), got.SequenceNumber())
	}
}

func TestICMPv6PacketTooBigRoundTrip(t *testing.T) {
	t.Parallel()

	var h wire.ICMPv6Header
	h.Type = wire.ICMPv6PacketTooBig
	h.SetMTU(1280)

	buf := make([]byte, wire.ICMPv6HeaderLen)
	if _, err := wire.MarshalICMPv6(&h, buf); err != nil {
		t.Fatalf("MarshalICMPv6: %v", err)
	}

	var got wire.ICMPv6Header
	if err := wire.UnmarshalICMPv6(buf, &got); err != nil {
		t.Fatalf("UnmarshalICMPv6: %v", err)
	}
	if got.MTU() != 1280 {
		t.Fatalf("got mtu=%d, want 1280", got.MTU())
	}
}

func TestParsePacketIPv4UDP(t *testing.T) {
	t.Parallel()

	p := wire.GetPacket()
	defer wire.PutPacket(p)

	ip := wire.IPv4Header{
		TotalLength: wire.IPv4HeaderLen + wire.UDPHeaderLen,
		TTL:         64,
		Protocol:    wire.NextHeaderUDP,
		Src:         netip.MustParseAddr("192.0.2.1"),
		Dst:         netip.MustParseAddr("198.51.100.1"),
	}
	udp := wire.UDPHeader{SrcPort: 1, DstPort: 2, Length: wire.UDPHeaderLen}

	buf := p.Buf[:wire.IPv4HeaderLen+wire.UDPHeaderLen]
	if _, err := wire.MarshalIPv4(&ip, buf); err != nil {
		t.Fatalf("MarshalIPv4: %v", err)
	}
	if _, err := wire.MarshalUDP(&udp, buf[wire.IPv4HeaderLen:]); err != nil {
		t.Fatalf("MarshalUDP: %v", err)
	}
	p.Len = len(buf)

	if err := wire.ParsePacket(p); err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}

	if p.Family != wire.FamilyV4 {
		t.Fatalf("family = %s, want IPv4", p.Family)
	}
	if p.TransportProtocol != wire.NextHeaderUDP {
		t.Fatalf("transport protocol = %d, want UDP", p.TransportProtocol)
	}
	if p.TransportOffset != wire.IPv4HeaderLen {
		t.Fatalf("transport offset = %d, want %d", p.TransportOffset, wire.IPv4HeaderLen)
	}
	if p.IsFragment {
		t.Fatal("expected non-fragment")
	}
}
