package daemon_test

import (
	"context"
	"errors"
	"io"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jool-go/jool/internal/csum"
	"github.com/jool-go/jool/internal/daemon"
	"github.com/jool-go/jool/internal/instance"
	"github.com/jool-go/jool/internal/metrics"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/translate"
	"github.com/jool-go/jool/internal/wire"
)

// fakeTunnelConn is a netio.TunnelConn test double: reads are served one
// at a time from a channel of pre-queued packets, writes are recorded.
// Grounded on internal/netio.MockPacketConn's injectable-closures-plus-
// recorded-calls shape, narrowed to the PacketSource/PacketSink pair
// daemon.Loop actually depends on.
type fakeTunnelConn struct {
	mu      sync.Mutex
	queue   [][]byte
	written [][]byte
	closed  bool

	drained chan struct{}
}

func newFakeTunnelConn(packets ...[]byte) *fakeTunnelConn {
	return &fakeTunnelConn{queue: packets, drained: make(chan struct{})}
}

func (c *fakeTunnelConn) ReadPacket(buf []byte) (int, error) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		select {
		case <-c.drained:
		default:
			close(c.drained)
		}
		<-make(chan struct{}) // block forever; Run is stopped via ctx cancellation
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.mu.Unlock()

	n := copy(buf, next)
	return n, nil
}

func (c *fakeTunnelConn) WritePacket(buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	c.written = append(c.written, cp)
	return nil
}

func (c *fakeTunnelConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeTunnelConn) writtenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.written)
}

func (c *fakeTunnelConn) writtenPacket(i int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written[i]
}

// erroringConn.ReadPacket always fails, so Loop.Run returns promptly for
// tests that only care about the error-propagation path.
type erroringConn struct {
	err error
}

func (c erroringConn) ReadPacket([]byte) (int, error) { return 0, c.err }
func (c erroringConn) WritePacket([]byte) error       { return nil }
func (c erroringConn) Close() error                   { return nil }

func newSIITRegistry(t *testing.T) *instance.Registry {
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

	reg := instance.NewRegistry(nil)
	if _, err := reg.Add("eth0", translate.ModeSIIT, xlat, nil, translate.Config{
		MTUPlateaus: []uint32{1500, 1280, 576},
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return reg
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

func runUntilDrained(t *testing.T, l *daemon.Loop, conn *fakeTunnelConn) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	select {
	case <-conn.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queued packets to be consumed")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}
}

func TestLoopContinueWritesTranslatedPacket(t *testing.T) {
	reg := newSIITRegistry(t)
	src := netip.MustParseAddr("203.0.113.5")
	dst := netip.MustParseAddr("192.0.2.1")
	raw := buildIPv4UDP(t, src, dst, 5000, 80, []byte("hello"))

	conn := newFakeTunnelConn(raw)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	l := daemon.NewLoop(conn, reg, "eth0", collector, nil)

	runUntilDrained(t, l, conn)

	if n := conn.writtenCount(); n != 1 {
		t.Fatalf("writtenCount = %d, want 1", n)
	}

	out := conn.writtenPacket(0)
	var ip6 wire.IPv6Header
	if err := wire.UnmarshalIPv6(out, &ip6); err != nil {
		t.Fatalf("UnmarshalIPv6: %v", err)
	}
	if ip6.Src != netip.MustParseAddr("2001:db8:9::5") {
		t.Fatalf("translated src = %s, want 2001:db8:9::5", ip6.Src)
	}
	if ip6.Dst != netip.MustParseAddr("64:ff9b::c000:0201") {
		t.Fatalf("translated dst = %s, want 64:ff9b::c000:0201", ip6.Dst)
	}
}

func TestLoopUnregisteredInstanceDropsSilently(t *testing.T) {
	reg := instance.NewRegistry(nil)
	raw := buildIPv4UDP(t, netip.MustParseAddr("203.0.113.5"), netip.MustParseAddr("192.0.2.1"), 1, 2, []byte("x"))

	conn := newFakeTunnelConn(raw)
	collector := metrics.NewCollector(prometheus.NewRegistry())
	l := daemon.NewLoop(conn, reg, "missing", collector, nil)

	runUntilDrained(t, l, conn)

	if n := conn.writtenCount(); n != 0 {
		t.Fatalf("writtenCount = %d, want 0 for an unregistered instance", n)
	}
}

func TestLoopMalformedPacketDropsWithoutPanicking(t *testing.T) {
	reg := newSIITRegistry(t)
	conn := newFakeTunnelConn([]byte{0x01, 0x02, 0x03})
	collector := metrics.NewCollector(prometheus.NewRegistry())
	l := daemon.NewLoop(conn, reg, "eth0", collector, nil)

	runUntilDrained(t, l, conn)

	if n := conn.writtenCount(); n != 0 {
		t.Fatalf("writtenCount = %d, want 0 for a malformed packet", n)
	}
}

func TestLoopRunReturnsReadError(t *testing.T) {
	reg := newSIITRegistry(t)
	wantErr := errors.New("tun device vanished")
	conn := erroringConn{err: wantErr}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	l := daemon.NewLoop(conn, reg, "eth0", collector, nil)

	err := l.Run(context.Background())
	if err == nil || !errors.Is(err, wantErr) {
		t.Fatalf("Run err = %v, want wrapping %v", err, wantErr)
	}
}

func TestLoopRunReturnsNilOnContextCancellation(t *testing.T) {
	reg := newSIITRegistry(t)
	conn := erroringConn{err: io.EOF}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	l := daemon.NewLoop(conn, reg, "eth0", collector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := l.Run(ctx); err != nil {
		t.Fatalf("Run after cancel = %v, want nil", err)
	}
}
