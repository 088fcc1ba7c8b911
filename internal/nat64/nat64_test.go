package nat64

import (
	"errors"
	"net/netip"
	"testing"
	"time"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse addr %q: %v", s, err)
	}
	return a
}

func TestTCPStateTransitions(t *testing.T) {
	cases := []struct {
		state  TCPState
		event  TCPEvent
		want   TCPState
		wantOK bool
	}{
		{TCPStateV4Init, TCPEventSYN6, TCPStateEstablished, true},
		{TCPStateV6Init, TCPEventSYN4, TCPStateEstablished, true},
		{TCPStateEstablished, TCPEventFIN4, TCPStateV4FinRcv, true},
		{TCPStateEstablished, TCPEventFIN6, TCPStateV6FinRcv, true},
		{TCPStateV4FinRcv, TCPEventFIN6, TCPStateV4V6FinRcv, true},
		{TCPStateV6FinRcv, TCPEventFIN4, TCPStateV4V6FinRcv, true},
		{TCPStateEstablished, TCPEventRST, TCPStateTrans, true},
		{TCPStateTrans, TCPEventSYN4, TCPStateEstablished, true},
		// unmapped pair self-loops
		{TCPStateV4Init, TCPEventFIN4, TCPStateV4Init, true},
		{TCPStateEstablished, TCPEventData, TCPStateEstablished, true},
		// data before the opposite side's SYN is illegal
		{TCPStateV4Init, TCPEventData, TCPStateV4Init, false},
		{TCPStateV6Init, TCPEventData, TCPStateV6Init, false},
	}
	for _, c := range cases {
		got, ok := ApplyTCPEvent(c.state, c.event)
		if got != c.want || ok != c.wantOK {
			t.Errorf("ApplyTCPEvent(%s, %s) = (%s, %v), want (%s, %v)", c.state, c.event, got, ok, c.want, c.wantOK)
		}
	}
}

func TestTCPStateStringUnknown(t *testing.T) {
	if s := TCPState(200).String(); s == "" {
		t.Fatal("expected non-empty fallback string")
	}
}

func TestPool4RoundRobinAndRefCount(t *testing.T) {
	p := NewPool4()
	a1 := mustAddr(t, "198.51.100.1")
	a2 := mustAddr(t, "198.51.100.2")
	p.Add(ProtoUDP, Pool4Entry{Addr: a1, PortMin: 1024, PortMax: 65535})
	p.Add(ProtoUDP, Pool4Entry{Addr: a2, PortMin: 1024, PortMax: 65535})

	entries, start := p.entriesSnapshot(ProtoUDP)
	if len(entries) != 2 || start != 0 {
		t.Fatalf("unexpected snapshot: %+v start=%d", entries, start)
	}
	_, start2 := p.entriesSnapshot(ProtoUDP)
	if start2 != 1 {
		t.Fatalf("cursor did not advance: %d", start2)
	}

	p.MarkBusy(ProtoUDP, a1)
	if !p.InUse(ProtoUDP) {
		t.Fatal("expected InUse after MarkBusy")
	}
	p.ReleaseIfIdle(ProtoUDP, a1)
	if p.InUse(ProtoUDP) {
		t.Fatal("expected not InUse after release")
	}
}

func TestPortAllocatorPreservesParityAndClass(t *testing.T) {
	pool := NewPool4()
	pool.Add(ProtoUDP, Pool4Entry{Addr: mustAddr(t, "198.51.100.1"), PortMin: 1024, PortMax: 65535})
	alloc := NewPortAllocator(pool)

	addr, port, err := alloc.Allocate(ProtoUDP, 2000) // even, high
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if port%2 != 0 || port < 1024 {
		t.Fatalf("expected even high port, got %d", port)
	}
	if !alloc.IsAllocated(ProtoUDP, addr, port) {
		t.Fatal("expected port marked allocated")
	}
	alloc.Release(ProtoUDP, addr, port)
	if alloc.IsAllocated(ProtoUDP, addr, port) {
		t.Fatal("expected port freed")
	}
}

func TestPortAllocatorFallsBackWhenClassExhausted(t *testing.T) {
	pool := NewPool4()
	addr := mustAddr(t, "198.51.100.1")
	// Single even high port available; request an odd low port so the
	// allocator must relax through the fallback order to find it.
	pool.Add(ProtoUDP, Pool4Entry{Addr: addr, PortMin: 2000, PortMax: 2000})
	alloc := NewPortAllocator(pool)

	gotAddr, gotPort, err := alloc.Allocate(ProtoUDP, 21) // odd, low
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if gotAddr != addr || gotPort != 2000 {
		t.Fatalf("expected fallback to 2000, got %s:%d", gotAddr, gotPort)
	}
}

func TestPortAllocatorExhausted(t *testing.T) {
	pool := NewPool4()
	addr := mustAddr(t, "198.51.100.1")
	pool.Add(ProtoUDP, Pool4Entry{Addr: addr, PortMin: 2000, PortMax: 2000})
	alloc := NewPortAllocator(pool)

	if _, _, err := alloc.Allocate(ProtoUDP, 2000); err != nil {
		t.Fatalf("first allocate: %v", err)
	}
	if _, _, err := alloc.Allocate(ProtoUDP, 2000); err == nil {
		t.Fatal("expected exhaustion on second allocate")
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	pool := NewPool4()
	pool.Add(ProtoTCP, Pool4Entry{Addr: mustAddr(t, "198.51.100.1"), PortMin: 1024, PortMax: 65535})
	pool.Add(ProtoUDP, Pool4Entry{Addr: mustAddr(t, "198.51.100.1"), PortMin: 1024, PortMax: 65535})
	pool.Add(ProtoICMP, Pool4Entry{Addr: mustAddr(t, "198.51.100.1"), PortMin: 0, PortMax: 65535})
	alloc := NewPortAllocator(pool)
	return NewStore(alloc, Timeouts{
		UDP: time.Minute, ICMP: time.Minute, TCPEst: time.Hour, TCPTrans: 4 * time.Second,
	}, true, false, defaultFilterArgs)
}

func TestStoreLookupOrCreate6to4AllocatesAndReuses(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1000, 0)

	v6Src := TransportAddr{Addr: mustAddr(t, "2001:db8::1"), Port: 5000}
	v6Dst := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 80}
	v4Dst := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 80}

	v4Src, sess1, err := s.LookupOrCreate6to4(ProtoTCP, v6Src, v6Dst, v4Dst, now)
	if err != nil {
		t.Fatalf("lookup_or_create_6to4: %v", err)
	}
	if v4Src.Addr != mustAddr(t, "198.51.100.1") {
		t.Fatalf("unexpected allocated v4 addr: %s", v4Src.Addr)
	}

	v4Src2, sess2, err := s.LookupOrCreate6to4(ProtoTCP, v6Src, v6Dst, v4Dst, now)
	if err != nil {
		t.Fatalf("second lookup_or_create_6to4: %v", err)
	}
	if v4Src2 != v4Src {
		t.Fatalf("expected same v4 source on reuse, got %v vs %v", v4Src2, v4Src)
	}
	if sess1 != sess2 {
		t.Fatal("expected same session object on reuse")
	}
}

func TestStoreLookup4to6RoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1000, 0)

	v6Src := TransportAddr{Addr: mustAddr(t, "2001:db8::1"), Port: 5000}
	v6Dst := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 80}
	v4Dst := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 80}

	v4Src, _, err := s.LookupOrCreate6to4(ProtoTCP, v6Src, v6Dst, v4Dst, now)
	if err != nil {
		t.Fatalf("lookup_or_create_6to4: %v", err)
	}

	gotV6Dst, sess, err := s.Lookup4to6(ProtoTCP, v4Dst, v4Src, v6Dst, now)
	if err != nil {
		t.Fatalf("lookup_4to6: %v", err)
	}
	if gotV6Dst != v6Src {
		t.Fatalf("expected lookup_4to6 to resolve back to %v, got %v", v6Src, gotV6Dst)
	}
	if sess.V4.Src != v4Src || sess.V4.Dst != v4Dst {
		t.Fatalf("unexpected session v4 tuple: %+v", sess.V4)
	}
}

func TestStoreLookup4to6DropsWithNoBindingWhenDropByAddr(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1000, 0)

	v4Src := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 12345}
	v4Dst := TransportAddr{Addr: mustAddr(t, "198.51.100.1"), Port: 8080}
	v6Src := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 12345}

	_, _, err := s.Lookup4to6(ProtoTCP, v4Src, v4Dst, v6Src, now)
	if err == nil {
		t.Fatal("expected ErrNoBinding")
	}
}

func TestStoreApplyTCPRejectsIllegalTransition(t *testing.T) {
	s := newTestStore(t)
	sess := &Session{Proto: ProtoTCP, TCPState: TCPStateV4Init}

	err := s.ApplyTCP(sess, TCPEventData, time.Unix(1000, 0))
	if !errors.Is(err, ErrIllegalTCPTransition) {
		t.Fatalf("expected ErrIllegalTCPTransition, got %v", err)
	}
	if sess.TCPState != TCPStateV4Init {
		t.Fatalf("expected state unchanged on rejection, got %s", sess.TCPState)
	}
}

func newTCPTestStore(t *testing.T, dropExternalTCP bool) *Store {
	t.Helper()
	pool := NewPool4()
	pool.Add(ProtoTCP, Pool4Entry{Addr: mustAddr(t, "198.51.100.1"), PortMin: 1024, PortMax: 65535})
	alloc := NewPortAllocator(pool)
	return NewStore(alloc, Timeouts{
		TCPEst: time.Hour, TCPTrans: 4 * time.Second,
	}, false, dropExternalTCP, defaultFilterArgs)
}

func TestStoreLookup4to6DropsExternalTCPWhenEnabled(t *testing.T) {
	s := newTCPTestStore(t, true)

	v4Src := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 12345}
	v4Dst := TransportAddr{Addr: mustAddr(t, "198.51.100.1"), Port: 80}
	v6Src := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 12345}

	_, _, err := s.Lookup4to6(ProtoTCP, v4Src, v4Dst, v6Src, time.Unix(1000, 0))
	if !errors.Is(err, ErrExternalTCPDropped) {
		t.Fatalf("expected ErrExternalTCPDropped, got %v", err)
	}
}

func TestStoreLookup4to6AllowsExternalTCPWhenDisabled(t *testing.T) {
	s := newTCPTestStore(t, false)

	v4Src := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 12345}
	v4Dst := TransportAddr{Addr: mustAddr(t, "198.51.100.1"), Port: 80}
	v6Src := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 12345}

	_, sess, err := s.Lookup4to6(ProtoTCP, v4Src, v4Dst, v6Src, time.Unix(1000, 0))
	if err != nil {
		t.Fatalf("lookup_4to6: %v", err)
	}
	if sess.TCPState != TCPStateV4Init {
		t.Fatalf("expected new session in V4_INIT, got %s", sess.TCPState)
	}
}

func TestStoreLookup4to6AllowsEstablishedDespiteDropExternalTCP(t *testing.T) {
	s := newTCPTestStore(t, true)
	now := time.Unix(1000, 0)

	v6Src := TransportAddr{Addr: mustAddr(t, "2001:db8::1"), Port: 5000}
	v6Dst := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 80}
	v4Dst := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 80}

	v4Src, sess, err := s.LookupOrCreate6to4(ProtoTCP, v6Src, v6Dst, v4Dst, now)
	if err != nil {
		t.Fatalf("lookup_or_create_6to4: %v", err)
	}
	if err := s.ApplyTCP(sess, TCPEventSYN6, now); err != nil {
		t.Fatalf("apply_tcp syn6: %v", err)
	}
	if sess.TCPState != TCPStateEstablished {
		t.Fatalf("expected established, got %s", sess.TCPState)
	}

	// The inside already answered, so the session left V4_INIT; further
	// V4-side packets must be let through despite drop-external-tcp.
	_, sess2, err := s.Lookup4to6(ProtoTCP, v4Dst, v4Src, v6Dst, now)
	if err != nil {
		t.Fatalf("lookup_4to6 on established session: %v", err)
	}
	if sess2 != sess {
		t.Fatal("expected same session object")
	}
}

func TestStoreExpireRemovesSessionAndBIB(t *testing.T) {
	s := newTestStore(t)
	now := time.Unix(1000, 0)

	v6Src := TransportAddr{Addr: mustAddr(t, "2001:db8::1"), Port: 5000}
	v6Dst := TransportAddr{Addr: mustAddr(t, "64:ff9b::c000:201"), Port: 80}
	v4Dst := TransportAddr{Addr: mustAddr(t, "192.0.2.1"), Port: 80}

	v4Src, _, err := s.LookupOrCreate6to4(ProtoUDP, v6Src, v6Dst, v4Dst, now)
	if err != nil {
		t.Fatalf("lookup_or_create_6to4: %v", err)
	}

	s.Expire(now.Add(2 * time.Minute))

	t2 := s.tables[ProtoUDP]
	t2.mu.Lock()
	_, bibStillPresent := t2.bibByV4[v4Src]
	t2.mu.Unlock()
	if bibStillPresent {
		t.Fatal("expected BIB to be removed after its only session expired")
	}

	// The freed port must be allocatable again.
	alloc2, _, err := s.ports.Allocate(ProtoUDP, v6Src.Port)
	if err != nil {
		t.Fatalf("reallocate after expiry: %v", err)
	}
	if alloc2 != v4Src.Addr {
		t.Fatalf("expected to reuse freed address %s, got %s", v4Src.Addr, alloc2)
	}
}
