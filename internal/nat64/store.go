package nat64

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoBinding is returned by Lookup4to6 when no BIB exists for the
// external (IPv4) side of a protocol and the store's drop-by-addr policy
// refuses to create one (spec.md §4.2: "Inbound flows with no matching
// BIB MAY be dropped ... depending on the 'drop by addr' policy").
var ErrNoBinding = errors.New("nat64: no binding for inbound flow")

// ErrExternalTCPDropped is returned by Lookup4to6 when a V4-initiated TCP
// packet targets a session that has never seen the inside's SYN (still
// in V4_INIT) and the store's drop-external-tcp policy refuses it
// (spec.md §4.2: "drop a V4-initiated packet for a session still in
// V4_INIT unless drop-external-tcp is disabled").
var ErrExternalTCPDropped = errors.New("nat64: external tcp packet dropped by drop-external-tcp policy")

// ErrIllegalTCPTransition is returned by ApplyTCP when the event observed
// is not admissible from the session's current TCP state (spec.md §4.2).
var ErrIllegalTCPTransition = errors.New("nat64: illegal tcp state transition")

// Timeouts holds the per-protocol/per-state session lifetimes (spec.md
// §4.2: "timer for each state uses a per-state timeout (UDP, ICMP,
// TCP-EST, TCP-TRANS)").
type Timeouts struct {
	UDP      time.Duration
	ICMP     time.Duration
	TCPEst   time.Duration
	TCPTrans time.Duration
}

// protoTable is one protocol's BIB and session indices, guarded by its
// own mutex so translating a TCP packet never blocks a concurrent UDP
// or ICMP lookup (spec.md §5: "Mutations use a per-protocol lock held
// only for the duration of a single lookup-or-insert or delete").
type protoTable struct {
	mu sync.Mutex

	bibByV6 map[TransportAddr]*BIBEntry
	bibByV4 map[TransportAddr]*BIBEntry

	sessByV6 map[fiveTuple6]*Session
	sessByV4 map[fiveTuple4]*Session
}

func newProtoTable() *protoTable {
	return &protoTable{
		bibByV6:  make(map[TransportAddr]*BIBEntry),
		bibByV4:  make(map[TransportAddr]*BIBEntry),
		sessByV6: make(map[fiveTuple6]*Session),
		sessByV4: make(map[fiveTuple4]*Session),
	}
}

// Store is the per-instance BIB/session table set, one protoTable per
// protocol, backed by a shared pool4 port allocator.
type Store struct {
	tables   [numProtocols]*protoTable
	ports    *PortAllocator
	timeouts Timeouts

	// dropByAddr implements "drop-by-addr": when true, an inbound
	// IPv4 packet with no existing BIB is dropped rather than used to
	// create one (spec.md §4.2, §6).
	dropByAddr bool

	// dropExternalTCP implements "drop-external-tcp": when true, a
	// V4-initiated TCP packet for a session still in V4_INIT (the inside
	// has never sent its own SYN) is dropped instead of forwarded or used
	// to open a new session (spec.md §4.2, §6, §8 scenario 2).
	dropExternalTCP bool

	// filterArgs selects which five-tuple fields distinguish one session
	// from another (spec.md §6 "f-args").
	filterArgs FilterArgs
}

// NewStore builds an empty store drawing external addresses from ports.
func NewStore(ports *PortAllocator, timeouts Timeouts, dropByAddr, dropExternalTCP bool, filterArgs FilterArgs) *Store {
	s := &Store{
		ports:           ports,
		timeouts:        timeouts,
		dropByAddr:      dropByAddr,
		dropExternalTCP: dropExternalTCP,
		filterArgs:      filterArgs,
	}
	for i := range s.tables {
		s.tables[i] = newProtoTable()
	}
	return s
}

func (s *Store) timeoutFor(proto Protocol, state TCPState) time.Duration {
	switch proto {
	case ProtoUDP:
		return s.timeouts.UDP
	case ProtoICMP:
		return s.timeouts.ICMP
	case ProtoTCP:
		if state == TCPStateEstablished {
			return s.timeouts.TCPEst
		}
		return s.timeouts.TCPTrans
	default:
		return s.timeouts.UDP
	}
}

// LookupOrCreate6to4 resolves the IPv4 transport address to use as the
// translated source for an outbound (IPv6-originated) packet, creating
// a BIB and/or session as needed (spec.md §4.2). v4Dst is the already
// resolved external IPv4 destination (via pool6/EAM translation, done
// by the caller); now is used to stamp the session's expiry.
func (s *Store) LookupOrCreate6to4(proto Protocol, v6Src, v6Dst, v4Dst TransportAddr, now time.Time) (TransportAddr, *Session, error) {
	t := s.tables[proto]
	t.mu.Lock()
	defer t.mu.Unlock()

	bib, ok := t.bibByV6[v6Src]
	if !ok {
		addr, port, err := s.ports.Allocate(proto, v6Src.Port)
		if err != nil {
			return TransportAddr{}, nil, fmt.Errorf("lookup_or_create_6to4: %w", err)
		}
		v4Src := TransportAddr{Addr: addr, Port: port}
		bib = &BIBEntry{Proto: proto, V6: v6Src, V4: v4Src}
		t.bibByV6[v6Src] = bib
		t.bibByV4[v4Src] = bib
	}

	key := s.filterArgs.mask6(fiveTuple6{Src: v6Src, Dst: v6Dst})
	sess, ok := t.sessByV6[key]
	if !ok {
		sess = &Session{
			Proto: proto,
			V6:    key,
			V4:    s.filterArgs.mask4(fiveTuple4{Src: bib.V4, Dst: v4Dst}),
			BIB:   bib,
		}
		bib.sessions++
		t.sessByV6[key] = sess
		t.sessByV4[sess.V4] = sess
	}
	sess.Expiry = now.Add(s.timeoutFor(proto, sess.TCPState))

	return bib.V4, sess, nil
}

// Lookup4to6 resolves the IPv6 destination to use for an inbound
// (IPv4-originated) packet. The BIB lookup key is (proto, v4Dst): the
// external side is the destination for inbound packets (spec.md §4.2).
// v6Src is the already resolved external IPv6 source (via pool6/EAM
// translation of v4Src, done by the caller).
func (s *Store) Lookup4to6(proto Protocol, v4Src, v4Dst, v6Src TransportAddr, now time.Time) (TransportAddr, *Session, error) {
	t := s.tables[proto]
	t.mu.Lock()
	defer t.mu.Unlock()

	bib, ok := t.bibByV4[v4Dst]
	if !ok {
		if proto == ProtoTCP && s.dropExternalTCP {
			return TransportAddr{}, nil, fmt.Errorf("lookup_4to6 %s %v: %w", proto, v4Dst, ErrExternalTCPDropped)
		}
		if s.dropByAddr {
			return TransportAddr{}, nil, fmt.Errorf("lookup_4to6 %s %v: %w", proto, v4Dst, ErrNoBinding)
		}
		bib = &BIBEntry{Proto: proto, V6: v6Src, V4: v4Dst}
		t.bibByV6[v6Src] = bib
		t.bibByV4[v4Dst] = bib
	}

	// Sessions keep their IPv4 side as (local, remote), the orientation
	// LookupOrCreate6to4 stores, so the inbound source and destination
	// swap places in the key.
	key := s.filterArgs.mask4(fiveTuple4{Src: v4Dst, Dst: v4Src})
	sess, ok := t.sessByV4[key]
	if !ok {
		// A brand-new TCP session always starts in V4_INIT -- exactly the
		// state drop-external-tcp guards -- so a fresh V4-initiated
		// attempt is rejected here before ever being recorded.
		if proto == ProtoTCP && s.dropExternalTCP {
			return TransportAddr{}, nil, fmt.Errorf("lookup_4to6 %s %v: %w", proto, v4Dst, ErrExternalTCPDropped)
		}
		sess = &Session{
			Proto: proto,
			V6:    s.filterArgs.mask6(fiveTuple6{Src: bib.V6, Dst: v6Src}),
			V4:    key,
			BIB:   bib,
		}
		bib.sessions++
		t.sessByV4[key] = sess
		t.sessByV6[sess.V6] = sess
	} else if proto == ProtoTCP && s.dropExternalTCP && sess.TCPState == TCPStateV4Init {
		// The session exists (the inside has not replied yet) but is
		// still V4_INIT: further V4-side packets are external-initiated
		// traffic continuing to probe a connection nobody inside opened.
		return TransportAddr{}, nil, fmt.Errorf("lookup_4to6 %s %v: %w", proto, v4Dst, ErrExternalTCPDropped)
	}
	sess.Expiry = now.Add(s.timeoutFor(proto, sess.TCPState))

	return bib.V6, sess, nil
}

// ApplyTCP advances sess's TCP state machine by event, recomputing its
// expiry from the resulting state's timeout class. No-op for non-TCP
// sessions. Returns ErrIllegalTCPTransition, leaving sess untouched, when
// event is not admissible from sess's current state (spec.md §4.2).
func (s *Store) ApplyTCP(sess *Session, event TCPEvent, now time.Time) error {
	if sess.Proto != ProtoTCP {
		return nil
	}
	next, ok := ApplyTCPEvent(sess.TCPState, event)
	if !ok {
		return fmt.Errorf("apply_tcp %s+%s: %w", sess.TCPState, event, ErrIllegalTCPTransition)
	}
	sess.TCPState = next
	sess.Expiry = now.Add(s.timeoutFor(sess.Proto, sess.TCPState))
	return nil
}

// Expire removes every session whose deadline has passed, and any BIB
// left owning zero sessions as a result (spec.md §4.2).
func (s *Store) Expire(now time.Time) {
	for proto := range s.tables {
		t := s.tables[proto]
		t.mu.Lock()

		for key, sess := range t.sessByV6 {
			if sess.Expiry.After(now) {
				continue
			}
			if sess.Proto == ProtoTCP {
				if next, ok := ApplyTCPEvent(sess.TCPState, TCPEventTimer); ok {
					sess.TCPState = next
				}
			}
			delete(t.sessByV6, key)
			delete(t.sessByV4, sess.V4)
			s.releaseIfOrphaned(t, sess.BIB)
		}

		t.mu.Unlock()
	}
}

// releaseIfOrphaned drops bib's indices once its session count reaches
// zero and frees its IPv4 port back to the allocator. Must be called
// with t.mu held.
func (s *Store) releaseIfOrphaned(t *protoTable, bib *BIBEntry) {
	bib.sessions--
	if bib.sessions > 0 {
		return
	}
	delete(t.bibByV6, bib.V6)
	delete(t.bibByV4, bib.V4)
	s.ports.Release(bib.Proto, bib.V4.Addr, bib.V4.Port)
}
