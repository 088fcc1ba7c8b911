package nat64

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// ErrPortsExhausted indicates no free port could be found in any pool4
// address under any parity/range-class relaxation.
var ErrPortsExhausted = errors.New("pool4 port allocation exhausted")

// wellKnownPortBoundary is the port below which ports are considered
// "low" (spec.md §3: "a low/high split around port 1024").
const wellKnownPortBoundary = 1024

func isEven(port uint16) bool { return port%2 == 0 }
func isLow(port uint16) bool  { return port < wellKnownPortBoundary }

// portClass describes which parity/range-class combination a probe is
// currently searching.
type portClass struct {
	even bool
	low  bool
}

// fallbackOrder implements spec.md §4.2's "same parity, then relaxed
// parity; same range class, then relaxed class" — expanded into the
// four-step sequence the "Port allocator parity" testable property
// spells out literally: same class, then flip parity, then flip class,
// then flip both.
func fallbackOrder(innerPort uint16) []portClass {
	base := portClass{even: isEven(innerPort), low: isLow(innerPort)}
	return []portClass{
		base,
		{even: !base.even, low: base.low},
		{even: base.even, low: !base.low},
		{even: !base.even, low: !base.low},
	}
}

// PortAllocator allocates (address, port) pairs from a Pool4, tracking
// which ports are currently in use per (protocol, address).
type PortAllocator struct {
	pool *Pool4

	mu   sync.Mutex
	used map[Protocol]map[netip.Addr]map[uint16]struct{}
}

// NewPortAllocator builds an allocator drawing from pool.
func NewPortAllocator(pool *Pool4) *PortAllocator {
	return &PortAllocator{
		pool: pool,
		used: make(map[Protocol]map[netip.Addr]map[uint16]struct{}),
	}
}

func (a *PortAllocator) usedSet(proto Protocol, addr netip.Addr) map[uint16]struct{} {
	byAddr, ok := a.used[proto]
	if !ok {
		byAddr = make(map[netip.Addr]map[uint16]struct{})
		a.used[proto] = byAddr
	}
	set, ok := byAddr[addr]
	if !ok {
		set = make(map[uint16]struct{})
		byAddr[addr] = set
	}
	return set
}

// Allocate picks an (address, port) pair for proto, trying to preserve
// innerPort's parity and range class first and relaxing in the order
// spec.md §4.2 and §8 specify. Returns ErrPortsExhausted if no pool4
// entry for proto has a free port under any relaxation.
func (a *PortAllocator) Allocate(proto Protocol, innerPort uint16) (netip.Addr, uint16, error) {
	entries, start := a.pool.entriesSnapshot(proto)
	if len(entries) == 0 {
		return netip.Addr{}, 0, fmt.Errorf("allocate %s port: %w", proto, ErrPool4Empty)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, class := range fallbackOrder(innerPort) {
		for i := 0; i < len(entries); i++ {
			entry := entries[(start+i)%len(entries)]
			used := a.usedSet(proto, entry.Addr)

			for port := entry.PortMin; ; port++ {
				if classMatches(port, class) {
					if _, taken := used[port]; !taken {
						used[port] = struct{}{}
						a.pool.MarkBusy(proto, entry.Addr)
						return entry.Addr, port, nil
					}
				}
				if port == entry.PortMax {
					break
				}
			}
		}
	}

	return netip.Addr{}, 0, fmt.Errorf("allocate %s port for inner port %d: %w", proto, innerPort, ErrPortsExhausted)
}

func classMatches(port uint16, class portClass) bool {
	return isEven(port) == class.even && isLow(port) == class.low
}

// Release frees addr:port for proto, making it available for future
// allocations and decrementing the owning pool4 entry's reference count.
func (a *PortAllocator) Release(proto Protocol, addr netip.Addr, port uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if byAddr, ok := a.used[proto]; ok {
		if set, ok := byAddr[addr]; ok {
			delete(set, port)
		}
	}
	a.pool.ReleaseIfIdle(proto, addr)
}

// IsAllocated reports whether addr:port is currently allocated for proto.
func (a *PortAllocator) IsAllocated(proto Protocol, addr netip.Addr, port uint16) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	byAddr, ok := a.used[proto]
	if !ok {
		return false
	}
	_, ok = byAddr[addr][port]
	return ok
}
