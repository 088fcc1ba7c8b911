package nat64

import (
	"errors"
	"net/netip"
	"sync"
)

// ErrPool4Empty indicates a protocol's pool4 partition has no configured
// entries.
var ErrPool4Empty = errors.New("pool4 has no entries for this protocol")

// Pool4Entry is one (IPv4 address, port range) pair available to a given
// protocol (spec.md §3: "Pool4 ... a set of (IPv4 address, port-range,
// protocol) triples").
type Pool4Entry struct {
	Addr     netip.Addr
	PortMin  uint16
	PortMax  uint16
	refCount int
}

// Pool4 partitions its entries by protocol and tracks, per address, how
// many active bindings reference it — the "MarkBusy/ReleaseIfIdle"
// lifecycle original_source/pool4.c uses to decide when an address can be
// dropped from a running instance without orphaning live sessions.
type Pool4 struct {
	mu      sync.Mutex
	entries [numProtocols][]Pool4Entry
	cursor  [numProtocols]int
}

// NewPool4 builds an empty pool; entries are added with Add.
func NewPool4() *Pool4 {
	return &Pool4{}
}

// Add registers addr's port range [portMin, portMax] for proto.
func (p *Pool4) Add(proto Protocol, entry Pool4Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[proto] = append(p.entries[proto], entry)
}

// MarkBusy increments the reference count of the pool4 entry owning addr
// for proto. Called when a BIB is created so a concurrent configuration
// update knows not to reclaim this address.
func (p *Pool4) MarkBusy(proto Protocol, addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.entries[proto] {
		if p.entries[proto][i].Addr == addr {
			p.entries[proto][i].refCount++
			return
		}
	}
}

// ReleaseIfIdle decrements the reference count of the pool4 entry owning
// addr for proto, called when a BIB referencing it is deleted.
func (p *Pool4) ReleaseIfIdle(proto Protocol, addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.entries[proto] {
		if p.entries[proto][i].Addr == addr && p.entries[proto][i].refCount > 0 {
			p.entries[proto][i].refCount--
			return
		}
	}
}

// InUse reports whether any address in proto's partition currently has a
// nonzero reference count.
func (p *Pool4) InUse(proto Protocol) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries[proto] {
		if e.refCount > 0 {
			return true
		}
	}
	return false
}

// entriesSnapshot returns a copy of proto's entries and advances the
// round-robin cursor past the returned starting point, per spec.md §4.2:
// "Iterate the pool4 addresses in round-robin from the last-used
// cursor." Pool4 cursor advancement is itself approximate under
// contention (spec.md §5), which is acceptable.
func (p *Pool4) entriesSnapshot(proto Protocol) ([]Pool4Entry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.entries[proto]
	start := p.cursor[proto]
	if len(entries) > 0 {
		p.cursor[proto] = (start + 1) % len(entries)
	}
	return entries, start
}
