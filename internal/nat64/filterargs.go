package nat64

import "net/netip"

// FilterArgs selects which fields of a session's five-tuple participate
// in session matching (spec.md §6 "f-args", RFC 6146's
// filtering-and-updating behavior). Clearing a bit collapses every value
// of that field onto one session: clearing FilterArgsDstPort, for
// instance, yields address-dependent filtering, where every remote port
// talking to one remote address shares a single session instead of each
// port getting its own. The bit layout matches config.FArgs so a value
// from that package converts directly.
type FilterArgs uint8

const (
	FilterArgsSrcAddr FilterArgs = 1 << iota
	FilterArgsSrcPort
	FilterArgsDstAddr
	FilterArgsDstPort
)

// defaultFilterArgs matches every field, the same as an unconfigured
// f-args: each session is distinguished by its full five-tuple.
const defaultFilterArgs = FilterArgsSrcAddr | FilterArgsSrcPort | FilterArgsDstAddr | FilterArgsDstPort

// mask6 zeroes whichever of t's fields f does not select, so two tuples
// differing only in an unselected field hash to the same session key.
func (f FilterArgs) mask6(t fiveTuple6) fiveTuple6 {
	if f&FilterArgsSrcAddr == 0 {
		t.Src.Addr = netip.Addr{}
	}
	if f&FilterArgsSrcPort == 0 {
		t.Src.Port = 0
	}
	if f&FilterArgsDstAddr == 0 {
		t.Dst.Addr = netip.Addr{}
	}
	if f&FilterArgsDstPort == 0 {
		t.Dst.Port = 0
	}
	return t
}

// mask4 is mask6's IPv4-side counterpart.
func (f FilterArgs) mask4(t fiveTuple4) fiveTuple4 {
	if f&FilterArgsSrcAddr == 0 {
		t.Src.Addr = netip.Addr{}
	}
	if f&FilterArgsSrcPort == 0 {
		t.Src.Port = 0
	}
	if f&FilterArgsDstAddr == 0 {
		t.Dst.Addr = netip.Addr{}
	}
	if f&FilterArgsDstPort == 0 {
		t.Dst.Port = 0
	}
	return t
}
