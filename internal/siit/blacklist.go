package siit

import "net/netip"

// -------------------------------------------------------------------------
// Blacklist / Must-Not-Translate Accept-Set — spec.md §4.1
// -------------------------------------------------------------------------

// PrefixSet is an unordered collection of prefixes queried only for
// membership (not longest-prefix-match), used for the blacklist and the
// built-in must-not-translate scopes.
type PrefixSet struct {
	prefixes []netip.Prefix
}

// NewPrefixSet builds a PrefixSet from prefixes.
func NewPrefixSet(prefixes []netip.Prefix) PrefixSet {
	return PrefixSet{prefixes: prefixes}
}

// Contains reports whether any prefix in the set contains addr.
func (s PrefixSet) Contains(address netip.Addr) bool {
	for _, p := range s.prefixes {
		if p.Contains(address) {
			return true
		}
	}
	return false
}

// mustNotTranslate4 lists the built-in IPv4 scopes this-host, loopback,
// link-local, broadcast, and multicast never translate into (spec.md §4.1: "a
// 'must-not-translate' set (local/broadcast/link-local scopes)").
var mustNotTranslate4 = NewPrefixSet([]netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("224.0.0.0/4"),
})

// mustNotTranslate6 lists the built-in IPv6 scopes that never translate.
var mustNotTranslate6 = NewPrefixSet([]netip.Prefix{
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
})
