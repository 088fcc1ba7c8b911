// Package nat64 implements the stateful binding/session store: the BIB
// (Binding Information Base) and session tables, the pool4 port
// allocator preserving port parity and range class, and the TCP state
// machine that governs session lifetime and admissibility.
//
// The store follows the same per-resource-mutex, map-backed pattern as
// the BFD session manager this module is grounded on, generalized from a
// single flat map to the three-protocol, two-directional-index structure
// spec.md §4.2 and §5 describe.
package nat64
