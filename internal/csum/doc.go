// Package csum implements the Internet checksum (RFC 1071) fold/unfold
// primitives and the RFC 1624-style incremental update used to carry a
// TCP/UDP/ICMP checksum across the IPv4/IPv6 family boundary without
// re-summing the (unchanged) payload.
//
// The raw summing primitives are gvisor's header package (already an
// upstream dependency of the retrieval pack's WireGuard netstack TUN),
// not reimplemented here: header.Checksum folds a byte range into a
// running partial sum, header.PseudoHeaderChecksum computes the
// TCP/UDP/ICMP pseudo-header partial sum for either address family, and
// header.ChecksumCombine performs one's-complement addition of two
// partial sums with end-around carry. This package only adds the
// family-crossing delta arithmetic spec.md §4.6 asks for.
package csum
