// Package translate implements the 6→4 and 4→6 header-rewrite pipelines
// (RFC 7915 Sections 4.1 and 4.2): layer-3 header synthesis, the ICMP
// type/code/pointer mapping tables, MTU calculation for Packet Too
// Big/Fragmentation Needed messages, the checksum delta across the
// address-family boundary, and the depth-bounded recursive translation
// of an ICMP error's embedded original packet.
//
// Both directions are pure functions of a *wire.Packet and a *Context:
// they allocate their output from wire.PacketPool and return a Verdict
// describing what happened, never mutating the input in place.
package translate
