// Package siit implements the stateless address translator: the EAM
// (Explicit Address Mapping) table, RFC 6052 pool6 synthesis, the
// blacklist/must-not-translate accept-set, RFC 6791 source substitution
// for otherwise-untranslatable ICMP error sources, and the EAM hairpinning
// decision.
//
// Every function here is pure over an immutable Translator snapshot; the
// read-mostly config pattern matches gobfd's session manager, which reads
// its configuration through an atomic snapshot rather than locking on
// every packet.
package siit
