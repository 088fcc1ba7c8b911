// Package verdict implements the per-packet outcome type every pipeline
// step returns, and the construction of the ICMP error message a failed
// translation emits back toward the original sender.
//
// Modeled on the BFD FSM's pure transition-table style: Verdict and
// Reason are small enums with a String method and a fallback for unknown
// values, and EmitICMPError is a pure function from (original packet,
// reason, detail) to a new wire-ready packet.
package verdict
