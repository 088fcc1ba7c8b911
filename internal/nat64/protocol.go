package nat64

import "fmt"

// Protocol identifies which per-protocol BIB/session table a lookup
// targets (spec.md §3: "per protocol (TCP/UDP/ICMP)").
type Protocol uint8

const (
	ProtoTCP Protocol = iota
	ProtoUDP
	ProtoICMP

	numProtocols = int(ProtoICMP) + 1
)

var protocolNames = [...]string{"TCP", "UDP", "ICMP"}

// String returns the protocol's name.
func (p Protocol) String() string {
	if int(p) < len(protocolNames) {
		return protocolNames[p]
	}
	return fmt.Sprintf("Unknown(%d)", uint8(p))
}
