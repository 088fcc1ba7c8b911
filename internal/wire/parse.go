package wire

import (
	"errors"
	"fmt"
)

// ErrUnknownVersion indicates the first nibble of buf is neither 4 nor 6.
var ErrUnknownVersion = errors.New("buffer is not an ipv4 or ipv6 packet")

// ParsePacket decodes buf into p, detecting the IP version from the first
// nibble and populating Family, the fixed header, the extension header
// chain (IPv6 only), and the transport offset/protocol/fragment state.
//
// buf is not copied: p.Buf must already contain (or be set to reference)
// the packet bytes before calling, typically via GetPacket followed by
// copying the wire bytes into p.Buf[:n] and setting p.Len = n.
func ParsePacket(p *Packet) error {
	buf := p.Data()
	if len(buf) < 1 {
		return fmt.Errorf("parse packet: empty buffer: %w", ErrUnknownVersion)
	}

	switch buf[0] >> 4 {
	case 4:
		return parseIPv4(p, buf)
	case 6:
		return parseIPv6(p, buf)
	default:
		return fmt.Errorf("parse packet: version nibble %d: %w", buf[0]>>4, ErrUnknownVersion)
	}
}

func parseIPv4(p *Packet, buf []byte) error {
	p.Family = FamilyV4

	if err := UnmarshalIPv4(buf, &p.IPv4); err != nil {
		return err
	}

	p.TransportProtocol = p.IPv4.Protocol
	p.TransportOffset = IPv4HeaderLen
	p.IsFragment = p.IPv4.IsFragment()
	p.IsFirstFragment = p.IPv4.IsFirstFragment()

	return nil
}

func parseIPv6(p *Packet, buf []byte) error {
	p.Family = FamilyV6

	if err := UnmarshalIPv6(buf, &p.IPv6); err != nil {
		return err
	}

	chain, err := WalkExtensionHeaders(buf, IPv6HeaderLen, p.IPv6.NextHeader)
	if err != nil {
		return err
	}
	p.Chain = chain

	p.TransportProtocol = chain.UpperProtocol
	p.TransportOffset = chain.UpperOffset
	p.IsFragment = chain.HasFragment

	if chain.HasFragment {
		var frag FragmentHeader
		if err := UnmarshalFragmentHeader(buf[chain.FragmentOffset:], &frag); err != nil {
			return err
		}
		p.IsFirstFragment = frag.IsFirstFragment()
	} else {
		p.IsFirstFragment = true
	}

	return nil
}
