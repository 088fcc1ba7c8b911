package instance

import (
	"fmt"
	"net/netip"

	"github.com/jool-go/jool/internal/config"
	"github.com/jool-go/jool/internal/nat64"
	"github.com/jool-go/jool/internal/siit"
	"github.com/jool-go/jool/internal/translate"
)

// FromConfig builds the (mode, *siit.Translator, *nat64.Store,
// translate.Config) quadruple Add/Replace need from one declared
// instance's configuration, and registers it under ic.Name.
//
// The Store is nil for an "siit" mode instance: stateless translation
// never consults a BIB/session table (spec.md §3).
func (r *Registry) FromConfig(ic config.InstanceConfig) (*Instance, error) {
	mode, siitXlat, store, cfg, err := buildPieces(ic)
	if err != nil {
		return nil, fmt.Errorf("build instance %q: %w", ic.Name, err)
	}
	return r.Add(ic.Name, mode, siitXlat, store, cfg)
}

// ReplaceFromConfig rebuilds and atomically swaps in a new Instance for
// ic.Name, quiescing the previous one (see Registry.Replace).
func (r *Registry) ReplaceFromConfig(ic config.InstanceConfig) (*Instance, error) {
	mode, siitXlat, store, cfg, err := buildPieces(ic)
	if err != nil {
		return nil, fmt.Errorf("build instance %q: %w", ic.Name, err)
	}
	return r.Replace(ic.Name, mode, siitXlat, store, cfg)
}

func buildPieces(ic config.InstanceConfig) (translate.Mode, *siit.Translator, *nat64.Store, translate.Config, error) {
	mode := translate.ModeSIIT
	if ic.Mode == "nat64" {
		mode = translate.ModeNAT64
	}

	siitXlat, err := buildTranslator(ic)
	if err != nil {
		return 0, nil, nil, translate.Config{}, err
	}

	var store *nat64.Store
	if mode == translate.ModeNAT64 {
		store, err = buildStore(ic)
		if err != nil {
			return 0, nil, nil, translate.Config{}, err
		}
	}

	return mode, siitXlat, store, buildHeaderConfig(ic), nil
}

// buildTranslator assembles the EAM table, pool6 prefix, blacklists, and
// RFC 6791 substitution pool every instance carries regardless of mode —
// NAT64 resolves the same way SIIT does before consulting the BIB
// (spec.md §4.2: "the same address-resolution rules as SIIT govern which
// side is the IPv4 side of a binding").
func buildTranslator(ic config.InstanceConfig) (*siit.Translator, error) {
	entries := make([]siit.EAMEntry, 0, len(ic.EAM))
	for i, e := range ic.EAM {
		p4, err := netip.ParsePrefix(e.IPv4Prefix)
		if err != nil {
			return nil, fmt.Errorf("eam[%d] ipv4_prefix %q: %w", i, e.IPv4Prefix, err)
		}
		p6, err := netip.ParsePrefix(e.IPv6Prefix)
		if err != nil {
			return nil, fmt.Errorf("eam[%d] ipv6_prefix %q: %w", i, e.IPv6Prefix, err)
		}
		entry, err := siit.NewEAMEntry(p4, p6)
		if err != nil {
			return nil, fmt.Errorf("eam[%d]: %w", i, err)
		}
		entries = append(entries, entry)
	}

	var pool6 netip.Prefix
	if ic.Pool6 != "" {
		var err error
		pool6, err = netip.ParsePrefix(ic.Pool6)
		if err != nil {
			return nil, fmt.Errorf("pool6 %q: %w", ic.Pool6, err)
		}
	}

	blacklist4, err := parsePrefixes(ic.Blacklist4)
	if err != nil {
		return nil, fmt.Errorf("blacklist4: %w", err)
	}
	blacklist6, err := parsePrefixes(ic.Blacklist6)
	if err != nil {
		return nil, fmt.Errorf("blacklist6: %w", err)
	}

	rfc6791Pool4 := make([]netip.Addr, 0, len(ic.RFC6791Pool4))
	for i, s := range ic.RFC6791Pool4 {
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("rfc6791_pool4[%d] %q: %w", i, s, err)
		}
		rfc6791Pool4 = append(rfc6791Pool4, a)
	}

	var rfc6791Pool6 netip.Prefix
	if ic.RFC6791Pool6 != "" {
		var err error
		rfc6791Pool6, err = netip.ParsePrefix(ic.RFC6791Pool6)
		if err != nil {
			return nil, fmt.Errorf("rfc6791_pool6 %q: %w", ic.RFC6791Pool6, err)
		}
	}

	hairpin := siit.HairpinIntrinsic
	switch ic.EAMHairpinMode {
	case "off":
		hairpin = siit.HairpinOff
	case "simple":
		hairpin = siit.HairpinSimple
	case "intrinsic", "":
		hairpin = siit.HairpinIntrinsic
	}

	return &siit.Translator{
		EAM:          siit.NewEAMTable(entries),
		Pool6:        pool6,
		Blacklist4:   siit.NewPrefixSet(blacklist4),
		Blacklist6:   siit.NewPrefixSet(blacklist6),
		RFC6791Pool4: rfc6791Pool4,
		RFC6791Pool6: rfc6791Pool6,
		HairpinMode:  hairpin,
	}, nil
}

func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for i, s := range raw {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("[%d] %q: %w", i, s, err)
		}
		out = append(out, p)
	}
	return out, nil
}

var protocolNames = map[string]nat64.Protocol{
	"tcp":  nat64.ProtoTCP,
	"udp":  nat64.ProtoUDP,
	"icmp": nat64.ProtoICMP,
}

// buildStore assembles the NAT64 BIB/session store: a Pool4 partitioned
// by protocol, the PortAllocator wrapping it, and the per-protocol
// timeouts (spec.md §3/§4.2).
func buildStore(ic config.InstanceConfig) (*nat64.Store, error) {
	pool4 := nat64.NewPool4()
	for i, p := range ic.Pool4 {
		proto, ok := protocolNames[p.Protocol]
		if !ok {
			return nil, fmt.Errorf("pool4[%d] protocol %q: unrecognized", i, p.Protocol)
		}
		a, err := netip.ParseAddr(p.Addr)
		if err != nil {
			return nil, fmt.Errorf("pool4[%d] addr %q: %w", i, p.Addr, err)
		}
		pool4.Add(proto, nat64.Pool4Entry{Addr: a, PortMin: p.PortMin, PortMax: p.PortMax})
	}

	ports := nat64.NewPortAllocator(pool4)

	udp, icmp, tcpEst, tcpTrans := ic.Timeouts.Durations()
	timeouts := nat64.Timeouts{UDP: udp, ICMP: icmp, TCPEst: tcpEst, TCPTrans: tcpTrans}

	return nat64.NewStore(ports, timeouts, ic.DropByAddr, ic.DropExternalTCP, nat64.FilterArgs(ic.EffectiveFArgs())), nil
}

// buildHeaderConfig carries the header-synthesis knobs spec.md §6 lists
// straight through into translate.Config.
func buildHeaderConfig(ic config.InstanceConfig) translate.Config {
	return translate.Config{
		ResetTOS:             ic.ResetTOS,
		NewTOS:               ic.NewTOS,
		ResetTrafficClass:    ic.ResetTrafficClass,
		NewTrafficClass:      ic.NewTrafficClass,
		MTUPlateaus:          ic.MTUPlateaus,
		BuildIPv4ID:          ic.BuildIPv4ID,
		DFAlwaysOn:           ic.DFAlwaysOn,
		AmendZeroUDPChecksum: ic.ComputeUDPCsumZero,
	}
}
