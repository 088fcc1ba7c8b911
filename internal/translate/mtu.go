package translate

// ipv6MinMTU is the floor MTU calculation for 4→6 Fragmentation Needed
// messages may never go below (RFC 8200 Section 5).
const ipv6MinMTU = 1280

// minUint32 returns the smallest of its arguments.
func minUint32(values ...uint32) uint32 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// ptbMTU6to4 computes the ICMPv4 Fragmentation Needed MTU from an
// ICMPv6 Packet Too Big message (spec.md §4.5: "resulting MTU =
// min(original_mtu − 20, out_dev_mtu, in_dev_mtu − 20)"), the 20 bytes
// accounting for the header-size difference between families.
func ptbMTU6to4(originalMTU, outDeviceMTU, inDeviceMTU uint32) uint32 {
	return minUint32(originalMTU-20, outDeviceMTU, inDeviceMTU-20)
}

// fragNeededMTU4to6 computes the ICMPv6 Packet Too Big MTU from an
// ICMPv4 Fragmentation Needed message (spec.md §4.5). packetMTU is the
// MTU reported by the ICMPv4 message (0 if the originating router
// predates RFC 1191). innerTotalLength is the total length of the
// packet that triggered the message, used to pick a plateau when
// packetMTU is zero. plateaus must be supplied in descending order.
func fragNeededMTU4to6(packetMTU uint32, innerTotalLength uint16, plateaus []uint32, outDeviceMTU, inDeviceMTU uint32) uint32 {
	if packetMTU == 0 {
		packetMTU = choosePlateau(plateaus, innerTotalLength)
	}

	mtu := minUint32(packetMTU+20, outDeviceMTU, inDeviceMTU+20)
	if mtu < ipv6MinMTU {
		mtu = ipv6MinMTU
	}
	return mtu
}

// choosePlateau returns the largest plateau strictly smaller than
// totalLength, or ipv6MinMTU if none qualifies (spec.md §4.5: "pick the
// largest configured plateau that is strictly smaller than the total
// length of the inner packet; floor at IPv6 min MTU").
func choosePlateau(plateaus []uint32, totalLength uint16) uint32 {
	for _, p := range plateaus {
		if p < uint32(totalLength) {
			return p
		}
	}
	return ipv6MinMTU
}
