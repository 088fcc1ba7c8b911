package netio

// PacketSource is anything jool-go can read raw IP packets from: a TUN
// device in production, or a channel-backed fake in tests. Each returned
// slice is one full IP datagram (no link-layer framing), matching what
// internal/translate.Translate expects as its raw argument.
type PacketSource interface {
	ReadPacket(buf []byte) (int, error)
}

// PacketSink is anything jool-go can write a translated IP packet back
// out to. Implementations own their own framing (a TUN device prepends
// nothing; an overlay sink might).
type PacketSink interface {
	WritePacket(buf []byte) error
}

// TunnelConn combines PacketSource and PacketSink: the common case where
// one descriptor serves both directions (a TUN file descriptor).
type TunnelConn interface {
	PacketSource
	PacketSink
	Close() error
}
