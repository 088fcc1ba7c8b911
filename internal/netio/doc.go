// Package netio provides the translator's raw IP packet I/O boundary:
// PacketSource/PacketSink/TunnelConn abstract reading and writing whole
// IP datagrams so internal/daemon.Loop can run against either a real
// Linux TUN device (tun_linux.go) or an injectable fake in tests.
package netio
