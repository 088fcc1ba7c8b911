//go:build linux

package netio

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// tunDevicePath is the character device every TUN interface is cloned
// from (see Linux Documentation/networking/tuntap.txt).
const tunDevicePath = "/dev/net/tun"

// ifReq mirrors the kernel's struct ifreq layout for the TUNSETIFF
// ioctl: a fixed interface-name buffer followed by the ifr_flags union
// member this request uses. golang.org/x/sys/unix has no TUN-specific
// wrapper, so the struct is hand-laid-out and the ioctl issued directly
// via unix.Syscall.
type ifReq struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq) == 40 on amd64/arm64
}

// TUNConn is a TunnelConn backed by a Linux TUN device: every
// ReadPacket/WritePacket call moves one full IP packet with no
// link-layer framing (IFF_NO_PI), matching what
// internal/translate.Translate expects.
type TUNConn struct {
	file *os.File
	name string

	mu     sync.Mutex
	closed bool
}

// OpenTUN clones /dev/net/tun and attaches it to the interface name,
// creating it if it does not already exist. An empty name lets the
// kernel assign the next tunN.
func OpenTUN(name string) (*TUNConn, error) {
	fd, err := unix.Open(tunDevicePath, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", tunDevicePath, err)
	}

	var req ifReq
	copy(req.name[:], name)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if err := ioctlTUNSETIFF(fd, &req); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %s: %w", name, err)
	}

	actual := strings.TrimRight(string(req.name[:]), "\x00")

	return &TUNConn{
		file: os.NewFile(uintptr(fd), actual),
		name: actual,
	}, nil
}

func ioctlTUNSETIFF(fd int, req *ifReq) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(req)))
	if errno != 0 {
		return errno
	}
	return nil
}

// Name returns the interface name the kernel assigned (useful when the
// caller requested auto-assignment with an empty name).
func (c *TUNConn) Name() string {
	return c.name
}

// ReadPacket reads one full IP packet from the TUN device into buf.
func (c *TUNConn) ReadPacket(buf []byte) (int, error) {
	n, err := c.file.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("read tun packet on %s: %w", c.name, err)
	}
	return n, nil
}

// WritePacket writes one full IP packet to the TUN device.
func (c *TUNConn) WritePacket(buf []byte) error {
	if _, err := c.file.Write(buf); err != nil {
		return fmt.Errorf("write tun packet on %s: %w", c.name, err)
	}
	return nil
}

// Close releases the underlying file descriptor.
func (c *TUNConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.file.Close(); err != nil {
		return fmt.Errorf("close tun %s: %w", c.name, err)
	}
	return nil
}
