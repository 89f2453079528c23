//go:build linux

// Package tundev opens and configures the Linux TUN device the engine
// reads decapsulated tunnel traffic from and writes it back to (spec
// §4.7). Grounded on
// infrastructure/PAL/linux/ip/tun_linux.go's ioctl sequence.
package tundev

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifNameSize = 16
	tunSetIff  = 0x400454ca
	iffTun     = 0x0001
	iffNoPI    = 0x1000
)

// ifReq mirrors struct ifreq for the TUNSETIFF ioctl: a 16-byte
// interface name followed by a flags word, padded to the kernel's
// expected request size.
type ifReq struct {
	Name  [ifNameSize]byte
	Flags uint16
	_     [22]byte
}

// Device is an open TUN device plus the interface name the kernel
// assigned it.
type Device struct {
	file   *os.File
	ifName string
}

// Open creates (or attaches to) a TUN interface named ifName ("" lets
// the kernel pick, e.g. "tun0") with IFF_NO_PI framing — every read and
// write is a bare IP packet, no 4-byte protocol-info prefix.
func Open(ifName string) (*Device, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tundev: opening /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.Name[:], ifName)
	req.Flags = iffTun | iffNoPI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunSetIff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = f.Close()
		return nil, fmt.Errorf("tundev: TUNSETIFF ioctl: %w", errno)
	}

	assigned := trimName(req.Name[:])
	return &Device{file: f, ifName: assigned}, nil
}

func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// Name reports the kernel-assigned interface name (e.g. "tun0").
func (d *Device) Name() string { return d.ifName }

// Fd returns the device file descriptor for poll registration.
func (d *Device) Fd() int { return int(d.file.Fd()) }

// Read performs a single non-blocking-friendly read of one IP packet
// into buf; the engine only calls this when poll reports the fd
// readable, so it does not block in practice.
func (d *Device) Read(buf []byte) (int, error) {
	return d.file.Read(buf)
}

// Write writes one IP packet to the device. Short writes are treated as
// errors: the kernel tun driver either accepts a full packet or none.
func (d *Device) Write(buf []byte) (int, error) {
	return d.file.Write(buf)
}

// Close releases the device's file descriptor. The interface itself is
// torn down by Configure's caller invoking "ip link delete" (or it is
// left for the kernel to reap if the process dies first).
func (d *Device) Close() error {
	return d.file.Close()
}

// Configure assigns the negotiated address/netmask/MTU to the interface
// and brings it up, shelling out to the "ip" tool the way
// infrastructure/PAL/linux/ip/ip.go does rather than reimplementing
// netlink.
func Configure(ifName string, addr net.IP, mask net.IPMask, mtu int) error {
	ones, _ := mask.Size()
	cidr := fmt.Sprintf("%s/%d", addr.String(), ones)

	if err := run("ip", "addr", "add", cidr, "dev", ifName); err != nil {
		return err
	}
	if mtu > 0 {
		if err := run("ip", "link", "set", "dev", ifName, "mtu", fmt.Sprintf("%d", mtu)); err != nil {
			return err
		}
	}
	return run("ip", "link", "set", "dev", ifName, "up")
}

// Teardown removes the interface. Safe to call even if it no longer
// exists; errors are returned for the caller to log, not fatal.
func Teardown(ifName string) error {
	return run("ip", "link", "delete", ifName)
}

func run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("tundev: %s %v: %w (%s)", name, args, err, out)
	}
	return nil
}
