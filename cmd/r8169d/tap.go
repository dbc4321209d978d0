// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"fmt"
	"net"
	"os"
	"strings"
	"unsafe"

	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

type ifReq struct {
	Name  [16]byte
	Flags uint16
	pad   [8]byte
}

// tap is the kernel side of a port.  Frames carry a vnet header in both
// directions.
type tap struct {
	name string
	f    *os.File
	link netlink.Link
}

func openTap(name string) (t *tap, err error) {
	fd, err := unix.Open("/dev/net/tun", os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	var req ifReq
	req.Flags = uint16(unix.IFF_TAP | unix.IFF_NO_PI | unix.IFF_VNET_HDR)
	copy(req.Name[:], name)
	_, _, e := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&req)))
	if e != 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("%s: TUNSETIFF: %w", name, e)
	}
	// Non-blocking so Close interrupts a pending Read.
	if err = unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, err
	}
	t = &tap{
		name: strings.TrimRight(string(req.Name[:]), "\x00"),
		f:    os.NewFile(uintptr(fd), "/dev/net/tun"),
	}
	if t.link, err = netlink.LinkByName(t.name); err != nil {
		t.f.Close()
		return nil, fmt.Errorf("%s: %w", t.name, err)
	}
	return t, nil
}

func (t *tap) String() string { return t.name }

func (t *tap) control(f func(fd int) error) (err error) {
	rc, err := t.f.SyscallConn()
	if err != nil {
		return
	}
	if e := rc.Control(func(fd uintptr) { err = f(int(fd)) }); e != nil {
		err = e
	}
	return
}

// tapOffloads are what the kernel may hand us given the device features.
func tapOffloads(f r8169.Features) (o int) {
	if f&r8169.FeatureTxCsum != 0 {
		o |= unix.TUN_F_CSUM
		if f&r8169.FeatureTSO != 0 {
			o |= unix.TUN_F_TSO4 | unix.TUN_F_TSO6
		}
	}
	return
}

func (t *tap) SetOffload(f r8169.Features) error {
	return t.control(func(fd int) error {
		return unix.IoctlSetInt(fd, unix.TUNSETOFFLOAD, tapOffloads(f))
	})
}

func (t *tap) SetCarrier(up bool) error {
	v := 0
	if up {
		v = 1
	}
	return t.control(func(fd int) error {
		return unix.IoctlSetPointerInt(fd, unix.TUNSETCARRIER, v)
	})
}

// Configure matches the kernel interface to the device and brings it up.
func (t *tap) Configure(mtu int, mac net.HardwareAddr) (err error) {
	if err = netlink.LinkSetMTU(t.link, mtu); err != nil {
		return fmt.Errorf("%s: mtu %d: %w", t, mtu, err)
	}
	if err = netlink.LinkSetHardwareAddr(t.link, mac); err != nil {
		return fmt.Errorf("%s: address %s: %w", t, mac, err)
	}
	if err = netlink.LinkSetUp(t.link); err != nil {
		return fmt.Errorf("%s: up: %w", t, err)
	}
	return
}

func (t *tap) Read(b []byte) (int, error)  { return t.f.Read(b) }
func (t *tap) Write(b []byte) (int, error) { return t.f.Write(b) }

func (t *tap) Close() error {
	netlink.LinkSetDown(t.link)
	return t.f.Close()
}
