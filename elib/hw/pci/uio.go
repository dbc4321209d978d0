// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

var sysBusPciDriversPath = "/sys/bus/pci/drivers"

const (
	uioDriver = "uio_pci_generic"
	// Wait rechecks its context this often.
	waitPoll = 100 * time.Millisecond
)

var ErrNoUio = errors.New("no uio device")

func sysfsWrite(path, format string, args ...interface{}) error {
	fn := filepath.Join(sysBusPciDriversPath, path)
	f, err := os.OpenFile(fn, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, format, args...)
	return err
}

// Uio is a device bound to uio_pci_generic.  Reads of /dev/uioN block
// until the device interrupts.
type Uio struct {
	d     *Device
	minor uint32
	f     *os.File
}

// Unbind detaches the kernel driver currently bound to d, if any.
func (d *Device) Unbind() error {
	link, err := os.Readlink(d.SysfsPath("driver"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	name := filepath.Base(link)
	return sysfsWrite(filepath.Join(name, "unbind"), "%s", &d.Addr)
}

// BindUio hands d to uio_pci_generic.  It fails with ErrNoUio until
// the kernel has created the uio node, so callers retry.
func (d *Device) BindUio() (u *Uio, err error) {
	if link, e := os.Readlink(d.SysfsPath("driver")); e != nil || filepath.Base(link) != uioDriver {
		if err = d.Unbind(); err != nil {
			return
		}
		// new_id binds every matching device; an existing id is EEXIST.
		if err = sysfsWrite(filepath.Join(uioDriver, "new_id"), "%04x %04x", d.Vendor, d.DeviceID); err != nil &&
			!errors.Is(err, unix.EEXIST) {
			return
		}
		sysfsWrite(filepath.Join(uioDriver, "bind"), "%s", &d.Addr)
	}

	u = &Uio{d: d}
	if u.minor, err = d.uioMinor(); err != nil {
		return nil, err
	}
	if u.f, err = os.OpenFile(fmt.Sprintf("/dev/uio%d", u.minor), os.O_RDONLY, 0); err != nil {
		return nil, err
	}
	return
}

func (d *Device) uioMinor() (minor uint32, err error) {
	es, err := os.ReadDir(d.SysfsPath("uio"))
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", &d.Addr, ErrNoUio, err)
	}
	for _, e := range es {
		if _, err = fmt.Sscanf(e.Name(), "uio%d", &minor); err == nil {
			return
		}
	}
	return 0, fmt.Errorf("%s: %w", &d.Addr, ErrNoUio)
}

func (u *Uio) String() string { return fmt.Sprintf("uio%d", u.minor) }

// Enable unmasks INTx; uio_pci_generic masks it on every interrupt.
func (u *Uio) Enable() { u.d.SetCommand(0, INTxEmulationDisable) }

// Wait blocks until an interrupt or ctx is done.  It returns the
// kernel's running interrupt count.
func (u *Uio) Wait(ctx context.Context) (count uint32, err error) {
	fd := int(u.f.Fd())
	for {
		if err = ctx.Err(); err != nil {
			return
		}
		p := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		var n int
		n, err = unix.Poll(p, int(waitPoll/time.Millisecond))
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		var b [4]byte
		if _, err = u.f.Read(b[:]); err != nil {
			return
		}
		count = binary.LittleEndian.Uint32(b[:])
		return
	}
}

// Close releases the uio node and unbinds the device.
func (u *Uio) Close() (err error) {
	if u.f != nil {
		err = u.f.Close()
		u.f = nil
	}
	if e := sysfsWrite(filepath.Join(uioDriver, "unbind"), "%s", &u.d.Addr); e != nil && err == nil {
		err = e
	}
	return
}
