// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pci

// Linux PCI code

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/platinasystems/log"
	"github.com/platinasystems/r8169/elib/hw"
	"golang.org/x/sys/unix"
)

var sysBusPciPath string = "/sys/bus/pci/devices"

func (d *Device) SysfsPath(format string, args ...interface{}) (path string) {
	path = filepath.Join(sysBusPciPath, d.Addr.String(), fmt.Sprintf(format, args...))
	return
}

func (d *Device) SysfsReadHexFile(format string, args ...interface{}) (v uint, err error) {
	var f *os.File
	if f, err = os.Open(d.SysfsPath(format, args...)); err != nil {
		return
	}
	defer f.Close()
	if _, err = fmt.Fscanf(f, "0x%x", &v); err != nil {
		err = fmt.Errorf("%s: %w", f.Name(), err)
	}
	return
}

// Open reads the ids and resources of the device at the given address
// and opens its config space.
func Open(a BusAddress) (d *Device, err error) {
	d = &Device{Addr: a}
	var v [5]uint
	for i, name := range []string{"vendor", "device", "subsystem_vendor", "subsystem_device", "class"} {
		if v[i], err = d.SysfsReadHexFile(name); err != nil {
			return nil, err
		}
	}
	d.Vendor = uint16(v[0])
	d.DeviceID = uint16(v[1])
	d.SubVendor = uint16(v[2])
	d.SubDevice = uint16(v[3])
	d.Class = DeviceClass(v[4] >> 8)

	if err = d.findResources(); err != nil {
		return nil, err
	}
	if d.config, err = os.OpenFile(d.SysfsPath("config"), os.O_RDWR, 0); err != nil {
		return nil, err
	}
	return
}

func (d *Device) Close() (err error) {
	for i := range d.Resources {
		if e := d.UnmapResource(uint(i)); e != nil && err == nil {
			err = e
		}
	}
	if d.config != nil {
		if e := d.config.Close(); e != nil && err == nil {
			err = e
		}
		d.config = nil
	}
	return
}

func (d *Device) configRw(offset, vʹ, nBytes uint, isWrite bool) (v uint) {
	var b [4]byte
	var err error
	if isWrite {
		for i := range b {
			b[i] = byte((vʹ >> uint(8*i)) & 0xff)
		}
		_, err = d.config.WriteAt(b[:nBytes], int64(offset))
		v = vʹ
	} else {
		if _, err = d.config.ReadAt(b[:nBytes], int64(offset)); err == nil {
			for i := range b {
				v |= uint(b[i]) << (8 * uint(i))
			}
		} else {
			v = 1<<(8*nBytes) - 1
		}
	}
	if err != nil {
		log.Print("err: ", d.Addr, " config ", offset, ": ", err)
	}
	return
}

func (d *Device) ReadConfigUint32(o uint) (v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint32(d.configRw(o, 0, 4, false))
}
func (d *Device) WriteConfigUint32(o uint, value uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configRw(o, uint(value), 4, true)
}
func (d *Device) ReadConfigUint16(o uint) (v uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint16(d.configRw(o, 0, 2, false))
}
func (d *Device) WriteConfigUint16(o uint, value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configRw(o, uint(value), 2, true)
}
func (d *Device) ReadConfigUint8(o uint) (v uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint8(d.configRw(o, 0, 1, false))
}
func (d *Device) WriteConfigUint8(o uint, value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configRw(o, uint(value), 1, true)
}

// MapResource mmaps a BAR.
func (d *Device) MapResource(bar uint) (m hw.Mem, err error) {
	if bar >= uint(len(d.Resources)) || d.Resources[bar].Size == 0 {
		err = fmt.Errorf("%s: no resource%d", &d.Addr, bar)
		return
	}
	r := &d.Resources[bar]
	if r.Mem != nil {
		return hw.Mem(r.Mem), nil
	}
	var f *os.File
	f, err = os.OpenFile(d.SysfsPath("resource%d", r.Index), os.O_RDWR, 0)
	if err != nil {
		return
	}
	defer f.Close()
	r.Mem, err = unix.Mmap(int(f.Fd()), 0, int(r.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		err = fmt.Errorf("mmap resource%d: %w", r.Index, err)
		return
	}
	m = hw.Mem(r.Mem)
	return
}

func (d *Device) UnmapResource(bar uint) (err error) {
	r := &d.Resources[bar]
	if r.Mem != nil {
		err = unix.Munmap(r.Mem)
		r.Mem = nil
		if err != nil {
			return fmt.Errorf("munmap resource%d: %w", bar, err)
		}
	}
	return
}

// Loop through BARs to find resources.
func (d *Device) findResources() (err error) {
	var f *os.File
	if f, err = os.Open(d.SysfsPath("resource")); err != nil {
		return
	}
	defer f.Close()
	d.Resources, err = parseResources(f)
	return
}

// parseResources reads the "start end flags" lines of a sysfs resource file.
func parseResources(r io.Reader) (res []Resource, err error) {
	s := bufio.NewScanner(r)
	for i := 0; s.Scan(); i++ {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var v [3]uint64
		var n int
		if n, err = fmt.Sscanf(line, "0x%x 0x%x 0x%x", &v[0], &v[1], &v[2]); n != 3 {
			err = fmt.Errorf("resource line %d: %q: short read", i, line)
			return
		}
		size := v[0]
		if v[0] != 0 {
			size = 1 + v[1] - v[0]
		}
		res = append(res, Resource{
			Index: uint32(i),
			Base:  v[0],
			Size:  size,
		})
	}
	err = s.Err()
	return
}
