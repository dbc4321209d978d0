// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Generic devices on PCI bus.
package pci

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrAddress = errors.New("bad pci address")

// Configuration header offsets.
const (
	VendorOffset     = 0x00
	DeviceOffset     = 0x02
	CommandOffset    = 0x04
	StatusOffset     = 0x06
	RevisionOffset   = 0x08
	ClassOffset      = 0x0a
	BaseAddrOffset   = 0x10
	SubVendorOffset  = 0x2c
	SubDeviceOffset  = 0x2e
	CapabilityOffset = 0x34
)

type Command uint16

const (
	IOEnable Command = 1 << iota
	MemoryEnable
	BusMasterEnable
	SpecialCycles
	WriteInvalidate
	VgaPaletteSnoop
	Parity
	AddressDataStepping
	SERR
	BackToBackWrite
	INTxEmulationDisable
)

type DeviceClass uint16

const NetworkEthernet DeviceClass = 0x0200

type Capability uint8

const (
	PowerManagement Capability = iota + 1
	AGP
	VitalProductData
	SlotIdentification
	MSI
	CompactPCIHotSwap
	PCIX
	HyperTransport
	VendorSpecific
	DebugPort
	CompactPciCentralControl
	PCIHotPlugController
	SSVID
	AGP3
	SecureDevice
	PCIE
	MSIX
)

type BaseAddressReg uint32

func (b BaseAddressReg) IsMem() bool { return b&(1<<0) == 0 }

func (b BaseAddressReg) Addr() uint32 { return uint32(b &^ 0xf) }

func (b BaseAddressReg) String() string {
	if b == 0 {
		return "{}"
	}
	x := uint32(b)
	tp := "mem"
	loc := ""
	if !b.IsMem() {
		tp = "i/o"
	} else {
		switch (x >> 1) & 3 {
		case 0:
			loc = "32-bit "
		case 2:
			loc = "64-bit "
		default:
			loc = "unknown "
		}
		if x&(1<<3) != 0 {
			loc += "prefetchable "
		}
	}
	return fmt.Sprintf("{%s: %s0x%08x}", tp, loc, b.Addr())
}

type BusAddress struct {
	Domain        uint16
	Bus, Slot, Fn uint8
}

func (a BusAddress) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Slot, a.Fn)
}

// ParseBusAddress accepts DDDD:BB:SS.F or BB:SS.F (domain 0).
func ParseBusAddress(s string) (a BusAddress, err error) {
	var d, b, sl, f uint
	n, _ := fmt.Sscanf(s, "%x:%x:%x.%x", &d, &b, &sl, &f)
	if n != 4 {
		d = 0
		if n, _ = fmt.Sscanf(s, "%x:%x.%x", &b, &sl, &f); n != 3 {
			err = fmt.Errorf("%w: %q", ErrAddress, s)
			return
		}
	}
	if d > 0xffff || b > 0xff || sl > 0x1f || f > 7 {
		err = fmt.Errorf("%w: %q", ErrAddress, s)
		return
	}
	a = BusAddress{Domain: uint16(d), Bus: uint8(b), Slot: uint8(sl), Fn: uint8(f)}
	return
}

type Resource struct {
	Index      uint32 // index of BAR
	Base, Size uint64
	Mem        []byte
}

func (r Resource) String() string {
	return fmt.Sprintf("{%d: 0x%x-0x%x}", r.Index, r.Base, r.Base+r.Size-1)
}

// Device is a function found under sysfs.  Config space reads and
// writes go through the sysfs config file.
type Device struct {
	Addr      BusAddress
	Vendor    uint16
	DeviceID  uint16
	SubVendor uint16
	SubDevice uint16
	Class     DeviceClass
	Resources []Resource

	mu     sync.Mutex
	config *os.File
}

func (d *Device) String() string {
	return fmt.Sprintf("%s %04x:%04x", &d.Addr, d.Vendor, d.DeviceID)
}

// ForeachCap walks the capability list until f returns done.
func (d *Device) ForeachCap(f func(c Capability, offset uint) (done bool)) {
	o := uint(d.ReadConfigUint8(CapabilityOffset)) &^ 3
	// Bound the walk in case of a looping list.
	for i := 0; i < 48 && o >= 0x40 && o != 0xfc; i++ {
		if f(Capability(d.ReadConfigUint8(o)), o) {
			return
		}
		o = uint(d.ReadConfigUint8(o+1)) &^ 3
	}
}

func (d *Device) FindCap(c Capability) (offset uint, found bool) {
	d.ForeachCap(func(x Capability, o uint) bool {
		if found = x == c; found {
			offset = o
		}
		return found
	})
	return
}

// SetCommand sets and clears command register bits.
func (d *Device) SetCommand(set, clear Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := Command(d.configRw(CommandOffset, 0, 2, false))
	d.configRw(CommandOffset, uint(v&^clear|set), 2, true)
}
