// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"fmt"
)

// Family is the PCI id class a device was matched with.  It fixes the
// register BAR, the slow interrupt events, GMII support, the fallback
// chip version and the start sequence.
type Family uint8

const (
	Family8169 Family = iota
	Family8168
	Family8101
	nFamily
)

var familyNames = [...]string{
	Family8169: "8169",
	Family8168: "8168",
	Family8101: "8101",
}

func (f Family) String() string {
	if f >= nFamily {
		return fmt.Sprintf("family %d", int(f))
	}
	return familyNames[f]
}

type familyInfo struct {
	// PCI BAR holding the registers.
	bar            int
	eventSlow      uint16
	gmii           bool
	msi            bool
	defaultVersion Version
	hwStart        func(d *Dev)
}

var familyInfos [nFamily]familyInfo

func init() {
	familyInfos = [...]familyInfo{
		Family8169: {
			bar:            1,
			eventSlow:      SYSErr | LinkChg | RxOverflow | RxFIFOOver,
			gmii:           true,
			defaultVersion: Ver01,
			hwStart:        (*Dev).hwStart8169,
		},
		Family8168: {
			bar:            2,
			eventSlow:      SYSErr | LinkChg | RxOverflow,
			gmii:           true,
			msi:            true,
			defaultVersion: Ver11,
			hwStart:        (*Dev).hwStart8168,
		},
		Family8101: {
			bar:            2,
			eventSlow:      SYSErr | LinkChg | RxOverflow | RxFIFOOver | PCSTimeout,
			msi:            true,
			defaultVersion: Ver13,
			hwStart:        (*Dev).hwStart8101,
		},
	}
}

// Bar is the PCI resource index of the register window.
func (f Family) Bar() int { return familyInfos[f].bar }

// DefaultVersion is used when the chip id is not in the table.
func (f Family) DefaultVersion() Version { return familyInfos[f].defaultVersion }

// GMII reports whether the PHY supports gigabit.
func (f Family) GMII() bool { return familyInfos[f].gmii }

const (
	vendorRealtek = 0x10ec
	vendorDlink   = 0x1186
	vendorAT      = 0x1259
	vendorLinksys = 0x1737
	anyID         = 0xffff
)

type pciID struct {
	vendor, device       uint16
	subVendor, subDevice uint16
	family               Family
}

// Scanned in order; first match wins.
var pciIDs = []pciID{
	{vendorRealtek, 0x8129, anyID, anyID, Family8169},
	{vendorRealtek, 0x8136, anyID, anyID, Family8101},
	{vendorRealtek, 0x8161, anyID, anyID, Family8168},
	{vendorRealtek, 0x8167, anyID, anyID, Family8169},
	{vendorRealtek, 0x8168, anyID, anyID, Family8168},
	{vendorRealtek, 0x8169, anyID, anyID, Family8169},
	{vendorDlink, 0x4300, vendorDlink, 0x4b10, Family8168},
	{vendorDlink, 0x4300, anyID, anyID, Family8169},
	{vendorDlink, 0x4302, anyID, anyID, Family8169},
	{vendorAT, 0xc107, anyID, anyID, Family8169},
	{0x16ec, 0x0116, anyID, anyID, Family8169},
	{vendorLinksys, 0x1032, anyID, 0x0024, Family8169},
	{0x0001, 0x8168, anyID, 0x2410, Family8101},
}

func match(want, got uint16) bool { return want == anyID || want == got }

// LookupFamily matches PCI ids against the supported device table.
func LookupFamily(vendor, device, subVendor, subDevice uint16) (f Family, ok bool) {
	for i := range pciIDs {
		p := &pciIDs[i]
		if p.vendor == vendor && p.device == device &&
			match(p.subVendor, subVendor) && match(p.subDevice, subDevice) {
			return p.family, true
		}
	}
	return
}

// ConfigSpace is read/write access to the device's PCI configuration header.
type ConfigSpace interface {
	ReadConfigUint8(o uint) uint8
	ReadConfigUint16(o uint) uint16
	ReadConfigUint32(o uint) uint32
	WriteConfigUint8(o uint, v uint8)
	WriteConfigUint16(o uint, v uint16)
	WriteConfigUint32(o uint, v uint32)
}

// PCI configuration header offsets and bits.
const (
	pciCommand      = 0x04
	pciStatus       = 0x06
	pciCacheLine    = 0x0c
	pciLatencyTimer = 0x0d

	pciCommandParity = 1 << 6
	pciCommandSERR   = 1 << 8

	pciStatusSigTargetAbort = 1 << 11
	pciStatusRecTargetAbort = 1 << 12
	pciStatusRecMasterAbort = 1 << 13
	pciStatusSigSystemError = 1 << 14
	pciStatusDetectedParity = 1 << 15
	pciStatusErrors         = pciStatusDetectedParity | pciStatusSigSystemError | pciStatusRecMasterAbort | pciStatusRecTargetAbort | pciStatusSigTargetAbort
)

// pciError recovers from a system error interrupt.  Status error bits
// are write 1 to clear.
func (d *Dev) pciError() {
	c := d.pci
	if c == nil {
		d.scheduleTask(taskResetPending)
		return
	}
	cmd := c.ReadConfigUint16(pciCommand)
	status := c.ReadConfigUint16(pciStatus)
	d.logf("err: %s: pci error (cmd = 0x%04x, status = 0x%04x)", d, cmd, status)

	c.WriteConfigUint16(pciCommand, cmd|pciCommandSERR|pciCommandParity)
	c.WriteConfigUint16(pciStatus, status&pciStatusErrors)

	// The chip may not handle 64 bit addresses after a dac failure.
	if d.cpCmd&PCIDAC != 0 && d.rx.cur == 0 {
		d.cpCmd &^= PCIDAC
		CPlusCmd.set(d, d.cpCmd)
		d.logf("warning: %s: disabling pci dac", d)
	}

	d.hwReset()
	d.scheduleTask(taskResetPending)
}

// PCI express capability.
const (
	pciCapabilityList = 0x34
	pciCapIDExpress   = 0x10
	pciExpDevCtl      = 0x08

	pciExpDevCtlReadRq     = 0x7000
	pciExpDevCtlReadRq512B = 0x2000
	pciExpDevCtlNoSnoop    = 0x0800
	maxReadRequestShift    = 12
)

// pcieCap returns the offset of the PCI express capability or 0.
func (d *Dev) pcieCap() uint {
	c := d.pci
	if c == nil {
		return 0
	}
	o := uint(c.ReadConfigUint8(pciCapabilityList)) &^ 3
	// Bounded in case of a looping list.
	for i := 0; o != 0 && i < 48; i++ {
		if c.ReadConfigUint8(o) == pciCapIDExpress {
			return o
		}
		o = uint(c.ReadConfigUint8(o+1)) &^ 3
	}
	return 0
}

func (d *Dev) isPCIe() bool { return d.pcieCap() != 0 }

// txPerformanceTweak sets the maximum read request size.
func (d *Dev) txPerformanceTweak(force uint16) {
	o := d.pcieCap()
	if o == 0 {
		return
	}
	ctl := d.pci.ReadConfigUint16(o + pciExpDevCtl)
	if ctl&pciExpDevCtlReadRq != force {
		d.pci.WriteConfigUint16(o+pciExpDevCtl, ctl&^pciExpDevCtlReadRq|force)
	}
}

func (d *Dev) pcieDevCtlSet(bits uint16) {
	if o := d.pcieCap(); o != 0 {
		d.pci.WriteConfigUint16(o+pciExpDevCtl, d.pci.ReadConfigUint16(o+pciExpDevCtl)|bits)
	}
}
