// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"time"
)

// Out of band management (DASH) firmware commands.
const (
	oobCmdReset       = 0x00
	oobCmdDriverStart = 0x05
	oobCmdDriverStop  = 0x06
)

// oobOps talks to the management controller on parts that carry one.
type oobOps interface {
	read(d *Dev, mask uint8, reg uint16) uint32
	write(d *Dev, mask uint8, reg uint16, v uint32)
	dash(d *Dev) bool
	driverStart(d *Dev)
	driverStop(d *Dev)
}

// 8168dp: OCPAR/OCPDR window.
type oob8168dp struct{}

func (oob8168dp) read(d *Dev, mask uint8, reg uint16) uint32 {
	OCPAR.set(d, uint32(mask&0xf)<<12|uint32(reg&0xfff))
	if d.waitHigh(ocparCond, 100*time.Microsecond, 20) {
		return OCPDR.get(d)
	}
	return ^uint32(0)
}

func (oob8168dp) write(d *Dev, mask uint8, reg uint16, v uint32) {
	OCPDR.set(d, v)
	OCPAR.set(d, ocparFlag|uint32(mask&0xf)<<12|uint32(reg&0xfff))
	d.waitLow(ocparCond, 100*time.Microsecond, 20)
}

func (o oob8168dp) statusReg(d *Dev) uint16 {
	if d.profile.Version == Ver31 {
		return 0xb8
	}
	return 0x10
}

func (o oob8168dp) dash(d *Dev) bool {
	return o.read(d, 0xf, o.statusReg(d))&0x00008000 != 0
}

func (o oob8168dp) notify(d *Dev, cmd uint32) {
	d.eriWrite(0xe8, eriarMask0001, cmd, eriarExgmac)
	o.write(d, 0x1, 0x30, 0x00000001)
}

func (o oob8168dp) ready() *cond {
	return &cond{"ocp read", func(d *Dev) bool {
		return o.read(d, 0xf, o.statusReg(d))&0x00000800 != 0
	}}
}

func (o oob8168dp) driverStart(d *Dev) {
	o.notify(d, oobCmdDriverStart)
	d.waitHigh(o.ready(), 10*time.Millisecond, 10)
}

func (o oob8168dp) driverStop(d *Dev) {
	o.notify(d, oobCmdDriverStop)
	d.waitLow(o.ready(), 10*time.Millisecond, 10)
}

// 8168ep: OOB registers through ERI.
type oob8168ep struct{}

func (oob8168ep) read(d *Dev, mask uint8, reg uint16) uint32 {
	return d.eriRead(int(reg), eriarOob)
}

func (oob8168ep) write(d *Dev, mask uint8, reg uint16, v uint32) {
	d.eriWrite(int(reg), uint32(mask&0xf)<<eriarMaskShift, v, eriarOob)
}

func (o oob8168ep) dash(d *Dev) bool {
	return o.read(d, 0xf, 0x128)&0x00000001 != 0
}

func (o oob8168ep) ready() *cond {
	return &cond{"ep ocp read", func(d *Dev) bool {
		return o.read(d, 0xf, 0x124)&0x00000001 != 0
	}}
}

var ocpTxCond = &cond{"ocp tx", func(d *Dev) bool { return IBISR0.get(d)&0x02 != 0 }}

func (o oob8168ep) stopCmac(d *Dev) {
	IBCR2.set(d, IBCR2.get(d)&^0x01)
	d.waitLow(ocpTxCond, 50*time.Millisecond, 2000)
	IBISR0.set(d, IBISR0.get(d)|0x20)
	IBCR0.set(d, IBCR0.get(d)&^0x01)
}

func (o oob8168ep) driverStart(d *Dev) {
	o.write(d, 0x01, 0x180, oobCmdDriverStart)
	o.write(d, 0x01, 0x30, o.read(d, 0x01, 0x30)|0x01)
	d.waitHigh(o.ready(), 10*time.Millisecond, 10)
}

func (o oob8168ep) driverStop(d *Dev) {
	o.stopCmac(d)
	o.write(d, 0x01, 0x180, oobCmdDriverStop)
	o.write(d, 0x01, 0x30, o.read(d, 0x01, 0x30)|0x01)
	d.waitLow(o.ready(), 10*time.Millisecond, 10)
}

// checkDash reports whether a management controller owns the port.
func (d *Dev) checkDash() bool {
	if o := d.profile.oob; o != nil {
		return o.dash(d)
	}
	return false
}

func (d *Dev) driverStart() {
	if d.dash {
		d.profile.oob.driverStart(d)
	}
}

func (d *Dev) driverStop() {
	if d.dash {
		d.profile.oob.driverStop(d)
	}
}
