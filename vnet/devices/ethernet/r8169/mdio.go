// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"time"
)

// A cond is a register bit an indirect bus access polls for completion.
type cond struct {
	name  string
	check func(d *Dev) bool
}

func flagCond(name string, r reg32, flag uint32) *cond {
	return &cond{name, func(d *Dev) bool { return r.get(d)&flag != 0 }}
}

var (
	phyarCond   = flagCond("phyar", PHYAR, phyarFlag)
	ocparCond   = flagCond("ocpar", OCPAR, ocparFlag)
	gphyOcpCond = flagCond("ocp gphy", GPHY_OCP, ocparFlag)
	ephyarCond  = flagCond("ephyar", EPHYAR, ephyarFlag)
	eriarCond   = flagCond("eriar", ERIAR, eriarFlag)
	csiarCond   = flagCond("csiar", CSIAR, csiarFlag)
	efusearCond = flagCond("efusear", EFUSEAR, efusearFlag)
)

// loopWait polls c every delay up to n times until it reads high.
func (d *Dev) loopWait(c *cond, delay time.Duration, n int, high bool) bool {
	for i := 0; i < n; i++ {
		d.delay(delay)
		if c.check(d) == high {
			return true
		}
	}
	v := 0
	if !high {
		v = 1
	}
	d.logf("err: %s: %s == %d (loop: %d, delay: %v)", d, c.name, v, n, delay)
	return false
}

func (d *Dev) waitHigh(c *cond, delay time.Duration, n int) bool {
	return d.loopWait(c, delay, n, true)
}

func (d *Dev) waitLow(c *cond, delay time.Duration, n int) bool {
	return d.loopWait(c, delay, n, false)
}

// mdioOps is the PHY register access method of a chip revision.
// Reads return all ones when the bus does not complete.
type mdioOps interface {
	write(d *Dev, reg int, v uint32)
	read(d *Dev, reg int) uint32
}

// Classic PHYAR access.
type mdio8169 struct{}

func (mdio8169) write(d *Dev, reg int, v uint32) {
	PHYAR.set(d, phyarFlag|uint32(reg&0x1f)<<16|v&0xffff)
	d.waitLow(phyarCond, 25*time.Microsecond, 20)
	// 20us between completion and the next command.
	d.delay(20 * time.Microsecond)
}

func (mdio8169) read(d *Dev, reg int) (v uint32) {
	PHYAR.set(d, uint32(reg&0x1f)<<16)
	v = ^uint32(0)
	if d.waitHigh(phyarCond, 25*time.Microsecond, 20) {
		v = PHYAR.get(d) & 0xffff
	}
	d.delay(20 * time.Microsecond)
	return
}

// 8168dp revision 1: PHY behind the OCP window.
type mdio8168dp1 struct{}

func (mdio8168dp1) access(d *Dev, reg int, data uint32) {
	OCPDR.set(d, data|uint32(reg&ocpdrRegMask)<<ocpdrGphyRegShift)
	OCPAR.set(d, ocparGphyWrite)
	EPHY_RXER_NUM.set(d, 0)
	d.waitLow(ocparCond, time.Millisecond, 100)
}

func (m mdio8168dp1) write(d *Dev, reg int, v uint32) {
	m.access(d, reg, ocpdrWrite|v&ocpdrDataMask)
}

func (m mdio8168dp1) read(d *Dev, reg int) uint32 {
	m.access(d, reg, ocpdrRead)
	d.delay(time.Millisecond)
	OCPAR.set(d, ocparGphyRead)
	EPHY_RXER_NUM.set(d, 0)
	if d.waitHigh(ocparCond, time.Millisecond, 100) {
		return OCPDR.get(d) & ocpdrDataMask
	}
	return ^uint32(0)
}

// 8168dp revision 2: PHYAR gated by an access bit.
type mdio8168dp2 struct{}

const mdio8168dpAccess = 0x00020000

func (mdio8168dp2) write(d *Dev, reg int, v uint32) {
	dash8168dp.andnot(d, mdio8168dpAccess)
	mdio8169{}.write(d, reg, v)
	dash8168dp.or(d, mdio8168dpAccess)
}

func (mdio8168dp2) read(d *Dev, reg int) (v uint32) {
	dash8168dp.andnot(d, mdio8168dpAccess)
	v = mdio8169{}.read(d, reg)
	dash8168dp.or(d, mdio8168dpAccess)
	return
}

func (d *Dev) ocpRegInvalid(reg uint32) bool {
	if reg&0xffff0001 != 0 {
		d.logf("err: %s: invalid ocp reg 0x%x", d, reg)
		return true
	}
	return false
}

func (d *Dev) phyOcpWrite(reg, data uint32) {
	if d.ocpRegInvalid(reg) {
		return
	}
	GPHY_OCP.set(d, ocparFlag|reg<<15|data)
	d.waitLow(gphyOcpCond, 25*time.Microsecond, 10)
}

func (d *Dev) phyOcpRead(reg uint32) uint16 {
	if d.ocpRegInvalid(reg) {
		return 0
	}
	GPHY_OCP.set(d, reg<<15)
	if d.waitHigh(gphyOcpCond, 25*time.Microsecond, 10) {
		return uint16(GPHY_OCP.get(d))
	}
	return ^uint16(0)
}

func (d *Dev) macOcpWrite(reg, data uint32) {
	if d.ocpRegInvalid(reg) {
		return
	}
	OCPDR.set(d, ocparFlag|reg<<15|data)
}

func (d *Dev) macOcpRead(reg uint32) uint16 {
	if d.ocpRegInvalid(reg) {
		return 0
	}
	OCPDR.set(d, reg<<15)
	return uint16(OCPDR.get(d))
}

// 8168g and later: PHY registers are paged through the GPHY OCP window.
// Writing register 0x1f selects the page.
type mdio8168g struct{}

func (mdio8168g) write(d *Dev, reg int, v uint32) {
	if reg == 0x1f {
		if v != 0 {
			d.ocpBase = v << 4
		} else {
			d.ocpBase = ocpStdPhyBase
		}
		return
	}
	if d.ocpBase != ocpStdPhyBase {
		reg -= 0x10
	}
	d.phyOcpWrite(d.ocpBase+uint32(reg*2), v)
}

func (mdio8168g) read(d *Dev, reg int) uint32 {
	if d.ocpBase != ocpStdPhyBase {
		reg -= 0x10
	}
	return uint32(d.phyOcpRead(d.ocpBase + uint32(reg*2)))
}

// MAC MCU registers; selected by firmware with the mdio change opcode.
type mdioMacMcu struct{}

func (mdioMacMcu) write(d *Dev, reg int, v uint32) {
	if reg == 0x1f {
		d.ocpBase = v << 4
		return
	}
	d.macOcpWrite(d.ocpBase+uint32(reg), v)
}

func (mdioMacMcu) read(d *Dev, reg int) uint32 {
	return uint32(d.macOcpRead(d.ocpBase + uint32(reg)))
}

func (d *Dev) writePhy(reg int, v uint32) { d.profile.mdio.write(d, reg, v) }
func (d *Dev) readPhy(reg int) uint32     { return d.profile.mdio.read(d, reg) }

func (d *Dev) patchPhy(reg int, v uint32) { d.writePhy(reg, d.readPhy(reg)|v) }

func (d *Dev) w0w1Phy(reg int, p, m uint32) {
	d.writePhy(reg, d.readPhy(reg)&^m|p)
}

// PCIe PHY.
func (d *Dev) ephyWrite(reg int, v uint32) {
	EPHYAR.set(d, ephyarWrite|v&ephyarDataMask|uint32(reg&ephyarRegMask)<<ephyarRegShift)
	d.waitLow(ephyarCond, 10*time.Microsecond, 100)
	d.delay(10 * time.Microsecond)
}

func (d *Dev) ephyRead(reg int) uint16 {
	EPHYAR.set(d, uint32(reg&ephyarRegMask)<<ephyarRegShift)
	if d.waitHigh(ephyarCond, 10*time.Microsecond, 100) {
		return uint16(EPHYAR.get(d) & ephyarDataMask)
	}
	return ^uint16(0)
}

// Extended GMAC registers.  Addresses are 4 byte aligned; mask selects bytes.
func (d *Dev) eriWrite(addr int, mask, v uint32, typ uint32) {
	if addr&3 != 0 || mask == 0 {
		d.logf("err: %s: bad eri write addr 0x%x mask 0x%x", d, addr, mask)
		return
	}
	ERIDR.set(d, v)
	ERIAR.set(d, eriarWrite|typ|mask|uint32(addr))
	d.waitLow(eriarCond, 100*time.Microsecond, 100)
}

func (d *Dev) eriRead(addr int, typ uint32) uint32 {
	ERIAR.set(d, eriarRead|typ|eriarMask1111|uint32(addr))
	if d.waitHigh(eriarCond, 100*time.Microsecond, 100) {
		return ERIDR.get(d)
	}
	return ^uint32(0)
}

func (d *Dev) w0w1Eri(addr int, mask, p, m uint32, typ uint32) {
	v := d.eriRead(addr, typ)
	d.eriWrite(addr, mask, v&^m|p, typ)
}

// csiOps reaches PCI config space through the CSI window.
type csiOps interface {
	write(d *Dev, addr int, v uint32)
	read(d *Dev, addr int) uint32
}

// fn selects the PCI function on multi function parts.
type csiFunc struct{ fn uint32 }

func (c csiFunc) write(d *Dev, addr int, v uint32) {
	CSIDR.set(d, v)
	CSIAR.set(d, csiarWrite|uint32(addr)&csiarAddrMask|csiarByteEnable|c.fn)
	d.waitLow(csiarCond, 10*time.Microsecond, 100)
}

func (c csiFunc) read(d *Dev, addr int) uint32 {
	CSIAR.set(d, uint32(addr)&csiarAddrMask|c.fn|csiarByteEnable)
	if d.waitHigh(csiarCond, 10*time.Microsecond, 100) {
		return CSIDR.get(d)
	}
	return ^uint32(0)
}

func (d *Dev) csiWrite(addr int, v uint32) {
	if c := d.profile.csi; c != nil {
		c.write(d, addr, v)
	}
}

func (d *Dev) csiRead(addr int) uint32 {
	if c := d.profile.csi; c != nil {
		return c.read(d, addr)
	}
	return ^uint32(0)
}

func (d *Dev) csiAccessEnable(bits uint32) {
	v := d.csiRead(0x070c) & 0x00ffffff
	d.csiWrite(0x070c, v|bits)
}

func (d *Dev) efuseRead(reg int) uint8 {
	EFUSEAR.set(d, uint32(reg&efusearRegMask)<<efusearRegShift)
	if d.waitHigh(efusearCond, 100*time.Microsecond, 300) {
		return uint8(EFUSEAR.get(d) & efusearDataMask)
	}
	return ^uint8(0)
}
