// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"errors"
	"fmt"
	"time"
)

const (
	phyTimeout      = 10 * time.Second
	phyResetBackoff = 100 * time.Millisecond
)

// Advertise is a set of link modes offered during auto-negotiation.
type Advertise uint32

const (
	Advertise10Half Advertise = 1 << iota
	Advertise10Full
	Advertise100Half
	Advertise100Full
	Advertise1000Half
	Advertise1000Full

	Advertise10    = Advertise10Half | Advertise10Full
	Advertise100   = Advertise100Half | Advertise100Full
	Advertise1000  = Advertise1000Half | Advertise1000Full
	AdvertiseFast  = Advertise10 | Advertise100
	AdvertiseAllGE = AdvertiseFast | Advertise1000
)

// LinkConfig is the requested link speed setting.
type LinkConfig struct {
	Autoneg bool
	// Mbps; used when Autoneg is off.
	Speed      int
	FullDuplex bool
	Advertise  Advertise
}

var ErrLinkConfig = errors.New("unsupported link setting")

// LinkState is what the PHY reports.
type LinkState int

const (
	LinkDown LinkState = iota
	LinkNegotiating
	LinkResetPending
	LinkUp
)

var linkStateNames = [...]string{
	LinkDown:         "down",
	LinkNegotiating:  "negotiating",
	LinkResetPending: "reset pending",
	LinkUp:           "up",
}

func (s LinkState) String() string {
	if int(s) < len(linkStateNames) {
		return linkStateNames[s]
	}
	return fmt.Sprintf("link state %d", int(s))
}

func (d *Dev) tbiEnabled() bool {
	return d.profile.Version == Ver01 && PHYstatus.get(d)&TBI_Enable != 0
}

func (d *Dev) linkOk() bool {
	if d.tbiEnabled() {
		return TBICSR.get(d)&TBILinkOk != 0
	}
	return PHYstatus.get(d)&LinkStatus != 0
}

func (d *Dev) phyResetPending() bool {
	if d.tbiEnabled() {
		return TBICSR.get(d)&TBIReset != 0
	}
	return d.readPhy(MII_BMCR)&BMCR_RESET != 0
}

func (d *Dev) phyResetEnable() {
	if d.tbiEnabled() {
		TBICSR.or(d, TBIReset)
		return
	}
	d.patchPhy(MII_BMCR, BMCR_RESET)
}

var phyResetCond = &cond{"phy reset", (*Dev).phyResetPending}

func (d *Dev) phyReset() {
	d.phyResetEnable()
	d.waitLow(phyResetCond, time.Millisecond, 100)
}

// armTimer (re)starts the PHY watchdog.
func (d *Dev) armTimer(after time.Duration) {
	if d.timer == nil {
		d.timer = time.AfterFunc(after, func() { d.scheduleTask(taskPhyPending) })
		return
	}
	d.timer.Reset(after)
}

func (d *Dev) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
	}
}

// phyWork resets the PHY until the link comes up.
func (d *Dev) phyWork() {
	if d.phyResetPending() {
		d.armTimer(phyResetBackoff)
		return
	}
	if d.linkOk() {
		return
	}
	d.logf("info: %s: phy reset until link up", d)
	d.phyResetEnable()
	d.armTimer(phyTimeout)
}

// LinkState reports the PHY state.
func (d *Dev) LinkState() LinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.linkOk():
		return LinkUp
	case d.phyResetPending():
		return LinkResetPending
	case d.tbiEnabled():
		if TBICSR.get(d)&TBINwEnable != 0 {
			return LinkNegotiating
		}
	default:
		if d.readPhy(MII_BMCR)&BMCR_ANENABLE != 0 {
			return LinkNegotiating
		}
	}
	return LinkDown
}

func (d *Dev) setSpeedTBI(c LinkConfig) error {
	reg := TBICSR.get(d)
	switch {
	case !c.Autoneg && c.Speed == 1000 && c.FullDuplex:
		TBICSR.set(d, reg&^(TBINwEnable|TBINwRestart))
	case c.Autoneg:
		TBICSR.set(d, reg|TBINwEnable|TBINwRestart)
	default:
		d.logf("warning: %s: incorrect speed setting refused in TBI mode", d)
		return ErrLinkConfig
	}
	return nil
}

func (d *Dev) setSpeedXMII(c LinkConfig) error {
	var bmcr uint32
	d.writePhy(0x1f, 0)
	if c.Autoneg {
		an := uint32(ADVERTISE_PAUSE_CAP | ADVERTISE_PAUSE_ASY)
		for _, x := range []struct {
			a   Advertise
			bit uint32
		}{
			{Advertise10Half, ADVERTISE_10HALF},
			{Advertise10Full, ADVERTISE_10FULL},
			{Advertise100Half, ADVERTISE_100HALF},
			{Advertise100Full, ADVERTISE_100FULL},
		} {
			if c.Advertise&x.a != 0 {
				an |= x.bit
			}
		}
		var giga uint32
		if d.profile.GMII {
			if c.Advertise&Advertise1000Half != 0 {
				giga |= ADVERTISE_1000HALF
			}
			if c.Advertise&Advertise1000Full != 0 {
				giga |= ADVERTISE_1000FULL
			}
		} else if c.Advertise&Advertise1000 != 0 {
			d.logf("info: %s: phy does not support 1000Mbps", d)
			return ErrLinkConfig
		}
		bmcr = BMCR_ANENABLE | BMCR_ANRESTART
		// Other advertisement bits are kept.
		d.w0w1Phy(MII_ADVERTISE, an, ADVERTISE_10HALF|ADVERTISE_10FULL|
			ADVERTISE_100HALF|ADVERTISE_100FULL)
		d.w0w1Phy(MII_CTRL1000, giga, ADVERTISE_1000FULL|ADVERTISE_1000HALF)
	} else {
		switch c.Speed {
		case 10:
		case 100:
			bmcr = BMCR_SPEED100
		default:
			return ErrLinkConfig
		}
		if c.FullDuplex {
			bmcr |= BMCR_FULLDPLX
		}
	}
	d.writePhy(MII_BMCR, bmcr)

	if d.profile.Version.in(Ver02, Ver03) {
		if c.Speed == 100 && !c.Autoneg {
			d.writePhy(0x17, 0x2138)
			d.writePhy(0x0e, 0x0260)
		} else {
			d.writePhy(0x17, 0x2108)
			d.writePhy(0x0e, 0x0000)
		}
	}
	return nil
}

func (d *Dev) setSpeed(c LinkConfig) (err error) {
	if d.tbiEnabled() {
		err = d.setSpeedTBI(c)
	} else {
		err = d.setSpeedXMII(c)
	}
	if err != nil {
		return
	}
	d.link = c
	if d.flags.Load()&taskEnabled != 0 && c.Autoneg &&
		c.Advertise&Advertise1000Full != 0 && !d.isPCIe() {
		d.armTimer(phyTimeout)
	}
	return
}

// SetLink changes the link speed setting.
func (d *Dev) SetLink(c LinkConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setSpeed(c)
}

func (d *Dev) defaultLink() LinkConfig {
	c := LinkConfig{Autoneg: true, Speed: 1000, FullDuplex: true, Advertise: AdvertiseFast}
	if d.profile.GMII {
		c.Advertise |= Advertise1000
	}
	return c
}

func (d *Dev) initPhy() {
	d.applyFirmware()
	v := d.profile.Version
	if v <= Ver06 {
		reg8(0x82).set(d, 0x01)
	}
	if d.pci != nil {
		d.pci.WriteConfigUint8(pciLatencyTimer, 0x40)
		if v <= Ver06 {
			d.pci.WriteConfigUint8(pciCacheLine, 0x08)
		}
	}
	if v == Ver02 {
		reg8(0x82).set(d, 0x01)
		d.writePhy(0x0b, 0x0000)
	}
	d.phyReset()
	d.setSpeed(d.defaultLink())
	if d.tbiEnabled() {
		d.logf("info: %s: TBI auto-negotiating", d)
	}
}

// speedDown limits advertisement to what the partner offers so that
// the link survives at low power.
func (d *Dev) speedDown() {
	d.writePhy(0x1f, 0)
	lpa := d.readPhy(MII_LPA)
	c := d.defaultLink()
	switch {
	case lpa&(LPA_10HALF|LPA_10FULL) != 0:
		c.Advertise = Advertise10
	case lpa&(LPA_100HALF|LPA_100FULL) != 0:
		c.Advertise = AdvertiseFast
	}
	d.setSpeed(c)
}

func (d *Dev) linkChgPatch() {
	s := PHYstatus.get(d)
	switch v := d.profile.Version; {
	case v.in(Ver34, Ver38):
		switch {
		case s&_1000bpsF != 0:
			d.eriWrite(0x1bc, eriarMask1111, 0x11, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask1111, 0x05, eriarExgmac)
		case s&_100bps != 0:
			d.eriWrite(0x1bc, eriarMask1111, 0x1f, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask1111, 0x05, eriarExgmac)
		default:
			d.eriWrite(0x1bc, eriarMask1111, 0x1f, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask1111, 0x3f, eriarExgmac)
		}
		// Reset packet filter.
		d.w0w1Eri(0xdc, eriarMask0001, 0x00, 0x01, eriarExgmac)
		d.w0w1Eri(0xdc, eriarMask0001, 0x01, 0x00, eriarExgmac)
	case v.in(Ver35, Ver36):
		if s&_1000bpsF != 0 {
			d.eriWrite(0x1bc, eriarMask1111, 0x11, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask1111, 0x05, eriarExgmac)
		} else {
			d.eriWrite(0x1bc, eriarMask1111, 0x1f, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask1111, 0x3f, eriarExgmac)
		}
	case v == Ver37:
		if s&_10bps != 0 {
			d.eriWrite(0x1d0, eriarMask0011, 0x4d02, eriarExgmac)
			d.eriWrite(0x1dc, eriarMask0011, 0x0060, eriarExgmac)
		} else {
			d.eriWrite(0x1d0, eriarMask0011, 0x0000, eriarExgmac)
		}
	}
}

func (d *Dev) checkLink() {
	up := d.linkOk()
	if up {
		d.linkChgPatch()
		d.logf("info: %s: link up", d)
	} else {
		d.logf("info: %s: link down", d)
	}
	if d.linkUp.Swap(up) != up || !d.linkKnown {
		d.linkKnown = true
		if d.notify != nil {
			d.notify(up)
		}
	}
}

// LinkUp is the carrier state as of the last link check.
func (d *Dev) LinkUp() bool { return d.linkUp.Load() }

type pllOps interface {
	up(d *Dev)
	down(d *Dev)
}

func (d *Dev) pllPowerUp() {
	if p := d.profile.pll; p != nil {
		p.up(d)
	}
}

func (d *Dev) pllPowerDown() {
	if p := d.profile.pll; p != nil {
		p.down(d)
	}
}

func (d *Dev) wolSuspendQuirk() {
	if v := d.profile.Version; v.in(Ver25, Ver26, Ver29, Ver30, Ver32, Ver33, Ver34) ||
		v.between(Ver37, Ver51) {
		RxConfig.or(d, AcceptBroadcast|AcceptMulticast|AcceptMyPhys)
	}
}

// wolPllPowerDown keeps the PHY up at low speed when wake on LAN is armed.
func (d *Dev) wolPllPowerDown() bool {
	if d.getWol()&WakeAny == 0 {
		return false
	}
	d.speedDown()
	d.wolSuspendQuirk()
	return true
}

type pll810x struct{}

func (pll810x) down(d *Dev) {
	if d.wolPllPowerDown() {
		return
	}
	d.writePhy(0x1f, 0)
	d.writePhy(MII_BMCR, BMCR_PDOWN)
	if !d.profile.Version.in(Ver07, Ver08, Ver09, Ver10, Ver13, Ver16) {
		PMCH.andnot(d, 0x80)
	}
}

func (pll810x) up(d *Dev) {
	d.writePhy(0x1f, 0)
	d.writePhy(MII_BMCR, BMCR_ANENABLE)
	switch v := d.profile.Version; {
	case v.in(Ver07, Ver08, Ver09, Ver10, Ver13, Ver16):
	case v.in(Ver47, Ver48):
		PMCH.or(d, 0xc0)
	default:
		PMCH.or(d, 0x80)
	}
}

type pll8168 struct{}

// Versions with PHY register 0x0e power control.
func phy0eVersion(v Version) bool {
	return v.in(Ver11, Ver12, Ver17) || v.between(Ver18, Ver28) || v == Ver31
}

func (pll8168) phyDown(d *Dev) {
	v := d.profile.Version
	d.writePhy(0x1f, 0)
	switch {
	case v.in(Ver32, Ver33, Ver40, Ver41):
		d.writePhy(MII_BMCR, BMCR_ANENABLE|BMCR_PDOWN)
	case phy0eVersion(v):
		d.writePhy(0x0e, 0x0200)
		fallthrough
	default:
		d.writePhy(MII_BMCR, BMCR_PDOWN)
	}
}

func (pll8168) phyUp(d *Dev) {
	d.writePhy(0x1f, 0)
	if phy0eVersion(d.profile.Version) {
		d.writePhy(0x0e, 0)
	}
	d.writePhy(MII_BMCR, BMCR_ANENABLE)
}

func (p pll8168) down(d *Dev) {
	v := d.profile.Version
	if v.in(Ver27, Ver28, Ver31, Ver49, Ver50, Ver51) && d.checkDash() {
		return
	}
	if v.in(Ver23, Ver24) && CPlusCmd.get(d)&ASF != 0 {
		return
	}
	if v.in(Ver32, Ver33) {
		d.ephyWrite(0x19, 0xff64)
	}
	if d.wolPllPowerDown() {
		return
	}
	p.phyDown(d)
	switch {
	case v.between(Ver25, Ver28), v.in(Ver31, Ver32, Ver33, Ver44, Ver45, Ver46, Ver50, Ver51):
		PMCH.andnot(d, 0x80)
	case v.in(Ver40, Ver41, Ver49):
		d.w0w1Eri(0x1a8, eriarMask1111, 0, 0xfc000000, eriarExgmac)
		PMCH.andnot(d, 0x80)
	}
}

func (p pll8168) up(d *Dev) {
	switch v := d.profile.Version; {
	case v.between(Ver25, Ver28), v.in(Ver31, Ver32, Ver33):
		PMCH.or(d, 0x80)
	case v.in(Ver44, Ver45, Ver46, Ver50, Ver51):
		PMCH.or(d, 0xc0)
	case v.in(Ver40, Ver41, Ver49):
		PMCH.or(d, 0xc0)
		d.w0w1Eri(0x1a8, eriarMask1111, 0xfc000000, 0, eriarExgmac)
	}
	p.phyUp(d)
}
