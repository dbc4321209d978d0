// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrInvalidAddress = errors.New("invalid ethernet address")
	ErrMTU            = errors.New("mtu out of range")
)

const (
	ethDataLen    = 1500
	ethMinMTU     = 68
	mcFilterLimit = 32
)

// Features are the offloads enabled on the device.
type Features uint32

const (
	FeatureRxAll Features = 1 << iota
	FeatureRxFCS
	FeatureRxCsum
	FeatureRxVlan
	FeatureTxVlan
	FeatureTxCsum
	FeatureSG
	FeatureTSO
	FeatureHighDMA

	DefaultFeatures = FeatureRxCsum | FeatureRxVlan | FeatureTxVlan |
		FeatureTxCsum | FeatureSG | FeatureTSO
)

var featureNames = [...]string{
	"rx-all", "rx-fcs", "rx-checksum", "rx-vlan", "tx-vlan",
	"tx-checksum", "scatter-gather", "tso", "highdma",
}

func (f Features) String() string {
	var s []string
	for i, n := range featureNames {
		if f&(1<<i) != 0 {
			s = append(s, n)
		}
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ",")
}

// ParseFeatures parses a comma separated list of feature names.
func ParseFeatures(s string) (f Features, err error) {
	for _, w := range strings.Split(s, ",") {
		w = strings.TrimSpace(w)
		if w == "" || w == "none" {
			continue
		}
		found := false
		for i, n := range featureNames {
			if n == w {
				f |= 1 << i
				found = true
			}
		}
		if !found {
			err = fmt.Errorf("unknown feature: %s", w)
			return
		}
	}
	return
}

func (d *Dev) features() Features { return Features(d.feat.Load()) }

// fixFeatures drops what the current MTU does not allow.
func (d *Dev) fixFeatures(f Features) Features {
	if d.mtu > tdMSSMax {
		f &^= FeatureTSO
	}
	if d.mtu > ethDataLen && !d.profile.JumboTxCsum {
		f &^= FeatureTxCsum
	}
	return f
}

func (d *Dev) setFeatures(f Features) {
	f = d.fixFeatures(f)
	d.feat.Store(uint32(f))
	if f&FeatureRxAll != 0 {
		RxConfig.or(d, AcceptErr|AcceptRunt)
	} else {
		RxConfig.andnot(d, AcceptErr|AcceptRunt)
	}
	if f&FeatureRxCsum != 0 {
		d.cpCmd |= RxChkSum
	} else {
		d.cpCmd &^= RxChkSum
	}
	if f&FeatureRxVlan != 0 {
		d.cpCmd |= RxVlan
	} else {
		d.cpCmd &^= RxVlan
	}
	d.cpCmd |= CPlusCmd.get(d) &^ (RxVlan | RxChkSum)
	CPlusCmd.set(d, d.cpCmd)
	CPlusCmd.get(d)
}

// SetFeatures changes offloads and returns those in effect.
func (d *Dev) SetFeatures(f Features) Features {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wantFeatures = f
	d.setFeatures(f)
	return d.features()
}

func (d *Dev) Features() Features { return d.features() }

func (d *Dev) readMAC() (a net.HardwareAddr) {
	a = make(net.HardwareAddr, 6)
	for i := range a {
		a[i] = reg8(uint(MAC0) + uint(i)).get(d)
	}
	return
}

func validEtherAddr(a net.HardwareAddr) bool {
	if len(a) != 6 || a[0]&1 != 0 {
		return false
	}
	for _, b := range a {
		if b != 0 {
			return true
		}
	}
	return false
}

func (d *Dev) rarExgmacSet(a net.HardwareAddr) {
	w := [3]uint32{
		uint32(a[0]) | uint32(a[1])<<8,
		uint32(a[2]) | uint32(a[3])<<8,
		uint32(a[4]) | uint32(a[5])<<8,
	}
	d.eriWrite(0xe0, eriarMask1111, w[0]|w[1]<<16, eriarExgmac)
	d.eriWrite(0xe4, eriarMask1111, w[2], eriarExgmac)
	d.eriWrite(0xf0, eriarMask1111, w[0]<<16, eriarExgmac)
	d.eriWrite(0xf4, eriarMask1111, w[1]|w[2]<<16, eriarExgmac)
}

func (d *Dev) rarSet(a net.HardwareAddr) {
	d.unlocked(func() {
		MAC4.set(d, uint32(a[4])|uint32(a[5])<<8)
		MAC4.get(d)
		MAC0.set(d, uint32(a[0])|uint32(a[1])<<8|uint32(a[2])<<16|uint32(a[3])<<24)
		MAC0.get(d)
		if d.profile.Version == Ver34 {
			d.rarExgmacSet(a)
		}
	})
}

// SetMACAddress programs the station address.
func (d *Dev) SetMACAddress(a net.HardwareAddr) error {
	if !validEtherAddr(a) {
		return fmt.Errorf("%s: %w: %v", d, ErrInvalidAddress, a)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mac = append(net.HardwareAddr(nil), a...)
	d.rarSet(d.mac)
	return nil
}

func (d *Dev) MACAddress() net.HardwareAddr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append(net.HardwareAddr(nil), d.mac...)
}

// RxMode is the receive address filter.
type RxMode struct {
	Promisc  bool
	AllMulti bool
	// Multicast groups matched through the hash filter.
	Multicast []net.HardwareAddr
}

// etherCRC is the big endian ethernet CRC the multicast hash uses.
func etherCRC(a []byte) uint32 {
	crc := ^uint32(0)
	for _, b := range a {
		for i := 0; i < 8; i++ {
			if (crc>>31)^uint32(b&1) != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

func (d *Dev) setRxMode() {
	m := &d.rxMode
	var mc [2]uint32
	var mode uint32
	switch {
	case m.Promisc:
		mode = AcceptBroadcast | AcceptMulticast | AcceptMyPhys | AcceptAllPhys
		mc = [2]uint32{^uint32(0), ^uint32(0)}
	case m.AllMulti || len(m.Multicast) > mcFilterLimit:
		mode = AcceptBroadcast | AcceptMulticast | AcceptMyPhys
		mc = [2]uint32{^uint32(0), ^uint32(0)}
	default:
		mode = AcceptBroadcast | AcceptMyPhys
		for _, a := range m.Multicast {
			bit := etherCRC(a) >> 26
			mc[bit>>5] |= 1 << (bit & 31)
			mode |= AcceptMulticast
		}
	}
	if d.features()&FeatureRxAll != 0 {
		mode |= AcceptErr | AcceptRunt
	}
	v := RxConfig.get(d)&^rxConfigAccept | mode

	if d.profile.Version > Ver06 {
		mc[0], mc[1] = swab32(mc[1]), swab32(mc[0])
	}
	if d.profile.Version == Ver35 {
		mc = [2]uint32{^uint32(0), ^uint32(0)}
	}
	(MAR0 + 4).set(d, mc[1])
	MAR0.set(d, mc[0])
	RxConfig.set(d, v)
}

func swab32(x uint32) uint32 {
	return x>>24 | x>>8&0xff00 | x<<8&0xff0000 | x<<24
}

func (d *Dev) SetRxMode(m RxMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if m.Promisc && !d.rxMode.Promisc {
		d.logf("info: %s: promiscuous mode enabled", d)
	}
	d.rxMode = m
	d.setRxMode()
}

// Wol is a set of wake on LAN triggers.
type Wol uint32

const (
	WakePhy Wol = 1 << iota
	WakeUcast
	WakeMcast
	WakeBcast
	WakeMagic

	WakeAny = WakePhy | WakeUcast | WakeMcast | WakeBcast | WakeMagic
)

var wolNames = [...]string{"phy", "unicast", "multicast", "broadcast", "magic"}

func (w Wol) String() string {
	var s []string
	for i, n := range wolNames {
		if w&(1<<i) != 0 {
			s = append(s, n)
		}
	}
	if len(s) == 0 {
		return "disabled"
	}
	return strings.Join(s, ",")
}

// ParseWol parses a comma separated list of wake triggers; "disabled"
// and "" are none.
func ParseWol(s string) (w Wol, err error) {
	for _, x := range strings.Split(s, ",") {
		x = strings.TrimSpace(x)
		if x == "" || x == "disabled" {
			continue
		}
		if x == "any" {
			w |= WakeAny
			continue
		}
		i := 0
		for i < len(wolNames) && wolNames[i] != x {
			i++
		}
		if i == len(wolNames) {
			err = fmt.Errorf("unknown wake trigger: %s", x)
			return
		}
		w |= 1 << i
	}
	return
}

// Versions keeping the magic packet enable in ERI 0xdc.
func magicV2(v Version) bool { return v.between(Ver34, Ver38) || v.between(Ver40, Ver51) }

func (d *Dev) getWol() (w Wol) {
	if Config1.get(d)&PMEnable == 0 {
		return
	}
	c3 := Config3.get(d)
	if c3&LinkUpWake != 0 {
		w |= WakePhy
	}
	if magicV2(d.profile.Version) {
		if d.eriRead(0xdc, eriarExgmac)&MagicPacket_v2 != 0 {
			w |= WakeMagic
		}
	} else if c3&MagicPacket != 0 {
		w |= WakeMagic
	}
	c5 := Config5.get(d)
	if c5&UWF != 0 {
		w |= WakeUcast
	}
	if c5&BWF != 0 {
		w |= WakeBcast
	}
	if c5&MWF != 0 {
		w |= WakeMcast
	}
	return
}

var wolCfg = [...]struct {
	opt  Wol
	reg  reg8
	mask uint8
}{
	{WakePhy, Config3, LinkUpWake},
	{WakeUcast, Config5, UWF},
	{WakeBcast, Config5, BWF},
	{WakeMcast, Config5, MWF},
	{WakeAny, Config5, LanWake},
	// Must be last: ERI on magicV2 versions.
	{WakeMagic, Config3, MagicPacket},
}

func (d *Dev) setWol(w Wol) {
	v := d.profile.Version
	d.unlocked(func() {
		n := len(wolCfg)
		if magicV2(v) {
			n--
			if w&WakeMagic != 0 {
				d.w0w1Eri(0x0dc, eriarMask0100, MagicPacket_v2, 0, eriarExgmac)
			} else {
				d.w0w1Eri(0x0dc, eriarMask0100, 0, MagicPacket_v2, eriarExgmac)
			}
		}
		for _, c := range wolCfg[:n] {
			x := c.reg.get(d) &^ c.mask
			if w&c.opt != 0 {
				x |= c.mask
			}
			c.reg.set(d, x)
		}
		if v <= Ver17 {
			if w != 0 {
				Config1.or(d, PMEnable)
			} else {
				Config1.andnot(d, PMEnable)
			}
		} else {
			if w != 0 {
				Config2.or(d, PME_SIGNAL)
			} else {
				Config2.andnot(d, PME_SIGNAL)
			}
		}
	})
}

// WolOptions reports the armed wake on LAN triggers.
func (d *Dev) WolOptions() Wol {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.getWol()
}

func (d *Dev) SetWol(w Wol) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setWol(w & WakeAny)
}

// SetMTU switches jumbo mode and re-derives the offload features.
func (d *Dev) SetMTU(mtu int) error {
	if mtu < ethMinMTU || mtu > d.profile.JumboMax {
		return fmt.Errorf("%s: %w: %d not in [%d, %d]", d, ErrMTU, mtu, ethMinMTU, d.profile.JumboMax)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setMTU(mtu)
	return nil
}

func (d *Dev) setMTU(mtu int) {
	if mtu > ethDataLen {
		d.jumboEnable()
	} else {
		d.jumboDisable()
	}
	d.mtu = mtu
	d.setFeatures(d.wantFeatures)
}

func (d *Dev) MTU() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mtu
}
