// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"fmt"
)

// Version is the MAC revision decoded from the TxConfig chip id bits.
type Version uint8

const (
	Ver01 Version = iota
	Ver02
	Ver03
	Ver04
	Ver05
	Ver06
	Ver07
	Ver08
	Ver09
	Ver10
	Ver11
	Ver12
	Ver13
	Ver14
	Ver15
	Ver16
	Ver17
	Ver18
	Ver19
	Ver20
	Ver21
	Ver22
	Ver23
	Ver24
	Ver25
	Ver26
	Ver27
	Ver28
	Ver29
	Ver30
	Ver31
	Ver32
	Ver33
	Ver34
	Ver35
	Ver36
	Ver37
	Ver38
	Ver39
	Ver40
	Ver41
	Ver42
	Ver43
	Ver44
	Ver45
	Ver46
	Ver47
	Ver48
	Ver49
	Ver50
	Ver51

	nVersion
	VerNone Version = 0xff
)

func (v Version) String() string {
	if v >= nVersion {
		return "unknown"
	}
	return fmt.Sprintf("%02d", int(v)+1)
}

func (v Version) in(vs ...Version) bool {
	for _, x := range vs {
		if v == x {
			return true
		}
	}
	return false
}

// Inclusive range.
func (v Version) between(lo, hi Version) bool { return v >= lo && v <= hi }

// TxDescVersion selects the checksum/segmentation bit layout of TX descriptors.
type TxDescVersion uint8

const (
	TxDesc0 TxDescVersion = iota
	TxDesc1
)

func (t TxDescVersion) String() string { return fmt.Sprintf("td%d", t) }

const (
	etherHeaderBytes = 14
	etherMaxFrame    = 1514

	jumbo1K = etherMaxFrame
	jumbo4K = 4*1024 - etherHeaderBytes - 2
	jumbo6K = 6*1024 - etherHeaderBytes - 2
	jumbo7K = 7*1024 - etherHeaderBytes - 2
	jumbo9K = 9*1024 - etherHeaderBytes - 2
)

type macInfo struct {
	mask, val uint32
	version   Version
}

// Scanned in order; first match wins.
var macInfos = [...]macInfo{
	// 8168EP family.
	{0x7cf00000, 0x50200000, Ver51},
	{0x7cf00000, 0x50100000, Ver50},
	{0x7cf00000, 0x50000000, Ver49},
	// 8168H family.
	{0x7cf00000, 0x54100000, Ver46},
	{0x7cf00000, 0x54000000, Ver45},
	// 8168G family.
	{0x7cf00000, 0x5c800000, Ver44},
	{0x7cf00000, 0x50900000, Ver42},
	{0x7cf00000, 0x4c100000, Ver41},
	{0x7cf00000, 0x4c000000, Ver40},
	// 8168F family.
	{0x7c800000, 0x48800000, Ver38},
	{0x7cf00000, 0x48100000, Ver36},
	{0x7cf00000, 0x48000000, Ver35},
	// 8168E family.
	{0x7c800000, 0x2c800000, Ver34},
	{0x7cf00000, 0x2c200000, Ver33},
	{0x7cf00000, 0x2c100000, Ver32},
	{0x7c800000, 0x2c000000, Ver33},
	// 8168D family.
	{0x7cf00000, 0x28300000, Ver26},
	{0x7cf00000, 0x28100000, Ver25},
	{0x7c800000, 0x28000000, Ver26},
	// 8168DP family.
	{0x7cf00000, 0x28800000, Ver27},
	{0x7cf00000, 0x28a00000, Ver28},
	{0x7cf00000, 0x28b00000, Ver31},
	// 8168C family.
	{0x7cf00000, 0x3cb00000, Ver24},
	{0x7cf00000, 0x3c900000, Ver23},
	{0x7cf00000, 0x3c800000, Ver18},
	{0x7c800000, 0x3c800000, Ver24},
	{0x7cf00000, 0x3c000000, Ver19},
	{0x7cf00000, 0x3c200000, Ver20},
	{0x7cf00000, 0x3c300000, Ver21},
	{0x7cf00000, 0x3c400000, Ver22},
	{0x7c800000, 0x3c000000, Ver22},
	// 8168B family.
	{0x7cf00000, 0x38000000, Ver12},
	{0x7cf00000, 0x38500000, Ver17},
	{0x7c800000, 0x38000000, Ver17},
	{0x7c800000, 0x30000000, Ver11},
	// 8101 family.
	{0x7cf00000, 0x44900000, Ver39},
	{0x7c800000, 0x44800000, Ver39},
	{0x7c800000, 0x44000000, Ver37},
	{0x7cf00000, 0x40b00000, Ver30},
	{0x7cf00000, 0x40a00000, Ver30},
	{0x7cf00000, 0x40900000, Ver29},
	{0x7c800000, 0x40800000, Ver30},
	{0x7cf00000, 0x34a00000, Ver09},
	{0x7cf00000, 0x24a00000, Ver09},
	{0x7cf00000, 0x34900000, Ver08},
	{0x7cf00000, 0x24900000, Ver08},
	{0x7cf00000, 0x34800000, Ver07},
	{0x7cf00000, 0x24800000, Ver07},
	{0x7cf00000, 0x34000000, Ver13},
	{0x7cf00000, 0x34300000, Ver10},
	{0x7cf00000, 0x34200000, Ver16},
	{0x7c800000, 0x34800000, Ver09},
	{0x7c800000, 0x24800000, Ver09},
	{0x7c800000, 0x34000000, Ver16},
	// Origin unknown.
	{0xfc800000, 0x38800000, Ver15},
	{0xfc800000, 0x30800000, Ver14},
	// 8110 family.
	{0xfc800000, 0x98000000, Ver06},
	{0xfc800000, 0x18000000, Ver05},
	{0xfc800000, 0x10000000, Ver04},
	{0xfc800000, 0x04000000, Ver03},
	{0xfc800000, 0x00800000, Ver02},
	{0xfc800000, 0x00000000, Ver01},
	// Catch all.
	{0x00000000, 0x00000000, VerNone},
}

type chipInfo struct {
	name        string
	txDesc      TxDescVersion
	firmware    string
	jumboMax    int
	jumboTxCsum bool
}

var chipInfos = [...]chipInfo{
	Ver01: {"RTL8169", TxDesc0, "", jumbo7K, true},
	Ver02: {"RTL8169s", TxDesc0, "", jumbo7K, true},
	Ver03: {"RTL8110s", TxDesc0, "", jumbo7K, true},
	Ver04: {"RTL8169sb/8110sb", TxDesc0, "", jumbo7K, true},
	Ver05: {"RTL8169sc/8110sc", TxDesc0, "", jumbo7K, true},
	Ver06: {"RTL8169sc/8110sc", TxDesc0, "", jumbo7K, true},
	Ver07: {"RTL8102e", TxDesc1, "", jumbo1K, true},
	Ver08: {"RTL8102e", TxDesc1, "", jumbo1K, true},
	Ver09: {"RTL8102e", TxDesc1, "", jumbo1K, true},
	Ver10: {"RTL8101e", TxDesc0, "", jumbo1K, true},
	Ver11: {"RTL8168b/8111b", TxDesc0, "", jumbo4K, false},
	Ver12: {"RTL8168b/8111b", TxDesc0, "", jumbo4K, false},
	Ver13: {"RTL8101e", TxDesc0, "", jumbo1K, true},
	Ver14: {"RTL8100e", TxDesc0, "", jumbo1K, true},
	Ver15: {"RTL8100e", TxDesc0, "", jumbo1K, true},
	Ver16: {"RTL8101e", TxDesc0, "", jumbo1K, true},
	Ver17: {"RTL8168b/8111b", TxDesc0, "", jumbo4K, false},
	Ver18: {"RTL8168cp/8111cp", TxDesc1, "", jumbo6K, false},
	Ver19: {"RTL8168c/8111c", TxDesc1, "", jumbo6K, false},
	Ver20: {"RTL8168c/8111c", TxDesc1, "", jumbo6K, false},
	Ver21: {"RTL8168c/8111c", TxDesc1, "", jumbo6K, false},
	Ver22: {"RTL8168c/8111c", TxDesc1, "", jumbo6K, false},
	Ver23: {"RTL8168cp/8111cp", TxDesc1, "", jumbo6K, false},
	Ver24: {"RTL8168cp/8111cp", TxDesc1, "", jumbo6K, false},
	Ver25: {"RTL8168d/8111d", TxDesc1, "rtl_nic/rtl8168d-1.fw", jumbo9K, false},
	Ver26: {"RTL8168d/8111d", TxDesc1, "rtl_nic/rtl8168d-2.fw", jumbo9K, false},
	Ver27: {"RTL8168dp/8111dp", TxDesc1, "", jumbo9K, false},
	Ver28: {"RTL8168dp/8111dp", TxDesc1, "", jumbo9K, false},
	Ver29: {"RTL8105e", TxDesc1, "rtl_nic/rtl8105e-1.fw", jumbo1K, true},
	Ver30: {"RTL8105e", TxDesc1, "rtl_nic/rtl8105e-1.fw", jumbo1K, true},
	Ver31: {"RTL8168dp/8111dp", TxDesc1, "", jumbo9K, false},
	Ver32: {"RTL8168e/8111e", TxDesc1, "rtl_nic/rtl8168e-1.fw", jumbo9K, false},
	Ver33: {"RTL8168e/8111e", TxDesc1, "rtl_nic/rtl8168e-2.fw", jumbo9K, false},
	Ver34: {"RTL8168evl/8111evl", TxDesc1, "rtl_nic/rtl8168e-3.fw", jumbo9K, false},
	Ver35: {"RTL8168f/8111f", TxDesc1, "rtl_nic/rtl8168f-1.fw", jumbo9K, false},
	Ver36: {"RTL8168f/8111f", TxDesc1, "rtl_nic/rtl8168f-2.fw", jumbo9K, false},
	Ver37: {"RTL8402", TxDesc1, "rtl_nic/rtl8402-1.fw", jumbo1K, true},
	Ver38: {"RTL8411", TxDesc1, "rtl_nic/rtl8411-1.fw", jumbo9K, false},
	Ver39: {"RTL8106e", TxDesc1, "rtl_nic/rtl8106e-1.fw", jumbo1K, true},
	Ver40: {"RTL8168g/8111g", TxDesc1, "rtl_nic/rtl8168g-2.fw", jumbo9K, false},
	Ver41: {"RTL8168g/8111g", TxDesc1, "", jumbo9K, false},
	Ver42: {"RTL8168g/8111g", TxDesc1, "rtl_nic/rtl8168g-3.fw", jumbo9K, false},
	Ver43: {"RTL8106e", TxDesc1, "rtl_nic/rtl8106e-2.fw", jumbo1K, true},
	Ver44: {"RTL8411", TxDesc1, "rtl_nic/rtl8411-2.fw", jumbo9K, false},
	Ver45: {"RTL8168h/8111h", TxDesc1, "rtl_nic/rtl8168h-1.fw", jumbo9K, false},
	Ver46: {"RTL8168h/8111h", TxDesc1, "rtl_nic/rtl8168h-2.fw", jumbo9K, false},
	Ver47: {"RTL8107e", TxDesc1, "rtl_nic/rtl8107e-1.fw", jumbo1K, false},
	Ver48: {"RTL8107e", TxDesc1, "rtl_nic/rtl8107e-2.fw", jumbo1K, false},
	Ver49: {"RTL8168ep/8111ep", TxDesc1, "", jumbo9K, false},
	Ver50: {"RTL8168ep/8111ep", TxDesc1, "", jumbo9K, false},
	Ver51: {"RTL8168ep/8111ep", TxDesc1, "", jumbo9K, false},
}

// Identify maps the TxConfig register to a MAC version.
// Unknown chips get the family default.  Some revisions are told apart
// only by whether the PHY supports gigabit.
func Identify(txConfig uint32, def Version, gmii bool) (v Version) {
	for i := range macInfos {
		p := &macInfos[i]
		if txConfig&p.mask == p.val {
			v = p.version
			break
		}
	}
	switch v {
	case VerNone:
		v = def
	case Ver42:
		if !gmii {
			v = Ver43
		}
	case Ver45:
		if !gmii {
			v = Ver47
		}
	case Ver46:
		if !gmii {
			v = Ver48
		}
	}
	return
}

// Profile holds everything that depends on the chip revision.
// It is computed once when the device is attached and never changes.
type Profile struct {
	Version     Version
	Family      Family
	Name        string
	TxDesc      TxDescVersion
	Firmware    string
	JumboMax    int
	JumboTxCsum bool
	GMII        bool

	eventSlow uint16
	opts1Mask uint32

	mdio  mdioOps
	pll   pllOps
	jumbo jumboOps
	csi   csiOps
	oob   oobOps
	tso   tsoCsumFunc
}

func (p *Profile) String() string {
	return fmt.Sprintf("%s mac version %v %v jumbo %d", p.Name, p.Version, p.TxDesc, p.JumboMax)
}

// NewProfile binds the per revision operations for chip version v of family f.
func NewProfile(v Version, f Family) (p *Profile, err error) {
	if v >= nVersion {
		err = fmt.Errorf("%w: %d", ErrVersion, v)
		return
	}
	fi := &familyInfos[f]
	ci := &chipInfos[v]
	p = &Profile{
		Version:     v,
		Family:      f,
		Name:        ci.name,
		TxDesc:      ci.txDesc,
		Firmware:    ci.firmware,
		JumboMax:    ci.jumboMax,
		JumboTxCsum: ci.jumboTxCsum,
		GMII:        fi.gmii,
		eventSlow:   fi.eventSlow,
		opts1Mask:   ^uint32(RxBOVF | RxFOVF),
	}
	if v == Ver01 {
		p.opts1Mask = ^uint32(0)
	}

	switch f {
	case Family8168:
		// Work around for rx fifo overflow.
		if v == Ver11 {
			p.eventSlow |= RxFIFOOver | PCSTimeout
			p.eventSlow &^= RxOverflow
		}
	case Family8101:
		if v >= Ver30 {
			p.eventSlow &^= RxFIFOOver
		}
	}

	switch {
	case v == Ver27:
		p.mdio = mdio8168dp1{}
	case v.in(Ver28, Ver31):
		p.mdio = mdio8168dp2{}
	case v.between(Ver40, Ver51):
		p.mdio = mdio8168g{}
	default:
		p.mdio = mdio8169{}
	}

	switch {
	case v.in(Ver07, Ver08, Ver09, Ver10, Ver16, Ver29, Ver30, Ver37, Ver39,
		Ver43, Ver47, Ver48):
		p.pll = pll810x{}
	case v.in(Ver11, Ver12, Ver17), v.between(Ver18, Ver28), v.between(Ver31, Ver36),
		v.in(Ver38, Ver40, Ver41, Ver42, Ver44, Ver45, Ver46, Ver49, Ver50, Ver51):
		p.pll = pll8168{}
	}

	switch {
	case v == Ver11:
		p.jumbo = jumbo8168b0{}
	case v.in(Ver12, Ver17):
		p.jumbo = jumbo8168b1{}
	case v.between(Ver18, Ver26):
		p.jumbo = jumbo8168c{}
	case v.in(Ver27, Ver28):
		p.jumbo = jumbo8168dp{}
	case v.between(Ver31, Ver34):
		p.jumbo = jumbo8168e{}
	}

	switch {
	case v.between(Ver01, Ver06), v.between(Ver10, Ver17):
	case v.in(Ver37, Ver38):
		p.csi = csiFunc{fn: csiarFuncNic}
	case v == Ver44:
		p.csi = csiFunc{fn: csiarFuncNic2}
	default:
		p.csi = csiFunc{}
	}

	switch {
	case v.in(Ver27, Ver28, Ver31):
		p.oob = oob8168dp{}
	case v.between(Ver49, Ver51):
		p.oob = oob8168ep{}
	}

	switch p.TxDesc {
	case TxDesc0:
		p.tso = tsoCsumV1
	default:
		p.tso = tsoCsumV2
	}
	return
}
