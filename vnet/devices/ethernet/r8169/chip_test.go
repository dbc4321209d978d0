// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"errors"
	"fmt"
	"testing"
)

func TestIdentify(t *testing.T) {
	for _, x := range []struct {
		txConfig uint32
		def      Version
		gmii     bool
		want     Version
	}{
		{0x00000000, Ver01, true, Ver01},
		{0x00800000, Ver01, true, Ver02},
		{0x18000000, Ver01, true, Ver05},
		{0x30000000, Ver11, true, Ver11},
		{0x2c800000, Ver11, true, Ver34},
		{0x2c900000, Ver11, true, Ver34},
		{0x28100000, Ver11, true, Ver25},
		{0x4c000000, Ver11, true, Ver40},
		{0x24800000, Ver13, false, Ver07},
		{0x34000000, Ver13, false, Ver13},
		// Told apart by gigabit support.
		{0x50900000, Ver11, true, Ver42},
		{0x50900000, Ver13, false, Ver43},
		{0x54000000, Ver13, false, Ver47},
		{0x54100000, Ver13, false, Ver48},
		// Unknown ids take the family default.
		{0x7c000000, Ver11, true, Ver11},
		{0x7c000000, Ver13, false, Ver13},
	} {
		if got, want := Identify(x.txConfig, x.def, x.gmii), x.want; got != want {
			t.Errorf("Identify(0x%08x): got %v want %v", x.txConfig, got, want)
		}
	}
}

func TestIdentifyTable(t *testing.T) {
	split := map[Version]Version{Ver42: Ver43, Ver45: Ver47, Ver46: Ver48}
	seen := make(map[Version]bool)
	checked := 0
	for i := range macInfos {
		p := &macInfos[i]
		if p.version == VerNone {
			continue
		}
		if p.val&p.mask != p.val {
			t.Errorf("row %d: 0x%08x outside mask 0x%08x", i, p.val, p.mask)
			continue
		}
		first := i
		for j := 0; j < i; j++ {
			if p.val&macInfos[j].mask == macInfos[j].val {
				first = j
				break
			}
		}
		if first != i {
			// Shadowed by an earlier row.
			continue
		}
		checked++
		if got, want := Identify(p.val, VerNone, true), p.version; got != want {
			t.Errorf("row %d: Identify(0x%08x, gmii): got %v want %v", i, p.val, got, want)
		}
		want := p.version
		if v, ok := split[want]; ok {
			want = v
			seen[p.version] = true
		}
		if got := Identify(p.val, VerNone, false); got != want {
			t.Errorf("row %d: Identify(0x%08x): got %v want %v", i, p.val, got, want)
		}
	}
	if checked < len(macInfos)/2 {
		t.Errorf("checked %d of %d rows", checked, len(macInfos))
	}
	for _, v := range []Version{Ver42, Ver45, Ver46} {
		if !seen[v] {
			t.Errorf("%v: no row checked", v)
		}
	}
	for _, x := range []struct {
		txConfig     uint32
		gmii, nogmii Version
	}{
		{0x50900000, Ver42, Ver43},
		{0x54000000, Ver45, Ver47},
		{0x54100000, Ver46, Ver48},
	} {
		if got, want := Identify(x.txConfig, Ver11, true), x.gmii; got != want {
			t.Errorf("0x%08x gmii: got %v want %v", x.txConfig, got, want)
		}
		if got, want := Identify(x.txConfig, Ver11, false), x.nogmii; got != want {
			t.Errorf("0x%08x: got %v want %v", x.txConfig, got, want)
		}
	}
}

func TestNewProfile(t *testing.T) {
	for _, x := range []struct {
		v      Version
		f      Family
		txDesc TxDescVersion
		fw     string
		jumbo  int
	}{
		{Ver02, Family8169, TxDesc0, "", jumbo7K},
		{Ver11, Family8168, TxDesc0, "", jumbo4K},
		{Ver07, Family8101, TxDesc1, "", jumbo1K},
		{Ver25, Family8168, TxDesc1, "rtl_nic/rtl8168d-1.fw", jumbo9K},
		{Ver34, Family8168, TxDesc1, "rtl_nic/rtl8168e-3.fw", jumbo9K},
		{Ver40, Family8168, TxDesc1, "rtl_nic/rtl8168g-2.fw", jumbo9K},
	} {
		p, err := NewProfile(x.v, x.f)
		if err != nil {
			t.Fatalf("%v: %v", x.v, err)
		}
		if got, want := p.TxDesc, x.txDesc; got != want {
			t.Errorf("%v: tx desc: got %v want %v", x.v, got, want)
		}
		if got, want := p.Firmware, x.fw; got != want {
			t.Errorf("%v: firmware: got %q want %q", x.v, got, want)
		}
		if got, want := p.JumboMax, x.jumbo; got != want {
			t.Errorf("%v: jumbo: got %d want %d", x.v, got, want)
		}
		if p.mdio == nil || p.tso == nil {
			t.Errorf("%v: missing mdio or tso ops", x.v)
		}
	}

	if _, err := NewProfile(nVersion, Family8168); !errors.Is(err, ErrVersion) {
		t.Errorf("bad version: got %v want %v", err, ErrVersion)
	}
}

func TestProfileOps(t *testing.T) {
	p, _ := NewProfile(Ver40, Family8168)
	if _, ok := p.mdio.(mdio8168g); !ok {
		t.Errorf("Ver40 mdio: got %T", p.mdio)
	}
	if p.jumbo != nil {
		t.Errorf("Ver40 jumbo: got %T want none", p.jumbo)
	}

	p, _ = NewProfile(Ver11, Family8168)
	if got, want := p.eventSlow&RxFIFOOver, uint16(RxFIFOOver); got != want {
		t.Errorf("Ver11 slow events: rx fifo over not set")
	}
	if p.eventSlow&RxOverflow != 0 {
		t.Errorf("Ver11 slow events: rx overflow set")
	}

	p, _ = NewProfile(Ver30, Family8101)
	if p.eventSlow&RxFIFOOver != 0 {
		t.Errorf("Ver30 slow events: rx fifo over set")
	}
	if _, ok := p.pll.(pll810x); !ok {
		t.Errorf("Ver30 pll: got %T", p.pll)
	}

	p, _ = NewProfile(Ver01, Family8169)
	if got, want := p.opts1Mask, ^uint32(0); got != want {
		t.Errorf("Ver01 opts1 mask: got 0x%x want 0x%x", got, want)
	}
	if p.csi != nil || p.oob != nil {
		t.Errorf("Ver01: unexpected csi or oob ops")
	}

	p, _ = NewProfile(Ver28, Family8168)
	if _, ok := p.oob.(oob8168dp); !ok {
		t.Errorf("Ver28 oob: got %T", p.oob)
	}
	p, _ = NewProfile(Ver50, Family8168)
	if _, ok := p.oob.(oob8168ep); !ok {
		t.Errorf("Ver50 oob: got %T", p.oob)
	}
}

func TestVersionString(t *testing.T) {
	if got, want := Ver01.String(), "01"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := Ver34.String(), "34"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
	if got, want := VerNone.String(), "unknown"; got != want {
		t.Errorf("got %s want %s", got, want)
	}
}

func TestLookupFamily(t *testing.T) {
	for _, x := range []struct {
		vendor, device, subVendor, subDevice uint16
		f                                    Family
		ok                                   bool
	}{
		{0x10ec, 0x8168, 0x1043, 0x8432, Family8168, true},
		{0x10ec, 0x8169, 0, 0, Family8169, true},
		{0x10ec, 0x8136, 0, 0, Family8101, true},
		{0x1186, 0x4300, 0x1186, 0x4b10, Family8168, true},
		{0x1186, 0x4300, 0x1186, 0x0001, Family8169, true},
		{0x1737, 0x1032, 0, 0x0024, Family8169, true},
		{0x1737, 0x1032, 0, 0x0025, 0, false},
		{0x8086, 0x10fb, 0, 0, 0, false},
	} {
		f, ok := LookupFamily(x.vendor, x.device, x.subVendor, x.subDevice)
		if ok != x.ok || (ok && f != x.f) {
			t.Errorf("%04x:%04x %04x:%04x: got %v %v want %v %v",
				x.vendor, x.device, x.subVendor, x.subDevice, f, ok, x.f, x.ok)
		}
	}
}

func ExampleIdentify() {
	v := Identify(0x2c800000, Family8168.DefaultVersion(), Family8168.GMII())
	p, _ := NewProfile(v, Family8168)
	fmt.Println(p)
	// Output: RTL8168evl/8111evl mac version 34 td1 jumbo 9200
}
