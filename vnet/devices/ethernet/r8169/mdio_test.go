// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"testing"
	"time"

	"github.com/platinasystems/r8169/elib/hw"
)

func TestPhyAccess(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.WritePhy(MII_ADVERTISE, 0x01e1)
	if got, want := td.ReadPhy(MII_ADVERTISE), uint32(0x01e1); got != want {
		t.Errorf("got 0x%04x want 0x%04x", got, want)
	}
	if got, want := td.chip.phy[MII_ADVERTISE], uint32(0x01e1); got != want {
		t.Errorf("phyar write: got 0x%04x want 0x%04x", got, want)
	}
}

func TestPhyOcpPaged(t *testing.T) {
	td := newTestDev(t, txConfig8168g, Family8168)
	td.WritePhy(MII_CTRL1000, 0x0300)
	if got, want := td.chip.ocp[ocpStdPhyBase+2*MII_CTRL1000], uint32(0x0300); got != want {
		t.Errorf("std page: got 0x%04x want 0x%04x", got, want)
	}

	// Page 0xa43, register 0x18.
	td.WritePhy(0x1f, 0x0a43)
	td.WritePhy(0x18, 0x2100)
	if got, want := td.chip.ocp[0xa430+2*(0x18-0x10)], uint32(0x2100); got != want {
		t.Errorf("paged: got 0x%04x want 0x%04x", got, want)
	}
	if got, want := td.ReadPhy(0x18), uint32(0x2100); got != want {
		t.Errorf("paged read: got 0x%04x want 0x%04x", got, want)
	}
	td.WritePhy(0x1f, 0)
	if got, want := td.ocpBase, uint32(ocpStdPhyBase); got != want {
		t.Errorf("page 0: base got 0x%x want 0x%x", got, want)
	}
	if got, want := td.ReadPhy(MII_CTRL1000), uint32(0x0300); got != want {
		t.Errorf("std read: got 0x%04x want 0x%04x", got, want)
	}
}

func TestOcpRegInvalid(t *testing.T) {
	td := newTestDev(t, txConfig8168g, Family8168)
	td.phyOcpWrite(0xa401, 1)
	td.phyOcpWrite(0x10000, 1)
	if got, want := td.log.count("invalid ocp reg"), 2; got != want {
		t.Errorf("log: got %d want %d", got, want)
	}
	if got, want := td.phyOcpRead(0xa401), uint16(0); got != want {
		t.Errorf("read: got 0x%x want 0x%x", got, want)
	}
}

func TestEri(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.mu.Lock()
	td.eriWrite(0x100, eriarMask1111, 0x11223344, eriarExgmac)
	td.eriWrite(0x100, eriarMask0001, 0xff, eriarExgmac)
	td.eriWrite(0x102, eriarMask1111, 0, eriarExgmac)
	td.eriWrite(0x104, 0, 0, eriarExgmac)
	td.w0w1Eri(0x100, eriarMask0100, 0x00aa0000, 0x00ff0000, eriarExgmac)
	td.mu.Unlock()

	if got, want := td.ReadEri(0x100), uint32(0x11aa33ff); got != want {
		t.Errorf("got 0x%08x want 0x%08x", got, want)
	}
	if got, want := td.log.count("bad eri write"), 2; got != want {
		t.Errorf("bad args logged: got %d want %d", got, want)
	}
}

func TestEphyCsiEfuse(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.mu.Lock()
	td.ephyWrite(0x19, 0xff64)
	td.csiWrite(0x070c, 0x12345678)
	td.mu.Unlock()
	td.chip.fuse[0x2a] = 0x5a

	if got, want := td.ReadEphy(0x19), uint16(0xff64); got != want {
		t.Errorf("ephy: got 0x%04x want 0x%04x", got, want)
	}
	if got, want := td.ReadCsi(0x070c), uint32(0x12345678); got != want {
		t.Errorf("csi: got 0x%08x want 0x%08x", got, want)
	}
	if got, want := td.ReadEfuse(0x2a), uint8(0x5a); got != want {
		t.Errorf("efuse: got 0x%02x want 0x%02x", got, want)
	}

	// Old chips have no CSI window.
	old := newTestDev(t, txConfig8169s, Family8169)
	if got, want := old.ReadCsi(0x070c), ^uint32(0); got != want {
		t.Errorf("no csi: got 0x%08x want 0x%08x", got, want)
	}
}

func TestCsiAccessEnable(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.open(t)
	// Set by the start sequence.
	if got, want := td.ReadCsi(0x070c)&0xff000000, uint32(csiAccess1); got != want {
		t.Errorf("8168evl: got 0x%08x want 0x%08x", got, want)
	}
	fe := newTestDev(t, txConfig8102e, Family8101)
	fe.open(t)
	if got, want := fe.ReadCsi(0x070c)&0xff000000, uint32(csiAccess2); got != want {
		t.Errorf("8102e: got 0x%08x want 0x%08x", got, want)
	}
}

func TestBusTimeout(t *testing.T) {
	p, err := NewProfile(Ver02, Family8169)
	if err != nil {
		t.Fatal(err)
	}
	l := &testLog{}
	var slept time.Duration
	d := &Dev{
		name:    "stuck",
		regs:    make(hw.Mem, nRegBytes),
		profile: p,
		logf:    l.logf,
		delay:   func(t time.Duration) { slept += t },
	}
	if got, want := d.readPhy(MII_BMSR), ^uint32(0); got != want {
		t.Errorf("read: got 0x%x want 0x%x", got, want)
	}
	if got, want := l.count("phyar == 0"), 1; got != want {
		t.Errorf("timeout log: got %d want %d", got, want)
	}
	// 20 polls of 25us then the 20us settle.
	if got, want := slept, 20*25*time.Microsecond+20*time.Microsecond; got != want {
		t.Errorf("slept: got %v want %v", got, want)
	}
}
