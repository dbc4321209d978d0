// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"fmt"
	"io"
	"sync/atomic"
)

const nRegBytes = 256

// DumpRegs writes the register window as 32 bit words.
func (d *Dev) DumpRegs(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for o := uint(0); o < nRegBytes; o += 16 {
		fmt.Fprintf(w, "%02x:", o)
		for i := uint(0); i < 16; i += 4 {
			fmt.Fprintf(w, " %08x", reg32(o+i).get(d))
		}
		fmt.Fprintln(w)
	}
}

// DumpRings writes the descriptors between dirty and cur of both rings.
func (d *Dev) DumpRings(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isOpen {
		fmt.Fprintln(w, "closed")
		return
	}
	cur, dirty := atomic.LoadUint32(&d.tx.cur), atomic.LoadUint32(&d.tx.dirty)
	fmt.Fprintf(w, "tx: cur %d dirty %d\n", cur, dirty)
	for i := dirty; i != cur; i++ {
		fmt.Fprintf(w, "  %2d: %s\n", i%nTxDesc, d.tx.String(i))
	}
	fmt.Fprintf(w, "rx: cur %d\n", d.rx.cur)
	for i := uint32(0); i < nRxDesc; i++ {
		e := d.rx.cur + i
		if d.rx.opts1(e)&DescOwn != 0 {
			break
		}
		fmt.Fprintf(w, "  %3d: %s\n", e%nRxDesc, d.rx.String(e))
	}
}

// ReadPhy and the other accessors below reach the indirect buses
// for debugging.
func (d *Dev) ReadPhy(reg int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readPhy(reg)
}

func (d *Dev) WritePhy(reg int, v uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writePhy(reg, v)
}

func (d *Dev) ReadEri(addr int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.eriRead(addr, eriarExgmac)
}

func (d *Dev) ReadEphy(reg int) uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ephyRead(reg)
}

func (d *Dev) ReadCsi(addr int) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csiRead(addr)
}

func (d *Dev) ReadEfuse(reg int) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.efuseRead(reg)
}

// Tally is the raw hardware counter dump.
func (d *Dev) Tally() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isOpen {
		d.updateCounters()
	}
	return d.tally.String()
}
