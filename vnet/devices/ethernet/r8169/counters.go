// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinasystems/r8169/elib/hw"
)

const tallyBytes = 64

// tally is the chip's DMA counter dump, little endian.
type tally struct {
	TxPackets        uint64
	RxPackets        uint64
	TxErrors         uint64
	RxErrors         uint32
	RxMissed         uint16
	AlignErrors      uint16
	TxOneCollision   uint32
	TxMultiCollision uint32
	RxUnicast        uint64
	RxBroadcast      uint64
	RxMulticast      uint32
	TxAborted        uint16
	TxUnderrun       uint16
}

func (t *tally) decode(b []byte) {
	le := binary.LittleEndian
	t.TxPackets = le.Uint64(b[0:])
	t.RxPackets = le.Uint64(b[8:])
	t.TxErrors = le.Uint64(b[16:])
	t.RxErrors = le.Uint32(b[24:])
	t.RxMissed = le.Uint16(b[28:])
	t.AlignErrors = le.Uint16(b[30:])
	t.TxOneCollision = le.Uint32(b[32:])
	t.TxMultiCollision = le.Uint32(b[36:])
	t.RxUnicast = le.Uint64(b[40:])
	t.RxBroadcast = le.Uint64(b[48:])
	t.RxMulticast = le.Uint32(b[56:])
	t.TxAborted = le.Uint16(b[60:])
	t.TxUnderrun = le.Uint16(b[62:])
}

// Software counters kept by the ring code.
type swStats struct {
	rxPackets, rxBytes, rxDropped, rxErrors   atomic.Uint64
	rxLengthErrors, rxCRCErrors, rxFifoErrors atomic.Uint64
	rxMissed                                  atomic.Uint64
	txPackets, txBytes, txDropped             atomic.Uint64
	interrupts, resets                        atomic.Uint64
}

// Stats is a snapshot of device counters.
type Stats struct {
	RxPackets      uint64
	RxBytes        uint64
	RxDropped      uint64
	RxErrors       uint64
	RxLengthErrors uint64
	RxCRCErrors    uint64
	RxFifoErrors   uint64
	RxMissed       uint64
	TxPackets      uint64
	TxBytes        uint64
	TxDropped      uint64
	Interrupts     uint64
	Resets         uint64

	// Hardware tally relative to the first open.
	TxErrors   uint64
	Collisions uint64
	TxAborted  uint64
}

// Fields walks the stats as name/value pairs in a fixed order.
func (s *Stats) Fields(f func(name string, v uint64)) {
	f("rx packets", s.RxPackets)
	f("rx bytes", s.RxBytes)
	f("rx dropped", s.RxDropped)
	f("rx errors", s.RxErrors)
	f("rx length errors", s.RxLengthErrors)
	f("rx crc errors", s.RxCRCErrors)
	f("rx fifo errors", s.RxFifoErrors)
	f("rx missed", s.RxMissed)
	f("tx packets", s.TxPackets)
	f("tx bytes", s.TxBytes)
	f("tx dropped", s.TxDropped)
	f("tx errors", s.TxErrors)
	f("tx collisions", s.Collisions)
	f("tx aborted", s.TxAborted)
	f("interrupts", s.Interrupts)
	f("resets", s.Resets)
}

func counterCond(cmd uint32) *cond {
	return &cond{"counters", func(d *Dev) bool { return CounterAddrLow.get(d)&cmd != 0 }}
}

// doCounters has the chip reset or dump its tally by DMA.
func (d *Dev) doCounters(cmd uint32) (ok bool) {
	addr := d.tallyAddr
	CounterAddrHigh.set(d, uint32(addr>>32))
	CounterAddrLow.set(d, uint32(addr))
	CounterAddrLow.set(d, uint32(addr)|cmd)
	ok = d.waitLow(counterCond(cmd), 10*time.Microsecond, 1000)
	CounterAddrLow.set(d, 0)
	CounterAddrHigh.set(d, 0)
	return
}

func (d *Dev) resetCounters() bool {
	// Versions prior to 8168c do not support counter reset.
	if d.profile.Version < Ver19 {
		return true
	}
	return d.doCounters(CounterReset)
}

// updateCounters refreshes the tally.  Dumping needs the receiver on.
func (d *Dev) updateCounters() bool {
	if ChipCmd.get(d)&CmdRxEnb == 0 {
		return true
	}
	if !d.doCounters(CounterDump) {
		return false
	}
	hw.MemoryBarrier()
	d.tally.decode(d.tallyMem)
	return true
}

// initCounters captures the baseline the first time the device opens.
func (d *Dev) initCounters() bool {
	if d.baselineSet {
		return true
	}
	if !d.resetCounters() {
		d.logf("warning: %s: counter reset failed", d)
	}
	ok := d.updateCounters()
	d.baseline = d.tally
	d.baselineSet = ok
	return ok
}

func (d *Dev) rxMissed() {
	if d.profile.Version > Ver06 {
		return
	}
	d.sw.rxMissed.Add(uint64(RxMissed.get(d) & 0xffffff))
	RxMissed.set(d, 0)
}

// Stats returns counters, refreshing the tally when open.
func (d *Dev) Stats() (s Stats) {
	d.mu.Lock()
	if d.isOpen {
		d.rxMissed()
		d.updateCounters()
	}
	t, b := d.tally, d.baseline
	d.mu.Unlock()

	w := &d.sw
	s = Stats{
		RxPackets:      w.rxPackets.Load(),
		RxBytes:        w.rxBytes.Load(),
		RxDropped:      w.rxDropped.Load(),
		RxErrors:       w.rxErrors.Load(),
		RxLengthErrors: w.rxLengthErrors.Load(),
		RxCRCErrors:    w.rxCRCErrors.Load(),
		RxFifoErrors:   w.rxFifoErrors.Load(),
		RxMissed:       w.rxMissed.Load(),
		TxPackets:      w.txPackets.Load(),
		TxBytes:        w.txBytes.Load(),
		TxDropped:      w.txDropped.Load(),
		Interrupts:     w.interrupts.Load(),
		Resets:         w.resets.Load(),
	}
	if d.baselineSet {
		s.TxErrors = t.TxErrors - b.TxErrors
		s.Collisions = uint64(t.TxMultiCollision - b.TxMultiCollision)
		s.TxAborted = uint64(t.TxAborted - b.TxAborted)
	}
	return
}

func (t *tally) String() string {
	return fmt.Sprintf("tx %d rx %d tx errors %d rx errors %d missed %d align %d "+
		"collisions %d/%d unicast %d broadcast %d multicast %d aborted %d underrun %d",
		t.TxPackets, t.RxPackets, t.TxErrors, t.RxErrors, t.RxMissed, t.AlignErrors,
		t.TxOneCollision, t.TxMultiCollision, t.RxUnicast, t.RxBroadcast, t.RxMulticast,
		t.TxAborted, t.TxUnderrun)
}
