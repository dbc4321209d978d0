// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"fmt"

	"github.com/platinasystems/r8169/elib/hw"
)

// RX descriptor status bits (opts1).
const (
	RxBOVF  = 1 << 24
	RxFOVF  = 1 << 23
	RxRWT   = 1 << 22
	RxRES   = 1 << 21
	RxRUNT  = 1 << 20
	RxCRC   = 1 << 19
	rxPID1  = 1 << 18 // udp
	rxPID0  = 1 << 17 // tcp
	rxProto = rxPID0 | rxPID1
	IPFail  = 1 << 16
	UDPFail = 1 << 15
	TCPFail = 1 << 14

	// opts2
	rxVlanTag = 1 << 16

	rxSizeMask = 0x3fff
	// Budget when draining the whole ring.
	rxBudgetAll = ^uint32(0)
)

// RxFrame is a received frame copied out of the ring.
type RxFrame struct {
	Data []byte
	// Hardware verified the TCP or UDP checksum.
	CsumOK  bool
	Vlan    uint16
	HasVlan bool
}

func (f *RxFrame) String() string {
	s := fmt.Sprintf("%d bytes", len(f.Data))
	if f.CsumOK {
		s += ", csum ok"
	}
	if f.HasVlan {
		s += fmt.Sprintf(", vlan %d", f.Vlan)
	}
	return s
}

// Receiver is called from the worker for each received frame.
type Receiver func(f *RxFrame)

type rxRing struct {
	descRing
	bufs  [nRxDesc][]byte
	addrs [nRxDesc]uint64
	cur   uint32
}

func (d *Dev) markToAsic(i uint32) {
	r := &d.rx
	end := r.opts1(i) & RingEnd
	r.setOpts2(i, 0)
	// Ownership goes last.
	hw.MemoryBarrier()
	r.setOpts1(i, DescOwn|end|rxBufBytes)
}

func (d *Dev) makeUnusable(i uint32) {
	r := &d.rx
	r.setBufAddr(i, unusableAddr)
	r.setOpts1(i, r.opts1(i)&^(DescOwn|rsvdMask))
}

func (d *Dev) rxClear() {
	r := &d.rx
	for i := uint32(0); i < nRxDesc; i++ {
		if r.bufs[i] == nil {
			continue
		}
		d.dma.DmaFree(r.bufs[i])
		r.bufs[i] = nil
		r.addrs[i] = 0
		d.makeUnusable(i)
	}
}

// rxFill gives every descriptor a buffer and hands it to the chip.
func (d *Dev) rxFill() error {
	r := &d.rx
	for i := uint32(0); i < nRxDesc; i++ {
		if r.bufs[i] != nil {
			continue
		}
		b, addr, err := d.dma.DmaAlloc(rxBufBytes, rxBufAlign)
		if err != nil {
			d.rxClear()
			return fmt.Errorf("%s: rx buffer %d: %w", d, i, err)
		}
		r.bufs[i], r.addrs[i] = b, addr
		r.setBufAddr(i, addr)
		d.markToAsic(i)
	}
	d.rx.setOpts1(nRxDesc-1, d.rx.opts1(nRxDesc-1)|RingEnd)
	return nil
}

func (d *Dev) initRing() error {
	d.tx.dirty, d.tx.cur = 0, 0
	d.rx.cur = 0
	for i := range d.tx.slots {
		d.tx.slots[i] = txSlot{}
	}
	return d.rxFill()
}

func rxCsumOK(status uint32) bool {
	p := status & rxProto
	return (p == rxPID0 && status&TCPFail == 0) ||
		(p == rxPID1 && status&UDPFail == 0)
}

// rxConsume processes up to budget received descriptors and returns the count.
func (d *Dev) rxConsume(budget uint32) (count uint32) {
	r := &d.rx
	f := d.features()
	budget = min(budget, nRxDesc)
	for ; count < budget; count++ {
		entry := r.cur % nRxDesc
		status := r.opts1(entry) & d.profile.opts1Mask
		if status&DescOwn != 0 {
			break
		}
		if status&RxRES != 0 {
			d.logf("info: %s: rx error, status 0x%08x", d, status)
			d.sw.rxErrors.Add(1)
			if status&(RxRWT|RxRUNT) != 0 {
				d.sw.rxLengthErrors.Add(1)
			}
			if status&RxCRC != 0 {
				d.sw.rxCRCErrors.Add(1)
			}
			if status&RxFOVF != 0 {
				d.scheduleTask(taskResetPending)
				d.sw.rxFifoErrors.Add(1)
			}
			if !(f&FeatureRxAll != 0 &&
				status&(RxRWT|RxFOVF) == 0 &&
				status&(RxRUNT|RxCRC) != 0) {
				d.markToAsic(entry)
				r.cur++
				continue
			}
		}

		size := int(status&rxSizeMask) - 4
		if f&FeatureRxFCS != 0 {
			size += 4
		}

		// Chained descriptors only show up with frames larger than rxBufBytes.
		if status&(FirstFrag|LastFrag) != FirstFrag|LastFrag {
			d.sw.rxDropped.Add(1)
			d.sw.rxLengthErrors.Add(1)
			d.markToAsic(entry)
			r.cur++
			continue
		}
		if size < 0 || size > len(r.bufs[entry]) {
			d.sw.rxDropped.Add(1)
			d.markToAsic(entry)
			r.cur++
			continue
		}

		fr := &RxFrame{Data: make([]byte, size)}
		copy(fr.Data, r.bufs[entry][:size])
		if f&FeatureRxCsum != 0 {
			fr.CsumOK = rxCsumOK(status)
		}
		if f&FeatureRxVlan != 0 {
			if o2 := r.opts2(entry); o2&rxVlanTag != 0 {
				tag := uint16(o2)
				fr.Vlan, fr.HasVlan = tag>>8|tag<<8, true
			}
		}
		d.sw.rxPackets.Add(1)
		d.sw.rxBytes.Add(uint64(size))
		if d.receive != nil {
			d.receive(fr)
		}
		d.markToAsic(entry)
		r.cur++
	}
	return
}
