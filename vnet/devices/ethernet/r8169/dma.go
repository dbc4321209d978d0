// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	nTxDesc   = 64
	nRxDesc   = 256
	descBytes = 16
	// Rings and tally need 256 byte alignment.
	ringAlign  = 256
	rxBufBytes = 16383
	rxBufAlign = 16

	// Bad address written into descriptors the chip must not use.
	unusableAddr = 0x0badbadbadbadbad
)

// Descriptor opts1 bits common to both rings.
const (
	DescOwn   = 1 << 31
	RingEnd   = 1 << 30
	FirstFrag = 1 << 29
	LastFrag  = 1 << 28

	// Reserved status bits cleared when a descriptor is made unusable.
	rsvdMask = 0x3fffc000
)

// descRing is a ring of 16 byte little endian descriptors in DMA memory:
//	opts1 u32, opts2 u32, addr u64
type descRing struct {
	mem  []byte
	addr uint64
	n    uint32
}

func (r *descRing) desc(i uint32) []byte {
	i %= r.n
	return r.mem[i*descBytes : (i+1)*descBytes : (i+1)*descBytes]
}

// Owner bit polls race with device writes so opts1 is accessed atomically.
func (r *descRing) opts1p(i uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(&r.desc(i)[0]))
}

func (r *descRing) opts1(i uint32) uint32 {
	return le32(atomic.LoadUint32(r.opts1p(i)))
}

func (r *descRing) setOpts1(i uint32, v uint32) {
	atomic.StoreUint32(r.opts1p(i), le32(v))
}

func (r *descRing) opts2(i uint32) uint32 {
	return binary.LittleEndian.Uint32(r.desc(i)[4:])
}

func (r *descRing) setOpts2(i uint32, v uint32) {
	binary.LittleEndian.PutUint32(r.desc(i)[4:], v)
}

func (r *descRing) bufAddr(i uint32) uint64 {
	return binary.LittleEndian.Uint64(r.desc(i)[8:])
}

func (r *descRing) setBufAddr(i uint32, v uint64) {
	binary.LittleEndian.PutUint64(r.desc(i)[8:], v)
}

func (r *descRing) clear(i uint32) {
	r.setOpts1(i, 0)
	r.setOpts2(i, 0)
	r.setBufAddr(i, 0)
}

func (r *descRing) String(i uint32) (s string) {
	o1 := r.opts1(i)
	if o1&DescOwn != 0 {
		s = "hw: "
	} else {
		s = "sw: "
	}
	s += fmt.Sprintf("buffer %x, opts1 %08x opts2 %08x", r.bufAddr(i), o1, r.opts2(i))
	if o1&RingEnd != 0 {
		s += ", ring-end"
	}
	if o1&FirstFrag != 0 {
		s += ", first"
	}
	if o1&LastFrag != 0 {
		s += ", last"
	}
	return
}

var hostLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// le32 converts between host and little endian byte order.
func le32(v uint32) uint32 {
	if hostLittleEndian {
		return v
	}
	return v>>24 | v>>8&0xff00 | v<<8&0xff0000 | v<<24
}

func (d *Dev) allocRing(r *descRing, n uint32) (err error) {
	r.n = n
	r.mem, r.addr, err = d.dma.DmaAlloc(uint(n*descBytes), ringAlign)
	if err != nil {
		err = fmt.Errorf("%s: %d descriptor ring: %w", d, n, err)
	}
	return
}

func (d *Dev) freeRing(r *descRing) {
	if r.mem != nil {
		d.dma.DmaFree(r.mem)
		r.mem, r.addr = nil, 0
	}
}

// setDescRegisters points the chip at both rings.
// High before low: some boards require it.
func (d *Dev) setDescRegisters() {
	TxDescStartHigh.set(d, uint32(d.tx.addr>>32))
	TxDescStartLow.set(d, uint32(d.tx.addr))
	RxDescAddrHigh.set(d, uint32(d.rx.addr>>32))
	RxDescAddrLow.set(d, uint32(d.rx.addr))
}
