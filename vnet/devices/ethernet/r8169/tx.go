// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/platinasystems/r8169/elib/hw"
)

var ErrRingFull = errors.New("tx ring full")

// L4 is the transport protocol of a packet asking for checksum offload.
type L4 uint8

const (
	L4Other L4 = iota
	L4TCP
	L4UDP
)

var l4Names = [...]string{L4Other: "other", L4TCP: "tcp", L4UDP: "udp"}

func (l L4) String() string {
	if int(l) < len(l4Names) {
		return l4Names[l]
	}
	return fmt.Sprintf("l4 %d", int(l))
}

// Offload is what a packet asks the hardware to do on transmit.
type Offload struct {
	// Insert the transport checksum.
	Csum bool
	// Non-zero asks for TCP segmentation with this MSS.
	MSS  uint16
	IPv6 bool
	L4   L4
	// Byte offsets of the IP and transport headers from the start of frame.
	NetworkOffset   int
	TransportOffset int
}

// Packet is a frame handed to the transmit ring.
type Packet interface {
	// Frags are the frame's buffers in order; the first holds the headers.
	Frags() [][]byte
	Len() int
	Offload() Offload
	VlanTag() (tag uint16, ok bool)
	// ChecksumSoftware fills in the transport checksum and drops the
	// checksum request from Offload.
	ChecksumSoftware() error
	// Free is called once the hardware is done with the packet.
	Free()
}

// Queue is the device's out queue.  Dequeue returns nil when empty.
type Queue interface {
	Dequeue() Packet
}

// TX descriptor bits.
const (
	tdLSO    = 1 << 27
	tdMSSMax = 0x07ff

	txVlanTag = 1 << 17

	// 8169, 8168b and 810x except 8102e.
	td0MSSShift = 16
	td0TCPCs    = 1 << 16
	td0UDPCs    = 1 << 17
	td0IPCs     = 1 << 18

	// 8102e, 8168c and later.
	td1GTSENv4   = 1 << 26
	td1GTSENv6   = 1 << 25
	gttcphoShift = 18
	gttcphoMax   = 0x7f
	tcphoShift   = 18
	tcphoMax     = 0x3ff
	td1MSSShift  = 18
	td1IPv6Cs    = 1 << 28
	td1IPv4Cs    = 1 << 29
	td1TCPCs     = 1 << 30
	td1UDPCs     = 1 << 31
)

// Frames with more fragments are copied into one buffer.
const MaxFrags = 16

const ethMinFrame = 60

type txSlot struct {
	// Set on the slot holding the last fragment.
	pkt  Packet
	addr uint64
	len  uint32
}

type txRing struct {
	descRing
	slots [nTxDesc]txSlot
	// Free running; written by the submitter (cur) and the reclaimer (dirty).
	cur, dirty uint32
}

func (t *txRing) avail() uint32 {
	return atomic.LoadUint32(&t.dirty) + nTxDesc - atomic.LoadUint32(&t.cur)
}

// A packet with n extra fragments needs n+1 descriptors.
func (t *txRing) fragsReady(n uint32) bool { return t.avail() >= n+1 }

func ringEnd(entry, n uint32) uint32 {
	if (entry+1)%n == 0 {
		return RingEnd
	}
	return 0
}

type tsoCsumFunc func(d *Dev, p Packet, o *Offload, opts *[2]uint32) bool

func tsoCsumV1(d *Dev, p Packet, o *Offload, opts *[2]uint32) bool {
	if o.MSS != 0 {
		if o.MSS > tdMSSMax {
			d.logf("warning: %s: mss %d too large for tso", d, o.MSS)
			return false
		}
		opts[0] |= tdLSO
		opts[0] |= uint32(o.MSS) << td0MSSShift
	} else if o.Csum {
		switch o.L4 {
		case L4TCP:
			opts[0] |= td0IPCs | td0TCPCs
		case L4UDP:
			opts[0] |= td0IPCs | td0UDPCs
		default:
			d.warnOnce(&d.warnedCsum, "checksum offload for %v", o.L4)
		}
	}
	return true
}

func tsoCsumV2(d *Dev, p Packet, o *Offload, opts *[2]uint32) bool {
	off := uint32(o.TransportOffset)
	if o.MSS != 0 {
		if o.MSS > tdMSSMax {
			d.logf("warning: %s: mss %d too large for tso", d, o.MSS)
			return false
		}
		if off > gttcphoMax {
			d.logf("warning: %s: invalid transport offset 0x%x for tso", d, off)
			return false
		}
		if o.IPv6 {
			if !giantSendCheck(p, o) {
				return false
			}
			opts[0] |= td1GTSENv6
		} else {
			opts[0] |= td1GTSENv4
		}
		opts[0] |= off << gttcphoShift
		opts[1] |= uint32(o.MSS) << td1MSSShift
	} else if o.Csum {
		// Checksummed short frames are not padded correctly.
		if d.profile.Version == Ver34 && p.Len() < ethMinFrame {
			return false
		}
		if off > tcphoMax {
			d.logf("warning: %s: invalid transport offset 0x%x", d, off)
			return false
		}
		if o.IPv6 {
			opts[1] |= td1IPv6Cs
		} else {
			opts[1] |= td1IPv4Cs
		}
		switch o.L4 {
		case L4TCP:
			opts[1] |= td1TCPCs
		case L4UDP:
			opts[1] |= td1UDPCs
		default:
			d.warnOnce(&d.warnedCsum, "checksum offload for %v", o.L4)
		}
		opts[1] |= off << tcphoShift
	}
	return true
}

// giantSendCheck removes the payload length from the TCP pseudo header
// checksum of an IPv6 segmentation request; the hardware adds it back
// per segment.
func giantSendCheck(p Packet, o *Offload) bool {
	h := p.Frags()[0]
	ip, th := o.NetworkOffset, o.TransportOffset
	if ip < 0 || ip+6 > len(h) || th+18 > len(h) {
		return false
	}
	sum := uint32(h[th+16])<<8 | uint32(h[th+17])
	plen := uint32(h[ip+4])<<8 | uint32(h[ip+5])
	// sum - plen in ones complement
	x := sum + ^plen&0xffff
	for x>>16 != 0 {
		x = x&0xffff + x>>16
	}
	h[th+16], h[th+17] = byte(x>>8), byte(x)
	return true
}

func txVlan(p Packet) uint32 {
	if tag, ok := p.VlanTag(); ok {
		return txVlanTag | uint32(tag>>8|tag<<8)
	}
	return 0
}

func (d *Dev) unmapTx(entry uint32) {
	t := &d.tx
	s := &t.slots[entry%nTxDesc]
	d.dma.DmaUnmap(s.addr)
	t.clear(entry)
	s.addr, s.len = 0, 0
}

// txClearRange releases n slots starting at start.
func (d *Dev) txClearRange(start, n uint32) {
	for i := uint32(0); i < n; i++ {
		entry := start + i
		s := &d.tx.slots[entry%nTxDesc]
		if s.len == 0 {
			continue
		}
		p := s.pkt
		d.unmapTx(entry)
		if p != nil {
			p.Free()
			s.pkt = nil
		}
	}
}

func (d *Dev) txClear() {
	d.txClearRange(d.tx.dirty, nTxDesc)
	atomic.StoreUint32(&d.tx.cur, 0)
	atomic.StoreUint32(&d.tx.dirty, 0)
}

func (d *Dev) txDrop(p Packet) {
	d.sw.txDropped.Add(1)
	p.Free()
}

// xmitFrags maps the fragments after the first into the slots following
// the head.  Returns the number of fragment descriptors written.
func (d *Dev) xmitFrags(p Packet, frags [][]byte, opts *[2]uint32) (n uint32, err error) {
	t := &d.tx
	entry := t.cur
	for _, b := range frags {
		entry++
		var addr uint64
		if addr, err = d.dma.DmaMap(b); err != nil {
			d.txClearRange(t.cur+1, n)
			return
		}
		l := uint32(len(b))
		t.setOpts1(entry, opts[0]|l|ringEnd(entry, nTxDesc))
		t.setOpts2(entry, opts[1])
		t.setBufAddr(entry, addr)
		s := &t.slots[entry%nTxDesc]
		s.addr, s.len = addr, l
		n++
	}
	if n > 0 {
		t.slots[entry%nTxDesc].pkt = p
		t.setOpts1(entry, t.opts1(entry)|LastFrag)
	}
	return
}

// xmit places one packet on the ring.  ErrRingFull leaves the packet
// with the caller; any other outcome consumes it.
func (d *Dev) xmit(p Packet) (err error) {
	t := &d.tx
	var frags [][]byte
	for _, b := range p.Frags() {
		if len(b) > 0 {
			frags = append(frags, b)
		}
	}
	if len(frags) == 0 {
		d.txDrop(p)
		return
	}
	nf := uint32(len(frags) - 1)
	if !t.fragsReady(nf) {
		d.logf("err: %s: tx ring full when queue awake", d)
		return ErrRingFull
	}
	entry := t.cur
	if t.opts1(entry)&DescOwn != 0 {
		return ErrRingFull
	}

	opts := [2]uint32{DescOwn, 0}
	if d.features()&FeatureTxVlan != 0 {
		opts[1] = txVlan(p)
	}
	o := p.Offload()
	if !d.profile.tso(d, p, &o, &opts) {
		return d.csumWorkaround(p, &o)
	}

	head := frags[0]
	addr, err := d.dma.DmaMap(head)
	if err != nil {
		d.logf("err: %s: failed to map tx dma: %v", d, err)
		d.txDrop(p)
		return nil
	}
	l := uint32(len(head))
	s := &t.slots[entry%nTxDesc]
	s.addr, s.len = addr, l
	t.setBufAddr(entry, addr)

	n, err := d.xmitFrags(p, frags[1:], &opts)
	if err != nil {
		d.logf("err: %s: failed to map tx fragment dma: %v", d, err)
		d.unmapTx(entry)
		d.txDrop(p)
		return nil
	}
	if n > 0 {
		opts[0] |= FirstFrag
	} else {
		opts[0] |= FirstFrag | LastFrag
		s.pkt = p
	}

	t.setOpts2(entry, opts[1])
	hw.MemoryBarrier()
	t.setOpts1(entry, opts[0]|l|ringEnd(entry, nTxDesc))
	hw.MemoryBarrier()
	atomic.StoreUint32(&t.cur, t.cur+n+1)
	TxPoll.set(d, NPQ)
	return nil
}

// csumWorkaround handles packets the hardware cannot offload.
func (d *Dev) csumWorkaround(p Packet, o *Offload) error {
	switch {
	case o.MSS != 0:
		d.logf("warning: %s: dropping %d byte segmentation request", d, p.Len())
	case o.Csum:
		if err := p.ChecksumSoftware(); err != nil {
			d.logf("warning: %s: software checksum: %v", d, err)
			break
		}
		return d.xmit(p)
	}
	d.txDrop(p)
	return nil
}

// txReclaim frees descriptors the chip is done with.
func (d *Dev) txReclaim() {
	t := &d.tx
	dirty := t.dirty
	cur := atomic.LoadUint32(&t.cur)
	for left := cur - dirty; left > 0; left-- {
		status := t.opts1(dirty)
		if status&DescOwn != 0 {
			break
		}
		s := &t.slots[dirty%nTxDesc]
		d.unmapTx(dirty)
		if status&LastFrag != 0 && s.pkt != nil {
			d.sw.txPackets.Add(1)
			d.sw.txBytes.Add(uint64(s.pkt.Len()))
			s.pkt.Free()
			s.pkt = nil
		}
		dirty++
	}
	if t.dirty == dirty {
		return
	}
	atomic.StoreUint32(&t.dirty, dirty)
	// The 8168 loses TxPoll requests issued too close together.
	if atomic.LoadUint32(&t.cur) != dirty {
		TxPoll.set(d, NPQ)
	}
	d.poke()
}

// TxTimeout resets the chip when the caller's watchdog sees a stuck ring.
func (d *Dev) TxTimeout() { d.scheduleTask(taskResetPending) }
