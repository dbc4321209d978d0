// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platinasystems/r8169/elib/hw"
)

// fakeChip models enough of the register window for the driver to run:
// indirect buses complete at once, reset bits self clear, interrupt
// status is write 1 to clear and counter dumps copy tally into DMA memory.
type fakeChip struct {
	mu  sync.Mutex
	mem [nRegBytes]byte

	phy  map[uint32]uint32 // PHYAR register number
	ocp  map[uint32]uint32 // GPHY OCP byte address
	eri  map[uint32]uint32 // type<<12 | address
	ephy map[uint32]uint32
	csi  map[uint32]uint32
	fuse map[uint32]uint8

	heap      *hw.DmaHeap
	tally     [tallyBytes]byte
	doorbells int
	dumps     int
	resets    int

	// Called with the register offset before each write, unlocked.
	onWrite func(o uint)
}

func newFakeChip(txConfig uint32, heap *hw.DmaHeap) *fakeChip {
	f := &fakeChip{
		phy:  make(map[uint32]uint32),
		ocp:  make(map[uint32]uint32),
		eri:  make(map[uint32]uint32),
		ephy: make(map[uint32]uint32),
		csi:  make(map[uint32]uint32),
		fuse: make(map[uint32]uint8),
		heap: heap,
	}
	binary.LittleEndian.PutUint32(f.mem[TxConfig:], txConfig)
	copy(f.mem[MAC0:], []byte{0x00, 0xe0, 0x4c, 0x12, 0x34, 0x56})
	return f
}

func (f *fakeChip) get32(o uint) uint32 { return binary.LittleEndian.Uint32(f.mem[o:]) }
func (f *fakeChip) put32(o uint, v uint32) {
	binary.LittleEndian.PutUint32(f.mem[o:], v)
}

func (f *fakeChip) Read8(o uint) uint8 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mem[o]
}

func (f *fakeChip) Read16(o uint) uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return binary.LittleEndian.Uint16(f.mem[o:])
}

func (f *fakeChip) Read32(o uint) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.get32(o)
	if o == uint(TxConfig) {
		v |= txcfgEmpty
	}
	return v
}

func (f *fakeChip) wrote(o uint) {
	if f.onWrite != nil {
		f.onWrite(o)
	}
}

func (f *fakeChip) Write8(o uint, v uint8) {
	f.wrote(o)
	f.mu.Lock()
	defer f.mu.Unlock()
	switch o {
	case uint(ChipCmd):
		if v&CmdReset != 0 {
			v = 0
		}
	case uint(TxPoll):
		if v&NPQ != 0 {
			f.doorbells++
		}
		v = 0
	}
	f.mem[o] = v
}

func (f *fakeChip) Write16(o uint, v uint16) {
	f.wrote(o)
	f.mu.Lock()
	defer f.mu.Unlock()
	if o == uint(IntrStatus) {
		v = binary.LittleEndian.Uint16(f.mem[o:]) &^ v
	}
	binary.LittleEndian.PutUint16(f.mem[o:], v)
}

func (f *fakeChip) phyWrite(reg, v uint32) {
	if reg == MII_BMCR {
		v &^= BMCR_RESET
	}
	f.phy[reg] = v
}

func (f *fakeChip) Write32(o uint, v uint32) {
	f.wrote(o)
	f.mu.Lock()
	defer f.mu.Unlock()
	switch reg32(o) {
	case PHYAR:
		reg := v >> 16 & 0x1f
		if v&phyarFlag != 0 {
			f.phyWrite(reg, v&0xffff)
			v &^= phyarFlag
		} else {
			v = phyarFlag | reg<<16 | f.phy[reg]&0xffff
		}
	case GPHY_OCP:
		reg := v & 0x7fff0000 >> 15
		if v&ocparFlag != 0 {
			data := v & 0xffff
			if reg == ocpStdPhyBase {
				data &^= BMCR_RESET
			}
			f.ocp[reg] = data
			v &^= ocparFlag
		} else {
			v = ocparFlag | v&0x7fff0000 | f.ocp[reg]&0xffff
		}
	case ERIAR:
		key := v>>eriarTypeShift&3<<12 | v&eriarAddrMask
		if v&eriarFlag != 0 {
			mask := v >> eriarMaskShift & 0xf
			x, d := f.eri[key], f.get32(uint(ERIDR))
			for i := uint(0); i < 4; i++ {
				if mask&(1<<i) != 0 {
					m := uint32(0xff) << (8 * i)
					x = x&^m | d&m
				}
			}
			f.eri[key] = x
			v &^= eriarFlag
		} else {
			f.put32(uint(ERIDR), f.eri[key])
			v |= eriarFlag
		}
	case EPHYAR:
		reg := v >> ephyarRegShift & ephyarRegMask
		if v&ephyarFlag != 0 {
			f.ephy[reg] = v & ephyarDataMask
			v &^= ephyarFlag
		} else {
			v = ephyarFlag | reg<<ephyarRegShift | f.ephy[reg]
		}
	case CSIAR:
		addr := v & csiarAddrMask
		if v&csiarFlag != 0 {
			f.csi[addr] = f.get32(uint(CSIDR))
			v &^= csiarFlag
		} else {
			f.put32(uint(CSIDR), f.csi[addr])
			v |= csiarFlag
		}
	case EFUSEAR:
		reg := v >> efusearRegShift & efusearRegMask
		v = efusearFlag | reg<<efusearRegShift | uint32(f.fuse[reg])
	case CounterAddrLow:
		addr := uint64(f.get32(uint(CounterAddrHigh)))<<32 | uint64(v&^0xff)
		if v&CounterReset != 0 {
			f.tally = [tallyBytes]byte{}
			f.resets++
		}
		if v&CounterDump != 0 {
			if b, err := f.heap.Data(addr, tallyBytes); err == nil {
				copy(b, f.tally[:])
			}
			f.dumps++
		}
		v &^= CounterReset | CounterDump
	}
	f.put32(o, v)
}

// raise posts interrupt events.
func (f *fakeChip) raise(bits uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := binary.LittleEndian.Uint16(f.mem[IntrStatus:])
	binary.LittleEndian.PutUint16(f.mem[IntrStatus:], s|bits)
}

func (f *fakeChip) setLink(up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if up {
		f.mem[PHYstatus] |= LinkStatus | _1000bpsF | FullDup
	} else {
		f.mem[PHYstatus] &^= LinkStatus | _1000bpsF | FullDup
	}
}

func (f *fakeChip) doorbellCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doorbells
}

// testLog collects driver log lines.
type testLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLog) logf(format string, args ...interface{}) {
	l.mu.Lock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}

func (l *testLog) count(substr string) (n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, substr) {
			n++
		}
	}
	return
}

// fakeConfigSpace is a PCI configuration header, optionally with an
// express capability at 0x40.
type fakeConfigSpace struct {
	mu sync.Mutex
	b  [256]byte
}

func newFakeConfigSpace(express bool) *fakeConfigSpace {
	c := &fakeConfigSpace{}
	if express {
		c.b[pciCapabilityList] = 0x50
		c.b[0x50], c.b[0x51] = 0x05, 0x40 // msi
		c.b[0x40], c.b[0x41] = pciCapIDExpress, 0
	}
	return c
}

func (c *fakeConfigSpace) ReadConfigUint8(o uint) uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.b[o]
}
func (c *fakeConfigSpace) ReadConfigUint16(o uint) uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint16(c.b[o:])
}
func (c *fakeConfigSpace) ReadConfigUint32(o uint) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return binary.LittleEndian.Uint32(c.b[o:])
}
func (c *fakeConfigSpace) WriteConfigUint8(o uint, v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.b[o] = v
}
func (c *fakeConfigSpace) WriteConfigUint16(o uint, v uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()
	binary.LittleEndian.PutUint16(c.b[o:], v)
}
func (c *fakeConfigSpace) WriteConfigUint32(o uint, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	binary.LittleEndian.PutUint32(c.b[o:], v)
}

// Chip ids used by the tests.
const (
	txConfig8169s   = 0x00800000 // Ver02, td0
	txConfig8168b   = 0x30000000 // Ver11, td0
	txConfig8168evl = 0x2c800000 // Ver34, td1
	txConfig8168g   = 0x4c000000 // Ver40, td1, paged PHY
	txConfig8102e   = 0x24800000 // Ver07, td1
)

type testDev struct {
	*Dev
	chip *fakeChip
	heap *hw.DmaHeap
	log  *testLog
}

func newTestDev(t *testing.T, txConfig uint32, fam Family, mod ...func(*Config)) *testDev {
	t.Helper()
	heap := hw.NewDmaHeap(make([]byte, 8<<20))
	td := &testDev{
		chip: newFakeChip(txConfig, heap),
		heap: heap,
		log:  &testLog{},
	}
	c := Config{
		Name:   "test",
		Regs:   td.chip,
		Dma:    heap,
		Family: fam,
		Logf:   td.log.logf,
		Sleep:  func(time.Duration) {},
	}
	for _, m := range mod {
		m(&c)
	}
	d, err := New(c)
	if err != nil {
		t.Fatal(err)
	}
	td.Dev = d
	return td
}

func (td *testDev) open(t *testing.T) {
	t.Helper()
	if err := td.Open(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		td.mu.Lock()
		open := td.isOpen
		td.mu.Unlock()
		if open {
			td.Close()
		}
	})
}

// completeTx has the fake hardware finish every owned tx descriptor.
func (td *testDev) completeTx() {
	t := &td.tx
	for i := t.dirty; i != t.cur; i++ {
		t.setOpts1(i, t.opts1(i)&^DescOwn)
	}
}

// rxFrame places a frame in rx descriptor i as the chip would.
func (td *testDev) rxFrame(i uint32, b []byte, status, opts2 uint32) {
	r := &td.rx
	copy(r.bufs[i], b)
	end := r.opts1(i) & RingEnd
	r.setOpts2(i, opts2)
	r.setOpts1(i, end|FirstFrag|LastFrag|status|uint32(len(b)+4))
}

// testPacket is a Packet over caller supplied buffers.
type testPacket struct {
	frags   [][]byte
	off     Offload
	vlan    uint16
	hasVlan bool
	csumErr error
	swCsum  int
	freed   int
}

func (p *testPacket) Frags() [][]byte { return p.frags }
func (p *testPacket) Len() (n int) {
	for _, b := range p.frags {
		n += len(b)
	}
	return
}
func (p *testPacket) Offload() Offload              { return p.off }
func (p *testPacket) VlanTag() (tag uint16, ok bool) { return p.vlan, p.hasVlan }
func (p *testPacket) ChecksumSoftware() error {
	if p.csumErr != nil {
		return p.csumErr
	}
	p.swCsum++
	p.off.Csum = false
	return nil
}
func (p *testPacket) Free() { p.freed++ }

func frame(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

// testQueue hands out packets in order.
type testQueue struct {
	mu   sync.Mutex
	pkts []Packet
}

func (q *testQueue) push(p ...Packet) {
	q.mu.Lock()
	q.pkts = append(q.pkts, p...)
	q.mu.Unlock()
}

func (q *testQueue) Dequeue() (p Packet) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pkts) > 0 {
		p, q.pkts = q.pkts[0], q.pkts[1:]
	}
	return
}

func (q *testQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pkts)
}
