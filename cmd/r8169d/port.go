// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"
	"github.com/platinasystems/log"
	"github.com/platinasystems/r8169/elib/hw"
	"github.com/platinasystems/r8169/elib/hw/pci"
	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
)

const (
	// Largest frame the kernel hands a tap with segmentation offload.
	maxTapFrame = 65536 + 18
	uioAttempts = 6
)

// port ties one controller to its tap device.
type port struct {
	s    settings
	pci  *pci.Device
	uio  *pci.Uio
	heap *hw.DmaHeap
	dev  *r8169.Dev
	tap  *tap
	q    queue
	bufs sync.Pool

	tapDrops atomic.Uint64
	// tx packet count at the last watchdog check
	lastTx uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *port) String() string { return p.s.addr.String() }

// bindUio retries while the kernel creates the uio node.
func bindUio(d *pci.Device) (u *pci.Uio, err error) {
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2,
		Jitter: false,
	}
	for i := 0; ; i++ {
		if u, err = d.BindUio(); err == nil || !errors.Is(err, pci.ErrNoUio) || i == uioAttempts {
			return
		}
		time.Sleep(b.Duration())
	}
}

func openPort(s settings, c *Config) (p *port, err error) {
	p = &port{s: s, q: newQueue(c.QueueLen)}
	p.bufs.New = func() interface{} {
		b := make([]byte, vnetHdrLen+maxTapFrame)
		return &b
	}
	defer func() {
		if err != nil {
			p.release()
			p = nil
		}
	}()

	if p.pci, err = pci.Open(s.addr); err != nil {
		return
	}
	fam, ok := r8169.LookupFamily(p.pci.Vendor, p.pci.DeviceID, p.pci.SubVendor, p.pci.SubDevice)
	if !ok {
		err = fmt.Errorf("%s: not a supported controller", p.pci)
		return
	}
	if p.uio, err = bindUio(p.pci); err != nil {
		return
	}
	regs, err := p.pci.MapResource(uint(fam.Bar()))
	if err != nil {
		return
	}
	if p.heap, err = hw.NewHugePageDmaHeap(c.DmaLog2); err != nil {
		return
	}
	p.pci.SetCommand(pci.MemoryEnable|pci.BusMasterEnable, 0)

	p.dev, err = r8169.New(r8169.Config{
		Name:     s.addr.String(),
		Regs:     regs,
		Dma:      p.heap,
		Pci:      p.pci,
		Family:   fam,
		Firmware: firmwareDir(c.FirmwareDir),
		Queue:    p.q,
		Receive:  p.receive,
		Link:     p.linkChange,
		Features: s.features,
		MTU:      s.mtu,
		Logf: func(format string, args ...interface{}) {
			log.Printf(append([]interface{}{format}, args...)...)
		},
	})
	if err != nil {
		return
	}
	if s.mac != nil {
		if err = p.dev.SetMACAddress(s.mac); err != nil {
			return
		}
	}
	p.dev.SetRxMode(s.rxMode)
	p.dev.SetWol(s.wol)

	if p.tap, err = openTap(s.tap); err != nil {
		return
	}
	if err = p.tap.SetOffload(p.dev.Features()); err != nil {
		log.Print("warning: ", p.tap, ": offload: ", err)
	}
	if err = p.tap.Configure(p.dev.MTU(), p.dev.MACAddress()); err != nil {
		return
	}
	if err = p.dev.Open(); err != nil {
		return
	}
	if s.link != nil {
		if err = p.dev.SetLink(*s.link); err != nil {
			p.dev.Close()
			return
		}
	}
	log.Print("info: ", p, ": ", p.dev.Profile(), " on ", p.tap)
	return
}

// Start runs the interrupt and tap reader loops.
func (p *port) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.uio.Enable()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.interrupts(ctx)
	}()
	p.startReader(ctx, p.tap, p.dev.Features()&r8169.FeatureTxVlan != 0)
}

// startReader reads frames from t until it is closed.  The reader holds
// its own reference since Close clears p.tap.
func (p *port) startReader(ctx context.Context, t *tap, vlan bool) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.readTap(ctx, t, vlan); err != nil {
			log.Print("err: ", t, ": ", err)
		}
	}()
}

func (p *port) interrupts(ctx context.Context) {
	for {
		if _, err := p.uio.Wait(ctx); err != nil {
			if ctx.Err() == nil {
				log.Print("err: ", p.uio, ": ", err)
			}
			return
		}
		p.dev.Interrupt()
		p.uio.Enable()
	}
}

func (p *port) readTap(ctx context.Context, t *tap, vlan bool) error {
	pr := newParser()
	for {
		bp := p.bufs.Get().(*[]byte)
		n, err := t.Read(*bp)
		if err != nil {
			p.bufs.Put(bp)
			if errors.Is(err, os.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		f, err := p.frame(pr, (*bp)[:n], vlan)
		if err != nil {
			p.bufs.Put(bp)
			p.tapDrops.Add(1)
			log.Print("warning: ", t, ": ", err)
			continue
		}
		f.free = func() { p.bufs.Put(bp) }
		if err = p.q.Enqueue(ctx, f); err != nil {
			f.Free()
			return nil
		}
		p.dev.Transmit()
	}
}

func (p *port) frame(pr *parser, b []byte, vlan bool) (f *frame, err error) {
	var h vnetHdr
	if err = h.decode(b); err != nil {
		return
	}
	f = &frame{data: b[vnetHdrLen:]}
	if err = pr.classify(f, &h, vlan); err != nil {
		return nil, fmt.Errorf("%d byte frame, %v: %w", len(b)-vnetHdrLen, &h, err)
	}
	return
}

func (p *port) receive(fr *r8169.RxFrame) {
	if _, err := p.tap.Write(rxBuffer(fr)); err != nil {
		p.tapDrops.Add(1)
	}
}

// linkChange runs with the device locked.
func (p *port) linkChange(up bool) {
	if err := p.tap.SetCarrier(up); err != nil {
		log.Print("warning: ", p.tap, ": carrier: ", err)
	}
	s := "down"
	if up {
		s = "up"
	}
	log.Print("notice: ", p, ": link ", s)
}

// watchdog resets a transmitter that stopped taking frames.
func (p *port) watchdog() {
	tx := p.dev.Stats().TxPackets
	if len(p.q) > 0 && tx == p.lastTx && p.dev.LinkUp() {
		log.Print("warning: ", p, ": transmit timed out, ", len(p.q), " queued")
		p.dev.TxTimeout()
	}
	p.lastTx = tx
}

// dump writes the controller state for debugging.
func (p *port) dump(w io.Writer) {
	fmt.Fprintln(w, p.dev.Profile(), "on", p.tap)
	p.dev.DumpRegs(w)
	fmt.Fprint(w, "phy:")
	for reg := 0; reg < 16; reg++ {
		fmt.Fprintf(w, " %04x", p.dev.ReadPhy(reg)&0xffff)
	}
	fmt.Fprintln(w)
	p.dev.DumpRings(w)
	fmt.Fprintln(w, p.dev.Tally())
}

func (p *port) status() status {
	pr := p.dev.Profile()
	return status{
		port:     p.tap.String(),
		pci:      p.s.addr.String(),
		chip:     pr.Name,
		version:  pr.Version.String(),
		link:     p.dev.LinkState().String(),
		mtu:      p.dev.MTU(),
		mac:      p.dev.MACAddress().String(),
		features: p.dev.Features().String(),
		wol:      p.dev.WolOptions().String(),
		queued:   len(p.q),
		tapDrops: p.tapDrops.Load(),
		stats:    p.dev.Stats(),
	}
}

// Close stops the device and its loops and gives the controller back.
func (p *port) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	err := p.dev.Close()
	// Unblocks the tap reader.
	if e := p.tap.Close(); e != nil && err == nil {
		err = e
	}
	p.wg.Wait()
	p.tap = nil
	if n := p.q.Drain(); n > 0 {
		log.Print("info: ", p, ": dropped ", n, " queued frames")
	}
	p.release()
	return err
}

func (p *port) release() {
	if p.dev != nil {
		p.dev.Free()
		p.dev = nil
	}
	if p.tap != nil {
		p.tap.Close()
		p.tap = nil
	}
	if p.heap != nil {
		p.heap.Close()
		p.heap = nil
	}
	if p.uio != nil {
		p.uio.Close()
		p.uio = nil
	}
	if p.pci != nil {
		p.pci.Close()
		p.pci = nil
	}
}
