// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package r8169 drives the packet path of Realtek RTL8169/8168/810x
// family ethernet controllers from user space.
package r8169

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/platinasystems/log"
	"github.com/platinasystems/r8169/elib/hw"
)

var (
	ErrVersion = errors.New("unknown chip version")
	ErrNotOpen = errors.New("device not open")
	ErrConfig  = errors.New("incomplete device config")
	ErrClosing = errors.New("device closing")
)

// LinkNotifier is told of carrier changes.
type LinkNotifier func(up bool)

// Config is what a device needs from its environment.
type Config struct {
	// Used in log messages, typically the PCI address.
	Name string
	Regs hw.Regs
	Dma  hw.DmaMapper
	// Optional PCI configuration space access.
	Pci    ConfigSpace
	Family Family

	Firmware FirmwareLoader
	Queue    Queue
	Receive  Receiver
	Link     LinkNotifier

	// Zero selects DefaultFeatures.
	Features Features
	// Zero selects 1500.
	MTU int

	Logf  func(format string, args ...interface{})
	Sleep func(time.Duration)
}

// Dev is one controller.
type Dev struct {
	name    string
	regs    hw.Regs
	dma     hw.DmaMapper
	pci     ConfigSpace
	profile *Profile

	loader   FirmwareLoader
	firmware *Firmware
	queue    Queue
	receive  Receiver
	notify   LinkNotifier
	logf     func(format string, args ...interface{})
	delay    func(time.Duration)

	// Serializes configuration, open/close and deferred tasks.
	mu      sync.Mutex
	isOpen  bool
	closing bool

	flags    atomic.Uint32
	wake     chan struct{}
	done     chan struct{}
	shutdown atomic.Bool
	timer    *time.Timer

	tx   txRing
	rx   rxRing
	gate txGate

	cpCmd   uint16
	ocpBase uint32
	dash    bool

	feat         atomic.Uint32
	wantFeatures Features
	mtu          int
	mac          net.HardwareAddr
	rxMode       RxMode

	link      LinkConfig
	linkUp    atomic.Bool
	linkKnown bool

	tallyMem    []byte
	tallyAddr   uint64
	tally       tally
	baseline    tally
	baselineSet bool
	sw          swStats

	warnedCsum atomic.Bool
}

func (d *Dev) String() string { return d.name }

func (d *Dev) Profile() *Profile { return d.profile }

func (d *Dev) warnOnce(b *atomic.Bool, format string, args ...interface{}) {
	if !b.Swap(true) {
		d.logf("warning: %s: "+format, append([]interface{}{d}, args...)...)
	}
}

// New identifies the chip behind c.Regs and leaves it reset and quiet.
func New(c Config) (d *Dev, err error) {
	if c.Regs == nil || c.Dma == nil {
		err = fmt.Errorf("%s: %w: need registers and dma", c.Name, ErrConfig)
		return
	}
	d = &Dev{
		name:    c.Name,
		regs:    c.Regs,
		dma:     c.Dma,
		pci:     c.Pci,
		loader:  c.Firmware,
		queue:   c.Queue,
		receive: c.Receive,
		notify:  c.Link,
		logf:    c.Logf,
		delay:   c.Sleep,
		ocpBase: ocpStdPhyBase,
		wake:    make(chan struct{}, 1),
		mtu:     c.MTU,
	}
	if d.name == "" {
		d.name = "r8169"
	}
	if d.logf == nil {
		d.logf = func(format string, args ...interface{}) {
			log.Printf(append([]interface{}{format}, args...)...)
		}
	}
	if d.delay == nil {
		d.delay = time.Sleep
	}
	if d.mtu == 0 {
		d.mtu = ethDataLen
	}
	d.wantFeatures = c.Features
	if d.wantFeatures == 0 {
		d.wantFeatures = DefaultFeatures
	}
	d.gate.init()

	f := c.Family
	v := Identify(TxConfig.get(d), f.DefaultVersion(), f.GMII())
	if d.profile, err = NewProfile(v, f); err != nil {
		d = nil
		return
	}
	d.logf("info: %s: %v", d, d.profile)
	if d.mtu > d.profile.JumboMax {
		err = fmt.Errorf("%s: %w: %d > %d", d, ErrMTU, d.mtu, d.profile.JumboMax)
		d = nil
		return
	}
	if !d.isPCIe() {
		d.logf("info: %s: not PCI Express", d)
	}

	if d.wantFeatures&FeatureHighDMA != 0 && !d.isPCIe() {
		// Dual address cycle is only needed on plain PCI.
		d.cpCmd |= PCIDAC
	}
	d.initRxcfg()
	d.irqDisable()
	d.chipReset()
	d.ackEvents(0xffff)

	d.unlocked(func() {
		Config1.or(d, PMEnable)
		Config5.set(d, Config5.get(d)&(BWF|MWF|UWF|LanWake|PMEStatus))
	})

	if v.between(Ver35, Ver38) || v.between(Ver40, Ver51) {
		lo, hi := d.eriRead(0xe0, eriarExgmac), d.eriRead(0xe4, eriarExgmac)
		a := net.HardwareAddr{byte(lo), byte(lo >> 8), byte(lo >> 16), byte(lo >> 24),
			byte(hi), byte(hi >> 8)}
		if validEtherAddr(a) {
			d.rarSet(a)
		}
	}
	d.mac = d.readMAC()
	d.cpCmd |= RxChkSum | RxVlan
	d.dash = d.checkDash()
	d.feat.Store(uint32(d.fixFeatures(d.wantFeatures)))

	d.tallyMem, d.tallyAddr, err = d.dma.DmaAlloc(tallyBytes, ringAlign)
	if err != nil {
		err = fmt.Errorf("%s: counters: %w", d, err)
		d = nil
	}
	return
}

// Free releases memory held between opens.
func (d *Dev) Free() {
	if d.tallyMem != nil {
		d.dma.DmaFree(d.tallyMem)
		d.tallyMem = nil
	}
}

// Open brings the device up.  Concurrent opens are serialized and
// all but the first return nil with the device already up.
func (d *Dev) Open() (err error) {
	d.mu.Lock()
	if d.isOpen {
		d.mu.Unlock()
		return
	}
	if d.closing {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", d, ErrClosing)
	}
	err = d.open()
	d.mu.Unlock()
	if err == nil {
		d.poke()
	}
	return
}

// open runs with d.mu held.  The worker may only block on d.mu until
// taskEnabled is set.
func (d *Dev) open() (err error) {
	if err = d.allocRing(&d.tx.descRing, nTxDesc); err != nil {
		return
	}
	if err = d.allocRing(&d.rx.descRing, nRxDesc); err != nil {
		d.freeRing(&d.tx.descRing)
		return
	}
	if err = d.initRing(); err != nil {
		d.freeRing(&d.rx.descRing)
		d.freeRing(&d.tx.descRing)
		return
	}
	hw.MemoryBarrier()

	d.loadFirmware()

	d.flags.Store(0)
	d.shutdown.Store(false)
	d.done = make(chan struct{})
	go d.worker()

	d.flags.Or(taskEnabled)
	d.driverStart()
	d.initPhy()
	d.setMTU(d.mtu)
	d.pllPowerUp()
	d.hwStart()
	d.irqEnableAll()
	if !d.initCounters() {
		d.logf("warning: %s: counter reset/update failed", d)
	}
	d.isOpen = true
	d.gate.start()
	d.checkLink()
	return
}

// Close stops the device and releases its rings.
func (d *Dev) Close() error {
	d.mu.Lock()
	if !d.isOpen {
		d.mu.Unlock()
		return fmt.Errorf("%s: %w", d, ErrNotOpen)
	}
	d.updateCounters()
	d.flags.And(^uint32(taskEnabled))
	d.stopTimer()
	d.hwReset()
	d.rxMissed()
	d.isOpen = false
	d.closing = true
	d.mu.Unlock()

	d.gate.stop()
	d.shutdown.Store(true)
	d.wakeup()
	<-d.done

	d.mu.Lock()
	defer d.mu.Unlock()
	d.closing = false
	d.txClear()
	d.rxClear()
	if p := d.gate.take(); p != nil {
		p.Free()
	}
	d.pllPowerDown()
	d.driverStop()
	d.releaseFirmware()
	d.freeRing(&d.rx.descRing)
	d.freeRing(&d.tx.descRing)
	if d.linkUp.Swap(false) && d.notify != nil {
		d.notify(false)
	}
	return nil
}

var (
	chipCmdCond    = &cond{"chipcmd", func(d *Dev) bool { return ChipCmd.get(d)&CmdReset != 0 }}
	npqCond        = &cond{"npq", func(d *Dev) bool { return TxPoll.get(d)&NPQ != 0 }}
	txcfgEmptyCond = flagCond("txcfg empty", TxConfig, txcfgEmpty)
)

func (d *Dev) chipReset() {
	ChipCmd.set(d, CmdReset)
	d.waitLow(chipCmdCond, 100*time.Microsecond, 100)
}

// hwReset quiesces DMA and resets the MAC.
func (d *Dev) hwReset() {
	d.irqMaskAndAck()
	RxConfig.andnot(d, rxConfigAccept)
	switch v := d.profile.Version; {
	case v.in(Ver27, Ver28, Ver31):
		d.waitLow(npqCond, 20*time.Microsecond, 42*42)
	case v.between(Ver34, Ver38), v.between(Ver40, Ver51):
		ChipCmd.or(d, StopReq)
		d.waitHigh(txcfgEmptyCond, 100*time.Microsecond, 666)
	default:
		ChipCmd.or(d, StopReq)
		d.delay(100 * time.Microsecond)
	}
	d.chipReset()
}

func (d *Dev) initRxcfg() {
	switch v := d.profile.Version; {
	case v.between(Ver01, Ver06), v.between(Ver10, Ver17):
		RxConfig.set(d, rxFifoThresh|rxDmaBurst)
	case v.between(Ver18, Ver24), v.in(Ver34, Ver35):
		RxConfig.set(d, rx128IntEn|rxMultiEn|rxDmaBurst)
	case v.between(Ver40, Ver51):
		RxConfig.set(d, rx128IntEn|rxMultiEn|rxDmaBurst|rxEarlyOff)
	default:
		RxConfig.set(d, rx128IntEn|rxDmaBurst)
	}
}

const (
	txPacketMax = 8064 >> 7
	noEarlyTx   = 0x3f
)

func (d *Dev) setTxConfig() {
	TxConfig.set(d, txDmaBurst<<txDmaShift|interFrameGap<<txInterFrameGapShift)
}

// Filtering by size is left off.
func (d *Dev) setRxMaxSize() { RxMaxSize.set(d, rxBufBytes+1) }

func (d *Dev) rwCPlusCmd() (v uint16) {
	v = CPlusCmd.get(d)
	CPlusCmd.set(d, v)
	return
}

var magicRegs = [...]struct {
	v   Version
	clk uint8
	val uint32
}{
	{Ver05, PCI_Clock_33MHz, 0x000fff00}, // 8110SCd
	{Ver05, PCI_Clock_66MHz, 0x000fffff},
	{Ver06, PCI_Clock_33MHz, 0x00ffff00}, // 8110SCe
	{Ver06, PCI_Clock_66MHz, 0x00ffffff},
}

func (d *Dev) setMagicReg() {
	clk := Config2.get(d) & PCI_Clock_66MHz
	for _, m := range magicRegs {
		if m.v == d.profile.Version && m.clk == clk {
			reg32(0x7c).set(d, m.val)
			break
		}
	}
}

func (d *Dev) hwStart() { familyInfos[d.profile.Family].hwStart(d) }

func (d *Dev) hwStart8169() {
	v := d.profile.Version
	early := v.between(Ver01, Ver04)
	if v == Ver05 {
		CPlusCmd.or(d, PCIMulRW)
		if d.pci != nil {
			d.pci.WriteConfigUint8(pciCacheLine, 0x08)
		}
	}
	d.unlocked(func() {
		if early {
			ChipCmd.set(d, CmdTxEnb|CmdRxEnb)
		}
		d.initRxcfg()
		EarlyTxThres.set(d, noEarlyTx)
		d.setRxMaxSize()
		if early {
			d.setTxConfig()
		}
		d.cpCmd |= d.rwCPlusCmd() | PCIMulRW
		if v.in(Ver02, Ver03) {
			// Bits 3 and 14 must be set.
			d.cpCmd |= 1 << 14
		}
		CPlusCmd.set(d, d.cpCmd)
		d.setMagicReg()
		IntrMitigate.set(d, 0)
		d.setDescRegisters()
		if !early {
			ChipCmd.set(d, CmdTxEnb|CmdRxEnb)
			d.setTxConfig()
		}
	})
	IntrMask.get(d)
	RxMissed.set(d, 0)
	d.setRxMode()
	// No early rx interrupts.
	MultiIntr.set(d, MultiIntr.get(d)&0xf000)
}

func (d *Dev) hwStart8168() {
	d.unlocked(func() {
		MaxTxPacketSize.set(d, txPacketMax)
		d.setRxMaxSize()
		d.cpCmd |= CPlusCmd.get(d) | PktCntrDisable | INTT_1
		CPlusCmd.set(d, d.cpCmd)
		IntrMitigate.set(d, 0x5151)
		d.setDescRegisters()
		d.setTxConfig()
		IntrMask.get(d)
		d.csiStart()
	})
	ChipCmd.set(d, CmdTxEnb|CmdRxEnb)
	d.setRxMode()
	MultiIntr.set(d, MultiIntr.get(d)&0xf000)
}

func (d *Dev) hwStart8101() {
	if d.profile.Version.in(Ver13, Ver16) {
		d.pcieDevCtlSet(pciExpDevCtlNoSnoop)
	}
	d.unlocked(func() {
		MaxTxPacketSize.set(d, txPacketMax)
		d.setRxMaxSize()
		d.cpCmd &^= r810xCPlusCmdQuirkMask
		CPlusCmd.set(d, d.cpCmd)
		d.setDescRegisters()
		d.setTxConfig()
		d.csiStart()
	})
	IntrMitigate.set(d, 0)
	ChipCmd.set(d, CmdTxEnb|CmdRxEnb)
	d.setRxMode()
	IntrMask.get(d)
	MultiIntr.set(d, MultiIntr.get(d)&0xf000)
}

const (
	csiAccess1 = 0x17000000
	csiAccess2 = 0x27000000
)

// csiStart opens PCI config access through CSI for revisions that need it.
func (d *Dev) csiStart() {
	switch v := d.profile.Version; {
	case v.in(Ver07, Ver08, Ver09, Ver37), v.between(Ver18, Ver27),
		v.in(Ver32, Ver33, Ver35, Ver36, Ver38):
		d.csiAccessEnable(csiAccess2)
	case v.in(Ver28, Ver31, Ver34), v.between(Ver40, Ver51):
		d.csiAccessEnable(csiAccess1)
	}
}
