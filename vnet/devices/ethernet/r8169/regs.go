// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

// Register offsets within the 256 byte MMIO window.
type reg8 uint
type reg16 uint
type reg32 uint

func (r reg8) get(d *Dev) uint8      { return d.regs.Read8(uint(r)) }
func (r reg8) set(d *Dev, v uint8)   { d.regs.Write8(uint(r), v) }
func (r reg16) get(d *Dev) uint16    { return d.regs.Read16(uint(r)) }
func (r reg16) set(d *Dev, v uint16) { d.regs.Write16(uint(r), v) }
func (r reg32) get(d *Dev) uint32    { return d.regs.Read32(uint(r)) }
func (r reg32) set(d *Dev, v uint32) { d.regs.Write32(uint(r), v) }

func (r reg8) or(d *Dev, v uint8) (x uint8) {
	x = r.get(d) | v
	r.set(d, x)
	return
}
func (r reg8) andnot(d *Dev, v uint8) (x uint8) {
	x = r.get(d) &^ v
	r.set(d, x)
	return
}
func (r reg16) or(d *Dev, v uint16) (x uint16) {
	x = r.get(d) | v
	r.set(d, x)
	return
}
func (r reg32) or(d *Dev, v uint32) (x uint32) {
	x = r.get(d) | v
	r.set(d, x)
	return
}
func (r reg32) andnot(d *Dev, v uint32) (x uint32) {
	x = r.get(d) &^ v
	r.set(d, x)
	return
}

const (
	MAC0            reg32 = 0x00
	MAC4            reg32 = 0x04
	MAR0            reg32 = 0x08
	CounterAddrLow  reg32 = 0x10
	CounterAddrHigh reg32 = 0x14
	TxDescStartLow  reg32 = 0x20
	TxDescStartHigh reg32 = 0x24
	ChipCmd         reg8  = 0x37
	TxPoll          reg8  = 0x38
	IntrMask        reg16 = 0x3c
	IntrStatus      reg16 = 0x3e
	TxConfig        reg32 = 0x40
	RxConfig        reg32 = 0x44
	RxMissed        reg32 = 0x4c
	Cfg9346         reg8  = 0x50
	Config0         reg8  = 0x51
	Config1         reg8  = 0x52
	Config2         reg8  = 0x53
	Config3         reg8  = 0x54
	Config4         reg8  = 0x55
	Config5         reg8  = 0x56
	MultiIntr       reg16 = 0x5c
	PHYAR           reg32 = 0x60
	TBICSR          reg32 = 0x64
	PHYstatus       reg8  = 0x6c
	RxMaxSize       reg16 = 0xda
	CPlusCmd        reg16 = 0xe0
	IntrMitigate    reg16 = 0xe2
	RxDescAddrLow   reg32 = 0xe4
	RxDescAddrHigh  reg32 = 0xe8
	EarlyTxThres    reg8  = 0xec // 8169
	MaxTxPacketSize reg8  = 0xec // 8101/8168
	FuncEvent       reg32 = 0xf0
	IBCR0           reg8  = 0xf8
	IBCR2           reg8  = 0xf9
	IBISR0          reg8  = 0xfb

	// 8168 and later.
	CSIDR         reg32 = 0x64
	CSIAR         reg32 = 0x68
	PMCH          reg8  = 0x6f
	ERIDR         reg32 = 0x70
	ERIAR         reg32 = 0x74
	EPHY_RXER_NUM reg32 = 0x7c
	EPHYAR        reg32 = 0x80
	OCPDR         reg32 = 0xb0
	OCPAR         reg32 = 0xb4
	GPHY_OCP      reg32 = 0xb8
	EFUSEAR       reg32 = 0xdc
	MISC          reg32 = 0xf0
	dash8168dp    reg32 = 0xd0
)

// ChipCmd bits.
const (
	StopReq   = 0x80
	CmdReset  = 0x10
	CmdRxEnb  = 0x08
	CmdTxEnb  = 0x04
	RxBufEmpt = 0x01
)

// TxPoll bits.
const (
	HPQ    = 0x80 // high priority queue
	NPQ    = 0x40 // normal priority queue
	FSWInt = 0x01
)

// Cfg9346 values.
const (
	Cfg9346_Lock   = 0x00
	Cfg9346_Unlock = 0xc0
)

// Interrupt status/mask bits.
const (
	SYSErr        = 0x8000
	PCSTimeout    = 0x4000
	SWInt         = 0x0100
	TxDescUnavail = 0x0080
	RxFIFOOver    = 0x0040
	LinkChg       = 0x0020
	RxOverflow    = 0x0010
	TxErr         = 0x0008
	TxOK          = 0x0004
	RxErr         = 0x0002
	RxOK          = 0x0001

	eventNapiRx = RxOK | RxErr
	eventNapiTx = TxOK | TxErr
	eventNapi   = eventNapiRx | eventNapiTx
)

// RxConfig bits.
const (
	AcceptErr       = 0x20
	AcceptRunt      = 0x10
	AcceptBroadcast = 0x08
	AcceptMulticast = 0x04
	AcceptMyPhys    = 0x02
	AcceptAllPhys   = 0x01
	rxConfigAccept  = 0x3f

	rx128IntEn   = 1 << 15 // 8111c and later
	rxMultiEn    = 1 << 14 // 8111c only
	rxFifoThresh = 7 << 13 // no threshold before first PCI xfer
	rxEarlyOff   = 1 << 11
	rxDmaBurst   = 7 << 8 // unlimited
)

// TxConfig bits.
const (
	txDmaBurst           = 7 // unlimited
	txDmaShift           = 8
	interFrameGap        = 3
	txInterFrameGapShift = 24
	txcfgAutoFifo        = 1 << 7  // 8111e-vl
	txcfgEmpty           = 1 << 11 // 8111e-vl
)

// Config1..Config5 bits.
const (
	Speed_down = 1 << 4
	MEMMAP     = 1 << 3
	IOMAP      = 1 << 2
	VPD        = 1 << 1
	PMEnable   = 1 << 0

	PCI_Clock_66MHz = 0x01
	PCI_Clock_33MHz = 0x00
	MSIEnable       = 1 << 5
	PME_SIGNAL      = 1 << 5 // 8168c and later
	ClkReqEn        = 1 << 7

	MagicPacket = 1 << 5
	LinkUpWake  = 1 << 4
	Jumbo_En0   = 1 << 2
	Beacon_en   = 1 << 0

	Jumbo_En1 = 1 << 1

	BWF       = 1 << 6
	MWF       = 1 << 5
	UWF       = 1 << 4
	Spi_en    = 1 << 3
	LanWake   = 1 << 1
	PMEStatus = 1 << 0

	// ERI 0xdc.
	MagicPacket_v2 = 1 << 16
)

// CPlusCmd bits.
const (
	EnableBist      = 1 << 15
	Mac_dbgo_oe     = 1 << 14
	Normal_mode     = 1 << 13
	Force_half_dup  = 1 << 12
	Force_rxflow_en = 1 << 11
	Force_txflow_en = 1 << 10
	Cxpl_dbg_sel    = 1 << 9
	ASF             = 1 << 8
	PktCntrDisable  = 1 << 7
	Mac_dbgo_sel    = 0x001c
	RxVlan          = 1 << 6
	RxChkSum        = 1 << 5
	PCIDAC          = 1 << 4
	PCIMulRW        = 1 << 3
	INTT_1          = 0x0001 // 8168

	r810xCPlusCmdQuirkMask = EnableBist | Mac_dbgo_oe | Force_half_dup |
		Force_rxflow_en | Force_txflow_en | Cxpl_dbg_sel | ASF |
		PktCntrDisable | Mac_dbgo_sel
)

// PHYstatus bits.
const (
	TBI_Enable = 0x80
	TxFlowCtrl = 0x40
	RxFlowCtrl = 0x20
	_1000bpsF  = 0x10
	_100bps    = 0x08
	_10bps     = 0x04
	LinkStatus = 0x02
	FullDup    = 0x01
)

// TBICSR bits.
const (
	TBIReset      = 0x80000000
	TBILoopback   = 0x40000000
	TBINwEnable   = 0x20000000
	TBINwRestart  = 0x10000000
	TBILinkOk     = 0x02000000
	TBINwComplete = 0x01000000
)

// Counter dump/reset command bits in CounterAddrLow.
const (
	CounterReset = 0x1
	CounterDump  = 0x8
)

// Indirect bus command/address layouts.
const (
	phyarFlag = 0x80000000

	csiarFlag       = 0x80000000
	csiarWrite      = 0x80000000
	csiarByteEnable = 0xf << 12
	csiarAddrMask   = 0x0fff
	csiarFuncNic    = 0x00020000
	csiarFuncNic2   = 0x00010000

	ephyarFlag     = 0x80000000
	ephyarWrite    = 0x80000000
	ephyarRegMask  = 0x1f
	ephyarRegShift = 16
	ephyarDataMask = 0xffff

	eriarFlag      = 0x80000000
	eriarWrite     = 0x80000000
	eriarRead      = 0x00000000
	eriarAddrMask  = 0x0fff
	eriarTypeShift = 16
	eriarExgmac    = 0x00 << eriarTypeShift
	eriarMsix      = 0x01 << eriarTypeShift
	eriarOob       = 0x02 << eriarTypeShift
	eriarMaskShift = 12
	eriarMask0001  = 0x1 << eriarMaskShift
	eriarMask0011  = 0x3 << eriarMaskShift
	eriarMask0100  = 0x4 << eriarMaskShift
	eriarMask0101  = 0x5 << eriarMaskShift
	eriarMask1111  = 0xf << eriarMaskShift

	efusearFlag     = 0x80000000
	efusearWrite    = 0x80000000
	efusearRead     = 0x00000000
	efusearRegMask  = 0x03ff
	efusearRegShift = 8
	efusearDataMask = 0xff

	ocpdrWrite        = 0x80000000
	ocpdrRead         = 0x00000000
	ocpdrRegMask      = 0x7f
	ocpdrGphyRegShift = 16
	ocpdrDataMask     = 0xffff

	ocparFlag      = 0x80000000
	ocparGphyWrite = 0x8000f060
	ocparGphyRead  = 0x0000f060

	ocpStdPhyBase = 0xa400
)

// MII registers.
const (
	MII_BMCR      = 0x00
	MII_BMSR      = 0x01
	MII_ADVERTISE = 0x04
	MII_CTRL1000  = 0x09

	BMCR_RESET     = 0x8000
	BMCR_ANENABLE  = 0x1000
	BMCR_PDOWN     = 0x0800
	BMCR_ANRESTART = 0x0200
)

// More MII registers and bits.
const (
	MII_LPA = 0x05

	BMCR_FULLDPLX = 0x0100
	BMCR_SPEED100 = 0x2000

	ADVERTISE_10HALF    = 0x0020
	ADVERTISE_10FULL    = 0x0040
	ADVERTISE_100HALF   = 0x0080
	ADVERTISE_100FULL   = 0x0100
	ADVERTISE_PAUSE_CAP = 0x0400
	ADVERTISE_PAUSE_ASY = 0x0800
	ADVERTISE_1000HALF  = 0x0100
	ADVERTISE_1000FULL  = 0x0200

	LPA_10HALF  = 0x0020
	LPA_10FULL  = 0x0040
	LPA_100HALF = 0x0080
	LPA_100FULL = 0x0100
)
