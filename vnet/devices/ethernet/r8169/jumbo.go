// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

type jumboOps interface {
	enable(d *Dev)
	disable(d *Dev)
}

const defaultReadRq = 0x5 << maxReadRequestShift

type jumbo8168b0 struct{}

func (jumbo8168b0) enable(d *Dev) {
	d.txPerformanceTweak(pciExpDevCtlReadRq512B | pciExpDevCtlNoSnoop)
}
func (jumbo8168b0) disable(d *Dev) {
	d.txPerformanceTweak(defaultReadRq | pciExpDevCtlNoSnoop)
}

type jumbo8168b1 struct{ jumbo8168b0 }

func (j jumbo8168b1) enable(d *Dev) {
	j.jumbo8168b0.enable(d)
	Config4.or(d, 1<<0)
}
func (j jumbo8168b1) disable(d *Dev) {
	j.jumbo8168b0.disable(d)
	Config4.andnot(d, 1<<0)
}

type jumbo8168c struct{}

func (jumbo8168c) enable(d *Dev) {
	Config3.or(d, Jumbo_En0)
	Config4.or(d, Jumbo_En1)
	d.txPerformanceTweak(pciExpDevCtlReadRq512B)
}
func (jumbo8168c) disable(d *Dev) {
	Config3.andnot(d, Jumbo_En0)
	Config4.andnot(d, Jumbo_En1)
	d.txPerformanceTweak(defaultReadRq)
}

type jumbo8168dp struct{}

func (jumbo8168dp) enable(d *Dev)  { Config3.or(d, Jumbo_En0) }
func (jumbo8168dp) disable(d *Dev) { Config3.andnot(d, Jumbo_En0) }

type jumbo8168e struct{}

func (jumbo8168e) enable(d *Dev) {
	MaxTxPacketSize.set(d, 0x3f)
	Config3.or(d, Jumbo_En0)
	Config4.or(d, 0x01)
	d.txPerformanceTweak(pciExpDevCtlReadRq512B)
}
func (jumbo8168e) disable(d *Dev) {
	MaxTxPacketSize.set(d, 0x0c)
	Config3.andnot(d, Jumbo_En0)
	Config4.andnot(d, 0x01)
	d.txPerformanceTweak(defaultReadRq)
}

// Config registers are writable only while unlocked.
func (d *Dev) unlocked(f func()) {
	Cfg9346.set(d, Cfg9346_Unlock)
	f()
	Cfg9346.set(d, Cfg9346_Lock)
}

func (d *Dev) jumboEnable() {
	if j := d.profile.jumbo; j != nil {
		d.unlocked(func() { j.enable(d) })
	}
}

func (d *Dev) jumboDisable() {
	if j := d.profile.jumbo; j != nil {
		d.unlocked(func() { j.disable(d) })
	}
}
