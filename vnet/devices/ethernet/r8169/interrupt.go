// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

func (d *Dev) irqMask() uint16 { return eventNapi | d.profile.eventSlow }

func (d *Dev) irqDisable()           { IntrMask.set(d, 0) }
func (d *Dev) irqEnable(bits uint16) { IntrMask.set(d, bits) }
func (d *Dev) irqEnableAll()         { d.irqEnable(d.irqMask()) }
func (d *Dev) ackEvents(bits uint16) { IntrStatus.set(d, bits) }
func (d *Dev) getEvents() uint16     { return IntrStatus.get(d) }

func (d *Dev) irqMaskAndAck() {
	d.irqDisable()
	d.ackEvents(d.irqMask())
	// Flush posted writes.
	ChipCmd.get(d)
}

// Interrupt is the top half.  It masks the chip and wakes the worker
// when any enabled event is pending and reports whether the interrupt
// was ours.
func (d *Dev) Interrupt() (handled bool) {
	status := d.getEvents()
	if status == 0 || status == 0xffff {
		return
	}
	d.sw.interrupts.Add(1)
	if status&d.irqMask() != 0 {
		d.irqDisable()
		d.wakeup()
	}
	return true
}
