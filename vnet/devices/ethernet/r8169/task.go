// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

// Deferred task flags.
const (
	taskEnabled = 1 << iota
	taskSlowPending
	taskResetPending
	taskPhyPending
	taskPending = taskSlowPending | taskResetPending | taskPhyPending
)

type task struct {
	bit  uint32
	name string
	fn   func(d *Dev)
}

// Run order when more than one is pending.
var tasks = [...]task{
	{taskSlowPending, "slow event", (*Dev).slowEventWork},
	{taskResetPending, "reset", (*Dev).resetWork},
	{taskPhyPending, "phy", (*Dev).phyWork},
}

func (d *Dev) scheduleTask(bit uint32) {
	d.flags.Or(bit)
	d.wakeup()
}

func (d *Dev) testAndClear(bit uint32) bool { return d.flags.And(^bit)&bit != 0 }

func (d *Dev) wakeup() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// runTasks runs pending deferred work.  Tasks scheduled while the
// device is closed are discarded.
func (d *Dev) runTasks() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flags.Load()&taskEnabled == 0 {
		d.flags.And(^uint32(taskPending))
		return
	}
	for i := range tasks {
		t := &tasks[i]
		if d.testAndClear(t.bit) {
			t.fn(d)
		}
	}
}

func (d *Dev) slowEventWork() {
	status := d.getEvents() & d.profile.eventSlow
	d.ackEvents(status)

	if status&RxFIFOOver != 0 && d.profile.Version == Ver11 {
		d.logf("warning: %s: rx fifo overflow", d)
		d.scheduleTask(taskResetPending)
	}
	if status&SYSErr != 0 {
		d.pciError()
	}
	if status&LinkChg != 0 {
		d.checkLink()
	}
	d.irqEnableAll()
}

// resetWork restarts the chip with the rx buffers in place and the tx
// ring emptied.
func (d *Dev) resetWork() {
	d.gate.stop()
	d.hwReset()
	for i := uint32(0); i < nRxDesc; i++ {
		d.markToAsic(i)
	}
	d.txClear()
	d.rx.cur = 0
	d.sw.resets.Add(1)

	d.hwStart()
	d.irqEnableAll()
	d.gate.start()
	d.checkLink()
	d.poke()
}

func (d *Dev) pending() bool {
	f := d.flags.Load()
	if f&taskEnabled == 0 {
		return false
	}
	if f&taskPending != 0 {
		return true
	}
	s := d.getEvents()
	return s != 0xffff && s&d.irqMask() != 0
}

// worker is the bottom half: it drains both rings, runs deferred tasks
// and sleeps until the next interrupt or task.
func (d *Dev) worker() {
	defer close(d.done)
	for {
		for d.pending() && !d.shutdown.Load() {
			d.poll()
			d.runTasks()
		}
		if d.shutdown.Load() {
			return
		}
		<-d.wake
		if d.shutdown.Load() {
			return
		}
	}
}

// poll is one pass of the bottom half.
func (d *Dev) poll() {
	status := d.getEvents()
	if status == 0xffff {
		return
	}
	d.ackEvents(status &^ d.profile.eventSlow)

	if status&eventNapiRx != 0 {
		d.rxConsume(rxBudgetAll)
	}
	if status&eventNapiTx != 0 {
		d.txReclaim()
	}
	if status&d.profile.eventSlow != 0 {
		// Slow events stay masked until slowEventWork acks them.
		d.irqEnable(eventNapi &^ d.profile.eventSlow)
		d.scheduleTask(taskSlowPending)
	} else {
		d.irqEnableAll()
	}
}
