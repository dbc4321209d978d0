// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import "sync"

// txGate serializes transmit passes.  A poke while a pass is running
// makes that pass loop once more instead of starting a second one.
type txGate struct {
	mu      sync.Mutex
	cond    *sync.Cond
	running bool
	again   bool
	stopped bool
	// Packet that found the ring full; it goes first on the next pass.
	held Packet
}

func (g *txGate) init() {
	g.cond = sync.NewCond(&g.mu)
	g.stopped = true
}

// stop waits for a running pass to finish and blocks new ones.
func (g *txGate) stop() {
	g.mu.Lock()
	g.stopped = true
	for g.running {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

func (g *txGate) start() {
	g.mu.Lock()
	g.stopped = false
	g.mu.Unlock()
}

// take removes the held packet.
func (g *txGate) take() (p Packet) {
	g.mu.Lock()
	p, g.held = g.held, nil
	g.mu.Unlock()
	return
}

// poke moves queued packets onto the ring.
func (d *Dev) poke() {
	g := &d.gate
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	if g.running {
		g.again = true
		g.mu.Unlock()
		return
	}
	g.running = true
	for {
		g.again = false
		held := g.held
		g.held = nil
		g.mu.Unlock()

		held = d.xmitPass(held)

		g.mu.Lock()
		g.held = held
		if !g.again || g.stopped {
			break
		}
	}
	g.running = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

// Transmit asks the device to pull packets from its queue.
func (d *Dev) Transmit() { d.poke() }

// xmitPass returns the packet left over when the ring fills.
func (d *Dev) xmitPass(p Packet) Packet {
	for d.tx.fragsReady(MaxFrags) {
		if p == nil {
			if d.queue == nil {
				return nil
			}
			if p = d.queue.Dequeue(); p == nil {
				return nil
			}
		}
		if len(p.Frags()) > MaxFrags {
			p = linearize(p)
		}
		if err := d.xmit(p); err == ErrRingFull {
			return p
		}
		p = nil
	}
	return p
}

type flatPacket struct {
	Packet
	b []byte
}

func (p *flatPacket) Frags() [][]byte { return [][]byte{p.b} }

func (p *flatPacket) ChecksumSoftware() (err error) {
	if err = p.Packet.ChecksumSoftware(); err == nil {
		p.b = flatten(p.Packet, p.b[:0])
	}
	return
}

func flatten(p Packet, b []byte) []byte {
	for _, f := range p.Frags() {
		b = append(b, f...)
	}
	return b
}

func linearize(p Packet) Packet {
	return &flatPacket{Packet: p, b: flatten(p, make([]byte, 0, p.Len()))}
}
