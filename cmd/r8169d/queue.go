// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"context"

	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
)

// queue holds frames read from the tap device until the transmit ring
// takes them.
type queue chan r8169.Packet

func newQueue(n int) queue { return make(queue, n) }

// Enqueue blocks while the queue is full.
func (q queue) Enqueue(ctx context.Context, p r8169.Packet) error {
	select {
	case q <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q queue) Dequeue() r8169.Packet {
	select {
	case p := <-q:
		return p
	default:
		return nil
	}
}

// Drain frees whatever is still queued.
func (q queue) Drain() (n int) {
	for p := q.Dequeue(); p != nil; p = q.Dequeue() {
		p.Free()
		n++
	}
	return
}
