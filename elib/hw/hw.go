// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Memory mapped register read/write
package hw

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Regs is a window of device registers addressed by byte offset.
type Regs interface {
	Read8(o uint) uint8
	Read16(o uint) uint16
	Read32(o uint) uint32
	Write8(o uint, v uint8)
	Write16(o uint, v uint16)
	Write32(o uint, v uint32)
}

// Mem is a mmapped register window (e.g. a PCI BAR).
type Mem []byte

func (m Mem) check(o, n uint) unsafe.Pointer {
	if o+n > uint(len(m)) || o%n != 0 {
		panic(fmt.Errorf("hw: register offset 0x%x size %d out of range", o, n))
	}
	return unsafe.Pointer(&m[o])
}

// Each access compiles to a single load/store of the given width.
func (m Mem) Read8(o uint) uint8   { return *(*uint8)(m.check(o, 1)) }
func (m Mem) Read16(o uint) uint16 { return *(*uint16)(m.check(o, 2)) }
func (m Mem) Read32(o uint) uint32 { return atomic.LoadUint32((*uint32)(m.check(o, 4))) }

func (m Mem) Write8(o uint, v uint8)   { *(*uint8)(m.check(o, 1)) = v }
func (m Mem) Write16(o uint, v uint16) { *(*uint16)(m.check(o, 2)) = v }
func (m Mem) Write32(o uint, v uint32) { atomic.StoreUint32((*uint32)(m.check(o, 4)), v) }

var barrier uint32

// MemoryBarrier orders descriptor writes in DMA memory before a doorbell
// register write.  Atomic read-modify-write is a full fence on all
// platforms Go supports.
func MemoryBarrier() { atomic.AddUint32(&barrier, 1) }
