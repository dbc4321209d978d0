// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"unsafe"
)

// DmaMapper hands out device visible memory.
// Alloc'ed memory is coherent and stays mapped until freed.
// Map makes a CPU buffer visible to the device for a single transfer
// and Unmap ends it.
type DmaMapper interface {
	DmaAlloc(n, align uint) (b []byte, addr uint64, err error)
	DmaFree(b []byte)
	DmaMap(b []byte) (addr uint64, err error)
	DmaUnmap(addr uint64)
}

var (
	ErrDmaNoSpace = errors.New("dma heap exhausted")
	ErrDmaAddress = errors.New("address not in dma heap")
)

type extent struct{ offset, size uint }

// DmaHeap is a first fit allocator over a block of pinned memory.
// Physical addresses are looked up per page; with no page table the heap
// is identity mapped (virtual == device address).
type DmaHeap struct {
	mu   sync.Mutex
	data []byte
	base uintptr

	// Physical address of each page.
	pages         []uint64
	log2PageBytes uint

	free []extent
	// Size of each allocation keyed by offset.
	used map[uint]uint
	// Bounce buffer offset keyed by device address for Map'ed buffers.
	mapped map[uint64]uint
}

func NewDmaHeap(b []byte) *DmaHeap {
	h := &DmaHeap{
		data:   b,
		base:   uintptr(unsafe.Pointer(&b[0])),
		free:   []extent{{0, uint(len(b))}},
		used:   make(map[uint]uint),
		mapped: make(map[uint64]uint),
	}
	return h
}

func (h *DmaHeap) pageBytes() uint { return 1 << h.log2PageBytes }

func alignUp(x, a uint) uint { return (x + a - 1) &^ (a - 1) }

// Allocations never straddle pages since pages need not be physically contiguous.
func (h *DmaHeap) fit(e extent, n, align uint) (o uint, ok bool) {
	o = alignUp(uint(h.base)+e.offset, align) - uint(h.base)
	if h.pages != nil {
		ps := h.pageBytes()
		if n > ps {
			return
		}
		if o/ps != (o+n-1)/ps {
			o = alignUp(o, ps)
		}
	}
	ok = o+n <= e.offset+e.size
	return
}

func (h *DmaHeap) get(n, align uint) (o uint, err error) {
	if align == 0 {
		align = 1
	}
	if n == 0 {
		n = 1
	}
	if align&(align-1) != 0 {
		err = fmt.Errorf("dma alignment %d not a power of 2", align)
		return
	}
	for i, e := range h.free {
		var ok bool
		if o, ok = h.fit(e, n, align); !ok {
			continue
		}
		// Split extent into [e.offset, o) and [o+n, end).
		end := e.offset + e.size
		var rest []extent
		if o > e.offset {
			rest = append(rest, extent{e.offset, o - e.offset})
		}
		if o+n < end {
			rest = append(rest, extent{o + n, end - (o + n)})
		}
		h.free = append(h.free[:i], append(rest, h.free[i+1:]...)...)
		h.used[o] = n
		return
	}
	err = fmt.Errorf("%w: %d bytes", ErrDmaNoSpace, n)
	return
}

func (h *DmaHeap) put(o uint) {
	n, ok := h.used[o]
	if !ok {
		return
	}
	delete(h.used, o)
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].offset > o })
	h.free = append(h.free, extent{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = extent{o, n}
	// Coalesce with neighbors.
	if i+1 < len(h.free) && h.free[i].offset+h.free[i].size == h.free[i+1].offset {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].offset+h.free[i-1].size == h.free[i].offset {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// PhysAddress returns the device address of heap offset o.
func (h *DmaHeap) PhysAddress(o uint) uint64 {
	if h.pages == nil {
		return uint64(h.base) + uint64(o)
	}
	ps := h.pageBytes()
	return h.pages[o/ps] + uint64(o%ps)
}

func (h *DmaHeap) offset(addr uint64) (o uint, ok bool) {
	if h.pages == nil {
		if addr < uint64(h.base) || addr >= uint64(h.base)+uint64(len(h.data)) {
			return
		}
		return uint(addr - uint64(h.base)), true
	}
	ps := uint64(h.pageBytes())
	for i, p := range h.pages {
		if addr >= p && addr < p+ps {
			return uint(i)*uint(ps) + uint(addr-p), true
		}
	}
	return
}

// Data returns the n bytes of heap memory at device address addr.
func (h *DmaHeap) Data(addr uint64, n uint) (b []byte, err error) {
	o, ok := h.offset(addr)
	if !ok || o+n > uint(len(h.data)) {
		err = fmt.Errorf("%w: 0x%x", ErrDmaAddress, addr)
		return
	}
	b = h.data[o : o+n]
	return
}

func (h *DmaHeap) DmaAlloc(n, align uint) (b []byte, addr uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var o uint
	if o, err = h.get(n, align); err != nil {
		return
	}
	b = h.data[o : o+n : o+n]
	for i := range b {
		b[i] = 0
	}
	addr = h.PhysAddress(o)
	return
}

func (h *DmaHeap) DmaFree(b []byte) {
	if len(b) == 0 {
		return
	}
	o := uint(uintptr(unsafe.Pointer(&b[0])) - h.base)
	h.mu.Lock()
	h.put(o)
	h.mu.Unlock()
}

// DmaMap copies b into a bounce buffer since Go heap memory is neither
// pinned nor physically contiguous.
func (h *DmaHeap) DmaMap(b []byte) (addr uint64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var o uint
	if o, err = h.get(uint(len(b)), 8); err != nil {
		return
	}
	copy(h.data[o:], b)
	addr = h.PhysAddress(o)
	h.mapped[addr] = o
	return
}

func (h *DmaHeap) DmaUnmap(addr uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if o, ok := h.mapped[addr]; ok {
		delete(h.mapped, addr)
		h.put(o)
	}
}

// String summarizes heap usage.
func (h *DmaHeap) String() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var used, free uint
	for _, n := range h.used {
		used += n
	}
	for _, e := range h.free {
		free += e.size
	}
	return fmt.Sprintf("used %d bytes in %d objects, free %d bytes in %d extents",
		used, len(h.used), free, len(h.free))
}
