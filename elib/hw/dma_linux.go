// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

const (
	log2PageSize     = 12
	log2HugePageSize = log2PageSize + 9
	pageSize         = 1 << log2PageSize
	hugePageSize     = 1 << log2HugePageSize
)

// NewHugePageDmaHeap maps 2^log2Bytes of locked huge page memory and
// records the physical address of each huge page from /proc/self/pagemap.
func NewHugePageDmaHeap(log2Bytes uint) (h *DmaHeap, err error) {
	if log2Bytes < log2HugePageSize {
		log2Bytes = log2HugePageSize
	}
	n := 1 << log2Bytes
	data, err := unix.Mmap(-1, 0, n,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANONYMOUS|unix.MAP_HUGETLB|unix.MAP_LOCKED)
	if err != nil {
		err = fmt.Errorf("mmap %d huge page bytes: %w", n, err)
		return
	}
	defer func() {
		if err != nil {
			unix.Munmap(data)
		}
	}()

	// Touch each page so it is faulted in before the pagemap lookup.
	for i := 0; i < n; i += hugePageSize {
		data[i] = 0
	}

	f, err := os.Open("/proc/self/pagemap")
	if err != nil {
		return
	}
	defer f.Close()

	h = NewDmaHeap(data)
	h.log2PageBytes = log2HugePageSize
	h.pages = make([]uint64, n/hugePageSize)
	for i := range h.pages {
		var b [8]byte
		a := h.base + uintptr(i)*hugePageSize
		pfn := int64(a) / pageSize
		if _, err = f.ReadAt(b[:], pfn*8); err != nil {
			h = nil
			return
		}
		v := binary.LittleEndian.Uint64(b[:])
		// Bits 0-54 are the physical page number.
		pn := v & (1<<55 - 1)
		if pn == 0 {
			h = nil
			err = fmt.Errorf("pagemap: no physical address for page %d (need CAP_SYS_ADMIN)", i)
			return
		}
		h.pages[i] = pn * pageSize
	}
	return
}

// Close releases the heap's memory.
func (h *DmaHeap) Close() error {
	if h.pages == nil {
		return nil
	}
	return unix.Munmap(h.data)
}
