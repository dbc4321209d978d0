// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"encoding/binary"
	"fmt"
	"strings"
	"testing"
)

func (f *fakeChip) setTally(txErrors uint64, multiCollision uint32, aborted uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	le := binary.LittleEndian
	le.PutUint64(f.tally[16:], txErrors)
	le.PutUint32(f.tally[36:], multiCollision)
	le.PutUint16(f.tally[60:], aborted)
}

func TestTallyDecode(t *testing.T) {
	var b [tallyBytes]byte
	le := binary.LittleEndian
	le.PutUint64(b[0:], 1)
	le.PutUint64(b[8:], 2)
	le.PutUint64(b[16:], 3)
	le.PutUint32(b[24:], 4)
	le.PutUint16(b[28:], 5)
	le.PutUint16(b[30:], 6)
	le.PutUint32(b[32:], 7)
	le.PutUint32(b[36:], 8)
	le.PutUint64(b[40:], 9)
	le.PutUint64(b[48:], 10)
	le.PutUint32(b[56:], 11)
	le.PutUint16(b[60:], 12)
	le.PutUint16(b[62:], 13)
	var x tally
	x.decode(b[:])
	want := tally{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	if x != want {
		t.Errorf("got %+v want %+v", x, want)
	}
}

func TestCountersBaseline(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.open(t)
	if got, want := td.chip.resets, 1; got != want {
		t.Errorf("counter resets at open: got %d want %d", got, want)
	}

	td.chip.setTally(10, 4, 1)
	s := td.Stats()
	if s.TxErrors != 10 || s.Collisions != 4 || s.TxAborted != 1 {
		t.Errorf("after open: got %d %d %d", s.TxErrors, s.Collisions, s.TxAborted)
	}

	// Close and open again: the baseline is kept.
	td.Close()
	if err := td.Open(); err != nil {
		t.Fatal(err)
	}
	td.chip.setTally(25, 6, 1)
	s = td.Stats()
	if s.TxErrors != 25 || s.Collisions != 6 {
		t.Errorf("reopen: got %d %d", s.TxErrors, s.Collisions)
	}
	if !strings.Contains(td.Tally(), "tx errors 25") {
		t.Errorf("Tally: %s", td.Tally())
	}
}

func TestCountersNoReset(t *testing.T) {
	// 8168b cannot reset its tally; the first dump is the baseline.
	td := newTestDev(t, txConfig8168b, Family8168)
	td.chip.setTally(100, 50, 2)
	td.open(t)
	if got, want := td.chip.resets, 0; got != want {
		t.Errorf("resets: got %d want %d", got, want)
	}
	td.chip.setTally(103, 51, 2)
	s := td.Stats()
	if s.TxErrors != 3 || s.Collisions != 1 || s.TxAborted != 0 {
		t.Errorf("got %d %d %d want 3 1 0", s.TxErrors, s.Collisions, s.TxAborted)
	}
}

func TestCountersNeedReceiver(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.open(t)
	dumps := td.chip.dumps
	td.mu.Lock()
	ChipCmd.set(td.Dev, CmdTxEnb)
	ok := td.updateCounters()
	td.mu.Unlock()
	if !ok {
		t.Errorf("update with receiver off failed")
	}
	if got, want := td.chip.dumps, dumps; got != want {
		t.Errorf("dumps: got %d want %d", got, want)
	}
}

func TestRxMissed(t *testing.T) {
	td := newTestDev(t, txConfig8169s, Family8169)
	td.open(t)
	RxMissed.set(td.Dev, 0x01000007)
	if got, want := td.Stats().RxMissed, uint64(7); got != want {
		t.Errorf("got %d want %d", got, want)
	}
	if got := RxMissed.get(td.Dev); got != 0 {
		t.Errorf("register not cleared: 0x%x", got)
	}
}

func ExampleStats_Fields() {
	s := Stats{RxPackets: 3, TxPackets: 2}
	s.Fields(func(name string, v uint64) {
		if v != 0 {
			fmt.Printf("%s: %d\n", name, v)
		}
	})
	// Output:
	// rx packets: 3
	// tx packets: 2
}
