// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"bytes"
	"testing"
)

type rxSink struct{ frames []*RxFrame }

func (s *rxSink) receive(f *RxFrame) { s.frames = append(s.frames, f) }

func newRxTestDev(t *testing.T, txConfig uint32, fam Family) (*testDev, *rxSink) {
	s := &rxSink{}
	td := newTestDev(t, txConfig, fam, func(c *Config) { c.Receive = s.receive })
	td.open(t)
	return td, s
}

func TestRxFill(t *testing.T) {
	td, _ := newRxTestDev(t, txConfig8168evl, Family8168)
	for i := uint32(0); i < nRxDesc; i++ {
		o1 := td.rx.opts1(i)
		if o1&DescOwn == 0 {
			t.Fatalf("desc %d not owned by chip", i)
		}
		if got, want := o1&rxSizeMask, uint32(rxBufBytes); got != want {
			t.Errorf("desc %d: size got %d want %d", i, got, want)
		}
		if got, want := o1&RingEnd != 0, i == nRxDesc-1; got != want {
			t.Errorf("desc %d: ring end got %v want %v", i, got, want)
		}
	}
}

func TestRxConsume(t *testing.T) {
	td, s := newRxTestDev(t, txConfig8168evl, Family8168)

	td.rxFrame(0, frame(60), rxPID0, 0)
	td.rxFrame(1, frame(100), rxPID1|UDPFail, rxVlanTag|0x0a00)
	if got, want := td.rxConsume(rxBudgetAll), uint32(2); got != want {
		t.Fatalf("consumed: got %d want %d", got, want)
	}
	if got, want := len(s.frames), 2; got != want {
		t.Fatalf("frames: got %d want %d", got, want)
	}
	f := s.frames[0]
	if !bytes.Equal(f.Data, frame(60)) {
		t.Errorf("frame 0 data mismatch")
	}
	if !f.CsumOK || f.HasVlan {
		t.Errorf("frame 0: %v", f)
	}
	f = s.frames[1]
	if got, want := len(f.Data), 100; got != want {
		t.Errorf("frame 1 len: got %d want %d", got, want)
	}
	if f.CsumOK {
		t.Errorf("frame 1: udp checksum failure reported ok")
	}
	if got, want := f.Vlan, uint16(10); !f.HasVlan || got != want {
		t.Errorf("frame 1 vlan: got %d %v want %d", got, f.HasVlan, want)
	}

	// Consumed descriptors go back to the chip.
	for i := uint32(0); i < 2; i++ {
		if td.rx.opts1(i)&DescOwn == 0 {
			t.Errorf("desc %d not returned", i)
		}
	}
	if got, want := td.rx.cur, uint32(2); got != want {
		t.Errorf("cur: got %d want %d", got, want)
	}
	st := td.Stats()
	if st.RxPackets != 2 || st.RxBytes != 160 {
		t.Errorf("stats: %d packets %d bytes", st.RxPackets, st.RxBytes)
	}
}

func TestRxBudget(t *testing.T) {
	td, s := newRxTestDev(t, txConfig8168evl, Family8168)
	for i := uint32(0); i < 5; i++ {
		td.rxFrame(i, frame(64), 0, 0)
	}
	if got, want := td.rxConsume(3), uint32(3); got != want {
		t.Errorf("budget 3: got %d want %d", got, want)
	}
	if got, want := td.rxConsume(rxBudgetAll), uint32(2); got != want {
		t.Errorf("rest: got %d want %d", got, want)
	}
	if got, want := len(s.frames), 5; got != want {
		t.Errorf("frames: got %d want %d", got, want)
	}
}

func TestRxWrap(t *testing.T) {
	td, s := newRxTestDev(t, txConfig8168evl, Family8168)
	for round := 0; round < 3; round++ {
		for i := uint32(0); i < nRxDesc; i++ {
			td.rxFrame(i, frame(64), 0, 0)
		}
		if got, want := td.rxConsume(rxBudgetAll), uint32(nRxDesc); got != want {
			t.Fatalf("round %d: got %d want %d", round, got, want)
		}
	}
	if got, want := len(s.frames), 3*nRxDesc; got != want {
		t.Errorf("frames: got %d want %d", got, want)
	}
	if td.rx.opts1(nRxDesc-1)&RingEnd == 0 {
		t.Errorf("ring end lost")
	}
}

func TestRxErrors(t *testing.T) {
	td, s := newRxTestDev(t, txConfig8168evl, Family8168)

	td.rxFrame(0, frame(64), RxRES|RxCRC, 0)
	td.rxFrame(1, frame(64), RxRES|RxRUNT, 0)
	// Chained descriptor.
	td.rxFrame(2, frame(64), 0, 0)
	td.rx.setOpts1(2, td.rx.opts1(2)&^LastFrag)
	td.rxFrame(3, frame(64), 0, 0)

	if got, want := td.rxConsume(rxBudgetAll), uint32(4); got != want {
		t.Errorf("consumed: got %d want %d", got, want)
	}
	if got, want := len(s.frames), 1; got != want {
		t.Errorf("frames: got %d want %d", got, want)
	}
	st := td.Stats()
	for _, x := range []struct {
		name      string
		got, want uint64
	}{
		{"errors", st.RxErrors, 2},
		{"crc", st.RxCRCErrors, 1},
		{"length", st.RxLengthErrors, 2},
		{"dropped", st.RxDropped, 1},
	} {
		if x.got != x.want {
			t.Errorf("%s: got %d want %d", x.name, x.got, x.want)
		}
	}
}

func TestRxAll(t *testing.T) {
	td, s := newRxTestDev(t, txConfig8168evl, Family8168)
	td.SetFeatures(DefaultFeatures | FeatureRxAll | FeatureRxFCS)

	td.rxFrame(0, frame(64), RxRES|RxCRC, 0)
	td.rxConsume(rxBudgetAll)
	if got, want := len(s.frames), 1; got != want {
		t.Fatalf("frames: got %d want %d", got, want)
	}
	// Length includes the frame check sequence.
	if got, want := len(s.frames[0].Data), 68; got != want {
		t.Errorf("len: got %d want %d", got, want)
	}
	if RxConfig.get(td.Dev)&(AcceptErr|AcceptRunt) != AcceptErr|AcceptRunt {
		t.Errorf("rx config does not accept errors")
	}
}

func TestRxFifoOverflowResets(t *testing.T) {
	td, _ := newRxTestDev(t, txConfig8168evl, Family8168)
	td.rxFrame(0, frame(64), RxRES|RxFOVF, 0)
	// The opts1 mask hides RxFOVF on this chip.
	td.rxConsume(rxBudgetAll)
	if td.flags.Load()&taskResetPending != 0 {
		t.Errorf("masked fifo overflow scheduled reset")
	}

	td8169, _ := newRxTestDev(t, 0, Family8169)
	td8169.rxFrame(0, frame(64), RxRES|RxFOVF, 0)
	td8169.mu.Lock()
	td8169.flags.And(^uint32(taskEnabled))
	td8169.mu.Unlock()
	td8169.rxConsume(rxBudgetAll)
	if td8169.flags.Load()&taskResetPending == 0 {
		t.Errorf("fifo overflow did not schedule reset")
	}
	if got, want := td8169.Stats().RxFifoErrors, uint64(1); got != want {
		t.Errorf("fifo errors: got %d want %d", got, want)
	}
}

func TestRxFifoOverflowBurst(t *testing.T) {
	td, s := newRxTestDev(t, 0, Family8169)
	if got, want := td.profile.Version, Ver01; got != want {
		t.Fatalf("version: got %v want %v", got, want)
	}
	td.mu.Lock()
	td.flags.And(^uint32(taskEnabled))
	td.mu.Unlock()

	const n = 3
	for i := uint32(0); i < n; i++ {
		td.rxFrame(i, frame(64), RxRES|RxFOVF, 0)
	}
	td.rxFrame(n, frame(64), 0, 0)
	if got, want := td.rxConsume(rxBudgetAll), uint32(n+1); got != want {
		t.Errorf("consumed: got %d want %d", got, want)
	}
	st := td.Stats()
	if got, want := st.RxFifoErrors, uint64(n); got != want {
		t.Errorf("fifo errors: got %d want %d", got, want)
	}
	if got, want := st.RxErrors, uint64(n); got != want {
		t.Errorf("rx errors: got %d want %d", got, want)
	}
	if got, want := len(s.frames), 1; got != want {
		t.Errorf("frames: got %d want %d", got, want)
	}
	if td.flags.Load()&taskResetPending == 0 {
		t.Fatalf("fifo overflow did not schedule reset")
	}

	td.flags.Or(taskEnabled)
	td.runTasks()
	td.runTasks()
	if got, want := td.Stats().Resets, uint64(1); got != want {
		t.Errorf("resets: got %d want %d", got, want)
	}
	if td.flags.Load()&taskResetPending != 0 {
		t.Errorf("reset still pending")
	}
}

func TestRxClear(t *testing.T) {
	td, _ := newRxTestDev(t, txConfig8168evl, Family8168)
	td.mu.Lock()
	td.rxClear()
	td.mu.Unlock()
	for i := uint32(0); i < nRxDesc; i++ {
		if td.rx.bufs[i] != nil {
			t.Fatalf("buffer %d not freed", i)
		}
		if got, want := td.rx.bufAddr(i), uint64(unusableAddr); got != want {
			t.Errorf("desc %d: addr got 0x%x want 0x%x", i, got, want)
		}
		if td.rx.opts1(i)&DescOwn != 0 {
			t.Errorf("desc %d still owned by chip", i)
		}
	}
}

func TestRxCsumOK(t *testing.T) {
	for _, x := range []struct {
		status uint32
		ok     bool
	}{
		{rxPID0, true},
		{rxPID0 | TCPFail, false},
		{rxPID1, true},
		{rxPID1 | UDPFail, false},
		{rxPID1 | TCPFail, true},
		{0, false},
		{rxProto, false},
	} {
		if got, want := rxCsumOK(x.status), x.ok; got != want {
			t.Errorf("status 0x%08x: got %v want %v", x.status, got, want)
		}
	}
}
