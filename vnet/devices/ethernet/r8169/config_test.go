// Copyright 2016 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package r8169

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

func TestParseFeatures(t *testing.T) {
	f, err := ParseFeatures("rx-checksum, tso,,none")
	if err != nil {
		t.Fatal(err)
	}
	if got, want := f, FeatureRxCsum|FeatureTSO; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if _, err := ParseFeatures("rx-checksum,lro"); err == nil {
		t.Errorf("unknown feature accepted")
	}
	if got, want := DefaultFeatures.String(),
		"rx-checksum,rx-vlan,tx-vlan,tx-checksum,scatter-gather,tso"; got != want {
		t.Errorf("String: got %s want %s", got, want)
	}
	if got, want := Features(0).String(), "none"; got != want {
		t.Errorf("String: got %s want %s", got, want)
	}
	g, err := ParseFeatures(DefaultFeatures.String())
	if err != nil || g != DefaultFeatures {
		t.Errorf("round trip: got %v, %v", g, err)
	}
}

func TestSetMTU(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.open(t)

	if got, want := td.Features(), DefaultFeatures; got != want {
		t.Errorf("initial features: got %v want %v", got, want)
	}
	if err := td.SetMTU(9000); err != nil {
		t.Fatal(err)
	}
	if got, want := td.Features(), DefaultFeatures&^(FeatureTSO|FeatureTxCsum); got != want {
		t.Errorf("jumbo features: got %v want %v", got, want)
	}
	if Config3.get(td.Dev)&Jumbo_En0 == 0 {
		t.Errorf("jumbo not enabled")
	}
	if got, want := td.MTU(), 9000; got != want {
		t.Errorf("mtu: got %d want %d", got, want)
	}

	// TSO is only dropped above 0x7ff.
	td.SetMTU(2000)
	if got, want := td.Features(), DefaultFeatures&^FeatureTxCsum; got != want {
		t.Errorf("mtu 2000: got %v want %v", got, want)
	}

	if err := td.SetMTU(1500); err != nil {
		t.Fatal(err)
	}
	if got, want := td.Features(), DefaultFeatures; got != want {
		t.Errorf("features restored: got %v want %v", got, want)
	}
	if Config3.get(td.Dev)&Jumbo_En0 != 0 {
		t.Errorf("jumbo not disabled")
	}

	for _, mtu := range []int{67, 9201} {
		if err := td.SetMTU(mtu); !errors.Is(err, ErrMTU) {
			t.Errorf("mtu %d: got %v want %v", mtu, err, ErrMTU)
		}
	}
}

func TestJumboTxCsumKept(t *testing.T) {
	td := newTestDev(t, txConfig8169s, Family8169)
	td.open(t)
	td.SetMTU(7000)
	if got, want := td.Features(), DefaultFeatures&^FeatureTSO; got != want {
		t.Errorf("got %v want %v", got, want)
	}
}

func TestNewMTUTooLarge(t *testing.T) {
	td := newTestDev(t, txConfig8102e, Family8101)
	_, err := New(Config{
		Regs:   td.chip,
		Dma:    td.heap,
		Family: Family8101,
		MTU:    4000,
		Logf:   td.log.logf,
	})
	if !errors.Is(err, ErrMTU) {
		t.Errorf("got %v want %v", err, ErrMTU)
	}
	if _, err = New(Config{Name: "x"}); !errors.Is(err, ErrConfig) {
		t.Errorf("empty config: got %v want %v", err, ErrConfig)
	}
}

func TestRxFeatureBits(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.open(t)

	td.SetFeatures(DefaultFeatures &^ (FeatureRxCsum | FeatureRxVlan))
	if got := CPlusCmd.get(td.Dev) & (RxChkSum | RxVlan); got != 0 {
		t.Errorf("cplus cmd: got 0x%04x want 0", got)
	}
	td.SetFeatures(DefaultFeatures)
	if got, want := CPlusCmd.get(td.Dev)&(RxChkSum|RxVlan), uint16(RxChkSum|RxVlan); got != want {
		t.Errorf("cplus cmd: got 0x%04x want 0x%04x", got, want)
	}
}

func TestMACAddress(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	if got, want := td.MACAddress().String(), "00:e0:4c:12:34:56"; got != want {
		t.Errorf("initial: got %s want %s", got, want)
	}

	bad, _ := net.ParseMAC("01:00:5e:00:00:01")
	if err := td.SetMACAddress(bad); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("multicast: got %v want %v", err, ErrInvalidAddress)
	}
	if err := td.SetMACAddress(make(net.HardwareAddr, 6)); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("zero: got %v want %v", err, ErrInvalidAddress)
	}

	a, _ := net.ParseMAC("02:11:22:33:44:55")
	if err := td.SetMACAddress(a); err != nil {
		t.Fatal(err)
	}
	if got, want := MAC0.get(td.Dev), uint32(0x33221102); got != want {
		t.Errorf("MAC0: got 0x%08x want 0x%08x", got, want)
	}
	if got, want := MAC4.get(td.Dev), uint32(0x5544); got != want {
		t.Errorf("MAC4: got 0x%08x want 0x%08x", got, want)
	}
	// 8168evl mirrors the address into the extended registers.
	if got, want := td.ReadEri(0xe0), uint32(0x33221102); got != want {
		t.Errorf("eri 0xe0: got 0x%08x want 0x%08x", got, want)
	}
	if got, want := td.ReadEri(0xe4), uint32(0x5544); got != want {
		t.Errorf("eri 0xe4: got 0x%08x want 0x%08x", got, want)
	}
	b := td.MACAddress()
	b[5] = 0
	if got, want := td.MACAddress().String(), a.String(); got != want {
		t.Errorf("MACAddress not a copy: got %s want %s", got, want)
	}
	if Cfg9346.get(td.Dev) != Cfg9346_Lock {
		t.Errorf("config registers left unlocked")
	}
}

func TestRxMode(t *testing.T) {
	mc, _ := net.ParseMAC("01:00:5e:00:00:01")
	for _, x := range []struct {
		name       string
		txConfig   uint32
		fam        Family
		mode       RxMode
		accept     uint32
		mar0, mar4 uint32
	}{
		{"unicast", txConfig8168evl, Family8168, RxMode{},
			AcceptBroadcast | AcceptMyPhys, 0, 0},
		{"promisc", txConfig8168evl, Family8168, RxMode{Promisc: true},
			AcceptBroadcast | AcceptMulticast | AcceptMyPhys | AcceptAllPhys, ^uint32(0), ^uint32(0)},
		{"allmulti", txConfig8168evl, Family8168, RxMode{AllMulti: true},
			AcceptBroadcast | AcceptMulticast | AcceptMyPhys, ^uint32(0), ^uint32(0)},
		{"hash swapped", txConfig8168evl, Family8168, RxMode{Multicast: []net.HardwareAddr{mc}},
			AcceptBroadcast | AcceptMulticast | AcceptMyPhys, 0, 0x80},
		{"hash", txConfig8169s, Family8169, RxMode{Multicast: []net.HardwareAddr{mc}},
			AcceptBroadcast | AcceptMulticast | AcceptMyPhys, 0x80000000, 0},
		{"over limit", txConfig8168evl, Family8168,
			RxMode{Multicast: make([]net.HardwareAddr, mcFilterLimit+1)},
			AcceptBroadcast | AcceptMulticast | AcceptMyPhys, ^uint32(0), ^uint32(0)},
	} {
		td := newTestDev(t, x.txConfig, x.fam)
		td.SetRxMode(x.mode)
		if got, want := RxConfig.get(td.Dev)&rxConfigAccept, x.accept; got != want {
			t.Errorf("%s: accept got 0x%02x want 0x%02x", x.name, got, want)
		}
		if got, want := MAR0.get(td.Dev), x.mar0; got != want {
			t.Errorf("%s: MAR0 got 0x%08x want 0x%08x", x.name, got, want)
		}
		if got, want := (MAR0 + 4).get(td.Dev), x.mar4; got != want {
			t.Errorf("%s: MAR4 got 0x%08x want 0x%08x", x.name, got, want)
		}
	}
}

func TestEtherCRC(t *testing.T) {
	a, _ := net.ParseMAC("01:00:5e:00:00:01")
	if got, want := etherCRC(a), uint32(0x7fa32d9b); got != want {
		t.Errorf("got 0x%08x want 0x%08x", got, want)
	}
}

func TestWol(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	td.SetWol(WakeMagic | WakeUcast)
	if got, want := td.WolOptions(), WakeMagic|WakeUcast; got != want {
		t.Errorf("got %v want %v", got, want)
	}
	if td.ReadEri(0xdc)&MagicPacket_v2 == 0 {
		t.Errorf("magic packet not armed in eri")
	}
	if Config3.get(td.Dev)&MagicPacket != 0 {
		t.Errorf("magic packet armed in config3")
	}
	if Config5.get(td.Dev)&(UWF|LanWake) != UWF|LanWake {
		t.Errorf("config5: got 0x%02x", Config5.get(td.Dev))
	}
	if Config2.get(td.Dev)&PME_SIGNAL == 0 {
		t.Errorf("pme signal not set")
	}
	td.SetWol(0)
	if got := td.WolOptions(); got != 0 {
		t.Errorf("disabled: got %v", got)
	}
	if Config2.get(td.Dev)&PME_SIGNAL != 0 {
		t.Errorf("pme signal still set")
	}

	old := newTestDev(t, txConfig8169s, Family8169)
	old.SetWol(WakeMagic | WakePhy)
	if got, want := old.WolOptions(), WakeMagic|WakePhy; got != want {
		t.Errorf("8169: got %v want %v", got, want)
	}
	old.SetWol(0)
	if Config1.get(old.Dev)&PMEnable != 0 {
		t.Errorf("8169: pm enable left set")
	}
}

func TestParseWol(t *testing.T) {
	for _, x := range []struct {
		s    string
		want Wol
		ok   bool
	}{
		{"magic,unicast", WakeMagic | WakeUcast, true},
		{"disabled", 0, true},
		{"", 0, true},
		{"any", WakeAny, true},
		{" phy , broadcast", WakePhy | WakeBcast, true},
		{"magic,arp", 0, false},
	} {
		w, err := ParseWol(x.s)
		if (err == nil) != x.ok {
			t.Errorf("%q: err %v", x.s, err)
			continue
		}
		if x.ok && w != x.want {
			t.Errorf("%q: got %v want %v", x.s, w, x.want)
		}
	}
}

func ExampleWol_String() {
	fmt.Println(WakeMagic | WakeUcast)
	fmt.Println(Wol(0))
	// Output:
	// unicast,magic
	// disabled
}

// writeRuns returns the lengths of the runs of equal kinds in seq.
func writeRuns(seq []byte) (kinds []byte, runs []int) {
	for i, k := range seq {
		if i == 0 || k != seq[i-1] {
			kinds = append(kinds, k)
			runs = append(runs, 0)
		}
		runs[len(runs)-1]++
	}
	return
}

func TestConfigWritesSerialized(t *testing.T) {
	td := newTestDev(t, txConfig8168evl, Family8168)
	var (
		mu    sync.Mutex
		seq   []byte
		delay time.Duration
	)
	td.chip.onWrite = func(o uint) {
		k := byte('m')
		if o == uint(RxConfig) || o == uint(CPlusCmd) {
			k = 'f'
		}
		mu.Lock()
		seq = append(seq, k)
		d := delay
		mu.Unlock()
		time.Sleep(d)
	}
	macs := []net.HardwareAddr{
		{0x00, 0xe0, 0x4c, 0x01, 0x02, 0x03},
		{0x00, 0xe0, 0x4c, 0x0a, 0x0b, 0x0c},
	}
	feats := []Features{FeatureRxCsum | FeatureRxVlan, FeatureRxAll}

	// Writes per call when run alone.
	td.SetFeatures(feats[0])
	nf := len(seq)
	if err := td.SetMACAddress(macs[0]); err != nil {
		t.Fatal(err)
	}
	nm := len(seq) - nf
	if nf == 0 || nm == 0 {
		t.Fatalf("writes per call: features %d address %d", nf, nm)
	}

	mu.Lock()
	seq, delay = nil, 50*time.Microsecond
	mu.Unlock()
	const n = 20
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			td.SetFeatures(feats[i%2])
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			if err := td.SetMACAddress(macs[i%2]); err != nil {
				t.Error(err)
			}
		}
	}()
	wg.Wait()

	if got, want := len(seq), n*(nf+nm); got != want {
		t.Fatalf("writes: got %d want %d", got, want)
	}
	kinds, runs := writeRuns(seq)
	for i, k := range kinds {
		per := nm
		if k == 'f' {
			per = nf
		}
		if runs[i]%per != 0 {
			t.Errorf("run %d: %d %c writes, not whole calls of %d", i, runs[i], k, per)
		}
	}
	if got, want := td.MACAddress().String(), macs[(n-1)%2].String(); got != want {
		t.Errorf("address: got %s want %s", got, want)
	}
}
