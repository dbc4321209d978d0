// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/platinasystems/r8169/elib/hw/pci"
	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfig      = "/etc/goes/r8169d.yaml"
	DefaultFirmwareDir = "/lib/firmware"
	DefaultHash        = "r8169"
	DefaultInterval    = 5 * time.Second
	DefaultDmaLog2     = 22
	DefaultQueueLen    = 512

	// Longest kernel interface name.
	ifNameMax = 15
)

var ErrNoDevices = errors.New("no devices configured")

// Config is the daemon's yaml configuration file.
type Config struct {
	Devices     []DeviceConfig `yaml:"devices"`
	FirmwareDir string         `yaml:"firmware_dir"`
	// Redis server address, host:port; empty disables publishing.
	Redis    string        `yaml:"redis"`
	Hash     string        `yaml:"hash"`
	Interval time.Duration `yaml:"interval"`
	// Prometheus listen address; empty disables the exporter.
	Metrics  string `yaml:"metrics"`
	DmaLog2  uint   `yaml:"dma_log2"`
	QueueLen int    `yaml:"queue_len"`
}

type DeviceConfig struct {
	Pci string `yaml:"pci"`
	Tap string `yaml:"tap"`
	// Comma separated feature names; empty for the defaults.
	Features string     `yaml:"features"`
	MTU      int        `yaml:"mtu"`
	Wol      string     `yaml:"wol"`
	Mac      string     `yaml:"mac"`
	Promisc  bool       `yaml:"promisc"`
	AllMulti bool       `yaml:"allmulti"`
	Link     LinkConfig `yaml:"link"`
}

// LinkConfig leaves the link negotiating when Speed is zero.
type LinkConfig struct {
	Speed     int    `yaml:"speed"`
	Duplex    string `yaml:"duplex"`
	Advertise string `yaml:"advertise"`
}

// settings is a checked DeviceConfig.
type settings struct {
	addr     pci.BusAddress
	tap      string
	features r8169.Features
	mtu      int
	wol      r8169.Wol
	mac      net.HardwareAddr
	rxMode   r8169.RxMode
	link     *r8169.LinkConfig
}

func LoadConfig(fn string) (c *Config, err error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return
	}
	if c, err = ParseConfig(bytes.NewReader(b)); err != nil {
		err = fmt.Errorf("%s: %w", fn, err)
	}
	return
}

func ParseConfig(r io.Reader) (c *Config, err error) {
	c = new(Config)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err = dec.Decode(c); err != nil && err != io.EOF {
		return nil, err
	}
	c.setDefaults()
	return c, nil
}

func (c *Config) setDefaults() {
	if c.FirmwareDir == "" {
		c.FirmwareDir = DefaultFirmwareDir
	}
	if c.Hash == "" {
		c.Hash = DefaultHash
	}
	if c.Interval == 0 {
		c.Interval = DefaultInterval
	}
	if c.DmaLog2 == 0 {
		c.DmaLog2 = DefaultDmaLog2
	}
	if c.QueueLen == 0 {
		c.QueueLen = DefaultQueueLen
	}
	for i := range c.Devices {
		if c.Devices[i].Tap == "" {
			c.Devices[i].Tap = fmt.Sprint("rtl", i)
		}
	}
}

// settings checks every device entry.
func (c *Config) settings() (s []settings, err error) {
	if len(c.Devices) == 0 {
		return nil, ErrNoDevices
	}
	if c.Interval < 0 {
		return nil, fmt.Errorf("interval %s: negative", c.Interval)
	}
	if c.DmaLog2 < 16 || c.DmaLog2 > 30 {
		return nil, fmt.Errorf("dma_log2 %d: out of range", c.DmaLog2)
	}
	seen := make(map[string]string)
	for i := range c.Devices {
		var x settings
		if x, err = c.Devices[i].settings(); err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		for _, k := range []string{x.addr.String(), x.tap} {
			if prev, found := seen[k]; found {
				return nil, fmt.Errorf("device %d: %s already used by %s", i, k, prev)
			}
			seen[k] = x.addr.String()
		}
		s = append(s, x)
	}
	return
}

func (dc *DeviceConfig) settings() (s settings, err error) {
	if s.addr, err = pci.ParseBusAddress(dc.Pci); err != nil {
		return
	}
	s.tap = dc.Tap
	if len(s.tap) > ifNameMax || strings.ContainsAny(s.tap, "/ ") {
		err = fmt.Errorf("%q: bad interface name", s.tap)
		return
	}
	if dc.Features != "" {
		if s.features, err = r8169.ParseFeatures(dc.Features); err != nil {
			return
		}
		// Zero would select the defaults.
		if s.features == 0 {
			err = fmt.Errorf("features %q: empty set", dc.Features)
			return
		}
	}
	s.mtu = dc.MTU
	if s.mtu < 0 {
		err = fmt.Errorf("mtu %d: %w", s.mtu, r8169.ErrMTU)
		return
	}
	if s.wol, err = r8169.ParseWol(dc.Wol); err != nil {
		return
	}
	if dc.Mac != "" {
		if s.mac, err = net.ParseMAC(dc.Mac); err != nil {
			return
		}
		if len(s.mac) != 6 {
			err = fmt.Errorf("%s: %w", dc.Mac, r8169.ErrInvalidAddress)
			return
		}
	}
	s.rxMode = r8169.RxMode{Promisc: dc.Promisc, AllMulti: dc.AllMulti}
	s.link, err = dc.Link.parse()
	return
}

var advertiseNames = map[string]r8169.Advertise{
	"10half":   r8169.Advertise10Half,
	"10full":   r8169.Advertise10Full,
	"100half":  r8169.Advertise100Half,
	"100full":  r8169.Advertise100Full,
	"1000half": r8169.Advertise1000Half,
	"1000full": r8169.Advertise1000Full,
	"10":       r8169.Advertise10,
	"100":      r8169.Advertise100,
	"1000":     r8169.Advertise1000,
	"all":      r8169.AdvertiseAllGE,
}

// parse returns nil when the link is left as the device found it.
func (lc *LinkConfig) parse() (c *r8169.LinkConfig, err error) {
	if lc.Speed == 0 && lc.Duplex == "" && lc.Advertise == "" {
		return
	}
	c = &r8169.LinkConfig{Autoneg: lc.Speed == 0, FullDuplex: true}
	switch lc.Duplex {
	case "", "full":
	case "half":
		c.FullDuplex = false
	default:
		return nil, fmt.Errorf("duplex %q: want full or half", lc.Duplex)
	}
	if !c.Autoneg {
		switch lc.Speed {
		case 10, 100, 1000:
			c.Speed = lc.Speed
		default:
			return nil, fmt.Errorf("speed %d: want 10, 100 or 1000", lc.Speed)
		}
		if lc.Advertise != "" {
			return nil, fmt.Errorf("advertise with forced speed %d", lc.Speed)
		}
		return
	}
	if lc.Advertise == "" {
		c.Advertise = r8169.AdvertiseAllGE
		return
	}
	for _, w := range strings.Split(lc.Advertise, ",") {
		a, found := advertiseNames[strings.TrimSpace(w)]
		if !found {
			return nil, fmt.Errorf("advertise %q: unknown mode", w)
		}
		c.Advertise |= a
	}
	return
}
