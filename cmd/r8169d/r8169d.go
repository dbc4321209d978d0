// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package r8169d drives Realtek RTL8169 family controllers from user
// space, passing frames to and from a tap interface per port.
package r8169d

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
	"github.com/platinasystems/r8169/cmd"
	"github.com/platinasystems/r8169/lang"
	"github.com/platinasystems/r8169/pidfile"
	"golang.org/x/sys/unix"
)

type Command struct {
	mu     sync.Mutex
	stop   chan struct{}
	ports  []*port
	pub    *publisher
	server *http.Server
}

func (*Command) String() string { return "r8169d" }

func (*Command) Usage() string {
	return "r8169d [-stats] [-config FILE] [-pci ADDR [-tap NAME] [-features LIST] [-mtu N]]\n" +
		"\t[-firmware DIR] [-redis HOST:PORT] [-hash NAME] [-metrics ADDR]"
}

func (*Command) Apropos() lang.Alt {
	return lang.Alt{
		lang.EnUS: "user space RTL8169 ethernet driver",
	}
}

func (*Command) Man() lang.Alt {
	return lang.Alt{
		lang.EnUS: `
DESCRIPTION
	Bind each configured controller to uio_pci_generic, run its transmit
	and receive rings and pass frames to and from a tap interface.

	Port status is published to a redis hash and, optionally, exported
	for prometheus on ADDR/metrics.

OPTIONS
	-stats	print the published hash and exit
	-config FILE
		yaml configuration, default ` + DefaultConfig + `
	-pci ADDR
		drive the single controller at ADDR instead of the
		configured devices
	-tap NAME
	-features LIST
	-mtu N	settings for the -pci controller
	-firmware DIR
		where rtl_nic firmware is found, default ` + DefaultFirmwareDir + `
	-redis HOST:PORT
	-hash NAME
		publish status in redis hash NAME, default ` + DefaultHash + `
	-metrics ADDR
		prometheus listen address

SIGNALS
	SIGUSR1	log registers, descriptor rings and tally counters

FILES
	` + pidfile.Dir + `/r8169d

EXAMPLES
	devices:
	  - pci: 0000:03:00.0
	    tap: rtl0
	    features: rx-checksum,tx-checksum,scatter-gather,tso
	    mtu: 9000
	    wol: magic
	    link:
	      advertise: 100full,1000full
	redis: 127.0.0.1:6379`,
	}
}

func (*Command) Kind() cmd.Kind { return cmd.Daemon }

func (c *Command) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	return nil
}

// config merges the command line into the configuration file.  With
// -pci the file is optional and its devices are ignored.
func config(parm *parms.Parms) (conf *Config, err error) {
	fn := parm.ByName["-config"]
	single := len(parm.ByName["-pci"]) > 0
	if len(fn) == 0 {
		fn = DefaultConfig
	}
	if conf, err = LoadConfig(fn); err != nil {
		if !single || !errors.Is(err, os.ErrNotExist) || len(parm.ByName["-config"]) > 0 {
			return nil, err
		}
		conf, err = ParseConfig(strings.NewReader(""))
	}
	if single {
		dc := DeviceConfig{
			Pci:      parm.ByName["-pci"],
			Tap:      parm.ByName["-tap"],
			Features: parm.ByName["-features"],
		}
		if s := parm.ByName["-mtu"]; len(s) > 0 {
			if dc.MTU, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("-mtu: %w", err)
			}
		}
		conf.Devices = []DeviceConfig{dc}
		conf.setDefaults()
	}
	for k, p := range map[string]*string{
		"-firmware": &conf.FirmwareDir,
		"-redis":    &conf.Redis,
		"-hash":     &conf.Hash,
		"-metrics":  &conf.Metrics,
	} {
		if s := parm.ByName[k]; len(s) > 0 {
			*p = s
		}
	}
	return
}

func (c *Command) Main(args ...string) error {
	flag, args := flags.New(args, "-stats")
	parm, args := parms.New(args, "-config", "-pci", "-tap", "-features",
		"-mtu", "-firmware", "-redis", "-hash", "-metrics")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	conf, err := config(parm)
	if err != nil {
		return err
	}

	if flag.ByName["-stats"] {
		if len(conf.Redis) == 0 {
			return errors.New("-stats: no redis server")
		}
		m, err := readStats(conf.Redis, conf.Hash)
		if err != nil {
			return err
		}
		showStats(os.Stdout, m, isatty.IsTerminal(os.Stdout.Fd()))
		return nil
	}

	settings, err := conf.settings()
	if err != nil {
		return err
	}
	pf, err := pidfile.New(c.String())
	if err != nil {
		return err
	}
	defer pidfile.Remove(pf)

	ctx, cancel := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer cancel()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, unix.SIGUSR1)
	defer signal.Stop(usr1)

	c.mu.Lock()
	c.stop = make(chan struct{})
	stop := c.stop
	c.mu.Unlock()

	defer c.shutdown()
	for _, s := range settings {
		p, err := openPort(s, conf)
		if err != nil {
			return err
		}
		c.ports = append(c.ports, p)
		p.Start(ctx)
	}

	if len(conf.Redis) > 0 {
		c.pub = newPublisher(conf.Redis, conf.Hash)
	}
	if len(conf.Metrics) > 0 {
		c.server = &http.Server{Addr: conf.Metrics}
		go serveMetrics(c.server, newCollector(c.status))
	}

	t := time.NewTicker(conf.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		case <-usr1:
			c.dump()
		case now := <-t.C:
			for _, p := range c.ports {
				p.watchdog()
			}
			if c.pub != nil {
				c.pub.Publish(now, c.status())
			}
		}
	}
}

func (c *Command) status() (st []status) {
	for _, p := range c.ports {
		st = append(st, p.status())
	}
	return
}

// dump logs every port's registers, rings and counters.
func (c *Command) dump() {
	for _, p := range c.ports {
		var b bytes.Buffer
		p.dump(&b)
		sc := bufio.NewScanner(&b)
		for sc.Scan() {
			log.Print("debug: ", p, ": ", sc.Text())
		}
	}
}

func (c *Command) shutdown() {
	if c.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		c.server.Shutdown(ctx)
		cancel()
	}
	for _, p := range c.ports {
		if err := p.Close(); err != nil {
			log.Print("err: ", p, ": ", err)
		}
	}
	c.ports = nil
	if c.pub != nil {
		c.pub.Close()
	}
}
