// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	redigo "github.com/garyburd/redigo/redis"
	"github.com/jpillora/backoff"
	"github.com/platinasystems/log"
	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
	uuid "github.com/satori/go.uuid"
)

// status is a snapshot of one port.
type status struct {
	port     string
	pci      string
	chip     string
	version  string
	link     string
	mtu      int
	mac      string
	features string
	wol      string
	queued   int
	tapDrops uint64
	stats    r8169.Stats
}

func fieldName(s string) string { return strings.ReplaceAll(s, " ", ".") }

// fields walks s as redis field/value pairs keyed by port.
func (s *status) fields(f func(k, v string)) {
	p := s.port + "."
	f(p+"pci", s.pci)
	f(p+"chip", s.chip)
	f(p+"version", s.version)
	f(p+"link", s.link)
	f(p+"mtu", fmt.Sprint(s.mtu))
	f(p+"mac", s.mac)
	f(p+"features", s.features)
	f(p+"wol", s.wol)
	f(p+"tx.queued", fmt.Sprint(s.queued))
	f(p+"tap.dropped", fmt.Sprint(s.tapDrops))
	s.stats.Fields(func(name string, v uint64) {
		f(p+fieldName(name), fmt.Sprint(v))
	})
}

// publisher keeps a redis hash current with port status.  Only changed
// fields are sent; a lost connection is retried with backoff.
type publisher struct {
	addr string
	hash string
	id   string

	dial func() (redigo.Conn, error)
	conn redigo.Conn
	last map[string]string
	b    *backoff.Backoff
	next time.Time
}

func newPublisher(addr, hash string) *publisher {
	p := &publisher{
		addr: addr,
		hash: hash,
		id:   uuid.NewV4().String(),
		last: make(map[string]string),
		b: &backoff.Backoff{
			Min:    1 * time.Second,
			Max:    60 * time.Second,
			Factor: 2,
			Jitter: false,
		},
	}
	p.dial = func() (redigo.Conn, error) {
		return redigo.Dial("tcp", p.addr, redigo.DialConnectTimeout(time.Second))
	}
	return p
}

func (p *publisher) connect(now time.Time) bool {
	if p.conn != nil {
		return true
	}
	if now.Before(p.next) {
		return false
	}
	c, err := p.dial()
	if err != nil {
		d := p.b.Duration()
		p.next = now.Add(d)
		log.Print("warning: redis ", p.addr, ": ", err, "; retry in ", d)
		return false
	}
	p.b.Reset()
	p.conn = c
	// A new server may have lost everything.
	p.last = make(map[string]string)
	return true
}

// Publish sends what changed since the last successful call.
func (p *publisher) Publish(now time.Time, st []status) (n int, err error) {
	if !p.connect(now) {
		return
	}
	sent := make(map[string]string)
	send := func(k, v string) {
		if p.last[k] == v {
			return
		}
		if err == nil {
			err = p.conn.Send("HSET", p.hash, k, v)
		}
		sent[k] = v
	}
	send("r8169d.id", p.id)
	for i := range st {
		st[i].fields(send)
	}
	if err == nil && len(sent) > 0 {
		_, err = p.conn.Do("")
	}
	if err != nil {
		log.Print("err: redis ", p.addr, ": ", err)
		p.Close()
		return 0, err
	}
	for k, v := range sent {
		p.last[k] = v
	}
	return len(sent), nil
}

func (p *publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// showStats prints a published hash, aligned for a terminal or as
// "field: value" lines for scripts.
func showStats(w io.Writer, m map[string]string, tty bool) {
	keys := make([]string, 0, len(m))
	width := 0
	for k := range m {
		keys = append(keys, k)
		if len(k) > width {
			width = len(k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if tty {
			fmt.Fprintf(w, "%-*s %s\n", width, k, m[k])
		} else {
			fmt.Fprintf(w, "%s: %s\n", k, m[k])
		}
	}
}

func readStats(addr, hash string) (map[string]string, error) {
	c, err := redigo.Dial("tcp", addr, redigo.DialConnectTimeout(time.Second))
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return redigo.StringMap(c.Do("HGETALL", hash))
}
