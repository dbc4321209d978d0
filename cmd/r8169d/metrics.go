// Copyright © 2015-2020 Platina Systems, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package r8169d

import (
	"net/http"
	"strings"

	"github.com/platinasystems/log"
	"github.com/platinasystems/r8169/vnet/devices/ethernet/r8169"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "r8169"

// collector exports port status on each scrape.
type collector struct {
	status func() []status

	info   *prometheus.Desc
	linkUp *prometheus.Desc
	queued *prometheus.Desc
	drops  *prometheus.Desc
	stats  []*prometheus.Desc
}

func metricName(s string) string { return strings.ReplaceAll(s, " ", "_") + "_total" }

func newCollector(status func() []status) *collector {
	c := &collector{
		status: status,
		info: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "info"),
			"Chip of each port.", []string{"port", "pci", "chip", "version"}, nil),
		linkUp: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "link_up"),
			"Whether the link is up.", []string{"port"}, nil),
		queued: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "tx_queued"),
			"Frames waiting for the transmit ring.", []string{"port"}, nil),
		drops: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "tap_dropped_total"),
			"Frames the tap side could not pass on.", []string{"port"}, nil),
	}
	var s r8169.Stats
	s.Fields(func(name string, _ uint64) {
		c.stats = append(c.stats, prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", metricName(name)),
			"Device counter "+name+".", []string{"port"}, nil))
	})
	return c
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.info
	ch <- c.linkUp
	ch <- c.queued
	ch <- c.drops
	for _, d := range c.stats {
		ch <- d
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.status() {
		ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
			s.port, s.pci, s.chip, s.version)
		up := 0.0
		if s.link == r8169.LinkUp.String() {
			up = 1
		}
		ch <- prometheus.MustNewConstMetric(c.linkUp, prometheus.GaugeValue, up, s.port)
		ch <- prometheus.MustNewConstMetric(c.queued, prometheus.GaugeValue, float64(s.queued), s.port)
		ch <- prometheus.MustNewConstMetric(c.drops, prometheus.CounterValue, float64(s.tapDrops), s.port)
		i := 0
		s.stats.Fields(func(_ string, v uint64) {
			ch <- prometheus.MustNewConstMetric(c.stats[i], prometheus.CounterValue, float64(v), s.port)
			i++
		})
	}
}

// serveMetrics runs the exporter until srv is shut down.
func serveMetrics(srv *http.Server, c prometheus.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(c)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv.Handler = mux
	log.Print("info: metrics on ", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Print("err: metrics: ", err)
	}
}
