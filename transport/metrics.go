// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import "github.com/prometheus/client_golang/prometheus"

var _ prometheus.Collector = (*Collector)(nil)

// Collector exports a Client's Stats as Prometheus metrics, read at
// scrape time.
type Collector struct {
	client *Client

	handlers    *prometheus.Desc
	eventTypes  *prometheus.Desc
	pendingAcks *prometheus.Desc
	connected   *prometheus.Desc
	reconnects  *prometheus.Desc
}

// NewCollector returns a collector for client. constLabels distinguish
// several clients in one registry, for example by client type.
func NewCollector(client *Client, constLabels prometheus.Labels) *Collector {
	name := func(suffix string) string {
		return prometheus.BuildFQName("happy", "transport", suffix)
	}
	return &Collector{
		client: client,
		handlers: prometheus.NewDesc(name("handlers"),
			"Registered event handlers across all events.", nil, constLabels),
		eventTypes: prometheus.NewDesc(name("event_types"),
			"Event names with at least one handler.", nil, constLabels),
		pendingAcks: prometheus.NewDesc(name("pending_acks"),
			"Emitted events still awaiting an acknowledgment.", nil, constLabels),
		connected: prometheus.NewDesc(name("connected"),
			"1 while the socket is up.", nil, constLabels),
		reconnects: prometheus.NewDesc(name("reconnects_total"),
			"Reconnect attempts since start.", nil, constLabels),
	}
}

func (c *Collector) Describe(descriptions chan<- *prometheus.Desc) {
	descriptions <- c.handlers
	descriptions <- c.eventTypes
	descriptions <- c.pendingAcks
	descriptions <- c.connected
	descriptions <- c.reconnects
}

func (c *Collector) Collect(metrics chan<- prometheus.Metric) {
	stats := c.client.Stats()
	connected := 0.0
	if stats.Connected {
		connected = 1
	}
	metrics <- prometheus.MustNewConstMetric(c.handlers, prometheus.GaugeValue, float64(stats.TotalHandlers))
	metrics <- prometheus.MustNewConstMetric(c.eventTypes, prometheus.GaugeValue, float64(stats.EventTypes))
	metrics <- prometheus.MustNewConstMetric(c.pendingAcks, prometheus.GaugeValue, float64(stats.PendingAcks))
	metrics <- prometheus.MustNewConstMetric(c.connected, prometheus.GaugeValue, connected)
	metrics <- prometheus.MustNewConstMetric(c.reconnects, prometheus.CounterValue, float64(stats.Reconnects))
}
