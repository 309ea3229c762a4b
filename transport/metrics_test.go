// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollector(t *testing.T) {
	harness := newClientHarness(t, nil)
	harness.client.On("update", NewHandler(noop))
	harness.client.On("update", NewHandler(noop))
	harness.client.On("ephemeral", NewHandler(noop))

	registry := prometheus.NewPedanticRegistry()
	registry.MustRegister(NewCollector(harness.client, prometheus.Labels{"client_type": "machine-scoped"}))

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	values := make(map[string]float64)
	for _, family := range families {
		metric := family.GetMetric()[0]
		if label := metric.GetLabel(); len(label) != 1 || label[0].GetValue() != "machine-scoped" {
			t.Errorf("%s labels = %v", family.GetName(), label)
		}
		switch {
		case metric.GetGauge() != nil:
			values[family.GetName()] = metric.GetGauge().GetValue()
		case metric.GetCounter() != nil:
			values[family.GetName()] = metric.GetCounter().GetValue()
		}
	}

	want := map[string]float64{
		"happy_transport_handlers":         3,
		"happy_transport_event_types":      2,
		"happy_transport_pending_acks":     0,
		"happy_transport_connected":        0,
		"happy_transport_reconnects_total": 0,
	}
	for name, expected := range want {
		got, ok := values[name]
		if !ok {
			t.Errorf("metric %s missing", name)
			continue
		}
		if got != expected {
			t.Errorf("%s = %v, want %v", name, got, expected)
		}
	}
}
