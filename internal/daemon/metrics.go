// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package daemon

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports daemon counters to Prometheus
type Metrics struct {
	registry    *prometheus.Registry
	reads       *prometheus.CounterVec
	reconnects  prometheus.Counter
	consecutive prometheus.Gauge
	temperature *prometheus.GaugeVec
}

// NewMetrics creates the daemon metrics on a private registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tempbus_reads_total",
			Help: "Temperature reads by result",
		}, []string{"result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tempbus_reconnects_total",
			Help: "Successful MQTT reconnects",
		}),
		consecutive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tempbus_consecutive_errors",
			Help: "Consecutive failed cycles",
		}),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tempbus_temperature_celsius",
			Help: "Last published temperature (°C), NaN when unavailable",
		}, []string{"channel"}),
	}
	m.registry.MustRegister(
		m.reads,
		m.reconnects,
		m.consecutive,
		m.temperature,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) readOK() {
	m.reads.WithLabelValues("ok").Inc()
}

func (m *Metrics) readFailed() {
	m.reads.WithLabelValues("error").Inc()
}

func (m *Metrics) reconnected() {
	m.reconnects.Inc()
}

func (m *Metrics) setConsecutive(n int) {
	m.consecutive.Set(float64(n))
}

func (m *Metrics) setTemperature(ch int, v float64) {
	m.temperature.WithLabelValues(strconv.Itoa(ch)).Set(v)
}
