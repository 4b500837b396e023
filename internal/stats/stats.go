/*
Copyright (c) st2110core authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package stats implements the per-session statistics of spec.md §7:
// counters such as epoch_mismatch, pkts_redundant_dropped, and
// pkts_idx_dropped are "counted in per-session statistics, never surfaced
// to the caller". Grounded on ptp4u/sptp's PrometheusExporter — a
// dedicated prometheus.Registry per exporter, one Counter/Gauge per named
// metric, lazily registered on first use.
package stats

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Session holds every counter/gauge for one TX or RX session, labeled by
// session ID so a single registry can host every session in a process.
type Session struct {
	id       string
	registry *prometheus.Registry

	mu       sync.Mutex
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

// NewSession creates a Session bound to registry, labeled with id (e.g.
// "tx0", "rx3").
func NewSession(registry *prometheus.Registry, id string) *Session {
	return &Session{id: id, registry: registry, counters: map[string]prometheus.Counter{}, gauges: map[string]prometheus.Gauge{}}
}

// Inc increments the named counter by 1, e.g. "epoch_mismatch",
// "pkts_redundant_dropped", "pkts_idx_dropped".
func (s *Session) Inc(name string) {
	s.counter(name).Inc()
}

// Add increments the named counter by delta.
func (s *Session) Add(name string, delta float64) {
	s.counter(name).Add(delta)
}

// Set sets the named gauge, e.g. "frame_recv_size", "cinst_avg".
func (s *Session) Set(name string, value float64) {
	s.gauge(name).Set(value)
}

func (s *Session) counter(name string) prometheus.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        fmt.Sprintf("st2110core_%s", name),
		Help:        name,
		ConstLabels: prometheus.Labels{"session": s.id},
	})
	if err := s.registry.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c = are.ExistingCollector.(prometheus.Counter)
		} else {
			log.WithError(err).WithField("metric", name).Warn("stats: failed to register counter")
		}
	}
	s.counters[name] = c
	return c
}

func (s *Session) gauge(name string) prometheus.Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        fmt.Sprintf("st2110core_%s", name),
		Help:        name,
		ConstLabels: prometheus.Labels{"session": s.id},
	})
	if err := s.registry.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			g = are.ExistingCollector.(prometheus.Gauge)
		} else {
			log.WithError(err).WithField("metric", name).Warn("stats: failed to register gauge")
		}
	}
	s.gauges[name] = g
	return g
}

// Exporter serves every registered session's metrics over /metrics.
type Exporter struct {
	registry *prometheus.Registry
	port     int
}

// NewExporter creates an Exporter with its own registry.
func NewExporter(port int) *Exporter {
	return &Exporter{registry: prometheus.NewRegistry(), port: port}
}

// Registry returns the registry sessions should attach to via NewSession.
func (e *Exporter) Registry() *prometheus.Registry {
	return e.registry
}

// Start serves /metrics until the process exits. Intended to be run in its
// own goroutine, matching PrometheusExporter.Start.
func (e *Exporter) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return http.ListenAndServe(fmt.Sprintf(":%d", e.port), mux)
}
