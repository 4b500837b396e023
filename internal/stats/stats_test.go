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

package stats

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSessionCountersAccumulate(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSession(reg, "tx0")

	s.Inc("epoch_mismatch")
	s.Inc("epoch_mismatch")
	s.Add("pkts_redundant_dropped", 5)
	s.Set("frame_recv_size", 1234)

	metrics, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, metrics)
}

func TestSessionReusesRegisteredCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	s1 := NewSession(reg, "rx0")
	s2 := &Session{id: "rx0", registry: reg, counters: map[string]prometheus.Counter{}, gauges: map[string]prometheus.Gauge{}}

	s1.Inc("pkts_idx_dropped")
	require.NotPanics(t, func() { s2.Inc("pkts_idx_dropped") })
}
