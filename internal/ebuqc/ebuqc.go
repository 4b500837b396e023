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

// Package ebuqc implements the optional EBU compliance tracking of
// spec.md §4.6.6: running min/avg/max of Cinst, VRX, FPT, latency, RTP
// offset vs wall time, RTP timestamp delta, and inter-packet time, with
// a periodic pass/fail summary against ST 2110-21 narrow/wide thresholds.
// The running statistics are accumulated with eclesh/welford the way
// fbclock/daemon.Math does for its own clock-quality metrics; thresholds
// are evaluated with Knetic/govaluate so the narrow/wide/fail boundary
// expressions can be reconfigured without a code change, matching the
// teacher's "reconfigurable formula" pattern for M/W/Drift.
package ebuqc

import (
	"fmt"

	"github.com/Knetic/govaluate"
	"github.com/eclesh/welford"
)

// Metric is one running-statistics accumulator with min/avg/max.
type Metric struct {
	w       *welford.Stats
	min     float64
	max     float64
	samples int
}

// NewMetric creates an empty accumulator.
func NewMetric() *Metric {
	return &Metric{w: welford.New()}
}

// Add records one sample.
func (m *Metric) Add(v float64) {
	if m.samples == 0 || v < m.min {
		m.min = v
	}
	if m.samples == 0 || v > m.max {
		m.max = v
	}
	m.w.Add(v)
	m.samples++
}

// Min, Max, Avg report the running statistics; Avg is 0 with no samples.
func (m *Metric) Min() float64 { return m.min }
func (m *Metric) Max() float64 { return m.max }
func (m *Metric) Avg() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.w.Mean()
}

// Samples reports how many values have been added.
func (m *Metric) Samples() int { return m.samples }

// Accumulator holds every per-packet metric spec.md §4.6.6 names.
type Accumulator struct {
	Cinst          *Metric
	VRX            *Metric
	FPT            *Metric
	Latency        *Metric
	RTPOffset      *Metric
	RTPTSDelta     *Metric
	InterPacketGap *Metric

	frames int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		Cinst:          NewMetric(),
		VRX:            NewMetric(),
		FPT:            NewMetric(),
		Latency:        NewMetric(),
		RTPOffset:      NewMetric(),
		RTPTSDelta:     NewMetric(),
		InterPacketGap: NewMetric(),
	}
}

// Sample is one packet's contribution to the running metrics.
type Sample struct {
	Cinst          float64
	VRX            float64
	FPT            float64
	Latency        float64
	RTPOffset      float64
	RTPTSDelta     float64
	InterPacketGap float64
}

// Add folds one packet's measurements into the accumulator.
func (a *Accumulator) Add(s Sample) {
	a.Cinst.Add(s.Cinst)
	a.VRX.Add(s.VRX)
	a.FPT.Add(s.FPT)
	a.Latency.Add(s.Latency)
	a.RTPOffset.Add(s.RTPOffset)
	a.RTPTSDelta.Add(s.RTPTSDelta)
	a.InterPacketGap.Add(s.InterPacketGap)
}

// FrameComplete marks one frame done and reports true every `every` frames
// (every 300 frames when every <= 0).
func (a *Accumulator) FrameComplete(every int) bool {
	a.frames++
	if every <= 0 {
		every = 300
	}
	return a.frames%every == 0
}

// Verdict is the ST 2110-21 compliance class.
type Verdict string

const (
	Narrow Verdict = "narrow"
	Wide   Verdict = "wide"
	Fail   Verdict = "fail"
)

// Thresholds holds the govaluate boolean expressions that classify one
// Accumulator snapshot as narrow/wide/fail, evaluated in that order. Each
// expression sees the variables "cinst_max", "vrx_max", "fpt_max".
type Thresholds struct {
	NarrowExpr string
	WideExpr   string
}

// DefaultThresholds mirrors the ST 2110-21 narrow/wide VRX/Cinst bounds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NarrowExpr: "cinst_max <= 4 && vrx_max <= 8",
		WideExpr:   "cinst_max <= 16 && vrx_max <= 720",
	}
}

// Evaluate classifies the current snapshot against t, narrow first.
func (a *Accumulator) Evaluate(t Thresholds) (Verdict, error) {
	params := map[string]interface{}{
		"cinst_max": a.Cinst.Max(),
		"vrx_max":   a.VRX.Max(),
		"fpt_max":   a.FPT.Max(),
	}

	narrow, err := evalBool(t.NarrowExpr, params)
	if err != nil {
		return Fail, fmt.Errorf("ebuqc: narrow expr: %w", err)
	}
	if narrow {
		return Narrow, nil
	}

	wide, err := evalBool(t.WideExpr, params)
	if err != nil {
		return Fail, fmt.Errorf("ebuqc: wide expr: %w", err)
	}
	if wide {
		return Wide, nil
	}
	return Fail, nil
}

func evalBool(exprStr string, params map[string]interface{}) (bool, error) {
	expr, err := govaluate.NewEvaluableExpression(exprStr)
	if err != nil {
		return false, err
	}
	res, err := expr.Evaluate(params)
	if err != nil {
		return false, err
	}
	b, ok := res.(bool)
	if !ok {
		return false, fmt.Errorf("expression did not evaluate to bool: %v", res)
	}
	return b, nil
}
