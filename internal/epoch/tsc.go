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

package epoch

import (
	"sort"
	"time"
)

// TSCSource is the free-running counter pacing busy-waits against. On a
// real NIC-attached host this would be rdtsc; Go has no portable way to
// issue that instruction without per-arch assembly, so the default
// implementation (monotonicTSC) uses the runtime's monotonic clock, which
// the Go scheduler already keeps cheap to read. TSCSource is an interface
// precisely so a platform-specific rdtsc binding can be substituted without
// touching any pacing code — see DESIGN.md.
type TSCSource interface {
	// Now returns the free-running counter's current tick value.
	Now() uint64
}

type monotonicTSC struct{ start time.Time }

func newMonotonicTSC() *monotonicTSC { return &monotonicTSC{start: time.Now()} }

// Now returns nanoseconds elapsed since the source was created.
func (m *monotonicTSC) Now() uint64 { return uint64(time.Since(m.start)) }

// CalibrationSpacing and CalibrationSamples follow spec.md §4.1:
// "samples 100 paired (wall_ns, tsc) over ~1 second with 10ms spacing".
const (
	CalibrationSamples = 100
	CalibrationSpacing = 10 * time.Millisecond
	calibrationTrim    = 10
)

// calibrationSample pairs a wall-clock reading with a TSC reading.
type calibrationSample struct {
	wallNS int64
	tsc    uint64
}

// Calibrator performs the startup TSC<->wall-clock calibration: sample,
// sort by wall time, trim 10 samples from each end. The rate is a two-point
// fit between the first and last remaining samples; the samples in between
// are not averaged into the result.
type Calibrator struct {
	tsc    TSCSource
	wallFn func() int64
}

// NewCalibrator builds a Calibrator against the given TSC source; wallFn
// defaults to time.Now().UnixNano if nil.
func NewCalibrator(tsc TSCSource, wallFn func() int64) *Calibrator {
	if tsc == nil {
		tsc = newMonotonicTSC()
	}
	if wallFn == nil {
		wallFn = func() int64 { return time.Now().UnixNano() }
	}
	return &Calibrator{tsc: tsc, wallFn: wallFn}
}

// Calibration is the result of running the startup calibration: the
// estimated counter frequency and the offset needed to convert a raw TSC
// reading into PTP-domain nanoseconds.
type Calibration struct {
	HzEstimate   float64
	NSPerTick    float64
	WallAtTick0  int64
	TickAtCalib  uint64
}

// Run executes the sampling loop. sleepFn defaults to time.Sleep; tests
// substitute a fake that advances their simulated clocks instead of sleeping.
func (c *Calibrator) Run(sleepFn func(time.Duration)) Calibration {
	if sleepFn == nil {
		sleepFn = time.Sleep
	}
	samples := make([]calibrationSample, 0, CalibrationSamples)
	for i := 0; i < CalibrationSamples; i++ {
		samples = append(samples, calibrationSample{wallNS: c.wallFn(), tsc: c.tsc.Now()})
		if i < CalibrationSamples-1 {
			sleepFn(CalibrationSpacing)
		}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].wallNS < samples[j].wallNS })
	trimmed := samples[calibrationTrim : len(samples)-calibrationTrim]

	// Fit ns-per-tick from the first and last trimmed sample; this is the
	// same two-point linear fit the teacher's phc package uses for
	// sysoff_estimate, applied here to (wall_ns, tsc) pairs instead of
	// (sys_ts, phc_ts) pairs.
	first, last := trimmed[0], trimmed[len(trimmed)-1]
	var nsPerTick float64 = 1.0
	if last.tsc != first.tsc {
		nsPerTick = float64(last.wallNS-first.wallNS) / float64(last.tsc-first.tsc)
	}
	hz := 1e9 / nsPerTick

	return Calibration{
		HzEstimate:  hz,
		NSPerTick:   nsPerTick,
		WallAtTick0: first.wallNS - int64(float64(first.tsc)*nsPerTick),
		TickAtCalib: last.tsc,
	}
}

// ToWallNS converts a raw TSC tick into an estimated wall-clock nanosecond
// value, using the calibration's affine fit.
func (cal Calibration) ToWallNS(tick uint64) int64 {
	return cal.WallAtTick0 + int64(float64(tick)*cal.NSPerTick)
}
