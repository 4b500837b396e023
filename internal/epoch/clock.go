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
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stormlinemedia/st2110core/internal/errs"
)

// PTPSource is satisfied by internal/ptpslave.Slave: anything that can
// report disciplined PTP time and whether a first SYNC exchange has
// completed. Kept as an interface so epoch.Clock can be unit tested without
// a real PTP exchange, matching the teacher's PHCIface seam.
type PTPSource interface {
	// NowNS returns the current disciplined PTP time in nanoseconds.
	NowNS() int64
	// Synced reports whether at least one SYNC/FOLLOW_UP exchange has
	// completed, per spec.md §4.1 "Fails with PtpNotSynced...".
	Synced() bool
}

// Clock is the process-wide epoch clock singleton described by spec.md
// §4.1 and §9 ("model each as an owned singleton inside the top-level
// library handle"). It owns the PTP source and the TSC calibration used by
// every session's pacing decisions.
type Clock struct {
	ptp PTPSource
	tsc TSCSource
	cal atomic.Value // holds Calibration
}

// NewClock builds an epoch.Clock around the given PTP source. tsc may be
// nil to use the default monotonic counter.
func NewClock(ptp PTPSource, tsc TSCSource) *Clock {
	if tsc == nil {
		tsc = newMonotonicTSC()
	}
	c := &Clock{ptp: ptp, tsc: tsc}
	c.cal.Store(Calibration{NSPerTick: 1.0, HzEstimate: 1e9})
	return c
}

// Calibrate runs the startup TSC calibration (spec.md §4.1) and stores the
// result for TscToNsOffset/DelayTo to use.
func (c *Clock) Calibrate() Calibration {
	cal := NewCalibrator(c.tsc, nil).Run(nil)
	c.cal.Store(cal)
	log.WithField("hz", cal.HzEstimate).Info("epoch: tsc calibration complete")
	return cal
}

// TscHz returns the calibrated counter frequency.
func (c *Clock) TscHz() float64 {
	return c.cal.Load().(Calibration).HzEstimate
}

// TscNow returns the current raw TSC-equivalent tick.
func (c *Clock) TscNow() uint64 {
	return c.tsc.Now()
}

// TscToNsOffset converts a raw tick count to estimated wall/PTP-domain ns,
// per spec.md §4.1 "tsc_to_ns_offset()".
func (c *Clock) TscToNsOffset(tick uint64) int64 {
	return c.cal.Load().(Calibration).ToWallNS(tick)
}

// PtpNowNS returns the current disciplined PTP time, per spec.md §4.1
// "ptp_now_ns() -> u64". Returns an *errs.Error{Code: errs.PtpNotSynced}
// when no SYNC exchange has completed yet.
func (c *Clock) PtpNowNS() (int64, error) {
	if !c.ptp.Synced() {
		return 0, errs.New(errs.PtpNotSynced, nil)
	}
	return c.ptp.NowNS(), nil
}

// Synced reports whether the underlying PTP source has completed a first
// exchange.
func (c *Clock) Synced() bool { return c.ptp.Synced() }

// DelayTo busy-waits until the TSC reaches targetTick, per spec.md §4.1
// "delay_to(target_tsc) is a busy-wait on rdtsc". A context-free function
// on purpose: pacing call sites bound their own overall loop duration to
// one packet interval, per spec.md §5 "Cancellation".
func (c *Clock) DelayTo(targetTick uint64) {
	for c.tsc.Now() < targetTick {
		// Busy-wait; for ticks far in the future, yield briefly so this
		// doesn't starve other goroutines on a GOMAXPROCS=1 build.
		if targetTick-c.tsc.Now() > uint64(50*time.Microsecond) {
			time.Sleep(10 * time.Microsecond)
		}
	}
}
