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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stormlinemedia/st2110core/internal/errs"
	"github.com/stormlinemedia/st2110core/internal/rtp"
)

func TestGridEpochContinuity(t *testing.T) {
	g := NewGrid(rtp.VideoFormat{Width: 1920, Height: 1080, FPSNum: 60000, FPSDen: 1001})
	e0 := g.Epoch(0)
	e1 := g.Epoch(g.FrameTimeNS)
	require.Equal(t, e0+1, e1)
}

type fakePTP struct {
	ns     int64
	synced bool
}

func (f *fakePTP) NowNS() int64 { return f.ns }
func (f *fakePTP) Synced() bool { return f.synced }

func TestClockNotSyncedError(t *testing.T) {
	p := &fakePTP{synced: false}
	c := NewClock(p, nil)
	_, err := c.PtpNowNS()
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.PtpNotSynced))
}

func TestClockSyncedReturnsTime(t *testing.T) {
	p := &fakePTP{ns: 12345, synced: true}
	c := NewClock(p, nil)
	ns, err := c.PtpNowNS()
	require.NoError(t, err)
	require.Equal(t, int64(12345), ns)
}

type fakeTSC struct{ t uint64 }

func (f *fakeTSC) Now() uint64 { return f.t }

func TestCalibratorFitsLinearRelation(t *testing.T) {
	tsc := &fakeTSC{}
	var wall int64
	c := NewCalibrator(tsc, func() int64 { return wall })
	// Advance both clocks in lockstep (1 tick == 1ns) on each simulated
	// sleep so the fitted ns-per-tick should land close to 1.0.
	cal := c.Run(func(d time.Duration) {
		tsc.t += uint64(CalibrationSpacing)
		wall += int64(CalibrationSpacing)
	})
	require.InDelta(t, 1.0, cal.NSPerTick, 0.01)
	require.InDelta(t, 1e9, cal.HzEstimate, 1e7)
}
