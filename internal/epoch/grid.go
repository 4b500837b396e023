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

// Package epoch derives the media clock (spec.md §3 "Epoch/time") from a
// PTP-disciplined time source and provides the TSC<->PTP calibration the
// TX pacing state machine (spec.md §4.5.1) depends on.
package epoch

import "github.com/stormlinemedia/st2110core/internal/rtp"

// Grid is the frame-rate grid derived from a video format: the epoch is
// floor(ptp_ns / frame_time_ns), per spec.md §3.
type Grid struct {
	FrameTimeNS       int64
	FrameTimeSampling int64
}

// NewGrid builds a Grid from a video format.
func NewGrid(f rtp.VideoFormat) Grid {
	return Grid{
		FrameTimeNS:       f.FrameTimeNS(),
		FrameTimeSampling: f.FrameTimeSampling(),
	}
}

// Epoch returns floor(ptpNS / FrameTimeNS).
func (g Grid) Epoch(ptpNS int64) int64 {
	if g.FrameTimeNS == 0 {
		return 0
	}
	if ptpNS >= 0 {
		return ptpNS / g.FrameTimeNS
	}
	// floor division for negative values, kept for completeness even
	// though PTP time is never negative in practice.
	q := ptpNS / g.FrameTimeNS
	if ptpNS%g.FrameTimeNS != 0 {
		q--
	}
	return q
}

// MediaTimestamp32 returns the low 32 bits of epoch*FrameTimeSampling,
// carried as the RTP timestamp per spec.md §3.
func (g Grid) MediaTimestamp32(epoch int64) uint32 {
	return uint32(uint64(epoch) * uint64(g.FrameTimeSampling))
}

// EpochStartNS returns the PTP time, in nanoseconds, at which the given
// epoch begins.
func (g Grid) EpochStartNS(epoch int64) int64 {
	return epoch * g.FrameTimeNS
}
