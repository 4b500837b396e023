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

package ptpslave

import (
	"fmt"
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var errNotEnoughData = fmt.Errorf("ptpslave: not enough data")

// Supported path delay filters, matching the teacher's sptp/client constants.
const (
	FilterNone   = ""
	FilterMedian = "median"
	FilterMean   = "mean"
)

// MeasurementConfig controls path-delay filtering.
type MeasurementConfig struct {
	PathDelayFilter               string
	PathDelayFilterLength         int
	PathDelayDiscardFilterEnabled bool
	PathDelayDiscardBelow         time.Duration
}

// mData is one raw T1-T4 sample for a single SYNC/DELAY_REQ exchange.
type mData struct {
	seq    uint16
	t1, t2 time.Time // SYNC departure (GM), SYNC arrival (slave)
	t3, t4 time.Time // DELAY_REQ departure (slave), DELAY_REQ arrival (GM)
	c1, c2 time.Duration
}

func (d *mData) Complete() bool {
	return !d.t1.IsZero() && !d.t2.IsZero() && !d.t3.IsZero() && !d.t4.IsZero()
}

func (d *mData) LatestTS() time.Time {
	res := d.t1
	for _, ts := range []time.Time{d.t2, d.t3, d.t4} {
		if ts.After(res) {
			res = ts
		}
	}
	return res
}

// MeasurementResult is one computed offset/delay datapoint, per spec.md
// §4.1 "computes offset+delay".
type MeasurementResult struct {
	Delay              time.Duration
	Offset             time.Duration
	ServerToClientDiff time.Duration
	ClientToServerDiff time.Duration
	Timestamp          time.Time
	GM                 *Announce
}

// measurements tracks in-flight T1-T4 exchanges keyed by sequence ID and
// produces filtered offset/delay results, grounded on the teacher's
// sptp/client measurements type.
type measurements struct {
	sync.Mutex

	cfg          *MeasurementConfig
	gm           *Announce
	data         map[uint16]*mData
	delaysWindow *slidingWindow
}

func newMeasurements(cfg *MeasurementConfig) *measurements {
	return &measurements{
		cfg:          cfg,
		data:         map[uint16]*mData{},
		delaysWindow: newSlidingWindow(maxInt(cfg.PathDelayFilterLength, 1)),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (m *measurements) setGM(gm *Announce) {
	m.Lock()
	defer m.Unlock()
	m.gm = gm
}

func (m *measurements) addT1(seq uint16, ts time.Time) {
	m.upsert(seq, func(d *mData) { d.t1 = ts })
}

func (m *measurements) addT2(seq uint16, ts time.Time, correction time.Duration) {
	m.upsert(seq, func(d *mData) { d.t2, d.c1 = ts, correction })
}

func (m *measurements) addT3(seq uint16, ts time.Time) {
	m.upsert(seq, func(d *mData) { d.t3 = ts })
}

func (m *measurements) addT4(seq uint16, ts time.Time, correction time.Duration) {
	m.upsert(seq, func(d *mData) { d.t4, d.c2 = ts, correction })
}

func (m *measurements) upsert(seq uint16, f func(*mData)) {
	m.Lock()
	defer m.Unlock()
	d, ok := m.data[seq]
	if !ok {
		d = &mData{seq: seq}
		m.data[seq] = d
	}
	f(d)
}

func (m *measurements) delay(newDelay time.Duration) time.Duration {
	last := m.delaysWindow.lastSample()
	if !math.IsNaN(last) && m.cfg.PathDelayDiscardFilterEnabled && newDelay < m.cfg.PathDelayDiscardBelow {
		log.Warnf("ptpslave: bad path delay %v < %v filtered out", newDelay, m.cfg.PathDelayDiscardBelow)
	} else {
		m.delaysWindow.add(float64(newDelay))
	}
	switch m.cfg.PathDelayFilter {
	case FilterMedian:
		return time.Duration(m.delaysWindow.median())
	case FilterMean:
		return time.Duration(m.delaysWindow.mean())
	default:
		return newDelay
	}
}

// latest returns the most recently completed exchange's offset/delay,
// using the PTP two-step formula with the path delay passed through the
// configured delay filter:
//
//	delay  = filter(((t2-t1-c1) + (t4-t3-c2)) / 2)
//	offset = (t2-t1-c1) - delay
//
// With an unfiltered delay, offset equals ((t2-t1-c1) - (t4-t3-c2)) / 2.
func (m *measurements) latest() (*MeasurementResult, error) {
	m.Lock()
	defer m.Unlock()
	var best *mData
	for _, d := range m.data {
		if !d.Complete() {
			continue
		}
		if best == nil || d.t2.After(best.t2) {
			best = d
		}
	}
	if best == nil {
		return nil, errNotEnoughData
	}
	serverToClient := best.t2.Sub(best.t1) - best.c1
	clientToServer := best.t4.Sub(best.t3) - best.c2
	rawDelay := (serverToClient + clientToServer) / 2
	delay := m.delay(rawDelay)
	offset := serverToClient - delay
	return &MeasurementResult{
		Delay:              delay,
		Offset:             offset,
		ServerToClientDiff: serverToClient,
		ClientToServerDiff: clientToServer,
		Timestamp:          best.t2,
		GM:                 m.gm,
	}, nil
}

func (m *measurements) cleanup(now time.Time, maxAge time.Duration) {
	m.Lock()
	defer m.Unlock()
	for seq, d := range m.data {
		if d.Complete() || now.Sub(d.LatestTS()) > maxAge {
			delete(m.data, seq)
		}
	}
}
