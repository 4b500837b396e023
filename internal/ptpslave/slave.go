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
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/stormlinemedia/st2110core/internal/sysclock"
	"github.com/stormlinemedia/st2110core/servo"
)

// Transport is the minimal capability a two-step PTP slave needs from its
// network binding: issue a DELAY_REQ and learn when it actually left the
// wire. A real implementation binds this to hardware or software TX
// timestamping (grounded on the teacher's timestamp package); tests use a
// fake that returns the caller's wall clock immediately.
type Transport interface {
	SendDelayReq(seq uint16) (time.Time, error)
}

// Config controls slewing thresholds and grandmaster failover timing.
type Config struct {
	// StepThresholdNS: offsets larger than this are applied directly
	// (stepped); smaller offsets are slewed, per spec.md §4.1 "Large
	// jumps above a configurable threshold are applied directly;
	// otherwise half the measured offset is applied per step".
	StepThresholdNS int64
	// DropTimeNS is how long a grandmaster can go silent before a backup
	// is promoted, per spec.md §4.1.
	DropTimeNS    int64
	Measurement   MeasurementConfig
	LocalPriority map[ClockIdentity]int
}

// DefaultConfig returns sane defaults matching common PTP profiles.
func DefaultConfig() Config {
	return Config{
		StepThresholdNS: int64(time.Millisecond),
		DropTimeNS:      int64(4 * time.Second),
		Measurement: MeasurementConfig{
			PathDelayFilter:       FilterMean,
			PathDelayFilterLength: 8,
		},
	}
}

// Slave is a software two-step PTP slave. It implements
// internal/epoch.PTPSource so an epoch.Clock can be disciplined by it
// directly.
type Slave struct {
	cfg       Config
	transport Transport

	mu           sync.Mutex
	measurements map[ClockIdentity]*measurements
	activeGM     ClockIdentity
	lastAnnounce map[ClockIdentity]time.Time

	pservo     *servo.PiServo
	discipline sysclock.Discipline // nil: correction stays software-only

	offsetNS    atomic.Int64 // currently-applied correction, added to wall clock
	lastSyncAt  atomic.Int64 // unix nanos of last applied correction
	syncedFlag  atomic.Bool
	mismatchCnt atomic.Int64
}

// NewSlave builds a PTP slave bound to the given transport.
func NewSlave(cfg Config, transport Transport) *Slave {
	base := servo.DefaultServoConfig()
	s := &Slave{
		cfg:          cfg,
		transport:    transport,
		measurements: map[ClockIdentity]*measurements{},
		lastAnnounce: map[ClockIdentity]time.Time{},
		pservo:       servo.NewPiServo(base, servo.DefaultPiServoCfg(), 0),
	}
	return s
}

// DisciplineKernelClock makes the slave additionally apply every step and
// frequency correction to d, so the host's own clock (or a PHC bound to
// d) tracks the grandmaster, not just internal/epoch's software offset.
// By default a Slave corrects in software only.
func (s *Slave) DisciplineKernelClock(d sysclock.Discipline) {
	s.discipline = d
}

func (s *Slave) measurementsFor(gm ClockIdentity) *measurements {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.measurements[gm]
	if !ok {
		cfg := s.cfg.Measurement
		m = newMeasurements(&cfg)
		s.measurements[gm] = m
	}
	return m
}

// OnAnnounce records an ANNOUNCE from a candidate grandmaster and runs
// BMCA across all grandmasters seen within DropTimeNS, per spec.md §4.1
// "A grandmaster is chosen by the usual BMCA...a backup is promoted after
// ptp_drop_time_ns of absent announces".
func (s *Slave) OnAnnounce(a *Announce, now time.Time) {
	s.measurementsFor(a.GrandmasterIdentity).setGM(a)
	s.mu.Lock()
	s.lastAnnounce[a.GrandmasterIdentity] = now
	candidates := make([]*Announce, 0, len(s.measurements))
	for gm, m := range s.measurements {
		last, seen := s.lastAnnounce[gm]
		if !seen || now.Sub(last) > time.Duration(s.cfg.DropTimeNS) {
			continue
		}
		if m.gm != nil {
			candidates = append(candidates, m.gm)
		}
	}
	s.mu.Unlock()

	best := BMCA(candidates, s.cfg.LocalPriority)
	if best == nil {
		return
	}
	s.mu.Lock()
	changed := best.GrandmasterIdentity != s.activeGM
	s.activeGM = best.GrandmasterIdentity
	s.mu.Unlock()
	if changed {
		log.WithField("gm", best.GrandmasterIdentity).Info("ptpslave: grandmaster selected")
	}
}

// OnSync records SYNC arrival (t2) for sequence seq from the given
// grandmaster, and requests a DELAY_REQ be sent immediately — the
// two-step slave does not need to wait for FOLLOW_UP to do so.
func (s *Slave) OnSync(gm ClockIdentity, seq uint16, t2 time.Time) {
	m := s.measurementsFor(gm)
	m.addT2(seq, t2, 0)
	t3, err := s.transport.SendDelayReq(seq)
	if err != nil {
		log.Warnf("ptpslave: delay_req send failed: %v", err)
		return
	}
	m.addT3(seq, t3)
}

// OnFollowUp records the precise t1 (origin timestamp) and correction field
// carried by a two-step SYNC's FOLLOW_UP.
func (s *Slave) OnFollowUp(gm ClockIdentity, seq uint16, t1 time.Time, correction time.Duration) {
	s.measurementsFor(gm).addT1(seq, t1)
	m := s.measurementsFor(gm)
	m.upsert(seq, func(d *mData) { d.c1 += correction })
}

// OnDelayResp records t4 (grandmaster's DELAY_REQ arrival) and runs the
// servo, applying a step or a slew, per spec.md §4.1.
func (s *Slave) OnDelayResp(gm ClockIdentity, seq uint16, t4 time.Time, correction time.Duration) {
	m := s.measurementsFor(gm)
	m.addT4(seq, t4, correction)
	mr, err := m.latest()
	if err != nil {
		return
	}
	s.apply(mr)
}

func (s *Slave) apply(mr *MeasurementResult) {
	offset := mr.Offset.Nanoseconds()
	if abs64(offset) > s.cfg.StepThresholdNS {
		// Large jump: apply directly (step), per spec.md §4.1.
		s.offsetNS.Store(s.offsetNS.Load() + offset)
		log.WithField("offset_ns", offset).Warn("ptpslave: stepping clock")
		if s.discipline != nil {
			if err := s.discipline.Step(time.Duration(offset)); err != nil {
				log.WithError(err).Warn("ptpslave: kernel clock step failed")
			}
		}
	} else {
		// IIR slew: apply half the measured offset per step.
		s.offsetNS.Store(s.offsetNS.Load() + offset/2)
	}
	freq, _ := s.pservo.Sample(offset, uint64(mr.Timestamp.UnixNano()))
	if s.discipline != nil {
		if err := s.discipline.AdjustFreqPPB(freq); err != nil {
			log.WithError(err).Warn("ptpslave: kernel clock frequency adjust failed")
		}
	}
	s.lastSyncAt.Store(time.Now().UnixNano())
	s.syncedFlag.Store(true)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// NowNS implements internal/epoch.PTPSource: wall clock plus the
// currently-applied correction.
func (s *Slave) NowNS() int64 {
	return time.Now().UnixNano() + s.offsetNS.Load()
}

// Synced implements internal/epoch.PTPSource.
func (s *Slave) Synced() bool {
	return s.syncedFlag.Load()
}

// StaleFor reports how long it has been since the last applied correction,
// used by the fatal-error path of spec.md §7 ("PTP lost > drop_time").
func (s *Slave) StaleFor(now time.Time) time.Duration {
	last := s.lastSyncAt.Load()
	if last == 0 {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(time.Unix(0, last))
}

// Cleanup drops stale in-flight exchanges; call periodically.
func (s *Slave) Cleanup(now time.Time, maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.measurements {
		m.cleanup(now, maxAge)
	}
}
