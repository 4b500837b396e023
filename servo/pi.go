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

package servo

import (
	"container/ring"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// kp and ki scale used by DefaultPiServoCfg and restored on every
	// reset (makePiFast).
	kpScale = 0.7
	kiScale = 0.3

	// gentler kp and ki scale applied by makePiSlow, which nothing in this
	// package calls.
	kpScaleLow = 0.07
	kiScaleLow = 0.03

	maxKpNormMax = 1.0
	maxKiNormMax = 2.0

	freqEstMargin = 0.001

	defaultOffsetRange = 100
)

type filterState uint8

const (
	filterNoSpike filterState = iota
	filterSpike
	filterReset
)

// PiServoCfg tunes the proportional/integral gains applied to each
// measured offset.
type PiServoCfg struct {
	PiKp         float64
	PiKi         float64
	PiKpScale    float64
	PiKpExponent float64
	PiKpNormMax  float64
	PiKiScale    float64
	PiKiExponent float64
	PiKiNormMax  float64
}

// PiServoFilterCfg configures the spike/outlier rejection layered on top
// of the raw PI correction.
type PiServoFilterCfg struct {
	minOffsetLocked   int64   // minimum offset (ns) to still call the servo locked
	maxFreqChange     int64   // ppb the local oscillator can drift per second
	maxSkipCount      int     // samples to skip via the filter before forcing a reset
	maxOffsetInit     int64   // initial offset above which a sample is an outlier
	offsetRange       int64   // range of offsets (ns) considered in-lock
	offsetStdevFactor float64 // stdev multiplier for the offset spike threshold
	freqStdevFactor   float64 // stdev multiplier for the frequency spike threshold
	ringSize          int     // samples to collect before the filter activates
}

// PiServoFilterSample is one offset/frequency pair fed into the ring
// buffers that back the spike filter.
type PiServoFilterSample struct {
	offset int64
	freq   float64
}

// PiServoFilter tracks the running mean and standard deviation of recent
// offset and frequency samples, used to tell a genuine offset spike from
// measurement noise on the DELAY_REQ/DELAY_RESP path.
type PiServoFilter struct {
	offsetStdev        int64
	offsetSigmaSq      int64
	offsetMean         int64
	lastOffset         int64
	freqStdev          float64
	freqSigmaSq        float64
	freqMean           float64
	skippedCount       int
	offsetSamples      *ring.Ring
	offsetSamplesCount int
	freqSamples        *ring.Ring
	freqSamplesCount   int
	cfg                *PiServoFilterCfg
}

// PiServo is the proportional-integral servo internal/ptpslave.Slave
// samples once per DELAY_RESP. Each call to Sample turns a t2/t4-derived
// offset into a frequency correction (ppb) that internal/sysclock.Discipline
// applies to the disciplined clock. When no kernel clock is being
// disciplined the slave does not use the frequency; its software offset is
// corrected from the measured offset alone.
type PiServo struct {
	Servo
	offset             [2]int64
	local              [2]uint64
	drift              float64
	kp                 float64
	ki                 float64
	lastFreq           float64
	syncInterval       float64
	count              int
	lastCorrectionTime time.Time
	filter             *PiServoFilter
	/* configuration: */
	cfg *PiServoCfg
}

// SetLastFreq overrides the frequency correction returned by the next
// MeanFreq call absent a filter.
func (s *PiServo) SetLastFreq(freq float64) {
	s.lastFreq = freq
}

// InitLastFreq seeds both the last-applied frequency and the drift
// estimate, e.g. from a grandmaster-reported initial offset.
func (s *PiServo) InitLastFreq(freq float64) {
	s.lastFreq = freq
	s.drift = freq
}

// SetMaxFreq sets the frequency correction clamp, matching whatever range
// the disciplined clock (software offset or a real PHC) actually supports.
func (s *PiServo) SetMaxFreq(freq float64) {
	s.maxFreq = freq
}

// UnsetFirstUpdate clears the flag that makes the very first offset sample
// use FirstStepThreshold instead of StepThreshold.
func (s *PiServo) UnsetFirstUpdate() {
	s.FirstUpdate = false
}

// GetMaxFreq returns the configured frequency correction clamp, in ppb.
func (s *PiServo) GetMaxFreq() float64 {
	return s.maxFreq
}

// IsStable reports whether offset falls within the servo's in-lock range,
// used to decide whether a measurement is trustworthy enough to fold into
// the frequency mean.
func (s *PiServo) IsStable(offset int64) bool {
	if s.filter != nil {
		return s.filter.IsStable(offset)
	}
	return inRange(offset, -defaultOffsetRange, defaultOffsetRange)
}

// IsSpike reports whether offset should be treated as a transient outlier
// rather than folded into the servo, and if the filter has seen too many
// outliers in a row, resets the servo back to StateInit so it re-acquires
// drift from scratch.
func (s *PiServo) IsSpike(offset int64) bool {
	if s.filter == nil || s.count < 2 {
		return false
	}
	fState := s.filter.isSpike(offset, s.lastCorrectionTime)
	if fState == filterSpike {
		s.lastFreq = s.filter.freqMean
		s.filter.skippedCount++ // safe: fState is only filterNoSpike without a filter
		return true
	}
	// Too many outstanding spikes in a row - stop trusting the filter's
	// view of steady state and re-acquire drift from scratch.
	if fState == filterReset {
		s.lastFreq = s.filter.freqMean
		s.count = 0
		s.drift = 0
		s.filter.Reset() // safe: fState is only filterNoSpike without a filter
		s.cfg.makePiFast()
		s.resyncInterval()
		log.Warning("servo: repeated offset spikes exceeded the skip budget, re-acquiring drift")
		return true
	}
	return false
}

// Sample folds a new offset measurement (nanoseconds, master minus slave)
// observed at localTs (slave-clock nanoseconds) into the servo and returns
// the frequency correction (ppb) to apply along with the resulting State.
// The first two samples only establish an initial drift estimate; steady
// -state correction begins on the third.
func (s *PiServo) Sample(offset int64, localTs uint64) (float64, State) {
	var kiTerm, freqEstInterval, localDiff float64
	state := StateInit
	ppb := s.lastFreq
	sOffset := offset
	if sOffset < 0 {
		sOffset = -sOffset
	}

	switch s.count {
	case 0:
		s.offset[0] = offset
		s.local[0] = localTs
		s.count = 1
	case 1:
		s.offset[1] = offset
		s.local[1] = localTs

		if s.local[0] >= s.local[1] {
			s.count = 0
			break
		}

		localDiff = (float64)(s.local[1]-s.local[0]) / math.Pow10(9)
		localDiff += localDiff * freqEstMargin
		freqEstInterval = 0.016 / s.ki
		if freqEstInterval > 1000.0 {
			freqEstInterval = 1000.0
		}
		if localDiff < freqEstInterval {
			log.Warning("servo: Sample called again before enough time passed since the first sample")
			break
		}

		// Derive an initial drift estimate from the frequency offset
		// implied by the first two samples.
		s.drift += (math.Pow10(9) - s.drift) * float64(s.offset[1]-s.offset[0]) /
			float64(s.local[1]-s.local[0])

		if s.drift < -s.maxFreq {
			s.drift = -s.maxFreq
		} else if s.drift > s.maxFreq {
			s.drift = s.maxFreq
		}

		if (s.FirstUpdate && s.FirstStepThreshold > 0 &&
			s.FirstStepThreshold < sOffset) ||
			(s.StepThreshold > 0 && s.StepThreshold < sOffset) {
			state = StateJump
		} else {
			state = StateLocked
		}
		ppb = s.drift
		s.count = 2
	case 2:
		// Reset once offset exceeds the step threshold: the step itself
		// happens in internal/ptpslave.Slave.apply, so the servo only
		// needs to drop back to StateInit and re-acquire drift afterward.
		if s.StepThreshold != 0 &&
			s.StepThreshold < sOffset {
			s.count = 0
			state = StateInit
			if s.filter != nil {
				s.filter.Reset()
			}
			break
		}
		state = StateLocked
		kiTerm = s.ki * float64(offset)
		ppb = s.kp*float64(offset) + s.drift + kiTerm
		if ppb < -s.maxFreq {
			ppb = -s.maxFreq
		} else if ppb > s.maxFreq {
			ppb = s.maxFreq
		} else {
			s.drift += kiTerm
		}
	}
	s.lastFreq = ppb
	if state == StateLocked && s.filter != nil {
		s.filter.Sample(&PiServoFilterSample{offset: offset, freq: ppb})
		s.filter.skippedCount = 0
		s.lastCorrectionTime = time.Now()
	}

	return ppb, state
}

func (s *PiServo) resyncInterval() {
	if s.syncInterval == 0 {
		return
	}
	s.kp = s.cfg.PiKpScale * math.Pow(s.syncInterval, s.cfg.PiKpExponent)
	if s.kp > s.cfg.PiKpNormMax/s.syncInterval {
		s.kp = s.cfg.PiKpNormMax / s.syncInterval
	}

	s.ki = s.cfg.PiKiScale * math.Pow(s.syncInterval, s.cfg.PiKiExponent)
	if s.ki > s.cfg.PiKiNormMax/s.syncInterval {
		s.ki = s.cfg.PiKiNormMax / s.syncInterval
	}
}

// SyncInterval tells the servo how far apart DELAY_RESP samples arrive, in
// seconds, so it can rescale its gains accordingly.
func (s *PiServo) SyncInterval(interval float64) {
	s.syncInterval = interval
	s.resyncInterval()
}

// GetState returns the servo's current State without taking a new sample.
func (s *PiServo) GetState() State {
	switch s.count {
	case 0:
		return StateInit
	case 1:
		return StateJump
	default:
		return StateLocked
	}
}

// IsStable reports whether both the last offset and the candidate one fall
// within the filter's in-lock range.
func (f *PiServoFilter) IsStable(offset int64) bool {
	return inRange(f.lastOffset, -f.cfg.offsetRange, f.cfg.offsetRange) && inRange(offset, -f.cfg.offsetRange, f.cfg.offsetRange)
}

// isSpike classifies offset against the filter's running statistics: a
// fresh outlier, an outlier that has now exceeded the skip budget (forcing
// a servo reset), or business as usual.
func (f *PiServoFilter) isSpike(offset int64, lastCorrection time.Time) filterState {
	if f.skippedCount >= f.cfg.maxSkipCount {
		return filterReset
	}
	if f.offsetSamplesCount != f.cfg.ringSize {
		return filterNoSpike
	}
	maxOffsetLocked := int64(f.cfg.offsetStdevFactor * float64(f.offsetStdev))
	secPassed := math.Round(time.Since(lastCorrection).Seconds())
	waitFactor := secPassed * (f.cfg.freqStdevFactor*f.freqStdev + float64(f.cfg.maxFreqChange/2))

	maxOffsetLocked += int64(waitFactor)

	log.Debugf("servo filter: offset stdev %d, wait factor %0.3f, max offset locked %d", f.offsetStdev, waitFactor, maxOffsetLocked)
	// offset can be negative; compare against its magnitude
	if offset < 0 {
		offset *= -1
	}
	if offset > max(maxOffsetLocked, f.cfg.minOffsetLocked) && f.skippedCount < f.cfg.maxSkipCount {
		return filterSpike
	}
	return filterNoSpike
}

func inRange(value, minimum, maximum int64) bool {
	if value >= minimum && value <= maximum {
		return true
	}
	return false
}

// Sample folds s into the filter's ring buffers and recomputes the running
// offset/frequency means and standard deviations.
func (f *PiServoFilter) Sample(s *PiServoFilterSample) {
	if f.offsetSamples.Value != nil {
		v := f.offsetSamples.Value.(*PiServoFilterSample)
		f.offsetMean -= v.offset / int64(f.offsetSamplesCount)
	}
	f.offsetSamples.Value = s
	f.offsetSamples = f.offsetSamples.Next()
	if f.offsetSamplesCount != f.cfg.ringSize {
		f.offsetSamplesCount++
		f.offsetMean = -1 * (s.offset / int64(f.offsetSamplesCount))
		f.offsetSamples.Do(func(val any) {
			if val == nil {
				return
			}
			v := val.(*PiServoFilterSample)
			f.offsetMean += v.offset / int64(f.offsetSamplesCount)
		})
	}
	f.offsetMean += s.offset / int64(f.offsetSamplesCount)
	var offsetSigmaSq int64
	f.offsetSamples.Do(func(val any) {
		if val == nil {
			return
		}
		v := val.(*PiServoFilterSample)
		offsetSigmaSq += (v.offset - f.offsetMean) * (v.offset - f.offsetMean)
	})
	f.offsetStdev = int64(math.Sqrt(float64(offsetSigmaSq) / float64(f.offsetSamplesCount)))
	f.lastOffset = s.offset

	// Mean frequency is heavily skewed by the samples used to compensate
	// for offset during recovery from a holdover. If the servo drops back
	// into holdover while still recovering from a previous one, a bad
	// frequency estimate here would pull the disciplined clock off fast.
	// Only update the frequency mean once the servo looks stable.
	if f.IsStable(s.offset) {
		var freqSigmaSq float64
		if f.freqSamples.Value != nil {
			// ring buffer is fully populated
			v := f.freqSamples.Value.(*PiServoFilterSample)
			f.freqMean -= v.freq / float64(f.freqSamplesCount)
			f.freqSamples.Value = s
			f.freqSamples = f.freqSamples.Next()
			f.freqMean += s.freq / float64(f.freqSamplesCount)
		} else {
			// still filling the ring
			f.freqSamples.Value = s
			f.freqSamples = f.freqSamples.Next()
			f.freqSamplesCount++
			if f.freqSamples.Value != nil {
				// first time the ring has enough samples to mean
				f.freqMean = float64(0)
				f.freqSamples.Do(func(val any) {
					if val == nil {
						return
					}
					v := val.(*PiServoFilterSample)
					f.freqMean += v.freq / float64(f.freqSamplesCount)
				})
			}
		}
		f.freqSamples.Do(func(val any) {
			if val == nil {
				return
			}
			v := val.(*PiServoFilterSample)
			freqSigmaSq += (v.freq - f.freqMean) * (v.freq - f.freqMean)
		})
		f.freqStdev = math.Sqrt(freqSigmaSq / float64(f.offsetSamplesCount))
		log.Debugf("servo filter: freq stdev %f, mean freq %f", f.freqStdev, f.freqMean)
	}
}

// Unlock resets the servo to StateInit and restores the fast (post-reset)
// gain schedule, for callers that need to force a re-acquisition (e.g.
// after a grandmaster failover).
func (s *PiServo) Unlock() {
	s.count = 0
	s.cfg.makePiFast()
	s.resyncInterval()
	s.filter.Reset()
}

// Reset clears the filter's ring buffers and running statistics, keeping
// the frequency mean (it is either still good from the last lock, or it's
// the best estimate available going into the next one).
func (f *PiServoFilter) Reset() {
	f.offsetSamples = ring.New(f.cfg.ringSize)
	f.freqSamples = ring.New(f.cfg.ringSize)
	f.offsetStdev = 0
	f.offsetSigmaSq = 0
	f.offsetMean = 0
	f.freqStdev = 0.0
	f.freqSigmaSq = 0.0
	f.skippedCount = 0
	f.offsetSamplesCount = 0
	f.freqSamplesCount = 0
}

// MeanFreq returns the filter's best current frequency estimate (ppb).
func (f *PiServoFilter) MeanFreq() float64 {
	return f.freqMean
}

// MeanFreq returns the best frequency correction (ppb) the servo currently
// has: the filter's running mean if one is attached, otherwise the last
// value Sample computed.
func (s *PiServo) MeanFreq() float64 {
	if s.filter != nil {
		return s.filter.MeanFreq()
	}
	return s.lastFreq
}

// NewPiServo builds a PiServo seeded with an initial frequency (ppb),
// typically 0 for a cold start or a previously-disciplined clock's last
// known correction.
func NewPiServo(s Servo, cfg *PiServoCfg, freq float64) *PiServo {
	var pi PiServo

	pi.Servo = s
	pi.cfg = cfg
	pi.lastFreq = freq
	pi.drift = freq

	return &pi
}

// NewPiServoFilter attaches a spike/outlier filter to s and returns it.
func NewPiServoFilter(s *PiServo, cfg *PiServoFilterCfg) *PiServoFilter {
	filter := &PiServoFilter{
		cfg: cfg,
	}
	filter.Reset()
	filter.freqMean = s.lastFreq
	s.filter = filter
	return filter
}

func (cfg *PiServoCfg) makePiFast() {
	cfg.PiKpScale = kpScale
	cfg.PiKiScale = kiScale
}

func (cfg *PiServoCfg) makePiSlow() {
	cfg.PiKpScale = kpScaleLow
	cfg.PiKiScale = kiScaleLow
}

// DefaultPiServoCfg returns the gain configuration
// internal/ptpslave.NewSlave constructs its PiServo with.
func DefaultPiServoCfg() *PiServoCfg {
	cfg := PiServoCfg{
		PiKp:         0.0,
		PiKi:         0.0,
		PiKpExponent: 0.0,
		PiKpNormMax:  maxKpNormMax,
		PiKiExponent: 0.0,
		PiKiNormMax:  maxKiNormMax,
	}
	cfg.makePiFast()
	return &cfg
}

// DefaultPiServoFilterCfg returns a reasonable spike-filter configuration
// for a once-per-second DELAY_RESP cadence.
func DefaultPiServoFilterCfg() *PiServoFilterCfg {
	return &PiServoFilterCfg{
		minOffsetLocked:   15000,
		maxFreqChange:     40,
		maxSkipCount:      15,
		maxOffsetInit:     500000,
		offsetRange:       defaultOffsetRange,
		offsetStdevFactor: 3.0,
		freqStdevFactor:   3.0,
		ringSize:          30,
	}
}
