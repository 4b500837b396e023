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

// Package txvideo implements the TX video session of spec.md §4.5: the
// epoch-acquisition pacing state machine of §4.5.1, RFC 4175 packet
// building of §4.5.2 via internal/rtp, and the ring-full/WAIT_FRAME/
// epoch-mismatch failure semantics of §4.5.3. The per-tick Handler is
// meant to be registered as an internal/tasklet.Tasklet and driven from
// a internal/sessionmgr.Manager's TaskletHandler.
package txvideo

import (
	log "github.com/sirupsen/logrus"

	"github.com/stormlinemedia/st2110core/internal/epoch"
	"github.com/stormlinemedia/st2110core/internal/nicio"
	"github.com/stormlinemedia/st2110core/internal/rtp"
	"github.com/stormlinemedia/st2110core/internal/stats"
)

// State is the session's pacing state, per spec.md §4.5.3.
type State uint8

const (
	// StateAcquiring is between frames, before epoch acquisition.
	StateAcquiring State = iota
	// StatePacing is actively emitting packets for the current frame.
	StatePacing
	// StateWaitFrame is waiting for the application to produce a frame.
	StateWaitFrame
)

// FrameSource is the callback-oriented application handle of spec.md §4
// "Session API": get_next_frame/notify_frame_done/get_next_frame_iova.
type FrameSource interface {
	// GetNextFrame returns a frame index and its bytes, or ok=false when no
	// frame is ready (session enters WAIT_FRAME, per spec.md §4.5.3).
	GetNextFrame() (idx int, frame []byte, ok bool)
	// NotifyFrameDone is called once every packet for a frame has been
	// handed to the TX ring.
	NotifyFrameDone(idx int)
}

// Config configures one TX video session.
type Config struct {
	Format       rtp.VideoFormat
	PayloadType  uint8
	SSRC         uint32
	Redundant    bool // ST 2022-7: emit a cloned packet on the secondary path
	SecondarySSRC uint32
}

// Session is one ST 2110-20 TX video session.
type Session struct {
	cfg    Config
	clock  *epoch.Clock
	grid   epoch.Grid
	queue  *nicio.TXQueue
	secQ   *nicio.TXQueue
	source FrameSource
	stat   *stats.Session

	state       State
	curEpoch    int64
	curTS       uint32
	tscCursor   uint64
	trsNS       int64
	extSeq      uint16
	frameIdx    int
	frameBytes  []byte
	lineNo      int
	mismatchRun int
}

// New creates a TX video session bound to queue (and secQ for the
// redundant path, which may be nil).
func New(cfg Config, clock *epoch.Clock, queue, secQ *nicio.TXQueue, source FrameSource, stat *stats.Session) *Session {
	grid := epoch.NewGrid(cfg.Format)
	pktsPerFrame := rtp.PacketsPerFrame(cfg.Format)
	trs := grid.FrameTimeNS
	if pktsPerFrame > 0 {
		trs = grid.FrameTimeNS / int64(pktsPerFrame)
	}
	return &Session{cfg: cfg, clock: clock, grid: grid, queue: queue, secQ: secQ, source: source, stat: stat, trsNS: trs}
}

// BandwidthBPS implements sessionmgr.Session.
func (s *Session) BandwidthBPS() int64 { return rtp.BandwidthBPS(s.cfg.Format) }

// DisableMigrate implements sessionmgr.Session; TX sessions may migrate.
func (s *Session) DisableMigrate() bool { return false }

// Attach implements sessionmgr.Session.
func (s *Session) Attach() error {
	s.state = StateAcquiring
	return nil
}

// Detach implements sessionmgr.Session.
func (s *Session) Detach() {}

// Stat implements sessionmgr.Session; counters already flow to s.stat live.
func (s *Session) Stat() {}

// Tick implements sessionmgr.Session / tasklet.Tasklet.Handler's body.
func (s *Session) Tick() {
	switch s.state {
	case StateAcquiring, StateWaitFrame:
		s.tryAcquire()
	case StatePacing:
		s.pump()
	}
}

// tryAcquire implements the epoch acquisition formulas of spec.md §4.5.1.
func (s *Session) tryAcquire() {
	idx, frame, ok := s.source.GetNextFrame()
	if !ok {
		s.state = StateWaitFrame
		return
	}

	ptpNS, err := s.clock.PtpNowNS()
	if err != nil {
		s.state = StateWaitFrame
		return
	}

	e := s.grid.Epoch(ptpNS) + 1
	if e == s.curEpoch {
		e++
	}
	trOffset := s.cfg.Format.TROffsetNS()
	delta := e*s.grid.FrameTimeNS + trOffset - ptpNS

	if delta < 0 {
		e++
		delta = e*s.grid.FrameTimeNS + trOffset - ptpNS
		s.incStat("epoch_mismatch")
		s.mismatchRun++
		if s.mismatchRun >= 2 {
			// Two consecutive overshoots: skip this frame entirely, per
			// spec.md §4.5.3, and try again next tick at the next epoch.
			s.mismatchRun = 0
			s.state = StateAcquiring
			return
		}
	} else {
		s.mismatchRun = 0
	}

	s.curEpoch = e
	s.curTS = s.grid.MediaTimestamp32(e)
	s.tscCursor = s.clock.TscNow() + uint64(delta)
	s.frameIdx = idx
	s.frameBytes = frame
	s.lineNo = 0
	s.state = StatePacing
}

// pump emits as many packets as the pacing cursor currently allows, per
// spec.md §4.5.1 "handed to the TX ring only once tsc_now() >= cursor".
func (s *Session) pump() {
	for s.lineNo < s.cfg.Format.Height {
		if s.clock.TscNow() < s.tscCursor {
			return
		}
		if !s.emitLine() {
			// Ring full: keep as inflight, retry next tick, per spec.md §4.5.3.
			return
		}
		s.tscCursor += uint64(s.trsNS)
		s.lineNo++
	}
	s.source.NotifyFrameDone(s.frameIdx)
	s.state = StateAcquiring
}

func (s *Session) emitLine() bool {
	pkt, ok := s.buildLinePacket(s.lineNo)
	if !ok {
		return true // nothing to send for this index; treat as success, advance
	}
	if err := s.queue.Enqueue(pkt); err != nil {
		return false
	}
	if s.secQ != nil {
		secPkt := s.cloneForRedundantPath(pkt)
		if err := s.secQ.Enqueue(secPkt); err != nil {
			log.WithError(err).Debug("txvideo: redundant path enqueue failed")
		}
	}
	s.incStat("pkts_sent")
	s.extSeq++
	return true
}

// buildLinePacket builds one GPM_SL packet for lineNo. Every format is sent
// one line per packet this way; Format.Packing does not change the layout.
func (s *Session) buildLinePacket(lineNo int) ([]byte, bool) {
	f := s.cfg.Format
	if lineNo >= f.Height {
		return nil, false
	}
	lineSize := f.LineSize()
	off := lineNo * lineSize
	if off+lineSize > len(s.frameBytes) {
		return nil, false
	}

	pkt := make([]byte, rtp.HeaderSize+rtp.SRDHeaderSize+lineSize)
	hdr := rtp.Header{
		Version:        2,
		Marker:         lineNo == f.Height-1,
		PayloadType:    s.cfg.PayloadType,
		SequenceNumber: s.extSeq,
		Timestamp:      s.curTS,
		SSRC:           s.cfg.SSRC,
	}
	n, _ := hdr.Marshal(pkt)
	srd := rtp.SRD{Length: uint16(lineSize), LineNumber: uint16(lineNo)}
	m, _ := rtp.MarshalSRDHeader(pkt[n:], srd)
	copy(pkt[n+m:], s.frameBytes[off:off+lineSize])
	return pkt, true
}

func (s *Session) cloneForRedundantPath(pkt []byte) []byte {
	clone := make([]byte, len(pkt))
	copy(clone, pkt)
	// Secondary-port SSRC differentiates the redundant stream per ST 2022-7,
	// while sequence/timestamp stay identical to the primary, per spec.md
	// §4.5.2 "emitted with the same sequence/timestamp as the primary".
	if s.cfg.SecondarySSRC != 0 {
		var hdr rtp.Header
		_ = hdr.Unmarshal(clone)
		hdr.SSRC = s.cfg.SecondarySSRC
		_, _ = hdr.Marshal(clone)
	}
	return clone
}

func (s *Session) incStat(name string) {
	if s.stat != nil {
		s.stat.Inc(name)
	}
}
