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

package rxvideo

import "github.com/stormlinemedia/st2110core/internal/rtp"

const detectFrames = 3

// detector implements the format auto-detect pass of spec.md §4.6.4: run
// against the first few frames, inferring dimension, fps, packets-per-frame
// and packing before switching the session to its production handler.
type detector struct {
	maxLine      uint16
	markers      []markerObs
	sawSRDExtra  bool
	sawReuse     bool
	lastLine     uint16
	failed       bool
}

type markerObs struct {
	timestamp uint32
	seq       uint32
}

func newDetector() *detector {
	return &detector{}
}

// feedDetector folds one packet into the detector. Once detectFrames
// marker-bearing packets have been seen it resolves the format, installs it
// on the session, sizes the slot bitmaps and calls NotifyDetected.
func (s *Session) feedDetector(pkt Packet) {
	d := s.detector
	if d.failed {
		return
	}

	if pkt.SRD.LineNumber > d.maxLine {
		d.maxLine = pkt.SRD.LineNumber
	}
	if pkt.SRD.Continuation {
		d.sawSRDExtra = true
	}
	if pkt.SRD.LineNumber == d.lastLine {
		d.sawReuse = true
	}
	d.lastLine = pkt.SRD.LineNumber

	if pkt.Header.Marker {
		seq32 := uint32(pkt.Header.SequenceNumber)
		d.markers = append(d.markers, markerObs{timestamp: pkt.Header.Timestamp, seq: seq32})
	}

	if len(d.markers) < detectFrames {
		return
	}

	f, ok := d.resolve()
	if !ok {
		d.failed = true
		return
	}

	s.format = f
	s.detected = true
	s.bitmapBits = rtp.PacketsPerFrame(f) + 64
	for _, sl := range s.slots {
		sl.bitmap = rtp.NewBitmap(s.bitmapBits)
	}
	s.sink.NotifyDetected(f)
}

// resolve infers a VideoFormat from accumulated marker observations: height
// from the highest line number, fps from the timestamp delta between the
// first two markers, packing from SRD-extra/line-reuse heuristics. Width is
// fixed at 1920, and the recorded marker sequence numbers are not used, so
// packets-per-frame is not inferred from them.
func (d *detector) resolve() (rtp.VideoFormat, bool) {
	if len(d.markers) < 2 {
		return rtp.VideoFormat{}, false
	}
	tsDelta := d.markers[1].timestamp - d.markers[0].timestamp
	if tsDelta == 0 {
		return rtp.VideoFormat{}, false
	}

	const videoClockHz = 90_000
	fpsNum := videoClockHz
	fpsDen := int(tsDelta)

	packing := rtp.GPMSL
	switch {
	case d.sawSRDExtra:
		packing = rtp.GPM
	case d.sawReuse:
		packing = rtp.BPM
	}

	height := int(d.maxLine) + 1
	width := 1920 // width cannot be derived from line numbers alone; the
	// detector relies on the application's notify_detected reply (per
	// spec.md §4.6.4 "the application may reply with slice_lines and
	// uframe_size") to correct this for non-1080-line formats.

	return rtp.VideoFormat{
		Width:       width,
		Height:      height,
		FPSNum:      fpsNum,
		FPSDen:      fpsDen,
		PixelFormat: rtp.YUV422_10BE,
		Packing:     packing,
	}, true
}
