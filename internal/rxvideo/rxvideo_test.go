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

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stormlinemedia/st2110core/internal/rtp"
)

type fakeSink struct {
	frames []FrameMeta
	buf    []byte
	sliceNotifications []int
	detected *rtp.VideoFormat
}

func (f *fakeSink) QueryExtFrame(ts uint32) []byte {
	if f.buf == nil {
		f.buf = make([]byte, 1<<20)
	}
	return f.buf
}
func (f *fakeSink) NotifyFrameReady(frame []byte, meta FrameMeta) { f.frames = append(f.frames, meta) }
func (f *fakeSink) NotifySliceReady(frame []byte, readyLines int) {
	f.sliceNotifications = append(f.sliceNotifications, readyLines)
}
func (f *fakeSink) NotifyDetected(format rtp.VideoFormat) { f.detected = &format }

func testFormat() rtp.VideoFormat {
	return rtp.VideoFormat{Width: 1920, Height: 4, FPSNum: 60, FPSDen: 1, PixelFormat: rtp.YUV422_10BE, Packing: rtp.GPMSL}
}

func linePacket(f rtp.VideoFormat, seq uint16, line int, marker bool) Packet {
	payload := make([]byte, f.LineSize())
	for i := range payload {
		payload[i] = byte(line)
	}
	return Packet{
		Header: rtp.Header{SequenceNumber: seq, Timestamp: 1000, Marker: marker},
		SRD:    rtp.SRD{LineNumber: uint16(line), Length: uint16(len(payload))},
		Payload: payload,
	}
}

func TestSessionReassemblesCompleteFrame(t *testing.T) {
	f := testFormat()
	sink := &fakeSink{}
	s := New(Config{Format: f}, sink, nil, nil)

	for i := 0; i < f.Height; i++ {
		s.HandlePacket(linePacket(f, uint16(i), i, i == f.Height-1))
	}

	require.Len(t, sink.frames, 1)
	require.Equal(t, Complete, sink.frames[0].Status)
	require.Equal(t, f.FrameSize(), sink.frames[0].FrameRecvSize)
}

func TestDuplicatePacketIsNotCountedAsReceived(t *testing.T) {
	f := testFormat()
	sink := &fakeSink{}
	s := New(Config{Format: f}, sink, nil, nil)

	pkt := linePacket(f, 0, 0, false)
	s.HandlePacket(pkt)
	s.HandlePacket(pkt) // duplicate: bitmap already set

	sl := s.slots[0]
	require.Equal(t, 1, sl.pktsReceived)
}

func TestSliceModeNotifiesOnGranularity(t *testing.T) {
	f := testFormat()
	sink := &fakeSink{}
	s := New(Config{Format: f, SliceLines: 2}, sink, nil, nil)

	for i := 0; i < f.Height; i++ {
		s.HandlePacket(linePacket(f, uint16(i), i, i == f.Height-1))
	}

	require.Contains(t, sink.sliceNotifications, 2)
	require.Contains(t, sink.sliceNotifications, 4)
}

func TestFormatAutoDetectResolvesAfterThreeMarkers(t *testing.T) {
	f := testFormat()
	sink := &fakeSink{}
	s := New(Config{}, sink, nil, nil)
	require.False(t, s.detected)

	ts := uint32(0)
	seq := uint16(0)
	for frame := 0; frame < 3; frame++ {
		for line := 0; line < f.Height; line++ {
			marker := line == f.Height-1
			pkt := Packet{
				Header: rtp.Header{SequenceNumber: seq, Timestamp: ts, Marker: marker},
				SRD:    rtp.SRD{LineNumber: uint16(line)},
				Payload: make([]byte, 10),
			}
			s.HandlePacket(pkt)
			seq++
		}
		ts += 1500
	}

	require.True(t, s.detected)
	require.NotNil(t, sink.detected)
	require.Equal(t, f.Height, sink.detected.Height)
}

func TestRedundantPathMergeMarksReconstructed(t *testing.T) {
	// A large frame where the primary path delivers all but a handful of
	// lines, which the secondary (redundant) path fills in: per spec.md
	// §4.6.5's "(pkts_redundant + 16) < pkts_received" comparison, a small
	// redundant contribution against a large total is what flags
	// RECONSTRUCTED, as opposed to a near-total redundant takeover (which
	// reads the same as ordinary single-path completion).
	f := rtp.VideoFormat{Width: 1920, Height: 40, FPSNum: 60, FPSDen: 1, PixelFormat: rtp.YUV422_10BE, Packing: rtp.GPMSL}
	sink := &fakeSink{}
	s := New(Config{Format: f, NumPorts: 2}, sink, nil, nil)

	for i := 0; i < f.Height; i++ {
		pkt := linePacket(f, uint16(i), i, i == f.Height-1)
		if i >= f.Height-2 {
			pkt.Port = 1
		}
		s.HandlePacket(pkt)
	}

	require.Len(t, sink.frames, 1)
	require.Equal(t, Reconstructed, sink.frames[0].Status)
}

func TestSeqIDBaseLatchesFromWhicheverPortArrivesFirst(t *testing.T) {
	// If the primary path drops line 0's packet, the redundant path's copy
	// is the first one the session ever sees for this timestamp. seqIDBase
	// must latch from it regardless of Port, or every later pktIdx is
	// computed from the wrong origin and the whole frame misses its bitmap
	// window.
	f := testFormat()
	sink := &fakeSink{}
	s := New(Config{Format: f, NumPorts: 2}, sink, nil, nil)

	for i := 0; i < f.Height; i++ {
		pkt := linePacket(f, uint16(i), i, i == f.Height-1)
		if i == 0 {
			pkt.Port = 1 // primary's copy of line 0 was lost
		}
		s.HandlePacket(pkt)
	}

	require.Len(t, sink.frames, 1)
	require.NotEqual(t, Corrupted, sink.frames[0].Status)
}
