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

package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/stormlinemedia/st2110core/internal/rtp"
	"github.com/stormlinemedia/st2110core/internal/rxvideo"
)

// fileFrameSink implements rxvideo.Sink, writing every completed frame
// out to a raw planar video file in arrival order. QueryExtFrame hands
// out one of two rotating buffers so the reassembler never writes into a
// frame the sink is still flushing to disk.
type fileFrameSink struct {
	f    *os.File
	bufs [2][]byte
	next int
}

func newFileFrameSink(path string, frameSize int) (*fileFrameSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileFrameSink{f: f, bufs: [2][]byte{make([]byte, frameSize), make([]byte, frameSize)}}, nil
}

// QueryExtFrame implements rxvideo.Sink.
func (s *fileFrameSink) QueryExtFrame(ts uint32) []byte {
	buf := s.bufs[s.next%2]
	s.next++
	return buf
}

// NotifyFrameReady implements rxvideo.Sink.
func (s *fileFrameSink) NotifyFrameReady(frame []byte, meta rxvideo.FrameMeta) {
	if meta.Status == rxvideo.Corrupted {
		log.WithField("status", meta.Status).Warn("st2110-rxsample: dropping corrupted frame")
		return
	}
	if _, err := s.f.Write(frame[:meta.FrameRecvSize]); err != nil {
		log.WithError(err).Error("st2110-rxsample: frame write failed")
	}
}

// NotifySliceReady implements rxvideo.Sink.
func (s *fileFrameSink) NotifySliceReady(frame []byte, readyLines int) {}

// NotifyDetected implements rxvideo.Sink.
func (s *fileFrameSink) NotifyDetected(f rtp.VideoFormat) {
	log.WithField("format", f).Info("st2110-rxsample: format auto-detected")
}

func (s *fileFrameSink) Close() error {
	return s.f.Close()
}
