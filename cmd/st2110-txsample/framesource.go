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
	"io"
	"os"

	log "github.com/sirupsen/logrus"
)

// fileFrameSource implements txvideo.FrameSource by reading fixed-size
// frames out of a raw planar video file, looping back to the start once
// exhausted when loop is set. It alternates between two frame buffers so
// the pacer can hold a reference to one frame while the next is read.
type fileFrameSource struct {
	f         *os.File
	frameSize int
	loop      bool

	buf  [][]byte
	next int
}

func newFileFrameSource(path string, frameSize int, loop bool) (*fileFrameSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s := &fileFrameSource{f: f, frameSize: frameSize, loop: loop}
	s.buf = [][]byte{make([]byte, frameSize), make([]byte, frameSize)}
	return s, nil
}

// GetNextFrame implements txvideo.FrameSource.
func (s *fileFrameSource) GetNextFrame() (int, []byte, bool) {
	idx := s.next
	buf := s.buf[idx%2]
	n, err := io.ReadFull(s.f, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		if !s.loop {
			return 0, nil, false
		}
		if _, serr := s.f.Seek(0, io.SeekStart); serr != nil {
			log.WithError(serr).Error("st2110-txsample: rewind failed")
			return 0, nil, false
		}
		n, err = io.ReadFull(s.f, buf)
	}
	if err != nil {
		log.WithError(err).Error("st2110-txsample: frame read failed")
		return 0, nil, false
	}
	if n != s.frameSize {
		log.WithField("n", n).Error("st2110-txsample: short frame read")
		return 0, nil, false
	}
	s.next++
	return idx, buf, true
}

// NotifyFrameDone implements txvideo.FrameSource.
func (s *fileFrameSource) NotifyFrameDone(idx int) {
	log.WithField("frame", idx).Debug("st2110-txsample: frame sent")
}

func (s *fileFrameSource) Close() error {
	return s.f.Close()
}
