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

package nicio

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// SoftLoopback is an in-process TX->RX fabric used where no NIC is present,
// as in the unit tests. It records no TX or RX timestamps.
type SoftLoopback struct {
	mu       sync.Mutex
	subs     map[*FiveTuple][]chan []byte
	anySubs  []chan []byte
	delay    time.Duration
	dropPct  int
	seq      int
}

// NewSoftLoopback creates a loopback fabric with a fixed one-way delay and
// an optional percentage (0-100) of packets dropped, for loss-recovery
// scenario tests.
func NewSoftLoopback(delay time.Duration, dropPct int) *SoftLoopback {
	return &SoftLoopback{subs: make(map[*FiveTuple][]chan []byte), delay: delay, dropPct: dropPct}
}

// TXQueueEnqueue returns an Enqueue func suitable for TXQueue.Enqueue that
// fans the packet out to every RX subscriber after the configured
// delay.
func (s *SoftLoopback) TXQueueEnqueue() func(pkt []byte) error {
	return func(pkt []byte) error {
		s.mu.Lock()
		s.seq++
		drop := s.dropPct > 0 && s.seq%100 < s.dropPct
		chans := append([]chan []byte(nil), s.anySubs...)
		s.mu.Unlock()

		if drop {
			log.WithField("seq", s.seq).Trace("nicio: softloopback dropped packet")
			return nil
		}
		cp := append([]byte(nil), pkt...)
		if s.delay <= 0 {
			for _, c := range chans {
				c <- cp
			}
			return nil
		}
		time.AfterFunc(s.delay, func() {
			for _, c := range chans {
				c <- cp
			}
		})
		return nil
	}
}

// Subscribe registers an RX channel that receives every transmitted packet
// (the shared, unsteered queue case).
func (s *SoftLoopback) Subscribe(buf int) <-chan []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := make(chan []byte, buf)
	s.anySubs = append(s.anySubs, c)
	return c
}
