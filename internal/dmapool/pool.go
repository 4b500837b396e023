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

// Package dmapool models the shared hardware DMA channel pool of spec.md
// §4.4. A userspace Go process has no direct DMA engine to bind to, so a
// Channel here is an asynchronous copy-offload engine backed by a bounded
// worker pool — grounded on the teacher's ptp4u/server sendWorker/queue
// pattern (one goroutine draining a channel of jobs) — while keeping the
// exact Lender API (Request/Copy/Fill/Submit/Completed/BorrowMbuf/DropMbuf)
// spec.md names.
package dmapool

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// job is one queued copy/fill operation.
type job struct {
	copy    bool
	src     []byte
	dst     []byte
	pattern byte
	length  int
	err     error
}

// Channel is one physical DMA channel, shared by up to maxShared lenders.
type Channel struct {
	id       int
	queue    chan job
	wg       sync.WaitGroup
	inFlight atomic.Int64
	errs     atomic.Int64

	mu        sync.Mutex
	lenders   int
	maxShared int
}

// NewChannel starts a channel's background copy worker.
func NewChannel(id, queueSize, maxShared int) *Channel {
	c := &Channel{id: id, queue: make(chan job, queueSize), maxShared: maxShared}
	c.wg.Add(1)
	go c.run()
	return c
}

func (c *Channel) run() {
	defer c.wg.Done()
	for j := range c.queue {
		if j.copy {
			n := copy(j.dst, j.src)
			if n != len(j.src) {
				c.errs.Add(1)
			}
		} else {
			for i := range j.dst[:j.length] {
				j.dst[i] = j.pattern
			}
		}
		c.inFlight.Add(-1)
	}
}

func (c *Channel) close() {
	close(c.queue)
	c.wg.Wait()
}

// MbufDrop is invoked once a borrowed buffer's copy completes, so the
// caller can free or recycle it — the Go analogue of rte_pktmbuf_free.
type MbufDrop func(offset, length int)

// Lender is a per-session handle onto a shared Channel, per spec.md §4.4.
type Lender struct {
	channel  *Channel
	maxShare int
	dropCB   MbufDrop

	mu       sync.Mutex
	borrowed []borrowedMbuf
}

type borrowedMbuf struct {
	offset, length int
}

// Pool owns a fixed set of DMA channels, one per NUMA-local DMA engine in
// the real system; here, one per configured parallelism unit.
type Pool struct {
	mu       sync.Mutex
	channels []*Channel
	nextID   int
}

// NewPool creates an empty pool. Channels are created lazily by Request.
func NewPool() *Pool {
	return &Pool{}
}

// Request returns a Lender bound to a channel with room for another
// lender, creating a new channel if every existing one is at maxShared,
// per spec.md §4.4 "Up to N lenders may share one underlying channel".
func (p *Pool) Request(queueSize, maxShared int, dropCB MbufDrop) (*Lender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.channels {
		ch.mu.Lock()
		if ch.lenders < ch.maxShared {
			ch.lenders++
			ch.mu.Unlock()
			return &Lender{channel: ch, maxShare: maxShared, dropCB: dropCB}, nil
		}
		ch.mu.Unlock()
	}

	ch := NewChannel(p.nextID, queueSize, maxShared)
	p.nextID++
	ch.lenders = 1
	p.channels = append(p.channels, ch)
	log.WithField("channel", ch.id).Debug("dmapool: new channel created")
	return &Lender{channel: ch, maxShare: maxShared, dropCB: dropCB}, nil
}

// Copy enqueues an async copy. The caller must have already called
// BorrowMbuf for the backing buffer, per spec.md §4.4 invariant "borrowed
// == in_flight_copies".
func (l *Lender) Copy(dst, src []byte) error {
	if len(dst) < len(src) {
		return fmt.Errorf("dmapool: dst too small (%d < %d)", len(dst), len(src))
	}
	l.channel.inFlight.Add(1)
	select {
	case l.channel.queue <- job{copy: true, src: src, dst: dst}:
		return nil
	default:
		l.channel.inFlight.Add(-1)
		return fmt.Errorf("dmapool: channel %d queue full", l.channel.id)
	}
}

// Fill enqueues an async memset.
func (l *Lender) Fill(dst []byte, pattern byte, length int) error {
	if length > len(dst) {
		return fmt.Errorf("dmapool: fill length exceeds buffer")
	}
	l.channel.inFlight.Add(1)
	select {
	case l.channel.queue <- job{dst: dst, pattern: pattern, length: length}:
		return nil
	default:
		l.channel.inFlight.Add(-1)
		return fmt.Errorf("dmapool: channel %d queue full", l.channel.id)
	}
}

// Submit is a no-op in this software model — real hardware would kick the
// doorbell register here; jobs are already enqueued to the worker.
func (l *Lender) Submit() {}

// Completed reports how many of this channel's in-flight copies have
// finished, capped at max, and whether any errored.
func (l *Lender) Completed(max int) (count int, hadError bool) {
	n := int(l.channel.inFlight.Load())
	done := l.BorrowedCount() - n
	if done < 0 {
		done = 0
	}
	if done > max {
		done = max
	}
	return done, l.channel.errs.Load() > 0
}

// BorrowMbuf registers a buffer region that must not be freed until its
// copy completes.
func (l *Lender) BorrowMbuf(offset, length int) {
	l.mu.Lock()
	l.borrowed = append(l.borrowed, borrowedMbuf{offset: offset, length: length})
	l.mu.Unlock()
}

// BorrowedCount returns the number of buffers currently on loan.
func (l *Lender) BorrowedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.borrowed)
}

// DropMbuf dequeues n borrowed buffers (oldest first) and runs dropCB for
// each before considering them freed, per spec.md §4.4.
func (l *Lender) DropMbuf(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n > len(l.borrowed) {
		n = len(l.borrowed)
	}
	for i := 0; i < n; i++ {
		b := l.borrowed[i]
		if l.dropCB != nil {
			l.dropCB(b.offset, b.length)
		}
	}
	l.borrowed = l.borrowed[n:]
}

// InFlight returns the number of copies still queued or running on this
// lender's channel.
func (l *Lender) InFlight() int64 {
	return l.channel.inFlight.Load()
}

// Drain waits for every outstanding copy on this lender's channel and
// frees every borrowed buffer, per spec.md §4.4 "On session detach, the
// lender is drained".
func (l *Lender) Drain() {
	for l.channel.inFlight.Load() > 0 {
		// Cooperative spin; a real implementation would poll Completed()
		// from the owning tasklet instead of blocking here.
	}
	l.DropMbuf(l.BorrowedCount())
}

// Release returns this lender's slot on its channel; call on session detach
// after Drain.
func (l *Lender) Release() {
	l.channel.mu.Lock()
	l.channel.lenders--
	l.channel.mu.Unlock()
}

// Close shuts down every channel in the pool. Use only at process exit.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.channels {
		ch.close()
	}
	p.channels = nil
}
