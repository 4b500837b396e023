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

// Package sessionmgr implements the per-media-type session manager of
// spec.md §4.7: a fixed slot array with a per-slot mutex so detach can
// race safely with the owning tasklet, admission-control bandwidth
// accounting against an internal/nicio.Port budget, and a periodic
// CPU-busy migration score. The fixed-array-plus-per-slot-lock shape
// mirrors ptp4u/server.Server's subscription table (a bounded slice
// guarded per-entry rather than one global lock over the whole set).
package sessionmgr

import (
	"sync"

	"github.com/shirou/gopsutil/process"

	"github.com/stormlinemedia/st2110core/internal/errs"
	"github.com/stormlinemedia/st2110core/internal/nicio"
)

// MediaType distinguishes video/audio/ancillary sessions; only Video is
// implemented, per spec.md's Non-goals.
type MediaType uint8

const (
	Video MediaType = iota
)

// Session is the subset of a TX/RX session the manager needs to drive its
// per-tick function and query its stats on detach.
type Session interface {
	Attach() error
	Tick() // runs one tasklet round for this session
	Stat() // called once, synchronously, on detach
	Detach()
	BandwidthBPS() int64
	DisableMigrate() bool
}

type slot struct {
	mu      sync.Mutex
	session Session
	txq     *nicio.TXQueue
}

// RX sessions consume a fraction of a TX session's nominal bandwidth for
// admission purposes, since decode/reassembly is cheaper than pacing;
// ST_QUOTA_RX1080P_PER_SCH from spec.md §4.7, expressed as a ratio so it
// scales with any resolution rather than being pinned to 1080p.
const rxBandwidthFraction = 0.4

// Manager owns one fixed slot array for one media type on one scheduler.
type Manager struct {
	media MediaType
	port  *nicio.Port

	mu      sync.Mutex
	slots   []*slot
	maxIdx  int
	used    map[int]bool
}

// New creates a Manager with maxSessions slots, admitting against port's
// bandwidth budget.
func New(media MediaType, port *nicio.Port, maxSessions int) *Manager {
	slots := make([]*slot, maxSessions)
	for i := range slots {
		slots[i] = &slot{}
	}
	return &Manager{media: media, port: port, slots: slots, used: map[int]bool{}}
}

// Attach finds an empty slot, admits the session's bandwidth against the
// port budget, and calls session.Attach(), per spec.md §4.7.
func (m *Manager) Attach(s Session, isTX bool) (int, error) {
	m.mu.Lock()
	idx := -1
	for i := range m.slots {
		if !m.used[i] {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return -1, errs.New(errs.NoSchedCapacity, nil)
	}

	bw := s.BandwidthBPS()
	if !isTX {
		bw = int64(float64(bw) * rxBandwidthFraction)
	}
	mbps := bw / 1_000_000
	var txq *nicio.TXQueue
	if m.port != nil {
		q, err := m.port.RequestTXQueue(mbps, nil)
		if err != nil {
			m.mu.Unlock()
			return -1, err
		}
		txq = q
	}
	m.used[idx] = true
	if idx >= m.maxIdx {
		m.maxIdx = idx + 1
	}
	m.mu.Unlock()

	sl := m.slots[idx]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if err := s.Attach(); err != nil {
		m.mu.Lock()
		delete(m.used, idx)
		if m.port != nil && txq != nil {
			m.port.ReleaseTXQueue(txq)
		}
		m.mu.Unlock()
		return -1, err
	}
	sl.session = s
	sl.txq = txq
	return idx, nil
}

// Detach takes the slot lock, runs Stat() one last time, tears down, and
// clears the slot.
func (m *Manager) Detach(idx int) {
	if idx < 0 || idx >= len(m.slots) {
		return
	}
	sl := m.slots[idx]
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.session == nil {
		return
	}
	sl.session.Stat()
	sl.session.Detach()
	sl.session = nil
	if m.port != nil && sl.txq != nil {
		m.port.ReleaseTXQueue(sl.txq)
	}
	sl.txq = nil

	m.mu.Lock()
	delete(m.used, idx)
	m.mu.Unlock()
}

// TaskletHandler iterates 0..max_idx, try-locking each slot; on success it
// runs the session's per-tick function and unlocks; on contention it skips
// the slot for this round, per spec.md §4.7.
func (m *Manager) TaskletHandler() {
	m.mu.Lock()
	maxIdx := m.maxIdx
	m.mu.Unlock()

	for i := 0; i < maxIdx; i++ {
		sl := m.slots[i]
		if !sl.mu.TryLock() {
			continue
		}
		if sl.session != nil {
			sl.session.Tick()
		}
		sl.mu.Unlock()
	}
}

// CPUBusyScore returns this process's current CPU utilisation percentage,
// used as the migration signal of spec.md §4.7. Grounded on
// sptp/client.SysStats.CollectRuntimeStats's use of
// shirou/gopsutil/process.Percent.
func CPUBusyScore(pid int32) (float64, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return 0, err
	}
	return proc.Percent(0)
}
