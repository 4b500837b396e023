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

// Package tasklet implements the cooperative, single-goroutine-per-core
// run loop described by spec.md §4.3: a Scheduler owns a set of Tasklets
// and drives them round-robin, never preempting a handler mid-call. The
// worker/queue wiring is grounded on the teacher's ptp4u/server worker
// pool (one goroutine per logical worker, reading a private work queue);
// here a Scheduler is that single goroutine, and its "queue" is simply the
// ordered slice of registered tasklets.
package tasklet

import (
	"context"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Result is what a Handler returns each round, per spec.md §4.3.
type Result uint8

// Handler return values.
const (
	AllDone Result = iota
	HasPending
)

// Tasklet is one unit of cooperative work — typically one session's
// per-tick packet-build/pace or packet-handler loop.
type Tasklet struct {
	Name         string
	Start        func() error
	Stop         func()
	Handler      func() Result
	SleepUSHint  int64 // 0 means "yield, do not sleep"
	registeredAt int
}

// AlignFunc returns the duration until the next PTP epoch boundary, used
// to align scheduler sleep wakeups, per spec.md §4.3 "Sleep wakes are
// aligned to the nearest PTP epoch boundary when the caller requests it".
type AlignFunc func(now time.Time) time.Duration

// Scheduler is a cooperative single-thread-per-core run loop.
type Scheduler struct {
	mu              sync.Mutex
	tasklets        []*Tasklet
	nextOrder       int
	minSleepUS      int64 // spin below this threshold instead of sleeping
	exitRequested   bool
	align           AlignFunc
	sleepFn         func(time.Duration)
}

// Config configures a Scheduler.
type Config struct {
	// MinSleepUS: rounds that could sleep less than this spin instead.
	MinSleepUS int64
	Align      AlignFunc
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		minSleepUS: cfg.MinSleepUS,
		align:      cfg.Align,
		sleepFn:    time.Sleep,
	}
}

// Register adds a tasklet to the round-robin set. Registration order is
// preserved; Stop() is invoked in reverse registration order on exit, per
// spec.md §4.3.
func (s *Scheduler) Register(t *Tasklet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.registeredAt = s.nextOrder
	s.nextOrder++
	if t.Start != nil {
		if err := t.Start(); err != nil {
			return err
		}
	}
	s.tasklets = append(s.tasklets, t)
	return nil
}

// RequestExit sets the flag tasklets observe at the top of their next
// round, per spec.md §5 "Cancellation".
func (s *Scheduler) RequestExit() {
	s.mu.Lock()
	s.exitRequested = true
	s.mu.Unlock()
}

func (s *Scheduler) exitWanted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitRequested
}

// Run drives the scheduler until ctx is cancelled or RequestExit is called.
// It never spawns a goroutine per tasklet: every Handler call happens on
// the calling goroutine, matching "no preemption" in spec.md §5.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || s.exitWanted() {
			s.stopAll()
			return
		}

		s.mu.Lock()
		tasklets := append([]*Tasklet(nil), s.tasklets...)
		s.mu.Unlock()

		allDone := true
		minHintUS := int64(-1)
		for _, t := range tasklets {
			if ctx.Err() != nil || s.exitWanted() {
				s.stopAll()
				return
			}
			res := t.Handler()
			if res == HasPending {
				allDone = false
			}
			if minHintUS < 0 || t.SleepUSHint < minHintUS {
				minHintUS = t.SleepUSHint
			}
		}

		if allDone && len(tasklets) > 0 {
			s.sleepRound(minHintUS)
		}
	}
}

func (s *Scheduler) sleepRound(hintUS int64) {
	if hintUS <= 0 {
		// A zero hint means "yield, do not sleep" per spec.md §4.3.
		return
	}
	sleepUS := hintUS
	if sleepUS < s.minSleepUS {
		// Below the spin threshold: busy-spin instead of sleeping.
		return
	}
	d := time.Duration(sleepUS) * time.Microsecond
	if s.align != nil {
		if aligned := s.align(time.Now()); aligned > 0 && aligned < d {
			d = aligned
		}
	}
	s.sleepFn(d)
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	tasklets := append([]*Tasklet(nil), s.tasklets...)
	s.mu.Unlock()

	sort.SliceStable(tasklets, func(i, j int) bool {
		return tasklets[i].registeredAt > tasklets[j].registeredAt
	})
	for _, t := range tasklets {
		if t.Stop != nil {
			t.Stop()
		}
		log.WithField("tasklet", t.Name).Debug("tasklet: stopped")
	}
}
