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

// Package sysclock lets internal/ptpslave discipline a real kernel clock
// (CLOCK_REALTIME by default, or a NIC's PHC on a deployment that hands
// one in) via clock_adjtime, instead of only tracking a software offset
// applied inside internal/epoch. Most deployments run st2110core's
// servo purely in software; sysclock is the opt-in path for the ones
// that want the host's own clock stepped and slewed to match, the way a
// PTP daemon ordinarily would.
package sysclock

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ppbToTimexPPM converts parts-per-billion to the 16-bit-fraction ppm
// clock_adjtime(2) expects in struct timex's freq/ppsfreq/stabil fields.
const ppbToTimexPPM = 65.536

// clock_adjtime modes, from linux/timex.h. Defined locally rather than
// trusting golang.org/x/sys/unix to export every ADJ_* constant across
// platforms.
const (
	adjFrequency uint32 = 0x0002
	adjSetOffset uint32 = 0x0100
	adjNano      uint32 = 0x2000
)

// Discipline is what internal/ptpslave.Slave.apply drives its computed
// offset/frequency corrections into when hardware clock discipline is
// enabled.
type Discipline interface {
	// Step jumps the clock directly by offset, for corrections above the
	// slave's step threshold.
	Step(offset time.Duration) error
	// AdjustFreqPPB applies a steady-state frequency correction, for the
	// per-cycle slew the PI servo computes.
	AdjustFreqPPB(freqPPB float64) error
}

// KernelClock disciplines one POSIX clock ID (unix.CLOCK_REALTIME unless
// bound to a PHC device's dynamic clock ID) via CLOCK_ADJTIME.
type KernelClock struct {
	ClockID int32
}

// NewSystemClock disciplines the host's CLOCK_REALTIME.
func NewSystemClock() *KernelClock {
	return &KernelClock{ClockID: unix.CLOCK_REALTIME}
}

// OpenPHC opens a NIC's PTP hardware clock device (e.g. /dev/ptp0) and
// returns a KernelClock disciplining it directly, bypassing the host
// system clock entirely. The dynamic clock ID is derived from the file
// descriptor per the FD_TO_CLOCKID convention clock_gettime(3) and the
// kernel's ptp_clock driver use: ~fd<<3 | 3.
func OpenPHC(path string) (*KernelClock, func() error, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("sysclock: open %s: %w", path, err)
	}
	clockID := int32((int(^f.Fd()) << 3) | 3)
	return &KernelClock{ClockID: clockID}, f.Close, nil
}

func adjtime(clockID int32, tx *unix.Timex) (state int, err error) {
	r0, _, errno := unix.Syscall(unix.SYS_CLOCK_ADJTIME, uintptr(clockID), uintptr(unsafe.Pointer(tx)), 0)
	state = int(r0)
	if errno != 0 {
		err = errno
	}
	return state, err
}

// Step implements Discipline by setting ADJ_SETOFFSET|ADJ_NANO on the
// clock, per clock_adjtime(2)'s documented way to step a running clock
// without a discontinuous clock_settime.
func (k *KernelClock) Step(offset time.Duration) error {
	sign := int64(1)
	if offset < 0 {
		sign = -1
		offset = -offset
	}
	tx := &unix.Timex{Modes: adjSetOffset | adjNano}
	sec := sign * int64(offset/time.Second)
	nsec := sign * int64(offset%time.Second)
	tx.Time.Sec = sec
	tx.Time.Usec = nsec
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += 1_000_000_000
	}
	if _, err := adjtime(k.ClockID, tx); err != nil {
		return fmt.Errorf("sysclock: step clock %d: %w", k.ClockID, err)
	}
	return nil
}

// AdjustFreqPPB implements Discipline by setting ADJ_FREQUENCY.
func (k *KernelClock) AdjustFreqPPB(freqPPB float64) error {
	tx := &unix.Timex{Modes: adjFrequency, Freq: int64(freqPPB * ppbToTimexPPM)}
	if _, err := adjtime(k.ClockID, tx); err != nil {
		return fmt.Errorf("sysclock: adjust frequency of clock %d: %w", k.ClockID, err)
	}
	return nil
}

// MaxFreqPPB returns the clock's maximum supported frequency adjustment,
// used to clamp a servo's output before it reaches AdjustFreqPPB.
func (k *KernelClock) MaxFreqPPB() (float64, error) {
	tx := &unix.Timex{}
	if _, err := adjtime(k.ClockID, tx); err != nil {
		return 0, fmt.Errorf("sysclock: read clock %d limits: %w", k.ClockID, err)
	}
	freqPPB := float64(tx.Tolerance) / ppbToTimexPPM
	if freqPPB == 0 {
		freqPPB = 500_000
	}
	return freqPPB, nil
}
