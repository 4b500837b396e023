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

package sessionmgr

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stormlinemedia/st2110core/internal/nicio"
)

type fakeSession struct {
	ticks    int32
	detached bool
	bw       int64
}

func (f *fakeSession) Attach() error          { return nil }
func (f *fakeSession) Tick()                  { atomic.AddInt32(&f.ticks, 1) }
func (f *fakeSession) Stat()                  {}
func (f *fakeSession) Detach()                { f.detached = true }
func (f *fakeSession) BandwidthBPS() int64    { return f.bw }
func (f *fakeSession) DisableMigrate() bool   { return false }

func TestAttachTickDetach(t *testing.T) {
	port := nicio.NewPort(0, 10000)
	m := New(Video, port, 4)

	s := &fakeSession{bw: 1_500_000_000}
	idx, err := m.Attach(s, true)
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, 0)
	require.Greater(t, port.UsedMbps(), int64(0))

	m.TaskletHandler()
	require.Equal(t, int32(1), atomic.LoadInt32(&s.ticks))

	m.Detach(idx)
	require.True(t, s.detached)
	require.Equal(t, int64(0), port.UsedMbps())
}

func TestAttachFailsWhenSlotsExhausted(t *testing.T) {
	port := nicio.NewPort(0, 1_000_000)
	m := New(Video, port, 1)

	_, err := m.Attach(&fakeSession{bw: 1000}, true)
	require.NoError(t, err)
	_, err = m.Attach(&fakeSession{bw: 1000}, true)
	require.Error(t, err)
}

func TestTaskletHandlerSkipsLockedSlot(t *testing.T) {
	port := nicio.NewPort(0, 1_000_000_000)
	m := New(Video, port, 1)
	s := &fakeSession{}
	idx, err := m.Attach(s, true)
	require.NoError(t, err)

	m.slots[idx].mu.Lock()
	m.TaskletHandler()
	m.slots[idx].mu.Unlock()
	require.Equal(t, int32(0), atomic.LoadInt32(&s.ticks))
}
