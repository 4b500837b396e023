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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stormlinemedia/st2110core/internal/errs"
)

func TestPortAdmitsUntilBudgetExhausted(t *testing.T) {
	p := NewPort(0, 1000)

	q1, err := p.RequestTXQueue(600, func([]byte) error { return nil })
	require.NoError(t, err)
	require.NotNil(t, q1)

	_, err = p.RequestTXQueue(500, func([]byte) error { return nil })
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.NoQueueBudget))

	p.ReleaseTXQueue(q1)
	require.Equal(t, int64(0), p.UsedMbps())
}

func TestRequestRXQueueSharedWhenNoFlow(t *testing.T) {
	p := NewPort(0, 1000)
	q1, err := p.RequestRXQueue(nil, nil, nil, nil)
	require.NoError(t, err)
	q2, err := p.RequestRXQueue(nil, nil, nil, nil)
	require.NoError(t, err)
	require.Same(t, q1, q2)
}

func TestFiveTupleKeyDeterministic(t *testing.T) {
	a := FiveTuple{SrcIP: "10.0.0.1", DstIP: "239.1.1.1", DstPort: 20000}
	b := FiveTuple{SrcIP: "10.0.0.1", DstIP: "239.1.1.1", DstPort: 20000}
	require.Equal(t, a.Key(), b.Key())
	c := FiveTuple{SrcIP: "10.0.0.2", DstIP: "239.1.1.1", DstPort: 20000}
	require.NotEqual(t, a.Key(), c.Key())
}

func TestSoftLoopbackDeliversWithDelay(t *testing.T) {
	lb := NewSoftLoopback(5*time.Millisecond, 0)
	rx := lb.Subscribe(4)
	enqueue := lb.TXQueueEnqueue()
	require.NoError(t, enqueue([]byte("pkt")))

	select {
	case got := <-rx:
		require.Equal(t, []byte("pkt"), got)
	case <-time.After(time.Second):
		t.Fatal("packet never delivered")
	}
}
