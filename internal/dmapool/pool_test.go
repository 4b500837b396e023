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

package dmapool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLenderCopyAndDrain(t *testing.T) {
	p := NewPool()
	defer p.Close()

	var dropped []int
	l, err := p.Request(16, 4, func(offset, length int) { dropped = append(dropped, offset) })
	require.NoError(t, err)

	src := []byte("hello world")
	dst := make([]byte, len(src))
	l.BorrowMbuf(0, len(src))
	require.NoError(t, l.Copy(dst, src))
	l.Submit()

	require.Eventually(t, func() bool {
		n, hadErr := l.Completed(10)
		return n == 1 && !hadErr
	}, time.Second, time.Millisecond)

	require.Equal(t, src, dst)
	l.Drain()
	require.Equal(t, []int{0}, dropped)
	require.Equal(t, int64(0), l.InFlight())
}

func TestPoolSharesChannelUpToMax(t *testing.T) {
	p := NewPool()
	defer p.Close()

	l1, err := p.Request(4, 2, nil)
	require.NoError(t, err)
	l2, err := p.Request(4, 2, nil)
	require.NoError(t, err)
	require.Same(t, l1.channel, l2.channel)

	l3, err := p.Request(4, 2, nil)
	require.NoError(t, err)
	require.NotSame(t, l1.channel, l3.channel)
}
