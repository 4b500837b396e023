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

package tasklet

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRoundRobinsAndStops(t *testing.T) {
	sched := New(Config{MinSleepUS: 100})

	var calls int32
	var stopped int32
	err := sched.Register(&Tasklet{
		Name: "t1",
		Handler: func() Result {
			atomic.AddInt32(&calls, 1)
			return AllDone
		},
		Stop: func() { atomic.AddInt32(&stopped, 1) },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	for atomic.LoadInt32(&calls) < 3 {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done
	require.Equal(t, int32(1), atomic.LoadInt32(&stopped))
}

func TestSchedulerRequestExit(t *testing.T) {
	sched := New(Config{})
	require.NoError(t, sched.Register(&Tasklet{
		Name:    "t1",
		Handler: func() Result { return AllDone },
	}))

	done := make(chan struct{})
	go func() {
		sched.Run(context.Background())
		close(done)
	}()
	time.Sleep(2 * time.Millisecond)
	sched.RequestExit()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not exit")
	}
}
