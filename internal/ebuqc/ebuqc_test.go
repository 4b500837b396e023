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

package ebuqc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricTracksMinAvgMax(t *testing.T) {
	m := NewMetric()
	for _, v := range []float64{3, 1, 5, 2} {
		m.Add(v)
	}
	require.Equal(t, 1.0, m.Min())
	require.Equal(t, 5.0, m.Max())
	require.InDelta(t, 2.75, m.Avg(), 0.001)
}

func TestFrameCompleteFiresEveryN(t *testing.T) {
	a := NewAccumulator()
	var fired int
	for i := 0; i < 10; i++ {
		if a.FrameComplete(3) {
			fired++
		}
	}
	require.Equal(t, 3, fired)
}

func TestEvaluateClassifiesNarrowWideFail(t *testing.T) {
	a := NewAccumulator()
	a.Cinst.Add(2)
	a.VRX.Add(4)
	v, err := a.Evaluate(DefaultThresholds())
	require.NoError(t, err)
	require.Equal(t, Narrow, v)

	b := NewAccumulator()
	b.Cinst.Add(10)
	b.VRX.Add(500)
	v, err = b.Evaluate(DefaultThresholds())
	require.NoError(t, err)
	require.Equal(t, Wide, v)

	c := NewAccumulator()
	c.Cinst.Add(100)
	c.VRX.Add(5000)
	v, err = c.Evaluate(DefaultThresholds())
	require.NoError(t, err)
	require.Equal(t, Fail, v)
}
