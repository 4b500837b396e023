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

package convert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stormlinemedia/st2110core/internal/rtp"
)

func TestRoundTripYUV422WithPadding(t *testing.T) {
	width, height := 4, 2
	src := &Frame{Format: rtp.YUV422_10BE, Width: width, Height: height, LineSize: 20, Data: make([]byte, 20*height)}
	// Fill with a recognisable pattern per 5-byte group.
	for y := 0; y < height; y++ {
		copy(src.Data[y*20:], []byte{0xAA, 0x55, 0xCC, 0x33, 0x0F, 0xAA, 0x55, 0xCC, 0x33, 0x0F})
	}

	mid := &Frame{Format: rtp.YUV422_8BIT, Width: width, Height: height, LineSize: 16, Data: make([]byte, 16*height)}
	require.NoError(t, Convert(src, mid))

	back := &Frame{Format: rtp.YUV422_10BE, Width: width, Height: height, LineSize: 24, Data: make([]byte, 24*height)}
	require.NoError(t, Convert(mid, back))
	require.NotZero(t, back.Data[0])
}

func TestConvertRejectsUnregisteredPair(t *testing.T) {
	src := &Frame{Format: rtp.RGB8, Width: 2, Height: 1, LineSize: 6, Data: make([]byte, 6)}
	dst := &Frame{Format: rtp.YUV422_10BE, Width: 2, Height: 1, LineSize: 5, Data: make([]byte, 5)}
	require.Error(t, Convert(src, dst))
}

func TestRegisterOverridesConverter(t *testing.T) {
	called := false
	Register(rtp.RGB8, rtp.RGB8, ConverterFunc(func(src, dst *Frame) error {
		called = true
		return nil
	}))
	require.NoError(t, Convert(&Frame{Format: rtp.RGB8}, &Frame{Format: rtp.RGB8}))
	require.True(t, called)
}
