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
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncapsulateAndDecodeUDPRoundTrip(t *testing.T) {
	srcMAC, _ := net.ParseMAC("02:00:00:00:00:01")
	dstMAC, _ := net.ParseMAC("01:00:5e:00:00:01")
	payload := []byte{1, 2, 3, 4, 5, 6, 7, 8}

	frame, err := EncapsulateUDP(srcMAC, dstMAC, net.ParseIP("192.0.2.1"), net.ParseIP("239.1.1.1"), 20000, 20000, payload)
	require.NoError(t, err)
	require.NotEmpty(t, frame)

	out, err := DecodeUDPPayload(frame)
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeUDPPayloadRejectsNonUDPFrame(t *testing.T) {
	_, err := DecodeUDPPayload([]byte{0x00, 0x01, 0x02})
	require.Error(t, err)
}
