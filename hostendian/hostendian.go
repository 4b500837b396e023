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

// Package hostendian reports the byte order of the machine the process
// is running on, for code that reinterprets host-order bytes such as a
// SO_TIMESTAMPING control message's struct timespec. No package in this
// module imports it; the timestamp package enables socket timestamping
// but decodes no control messages.
package hostendian

import (
	"encoding/binary"
	"unsafe"
)

// Order is binary.LittleEndian or binary.BigEndian, matching this host.
var Order binary.ByteOrder = binary.LittleEndian

// IsBigEndian reports whether this host is big-endian.
var IsBigEndian bool

func init() {
	var probe uint16 = 0x0100
	if *(*byte)(unsafe.Pointer(&probe)) == 0x01 {
		IsBigEndian = true
		Order = binary.BigEndian
	}
}
