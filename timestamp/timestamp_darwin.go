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

package timestamp

import (
	"golang.org/x/sys/unix"
)

var timestamping = unix.SO_TIMESTAMP

// EnableSWTimestampsRx turns on software RX timestamping for connFd.
// Darwin/BSD only expose SO_TIMESTAMP, with no separate TX-side flag.
func EnableSWTimestampsRx(connFd int) error {
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, 1)
}

// EnableSWTimestamps mirrors EnableSWTimestampsRx: this platform has no
// distinct TX timestamping socket option to layer on top.
func EnableSWTimestamps(connFd int) error {
	return EnableSWTimestampsRx(connFd)
}
