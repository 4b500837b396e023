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

// Package timestamp enables kernel software RX/TX packet timestamping on
// a UDP socket, the non-DPDK NIC binding internal/nicio.UDPTransport uses
// in place of a real PMD's hardware timestamp ring. Only the SW
// timestamping enable path is kept: this module consumes the kernel's
// regular packet delivery path (net.UDPConn.Read/Write), not the
// MSG_ERRQUEUE timestamp-readback path a DPDK-free HW timestamping
// client would need, so that half of the teacher's surface has no
// caller here and was dropped rather than carried dead.
package timestamp

import (
	"net"
)

// ConnFd returns the underlying file descriptor of a UDP connection, the
// handle every Enable* call below operates on.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := sc.Control(func(f uintptr) { fd = int(f) }); err != nil {
		return -1, err
	}
	return fd, nil
}
