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
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/stormlinemedia/st2110core/internal/rtp"
	"github.com/stormlinemedia/st2110core/timestamp"
)

// UDPTransport binds one ST 2110 flow to a real UDP/multicast socket, the
// non-DPDK NIC binding spec.md §4.2 calls out as the pluggable seam: a send
// side for a TXQueue's Enqueue function, and a receive side that decodes
// RTP + RFC 4175 SRD headers into rxvideo.Packet values. Software
// timestamping is enabled the way the teacher's timestamp package does it
// for PTP event sockets, so a link binding this way picks up the same
// kernel RX timestamp discipline as the rest of the stack.
type UDPTransport struct {
	conn   *net.UDPConn
	connFd int
	dst    *net.UDPAddr
	port   int
}

// DialTX opens a UDP socket for sending to dst (typically a multicast
// group address), with software TX timestamping enabled where supported.
func DialTX(dst string) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp4", dst)
	if err != nil {
		return nil, fmt.Errorf("nicio: resolve %s: %w", dst, err)
	}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("nicio: dial %s: %w", dst, err)
	}
	t := &UDPTransport{conn: conn, dst: addr}
	if fd, err := timestamp.ConnFd(conn); err == nil {
		t.connFd = fd
		_ = timestamp.EnableSWTimestamps(fd)
	}
	return t, nil
}

// ListenRX opens a UDP socket bound to group:port, joining the multicast
// group on iface when group is a multicast address.
func ListenRX(iface *net.Interface, group string, port int) (*UDPTransport, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", iface, addr)
	if err != nil {
		return nil, fmt.Errorf("nicio: listen %s:%d: %w", group, port, err)
	}
	if err := conn.SetReadBuffer(8 << 20); err != nil {
		_ = err // best-effort: some sandboxes restrict SO_RCVBUF
	}
	t := &UDPTransport{conn: conn, port: port}
	if fd, err := timestamp.ConnFd(conn); err == nil {
		t.connFd = fd
		_ = timestamp.EnableSWTimestampsRx(fd)
	}
	return t, nil
}

// Enqueue implements the TXQueue.Enqueue signature: write pkt to the socket.
func (t *UDPTransport) Enqueue(pkt []byte) error {
	_, err := t.conn.Write(pkt)
	return err
}

// ReadPacket blocks for the next datagram and decodes it into an
// rxvideo-shaped Packet descriptor (header, SRD, payload slice).
func (t *UDPTransport) ReadPacket(buf []byte) (rtp.Header, rtp.SRD, []byte, error) {
	n, err := t.conn.Read(buf)
	if err != nil {
		return rtp.Header{}, rtp.SRD{}, nil, err
	}
	var hdr rtp.Header
	if err := hdr.Unmarshal(buf[:n]); err != nil {
		return rtp.Header{}, rtp.SRD{}, nil, err
	}
	srd, err := rtp.UnmarshalSRDHeader(buf[rtp.HeaderSize:n])
	if err != nil {
		return rtp.Header{}, rtp.SRD{}, nil, err
	}
	payloadOff := rtp.HeaderSize + rtp.SRDHeaderSize
	return hdr, srd, buf[payloadOff:n], nil
}

// Close releases the underlying socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// SetDSCP marks outgoing packets with a DSCP value, matching the teacher's
// per-flow QoS marking (ptp4u/server.Config.DSCP) applied via IP_TOS.
func (t *UDPTransport) SetDSCP(dscp int) error {
	if t.connFd == 0 {
		return fmt.Errorf("nicio: socket fd unavailable")
	}
	return unix.SetsockoptInt(t.connFd, unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
}
