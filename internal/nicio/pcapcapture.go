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

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// EncapsulateUDP wraps an RTP payload in a full Ethernet/IPv4/UDP frame,
// the shape a captured-off-the-wire packet (or a pcap fixture replayed
// through the software loopback) actually has, rather than the bare
// payload nicio's in-process tests usually pass around.
func EncapsulateUDP(srcMAC, dstMAC net.HardwareAddr, srcIP, dstIP net.IP, srcPort, dstPort uint16, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP, SrcIP: srcIP, DstIP: dstIP}
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("nicio: set checksum layer: %w", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("nicio: serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeUDPPayload parses a captured Ethernet/IPv4/UDP frame and returns
// its UDP payload, the inverse of EncapsulateUDP. Used by the software RX
// fan-out path when it is fed full-frame captures instead of bare payloads.
func DecodeUDPPayload(frame []byte) ([]byte, error) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return nil, fmt.Errorf("nicio: frame has no UDP layer")
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return nil, fmt.Errorf("nicio: unexpected UDP layer type")
	}
	return udp.Payload, nil
}
