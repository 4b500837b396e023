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

package rxvideo

import "github.com/stormlinemedia/st2110core/internal/rtp"

// TickAdapter drains an already-demultiplexed packet channel into a
// Session's HandlePacket each round, so an RX Session satisfies
// internal/sessionmgr.Session the same way internal/txvideo.Session does:
// a session manager only ever knows about a Tick()-shaped handler.
type TickAdapter struct {
	*Session
	Packets <-chan Packet
	// BurstSize caps how many queued packets one Tick drains, so a slow
	// producer on one session can't starve the others sharing a manager.
	BurstSize int
}

// Tick drains up to BurstSize queued packets.
func (a *TickAdapter) Tick() {
	burst := a.BurstSize
	if burst <= 0 {
		burst = 64
	}
	for i := 0; i < burst; i++ {
		select {
		case pkt, ok := <-a.Packets:
			if !ok {
				return
			}
			a.HandlePacket(pkt)
		default:
			return
		}
	}
}

// Attach implements sessionmgr.Session.
func (a *TickAdapter) Attach() error { return nil }

// Detach implements sessionmgr.Session.
func (a *TickAdapter) Detach() {}

// Stat implements sessionmgr.Session; counters already flow to Session.stat live.
func (a *TickAdapter) Stat() {}

// BandwidthBPS implements sessionmgr.Session.
func (a *TickAdapter) BandwidthBPS() int64 {
	return rtp.BandwidthBPS(a.format)
}

// DisableMigrate implements sessionmgr.Session; RX sessions may migrate.
func (a *TickAdapter) DisableMigrate() bool { return false }
