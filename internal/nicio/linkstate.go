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

	"github.com/jsimonetti/rtnetlink/rtnl"
)

// LinkState is the subset of kernel link attributes reported for an
// interface. The check made when binding a port (RequireMinMTU) looks only
// at the MTU, not at carrier, and st2110.Handle logs a failed check without
// rejecting the port.
type LinkState struct {
	MTU     int
	Up      bool
	Carrier bool
}

// QueryLinkState reads iface's MTU and administrative state from the
// standard library, and its operational (carrier) state over netlink the
// way the teacher's responder/server reaches rtnl.Dial for interface
// attributes net.Interface doesn't expose.
func QueryLinkState(iface string) (LinkState, error) {
	nif, err := net.InterfaceByName(iface)
	if err != nil {
		return LinkState{}, fmt.Errorf("nicio: interface %s: %w", iface, err)
	}

	conn, err := rtnl.Dial(nil)
	if err != nil {
		return LinkState{}, fmt.Errorf("nicio: netlink dial: %w", err)
	}
	defer conn.Close()

	link, err := conn.LinkByName(iface)
	if err != nil {
		return LinkState{}, fmt.Errorf("nicio: link %s: %w", iface, err)
	}

	return LinkState{
		MTU:     nif.MTU,
		Up:      nif.Flags&net.FlagUp != 0,
		Carrier: link.OperState == rtnl.OperStateUp,
	}, nil
}

// RequireMinMTU returns an error if iface's MTU is below min, the check a
// port bind performs before admitting any ST 2110-20 flow whose uncompressed
// line payload would not fit a standard (non-jumbo) Ethernet frame.
func RequireMinMTU(iface string, min int) error {
	st, err := QueryLinkState(iface)
	if err != nil {
		return err
	}
	if st.MTU < min {
		return fmt.Errorf("nicio: interface %s MTU %d below required %d", iface, st.MTU, min)
	}
	return nil
}
