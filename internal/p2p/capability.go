/**
# Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
#
# Licensed under the Apache License, Version 2.0 (the "License");
# you may not use this file except in compliance with the License.
# You may obtain a copy of the License at
#
#     http://www.apache.org/licenses/LICENSE-2.0
#
# Unless required by applicable law or agreed to in writing, software
# distributed under the License is distributed on an "AS IS" BASIS,
# WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
# See the License for the specific language governing permissions and
# limitations under the License.
**/

package p2p

import (
	"fmt"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// CapabilityMap records which ordered device pairs support direct peer
// access. It is populated once and never changes afterwards.
type CapabilityMap struct {
	n      int
	access []bool
}

// NewCapabilityMap queries the runtime once for every ordered pair of
// distinct devices. The answer for (i, j) is never derived from (j, i).
func NewCapabilityMap(rt device.Runtime) (*CapabilityMap, error) {
	n, err := rt.DeviceCount()
	if err != nil {
		return nil, fmt.Errorf("error getting device count: %w", err)
	}

	c := &CapabilityMap{
		n:      n,
		access: make([]bool, n*n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				c.access[i*n+j] = true
				continue
			}
			access, err := rt.CanAccessPeer(i, j)
			if err != nil {
				return nil, fmt.Errorf("error querying peer access from device %d to %d: %w", i, j, err)
			}
			c.access[i*n+j] = access
		}
	}

	return c, nil
}

// Devices returns the number of devices covered by the map.
func (c *CapabilityMap) Devices() int {
	return c.n
}

// CanAccess reports whether device i can directly access memory of device j.
// A device can always access its own memory.
func (c *CapabilityMap) CanAccess(i int, j int) bool {
	return c.access[i*c.n+j]
}

// Peers returns the devices other than i that i can access, in ascending order.
func (c *CapabilityMap) Peers(i int) []int {
	var peers []int
	for j := 0; j < c.n; j++ {
		if j != i && c.CanAccess(i, j) {
			peers = append(peers, j)
		}
	}
	return peers
}

// bidirectional reports whether i and j can access each other.
func (c *CapabilityMap) bidirectional(i int, j int) bool {
	return c.CanAccess(i, j) && c.CanAccess(j, i)
}
