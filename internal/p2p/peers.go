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
	"errors"
	"fmt"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// peerGuard remembers which directions a round enabled so that exactly
// those are disabled afterwards.
type peerGuard struct {
	rt      device.Runtime
	enabled [][2]int
}

// enablePeerAccess enables access between i and j in both directions when
// p2p is requested and both directions are capable. Directions that are
// already enabled are left alone. It reports whether the round runs with
// peer access.
func enablePeerAccess(rt device.Runtime, caps *CapabilityMap, p2p bool, i int, j int) (bool, *peerGuard, error) {
	g := &peerGuard{rt: rt}
	if !p2p || i == j || !caps.bidirectional(i, j) {
		return false, g, nil
	}

	for _, pair := range [][2]int{{i, j}, {j, i}} {
		if rt.PeerAccessEnabled(pair[0], pair[1]) {
			continue
		}
		if err := rt.EnablePeerAccess(pair[0], pair[1]); err != nil {
			err = fmt.Errorf("error enabling peer access from device %d to %d: %w", pair[0], pair[1], err)
			return false, g, errors.Join(err, g.restore())
		}
		g.enabled = append(g.enabled, pair)
	}

	return true, g, nil
}

// restore disables what the guard enabled, in reverse order.
func (g *peerGuard) restore() error {
	var errs []error
	for k := len(g.enabled) - 1; k >= 0; k-- {
		pair := g.enabled[k]
		if err := g.rt.DisablePeerAccess(pair[0], pair[1]); err != nil {
			errs = append(errs, fmt.Errorf("error disabling peer access from device %d to %d: %w", pair[0], pair[1], err))
		}
	}
	g.enabled = nil
	return errors.Join(errs...)
}
