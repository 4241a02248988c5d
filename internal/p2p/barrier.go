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

// Barrier holds a device queue until the host releases it, so that the
// timed work of a round starts from a point the host controls.
//
// The flag lives in page-locked host memory. The host only writes it while
// no spin-wait is reading it: Arm resets it before the spin-wait is
// enqueued and Release raises it once all of the round's work is enqueued.
type Barrier struct {
	rt            device.Runtime
	flag          device.Flag
	timeoutCycles uint64
}

// NewBarrier allocates the barrier flag. A spin-wait gives up after
// timeoutCycles device clock cycles.
func NewBarrier(rt device.Runtime, timeoutCycles uint64) (*Barrier, error) {
	flag, err := rt.AllocFlag()
	if err != nil {
		return nil, fmt.Errorf("error allocating barrier flag: %w", err)
	}
	b := &Barrier{
		rt:            rt,
		flag:          flag,
		timeoutCycles: timeoutCycles,
	}
	return b, nil
}

// Arm resets the flag, enqueues the spin-wait on stream and records start
// right behind it, so that start is gated by the release.
func (b *Barrier) Arm(stream device.Stream, start device.Event) error {
	b.flag.Reset()
	if err := b.rt.LaunchDelay(b.flag, b.timeoutCycles, stream); err != nil {
		return fmt.Errorf("error enqueuing spin-wait on device %d: %w", stream.Device(), err)
	}
	if err := start.Record(stream); err != nil {
		return fmt.Errorf("error recording start event on device %d: %w", stream.Device(), err)
	}
	return nil
}

// Release lets the spin-wait return. It must only be called after every
// transfer of the round has been enqueued.
func (b *Barrier) Release() {
	b.flag.Release()
}

// TimedOut reports whether the spin-wait of the last round gave up before
// Release. It is only meaningful once the round has drained.
func (b *Barrier) TimedOut() bool {
	return b.flag.TimedOut()
}

// Free releases the flag.
func (b *Barrier) Free() error {
	return b.flag.Free()
}
