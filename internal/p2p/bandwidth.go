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
	"math"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// BandwidthMeasurer measures bidirectional copy bandwidth between every
// ordered pair of devices.
type BandwidthMeasurer struct {
	rt            device.Runtime
	caps          *CapabilityMap
	engine        *TransferEngine
	elems         int
	repeat        int
	timeoutCycles uint64
	options
}

// NewBandwidthMeasurer returns a measurer configured by config.
func NewBandwidthMeasurer(rt device.Runtime, caps *CapabilityMap, config *spec.Config, opts ...Option) *BandwidthMeasurer {
	return &BandwidthMeasurer{
		rt:            rt,
		caps:          caps,
		engine:        NewTransferEngine(rt, *config.Flags.TransferMode),
		elems:         *config.Flags.Bandwidth.NumElems,
		repeat:        *config.Flags.Bandwidth.Repeat,
		timeoutCycles: *config.Flags.BarrierTimeoutCycles,
		options:       newOptions(opts...),
	}
}

// BidirectionalBytes returns the bytes a round moves. Both legs of a
// diagonal round move the full transfer, so it counts twice as much.
func BidirectionalBytes(elems int, repeat int, diagonal bool) float64 {
	bytes := 2.0 * float64(elems) * elementSize * float64(repeat)
	if diagonal {
		bytes *= 2
	}
	return bytes
}

// elementSize is the size in bytes of a buffer element.
const elementSize = 4

// Measure runs one round per ordered pair, row by row. With p2p set, pairs
// that can access each other in both directions run with peer access
// enabled for the duration of their round.
func (m *BandwidthMeasurer) Measure(p2p bool) (_ *Matrix, rerr error) {
	n := m.caps.Devices()
	res, err := newResources(m.rt, n, m.elems, 2, m.barrier, m.timeoutCycles)
	if err != nil {
		return nil, err
	}
	defer func() {
		rerr = errors.Join(rerr, res.Close())
	}()

	matrix := newMatrix(KindBandwidth, n, p2p, "")
	m.logger.Infof("Measuring %s", matrix.Title)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cell, err := m.round(res, p2p, i, j)
			if err != nil {
				return nil, err
			}
			matrix.set(i, j, cell)
		}
		_ = m.progress.Add(1)
	}

	for _, w := range matrix.Warnings() {
		m.logger.Warningf("%s: device %d to %d: %s", matrix.Title, w.Src, w.Dst, w.Reason)
	}

	return matrix, nil
}

// round measures the pair (i, j). Stream 0 of i carries the barrier and the
// i→j leg, stream 1 of j carries the j→i leg. On the diagonal the legs copy
// between the primary and scratch buffers of i.
func (m *BandwidthMeasurer) round(res *resources, p2p bool, i int, j int) (_ Cell, rerr error) {
	access, guard, err := enablePeerAccess(m.rt, m.caps, p2p, i, j)
	if err != nil {
		return Cell{}, err
	}
	defer func() {
		rerr = errors.Join(rerr, guard.restore())
	}()

	di, dj := res.devices[i], res.devices[j]
	forward, reverse := di.streams[0], dj.streams[1]

	for _, s := range di.streams {
		if err := s.Synchronize(); err != nil {
			return Cell{}, fmt.Errorf("error synchronizing device %d: %w", i, err)
		}
	}

	if err := res.barrier.Arm(forward, di.start); err != nil {
		return Cell{}, err
	}
	if err := reverse.WaitEvent(di.start); err != nil {
		return Cell{}, fmt.Errorf("error waiting for start of device %d on device %d: %w", i, j, err)
	}

	var path Path
	if i == j {
		if path, err = m.engine.Transfer(di.primary, di.scratch, m.elems, m.repeat, access, forward); err != nil {
			return Cell{}, err
		}
		if _, err = m.engine.Transfer(di.scratch, di.primary, m.elems, m.repeat, access, reverse); err != nil {
			return Cell{}, err
		}
	} else {
		if _, err = m.engine.Transfer(di.primary, dj.primary, m.elems, m.repeat, access, reverse); err != nil {
			return Cell{}, err
		}
		if path, err = m.engine.Transfer(dj.primary, di.primary, m.elems, m.repeat, access, forward); err != nil {
			return Cell{}, err
		}
	}

	if err := dj.stop.Record(reverse); err != nil {
		return Cell{}, fmt.Errorf("error recording stop event on device %d: %w", j, err)
	}
	if err := forward.WaitEvent(dj.stop); err != nil {
		return Cell{}, fmt.Errorf("error waiting for stop of device %d on device %d: %w", j, i, err)
	}
	if err := di.stop.Record(forward); err != nil {
		return Cell{}, fmt.Errorf("error recording stop event on device %d: %w", i, err)
	}

	res.barrier.Release()
	if err := forward.Synchronize(); err != nil {
		return Cell{}, fmt.Errorf("error synchronizing device %d: %w", i, err)
	}
	if err := reverse.Synchronize(); err != nil {
		return Cell{}, fmt.Errorf("error synchronizing device %d: %w", j, err)
	}

	ms, err := m.rt.ElapsedTime(di.start, di.stop)
	if err != nil {
		return Cell{}, fmt.Errorf("error reading elapsed time on device %d: %w", i, err)
	}

	cell := Cell{
		PeerAccess:     access,
		Path:           path,
		BarrierTimeout: res.barrier.TimedOut(),
	}
	if !validElapsed(ms) {
		cell.Value = math.NaN()
		cell.ClockAnomaly = true
		return cell, nil
	}
	gb := BidirectionalBytes(m.elems, m.repeat, i == j) / 1e9
	cell.Value = gb / (float64(ms) / 1e3)
	return cell, nil
}
