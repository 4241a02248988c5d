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
	"time"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// LatencyMeasurer measures the per-call time of a small one-way copy
// between every ordered pair of devices.
type LatencyMeasurer struct {
	rt            device.Runtime
	caps          *CapabilityMap
	engine        *TransferEngine
	elems         int
	repeat        int
	timeoutCycles uint64
	crossCheck    bool
	options
}

// NewLatencyMeasurer returns a measurer configured by config.
func NewLatencyMeasurer(rt device.Runtime, caps *CapabilityMap, config *spec.Config, opts ...Option) *LatencyMeasurer {
	return &LatencyMeasurer{
		rt:            rt,
		caps:          caps,
		engine:        NewTransferEngine(rt, *config.Flags.TransferMode),
		elems:         *config.Flags.Latency.NumElems,
		repeat:        *config.Flags.Latency.Repeat,
		timeoutCycles: *config.Flags.BarrierTimeoutCycles,
		crossCheck:    *config.Flags.Latency.CPUCrossCheck,
		options:       newOptions(opts...),
	}
}

// LatencyResult holds the matrices of a latency pass. Host is only set when
// the host-side cross-check is enabled.
type LatencyResult struct {
	Device *Matrix
	Host   *Matrix
}

// Measure runs one round per ordered pair, row by row, on the queue of the
// row device. With WRITE, device i copies into j; with READ, device i copies
// from j. The diagonal copies from the scratch into the primary buffer.
func (m *LatencyMeasurer) Measure(p2p bool, direction spec.LatencyDirection) (_ *LatencyResult, rerr error) {
	n := m.caps.Devices()
	res, err := newResources(m.rt, n, m.elems, 1, m.barrier, m.timeoutCycles)
	if err != nil {
		return nil, err
	}
	defer func() {
		rerr = errors.Join(rerr, res.Close())
	}()

	result := &LatencyResult{
		Device: newMatrix(KindLatency, n, p2p, direction),
	}
	if m.crossCheck {
		result.Host = newMatrix(KindHostLatency, n, p2p, direction)
	}
	m.logger.Infof("Measuring %s", result.Device.Title)

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			cell, host, err := m.round(res, p2p, direction, i, j)
			if err != nil {
				return nil, err
			}
			result.Device.set(i, j, cell)
			if result.Host != nil {
				result.Host.set(i, j, Cell{Value: host, PeerAccess: cell.PeerAccess, Path: cell.Path})
			}
		}
		_ = m.progress.Add(1)
	}

	for _, w := range result.Device.Warnings() {
		m.logger.Warningf("%s: device %d to %d: %s", result.Device.Title, w.Src, w.Dst, w.Reason)
	}

	return result, nil
}

// round measures the pair (i, j) and returns the device-timed cell along
// with the host time spent enqueuing the copies, both in µs per call.
func (m *LatencyMeasurer) round(res *resources, p2p bool, direction spec.LatencyDirection, i int, j int) (_ Cell, _ float64, rerr error) {
	access, guard, err := enablePeerAccess(m.rt, m.caps, p2p, i, j)
	if err != nil {
		return Cell{}, 0, err
	}
	defer func() {
		rerr = errors.Join(rerr, guard.restore())
	}()

	di, dj := res.devices[i], res.devices[j]
	stream := di.streams[0]

	if err := stream.Synchronize(); err != nil {
		return Cell{}, 0, fmt.Errorf("error synchronizing device %d: %w", i, err)
	}
	if err := res.barrier.Arm(stream, di.start); err != nil {
		return Cell{}, 0, err
	}

	dst, src := di.primary, di.scratch
	if i != j {
		switch direction {
		case spec.LatencyDirectionRead:
			dst, src = di.primary, dj.primary
		default:
			dst, src = dj.primary, di.primary
		}
	}

	enqueueStart := time.Now()
	path, err := m.engine.Transfer(dst, src, m.elems, m.repeat, access, stream)
	if err != nil {
		return Cell{}, 0, err
	}
	enqueue := time.Since(enqueueStart)

	if err := di.stop.Record(stream); err != nil {
		return Cell{}, 0, fmt.Errorf("error recording stop event on device %d: %w", i, err)
	}
	res.barrier.Release()
	if err := stream.Synchronize(); err != nil {
		return Cell{}, 0, fmt.Errorf("error synchronizing device %d: %w", i, err)
	}

	ms, err := m.rt.ElapsedTime(di.start, di.stop)
	if err != nil {
		return Cell{}, 0, fmt.Errorf("error reading elapsed time on device %d: %w", i, err)
	}

	cell := Cell{
		PeerAccess:     access,
		Path:           path,
		BarrierTimeout: res.barrier.TimedOut(),
	}
	if validElapsed(ms) {
		cell.Value = float64(ms) * 1e3 / float64(m.repeat)
	} else {
		cell.Value = math.NaN()
		cell.ClockAnomaly = true
	}
	host := float64(enqueue) / float64(time.Microsecond) / float64(m.repeat)
	return cell, host, nil
}
