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
	"testing"

	"github.com/stretchr/testify/require"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

func TestResourcesPartialFailureReleasesEverything(t *testing.T) {
	testCases := []struct {
		description string
		call        string
		after       int
	}{
		{
			description: "barrier flag",
			call:        "cuMemHostAlloc",
		},
		{
			description: "scratch buffer of second device",
			call:        "cuMemAlloc",
			after:       3,
		},
		{
			description: "second stream of first device",
			call:        "cuStreamCreate",
			after:       1,
		},
		{
			description: "stop event of last device",
			call:        "cuEventCreate",
			after:       5,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			rt, _ := newTestRuntime(t, 3, device.WithFailingCall(tc.call, tc.after, cuda.ERROR_OUT_OF_MEMORY))

			res, err := newResources(rt, 3, 16, 2, nil, 1000)
			require.Nil(t, res)
			require.Error(t, err)
			require.True(t, device.IsPlatformCallError(err))
			require.Zero(t, rt.Outstanding())
		})
	}
}

func TestResourcesClose(t *testing.T) {
	rt, _ := newTestRuntime(t, 2)

	res, err := newResources(rt, 2, 16, 2, nil, 1000)
	require.NoError(t, err)
	require.Len(t, res.devices, 2)
	for _, d := range res.devices {
		require.Len(t, d.streams, 2)
		require.Equal(t, 16, d.primary.Len())
		require.Equal(t, 16, d.scratch.Len())
	}
	require.Equal(t, 1+2*(2+2+2), rt.Outstanding())

	require.NoError(t, res.Close())
	require.Zero(t, rt.Outstanding())
}

func TestResourcesSharedBarrier(t *testing.T) {
	rt, _ := newTestRuntime(t, 2)

	barrier, err := NewBarrier(rt, 1000)
	require.NoError(t, err)
	require.Equal(t, 1, rt.Outstanding())

	res, err := newResources(rt, 2, 16, 2, barrier, 1000)
	require.NoError(t, err)
	require.Same(t, barrier, res.barrier)
	require.Equal(t, 1+2*(2+2+2), rt.Outstanding())

	require.NoError(t, res.Close())
	require.Equal(t, 1, rt.Outstanding())
	require.NoError(t, barrier.Free())
}

func TestMeasurersReuseSharedBarrier(t *testing.T) {
	// Any flag allocation after the first one fails.
	rt, caps := newTestRuntime(t, 2, device.WithFailingCall("cuMemHostAlloc", 1, cuda.ERROR_OUT_OF_MEMORY))
	config := newTestConfig(spec.TransferModeCopyEngine)
	*config.Flags.Bandwidth.NumElems = 1024

	barrier, err := NewBarrier(rt, *config.Flags.BarrierTimeoutCycles)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, barrier.Free())
	}()

	for _, p2pEnabled := range []bool{false, true} {
		_, err := NewBandwidthMeasurer(rt, caps, config, WithBarrier(barrier)).Measure(p2pEnabled)
		require.NoError(t, err)
	}
	_, err = NewLatencyMeasurer(rt, caps, config, WithBarrier(barrier)).Measure(true, spec.LatencyDirectionWrite)
	require.NoError(t, err)

	_, err = NewBandwidthMeasurer(rt, caps, config).Measure(false)
	require.Error(t, err)
}
