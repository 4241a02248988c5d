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

package device

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
)

func newInitialized(t *testing.T, devices int, opts ...SimulatedOption) *Simulated {
	s := NewSimulatedRuntime(devices, opts...)
	require.NoError(t, s.Init())
	return s
}

func TestSimulatedCanAccessPeer(t *testing.T) {
	s := newInitialized(t, 3, WithPeerAccess(func(dev, peer int) bool {
		return dev == 0 && peer == 1
	}))

	testCases := []struct {
		description string
		dev         int
		peer        int
		expected    bool
		expectError bool
	}{
		{
			description: "capable pair",
			dev:         0,
			peer:        1,
			expected:    true,
		},
		{
			description: "reverse of capable pair is not capable",
			dev:         1,
			peer:        0,
			expected:    false,
		},
		{
			description: "self is never reported as peer",
			dev:         2,
			peer:        2,
			expected:    false,
		},
		{
			description: "out of range device",
			dev:         0,
			peer:        3,
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			access, err := s.CanAccessPeer(tc.dev, tc.peer)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, access)
		})
	}
}

func TestSimulatedPeerAccessState(t *testing.T) {
	s := newInitialized(t, 2, WithPeerAccess(func(dev, peer int) bool {
		return dev == 0
	}))

	require.NoError(t, s.EnablePeerAccess(0, 1))
	require.True(t, s.PeerAccessEnabled(0, 1))
	require.False(t, s.PeerAccessEnabled(1, 0))

	err := s.EnablePeerAccess(0, 1)
	var perr *PlatformCallError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, cuda.ERROR_PEER_ACCESS_ALREADY_ENABLED, perr.Result)

	err = s.EnablePeerAccess(1, 0)
	require.ErrorAs(t, err, &perr)
	require.Equal(t, cuda.ERROR_PEER_ACCESS_UNSUPPORTED, perr.Result)

	require.NoError(t, s.DisablePeerAccess(0, 1))
	require.False(t, s.PeerAccessEnabled(0, 1))

	err = s.DisablePeerAccess(0, 1)
	require.ErrorAs(t, err, &perr)
	require.Equal(t, cuda.ERROR_PEER_ACCESS_NOT_ENABLED, perr.Result)
}

func TestSimulatedNotInitialized(t *testing.T) {
	s := NewSimulatedRuntime(1)

	_, err := s.DeviceCount()
	require.True(t, IsPlatformCallError(err))

	var perr *PlatformCallError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, cuda.ERROR_NOT_INITIALIZED, perr.Result)
}

func TestSimulatedFailureCallSite(t *testing.T) {
	s := newInitialized(t, 1, WithFailingCall("cuMemAlloc", 1, cuda.ERROR_OUT_OF_MEMORY))

	b, err := s.Alloc(0, 16)
	require.NoError(t, err)

	_, err = s.Alloc(0, 16)
	var perr *PlatformCallError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, "cuMemAlloc", perr.Call)
	require.Equal(t, cuda.ERROR_OUT_OF_MEMORY, perr.Result)
	require.Equal(t, "sim-lib.go", filepath.Base(perr.File))
	require.Positive(t, perr.Line)
	require.True(t, errors.Is(err, cuda.ERROR_OUT_OF_MEMORY))

	require.Equal(t, 1, s.Outstanding())
	require.NoError(t, b.Free())
	require.Zero(t, s.Outstanding())
}

// round enqueues a barrier-held copy on one stream and a copy waiting on
// its start event on a second stream.
func round(t *testing.T, s *Simulated, release bool) (Flag, Event, Event) {
	src, err := s.Alloc(0, 1024)
	require.NoError(t, err)
	dst, err := s.Alloc(1, 1024)
	require.NoError(t, err)
	s0, err := s.NewStream(0)
	require.NoError(t, err)
	s1, err := s.NewStream(1)
	require.NoError(t, err)
	start, err := s.NewEvent(0)
	require.NoError(t, err)
	stop, err := s.NewEvent(0)
	require.NoError(t, err)
	flag, err := s.AllocFlag()
	require.NoError(t, err)

	flag.Reset()
	require.NoError(t, s.LaunchDelay(flag, 10000000, s0))
	require.NoError(t, start.Record(s0))
	require.NoError(t, s1.WaitEvent(start))
	require.NoError(t, s.MemcpyPeerAsync(dst, src, 1024, s0))
	require.NoError(t, s.MemcpyPeerAsync(src, dst, 1024, s1))
	require.NoError(t, stop.Record(s0))
	if release {
		flag.Release()
	}
	require.NoError(t, s0.Synchronize())
	require.NoError(t, s1.Synchronize())
	return flag, start, stop
}

func TestSimulatedBarrierHoldsWork(t *testing.T) {
	s := newInitialized(t, 2)

	flag, start, stop := round(t, s, true)
	require.False(t, flag.TimedOut())

	copies := s.Copies()
	require.Len(t, copies, 2)
	for _, c := range copies {
		require.GreaterOrEqual(t, c.Start, c.ReleasedAt)
		require.False(t, c.Peer)
	}

	ms, err := s.ElapsedTime(start, stop)
	require.NoError(t, err)
	require.Positive(t, ms)
}

func TestSimulatedBarrierTimeout(t *testing.T) {
	testCases := []struct {
		description string
		opts        []SimulatedOption
		release     bool
	}{
		{
			description: "release never issued",
			release:     false,
		},
		{
			description: "release dropped",
			opts:        []SimulatedOption{WithStalledRelease()},
			release:     true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			s := newInitialized(t, 2, tc.opts...)
			flag, _, _ := round(t, s, tc.release)
			require.True(t, flag.TimedOut())
		})
	}
}

func TestSimulatedPeerLink(t *testing.T) {
	s := newInitialized(t, 2)
	src, err := s.Alloc(0, 1024)
	require.NoError(t, err)
	dst, err := s.Alloc(1, 1024)
	require.NoError(t, err)
	stream, err := s.NewStream(0)
	require.NoError(t, err)

	require.Error(t, s.LaunchCopy(dst, src, 256, 1, 1, stream))

	require.NoError(t, s.EnablePeerAccess(0, 1))
	require.NoError(t, s.LaunchCopy(dst, src, 256, 1, 1, stream))
	require.NoError(t, s.MemcpyPeerAsync(dst, src, 1024, stream))
	require.NoError(t, stream.Synchronize())

	copies := s.Copies()
	require.Len(t, copies, 2)
	require.True(t, copies[0].Kernel)
	require.True(t, copies[0].Peer)
	require.False(t, copies[1].Kernel)
	require.True(t, copies[1].Peer)
	require.Equal(t, uint64(4096), copies[1].Bytes)
}

func TestSimulatedClockAnomaly(t *testing.T) {
	s := newInitialized(t, 2, WithClockAnomaly())
	_, start, stop := round(t, s, true)

	ms, err := s.ElapsedTime(start, stop)
	require.NoError(t, err)
	require.Zero(t, ms)
}

func TestSimulatedDirectedLink(t *testing.T) {
	slow := Link{GBps: 1}
	s := newInitialized(t, 2, WithDirectedLink(1, 0, slow))
	a, err := s.Alloc(0, 1024)
	require.NoError(t, err)
	b, err := s.Alloc(1, 1024)
	require.NoError(t, err)
	stream, err := s.NewStream(0)
	require.NoError(t, err)

	require.NoError(t, s.MemcpyPeerAsync(b, a, 1024, stream))
	require.NoError(t, s.MemcpyPeerAsync(a, b, 1024, stream))
	require.NoError(t, s.MemcpyPeerAsync(a, a, 1024, stream))
	require.NoError(t, stream.Synchronize())

	copies := s.Copies()
	require.Len(t, copies, 3)
	durations := make([]float64, len(copies))
	for i, c := range copies {
		durations[i] = c.End - c.Start
	}
	require.InDelta(t, 4096.0, durations[1], 1e-6)
	require.Less(t, durations[0], durations[1])
	require.Less(t, durations[2], durations[1])
}
