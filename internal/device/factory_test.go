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
	"testing"

	"github.com/stretchr/testify/require"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

type infoMock struct {
	hasNvml   bool
	isTegra   bool
	hasDXCore bool
}

func (i infoMock) HasNvml() (bool, string)       { return i.hasNvml, "mock" }
func (i infoMock) IsTegraSystem() (bool, string) { return i.isTegra, "mock" }
func (i infoMock) HasDXCore() (bool, string)     { return i.hasDXCore, "mock" }

func TestDetectRuntime(t *testing.T) {
	testCases := []struct {
		description string
		info        infoMock
		expectError bool
	}{
		{
			description: "nvml system uses cuda",
			info:        infoMock{hasNvml: true},
		},
		{
			description: "tegra system uses cuda",
			info:        infoMock{isTegra: true},
		},
		{
			description: "no driver is an error",
			info:        infoMock{},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			rt, err := detectRuntime(tc.info)
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.IsType(t, &cudaLib{}, rt)
		})
	}
}

func TestNewRuntimeSimulated(t *testing.T) {
	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.Backend = spec.BackendSimulated
	*config.Flags.Simulated.Devices = 3
	*config.Flags.Simulated.PeerAccess = spec.SimulatedPeerAccessNone

	rt, err := NewRuntime(config)
	require.NoError(t, err)
	require.NoError(t, rt.Init())
	defer rt.Shutdown()

	count, err := rt.DeviceCount()
	require.NoError(t, err)
	require.Equal(t, 3, count)

	access, err := rt.CanAccessPeer(0, 1)
	require.NoError(t, err)
	require.False(t, access)
}
