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
	"testing"

	"github.com/stretchr/testify/require"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Infof(string, ...interface{}) {}

func (l *recordingLogger) Warningf(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

type countingProgress struct {
	rows int
}

func (p *countingProgress) Add(num int) error {
	p.rows += num
	return nil
}

func newTestConfig(mode spec.TransferMode) *spec.Config {
	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.TransferMode = mode
	return config
}

func newTestRuntime(t *testing.T, devices int, opts ...device.SimulatedOption) (*device.Simulated, *CapabilityMap) {
	rt := device.NewSimulatedRuntime(devices, opts...)
	require.NoError(t, rt.Init())
	t.Cleanup(func() {
		require.Zero(t, rt.Outstanding())
		require.NoError(t, rt.Shutdown())
	})

	caps, err := NewCapabilityMap(rt)
	require.NoError(t, err)
	return rt, caps
}

// peerState snapshots which ordered pairs have peer access enabled.
func peerState(rt *device.Simulated, n int) []bool {
	var state []bool
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			state = append(state, rt.PeerAccessEnabled(i, j))
		}
	}
	return state
}

func onlyFrom0To1(dev int, peer int) bool {
	return dev == 0 && peer == 1
}
