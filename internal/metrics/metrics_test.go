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

package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/topology"
)

func measure(t *testing.T, opts ...device.SimulatedOption) (*p2p.CapabilityMap, *p2p.Matrix, *p2p.LatencyResult) {
	rt := device.NewSimulatedRuntime(2, opts...)
	require.NoError(t, rt.Init())
	defer rt.Shutdown()

	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.Bandwidth.NumElems = 1 << 20
	*config.Flags.Latency.CPUCrossCheck = true

	caps, err := p2p.NewCapabilityMap(rt)
	require.NoError(t, err)
	bandwidth, err := p2p.NewBandwidthMeasurer(rt, caps, config).Measure(true)
	require.NoError(t, err)
	latency, err := p2p.NewLatencyMeasurer(rt, caps, config).Measure(true, spec.LatencyDirectionWrite)
	require.NoError(t, err)

	return caps, bandwidth, latency
}

func TestRecorder(t *testing.T) {
	caps, bandwidth, latency := measure(t, device.WithPeerAccess(func(dev, peer int) bool {
		return dev == 0
	}))

	r := NewRecorder()
	r.ObserveCapabilities(caps)
	r.ObserveMatrix(bandwidth)
	r.ObserveMatrix(latency.Device)
	r.ObserveMatrix(latency.Host)

	require.Equal(t, 1.0, testutil.ToFloat64(r.capable.WithLabelValues("0", "1")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.capable.WithLabelValues("1", "0")))
	require.Equal(t, 2, testutil.CollectAndCount(r.capable))

	require.Equal(t, 4, testutil.CollectAndCount(r.bandwidth))
	require.Equal(t, bandwidth.Value(0, 1), testutil.ToFloat64(r.bandwidth.WithLabelValues("0", "1", "true", "copy-engine")))

	require.Equal(t, 8, testutil.CollectAndCount(r.latency))
	require.Equal(t, latency.Device.Value(1, 1), testutil.ToFloat64(r.latency.WithLabelValues("1", "1", "true", "write", "device")))

	require.Equal(t, 0.0, testutil.ToFloat64(r.flagged.WithLabelValues("bandwidth", "true", "")))
}

func TestRecorderSkipsAnomalies(t *testing.T) {
	_, bandwidth, _ := measure(t, device.WithClockAnomaly())

	r := NewRecorder()
	r.ObserveMatrix(bandwidth)

	require.Zero(t, testutil.CollectAndCount(r.bandwidth))
	require.Equal(t, 4.0, testutil.ToFloat64(r.flagged.WithLabelValues("bandwidth", "true", "")))
}

func TestRecorderLinks(t *testing.T) {
	links := topology.NewLinks([][]topology.LinkType{
		{topology.LinkSelf, topology.NVLink(4), topology.LinkCrossCPU},
		{topology.NVLink(4), topology.LinkSelf, topology.LinkSameCPU},
		{topology.LinkCrossCPU, topology.LinkSameCPU, topology.LinkSelf},
	})

	r := NewRecorder()
	r.ObserveLinks(links)

	require.Equal(t, 6, testutil.CollectAndCount(r.nvlink))
	require.Equal(t, 1.0, testutil.ToFloat64(r.nvlink.WithLabelValues("0", "1", "NV4")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.nvlink.WithLabelValues("2", "0", "SYS")))
	require.Equal(t, 0.0, testutil.ToFloat64(r.nvlink.WithLabelValues("1", "2", "NODE")))
}

func TestWriteTextfile(t *testing.T) {
	caps, bandwidth, _ := measure(t)

	r := NewRecorder()
	r.ObserveCapabilities(caps)
	r.ObserveMatrix(bandwidth)

	path := filepath.Join(t.TempDir(), "p2p.prom")
	require.NoError(t, r.WriteTextfile(path))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(contents), "p2p_bidirectional_bandwidth_gigabytes_per_second{"))
	require.True(t, strings.Contains(string(contents), `p2p_peer_access_capable{dst="1",src="0"} 1`))
}
