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

package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/info"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
)

func newTestResult(t *testing.T, opts ...device.SimulatedOption) *Result {
	rt := device.NewSimulatedRuntime(2, opts...)
	require.NoError(t, rt.Init())
	defer rt.Shutdown()

	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.Bandwidth.NumElems = 1 << 20

	r := &Result{Config: config}
	for i := 0; i < 2; i++ {
		p, err := rt.Properties(i)
		require.NoError(t, err)
		r.Devices = append(r.Devices, p)
	}

	caps, err := p2p.NewCapabilityMap(rt)
	require.NoError(t, err)
	r.Connectivity = caps

	m, err := p2p.NewBandwidthMeasurer(rt, caps, config).Measure(false)
	require.NoError(t, err)
	r.Matrices = append(r.Matrices, m)

	return r
}

func TestWriteTable(t *testing.T) {
	r := newTestResult(t, device.WithClockAnomaly(), device.WithPeerAccess(func(dev, peer int) bool {
		return dev == 1
	}))

	expected := strings.Join([]string{
		"P2P Bandwidth Latency Test; devices: 2",
		"Device: 0, Simulated GPU 0, pciBusID: 18, pciDeviceID: 0, pciDomainID:0",
		"Device: 1, Simulated GPU 1, pciBusID: 28, pciDeviceID: 0, pciDomainID:0",
		"P2P Connectivity Matrix",
		"  D\\D     0     1",
		"     0\t     1     0",
		"     1\t     1     1",
		"Bidirectional P2P=Disabled Bandwidth Matrix (GB/s)",
		"  D\\D     0      1 ",
		"     0    n/a    n/a ",
		"     1    n/a    n/a ",
		"Warning: device 0 to 0: elapsed time is not positive",
		"Warning: device 0 to 1: elapsed time is not positive",
		"Warning: device 1 to 0: elapsed time is not positive",
		"Warning: device 1 to 1: elapsed time is not positive",
		"",
	}, "\n")

	buffer := new(bytes.Buffer)
	require.NoError(t, writeTable(buffer, r))
	require.Equal(t, expected, buffer.String())
}

func TestWriteTableValues(t *testing.T) {
	r := newTestResult(t)

	buffer := new(bytes.Buffer)
	require.NoError(t, writeTable(buffer, r))

	lines := strings.Split(buffer.String(), "\n")
	require.Equal(t, "Bidirectional P2P=Disabled Bandwidth Matrix (GB/s)", lines[7])
	row := strings.Fields(lines[9])
	require.Len(t, row, 3)
	require.Equal(t, "0", row[0])
	for _, v := range row[1:] {
		require.Regexp(t, `^[0-9]+\.[0-9]{2}$`, v)
	}
	require.NotContains(t, buffer.String(), "Warning")
}

func TestWriteJSON(t *testing.T) {
	r := newTestResult(t, device.WithClockAnomaly())

	buffer := new(bytes.Buffer)
	require.NoError(t, writeJSON(buffer, r))

	var d document
	require.NoError(t, json.Unmarshal(buffer.Bytes(), &d))
	require.Equal(t, spec.Version, d.Version)
	require.Equal(t, info.GetBuild(), d.Build)
	require.Len(t, d.Devices, 2)
	require.Equal(t, "Simulated GPU 1", d.Devices[1].Name)
	require.Equal(t, 1, d.Devices[1].Index)
	require.Equal(t, [][]int{{1, 1}, {1, 1}}, d.Connectivity)
	require.Len(t, d.Matrices, 1)
	require.Equal(t, p2p.KindBandwidth, d.Matrices[0].Kind)
	require.Nil(t, d.Matrices[0].Values[0][1])
	require.Len(t, d.Matrices[0].Warnings, 4)
	require.Contains(t, buffer.String(), `"copy-engine"`)
}

func TestWriteYAML(t *testing.T) {
	r := newTestResult(t)

	buffer := new(bytes.Buffer)
	require.NoError(t, writeYAML(buffer, r))

	var d map[string]interface{}
	require.NoError(t, yaml.Unmarshal(buffer.Bytes(), &d))
	require.Equal(t, spec.Version, d["version"])
	require.Len(t, d["matrices"], 1)
}

func TestToFile(t *testing.T) {
	r := newTestResult(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "results.json")

	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.Output.Format = spec.OutputFormatJSON
	*config.Flags.Output.File = path

	o, err := NewOutputer(config)
	require.NoError(t, err)
	require.NoError(t, o.Output(r))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, json.Valid(contents))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNewOutputerUnknownFormat(t *testing.T) {
	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	*config.Flags.Output.Format = "xml"

	_, err := NewOutputer(config)
	require.Error(t, err)
}
