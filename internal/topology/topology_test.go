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


package topology

import (
	"testing"

	"github.com/NVIDIA/go-gpuallocator/gpuallocator"
	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

func TestClassify(t *testing.T) {
	testCases := []struct {
		description string
		names       []string
		expected    LinkType
	}{
		{
			description: "no links",
			expected:    LinkUnknown,
		},
		{
			description: "nvlink takes precedence",
			names:       []string{"P2PLinkCrossCPU", "FourNVLINKLinks"},
			expected:    "NV4",
		},
		{
			description: "same board",
			names:       []string{"P2PLinkSameBoard"},
			expected:    LinkSameBoard,
		},
		{
			description: "single switch",
			names:       []string{"P2PLinkSingleSwitch"},
			expected:    LinkSingleSwitch,
		},
		{
			description: "multiple switches",
			names:       []string{"P2PLinkMultiSwitch"},
			expected:    LinkMultipleSwitch,
		},
		{
			description: "host bridge",
			names:       []string{"P2PLinkHostBridge"},
			expected:    LinkHostBridge,
		},
		{
			description: "same NUMA node",
			names:       []string{"P2PLinkSameCPU"},
			expected:    LinkSameCPU,
		},
		{
			description: "across sockets",
			names:       []string{"P2PLinkCrossCPU"},
			expected:    LinkCrossCPU,
		},
		{
			description: "unrecognized link",
			names:       []string{"P2PLinkUnknown"},
			expected:    LinkUnknown,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			require.Equal(t, tc.expected, classify(tc.names))
		})
	}
}

func TestIsNVLink(t *testing.T) {
	require.True(t, NVLink(12).IsNVLink())
	require.False(t, LinkSameCPU.IsNVLink())
	require.False(t, LinkSelf.IsNVLink())
}

func TestFromDevices(t *testing.T) {
	// NVML enumerates by PCI bus, CUDA ordinals below are in a different
	// order and NVML device 3 is hidden from CUDA.
	busIDs := []string{"0000:18:00.0", "0000:3b:00.0", "0000:86:00.0", "0000:af:00.0"}
	devices := make(gpuallocator.DeviceList, len(busIDs))
	for i, busID := range busIDs {
		devices[i] = &gpuallocator.Device{Index: i, Links: map[int][]gpuallocator.P2PLink{}}
		devices[i].PCI.BusID = busID
	}
	link := func(i, j int, name string) {
		l, ok := linkNamed(name)
		require.True(t, ok, "no link type named %q", name)
		l.GPU = devices[j]
		devices[i].Links[j] = append(devices[i].Links[j], l)
		l.GPU = devices[i]
		devices[j].Links[i] = append(devices[j].Links[i], l)
	}
	link(0, 1, "P2PLinkSameCPU")
	link(0, 1, "TwoNVLINKLinks")
	link(0, 2, "P2PLinkCrossCPU")
	link(1, 2, "P2PLinkHostBridge")
	link(0, 3, "P2PLinkSingleSwitch")
	link(2, 3, "P2PLinkSameBoard")

	testCases := []struct {
		description string
		cuda        []device.Properties
		expected    [][]string
	}{
		{
			description: "same order as NVML",
			cuda: []device.Properties{
				{PCIBusID: 0x18},
				{PCIBusID: 0x3b},
				{PCIBusID: 0x86},
			},
			expected: [][]string{
				{"X", "NV2", "SYS"},
				{"NV2", "X", "PHB"},
				{"SYS", "PHB", "X"},
			},
		},
		{
			description: "reordered by CUDA",
			cuda: []device.Properties{
				{PCIBusID: 0x86},
				{PCIBusID: 0x18},
				{PCIBusID: 0x3b},
			},
			expected: [][]string{
				{"X", "SYS", "PHB"},
				{"SYS", "X", "NV2"},
				{"PHB", "NV2", "X"},
			},
		},
		{
			description: "device unknown to NVML",
			cuda: []device.Properties{
				{PCIBusID: 0x3b},
				{PCIDomainID: 1, PCIBusID: 0x18},
			},
			expected: [][]string{
				{"X", "?"},
				{"?", "X"},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			links, err := fromDevices(devices, tc.cuda)
			require.NoError(t, err)
			require.Equal(t, len(tc.cuda), links.Size())
			require.Equal(t, tc.expected, links.Rows())
		})
	}
}

func TestFromDevicesMalformedBusID(t *testing.T) {
	d := &gpuallocator.Device{Index: 0}
	d.PCI.BusID = "not-a-bus"
	_, err := fromDevices(gpuallocator.DeviceList{d}, []device.Properties{{}})
	require.Error(t, err)
}

func TestParseBusID(t *testing.T) {
	testCases := []struct {
		description string
		busID       string
		expected    pciAddress
	}{
		{
			description: "short domain",
			busID:       "0000:3b:00.0",
			expected:    pciAddress{bus: 0x3b},
		},
		{
			description: "full domain",
			busID:       "00000001:af:02.0",
			expected:    pciAddress{domain: 1, bus: 0xaf, device: 2},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			a, err := parseBusID(tc.busID)
			require.NoError(t, err)
			require.Equal(t, tc.expected, a)
		})
	}
}

// linkNamed walks the allocator's link types until one has the given name.
func linkNamed(name string) (gpuallocator.P2PLink, bool) {
	var l gpuallocator.P2PLink
	for i := 0; i < 32; i++ {
		if l.Type.String() == name {
			return l, true
		}
		l.Type++
	}
	return l, false
}
