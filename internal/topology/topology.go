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
	"fmt"
	"strings"

	"github.com/NVIDIA/go-gpuallocator/gpuallocator"
	"k8s.io/klog/v2"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// LinkType describes how two devices are connected, using the
// abbreviations of the NVIDIA topology matrix.
type LinkType string

// The following constants define the nature of a link between two devices.
const (
	LinkSelf           LinkType = "X"
	LinkSameBoard      LinkType = "PIX*"
	LinkSingleSwitch   LinkType = "PIX"
	LinkMultipleSwitch LinkType = "PXB"
	LinkHostBridge     LinkType = "PHB"
	LinkSameCPU        LinkType = "NODE"
	LinkCrossCPU       LinkType = "SYS"
	LinkUnknown        LinkType = "?"
)

// pcieLinks maps the PCIe link names reported by the allocator to their
// abbreviation.
var pcieLinks = map[string]LinkType{
	"P2PLinkSameBoard":    LinkSameBoard,
	"P2PLinkSingleSwitch": LinkSingleSwitch,
	"P2PLinkMultiSwitch":  LinkMultipleSwitch,
	"P2PLinkHostBridge":   LinkHostBridge,
	"P2PLinkSameCPU":      LinkSameCPU,
	"P2PLinkCrossCPU":     LinkCrossCPU,
}

// nvlinkCounts maps the NVLink bundle names reported by the allocator to the
// number of links in the bundle.
var nvlinkCounts = map[string]int{
	"SingleNVLINKLink":     1,
	"TwoNVLINKLinks":       2,
	"ThreeNVLINKLinks":     3,
	"FourNVLINKLinks":      4,
	"FiveNVLINKLinks":      5,
	"SixNVLINKLinks":       6,
	"SevenNVLINKLinks":     7,
	"EightNVLINKLinks":     8,
	"NineNVLINKLinks":      9,
	"TenNVLINKLinks":       10,
	"ElevenNVLINKLinks":    11,
	"TwelveNVLINKLinks":    12,
	"ThirteenNVLINKLinks":  13,
	"FourteenNVLINKLinks":  14,
	"FifteenNVLINKLinks":   15,
	"SixteenNVLINKLinks":   16,
	"SeventeenNVLINKLinks": 17,
	"EighteenNVLINKLinks":  18,
}

// NVLink returns the link type of a bundle of n NVLinks.
func NVLink(n int) LinkType {
	return LinkType(fmt.Sprintf("NV%d", n))
}

// IsNVLink reports whether the link is an NVLink bundle.
func (l LinkType) IsNVLink() bool {
	return strings.HasPrefix(string(l), "NV")
}

// Links is the N×N matrix of link types between devices.
type Links struct {
	n     int
	links []LinkType
}

// NewLinks builds a matrix from rows of link types. Rows must be square.
func NewLinks(rows [][]LinkType) *Links {
	n := len(rows)
	l := &Links{
		n:     n,
		links: make([]LinkType, n*n),
	}
	for i, row := range rows {
		copy(l.links[i*n:(i+1)*n], row)
	}
	return l
}

// Size returns N.
func (l *Links) Size() int {
	return l.n
}

// At returns the link between device i and device j.
func (l *Links) At(i int, j int) LinkType {
	return l.links[i*l.n+j]
}

// Rows returns the links row by row.
func (l *Links) Rows() [][]string {
	rows := make([][]string, l.n)
	for i := range rows {
		rows[i] = make([]string, l.n)
		for j := range rows[i] {
			rows[i][j] = string(l.At(i, j))
		}
	}
	return rows
}

// Discover classifies the link of every device pair through NVML. The
// matrix is indexed like devices, which are the CUDA devices in ordinal
// order; NVML devices are matched to them by PCI address.
func Discover(devices []device.Properties) (*Links, error) {
	nvmlDevices, err := gpuallocator.NewDevices()
	if err != nil {
		return nil, fmt.Errorf("error enumerating linked devices: %w", err)
	}
	return fromDevices(nvmlDevices, devices)
}

// pciAddress identifies a device by PCI domain, bus and device number.
type pciAddress struct {
	domain int
	bus    int
	device int
}

func parseBusID(busID string) (pciAddress, error) {
	var a pciAddress
	var function int
	if _, err := fmt.Sscanf(busID, "%x:%x:%x.%x", &a.domain, &a.bus, &a.device, &function); err != nil {
		return pciAddress{}, fmt.Errorf("malformed PCI bus id %q: %w", busID, err)
	}
	return a, nil
}

func fromDevices(nvmlDevices gpuallocator.DeviceList, devices []device.Properties) (*Links, error) {
	byAddress := make(map[pciAddress]*gpuallocator.Device)
	for _, d := range nvmlDevices {
		a, err := parseBusID(d.PCI.BusID)
		if err != nil {
			return nil, err
		}
		byAddress[a] = d
	}

	// ordinals[i] is the NVML device backing CUDA device i, or nil.
	ordinals := make([]*gpuallocator.Device, len(devices))
	for i, p := range devices {
		d, ok := byAddress[pciAddress{domain: p.PCIDomainID, bus: p.PCIBusID, device: p.PCIDeviceID}]
		if !ok {
			klog.Warningf("Device %d (%04x:%02x:%02x) is not known to NVML", i, p.PCIDomainID, p.PCIBusID, p.PCIDeviceID)
			continue
		}
		ordinals[i] = d
	}

	n := len(devices)
	l := &Links{
		n:     n,
		links: make([]LinkType, n*n),
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			switch {
			case i == j:
				l.links[i*n+j] = LinkSelf
			case ordinals[i] == nil || ordinals[j] == nil:
				l.links[i*n+j] = LinkUnknown
			default:
				var names []string
				for _, link := range ordinals[i].Links[ordinals[j].Index] {
					names = append(names, link.Type.String())
				}
				l.links[i*n+j] = classify(names)
			}
		}
	}
	return l, nil
}

// classify reduces the links reported for a pair to the one a transfer
// between them would take. NVLink takes precedence over PCIe.
func classify(names []string) LinkType {
	link := LinkUnknown
	for _, name := range names {
		if count, ok := nvlinkCounts[name]; ok {
			return NVLink(count)
		}
		if pcie, ok := pcieLinks[name]; ok {
			link = pcie
		}
	}
	return link
}
