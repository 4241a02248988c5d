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
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/info"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/topology"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

// Result is everything a run produced, in the order it is reported.
type Result struct {
	Config       *spec.Config
	Devices      []device.Properties
	Connectivity *p2p.CapabilityMap
	// Links is only set when link classification was requested.
	Links    *topology.Links
	Matrices []*p2p.Matrix
}

type document struct {
	Version      string        `json:"version"`
	Build        info.Build    `json:"build"`
	Config       *spec.Config  `json:"config,omitempty"`
	Devices      []deviceEntry `json:"devices"`
	Connectivity [][]int       `json:"connectivity"`
	Links        [][]string    `json:"links,omitempty"`
	Matrices     []matrixEntry `json:"matrices"`
}

type deviceEntry struct {
	Index int `json:"index"`
	device.Properties
}

type matrixEntry struct {
	Title      string                `json:"title"`
	Kind       p2p.Kind              `json:"kind"`
	Unit       string                `json:"unit"`
	P2P        bool                  `json:"p2p"`
	Direction  spec.LatencyDirection `json:"direction,omitempty"`
	Values     [][]*float64          `json:"values"`
	PeerAccess [][]bool              `json:"peerAccess"`
	Paths      [][]p2p.Path          `json:"paths"`
	Warnings   []p2p.Warning         `json:"warnings,omitempty"`
}

// newDocument converts a result into its machine readable form. Values
// that are not numbers are encoded as null.
func newDocument(r *Result) *document {
	d := &document{
		Version: spec.Version,
		Build:   info.GetBuild(),
		Config:  r.Config,
	}
	for i, p := range r.Devices {
		d.Devices = append(d.Devices, deviceEntry{Index: i, Properties: p})
	}
	d.Connectivity = connectivity(r.Connectivity)
	if r.Links != nil {
		d.Links = r.Links.Rows()
	}
	for _, m := range r.Matrices {
		d.Matrices = append(d.Matrices, newMatrixEntry(m))
	}
	return d
}

func newMatrixEntry(m *p2p.Matrix) matrixEntry {
	e := matrixEntry{
		Title:     m.Title,
		Kind:      m.Kind,
		Unit:      m.Unit,
		P2P:       m.P2P,
		Direction: m.Direction,
		Warnings:  m.Warnings(),
	}
	for i := 0; i < m.Size(); i++ {
		values := make([]*float64, m.Size())
		access := make([]bool, m.Size())
		paths := make([]p2p.Path, m.Size())
		for j := 0; j < m.Size(); j++ {
			c := m.At(i, j)
			if !c.ClockAnomaly {
				v := c.Value
				values[j] = &v
			}
			access[j] = c.PeerAccess
			paths[j] = c.Path
		}
		e.Values = append(e.Values, values)
		e.PeerAccess = append(e.PeerAccess, access)
		e.Paths = append(e.Paths, paths)
	}
	return e
}

// connectivity returns the capability map as 0/1 rows with a diagonal of 1.
func connectivity(caps *p2p.CapabilityMap) [][]int {
	if caps == nil {
		return nil
	}
	rows := make([][]int, caps.Devices())
	for i := range rows {
		rows[i] = make([]int, caps.Devices())
		for j := range rows[i] {
			if caps.CanAccess(i, j) {
				rows[i][j] = 1
			}
		}
	}
	return rows
}
