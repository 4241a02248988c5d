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
	"fmt"
	"io"
	"math"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
)

// writeTable renders the result the way the benchmark has always printed
// it: device listing, connectivity, then one block per matrix.
func writeTable(w io.Writer, r *Result) error {
	p := &printer{w: w}

	p.printf("P2P Bandwidth Latency Test; devices: %d\n", len(r.Devices))
	for i, d := range r.Devices {
		p.printf("Device: %d, %s, pciBusID: %x, pciDeviceID: %x, pciDomainID:%x\n", i, d.Name, d.PCIBusID, d.PCIDeviceID, d.PCIDomainID)
	}

	if rows := connectivity(r.Connectivity); rows != nil {
		p.printf("P2P Connectivity Matrix\n")
		p.printf("  D\\D")
		for j := range rows {
			p.printf("%6d", j)
		}
		p.printf("\n")
		for i, row := range rows {
			p.printf("%6d\t", i)
			for _, v := range row {
				p.printf("%6d", v)
			}
			p.printf("\n")
		}
	}

	if r.Links != nil {
		p.printf("P2P Link Matrix\n")
		p.printf("  D\\D")
		for j := 0; j < r.Links.Size(); j++ {
			p.printf("%6d", j)
		}
		p.printf("\n")
		for i, row := range r.Links.Rows() {
			p.printf("%6d\t", i)
			for _, v := range row {
				p.printf("%6s", v)
			}
			p.printf("\n")
		}
	}

	for _, m := range r.Matrices {
		p.printf("%s\n", m.Title)
		writeMatrix(p, m)
	}

	return p.err
}

func writeMatrix(p *printer, m *p2p.Matrix) {
	switch m.Kind {
	case p2p.KindLatency:
		p.printf(" GPU")
	case p2p.KindHostLatency:
		p.printf(" CPU")
	default:
		p.printf("  D\\D")
	}
	for j := 0; j < m.Size(); j++ {
		p.printf("%6d ", j)
	}
	p.printf("\n")

	for i := 0; i < m.Size(); i++ {
		p.printf("%6d ", i)
		for j := 0; j < m.Size(); j++ {
			c := m.At(i, j)
			if c.ClockAnomaly || math.IsNaN(c.Value) {
				p.printf("%6s ", "n/a")
				continue
			}
			p.printf("%6.02f ", c.Value)
		}
		p.printf("\n")
	}

	for _, w := range m.Warnings() {
		p.printf("Warning: device %d to %d: %s\n", w.Src, w.Dst, w.Reason)
	}
}

// printer remembers the first write error so that rendering code does not
// have to check every call.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
