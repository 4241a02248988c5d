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
	"math"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

// Kind identifies what a matrix measures.
type Kind string

// Constants representing the matrix kinds
const (
	KindBandwidth   Kind = "bandwidth"
	KindLatency     Kind = "latency"
	KindHostLatency Kind = "host-latency"
)

// Constants representing the matrix units
const (
	UnitGBps         = "GB/s"
	UnitMicroseconds = "us"
)

// Cell is the outcome of a single round.
type Cell struct {
	// Value is NaN when ClockAnomaly is set.
	Value          float64
	PeerAccess     bool
	Path           Path
	ClockAnomaly   bool
	BarrierTimeout bool
}

// Flagged reports whether the value of the cell should not be trusted.
func (c Cell) Flagged() bool {
	return c.ClockAnomaly || c.BarrierTimeout
}

// Warning describes a round whose value was flagged.
type Warning struct {
	Src    int    `json:"src"`
	Dst    int    `json:"dst"`
	Reason string `json:"reason"`
}

// Matrix is an N×N result of a measurement pass. Row i, column j holds the
// round between device i and device j. It is not modified once returned.
type Matrix struct {
	Title     string
	Kind      Kind
	Unit      string
	P2P       bool
	Direction spec.LatencyDirection

	n     int
	cells []Cell
}

func newMatrix(kind Kind, n int, p2p bool, direction spec.LatencyDirection) *Matrix {
	m := &Matrix{
		Kind:      kind,
		P2P:       p2p,
		Direction: direction,
		n:         n,
		cells:     make([]Cell, n*n),
	}
	switch kind {
	case KindBandwidth:
		m.Unit = UnitGBps
		m.Title = fmt.Sprintf("Bidirectional P2P=%s Bandwidth Matrix (%s)", enabled(p2p), m.Unit)
	case KindLatency, KindHostLatency:
		m.Unit = UnitMicroseconds
		m.Title = fmt.Sprintf("P2P=%s Latency%s Matrix (%s)", enabled(p2p), qualifier(p2p, direction, kind), m.Unit)
	}
	return m
}

func enabled(p2p bool) string {
	if p2p {
		return "Enabled"
	}
	return "Disabled"
}

func qualifier(p2p bool, direction spec.LatencyDirection, kind Kind) string {
	var q string
	if p2p {
		switch direction {
		case spec.LatencyDirectionWrite:
			q = " (P2P Writes)"
		case spec.LatencyDirectionRead:
			q = " (P2P Reads)"
		}
	}
	if kind == KindHostLatency {
		q += " Host Enqueue"
	}
	return q
}

// Size returns N.
func (m *Matrix) Size() int {
	return m.n
}

// At returns the cell of row i, column j.
func (m *Matrix) At(i int, j int) Cell {
	return m.cells[i*m.n+j]
}

// Value returns the value of row i, column j.
func (m *Matrix) Value(i int, j int) float64 {
	return m.At(i, j).Value
}

// Rows returns a copy of the values, row by row.
func (m *Matrix) Rows() [][]float64 {
	rows := make([][]float64, m.n)
	for i := range rows {
		rows[i] = make([]float64, m.n)
		for j := range rows[i] {
			rows[i][j] = m.Value(i, j)
		}
	}
	return rows
}

// Warnings lists every flagged cell in row-major order.
func (m *Matrix) Warnings() []Warning {
	var warnings []Warning
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			c := m.At(i, j)
			if c.ClockAnomaly {
				warnings = append(warnings, Warning{Src: i, Dst: j, Reason: "elapsed time is not positive"})
			}
			if c.BarrierTimeout {
				warnings = append(warnings, Warning{Src: i, Dst: j, Reason: "barrier spin-wait timed out before release"})
			}
		}
	}
	return warnings
}

func (m *Matrix) set(i int, j int, c Cell) {
	m.cells[i*m.n+j] = c
}

// validElapsed reports whether an elapsed time can be turned into a value.
func validElapsed(ms float32) bool {
	v := float64(ms)
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
