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
	"fmt"
	"math"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/topology"
)

const namespace = "p2p"

// Recorder exposes measurement results as Prometheus gauges on its own
// registry, so that they can be written out in the textfile format.
type Recorder struct {
	registry  *prometheus.Registry
	capable   *prometheus.GaugeVec
	nvlink    *prometheus.GaugeVec
	bandwidth *prometheus.GaugeVec
	latency   *prometheus.GaugeVec
	flagged   *prometheus.GaugeVec
}

// NewRecorder creates the gauges and registers them.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		capable: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peer_access_capable",
				Help:      "Whether the source device can directly access memory of the destination device",
			},
			[]string{"src", "dst"},
		),
		nvlink: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nvlink_connected",
				Help:      "Whether the two devices are connected by NVLink",
			},
			[]string{"src", "dst", "link"},
		),
		bandwidth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bidirectional_bandwidth_gigabytes_per_second",
				Help:      "Bidirectional copy bandwidth between two devices in GB/s",
			},
			[]string{"src", "dst", "p2p", "path"},
		),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latency_microseconds",
				Help:      "Time per copy call between two devices in microseconds",
			},
			[]string{"src", "dst", "p2p", "direction", "timer"},
		),
		flagged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "flagged_rounds",
				Help:      "Number of rounds whose value should not be trusted",
			},
			[]string{"kind", "p2p", "direction"},
		),
	}

	r.registry.MustRegister(r.capable)
	r.registry.MustRegister(r.nvlink)
	r.registry.MustRegister(r.bandwidth)
	r.registry.MustRegister(r.latency)
	r.registry.MustRegister(r.flagged)

	return r
}

// ObserveCapabilities records the capability of every ordered pair of
// distinct devices.
func (r *Recorder) ObserveCapabilities(caps *p2p.CapabilityMap) {
	for i := 0; i < caps.Devices(); i++ {
		for j := 0; j < caps.Devices(); j++ {
			if i == j {
				continue
			}
			v := 0.0
			if caps.CanAccess(i, j) {
				v = 1
			}
			r.capable.WithLabelValues(strconv.Itoa(i), strconv.Itoa(j)).Set(v)
		}
	}
}

// ObserveLinks records for every pair of distinct devices whether they share
// an NVLink bundle.
func (r *Recorder) ObserveLinks(links *topology.Links) {
	for i := 0; i < links.Size(); i++ {
		for j := 0; j < links.Size(); j++ {
			if i == j {
				continue
			}
			link := links.At(i, j)
			v := 0.0
			if link.IsNVLink() {
				v = 1
			}
			r.nvlink.WithLabelValues(strconv.Itoa(i), strconv.Itoa(j), string(link)).Set(v)
		}
	}
}

// ObserveMatrix records every cell of m that holds a number.
func (r *Recorder) ObserveMatrix(m *p2p.Matrix) {
	p2pLabel := strconv.FormatBool(m.P2P)
	direction := string(m.Direction)

	flagged := 0
	for i := 0; i < m.Size(); i++ {
		for j := 0; j < m.Size(); j++ {
			c := m.At(i, j)
			if c.Flagged() {
				flagged++
			}
			if math.IsNaN(c.Value) {
				continue
			}
			src, dst := strconv.Itoa(i), strconv.Itoa(j)
			switch m.Kind {
			case p2p.KindBandwidth:
				r.bandwidth.WithLabelValues(src, dst, p2pLabel, c.Path.String()).Set(c.Value)
			case p2p.KindLatency:
				r.latency.WithLabelValues(src, dst, p2pLabel, direction, "device").Set(c.Value)
			case p2p.KindHostLatency:
				r.latency.WithLabelValues(src, dst, p2pLabel, direction, "host").Set(c.Value)
			}
		}
	}
	r.flagged.WithLabelValues(string(m.Kind), p2pLabel, direction).Set(float64(flagged))
}

// Gatherer returns the registry holding the gauges.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	return r.registry
}

// WriteTextfile writes the gauges to path in the format read by the
// node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("error writing metrics to %v: %w", path, err)
	}
	return nil
}
