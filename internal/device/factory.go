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
	"fmt"

	"github.com/NVIDIA/go-nvlib/pkg/nvlib/info"
	"k8s.io/klog/v2"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

// NewRuntime returns the device runtime selected by the specified config.
func NewRuntime(config *spec.Config) (Runtime, error) {
	switch backend := *config.Flags.Backend; backend {
	case spec.BackendCUDA:
		return NewCudaRuntime(), nil
	case spec.BackendSimulated:
		return newSimulatedFromConfig(config.Flags.Simulated), nil
	case spec.BackendAuto:
		return detectRuntime(info.New())
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

// detectRuntime selects the CUDA runtime if the platform looks like it has
// an NVIDIA driver installed.
func detectRuntime(infolib info.Interface) (Runtime, error) {
	// logWithReason logs the output of the has* / is* checks from the info.Interface
	logWithReason := func(f func() (bool, string), tag string) bool {
		is, reason := f()
		if !is {
			tag = "non-" + tag
		}
		klog.Infof("Detected %v platform: %v", tag, reason)
		return is
	}

	hasNVML := logWithReason(infolib.HasNvml, "NVML")
	isTegra := logWithReason(infolib.IsTegraSystem, "Tegra")

	if hasNVML || isTegra {
		klog.Info("Using CUDA runtime")
		return NewCudaRuntime(), nil
	}

	return nil, fmt.Errorf("no NVIDIA driver detected; select the %q backend to run without devices", spec.BackendSimulated)
}

func newSimulatedFromConfig(flags *spec.SimulatedCommandLineFlags) *Simulated {
	peers := AllPeers
	if *flags.PeerAccess == spec.SimulatedPeerAccessNone {
		peers = NoPeers
	}
	klog.Infof("Using simulated runtime with %d devices", *flags.Devices)
	return NewSimulatedRuntime(*flags.Devices, WithPeerAccess(peers))
}
