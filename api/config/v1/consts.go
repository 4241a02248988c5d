/*
 * Copyright (c) 2024, NVIDIA CORPORATION.  All rights reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package v1

// Constants representing the device runtime backends
const (
	BackendAuto      = "auto"
	BackendCUDA      = "cuda"
	BackendSimulated = "simulated"
)

// TransferMode selects how a peer copy is issued.
type TransferMode string

// Constants representing the transfer modes
const (
	// TransferModeCopyEngine issues copies through the driver's peer memcpy.
	TransferModeCopyEngine TransferMode = "ce"
	// TransferModeKernel issues copies as kernels run by the SMs.
	TransferModeKernel TransferMode = "sm"
)

// LatencyDirection selects which side of a pair issues the latency transfer.
type LatencyDirection string

// Constants representing the latency directions
const (
	LatencyDirectionWrite LatencyDirection = "write"
	LatencyDirectionRead  LatencyDirection = "read"
)

// Constants representing the output formats
const (
	OutputFormatTable = "table"
	OutputFormatJSON  = "json"
	OutputFormatYAML  = "yaml"
)

// Constants representing the peer topologies of the simulated backend
const (
	SimulatedPeerAccessAll  = "all"
	SimulatedPeerAccessNone = "none"
)

// Default values of the measurement parameters
const (
	DefaultBandwidthElems       = 40000000
	DefaultBandwidthRepeat      = 5
	DefaultLatencyElems         = 4
	DefaultLatencyRepeat        = 100
	DefaultBarrierTimeoutCycles = 10000000
	DefaultSimulatedDevices     = 2
)

// KernelCopyElems is the number of elements the copy kernel moves per
// thread iteration. Sizes copied in kernel mode must be a multiple of it.
const KernelCopyElems = 4

// Command line flag names - Common flags
const (
	FlagConfigFile           = "config-file"
	FlagBackend              = "backend"
	FlagTransferMode         = "transfer-mode"
	FlagBarrierTimeoutCycles = "barrier-timeout-cycles"
)

// Command line flag names - Bandwidth flags
const (
	FlagBandwidthElems  = "bandwidth-elems"
	FlagBandwidthRepeat = "bandwidth-repeat"
)

// Command line flag names - Latency flags
const (
	FlagLatencyElems     = "latency-elems"
	FlagLatencyRepeat    = "latency-repeat"
	FlagLatencyDirection = "latency-direction"
	FlagCPUCrossCheck    = "cpu-cross-check"
)

// Command line flag names - Output flags
const (
	FlagOutputFormat    = "output-format"
	FlagOutputFile      = "output-file"
	FlagMetricsTextfile = "metrics-textfile"
	FlagProgress        = "progress"
	FlagNvmlTopology    = "nvml-topology"
)

// Command line flag names - Simulated backend flags
const (
	FlagSimulatedDevices    = "simulated-devices"
	FlagSimulatedPeerAccess = "simulated-peer-access"
)
