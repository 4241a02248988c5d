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

import (
	"fmt"

	cli "github.com/urfave/cli/v2"
)

// prt returns a reference to whatever type is passed into it
func ptr[T any](x T) *T {
	return &x
}

// updateFromCLIFlag conditionally updates the config flag at 'pflag' to the value of the CLI flag with name 'flagName'
func updateFromCLIFlag[T any](pflag **T, c *cli.Context, flagName string) {
	if c.IsSet(flagName) || *pflag == (*T)(nil) {
		switch flag := any(pflag).(type) {
		case **string:
			*flag = ptr(c.String(flagName))
		case **bool:
			*flag = ptr(c.Bool(flagName))
		case **int:
			*flag = ptr(c.Int(flagName))
		case **uint64:
			*flag = ptr(c.Uint64(flagName))
		case **TransferMode:
			*flag = ptr(TransferMode(c.String(flagName)))
		case **LatencyDirection:
			*flag = ptr(LatencyDirection(c.String(flagName)))
		default:
			panic(fmt.Errorf("unsupported flag type for %v: %T", flagName, flag))
		}
	}
}

// Flags holds the full list of flags used to configure the benchmark.
type Flags struct {
	CommandLineFlags
}

// CommandLineFlags holds the list of command line flags used to configure the benchmark.
type CommandLineFlags struct {
	Backend              *string                    `json:"backend"              yaml:"backend"`
	TransferMode         *TransferMode              `json:"transferMode"         yaml:"transferMode"`
	BarrierTimeoutCycles *uint64                    `json:"barrierTimeoutCycles" yaml:"barrierTimeoutCycles"`
	Bandwidth            *BandwidthCommandLineFlags `json:"bandwidth,omitempty"  yaml:"bandwidth,omitempty"`
	Latency              *LatencyCommandLineFlags   `json:"latency,omitempty"    yaml:"latency,omitempty"`
	Output               *OutputCommandLineFlags    `json:"output,omitempty"     yaml:"output,omitempty"`
	Simulated            *SimulatedCommandLineFlags `json:"simulated,omitempty"  yaml:"simulated,omitempty"`
}

// BandwidthCommandLineFlags holds the list of command line flags specific to the bandwidth passes.
type BandwidthCommandLineFlags struct {
	NumElems *int `json:"numElems" yaml:"numElems"`
	Repeat   *int `json:"repeat"   yaml:"repeat"`
}

// LatencyCommandLineFlags holds the list of command line flags specific to the latency passes.
type LatencyCommandLineFlags struct {
	NumElems      *int              `json:"numElems"      yaml:"numElems"`
	Repeat        *int              `json:"repeat"        yaml:"repeat"`
	Direction     *LatencyDirection `json:"direction"     yaml:"direction"`
	CPUCrossCheck *bool             `json:"cpuCrossCheck" yaml:"cpuCrossCheck"`
}

// OutputCommandLineFlags holds the list of command line flags that control reporting.
type OutputCommandLineFlags struct {
	Format          *string `json:"format"                    yaml:"format"`
	File            *string `json:"file,omitempty"            yaml:"file,omitempty"`
	MetricsTextfile *string `json:"metricsTextfile,omitempty" yaml:"metricsTextfile,omitempty"`
	Progress        *bool   `json:"progress"                  yaml:"progress"`
	NvmlTopology    *bool   `json:"nvmlTopology"              yaml:"nvmlTopology"`
}

// SimulatedCommandLineFlags holds the list of command line flags specific to the simulated backend.
type SimulatedCommandLineFlags struct {
	Devices    *int    `json:"devices"    yaml:"devices"`
	PeerAccess *string `json:"peerAccess" yaml:"peerAccess"`
}

// UpdateFromCLIFlags updates Flags from settings in the cli Flags if they are set.
func (f *Flags) UpdateFromCLIFlags(c *cli.Context, flags []cli.Flag) {
	for _, flag := range flags {
		for _, n := range flag.Names() {
			// Common flags
			switch n {
			case FlagBackend:
				updateFromCLIFlag(&f.Backend, c, n)
			case FlagTransferMode:
				updateFromCLIFlag(&f.TransferMode, c, n)
			case FlagBarrierTimeoutCycles:
				updateFromCLIFlag(&f.BarrierTimeoutCycles, c, n)
			}
			// Bandwidth specific flags
			if f.Bandwidth == nil {
				f.Bandwidth = &BandwidthCommandLineFlags{}
			}
			switch n {
			case FlagBandwidthElems:
				updateFromCLIFlag(&f.Bandwidth.NumElems, c, n)
			case FlagBandwidthRepeat:
				updateFromCLIFlag(&f.Bandwidth.Repeat, c, n)
			}
			// Latency specific flags
			if f.Latency == nil {
				f.Latency = &LatencyCommandLineFlags{}
			}
			switch n {
			case FlagLatencyElems:
				updateFromCLIFlag(&f.Latency.NumElems, c, n)
			case FlagLatencyRepeat:
				updateFromCLIFlag(&f.Latency.Repeat, c, n)
			case FlagLatencyDirection:
				updateFromCLIFlag(&f.Latency.Direction, c, n)
			case FlagCPUCrossCheck:
				updateFromCLIFlag(&f.Latency.CPUCrossCheck, c, n)
			}
			// Output specific flags
			if f.Output == nil {
				f.Output = &OutputCommandLineFlags{}
			}
			switch n {
			case FlagOutputFormat:
				updateFromCLIFlag(&f.Output.Format, c, n)
			case FlagOutputFile:
				updateFromCLIFlag(&f.Output.File, c, n)
			case FlagMetricsTextfile:
				updateFromCLIFlag(&f.Output.MetricsTextfile, c, n)
			case FlagProgress:
				updateFromCLIFlag(&f.Output.Progress, c, n)
			case FlagNvmlTopology:
				updateFromCLIFlag(&f.Output.NvmlTopology, c, n)
			}
			// Simulated backend specific flags
			if f.Simulated == nil {
				f.Simulated = &SimulatedCommandLineFlags{}
			}
			switch n {
			case FlagSimulatedDevices:
				updateFromCLIFlag(&f.Simulated.Devices, c, n)
			case FlagSimulatedPeerAccess:
				updateFromCLIFlag(&f.Simulated.PeerAccess, c, n)
			}
		}
	}
}
