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
	"io"
	"os"

	cli "github.com/urfave/cli/v2"

	"sigs.k8s.io/yaml"
)

// Version indicates the version of the 'Config' struct used to hold configuration information.
const Version = "v1"

// Config is a versioned struct used to hold configuration information.
type Config struct {
	Version string `json:"version"         yaml:"version"`
	Flags   Flags  `json:"flags,omitempty" yaml:"flags,omitempty"`
}

// NewConfig builds out a Config struct from a config file (or command line flags).
// The data stored in the config will be populated in order of precedence from
// (1) command line, (2) environment variable, (3) config file.
func NewConfig(c *cli.Context, flags []cli.Flag) (*Config, error) {
	config := &Config{Version: Version}

	if configFile := c.String(FlagConfigFile); configFile != "" {
		var err error
		config, err = parseConfig(configFile)
		if err != nil {
			return nil, fmt.Errorf("unable to parse config file: %v", err)
		}
	}

	config.Flags.UpdateFromCLIFlags(c, flags)
	config.SetDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// parseConfig parses a config file as either YAML of JSON and unmarshals it into a Config struct.
func parseConfig(configFile string) (*Config, error) {
	reader, err := os.Open(configFile)
	if err != nil {
		return nil, fmt.Errorf("error opening config file: %v", err)
	}
	defer reader.Close()

	config, err := parseConfigFrom(reader)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	return config, nil
}

func parseConfigFrom(reader io.Reader) (*Config, error) {
	var err error
	var configYaml []byte

	configYaml, err = io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read error: %v", err)
	}

	var config Config
	err = yaml.Unmarshal(configYaml, &config)
	if err != nil {
		return nil, fmt.Errorf("unmarshal error: %v", err)
	}

	if config.Version == "" {
		config.Version = Version
	}

	if config.Version != Version {
		return nil, fmt.Errorf("unknown version: %v", config.Version)
	}

	return &config, nil
}

// SetDefaults populates every unset flag with its default value.
func (c *Config) SetDefaults() {
	f := &c.Flags
	setDefault(&f.Backend, BackendAuto)
	setDefault(&f.TransferMode, TransferModeCopyEngine)
	setDefault(&f.BarrierTimeoutCycles, DefaultBarrierTimeoutCycles)

	if f.Bandwidth == nil {
		f.Bandwidth = &BandwidthCommandLineFlags{}
	}
	setDefault(&f.Bandwidth.NumElems, DefaultBandwidthElems)
	setDefault(&f.Bandwidth.Repeat, DefaultBandwidthRepeat)

	if f.Latency == nil {
		f.Latency = &LatencyCommandLineFlags{}
	}
	setDefault(&f.Latency.NumElems, DefaultLatencyElems)
	setDefault(&f.Latency.Repeat, DefaultLatencyRepeat)
	setDefault(&f.Latency.Direction, LatencyDirectionWrite)
	setDefault(&f.Latency.CPUCrossCheck, false)

	if f.Output == nil {
		f.Output = &OutputCommandLineFlags{}
	}
	setDefault(&f.Output.Format, OutputFormatTable)
	setDefault(&f.Output.File, "")
	setDefault(&f.Output.MetricsTextfile, "")
	setDefault(&f.Output.Progress, true)
	setDefault(&f.Output.NvmlTopology, false)

	if f.Simulated == nil {
		f.Simulated = &SimulatedCommandLineFlags{}
	}
	setDefault(&f.Simulated.Devices, DefaultSimulatedDevices)
	setDefault(&f.Simulated.PeerAccess, SimulatedPeerAccessAll)
}

func setDefault[T any](p **T, value T) {
	if *p == nil {
		*p = ptr(value)
	}
}

// Validate checks that every populated flag holds a supported value.
func (c *Config) Validate() error {
	f := c.Flags
	if f.Backend != nil {
		switch *f.Backend {
		case BackendAuto, BackendCUDA, BackendSimulated:
		default:
			return fmt.Errorf("unknown backend %q", *f.Backend)
		}
	}
	if f.TransferMode != nil {
		switch *f.TransferMode {
		case TransferModeCopyEngine, TransferModeKernel:
		default:
			return fmt.Errorf("unknown transfer mode %q", *f.TransferMode)
		}
	}
	if f.BarrierTimeoutCycles != nil && *f.BarrierTimeoutCycles == 0 {
		return fmt.Errorf("barrier timeout must be at least one clock cycle")
	}
	if b := f.Bandwidth; b != nil {
		if err := positive(FlagBandwidthElems, b.NumElems); err != nil {
			return err
		}
		if err := positive(FlagBandwidthRepeat, b.Repeat); err != nil {
			return err
		}
	}
	if l := f.Latency; l != nil {
		if err := positive(FlagLatencyElems, l.NumElems); err != nil {
			return err
		}
		if err := positive(FlagLatencyRepeat, l.Repeat); err != nil {
			return err
		}
		if l.Direction != nil {
			switch *l.Direction {
			case LatencyDirectionWrite, LatencyDirectionRead:
			default:
				return fmt.Errorf("unknown latency direction %q", *l.Direction)
			}
		}
	}
	if o := f.Output; o != nil && o.Format != nil {
		switch *o.Format {
		case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		default:
			return fmt.Errorf("unknown output format %q", *o.Format)
		}
	}
	if f.TransferMode != nil && *f.TransferMode == TransferModeKernel {
		if f.Bandwidth != nil {
			if err := kernelCopySize(FlagBandwidthElems, f.Bandwidth.NumElems); err != nil {
				return err
			}
		}
		if f.Latency != nil {
			if err := kernelCopySize(FlagLatencyElems, f.Latency.NumElems); err != nil {
				return err
			}
		}
	}
	if s := f.Simulated; s != nil {
		if err := positive(FlagSimulatedDevices, s.Devices); err != nil {
			return err
		}
		if s.PeerAccess != nil {
			switch *s.PeerAccess {
			case SimulatedPeerAccessAll, SimulatedPeerAccessNone:
			default:
				return fmt.Errorf("unknown simulated peer access %q", *s.PeerAccess)
			}
		}
	}
	return nil
}

func kernelCopySize(name string, v *int) error {
	if v != nil && *v%KernelCopyElems != 0 {
		return fmt.Errorf("%s must be a multiple of %d in %s transfer mode, got %d", name, KernelCopyElems, TransferModeKernel, *v)
	}
	return nil
}

func positive(name string, v *int) error {
	if v != nil && *v <= 0 {
		return fmt.Errorf("%s must be positive, got %d", name, *v)
	}
	return nil
}
