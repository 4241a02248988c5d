// Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/info"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/metrics"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/p2p"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/report"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/topology"
)

// Config represents a collection of config options for the benchmark.
type Config struct {
	configFile string

	// flags stores the CLI flags for later processing.
	flags []cli.Flag
}

func main() {
	c := newApp()
	if err := c.Run(os.Args); err != nil {
		var perr *device.PlatformCallError
		if errors.As(err, &perr) {
			klog.Errorf("Device runtime call failed: %v", perr)
		} else {
			klog.Error(err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	config := &Config{}

	c := cli.NewApp()
	c.Name = "p2p-bandwidth-latency"
	c.Usage = "measure peer-to-peer bandwidth and latency between NVIDIA devices"
	c.Version = info.GetVersionString()
	c.Action = func(ctx *cli.Context) error {
		return start(ctx, config)
	}

	config.flags = []cli.Flag{
		&cli.StringFlag{
			Name:        spec.FlagConfigFile,
			Usage:       "the path to a config file as an alternative to command line options or environment variables",
			Destination: &config.configFile,
			EnvVars:     []string{"P2P_CONFIG_FILE", "CONFIG_FILE"},
		},
		&cli.StringFlag{
			Name:    spec.FlagBackend,
			Value:   spec.BackendAuto,
			Usage:   "the device runtime to measure with:\n\t\t[auto | cuda | simulated]",
			EnvVars: []string{"P2P_BACKEND"},
		},
		&cli.StringFlag{
			Name:    spec.FlagTransferMode,
			Value:   string(spec.TransferModeCopyEngine),
			Usage:   "how peer copies are issued when peer access is enabled:\n\t\t[ce | sm]",
			EnvVars: []string{"P2P_TRANSFER_MODE"},
		},
		&cli.Uint64Flag{
			Name:    spec.FlagBarrierTimeoutCycles,
			Value:   spec.DefaultBarrierTimeoutCycles,
			Usage:   "the number of device clock cycles after which a held queue is released without the host",
			EnvVars: []string{"P2P_BARRIER_TIMEOUT_CYCLES"},
		},
		&cli.IntFlag{
			Name:    spec.FlagBandwidthElems,
			Value:   spec.DefaultBandwidthElems,
			Usage:   "the number of int32 elements copied per bandwidth transfer",
			EnvVars: []string{"P2P_BANDWIDTH_ELEMS"},
		},
		&cli.IntFlag{
			Name:    spec.FlagBandwidthRepeat,
			Value:   spec.DefaultBandwidthRepeat,
			Usage:   "the number of transfers per bandwidth round and direction",
			EnvVars: []string{"P2P_BANDWIDTH_REPEAT"},
		},
		&cli.IntFlag{
			Name:    spec.FlagLatencyElems,
			Value:   spec.DefaultLatencyElems,
			Usage:   "the number of int32 elements copied per latency transfer",
			EnvVars: []string{"P2P_LATENCY_ELEMS"},
		},
		&cli.IntFlag{
			Name:    spec.FlagLatencyRepeat,
			Value:   spec.DefaultLatencyRepeat,
			Usage:   "the number of transfers per latency round",
			EnvVars: []string{"P2P_LATENCY_REPEAT"},
		},
		&cli.StringFlag{
			Name:    spec.FlagLatencyDirection,
			Value:   string(spec.LatencyDirectionWrite),
			Usage:   "the direction of the peer-enabled latency pass; 'read' adds a read pass after the write pass:\n\t\t[write | read]",
			EnvVars: []string{"P2P_LATENCY_DIRECTION"},
		},
		&cli.BoolFlag{
			Name:    spec.FlagCPUCrossCheck,
			Value:   false,
			Usage:   "also report the host time spent enqueuing each latency transfer",
			EnvVars: []string{"P2P_CPU_CROSS_CHECK"},
		},
		&cli.StringFlag{
			Name:    spec.FlagOutputFormat,
			Value:   spec.OutputFormatTable,
			Usage:   "the format of the results:\n\t\t[table | json | yaml]",
			EnvVars: []string{"P2P_OUTPUT_FORMAT"},
		},
		&cli.StringFlag{
			Name:    spec.FlagOutputFile,
			Aliases: []string{"output", "o"},
			Usage:   "the file to write the results to instead of stdout",
			EnvVars: []string{"P2P_OUTPUT_FILE"},
		},
		&cli.StringFlag{
			Name:    spec.FlagMetricsTextfile,
			Usage:   "the file to write the results to as Prometheus metrics for the node exporter textfile collector",
			EnvVars: []string{"P2P_METRICS_TEXTFILE"},
		},
		&cli.BoolFlag{
			Name:    spec.FlagProgress,
			Value:   true,
			Usage:   "show a progress bar on stderr while measuring",
			EnvVars: []string{"P2P_PROGRESS"},
		},
		&cli.BoolFlag{
			Name:    spec.FlagNvmlTopology,
			Value:   false,
			Usage:   "classify the link between every device pair through NVML",
			EnvVars: []string{"P2P_NVML_TOPOLOGY"},
		},
		&cli.IntFlag{
			Name:    spec.FlagSimulatedDevices,
			Value:   spec.DefaultSimulatedDevices,
			Usage:   "the number of devices of the simulated backend",
			EnvVars: []string{"P2P_SIMULATED_DEVICES"},
		},
		&cli.StringFlag{
			Name:    spec.FlagSimulatedPeerAccess,
			Value:   spec.SimulatedPeerAccessAll,
			Usage:   "which pairs of the simulated backend are peer capable:\n\t\t[all | none]",
			EnvVars: []string{"P2P_SIMULATED_PEER_ACCESS"},
		},
	}

	c.Flags = config.flags

	return c
}

// loadConfig loads the config from the config file and command line.
func (cfg *Config) loadConfig(c *cli.Context) (*spec.Config, error) {
	config, err := spec.NewConfig(c, cfg.flags)
	if err != nil {
		return nil, fmt.Errorf("unable to finalize config: %v", err)
	}
	return config, nil
}

func start(c *cli.Context, cfg *Config) error {
	klog.Info("Loading configuration.")
	config, err := cfg.loadConfig(c)
	if err != nil {
		return fmt.Errorf("unable to load config: %v", err)
	}

	// Print the config to the output.
	configJSON, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %v", err)
	}
	klog.Infof("\nRunning with config:\n%v", string(configJSON))

	rt, err := device.NewRuntime(config)
	if err != nil {
		return fmt.Errorf("unable to create device runtime: %w", err)
	}
	if err := rt.Init(); err != nil {
		return fmt.Errorf("failed to initialize device runtime: %w", err)
	}
	defer func() {
		if err := rt.Shutdown(); err != nil {
			klog.Warningf("Error shutting down device runtime: %v", err)
		}
	}()

	result, err := run(rt, config)
	if err != nil {
		return err
	}

	outputer, err := report.NewOutputer(config)
	if err != nil {
		return fmt.Errorf("unable to create outputer: %v", err)
	}
	if err := outputer.Output(result); err != nil {
		return fmt.Errorf("error writing results: %w", err)
	}

	if path := *config.Flags.Output.MetricsTextfile; path != "" {
		recorder := metrics.NewRecorder()
		recorder.ObserveCapabilities(result.Connectivity)
		if result.Links != nil {
			recorder.ObserveLinks(result.Links)
		}
		for _, m := range result.Matrices {
			recorder.ObserveMatrix(m)
		}
		if err := recorder.WriteTextfile(path); err != nil {
			return err
		}
	}

	return nil
}

// run performs every measurement pass in order: bandwidth with peer access
// disabled then enabled, latency with peer access disabled then enabled for
// writes, and finally for reads if requested.
func run(rt device.Runtime, config *spec.Config) (*report.Result, error) {
	caps, err := p2p.NewCapabilityMap(rt)
	if err != nil {
		return nil, err
	}
	n := caps.Devices()
	klog.Infof("Found %d devices", n)

	result := &report.Result{
		Config:       config,
		Connectivity: caps,
	}
	for i := 0; i < n; i++ {
		p, err := rt.Properties(i)
		if err != nil {
			return nil, fmt.Errorf("error getting properties of device %d: %w", i, err)
		}
		result.Devices = append(result.Devices, p)
		klog.Infof("Device=%d can access %v", i, caps.Peers(i))
	}

	if *config.Flags.Output.NvmlTopology {
		links, err := topology.Discover(result.Devices)
		if err != nil {
			klog.Warningf("Unable to classify device links: %v", err)
		} else {
			result.Links = links
		}
	}

	newProgress := func(title string) *progressbar.ProgressBar {
		return progressbar.NewOptions(n,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(title),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	barrier, err := p2p.NewBarrier(rt, *config.Flags.BarrierTimeoutCycles)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := barrier.Free(); err != nil {
			klog.Warningf("Failed to free barrier flag: %v", err)
		}
	}()

	options := func(title string) []p2p.Option {
		opts := []p2p.Option{p2p.WithBarrier(barrier)}
		if *config.Flags.Output.Progress {
			opts = append(opts, p2p.WithProgress(newProgress(title)))
		}
		return opts
	}

	bandwidth := func(p2pEnabled bool) error {
		m, err := p2p.NewBandwidthMeasurer(rt, caps, config, options(fmt.Sprintf("bandwidth p2p=%v", p2pEnabled))...).Measure(p2pEnabled)
		if err != nil {
			return err
		}
		result.Matrices = append(result.Matrices, m)
		return nil
	}
	latency := func(p2pEnabled bool, direction spec.LatencyDirection) error {
		r, err := p2p.NewLatencyMeasurer(rt, caps, config, options(fmt.Sprintf("latency p2p=%v %v", p2pEnabled, direction))...).Measure(p2pEnabled, direction)
		if err != nil {
			return err
		}
		result.Matrices = append(result.Matrices, r.Device)
		if r.Host != nil {
			result.Matrices = append(result.Matrices, r.Host)
		}
		return nil
	}

	if err := bandwidth(false); err != nil {
		return nil, err
	}
	if err := bandwidth(true); err != nil {
		return nil, err
	}
	if err := latency(false, spec.LatencyDirectionWrite); err != nil {
		return nil, err
	}
	if err := latency(true, spec.LatencyDirectionWrite); err != nil {
		return nil, err
	}
	if *config.Flags.Latency.Direction == spec.LatencyDirectionRead {
		if err := latency(true, spec.LatencyDirectionRead); err != nil {
			return nil, err
		}
	}

	return result, nil
}
