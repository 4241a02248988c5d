// Copyright (c) 2024, NVIDIA CORPORATION. All rights reserved.

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

func TestRunSimulated(t *testing.T) {
	testCases := []struct {
		description      string
		args             []string
		expectedMatrices []string
	}{
		{
			description: "default passes",
			args:        []string{},
			expectedMatrices: []string{
				"Bidirectional P2P=Disabled Bandwidth Matrix (GB/s)",
				"Bidirectional P2P=Enabled Bandwidth Matrix (GB/s)",
				"P2P=Disabled Latency Matrix (us)",
				"P2P=Enabled Latency (P2P Writes) Matrix (us)",
			},
		},
		{
			description: "read pass with host cross-check",
			args: []string{
				"--" + spec.FlagLatencyDirection, "read",
				"--" + spec.FlagCPUCrossCheck,
			},
			expectedMatrices: []string{
				"Bidirectional P2P=Disabled Bandwidth Matrix (GB/s)",
				"Bidirectional P2P=Enabled Bandwidth Matrix (GB/s)",
				"P2P=Disabled Latency Matrix (us)",
				"P2P=Disabled Latency Host Enqueue Matrix (us)",
				"P2P=Enabled Latency (P2P Writes) Matrix (us)",
				"P2P=Enabled Latency (P2P Writes) Host Enqueue Matrix (us)",
				"P2P=Enabled Latency (P2P Reads) Matrix (us)",
				"P2P=Enabled Latency (P2P Reads) Host Enqueue Matrix (us)",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			dir := t.TempDir()
			outputFile := filepath.Join(dir, "result.json")
			metricsFile := filepath.Join(dir, "p2p.prom")

			args := []string{
				"p2p-bandwidth-latency",
				"--" + spec.FlagBackend, spec.BackendSimulated,
				"--" + spec.FlagSimulatedDevices, "3",
				"--" + spec.FlagBandwidthElems, "4096",
				"--" + spec.FlagOutputFormat, spec.OutputFormatJSON,
				"--" + spec.FlagOutputFile, outputFile,
				"--" + spec.FlagMetricsTextfile, metricsFile,
			}
			err := newApp().Run(append(args, tc.args...))
			require.NoError(t, err)

			contents, err := os.ReadFile(outputFile)
			require.NoError(t, err)

			var document struct {
				Devices      []json.RawMessage `json:"devices"`
				Connectivity [][]int           `json:"connectivity"`
				Matrices     []struct {
					Title  string      `json:"title"`
					Values [][]float64 `json:"values"`
				} `json:"matrices"`
			}
			require.NoError(t, json.Unmarshal(contents, &document))
			require.Len(t, document.Devices, 3)
			require.Equal(t, [][]int{{1, 1, 1}, {1, 1, 1}, {1, 1, 1}}, document.Connectivity)

			var titles []string
			for _, m := range document.Matrices {
				titles = append(titles, m.Title)
				require.Len(t, m.Values, 3)
				for _, row := range m.Values {
					for _, v := range row {
						require.Greater(t, v, 0.0)
					}
				}
			}
			require.Equal(t, tc.expectedMatrices, titles)

			metrics, err := os.ReadFile(metricsFile)
			require.NoError(t, err)
			require.Contains(t, string(metrics), "p2p_bidirectional_bandwidth_gigabytes_per_second")
			require.Contains(t, string(metrics), "p2p_latency_microseconds")
		})
	}
}

func TestProgressEnabledByDefault(t *testing.T) {
	var progress *cli.BoolFlag
	for _, f := range newApp().Flags {
		if b, ok := f.(*cli.BoolFlag); ok && b.Name == spec.FlagProgress {
			progress = b
		}
	}
	require.NotNil(t, progress)
	require.True(t, progress.Value)

	config := &spec.Config{Version: spec.Version}
	config.SetDefaults()
	require.True(t, *config.Flags.Output.Progress)
}

func TestRunInvalidConfig(t *testing.T) {
	err := newApp().Run([]string{
		"p2p-bandwidth-latency",
		"--" + spec.FlagBackend, spec.BackendSimulated,
		"--" + spec.FlagTransferMode, "dma",
	})
	require.Error(t, err)
}
