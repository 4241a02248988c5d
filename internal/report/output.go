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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
	"sigs.k8s.io/yaml"

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
)

// Outputer defines a mechanism to output results.
type Outputer interface {
	Output(*Result) error
}

// formatter renders a result to a writer.
type formatter func(io.Writer, *Result) error

// NewOutputer returns an outputer for the format and destination in config.
// Results go to stdout unless an output file is set.
func NewOutputer(config *spec.Config) (Outputer, error) {
	format, err := newFormatter(*config.Flags.Output.Format)
	if err != nil {
		return nil, err
	}
	return ToFile(*config.Flags.Output.File, format), nil
}

func newFormatter(format string) (formatter, error) {
	switch format {
	case spec.OutputFormatTable:
		return writeTable, nil
	case spec.OutputFormatJSON:
		return writeJSON, nil
	case spec.OutputFormatYAML:
		return writeYAML, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// ToFile returns an outputer writing to path, or to stdout if path is empty.
func ToFile(path string, format formatter) Outputer {
	if path == "" {
		return &toWriter{os.Stdout, format}
	}

	return &toFile{path, format}
}

// toFile writes to the specified file.
type toFile struct {
	path   string
	format formatter
}

// toWriter writes to the specified writer
type toWriter struct {
	io.Writer
	format formatter
}

func (o *toFile) Output(r *Result) error {
	klog.Infof("Writing results to output file %v", o.path)

	buffer := new(bytes.Buffer)
	output := &toWriter{buffer, o.format}
	if err := output.Output(r); err != nil {
		return fmt.Errorf("error writing results to buffer: %v", err)
	}
	err := writeFileAtomically(o.path, buffer.Bytes(), 0644)
	if err != nil {
		return fmt.Errorf("error atomically writing file '%s': %w", o.path, err)
	}
	return nil
}

func (o *toWriter) Output(r *Result) error {
	return o.format(o.Writer, r)
}

func writeJSON(w io.Writer, r *Result) error {
	out, err := json.MarshalIndent(newDocument(r), "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling results: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

func writeYAML(w io.Writer, r *Result) error {
	out, err := yaml.Marshal(newDocument(r))
	if err != nil {
		return fmt.Errorf("error marshaling results: %w", err)
	}
	_, err = w.Write(out)
	return err
}

func writeFileAtomically(path string, contents []byte, perm os.FileMode) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to retrieve absolute path of output file: %v", err)
	}

	absDir := filepath.Dir(absPath)
	tmpDir := filepath.Join(absDir, "p2p-tmp")

	err = os.MkdirAll(tmpDir, os.ModePerm)
	if err != nil && !os.IsExist(err) {
		return fmt.Errorf("failed to create temporary directory: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile, err := os.CreateTemp(tmpDir, "p2p-")
	if err != nil {
		return fmt.Errorf("fail to create temporary output file: %v", err)
	}
	defer tmpFile.Close()

	if _, err := tmpFile.Write(contents); err != nil {
		return fmt.Errorf("error writing temporary file '%v': %v", tmpFile.Name(), err)
	}
	if err := tmpFile.Chmod(perm); err != nil {
		return fmt.Errorf("error setting permissions on '%v': %v", tmpFile.Name(), err)
	}

	if err := os.Rename(tmpFile.Name(), absPath); err != nil {
		return fmt.Errorf("error moving temporary file to '%v': %v", path, err)
	}

	return nil
}
