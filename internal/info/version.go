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

package info

import "strings"

// version is set at link time with -ldflags "-X github.com/NVIDIA/p2p-bandwidth-latency-test/internal/info.version=...".
var version = "unknown"

// gitCommit is the hash that the binary was built from and is set the same way.
var gitCommit = ""

// Build identifies the binary that produced a set of measurements.
type Build struct {
	Version string `json:"version"          yaml:"version"`
	Commit  string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// GetBuild returns the version and commit of the running binary.
func GetBuild() Build {
	return Build{
		Version: version,
		Commit:  gitCommit,
	}
}

// GetVersionParts returns the different version components
func GetVersionParts() []string {
	b := GetBuild()
	v := []string{b.Version}

	if b.Commit != "" {
		v = append(v, "commit: "+b.Commit)
	}

	return v
}

// GetVersionString returns the string representation of the version
func GetVersionString(more ...string) string {
	v := append(GetVersionParts(), more...)
	return strings.Join(v, "\n")
}
