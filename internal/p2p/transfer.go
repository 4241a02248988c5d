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

	spec "github.com/NVIDIA/p2p-bandwidth-latency-test/api/config/v1"
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// Path identifies how a transfer was issued.
type Path int

// Constants representing the transfer paths
const (
	// PathCopyEngine is the driver peer memcpy. Without peer access the
	// driver stages it through host memory.
	PathCopyEngine Path = iota
	// PathKernel is the copy kernel run by the executing device.
	PathKernel
)

func (p Path) String() string {
	switch p {
	case PathCopyEngine:
		return "copy-engine"
	case PathKernel:
		return "kernel"
	}
	return fmt.Sprintf("Path(%d)", int(p))
}

// MarshalText encodes the path by name.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a path from its name.
func (p *Path) UnmarshalText(text []byte) error {
	switch string(text) {
	case "copy-engine":
		*p = PathCopyEngine
	case "kernel":
		*p = PathKernel
	default:
		return fmt.Errorf("unknown transfer path %q", text)
	}
	return nil
}

// copyChunkElems is the number of int32 elements the copy kernel moves per thread iteration.
const copyChunkElems = spec.KernelCopyElems

// TransferEngine enqueues repeated copies between two device buffers.
type TransferEngine struct {
	rt   device.Runtime
	mode spec.TransferMode
}

// NewTransferEngine returns an engine issuing copies in the given mode.
func NewTransferEngine(rt device.Runtime, mode spec.TransferMode) *TransferEngine {
	return &TransferEngine{
		rt:   rt,
		mode: mode,
	}
}

// Transfer enqueues repeat copies of elems elements from src to dst on
// stream and returns without waiting for them. The copy kernel is only used
// in kernel mode when peer access is available; every other case goes
// through the copy engine.
func (e *TransferEngine) Transfer(dst device.Buffer, src device.Buffer, elems int, repeat int, peerAccess bool, stream device.Stream) (Path, error) {
	if dst.Len() < elems || src.Len() < elems {
		return 0, fmt.Errorf("transfer of %d elements exceeds buffer size (dst %d, src %d)", elems, dst.Len(), src.Len())
	}

	if e.mode == spec.TransferModeKernel && peerAccess {
		grid, block, err := e.rt.CopyOccupancy(stream.Device())
		if err != nil {
			return 0, fmt.Errorf("error querying copy kernel occupancy: %w", err)
		}
		for r := 0; r < repeat; r++ {
			err := e.rt.LaunchCopy(dst, src, elems/copyChunkElems, grid, block, stream)
			if err != nil {
				return 0, fmt.Errorf("error launching copy from device %d to %d: %w", src.Device(), dst.Device(), err)
			}
		}
		return PathKernel, nil
	}

	for r := 0; r < repeat; r++ {
		if err := e.rt.MemcpyPeerAsync(dst, src, elems, stream); err != nil {
			return 0, fmt.Errorf("error copying from device %d to %d: %w", src.Device(), dst.Device(), err)
		}
	}
	return PathCopyEngine, nil
}
