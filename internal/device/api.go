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

// Runtime is the device-runtime surface the measurement engine is written
// against. Devices are addressed by their index in [0, DeviceCount()).
// Calls are not safe for concurrent use; a Runtime is driven from a single
// goroutine.
type Runtime interface {
	Init() error
	Shutdown() error

	DeviceCount() (int, error)
	Properties(dev int) (Properties, error)

	CanAccessPeer(dev int, peer int) (bool, error)
	EnablePeerAccess(dev int, peer int) error
	DisablePeerAccess(dev int, peer int) error
	PeerAccessEnabled(dev int, peer int) bool

	// Alloc returns a zero-initialized buffer of elems int32 elements on dev.
	Alloc(dev int, elems int) (Buffer, error)
	NewStream(dev int) (Stream, error)
	NewEvent(dev int) (Event, error)
	// AllocFlag returns a barrier flag in page-locked host memory that is
	// visible to every device.
	AllocFlag() (Flag, error)

	// MemcpyPeerAsync enqueues a copy of elems elements from src to dst.
	MemcpyPeerAsync(dst Buffer, src Buffer, elems int, stream Stream) error
	// CopyOccupancy returns the grid and block size that maximise occupancy
	// of the copy kernel on dev.
	CopyOccupancy(dev int) (grid int, block int, err error)
	// LaunchCopy enqueues the copy kernel over chunks 16-byte chunks.
	LaunchCopy(dst Buffer, src Buffer, chunks int, grid int, block int, stream Stream) error
	// LaunchDelay enqueues the spin-wait kernel that holds stream until flag
	// is released or timeoutCycles device clocks elapse.
	LaunchDelay(flag Flag, timeoutCycles uint64, stream Stream) error

	ElapsedTime(start Event, stop Event) (float32, error)
}

// Properties holds informational attributes of a device.
type Properties struct {
	Name         string `json:"name"         yaml:"name"`
	PCIBusID     int    `json:"pciBusID"     yaml:"pciBusID"`
	PCIDeviceID  int    `json:"pciDeviceID"  yaml:"pciDeviceID"`
	PCIDomainID  int    `json:"pciDomainID"  yaml:"pciDomainID"`
	ClockRateKHz int    `json:"clockRateKHz" yaml:"clockRateKHz"`
}

// Buffer is device-resident memory owned by the device it was allocated on.
type Buffer interface {
	Device() int
	Len() int
	Free() error
}

// Stream is an asynchronous command queue of a device.
type Stream interface {
	Device() int
	// Synchronize blocks until all work enqueued on the stream has completed.
	Synchronize() error
	// WaitEvent makes work enqueued after this call wait for event.
	WaitEvent(event Event) error
	Destroy() error
}

// Event is a timestamp recorded into a stream.
type Event interface {
	Device() int
	Record(stream Stream) error
	Destroy() error
}

// Flag is a host/device shared word used to release a spin-wait.
type Flag interface {
	// Reset sets the flag to hold and clears the timeout indicator.
	Reset()
	// Release raises the flag, letting a waiting spin-wait return.
	Release()
	// TimedOut reports whether a spin-wait gave up before Release.
	TimedOut() bool
	Free() error
}

// elementSize is the size in bytes of the int32 elements every buffer holds.
const elementSize = 4
