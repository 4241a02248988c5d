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

package cuda

import (
	"fmt"
	"unsafe"

	"github.com/NVIDIA/go-nvml/pkg/dl"
)

const (
	libraryName      = "libcuda.so.1"
	libraryLoadFlags = dl.RTLD_LAZY | dl.RTLD_GLOBAL
)

// cuda stores a reference the cuda dynamic library
var cuda *dl.DynamicLibrary

// Init calls cuInit and initialized the library
func Init() Result {
	lib := dl.New(libraryName, libraryLoadFlags)
	if err := lib.Open(); err != nil {
		return ERROR_UNKNOWN
	}
	cuda = lib

	if err := cuda.Lookup("cuInit"); err != nil {
		return ERROR_UNKNOWN
	}

	return cuInit(0)
}

// Shutdown ensures that the CUDA library is unloaded.
func Shutdown() Result {
	if cuda == nil {
		return SUCCESS
	}
	if err := cuda.Close(); err != nil {
		return ERROR_UNKNOWN
	}
	cuda = nil
	return SUCCESS
}

// Error returns the driver's description of the result.
func (r Result) Error() string {
	if cuda != nil {
		if s, ret := cuGetErrorString(r); ret == SUCCESS {
			return s
		}
	}
	return fmt.Sprintf("CUresult(%d)", int32(r))
}

// DriverGetVersion returns the driver version as an int.
func DriverGetVersion() (int, Result) {
	var version int32
	r := cuDriverGetVersion(&version)

	return int(version), r
}

// DeviceGet returns the device with the specified index.
func DeviceGet(index int) (Device, Result) {
	var device Device
	r := cuDeviceGet(&device, int32(index))

	return device, r
}

// DeviceGetCount returns the number of CUDA-capable devices available
func DeviceGetCount() (int, Result) {
	var count int32
	r := cuDeviceGetCount(&count)
	return int(count), r
}

// GetAttribute returns the specified attribute for the device.
func (device Device) GetAttribute(attribute DeviceAttribute) (int, Result) {
	var value int32
	r := cuDeviceGetAttribute(&value, attribute, device)
	return int(value), r
}

// GetName returns the name of the device.
func (device Device) GetName() (string, Result) {
	len := int32(96)
	name := make([]byte, len)

	r := cuDeviceGetName(&name[0], len, device)

	return string(name[:clen(name)]), r
}

// TotalMem returns the total memory of the device.
func (device Device) TotalMem() (uint64, Result) {
	var bytes uint64
	r := cuDeviceTotalMem(&bytes, device)

	return bytes, r
}

// CanAccessPeer reports whether the device can directly access memory on peer.
func (device Device) CanAccessPeer(peer Device) (bool, Result) {
	var access int32
	r := cuDeviceCanAccessPeer(&access, device, peer)
	return access != 0, r
}

// PrimaryCtxRetain retains the primary context of the device.
func (device Device) PrimaryCtxRetain() (Context, Result) {
	var ctx Context
	r := cuDevicePrimaryCtxRetain(&ctx, device)
	return ctx, r
}

// PrimaryCtxRelease releases the primary context of the device.
func (device Device) PrimaryCtxRelease() Result {
	return cuDevicePrimaryCtxRelease(device)
}

// SetCurrent binds the context to the calling OS thread.
func (ctx Context) SetCurrent() Result {
	return cuCtxSetCurrent(ctx)
}

// EnablePeerAccess allows the current context to access memory of peer.
func EnablePeerAccess(peer Context) Result {
	return cuCtxEnablePeerAccess(peer, 0)
}

// DisablePeerAccess revokes access of the current context to memory of peer.
func DisablePeerAccess(peer Context) Result {
	return cuCtxDisablePeerAccess(peer)
}

// MemAlloc allocates device memory in the current context.
func MemAlloc(bytes uint64) (DevicePtr, Result) {
	var ptr DevicePtr
	r := cuMemAlloc(&ptr, bytes)
	return ptr, r
}

// MemFree frees device memory.
func MemFree(ptr DevicePtr) Result {
	return cuMemFree(ptr)
}

// MemsetD32 sets n 32-bit words at ptr to value.
func MemsetD32(ptr DevicePtr, value uint32, n uint64) Result {
	return cuMemsetD32(ptr, value, n)
}

// MemHostAlloc allocates page-locked host memory.
func MemHostAlloc(bytes uint64, flags uint32) (HostPtr, Result) {
	var p HostPtr
	r := cuMemHostAlloc(&p, bytes, flags)
	return p, r
}

// MemFreeHost frees memory returned by MemHostAlloc.
func MemFreeHost(p HostPtr) Result {
	return cuMemFreeHost(p)
}

// MemHostGetDevicePointer returns the device address of mapped host memory.
func MemHostGetDevicePointer(p HostPtr) (DevicePtr, Result) {
	var ptr DevicePtr
	r := cuMemHostGetDevicePointer(&ptr, p)
	return ptr, r
}

// Words views n 32-bit words of page-locked host memory.
func (p HostPtr) Words(n int) []uint32 {
	return unsafe.Slice((*uint32)(unsafe.Pointer(p)), n)
}

// MemcpyPeerAsync enqueues a copy between memory of two contexts.
func MemcpyPeerAsync(dst DevicePtr, dstCtx Context, src DevicePtr, srcCtx Context, bytes uint64, stream Stream) Result {
	return cuMemcpyPeerAsync(dst, dstCtx, src, srcCtx, bytes, stream)
}

// StreamCreate creates a stream in the current context.
func StreamCreate(flags uint32) (Stream, Result) {
	var stream Stream
	r := cuStreamCreate(&stream, flags)
	return stream, r
}

// Destroy destroys the stream.
func (stream Stream) Destroy() Result {
	return cuStreamDestroy(stream)
}

// Synchronize blocks until all work on the stream has completed.
func (stream Stream) Synchronize() Result {
	return cuStreamSynchronize(stream)
}

// WaitEvent makes future work on the stream wait for event.
func (stream Stream) WaitEvent(event Event) Result {
	return cuStreamWaitEvent(stream, event)
}

// EventCreate creates an event in the current context.
func EventCreate(flags uint32) (Event, Result) {
	var event Event
	r := cuEventCreate(&event, flags)
	return event, r
}

// Destroy destroys the event.
func (event Event) Destroy() Result {
	return cuEventDestroy(event)
}

// Record captures the event in stream.
func (event Event) Record(stream Stream) Result {
	return cuEventRecord(event, stream)
}

// EventElapsedTime returns the milliseconds elapsed between two recorded events.
func EventElapsedTime(start Event, end Event) (float32, Result) {
	var ms float32
	r := cuEventElapsedTime(&ms, start, end)
	return ms, r
}

// ModuleLoadData loads a PTX or cubin image into the current context.
func ModuleLoadData(image string) (Module, Result) {
	var module Module
	r := cuModuleLoadData(&module, image)
	return module, r
}

// Unload unloads the module.
func (module Module) Unload() Result {
	return cuModuleUnload(module)
}

// GetFunction returns the kernel with the given name.
func (module Module) GetFunction(name string) (Function, Result) {
	var function Function
	r := cuModuleGetFunction(&function, module, name)
	return function, r
}

// OccupancyMaxPotentialBlockSize returns the minimum grid size for full
// occupancy and the block size achieving it.
func (function Function) OccupancyMaxPotentialBlockSize() (int, int, Result) {
	var minGridSize, blockSize int32
	r := cuOccupancyMaxPotentialBlockSize(&minGridSize, &blockSize, function)
	return int(minGridSize), int(blockSize), r
}

// LaunchDelay launches the spin-wait kernel on a single thread.
func LaunchDelay(function Function, stream Stream, flag DevicePtr, timeoutClocks uint64) Result {
	return launchDelay(function, stream, flag, timeoutClocks)
}

// LaunchCopy launches the int4 copy kernel over n 16-byte chunks.
func LaunchCopy(function Function, grid int, block int, stream Stream, dst DevicePtr, src DevicePtr, n uint64) Result {
	return launchCopy(function, uint32(grid), uint32(block), stream, dst, src, n)
}

// clen returns the length of a NUL-terminated byte slice
func clen(n []byte) int {
	for i := 0; i < len(n); i++ {
		if n[i] == 0 {
			return i
		}
	}
	return len(n)
}
