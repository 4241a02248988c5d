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
	"unsafe"
)

/*
#cgo LDFLAGS: -Wl,--unresolved-symbols=ignore-in-object-files

#include <stddef.h>
#include <stdlib.h>

#ifdef _WIN32
#define CUDAAPI __stdcall
#else
#define CUDAAPI
#endif

typedef int CUdevice;
typedef int CUresult;
typedef int CUdevice_attribute;
typedef unsigned long long CUdeviceptr;
typedef struct CUctx_st *CUcontext;
typedef struct CUstream_st *CUstream;
typedef struct CUevent_st *CUevent;
typedef struct CUmod_st *CUmodule;
typedef struct CUfunc_st *CUfunction;
typedef size_t (CUDAAPI *CUoccupancyB2DSize)(int blockSize);

CUresult CUDAAPI cuInit(unsigned int Flags);
CUresult CUDAAPI cuDriverGetVersion(int *driverVersion);
CUresult CUDAAPI cuGetErrorString(CUresult error, const char **pStr);
CUresult CUDAAPI cuDeviceGet(CUdevice *device, int ordinal);
CUresult CUDAAPI cuDeviceGetAttribute(int *pi, CUdevice_attribute attrib, CUdevice dev);
CUresult CUDAAPI cuDeviceGetCount(int *count);
CUresult CUDAAPI cuDeviceTotalMem_v2(size_t *bytes, CUdevice dev);
CUresult CUDAAPI cuDeviceGetName(char *name, int len, CUdevice dev);
CUresult CUDAAPI cuDeviceCanAccessPeer(int *canAccessPeer, CUdevice dev, CUdevice peerDev);
CUresult CUDAAPI cuDevicePrimaryCtxRetain(CUcontext *pctx, CUdevice dev);
CUresult CUDAAPI cuDevicePrimaryCtxRelease_v2(CUdevice dev);
CUresult CUDAAPI cuCtxSetCurrent(CUcontext ctx);
CUresult CUDAAPI cuCtxEnablePeerAccess(CUcontext peerContext, unsigned int Flags);
CUresult CUDAAPI cuCtxDisablePeerAccess(CUcontext peerContext);
CUresult CUDAAPI cuMemAlloc_v2(CUdeviceptr *dptr, size_t bytesize);
CUresult CUDAAPI cuMemFree_v2(CUdeviceptr dptr);
CUresult CUDAAPI cuMemsetD32_v2(CUdeviceptr dstDevice, unsigned int ui, size_t N);
CUresult CUDAAPI cuMemHostAlloc(void **pp, size_t bytesize, unsigned int Flags);
CUresult CUDAAPI cuMemFreeHost(void *p);
CUresult CUDAAPI cuMemHostGetDevicePointer_v2(CUdeviceptr *pdptr, void *p, unsigned int Flags);
CUresult CUDAAPI cuMemcpyPeerAsync(CUdeviceptr dstDevice, CUcontext dstContext, CUdeviceptr srcDevice, CUcontext srcContext, size_t ByteCount, CUstream hStream);
CUresult CUDAAPI cuStreamCreate(CUstream *phStream, unsigned int Flags);
CUresult CUDAAPI cuStreamDestroy_v2(CUstream hStream);
CUresult CUDAAPI cuStreamSynchronize(CUstream hStream);
CUresult CUDAAPI cuStreamWaitEvent(CUstream hStream, CUevent hEvent, unsigned int Flags);
CUresult CUDAAPI cuEventCreate(CUevent *phEvent, unsigned int Flags);
CUresult CUDAAPI cuEventDestroy_v2(CUevent hEvent);
CUresult CUDAAPI cuEventRecord(CUevent hEvent, CUstream hStream);
CUresult CUDAAPI cuEventElapsedTime(float *pMilliseconds, CUevent hStart, CUevent hEnd);
CUresult CUDAAPI cuModuleLoadData(CUmodule *module, const void *image);
CUresult CUDAAPI cuModuleUnload(CUmodule hmod);
CUresult CUDAAPI cuModuleGetFunction(CUfunction *hfunc, CUmodule hmod, const char *name);
CUresult CUDAAPI cuOccupancyMaxPotentialBlockSize(int *minGridSize, int *blockSize, CUfunction func, CUoccupancyB2DSize blockSizeToDynamicSMemSize, size_t dynamicSMemSize, int blockSizeLimit);
CUresult CUDAAPI cuLaunchKernel(CUfunction f, unsigned int gridDimX, unsigned int gridDimY, unsigned int gridDimZ, unsigned int blockDimX, unsigned int blockDimY, unsigned int blockDimZ, unsigned int sharedMemBytes, CUstream hStream, void **kernelParams, void **extra);

// Kernel arguments are marshalled on the C side so that no Go pointers are
// handed to the driver.
static CUresult launchDelay(CUfunction f, CUstream s, CUdeviceptr flag, unsigned long long timeout) {
	void *args[] = { &flag, &timeout };
	return cuLaunchKernel(f, 1, 1, 1, 1, 1, 1, 0, s, args, NULL);
}

static CUresult launchCopy(CUfunction f, unsigned int grid, unsigned int block, CUstream s, CUdeviceptr dst, CUdeviceptr src, size_t n) {
	void *args[] = { &dst, &src, &n };
	return cuLaunchKernel(f, grid, 1, 1, block, 1, 1, 0, s, args, NULL);
}
*/
import "C"

// Context represents a CUcontext handle
type Context struct{ h C.CUcontext }

// Stream represents a CUstream handle
type Stream struct{ h C.CUstream }

// Event represents a CUevent handle
type Event struct{ h C.CUevent }

// Module represents a CUmodule handle
type Module struct{ h C.CUmodule }

// Function represents a CUfunction handle
type Function struct{ h C.CUfunction }

// HostPtr is page-locked host memory returned by cuMemHostAlloc
type HostPtr unsafe.Pointer

// cuInit function as declared in cuda.h
func cuInit(flags uint32) Result {
	return Result(C.cuInit(C.uint(flags)))
}

// cuDriverGetVersion function as declared in cuda.h
func cuDriverGetVersion(version *int32) Result {
	return Result(C.cuDriverGetVersion((*C.int)(version)))
}

// cuGetErrorString function as declared in cuda.h
func cuGetErrorString(r Result) (string, Result) {
	var cStr *C.char
	ret := Result(C.cuGetErrorString(C.CUresult(r), &cStr))
	if ret != SUCCESS || cStr == nil {
		return "", ret
	}
	return C.GoString(cStr), ret
}

// cuDeviceGet function as declared in cuda.h
func cuDeviceGet(device *Device, index int32) Result {
	cDevice := (*C.CUdevice)(unsafe.Pointer(device))
	return Result(C.cuDeviceGet(cDevice, C.int(index)))
}

// cuDeviceGetAttribute function as declared in cuda.h
func cuDeviceGetAttribute(value *int32, attribute DeviceAttribute, dev Device) Result {
	cValue := (*C.int)(unsafe.Pointer(value))
	return Result(C.cuDeviceGetAttribute(cValue, C.CUdevice_attribute(attribute), C.CUdevice(dev)))
}

// cuDeviceGetCount function as declared in cuda.h
func cuDeviceGetCount(count *int32) Result {
	return Result(C.cuDeviceGetCount((*C.int)(unsafe.Pointer(count))))
}

// cuDeviceTotalMem function as declared in cuda.h
func cuDeviceTotalMem(bytes *uint64, dev Device) Result {
	cBytes := (*C.size_t)(unsafe.Pointer(bytes))
	return Result(C.cuDeviceTotalMem_v2(cBytes, C.CUdevice(dev)))
}

// cuDeviceGetName function as declared in cuda.h
func cuDeviceGetName(name *byte, len int32, dev Device) Result {
	cName := (*C.char)(unsafe.Pointer(name))
	return Result(C.cuDeviceGetName(cName, C.int(len), C.CUdevice(dev)))
}

// cuDeviceCanAccessPeer function as declared in cuda.h
func cuDeviceCanAccessPeer(canAccess *int32, dev Device, peer Device) Result {
	cCanAccess := (*C.int)(unsafe.Pointer(canAccess))
	return Result(C.cuDeviceCanAccessPeer(cCanAccess, C.CUdevice(dev), C.CUdevice(peer)))
}

// cuDevicePrimaryCtxRetain function as declared in cuda.h
func cuDevicePrimaryCtxRetain(ctx *Context, dev Device) Result {
	return Result(C.cuDevicePrimaryCtxRetain(&ctx.h, C.CUdevice(dev)))
}

// cuDevicePrimaryCtxRelease function as declared in cuda.h
func cuDevicePrimaryCtxRelease(dev Device) Result {
	return Result(C.cuDevicePrimaryCtxRelease_v2(C.CUdevice(dev)))
}

// cuCtxSetCurrent function as declared in cuda.h
func cuCtxSetCurrent(ctx Context) Result {
	return Result(C.cuCtxSetCurrent(ctx.h))
}

// cuCtxEnablePeerAccess function as declared in cuda.h
func cuCtxEnablePeerAccess(peer Context, flags uint32) Result {
	return Result(C.cuCtxEnablePeerAccess(peer.h, C.uint(flags)))
}

// cuCtxDisablePeerAccess function as declared in cuda.h
func cuCtxDisablePeerAccess(peer Context) Result {
	return Result(C.cuCtxDisablePeerAccess(peer.h))
}

// cuMemAlloc function as declared in cuda.h
func cuMemAlloc(ptr *DevicePtr, bytes uint64) Result {
	cPtr := (*C.CUdeviceptr)(unsafe.Pointer(ptr))
	return Result(C.cuMemAlloc_v2(cPtr, C.size_t(bytes)))
}

// cuMemFree function as declared in cuda.h
func cuMemFree(ptr DevicePtr) Result {
	return Result(C.cuMemFree_v2(C.CUdeviceptr(ptr)))
}

// cuMemsetD32 function as declared in cuda.h
func cuMemsetD32(ptr DevicePtr, value uint32, n uint64) Result {
	return Result(C.cuMemsetD32_v2(C.CUdeviceptr(ptr), C.uint(value), C.size_t(n)))
}

// cuMemHostAlloc function as declared in cuda.h
func cuMemHostAlloc(p *HostPtr, bytes uint64, flags uint32) Result {
	return Result(C.cuMemHostAlloc((*unsafe.Pointer)(unsafe.Pointer(p)), C.size_t(bytes), C.uint(flags)))
}

// cuMemFreeHost function as declared in cuda.h
func cuMemFreeHost(p HostPtr) Result {
	return Result(C.cuMemFreeHost(unsafe.Pointer(p)))
}

// cuMemHostGetDevicePointer function as declared in cuda.h
func cuMemHostGetDevicePointer(ptr *DevicePtr, p HostPtr) Result {
	cPtr := (*C.CUdeviceptr)(unsafe.Pointer(ptr))
	return Result(C.cuMemHostGetDevicePointer_v2(cPtr, unsafe.Pointer(p), 0))
}

// cuMemcpyPeerAsync function as declared in cuda.h
func cuMemcpyPeerAsync(dst DevicePtr, dstCtx Context, src DevicePtr, srcCtx Context, bytes uint64, stream Stream) Result {
	return Result(C.cuMemcpyPeerAsync(C.CUdeviceptr(dst), dstCtx.h, C.CUdeviceptr(src), srcCtx.h, C.size_t(bytes), stream.h))
}

// cuStreamCreate function as declared in cuda.h
func cuStreamCreate(stream *Stream, flags uint32) Result {
	return Result(C.cuStreamCreate(&stream.h, C.uint(flags)))
}

// cuStreamDestroy function as declared in cuda.h
func cuStreamDestroy(stream Stream) Result {
	return Result(C.cuStreamDestroy_v2(stream.h))
}

// cuStreamSynchronize function as declared in cuda.h
func cuStreamSynchronize(stream Stream) Result {
	return Result(C.cuStreamSynchronize(stream.h))
}

// cuStreamWaitEvent function as declared in cuda.h
func cuStreamWaitEvent(stream Stream, event Event) Result {
	return Result(C.cuStreamWaitEvent(stream.h, event.h, 0))
}

// cuEventCreate function as declared in cuda.h
func cuEventCreate(event *Event, flags uint32) Result {
	return Result(C.cuEventCreate(&event.h, C.uint(flags)))
}

// cuEventDestroy function as declared in cuda.h
func cuEventDestroy(event Event) Result {
	return Result(C.cuEventDestroy_v2(event.h))
}

// cuEventRecord function as declared in cuda.h
func cuEventRecord(event Event, stream Stream) Result {
	return Result(C.cuEventRecord(event.h, stream.h))
}

// cuEventElapsedTime function as declared in cuda.h
func cuEventElapsedTime(ms *float32, start Event, end Event) Result {
	return Result(C.cuEventElapsedTime((*C.float)(unsafe.Pointer(ms)), start.h, end.h))
}

// cuModuleLoadData function as declared in cuda.h
func cuModuleLoadData(module *Module, image string) Result {
	cImage := C.CString(image)
	defer C.free(unsafe.Pointer(cImage))
	return Result(C.cuModuleLoadData(&module.h, unsafe.Pointer(cImage)))
}

// cuModuleUnload function as declared in cuda.h
func cuModuleUnload(module Module) Result {
	return Result(C.cuModuleUnload(module.h))
}

// cuModuleGetFunction function as declared in cuda.h
func cuModuleGetFunction(function *Function, module Module, name string) Result {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	return Result(C.cuModuleGetFunction(&function.h, module.h, cName))
}

// cuOccupancyMaxPotentialBlockSize function as declared in cuda.h
func cuOccupancyMaxPotentialBlockSize(minGridSize *int32, blockSize *int32, function Function) Result {
	cMinGridSize := (*C.int)(unsafe.Pointer(minGridSize))
	cBlockSize := (*C.int)(unsafe.Pointer(blockSize))
	return Result(C.cuOccupancyMaxPotentialBlockSize(cMinGridSize, cBlockSize, function.h, nil, 0, 0))
}

func launchDelay(function Function, stream Stream, flag DevicePtr, timeout uint64) Result {
	return Result(C.launchDelay(function.h, stream.h, C.CUdeviceptr(flag), C.ulonglong(timeout)))
}

func launchCopy(function Function, grid uint32, block uint32, stream Stream, dst DevicePtr, src DevicePtr, n uint64) Result {
	return Result(C.launchCopy(function.h, C.uint(grid), C.uint(block), stream.h, C.CUdeviceptr(dst), C.CUdeviceptr(src), C.size_t(n)))
}
