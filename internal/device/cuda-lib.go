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

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
)

type cudaLib struct {
	devices   []cuda.Device
	contexts  []cuda.Context
	modules   []cuda.Module
	delayFn   []cuda.Function
	copyFn    []cuda.Function
	current   int
	enabled   map[[2]int]bool
	initDone  bool
	releasers []func() error
}

var _ Runtime = (*cudaLib)(nil)

// NewCudaRuntime returns a Runtime backed by the CUDA driver API.
func NewCudaRuntime() Runtime {
	return &cudaLib{
		current: -1,
		enabled: make(map[[2]int]bool),
	}
}

// Init loads the driver, retains the primary context of every device and
// loads the kernels into each of them. The calling goroutine is locked to its
// OS thread until Shutdown because the current context is per thread.
func (l *cudaLib) Init() (err error) {
	goruntime.LockOSThread()
	defer func() {
		if err != nil {
			if rerr := l.release(); rerr != nil {
				klog.Warningf("Failed to release partially initialized CUDA runtime: %v", rerr)
			}
			goruntime.UnlockOSThread()
		}
	}()

	if err := check("cuInit", cuda.Init()); err != nil {
		return err
	}
	l.releasers = append(l.releasers, func() error { return check("cuda.Shutdown", cuda.Shutdown()) })

	count, r := cuda.DeviceGetCount()
	if err := check("cuDeviceGetCount", r); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		d, r := cuda.DeviceGet(i)
		if err := check("cuDeviceGet", r); err != nil {
			return err
		}
		ctx, r := d.PrimaryCtxRetain()
		if err := check("cuDevicePrimaryCtxRetain", r); err != nil {
			return err
		}
		l.releasers = append(l.releasers, func() error { return check("cuDevicePrimaryCtxRelease", d.PrimaryCtxRelease()) })
		l.devices = append(l.devices, d)
		l.contexts = append(l.contexts, ctx)

		if err := l.setCurrent(i); err != nil {
			return err
		}
		module, r := cuda.ModuleLoadData(cuda.KernelsPTX)
		if err := check("cuModuleLoadData", r); err != nil {
			return err
		}
		l.releasers = append(l.releasers, func() error { return check("cuModuleUnload", module.Unload()) })
		delayFn, r := module.GetFunction(cuda.DelayKernel)
		if err := check("cuModuleGetFunction", r); err != nil {
			return err
		}
		copyFn, r := module.GetFunction(cuda.CopyKernel)
		if err := check("cuModuleGetFunction", r); err != nil {
			return err
		}
		l.modules = append(l.modules, module)
		l.delayFn = append(l.delayFn, delayFn)
		l.copyFn = append(l.copyFn, copyFn)
	}

	l.initDone = true
	return nil
}

// Shutdown unloads the kernels, releases the contexts and the driver.
func (l *cudaLib) Shutdown() error {
	if !l.initDone {
		return nil
	}
	defer goruntime.UnlockOSThread()
	l.initDone = false
	return l.release()
}

// release runs the recorded releasers in reverse acquisition order.
func (l *cudaLib) release() error {
	var errs []error
	for i := len(l.releasers) - 1; i >= 0; i-- {
		if err := l.releasers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	l.releasers = nil
	l.devices, l.contexts, l.modules, l.delayFn, l.copyFn = nil, nil, nil, nil, nil
	l.current = -1
	return errors.Join(errs...)
}

func (l *cudaLib) setCurrent(dev int) error {
	if dev < 0 || dev >= len(l.contexts) {
		return fmt.Errorf("invalid device index %d", dev)
	}
	if l.current == dev {
		return nil
	}
	if err := check("cuCtxSetCurrent", l.contexts[dev].SetCurrent()); err != nil {
		return err
	}
	l.current = dev
	return nil
}

// DeviceCount returns the number of devices retained by Init.
func (l *cudaLib) DeviceCount() (int, error) {
	return len(l.devices), nil
}

// Properties returns the name, PCI location and clock rate of a device.
func (l *cudaLib) Properties(dev int) (Properties, error) {
	if dev < 0 || dev >= len(l.devices) {
		return Properties{}, fmt.Errorf("invalid device index %d", dev)
	}
	d := l.devices[dev]

	name, r := d.GetName()
	if err := check("cuDeviceGetName", r); err != nil {
		return Properties{}, err
	}
	props := Properties{Name: name}

	attributes := []struct {
		attribute cuda.DeviceAttribute
		value     *int
	}{
		{cuda.PCI_BUS_ID, &props.PCIBusID},
		{cuda.PCI_DEVICE_ID, &props.PCIDeviceID},
		{cuda.PCI_DOMAIN_ID, &props.PCIDomainID},
		{cuda.CLOCK_RATE, &props.ClockRateKHz},
	}
	for _, a := range attributes {
		v, r := d.GetAttribute(a.attribute)
		if err := check("cuDeviceGetAttribute", r); err != nil {
			return Properties{}, err
		}
		*a.value = v
	}

	return props, nil
}

func (l *cudaLib) checkPair(dev int, peer int) error {
	if dev < 0 || dev >= len(l.devices) || peer < 0 || peer >= len(l.devices) {
		return fmt.Errorf("invalid device pair (%d, %d)", dev, peer)
	}
	return nil
}

// CanAccessPeer queries whether dev can directly access memory on peer.
func (l *cudaLib) CanAccessPeer(dev int, peer int) (bool, error) {
	if err := l.checkPair(dev, peer); err != nil {
		return false, err
	}
	access, r := l.devices[dev].CanAccessPeer(l.devices[peer])
	if err := check("cuDeviceCanAccessPeer", r); err != nil {
		return false, err
	}
	return access, nil
}

// EnablePeerAccess allows dev to access memory on peer.
func (l *cudaLib) EnablePeerAccess(dev int, peer int) error {
	if err := l.checkPair(dev, peer); err != nil {
		return err
	}
	if err := l.setCurrent(dev); err != nil {
		return err
	}
	if err := check("cuCtxEnablePeerAccess", cuda.EnablePeerAccess(l.contexts[peer])); err != nil {
		return err
	}
	l.enabled[[2]int{dev, peer}] = true
	return nil
}

// DisablePeerAccess revokes access of dev to memory on peer.
func (l *cudaLib) DisablePeerAccess(dev int, peer int) error {
	if err := l.checkPair(dev, peer); err != nil {
		return err
	}
	if err := l.setCurrent(dev); err != nil {
		return err
	}
	if err := check("cuCtxDisablePeerAccess", cuda.DisablePeerAccess(l.contexts[peer])); err != nil {
		return err
	}
	delete(l.enabled, [2]int{dev, peer})
	return nil
}

// PeerAccessEnabled reports whether access from dev to peer was enabled through this runtime.
func (l *cudaLib) PeerAccessEnabled(dev int, peer int) bool {
	return l.enabled[[2]int{dev, peer}]
}

type cudaBuffer struct {
	lib   *cudaLib
	dev   int
	ptr   cuda.DevicePtr
	elems int
}

func (b *cudaBuffer) Device() int { return b.dev }
func (b *cudaBuffer) Len() int    { return b.elems }

func (b *cudaBuffer) Free() error {
	if err := b.lib.setCurrent(b.dev); err != nil {
		return err
	}
	return check("cuMemFree", cuda.MemFree(b.ptr))
}

// Alloc allocates and zeroes elems int32 elements on dev.
func (l *cudaLib) Alloc(dev int, elems int) (Buffer, error) {
	if err := l.setCurrent(dev); err != nil {
		return nil, err
	}
	ptr, r := cuda.MemAlloc(uint64(elems) * elementSize)
	if err := check("cuMemAlloc", r); err != nil {
		return nil, err
	}
	b := &cudaBuffer{lib: l, dev: dev, ptr: ptr, elems: elems}
	if err := check("cuMemsetD32", cuda.MemsetD32(ptr, 0, uint64(elems))); err != nil {
		_ = b.Free()
		return nil, err
	}
	return b, nil
}

type cudaStream struct {
	lib *cudaLib
	dev int
	s   cuda.Stream
}

func (s *cudaStream) Device() int { return s.dev }

func (s *cudaStream) Synchronize() error {
	return check("cuStreamSynchronize", s.s.Synchronize())
}

func (s *cudaStream) WaitEvent(event Event) error {
	e, ok := event.(*cudaEvent)
	if !ok {
		return fmt.Errorf("event %T does not belong to the CUDA runtime", event)
	}
	return check("cuStreamWaitEvent", s.s.WaitEvent(e.e))
}

func (s *cudaStream) Destroy() error {
	if err := s.lib.setCurrent(s.dev); err != nil {
		return err
	}
	return check("cuStreamDestroy", s.s.Destroy())
}

// NewStream creates a non-blocking stream on dev.
func (l *cudaLib) NewStream(dev int) (Stream, error) {
	if err := l.setCurrent(dev); err != nil {
		return nil, err
	}
	s, r := cuda.StreamCreate(cuda.STREAM_NON_BLOCKING)
	if err := check("cuStreamCreate", r); err != nil {
		return nil, err
	}
	return &cudaStream{lib: l, dev: dev, s: s}, nil
}

type cudaEvent struct {
	lib *cudaLib
	dev int
	e   cuda.Event
}

func (e *cudaEvent) Device() int { return e.dev }

func (e *cudaEvent) Record(stream Stream) error {
	s, ok := stream.(*cudaStream)
	if !ok {
		return fmt.Errorf("stream %T does not belong to the CUDA runtime", stream)
	}
	return check("cuEventRecord", e.e.Record(s.s))
}

func (e *cudaEvent) Destroy() error {
	if err := e.lib.setCurrent(e.dev); err != nil {
		return err
	}
	return check("cuEventDestroy", e.e.Destroy())
}

// NewEvent creates a timing event on dev.
func (l *cudaLib) NewEvent(dev int) (Event, error) {
	if err := l.setCurrent(dev); err != nil {
		return nil, err
	}
	e, r := cuda.EventCreate(cuda.EVENT_DEFAULT)
	if err := check("cuEventCreate", r); err != nil {
		return nil, err
	}
	return &cudaEvent{lib: l, dev: dev, e: e}, nil
}

// cudaFlag is two words of mapped host memory: the release flag followed
// by the timeout indicator written by the spin-wait kernel.
type cudaFlag struct {
	host  cuda.HostPtr
	dptr  cuda.DevicePtr
	words []uint32
}

func (f *cudaFlag) Reset() {
	atomic.StoreUint32(&f.words[1], 0)
	atomic.StoreUint32(&f.words[0], 0)
}

func (f *cudaFlag) Release() {
	atomic.StoreUint32(&f.words[0], 1)
}

func (f *cudaFlag) TimedOut() bool {
	return atomic.LoadUint32(&f.words[1]) != 0
}

func (f *cudaFlag) Free() error {
	return check("cuMemFreeHost", cuda.MemFreeHost(f.host))
}

// AllocFlag allocates the barrier flag as portable, mapped page-locked memory.
func (l *cudaLib) AllocFlag() (Flag, error) {
	if err := l.setCurrent(0); err != nil {
		return nil, err
	}
	host, r := cuda.MemHostAlloc(2*elementSize, cuda.MEMHOSTALLOC_PORTABLE|cuda.MEMHOSTALLOC_DEVICEMAP)
	if err := check("cuMemHostAlloc", r); err != nil {
		return nil, err
	}
	f := &cudaFlag{host: host, words: host.Words(2)}
	dptr, r := cuda.MemHostGetDevicePointer(host)
	if err := check("cuMemHostGetDevicePointer", r); err != nil {
		_ = f.Free()
		return nil, err
	}
	f.dptr = dptr
	f.Reset()
	return f, nil
}

func (l *cudaLib) buffers(dst Buffer, src Buffer) (*cudaBuffer, *cudaBuffer, error) {
	d, ok := dst.(*cudaBuffer)
	if !ok {
		return nil, nil, fmt.Errorf("buffer %T does not belong to the CUDA runtime", dst)
	}
	s, ok := src.(*cudaBuffer)
	if !ok {
		return nil, nil, fmt.Errorf("buffer %T does not belong to the CUDA runtime", src)
	}
	return d, s, nil
}

func (l *cudaLib) stream(stream Stream) (*cudaStream, error) {
	s, ok := stream.(*cudaStream)
	if !ok {
		return nil, fmt.Errorf("stream %T does not belong to the CUDA runtime", stream)
	}
	return s, nil
}

// MemcpyPeerAsync enqueues a peer copy on stream.
func (l *cudaLib) MemcpyPeerAsync(dst Buffer, src Buffer, elems int, stream Stream) error {
	d, s, err := l.buffers(dst, src)
	if err != nil {
		return err
	}
	st, err := l.stream(stream)
	if err != nil {
		return err
	}
	if err := l.checkPair(d.dev, s.dev); err != nil {
		return err
	}
	bytes := uint64(elems) * elementSize
	r := cuda.MemcpyPeerAsync(d.ptr, l.contexts[d.dev], s.ptr, l.contexts[s.dev], bytes, st.s)
	return check("cuMemcpyPeerAsync", r)
}

// CopyOccupancy queries the occupancy of the copy kernel on dev.
func (l *cudaLib) CopyOccupancy(dev int) (int, int, error) {
	if err := l.setCurrent(dev); err != nil {
		return 0, 0, err
	}
	grid, block, r := l.copyFn[dev].OccupancyMaxPotentialBlockSize()
	if err := check("cuOccupancyMaxPotentialBlockSize", r); err != nil {
		return 0, 0, err
	}
	return grid, block, nil
}

// LaunchCopy launches the copy kernel on the device owning stream.
func (l *cudaLib) LaunchCopy(dst Buffer, src Buffer, chunks int, grid int, block int, stream Stream) error {
	d, s, err := l.buffers(dst, src)
	if err != nil {
		return err
	}
	st, err := l.stream(stream)
	if err != nil {
		return err
	}
	if err := l.setCurrent(st.dev); err != nil {
		return err
	}
	r := cuda.LaunchCopy(l.copyFn[st.dev], grid, block, st.s, d.ptr, s.ptr, uint64(chunks))
	return check("cuLaunchKernel", r)
}

// LaunchDelay launches the spin-wait kernel on the device owning stream.
func (l *cudaLib) LaunchDelay(flag Flag, timeoutCycles uint64, stream Stream) error {
	f, ok := flag.(*cudaFlag)
	if !ok {
		return fmt.Errorf("flag %T does not belong to the CUDA runtime", flag)
	}
	st, err := l.stream(stream)
	if err != nil {
		return err
	}
	if err := l.setCurrent(st.dev); err != nil {
		return err
	}
	return check("cuLaunchKernel", cuda.LaunchDelay(l.delayFn[st.dev], st.s, f.dptr, timeoutCycles))
}

// ElapsedTime returns the milliseconds between two completed events.
func (l *cudaLib) ElapsedTime(start Event, stop Event) (float32, error) {
	s, ok := start.(*cudaEvent)
	if !ok {
		return 0, fmt.Errorf("event %T does not belong to the CUDA runtime", start)
	}
	e, ok := stop.(*cudaEvent)
	if !ok {
		return 0, fmt.Errorf("event %T does not belong to the CUDA runtime", stop)
	}
	ms, r := cuda.EventElapsedTime(s.e, e.e)
	if err := check("cuEventElapsedTime", r); err != nil {
		return 0, err
	}
	return ms, nil
}
