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
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
)

// Link describes the transfer characteristics of a path between two buffers.
type Link struct {
	GBps    float64
	Latency time.Duration
}

// SimulatedCopy records a copy executed by the simulated runtime. Times are
// nanoseconds on the simulated clock.
type SimulatedCopy struct {
	Src        int
	Dst        int
	Stream     int
	Bytes      uint64
	Kernel     bool
	Peer       bool
	Start      float64
	End        float64
	ReleasedAt float64
}

// Simulated is an in-process Runtime that models devices as independent
// queues on a virtual clock. Enqueued work is resolved when the host blocks,
// so that the spin-wait, event and cross-queue wait semantics match a real
// device runtime.
type Simulated struct {
	n            int
	canAccess    func(dev int, peer int) bool
	enabled      map[[2]int]bool
	clockRateKHz int

	local  Link
	peer   Link
	staged Link
	// directed overrides the link of cross-device copies from src to dst.
	directed map[[2]int]Link
	launch   time.Duration
	api    time.Duration

	jitter float64
	rng    *rand.Rand

	stalled      bool
	clockAnomaly bool
	failures     map[string]simFailure
	calls        map[string]int

	initDone    bool
	hostNow     float64
	lastRelease float64
	streams     []*simStream
	copies      []*SimulatedCopy
	peerQueries map[[2]int]int
	outstanding int
}

type simFailure struct {
	after  int
	result cuda.Result
}

// SimulatedOption configures a Simulated runtime.
type SimulatedOption func(*Simulated)

// WithPeerAccess sets which ordered device pairs report peer capability.
func WithPeerAccess(canAccess func(dev int, peer int) bool) SimulatedOption {
	return func(s *Simulated) {
		s.canAccess = canAccess
	}
}

// AllPeers reports every pair as peer capable.
func AllPeers(dev int, peer int) bool { return true }

// NoPeers reports no pair as peer capable.
func NoPeers(dev int, peer int) bool { return false }

// WithLinks sets the characteristics of same-device, direct peer and
// host-staged copies.
func WithLinks(local Link, peer Link, staged Link) SimulatedOption {
	return func(s *Simulated) {
		s.local = local
		s.peer = peer
		s.staged = staged
	}
}

// WithDirectedLink overrides the link used by every copy from src to dst on
// different devices, whether it is staged or peer-to-peer.
func WithDirectedLink(src int, dst int, link Link) SimulatedOption {
	return func(s *Simulated) {
		s.directed[[2]int{src, dst}] = link
	}
}

// WithClockRate sets the device clock used to convert spin-wait cycles to time.
func WithClockRate(kHz int) SimulatedOption {
	return func(s *Simulated) {
		s.clockRateKHz = kHz
	}
}

// WithAPIOverhead sets the host time consumed by each enqueue call.
func WithAPIOverhead(d time.Duration) SimulatedOption {
	return func(s *Simulated) {
		s.api = d
	}
}

// WithJitter perturbs every copy duration by up to the given fraction.
func WithJitter(fraction float64, seed uint64) SimulatedOption {
	return func(s *Simulated) {
		s.jitter = fraction
		s.rng = rand.New(rand.NewPCG(seed, seed))
	}
}

// WithStalledRelease drops every flag release, as if the host never got to it.
func WithStalledRelease() SimulatedOption {
	return func(s *Simulated) {
		s.stalled = true
	}
}

// WithClockAnomaly makes every elapsed time query return zero.
func WithClockAnomaly() SimulatedOption {
	return func(s *Simulated) {
		s.clockAnomaly = true
	}
}

// WithFailingCall makes the named call fail with result once it has
// succeeded 'after' times.
func WithFailingCall(call string, after int, result cuda.Result) SimulatedOption {
	return func(s *Simulated) {
		s.failures[call] = simFailure{after: after, result: result}
	}
}

// NewSimulatedRuntime returns a simulated runtime with the given number of devices.
func NewSimulatedRuntime(devices int, opts ...SimulatedOption) *Simulated {
	s := &Simulated{
		n:            devices,
		canAccess:    AllPeers,
		enabled:      make(map[[2]int]bool),
		clockRateKHz: 1410000,
		local:        Link{GBps: 700, Latency: 2 * time.Microsecond},
		peer:         Link{GBps: 48, Latency: 2 * time.Microsecond},
		staged:       Link{GBps: 11, Latency: 9 * time.Microsecond},
		directed:     make(map[[2]int]Link),
		launch:       3 * time.Microsecond,
		api:          2 * time.Microsecond,
		failures:     make(map[string]simFailure),
		calls:        make(map[string]int),
		peerQueries:  make(map[[2]int]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Runtime = (*Simulated)(nil)

// call accounts for an invocation of the named runtime call and reports an
// injected failure.
func (s *Simulated) call(name string) error {
	if !s.initDone {
		return newPlatformCallError(name, cuda.ERROR_NOT_INITIALIZED)
	}
	n := s.calls[name]
	s.calls[name] = n + 1
	if f, ok := s.failures[name]; ok && n >= f.after {
		return newPlatformCallError(name, f.result)
	}
	s.hostNow += float64(s.api)
	return nil
}

func (s *Simulated) fail(name string, result cuda.Result) error {
	return newPlatformCallError(name, result)
}

func (s *Simulated) valid(dev int) bool {
	return dev >= 0 && dev < s.n
}

// Init marks the runtime as initialized.
func (s *Simulated) Init() error {
	s.initDone = true
	return nil
}

// Shutdown marks the runtime as shut down.
func (s *Simulated) Shutdown() error {
	s.initDone = false
	return nil
}

// DeviceCount returns the number of simulated devices.
func (s *Simulated) DeviceCount() (int, error) {
	if err := s.call("cuDeviceGetCount"); err != nil {
		return 0, err
	}
	return s.n, nil
}

// Properties returns synthetic properties for dev.
func (s *Simulated) Properties(dev int) (Properties, error) {
	if err := s.call("cuDeviceGetAttribute"); err != nil {
		return Properties{}, err
	}
	if !s.valid(dev) {
		return Properties{}, s.fail("cuDeviceGetAttribute", cuda.ERROR_INVALID_DEVICE)
	}
	return Properties{
		Name:         fmt.Sprintf("Simulated GPU %d", dev),
		PCIBusID:     0x18 + 0x10*dev,
		PCIDeviceID:  0,
		PCIDomainID:  0,
		ClockRateKHz: s.clockRateKHz,
	}, nil
}

// CanAccessPeer reports the configured capability of the ordered pair.
func (s *Simulated) CanAccessPeer(dev int, peer int) (bool, error) {
	if err := s.call("cuDeviceCanAccessPeer"); err != nil {
		return false, err
	}
	if !s.valid(dev) || !s.valid(peer) {
		return false, s.fail("cuDeviceCanAccessPeer", cuda.ERROR_INVALID_DEVICE)
	}
	s.peerQueries[[2]int{dev, peer}]++
	if dev == peer {
		return false, nil
	}
	return s.canAccess(dev, peer), nil
}

// EnablePeerAccess enables access from dev to peer.
func (s *Simulated) EnablePeerAccess(dev int, peer int) error {
	if err := s.call("cuCtxEnablePeerAccess"); err != nil {
		return err
	}
	if !s.valid(dev) || !s.valid(peer) || dev == peer {
		return s.fail("cuCtxEnablePeerAccess", cuda.ERROR_INVALID_DEVICE)
	}
	if !s.canAccess(dev, peer) {
		return s.fail("cuCtxEnablePeerAccess", cuda.ERROR_PEER_ACCESS_UNSUPPORTED)
	}
	if s.enabled[[2]int{dev, peer}] {
		return s.fail("cuCtxEnablePeerAccess", cuda.ERROR_PEER_ACCESS_ALREADY_ENABLED)
	}
	s.enabled[[2]int{dev, peer}] = true
	return nil
}

// DisablePeerAccess disables access from dev to peer.
func (s *Simulated) DisablePeerAccess(dev int, peer int) error {
	if err := s.call("cuCtxDisablePeerAccess"); err != nil {
		return err
	}
	if !s.enabled[[2]int{dev, peer}] {
		return s.fail("cuCtxDisablePeerAccess", cuda.ERROR_PEER_ACCESS_NOT_ENABLED)
	}
	delete(s.enabled, [2]int{dev, peer})
	return nil
}

// PeerAccessEnabled reports whether access from dev to peer is enabled.
func (s *Simulated) PeerAccessEnabled(dev int, peer int) bool {
	return s.enabled[[2]int{dev, peer}]
}

// PeerQueries returns how often each ordered pair was queried for capability.
func (s *Simulated) PeerQueries() map[[2]int]int {
	queries := make(map[[2]int]int, len(s.peerQueries))
	for k, v := range s.peerQueries {
		queries[k] = v
	}
	return queries
}

// Copies returns the copies executed so far.
func (s *Simulated) Copies() []SimulatedCopy {
	var copies []SimulatedCopy
	for _, c := range s.copies {
		copies = append(copies, *c)
	}
	return copies
}

// Outstanding returns the number of buffers, streams, events and flags that
// have been created and not yet released.
func (s *Simulated) Outstanding() int {
	return s.outstanding
}

type simBuffer struct {
	sim   *Simulated
	dev   int
	elems int
	freed bool
}

func (b *simBuffer) Device() int { return b.dev }
func (b *simBuffer) Len() int    { return b.elems }

func (b *simBuffer) Free() error {
	if err := b.sim.call("cuMemFree"); err != nil {
		return err
	}
	if b.freed {
		return b.sim.fail("cuMemFree", cuda.ERROR_INVALID_VALUE)
	}
	b.freed = true
	b.sim.outstanding--
	return nil
}

// Alloc returns a buffer on dev. No memory is backing it.
func (s *Simulated) Alloc(dev int, elems int) (Buffer, error) {
	if err := s.call("cuMemAlloc"); err != nil {
		return nil, err
	}
	if !s.valid(dev) {
		return nil, s.fail("cuMemAlloc", cuda.ERROR_INVALID_DEVICE)
	}
	s.outstanding++
	return &simBuffer{sim: s, dev: dev, elems: elems}, nil
}

type opKind int

const (
	opDelay opKind = iota
	opCopy
	opRecord
	opWait
)

type simOp struct {
	kind     opKind
	enqueued float64
	duration float64
	timeout  float64
	flag     *simFlag
	event    *simEvent
	waitFor  *simOp
	copy     *SimulatedCopy
	done     bool
	doneAt   float64
}

type simStream struct {
	sim       *Simulated
	dev       int
	ops       []*simOp
	ready     float64
	destroyed bool
}

func (st *simStream) Device() int { return st.dev }

func (st *simStream) enqueue(op *simOp) {
	op.enqueued = st.sim.hostNow
	st.ops = append(st.ops, op)
}

// Synchronize resolves all enqueued work and advances the host clock to the
// completion of this stream.
func (st *simStream) Synchronize() error {
	if err := st.sim.call("cuStreamSynchronize"); err != nil {
		return err
	}
	if st.destroyed {
		return st.sim.fail("cuStreamSynchronize", cuda.ERROR_INVALID_HANDLE)
	}
	if err := st.sim.drain(); err != nil {
		return err
	}
	st.sim.hostNow = math.Max(st.sim.hostNow, st.ready)
	return nil
}

func (st *simStream) WaitEvent(event Event) error {
	if err := st.sim.call("cuStreamWaitEvent"); err != nil {
		return err
	}
	e, ok := event.(*simEvent)
	if !ok || e.destroyed || st.destroyed {
		return st.sim.fail("cuStreamWaitEvent", cuda.ERROR_INVALID_HANDLE)
	}
	st.enqueue(&simOp{kind: opWait, waitFor: e.last})
	return nil
}

func (st *simStream) Destroy() error {
	if err := st.sim.call("cuStreamDestroy"); err != nil {
		return err
	}
	if st.destroyed {
		return st.sim.fail("cuStreamDestroy", cuda.ERROR_INVALID_HANDLE)
	}
	st.destroyed = true
	st.sim.outstanding--
	return nil
}

// NewStream creates a stream on dev.
func (s *Simulated) NewStream(dev int) (Stream, error) {
	if err := s.call("cuStreamCreate"); err != nil {
		return nil, err
	}
	if !s.valid(dev) {
		return nil, s.fail("cuStreamCreate", cuda.ERROR_INVALID_DEVICE)
	}
	st := &simStream{sim: s, dev: dev, ready: s.hostNow}
	s.streams = append(s.streams, st)
	s.outstanding++
	return st, nil
}

type simEvent struct {
	sim       *Simulated
	dev       int
	last      *simOp
	destroyed bool
}

func (e *simEvent) Device() int { return e.dev }

func (e *simEvent) Record(stream Stream) error {
	if err := e.sim.call("cuEventRecord"); err != nil {
		return err
	}
	st, ok := stream.(*simStream)
	if !ok || st.destroyed || e.destroyed {
		return e.sim.fail("cuEventRecord", cuda.ERROR_INVALID_HANDLE)
	}
	op := &simOp{kind: opRecord, event: e}
	e.last = op
	st.enqueue(op)
	return nil
}

func (e *simEvent) Destroy() error {
	if err := e.sim.call("cuEventDestroy"); err != nil {
		return err
	}
	if e.destroyed {
		return e.sim.fail("cuEventDestroy", cuda.ERROR_INVALID_HANDLE)
	}
	e.destroyed = true
	e.sim.outstanding--
	return nil
}

// NewEvent creates an event on dev.
func (s *Simulated) NewEvent(dev int) (Event, error) {
	if err := s.call("cuEventCreate"); err != nil {
		return nil, err
	}
	if !s.valid(dev) {
		return nil, s.fail("cuEventCreate", cuda.ERROR_INVALID_DEVICE)
	}
	s.outstanding++
	return &simEvent{sim: s, dev: dev}, nil
}

type simFlag struct {
	sim        *Simulated
	released   bool
	releasedAt float64
	timedOut   bool
	freed      bool
}

func (f *simFlag) Reset() {
	f.released = false
	f.timedOut = false
}

func (f *simFlag) Release() {
	if f.sim.stalled {
		return
	}
	f.released = true
	f.releasedAt = f.sim.hostNow
	f.sim.lastRelease = f.sim.hostNow
}

func (f *simFlag) TimedOut() bool {
	return f.timedOut
}

func (f *simFlag) Free() error {
	if err := f.sim.call("cuMemFreeHost"); err != nil {
		return err
	}
	if f.freed {
		return f.sim.fail("cuMemFreeHost", cuda.ERROR_INVALID_VALUE)
	}
	f.freed = true
	f.sim.outstanding--
	return nil
}

// AllocFlag allocates a barrier flag.
func (s *Simulated) AllocFlag() (Flag, error) {
	if err := s.call("cuMemHostAlloc"); err != nil {
		return nil, err
	}
	s.outstanding++
	return &simFlag{sim: s}, nil
}

func (s *Simulated) handles(dst Buffer, src Buffer, stream Stream) (*simBuffer, *simBuffer, *simStream, bool) {
	d, ok1 := dst.(*simBuffer)
	b, ok2 := src.(*simBuffer)
	st, ok3 := stream.(*simStream)
	if !ok1 || !ok2 || !ok3 || d.freed || b.freed || st.destroyed {
		return nil, nil, nil, false
	}
	return d, b, st, true
}

// duration returns the time in nanoseconds to move bytes over link.
func (s *Simulated) duration(link Link, bytes uint64, overhead time.Duration) float64 {
	ns := float64(link.Latency+overhead) + float64(bytes)/link.GBps
	if s.jitter > 0 {
		ns *= 1 + s.jitter*(2*s.rng.Float64()-1)
	}
	return ns
}

// directedLink returns the override for copies from src to dst, or link.
func (s *Simulated) directedLink(src int, dst int, link Link) Link {
	if src == dst {
		return link
	}
	if l, ok := s.directed[[2]int{src, dst}]; ok {
		return l
	}
	return link
}

// MemcpyPeerAsync enqueues a copy that goes over the peer link when access is
// enabled in either direction and is staged through the host otherwise.
func (s *Simulated) MemcpyPeerAsync(dst Buffer, src Buffer, elems int, stream Stream) error {
	if err := s.call("cuMemcpyPeerAsync"); err != nil {
		return err
	}
	d, b, st, ok := s.handles(dst, src, stream)
	if !ok {
		return s.fail("cuMemcpyPeerAsync", cuda.ERROR_INVALID_HANDLE)
	}
	if elems > d.elems || elems > b.elems {
		return s.fail("cuMemcpyPeerAsync", cuda.ERROR_INVALID_VALUE)
	}
	bytes := uint64(elems) * elementSize
	link, peer := s.staged, false
	switch {
	case d.dev == b.dev:
		link = s.local
	case s.enabled[[2]int{d.dev, b.dev}] || s.enabled[[2]int{b.dev, d.dev}]:
		link, peer = s.peer, true
	}
	link = s.directedLink(b.dev, d.dev, link)
	c := &SimulatedCopy{Src: b.dev, Dst: d.dev, Stream: st.dev, Bytes: bytes, Peer: peer}
	st.enqueue(&simOp{kind: opCopy, duration: s.duration(link, bytes, 0), copy: c})
	return nil
}

// CopyOccupancy returns a fixed occupancy for the copy kernel.
func (s *Simulated) CopyOccupancy(dev int) (int, int, error) {
	if err := s.call("cuOccupancyMaxPotentialBlockSize"); err != nil {
		return 0, 0, err
	}
	if !s.valid(dev) {
		return 0, 0, s.fail("cuOccupancyMaxPotentialBlockSize", cuda.ERROR_INVALID_DEVICE)
	}
	return 216, 1024, nil
}

// LaunchCopy enqueues the copy kernel. The executing device must be able to
// address both buffers.
func (s *Simulated) LaunchCopy(dst Buffer, src Buffer, chunks int, grid int, block int, stream Stream) error {
	if err := s.call("cuLaunchKernel"); err != nil {
		return err
	}
	d, b, st, ok := s.handles(dst, src, stream)
	if !ok {
		return s.fail("cuLaunchKernel", cuda.ERROR_INVALID_HANDLE)
	}
	if grid <= 0 || block <= 0 {
		return s.fail("cuLaunchKernel", cuda.ERROR_INVALID_VALUE)
	}
	for _, remote := range []int{d.dev, b.dev} {
		if remote != st.dev && !s.enabled[[2]int{st.dev, remote}] {
			return s.fail("cuLaunchKernel", cuda.ERROR_ILLEGAL_ADDRESS)
		}
	}
	bytes := uint64(chunks) * 4 * elementSize
	link, peer := s.local, false
	if d.dev != b.dev {
		link, peer = s.peer, true
	}
	link = s.directedLink(b.dev, d.dev, link)
	c := &SimulatedCopy{Src: b.dev, Dst: d.dev, Stream: st.dev, Bytes: bytes, Kernel: true, Peer: peer}
	st.enqueue(&simOp{kind: opCopy, duration: s.duration(link, bytes, s.launch), copy: c})
	return nil
}

// LaunchDelay enqueues the spin-wait on stream.
func (s *Simulated) LaunchDelay(flag Flag, timeoutCycles uint64, stream Stream) error {
	if err := s.call("cuLaunchKernel"); err != nil {
		return err
	}
	f, ok := flag.(*simFlag)
	st, ok2 := stream.(*simStream)
	if !ok || !ok2 || f.freed || st.destroyed {
		return s.fail("cuLaunchKernel", cuda.ERROR_INVALID_HANDLE)
	}
	timeout := float64(timeoutCycles) * 1e6 / float64(s.clockRateKHz)
	st.enqueue(&simOp{kind: opDelay, flag: f, timeout: timeout})
	return nil
}

// ElapsedTime returns the milliseconds between two completed events of the same device.
func (s *Simulated) ElapsedTime(start Event, stop Event) (float32, error) {
	if err := s.call("cuEventElapsedTime"); err != nil {
		return 0, err
	}
	a, ok1 := start.(*simEvent)
	b, ok2 := stop.(*simEvent)
	if !ok1 || !ok2 || a.destroyed || b.destroyed || a.dev != b.dev {
		return 0, s.fail("cuEventElapsedTime", cuda.ERROR_INVALID_HANDLE)
	}
	if a.last == nil || b.last == nil {
		return 0, s.fail("cuEventElapsedTime", cuda.ERROR_INVALID_HANDLE)
	}
	if !a.last.done || !b.last.done {
		return 0, s.fail("cuEventElapsedTime", cuda.ERROR_NOT_READY)
	}
	if s.clockAnomaly {
		return 0, nil
	}
	return float32((b.last.doneAt - a.last.doneAt) / 1e6), nil
}

// drain executes enqueued work on every stream until all of it has completed.
func (s *Simulated) drain() error {
	for {
		progressed, pending := false, false
		for _, st := range s.streams {
			for len(st.ops) > 0 {
				if !s.exec(st, st.ops[0]) {
					pending = true
					break
				}
				st.ops = st.ops[1:]
				progressed = true
			}
		}
		if !pending {
			return nil
		}
		if !progressed {
			return s.fail("cuStreamSynchronize", cuda.ERROR_LAUNCH_TIMEOUT)
		}
	}
}

// exec runs the op at the head of st; it returns false when the op is
// waiting on work that has not executed yet.
func (s *Simulated) exec(st *simStream, op *simOp) bool {
	start := math.Max(st.ready, op.enqueued)
	end := start
	switch op.kind {
	case opDelay:
		deadline := start + op.timeout
		if op.flag.released && op.flag.releasedAt <= deadline {
			end = math.Max(start, op.flag.releasedAt)
		} else {
			end = deadline
			op.flag.timedOut = true
		}
	case opCopy:
		end = start + op.duration
		op.copy.Start, op.copy.End, op.copy.ReleasedAt = start, end, s.lastRelease
		s.copies = append(s.copies, op.copy)
	case opWait:
		if op.waitFor != nil {
			if !op.waitFor.done {
				return false
			}
			end = math.Max(start, op.waitFor.doneAt)
		}
	}
	op.done, op.doneAt = true, end
	st.ready = end
	return true
}
