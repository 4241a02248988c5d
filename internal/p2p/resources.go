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
	"errors"
	"fmt"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/device"
)

// deviceResources is what a measurement pass holds on one device.
type deviceResources struct {
	primary device.Buffer
	scratch device.Buffer
	streams []device.Stream
	start   device.Event
	stop    device.Event
}

// resources owns every platform object a measurement pass allocates.
// Objects are released in the reverse order of their creation.
type resources struct {
	devices []*deviceResources
	barrier *Barrier
	release []func() error
}

// newResources allocates a primary and a scratch buffer of elems elements,
// the given number of streams and a start and stop event on each of n
// devices. A barrier is allocated for the pass unless a shared one is given.
// Nothing is left allocated on failure.
func newResources(rt device.Runtime, n int, elems int, streams int, shared *Barrier, timeoutCycles uint64) (_ *resources, rerr error) {
	r := &resources{barrier: shared}
	defer func() {
		if rerr != nil {
			rerr = errors.Join(rerr, r.Close())
		}
	}()

	var err error
	if r.barrier == nil {
		if r.barrier, err = NewBarrier(rt, timeoutCycles); err != nil {
			return nil, err
		}
		r.push(r.barrier.Free)
	}

	for d := 0; d < n; d++ {
		dr := &deviceResources{}
		if dr.primary, err = r.alloc(rt, d, elems); err != nil {
			return nil, err
		}
		if dr.scratch, err = r.alloc(rt, d, elems); err != nil {
			return nil, err
		}
		for s := 0; s < streams; s++ {
			stream, err := rt.NewStream(d)
			if err != nil {
				return nil, fmt.Errorf("error creating stream on device %d: %w", d, err)
			}
			r.push(stream.Destroy)
			dr.streams = append(dr.streams, stream)
		}
		if dr.start, err = r.event(rt, d); err != nil {
			return nil, err
		}
		if dr.stop, err = r.event(rt, d); err != nil {
			return nil, err
		}
		r.devices = append(r.devices, dr)
	}

	return r, nil
}

func (r *resources) push(release func() error) {
	r.release = append(r.release, release)
}

func (r *resources) alloc(rt device.Runtime, dev int, elems int) (device.Buffer, error) {
	b, err := rt.Alloc(dev, elems)
	if err != nil {
		return nil, fmt.Errorf("error allocating %d elements on device %d: %w", elems, dev, err)
	}
	r.push(b.Free)
	return b, nil
}

func (r *resources) event(rt device.Runtime, dev int) (device.Event, error) {
	e, err := rt.NewEvent(dev)
	if err != nil {
		return nil, fmt.Errorf("error creating event on device %d: %w", dev, err)
	}
	r.push(e.Destroy)
	return e, nil
}

// Close releases everything, continuing past failures, and reports every
// failure it saw.
func (r *resources) Close() error {
	var errs []error
	for i := len(r.release) - 1; i >= 0; i-- {
		errs = append(errs, r.release[i]())
	}
	r.release = nil
	return errors.Join(errs...)
}
