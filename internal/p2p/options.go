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
	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/logger"
)

// Logger receives pass lifecycle messages and warnings about flagged rounds.
type Logger interface {
	Infof(format string, args ...interface{})
	Warningf(format string, args ...interface{})
}

// Progress is advanced by one for every completed matrix row.
type Progress interface {
	Add(num int) error
}

type nullProgress struct{}

func (nullProgress) Add(int) error { return nil }

type options struct {
	logger   Logger
	progress Progress
	barrier  *Barrier
}

// Option is a function that configures a measurer.
type Option func(*options)

// WithLogger sets the logger for the measurer.
func WithLogger(l Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithProgress sets the progress reporter for the measurer.
func WithProgress(p Progress) Option {
	return func(o *options) {
		o.progress = p
	}
}

// WithBarrier makes the measurer reuse b instead of allocating a barrier
// for each pass. The caller keeps ownership of b.
func WithBarrier(b *Barrier) Option {
	return func(o *options) {
		o.barrier = b
	}
}

func newOptions(opts ...Option) options {
	o := options{
		logger:   logger.ToKlog,
		progress: nullProgress{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
