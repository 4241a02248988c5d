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
	"path/filepath"
	"runtime"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
)

// PlatformCallError is returned when a call into the device runtime does not
// succeed. It records where the call was issued from.
type PlatformCallError struct {
	Call   string
	File   string
	Line   int
	Result error
}

var _ error = (*PlatformCallError)(nil)

func (e *PlatformCallError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %v", filepath.Base(e.File), e.Line, e.Call, e.Result)
}

func (e *PlatformCallError) Unwrap() error {
	return e.Result
}

// IsPlatformCallError reports whether err originates from a failed runtime call.
func IsPlatformCallError(err error) bool {
	var perr *PlatformCallError
	return errors.As(err, &perr)
}

// check is the single point every CUDA result passes through.
func check(call string, r cuda.Result) error {
	if r == cuda.SUCCESS {
		return nil
	}
	return newPlatformCallError(call, r)
}

// newPlatformCallError records the caller of the function that invoked it.
func newPlatformCallError(call string, result error) *PlatformCallError {
	_, file, line, _ := runtime.Caller(2)
	return &PlatformCallError{
		Call:   call,
		File:   file,
		Line:   line,
		Result: result,
	}
}
