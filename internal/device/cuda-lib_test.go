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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/NVIDIA/p2p-bandwidth-latency-test/internal/cuda"
)

func TestCudaLibRejectsInvalidPairs(t *testing.T) {
	// One retained device that is already current, so that no driver call
	// is made before the pair is checked.
	l := &cudaLib{
		devices:  make([]cuda.Device, 1),
		contexts: make([]cuda.Context, 1),
		current:  0,
		enabled:  make(map[[2]int]bool),
	}

	testCases := []struct {
		description string
		dev         int
		peer        int
	}{
		{
			description: "peer out of range",
			dev:         0,
			peer:        5,
		},
		{
			description: "negative peer",
			dev:         0,
			peer:        -1,
		},
		{
			description: "device out of range",
			dev:         1,
			peer:        0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := l.CanAccessPeer(tc.dev, tc.peer)
			require.Error(t, err)
			require.Error(t, l.EnablePeerAccess(tc.dev, tc.peer))
			require.Error(t, l.DisablePeerAccess(tc.dev, tc.peer))
			require.False(t, l.PeerAccessEnabled(tc.dev, tc.peer))

			dst := &cudaBuffer{lib: l, dev: tc.peer, elems: 1}
			src := &cudaBuffer{lib: l, dev: tc.dev, elems: 1}
			stream := &cudaStream{lib: l, dev: tc.dev}
			require.Error(t, l.MemcpyPeerAsync(dst, src, 1, stream))
		})
	}
}
