// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package framers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

func TestVarintDecoderSingleByteLength(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewVarintDecoder(VarintConfig{MaxFrame: 1 << 16})

	d.OnRead(h, netbuf.New([]byte{5, 'h', 'e', 'l', 'l', 'o'}))
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, "hello", string(h.Inbound[0].(*netbuf.Window).Bytes()))
}

func TestVarintDecoderMultiByteLength(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewVarintDecoder(VarintConfig{MaxFrame: 1 << 16})

	// 300 encoded as base-128 LE septets: 300 = 0b1_0010_1100
	// low 7 bits = 0101100 = 0x2C, continuation bit set -> 0xAC
	// remaining bits = 10 = 0x02
	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = 'x'
	}
	frame := append([]byte{0xAC, 0x02}, payload...)

	d.OnRead(h, netbuf.New(frame))
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, 300, h.Inbound[0].(*netbuf.Window).Readable())
}

func TestVarintDecoderWaitsForMoreData(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewVarintDecoder(VarintConfig{MaxFrame: 1 << 16})

	d.OnRead(h, netbuf.New([]byte{5, 'h', 'e'}))
	assert.Len(t, h.Inbound, 0)

	d.OnRead(h, netbuf.New([]byte("llo")))
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, "hello", string(h.Inbound[0].(*netbuf.Window).Bytes()))
}

func TestVarintPrependerRoundTrip(t *testing.T) {
	alloc := netbuf.NewAllocator()
	payload := netbuf.New([]byte("hello"))
	p := VarintPrepender{}

	out, err := p.Encode(alloc, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 'h', 'e', 'l', 'l', 'o'}, out.Bytes())

	h := netchannel.NewHarness()
	d := NewVarintDecoder(VarintConfig{MaxFrame: 1 << 16})
	d.OnRead(h, out)
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, "hello", string(h.Inbound[0].(*netbuf.Window).Bytes()))
}
