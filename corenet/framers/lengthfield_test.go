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

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

func TestLengthFieldDecoderBasic(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:          1 << 16,
		LengthFieldOffset: 0,
		LengthFieldLength: Width2,
		ByteOrder:         netbuf.BigEndian,
	})

	// length=5, payload="hello"
	d.OnRead(h, netbuf.New([]byte{0, 5, 'h', 'e', 'l', 'l', 'o'}))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	assert.Equal(t, "\x00\x05hello", string(frame.Bytes()))
}

func TestLengthFieldDecoderStripsHeader(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:            1 << 16,
		LengthFieldLength:   Width2,
		InitialBytesToStrip: 2,
		ByteOrder:           netbuf.BigEndian,
	})

	d.OnRead(h, netbuf.New([]byte{0, 5, 'h', 'e', 'l', 'l', 'o'}))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	assert.Equal(t, "hello", string(frame.Bytes()))
}

func TestLengthFieldDecoderSplitAcrossReads(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:          1 << 16,
		LengthFieldLength: Width2,
		ByteOrder:         netbuf.BigEndian,
	})

	d.OnRead(h, netbuf.New([]byte{0, 5, 'h', 'e'}))
	assert.Len(t, h.Inbound, 0)

	d.OnRead(h, netbuf.New([]byte("llo")))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	assert.Equal(t, "\x00\x05hello", string(frame.Bytes()))
}

func TestLengthFieldDecoderTooLongFrameDiscards(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:          4,
		LengthFieldLength: Width2,
		ByteOrder:         netbuf.BigEndian,
	})

	// declared length 5 + 2-byte header = 7 > maxFrame(4)
	d.OnRead(h, netbuf.New([]byte{0, 5, 'h', 'e', 'l', 'l', 'o'}))
	require.Len(t, h.Exceptions, 1)
	ce, ok := h.Exceptions[0].(*codec.CodecError)
	require.True(t, ok)
	assert.Equal(t, codec.KindTooLongFrame, ce.Kind)

	// a subsequent frame that fits within maxFrame decodes normally
	d.OnRead(h, netbuf.New([]byte{0, 2, 'y', 'z'}))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	assert.Equal(t, "\x00\x02yz", string(frame.Bytes()))
}

func TestLengthFieldDecoderStripHelloWorld(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:            1024,
		LengthFieldOffset:   0,
		LengthFieldLength:   Width2,
		InitialBytesToStrip: 2,
		ByteOrder:           netbuf.BigEndian,
		FailFast:            true,
	})

	d.OnRead(h, netbuf.New([]byte{
		0x00, 0x0C, 0x48, 0x45, 0x4C, 0x4C, 0x4F, 0x2C, 0x20, 0x57, 0x4F, 0x52, 0x4C, 0x44,
	}))
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, "HELLO, WORLD", string(h.Inbound[0].(*netbuf.Window).Bytes()))
}

func TestLengthFieldDecoderOffsetAndNegativeAdjustment(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:            1024,
		LengthFieldOffset:   1,
		LengthFieldLength:   Width2,
		LengthAdjustment:    -3,
		InitialBytesToStrip: 3,
		ByteOrder:           netbuf.BigEndian,
	})

	d.OnRead(h, netbuf.New([]byte{
		0xCA, 0x00, 0x10, 0xFE, 0x48, 0x45, 0x4C, 0x4C, 0x4F, 0x2C, 0x20, 0x57, 0x4F, 0x52, 0x4C, 0x44,
	}))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	require.Equal(t, 13, frame.Readable())
	assert.Equal(t, append([]byte{0xFE}, []byte("HELLO, WORLD")...), frame.Bytes())
}

func TestLengthPrependerEncode(t *testing.T) {
	alloc := netbuf.NewAllocator()
	payload := netbuf.New([]byte("hello"))
	p := LengthPrepender{LengthFieldLength: Width2, ByteOrder: netbuf.BigEndian}

	out, err := p.Encode(alloc, payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 5, 'h', 'e', 'l', 'l', 'o'}, out.Bytes())
}

func TestLengthField3ByteLittleEndian(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLengthFieldDecoder(LengthFieldConfig{
		MaxFrame:          1 << 16,
		LengthFieldLength: Width3,
		ByteOrder:         netbuf.LittleEndian,
	})

	// length=3 little-endian 3-byte header, payload "abc"
	d.OnRead(h, netbuf.New([]byte{3, 0, 0, 'a', 'b', 'c'}))
	require.Len(t, h.Inbound, 1)
	frame := h.Inbound[0].(*netbuf.Window)
	assert.Equal(t, []byte{3, 0, 0, 'a', 'b', 'c'}, frame.Bytes())
}
