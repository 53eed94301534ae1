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

func TestLineBasedDecoderSplitsLF(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLineBasedDecoder(LineBasedConfig{StripDelimiter: true})

	d.OnRead(h, netbuf.New([]byte("line one\nline two\n")))
	require.Len(t, h.Inbound, 2)
	assert.Equal(t, "line one", string(h.Inbound[0].(*netbuf.Window).Bytes()))
	assert.Equal(t, "line two", string(h.Inbound[1].(*netbuf.Window).Bytes()))
}

func TestLineBasedDecoderHandlesCRLF(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLineBasedDecoder(LineBasedConfig{StripDelimiter: true})

	d.OnRead(h, netbuf.New([]byte("hello\r\nworld\r\n")))
	require.Len(t, h.Inbound, 2)
	assert.Equal(t, "hello", string(h.Inbound[0].(*netbuf.Window).Bytes()))
	assert.Equal(t, "world", string(h.Inbound[1].(*netbuf.Window).Bytes()))
}

func TestLineBasedDecoderFragmentedInput(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLineBasedDecoder(LineBasedConfig{MaxLength: 1024, StripDelimiter: true})

	d.OnRead(h, netbuf.New([]byte("foo\r")))
	assert.Len(t, h.Inbound, 0)

	d.OnRead(h, netbuf.New([]byte("\nbar\n")))
	require.Len(t, h.Inbound, 2)
	assert.Equal(t, "foo", string(h.Inbound[0].(*netbuf.Window).Bytes()))
	assert.Equal(t, "bar", string(h.Inbound[1].(*netbuf.Window).Bytes()))
}

func TestLineBasedDecoderKeepsDelimiterWhenNotStripping(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLineBasedDecoder(LineBasedConfig{StripDelimiter: false})

	d.OnRead(h, netbuf.New([]byte("abc\n")))
	require.Len(t, h.Inbound, 1)
	assert.Equal(t, "abc\n", string(h.Inbound[0].(*netbuf.Window).Bytes()))
}

func TestLineBasedDecoderTooLongFailFast(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewLineBasedDecoder(LineBasedConfig{MaxLength: 3, FailFast: true})

	d.OnRead(h, netbuf.New([]byte("toolong\n")))
	require.Len(t, h.Exceptions, 1)
	ce, ok := h.Exceptions[0].(*codec.CodecError)
	require.True(t, ok)
	assert.Equal(t, codec.KindTooLongFrame, ce.Kind)
}

func TestDelimiterDecoderShortestWins(t *testing.T) {
	h := netchannel.NewHarness()
	// Two unrelated terminators in the same stream: whichever one occurs
	// first ends the frame, independent of its position in Delimiters.
	d := NewDelimiterDecoder(DelimiterConfig{
		Delimiters:     [][]byte{[]byte("\n"), []byte(";")},
		StripDelimiter: true,
	})

	d.OnRead(h, netbuf.New([]byte("ab;cd\nef;gh\n")))
	require.Len(t, h.Inbound, 4)
	assert.Equal(t, "ab", string(h.Inbound[0].(*netbuf.Window).Bytes()))
	assert.Equal(t, "cd", string(h.Inbound[1].(*netbuf.Window).Bytes()))
	assert.Equal(t, "ef", string(h.Inbound[2].(*netbuf.Window).Bytes()))
	assert.Equal(t, "gh", string(h.Inbound[3].(*netbuf.Window).Bytes()))
}

func TestDelimiterDecoderCRLFOrLFDelegatesToLineBased(t *testing.T) {
	h := netchannel.NewHarness()
	d := NewDelimiterDecoder(DelimiterConfig{
		Delimiters:     [][]byte{[]byte("\r\n"), []byte("\n")},
		StripDelimiter: true,
	})

	d.OnRead(h, netbuf.New([]byte("foo\r\nbar\n")))
	require.Len(t, h.Inbound, 2)
	assert.Equal(t, "foo", string(h.Inbound[0].(*netbuf.Window).Bytes()))
	assert.Equal(t, "bar", string(h.Inbound[1].(*netbuf.Window).Bytes()))
}
