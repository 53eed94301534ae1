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

package netbuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowReadWriteCursors(t *testing.T) {
	w := New([]byte("HELLO, WORLD"))
	assert.Equal(t, 12, w.Readable())
	assert.Equal(t, 0, w.Reader())

	b, err := w.ReadSlice(5)
	require.NoError(t, err)
	defer b.Release()
	assert.Equal(t, "HELLO", string(b.Bytes()))
	assert.Equal(t, 5, w.Reader())
	assert.Equal(t, 7, w.Readable())
}

func TestWindowSliceSharesRefcount(t *testing.T) {
	w := New([]byte("abcdef"))
	assert.EqualValues(t, 1, w.RefCount())

	view, err := w.Slice(0, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, w.RefCount())
	assert.True(t, view.IsBorrowed())

	assert.False(t, view.Release())
	assert.EqualValues(t, 1, w.RefCount())
}

func TestWindowFixedWidthBigEndian(t *testing.T) {
	w := NewSized(16, 16)
	require.NoError(t, w.WriteUint32(0x01020304, BigEndian))
	v, err := w.GetUint32(0, BigEndian)
	require.NoError(t, err)
	assert.EqualValues(t, 0x01020304, v)

	v24, err := w.GetUint24(1, BigEndian)
	require.NoError(t, err)
	assert.EqualValues(t, 0x020304, v24)
}

func TestWindowFixedWidthLittleEndian(t *testing.T) {
	w := NewSized(16, 16)
	require.NoError(t, w.WriteUint16(0x0102, LittleEndian))
	v, err := w.GetUint16(0, LittleEndian)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0102, v)
}

func TestWindowDiscardReadBytes(t *testing.T) {
	w := New([]byte("0123456789"))

	b, err := w.ReadSlice(4)
	require.NoError(t, err)
	b.Release()

	assert.True(t, w.DiscardReadBytes())
	assert.Equal(t, "456789", string(w.Bytes()))
}

func TestWindowDiscardReadBytesRefusesSharedOrBorrowed(t *testing.T) {
	w := New([]byte("0123456789"))
	view, err := w.Slice(0, 4)
	require.NoError(t, err)

	assert.False(t, w.DiscardReadBytes(), "refcount > 1, compaction must be refused")
	view.Release()

	assert.False(t, view.DiscardReadBytes(), "borrowed window must never compact")
}

func TestWindowForEachByte(t *testing.T) {
	w := New([]byte("foo\nbar"))
	idx := w.ForEachByte(func(b byte) bool { return b == '\n' })
	assert.Equal(t, 3, idx)

	none := w.ForEachByte(func(b byte) bool { return b == 'Z' })
	assert.Equal(t, -1, none)
}

func TestWindowWriteBytesFrom(t *testing.T) {
	src := New([]byte("payload"))
	dst := NewSized(32, 32)
	require.NoError(t, dst.WriteBytesFrom(src))
	assert.Equal(t, "payload", string(dst.Bytes()))
	assert.Equal(t, 0, src.Readable())
}

func TestCompositeAddAndBytes(t *testing.T) {
	c := NewComposite(4)
	a := New([]byte("abc"))
	b := New([]byte("def"))
	assert.True(t, c.AddComponent(a))
	assert.True(t, c.AddComponent(b))
	assert.Equal(t, "abcdef", string(c.Bytes()))
	assert.Equal(t, 6, c.Readable())
	c.Release()
}

func TestCompositeWindowRandomAccessSpansParts(t *testing.T) {
	w := NewCompositeWindow(DefaultMaxCapacity)
	require.NoError(t, w.AppendComponent(New([]byte{0x01, 0x02})))
	require.NoError(t, w.AppendComponent(New([]byte{0x03, 0x04})))

	assert.True(t, w.IsComposite())
	assert.Equal(t, 4, w.Readable())
	assert.Equal(t, 2, w.ComponentCount())

	v, err := w.GetUint16(1, BigEndian)
	require.NoError(t, err)
	assert.EqualValues(t, 0x0203, v)
	assert.Equal(t, []byte{1, 2, 3, 4}, w.Bytes())

	idx := w.ForEachByte(func(b byte) bool { return b == 0x04 })
	assert.Equal(t, 3, idx)
}

func TestCompositeWindowSliceSinglePartSharesStorage(t *testing.T) {
	w := NewCompositeWindow(DefaultMaxCapacity)
	require.NoError(t, w.AppendComponent(New([]byte("abc"))))
	require.NoError(t, w.AppendComponent(New([]byte("def"))))

	view, err := w.Slice(3, 3)
	require.NoError(t, err)
	assert.Equal(t, "def", string(view.Bytes()))
	assert.EqualValues(t, 2, w.RefCount())
	view.Release()

	cross, err := w.Slice(2, 2)
	require.NoError(t, err)
	assert.Equal(t, "cd", string(cross.Bytes()))
	assert.EqualValues(t, 1, w.RefCount(), "cross-part slice is an independent copy")
	cross.Release()
	w.Release()
}

func TestCompositeWindowDiscardReadBytesDropsConsumedParts(t *testing.T) {
	w := NewCompositeWindow(DefaultMaxCapacity)
	require.NoError(t, w.AppendComponent(New([]byte("abc"))))
	require.NoError(t, w.AppendComponent(New([]byte("def"))))

	w.Discard(4)
	require.True(t, w.DiscardReadBytes())
	assert.Equal(t, 1, w.ComponentCount())
	assert.Equal(t, "ef", string(w.Bytes()))
	w.Release()
}

func TestCompositeAppendCopyBeyondComponentCap(t *testing.T) {
	c := NewComposite(2)
	require.True(t, c.AddComponent(New([]byte("ab"))))
	require.True(t, c.AddComponent(New([]byte("cd"))))

	extra := New([]byte("ef"))
	assert.False(t, c.AddComponent(extra))
	require.NoError(t, c.AppendCopy(extra))
	extra.Release()

	more := New([]byte("gh"))
	require.NoError(t, c.AppendCopy(more))
	more.Release()

	assert.Equal(t, "abcdefgh", string(c.Bytes()))
	assert.Equal(t, 8, c.Readable())
	c.Release()
}

func TestAllocatorBuffer(t *testing.T) {
	alloc := NewAllocator()
	w := alloc.Buffer(64)
	require.NoError(t, w.WriteBytes([]byte("hi")))
	assert.Equal(t, "hi", string(w.Bytes()))
}
