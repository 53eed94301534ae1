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

// Package netbuf implements the reference-counted, cursor-addressed byte
// window that corenet's decoding, framing and TLS layers share data
// through.
//
// A Window never copies on slice: ReadSlice/Slice hand back a view that
// shares the parent's backing array and bumps a refcount the two sides
// share. Only a refcount-unique, parent-less Window may compact or grow
// in place; everything else must allocate.
package netbuf

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
)

func newError(format string, args ...any) error {
	format = "netbuf: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrIndexOutOfRange 越界访问
	ErrIndexOutOfRange = newError("index out of range")

	// ErrNotEnoughReadable 可读字节不足
	ErrNotEnoughReadable = newError("not enough readable bytes")

	// ErrNotEnoughWritable 可写空间不足 且已到达 maxCapacity
	ErrNotEnoughWritable = newError("not enough writable space")
)

// ByteOrder 描述定长整数的字节序
type ByteOrder uint8

const (
	BigEndian ByteOrder = iota
	LittleEndian
)

// refCount is the allocation-wide reference count a Window and every
// view sliced from it share. onRelease, when set, fires exactly once —
// when the shared count reaches zero — with whichever instance's
// buffer was live at that moment, so a pooled allocator can return
// storage to its pool without every view needing to know it came from
// one. onZero likewise fires once at zero; composite windows use it to
// release their components no matter which sharing view hit zero.
type refCount struct {
	n         int32
	onRelease func([]byte)
	onZero    func()
}

// Window 是一个可读写 引用计数的字节窗口
//
// reader <= writer <= capacity 三个游标始终保持这一关系
// 对一个 Window 切片（Slice/ReadSlice）会返回一个与其共享底层数组的新实例
// 并共用同一个引用计数 因此 release 必须成对调用
type Window struct {
	buf         []byte
	reader      int
	writer      int
	maxCapacity int

	rc *refCount

	// parent 非空代表当前 Window 是从别的 Window 切出的视图
	// 借用数据不允许压缩 也不允许就地扩容
	parent *Window

	// composite 为 true 时数据由 parts 逻辑拼接而成 buf 恒为 nil
	// reader/writer 是跨分量的虚拟游标
	composite bool
	parts     []compPart
}

// New 使用已经持有的字节切片构造一个 Window writer 游标置于末尾
//
// 传入的 buf 即为初始可读数据 调用方之后不应再直接修改该切片
func New(buf []byte) *Window {
	return &Window{
		buf:         buf,
		writer:      len(buf),
		maxCapacity: len(buf),
		rc:          &refCount{n: 1},
	}
}

// NewSized 构造一个空 Window 可写入容量为 capacity 最大可扩容到 maxCapacity
func NewSized(capacity, maxCapacity int) *Window {
	if maxCapacity < capacity {
		maxCapacity = capacity
	}
	return &Window{
		buf:         make([]byte, 0, capacity),
		maxCapacity: maxCapacity,
		rc:          &refCount{n: 1},
	}
}

// setOnRelease registers a callback invoked with this Window's current
// buffer the moment the shared refcount reaches zero. Used by
// pooledAllocator to return storage to its bytebufferpool.Pool.
func (w *Window) setOnRelease(fn func([]byte)) {
	w.rc.onRelease = fn
}

// Reader 返回读游标
func (w *Window) Reader() int { return w.reader }

// Writer 返回写游标
func (w *Window) Writer() int { return w.writer }

// Capacity 返回底层数组当前容量 composite 时为分量字节总数
func (w *Window) Capacity() int {
	if w.composite {
		return w.writer
	}
	return cap(w.buf)
}

// MaxCapacity 返回该 Window 允许扩容到的上限
func (w *Window) MaxCapacity() int { return w.maxCapacity }

// Readable 返回可读字节数
func (w *Window) Readable() int { return w.writer - w.reader }

// Writable 返回在不超过 maxCapacity 前提下还能写入的字节数
func (w *Window) Writable() int { return w.maxCapacity - w.writer }

// IsReadable 是否还有未读字节
func (w *Window) IsReadable() bool { return w.Readable() > 0 }

// IsBorrowed 返回此 Window 是否是别的 Window 切出的视图
//
// 借用数据不允许压缩（DiscardReadBytes）也不允许就地扩容写入
func (w *Window) IsBorrowed() bool { return w.parent != nil }

// RefCount 返回当前引用计数
func (w *Window) RefCount() int32 { return atomic.LoadInt32(&w.rc.n) }

// Retain 增加引用计数 返回自身以便链式调用
func (w *Window) Retain() *Window {
	atomic.AddInt32(&w.rc.n, 1)
	return w
}

// Release 减少引用计数 计数归零时返回 true 表示该底层存储可以被回收
//
// 调用方在计数归零后不应再访问 buf 计数归零时会触发 onRelease（如果
// 分配该 Window 的 Allocator 注册了回收回调）
func (w *Window) Release() bool {
	n := atomic.AddInt32(&w.rc.n, -1)
	if n < 0 {
		panic("netbuf: released window with non-positive refcount")
	}
	if n == 0 {
		if w.rc.onRelease != nil {
			w.rc.onRelease(w.buf)
		}
		if w.rc.onZero != nil {
			w.rc.onZero()
		}
		w.buf = nil
		return true
	}
	return false
}

// Bytes 返回可读区间的底层字节 调用方不得修改返回的切片
//
// composite 时此调用会把各分量的可读字节拷贝拼接为一个新切片 追求
// 零拷贝的读取路径应改用 GetUint*/ForEachByte/Slice
func (w *Window) Bytes() []byte {
	if w.composite {
		out := make([]byte, 0, w.writer-w.reader)
		off := 0
		for _, p := range w.parts {
			end := off + len(p.b)
			if end <= w.reader {
				off = end
				continue
			}
			lo := 0
			if w.reader > off {
				lo = w.reader - off
			}
			out = append(out, p.b[lo:]...)
			off = end
		}
		return out
	}
	return w.buf[w.reader:w.writer]
}

// SeekReader 把 reader 游标重置到绝对偏移 idx 用于回放式解码器的
// checkpoint 回滚
func (w *Window) SeekReader(idx int) error {
	if idx < 0 || idx > w.writer {
		return ErrIndexOutOfRange
	}
	w.reader = idx
	return nil
}

// Discard 向前推进 reader n 字节 用于帧解码器的丢弃模式
func (w *Window) Discard(n int) {
	if n > w.Readable() {
		n = w.Readable()
	}
	w.reader += n
}

// DiscardReadBytes 将可读区间搬移到数组起始处 释放已消费空间
// composite 时释放已完全消费的前缀分量 不搬移字节
//
// 仅当引用计数为 1 且非借用数据时才允许执行 否则直接忽略
func (w *Window) DiscardReadBytes() bool {
	if w.IsBorrowed() || w.RefCount() != 1 {
		return false
	}
	if w.composite {
		off, idx := 0, 0
		for _, p := range w.parts {
			if off+len(p.b) > w.reader {
				break
			}
			off += len(p.b)
			if p.win != nil {
				p.win.Release()
			}
			idx++
		}
		if idx > 0 {
			w.parts = append(w.parts[:0], w.parts[idx:]...)
			w.reader -= off
			w.writer -= off
		}
		return true
	}
	if w.reader == 0 {
		return true
	}
	n := copy(w.buf, w.buf[w.reader:w.writer])
	w.buf = w.buf[:n]
	w.writer = n
	w.reader = 0
	return true
}

// Reset 清空可读写区间 仅用于构造阶段或复用场景 不检查引用计数
func (w *Window) Reset() {
	if w.composite {
		for _, p := range w.parts {
			if p.win != nil {
				p.win.Release()
			}
		}
		w.parts = nil
		w.reader = 0
		w.writer = 0
		return
	}
	w.buf = w.buf[:0]
	w.reader = 0
	w.writer = 0
}

// ensureWritable 保证至少还能写入 n 字节 必要时原地扩容（仅非借用数据）
func (w *Window) ensureWritable(n int) error {
	if w.Writable() < n {
		return ErrNotEnoughWritable
	}
	if cap(w.buf)-len(w.buf) >= n {
		return nil
	}
	if w.IsBorrowed() {
		return newError("cannot grow a borrowed window")
	}
	grown := make([]byte, len(w.buf), growCapacity(cap(w.buf), len(w.buf)+n, w.maxCapacity))
	copy(grown, w.buf)
	w.buf = grown
	return nil
}

func growCapacity(cur, need, max int) int {
	if cur == 0 {
		cur = 64
	}
	for cur < need {
		cur *= 2
	}
	if cur > max {
		cur = max
	}
	return cur
}

// WriteBytes 向 Window 追加写入 p 并推进 writer 游标
// composite 时把 p 拷贝为一个自有分量追加到末尾
func (w *Window) WriteBytes(p []byte) error {
	if w.composite {
		if w.Writable() < len(p) {
			return ErrNotEnoughWritable
		}
		if len(p) == 0 {
			return nil
		}
		owned := make([]byte, len(p))
		copy(owned, p)
		w.parts = append(w.parts, compPart{b: owned})
		w.writer += len(p)
		return nil
	}
	if err := w.ensureWritable(len(p)); err != nil {
		return err
	}
	w.buf = append(w.buf[:w.writer], p...)
	w.writer += len(p)
	return nil
}

// WriteBytesFrom 把 src 中全部可读字节写入并消费 src 的 reader 游标
func (w *Window) WriteBytesFrom(src *Window) error {
	if err := w.WriteBytes(src.Bytes()); err != nil {
		return err
	}
	src.reader = src.writer
	return nil
}

// ReadBytesInto 从当前 reader 位置读取至多 n 字节写入 sink 并推进 reader
// composite 时按分量逐段喂给 sink
func (w *Window) ReadBytesInto(sink func([]byte) (int, error), n int) (int, error) {
	if n > w.Readable() {
		n = w.Readable()
	}
	if w.composite {
		total := 0
		off := 0
		for _, p := range w.parts {
			end := off + len(p.b)
			if end <= w.reader {
				off = end
				continue
			}
			lo := 0
			if w.reader > off {
				lo = w.reader - off
			}
			chunk := p.b[lo:]
			if len(chunk) > n-total {
				chunk = chunk[:n-total]
			}
			wrote, err := sink(chunk)
			w.reader += wrote
			total += wrote
			if err != nil || wrote < len(chunk) {
				return total, err
			}
			if total >= n {
				break
			}
			off = end
		}
		return total, nil
	}
	wrote, err := sink(w.buf[w.reader : w.reader+n])
	w.reader += wrote
	return wrote, err
}

// Slice 返回 [idx, idx+n) 区间的共享视图 不移动原 Window 的游标
//
// 返回的 Window 与原 Window 共享底层数组与引用计数 调用方需自行 Release
// composite 时区间落在单一分量内返回共享视图 跨分量则退化为独立拷贝
func (w *Window) Slice(idx, n int) (*Window, error) {
	if w.composite {
		if idx < 0 || n < 0 || idx+n > w.writer {
			return nil, ErrIndexOutOfRange
		}
		off := 0
		for _, p := range w.parts {
			end := off + len(p.b)
			if idx >= off && idx+n <= end {
				lo := idx - off
				view := &Window{
					buf:         p.b[lo : lo+n : lo+n],
					writer:      n,
					maxCapacity: n,
					rc:          w.rc,
					parent:      w,
				}
				w.Retain()
				return view, nil
			}
			off = end
		}
		out := make([]byte, n)
		if _, err := w.span(idx, n, out); err != nil {
			return nil, err
		}
		return New(out), nil
	}
	if idx < 0 || n < 0 || idx+n > len(w.buf) {
		return nil, ErrIndexOutOfRange
	}
	root := w
	if w.parent != nil {
		root = w.parent
	}
	view := &Window{
		buf:         w.buf[idx : idx+n : idx+n],
		writer:      n,
		maxCapacity: n,
		rc:          w.rc,
		parent:      root,
	}
	root.Retain()
	return view, nil
}

// ReadSlice 从 reader 位置切出 n 字节的共享视图 并推进 reader 游标
func (w *Window) ReadSlice(n int) (*Window, error) {
	if n > w.Readable() {
		return nil, ErrNotEnoughReadable
	}
	view, err := w.Slice(w.reader, n)
	if err != nil {
		return nil, err
	}
	w.reader += n
	return view, nil
}

// ForEachByte 从 reader 开始依次扫描可读字节 proc 返回 true 即命中并停止
//
// 返回命中字节相对于 Window 起始（非 reader）的绝对下标 未命中返回 -1
func (w *Window) ForEachByte(proc func(b byte) bool) int {
	if w.composite {
		off := 0
		for _, p := range w.parts {
			if off+len(p.b) <= w.reader {
				off += len(p.b)
				continue
			}
			lo := 0
			if w.reader > off {
				lo = w.reader - off
			}
			for i := lo; i < len(p.b); i++ {
				if proc(p.b[i]) {
					return off + i
				}
			}
			off += len(p.b)
		}
		return -1
	}
	for i := w.reader; i < w.writer; i++ {
		if proc(w.buf[i]) {
			return i
		}
	}
	return -1
}

// --- fixed width random access -------------------------------------------------

func (w *Window) order(o ByteOrder) binary.ByteOrder {
	if o == LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// GetUint8 随机读取绝对下标 idx 处的 1 字节 不移动游标
func (w *Window) GetUint8(idx int) (uint8, error) {
	var s [1]byte
	b, err := w.span(idx, 1, s[:])
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// GetUint16 随机读取绝对下标 idx 处的 2 字节定长整数
func (w *Window) GetUint16(idx int, order ByteOrder) (uint16, error) {
	var s [2]byte
	b, err := w.span(idx, 2, s[:])
	if err != nil {
		return 0, err
	}
	return w.order(order).Uint16(b), nil
}

// GetUint24 随机读取绝对下标 idx 处的 3 字节定长整数（无符号）
func (w *Window) GetUint24(idx int, order ByteOrder) (uint32, error) {
	var s [3]byte
	b, err := w.span(idx, 3, s[:])
	if err != nil {
		return 0, err
	}
	if order == LittleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
	}
	return uint32(b[2]) | uint32(b[1])<<8 | uint32(b[0])<<16, nil
}

// GetUint32 随机读取绝对下标 idx 处的 4 字节定长整数
func (w *Window) GetUint32(idx int, order ByteOrder) (uint32, error) {
	var s [4]byte
	b, err := w.span(idx, 4, s[:])
	if err != nil {
		return 0, err
	}
	return w.order(order).Uint32(b), nil
}

// GetUint64 随机读取绝对下标 idx 处的 8 字节定长整数
func (w *Window) GetUint64(idx int, order ByteOrder) (uint64, error) {
	var s [8]byte
	b, err := w.span(idx, 8, s[:])
	if err != nil {
		return 0, err
	}
	return w.order(order).Uint64(b), nil
}

// SetUint8 随机写入绝对下标 idx 处的 1 字节
func (w *Window) SetUint8(idx int, v uint8) error {
	return w.writeSpan(idx, []byte{v})
}

// SetUint16 随机写入绝对下标 idx 处的 2 字节定长整数
func (w *Window) SetUint16(idx int, v uint16, order ByteOrder) error {
	var b [2]byte
	w.order(order).PutUint16(b[:], v)
	return w.writeSpan(idx, b[:])
}

// SetUint32 随机写入绝对下标 idx 处的 4 字节定长整数
func (w *Window) SetUint32(idx int, v uint32, order ByteOrder) error {
	var b [4]byte
	w.order(order).PutUint32(b[:], v)
	return w.writeSpan(idx, b[:])
}

// SetUint64 随机写入绝对下标 idx 处的 8 字节定长整数
func (w *Window) SetUint64(idx int, v uint64, order ByteOrder) error {
	var b [8]byte
	w.order(order).PutUint64(b[:], v)
	return w.writeSpan(idx, b[:])
}

// ReadUint8 读取并消费 1 字节
func (w *Window) ReadUint8() (uint8, error) {
	v, err := w.GetUint8(w.reader)
	if err != nil {
		return 0, err
	}
	w.reader++
	return v, nil
}

// ReadUint16 读取并消费 2 字节定长整数
func (w *Window) ReadUint16(order ByteOrder) (uint16, error) {
	v, err := w.GetUint16(w.reader, order)
	if err != nil {
		return 0, err
	}
	w.reader += 2
	return v, nil
}

// ReadUint24 读取并消费 3 字节定长整数
func (w *Window) ReadUint24(order ByteOrder) (uint32, error) {
	v, err := w.GetUint24(w.reader, order)
	if err != nil {
		return 0, err
	}
	w.reader += 3
	return v, nil
}

// ReadUint32 读取并消费 4 字节定长整数
func (w *Window) ReadUint32(order ByteOrder) (uint32, error) {
	v, err := w.GetUint32(w.reader, order)
	if err != nil {
		return 0, err
	}
	w.reader += 4
	return v, nil
}

// ReadUint64 读取并消费 8 字节定长整数
func (w *Window) ReadUint64(order ByteOrder) (uint64, error) {
	v, err := w.GetUint64(w.reader, order)
	if err != nil {
		return 0, err
	}
	w.reader += 8
	return v, nil
}

// WriteUint8 写入并推进 1 字节
func (w *Window) WriteUint8(v uint8) error {
	return w.WriteBytes([]byte{v})
}

// WriteUint16 写入并推进 2 字节定长整数
func (w *Window) WriteUint16(v uint16, order ByteOrder) error {
	var b [2]byte
	w.order(order).PutUint16(b[:], v)
	return w.WriteBytes(b[:])
}

// WriteUint32 写入并推进 4 字节定长整数
func (w *Window) WriteUint32(v uint32, order ByteOrder) error {
	var b [4]byte
	w.order(order).PutUint32(b[:], v)
	return w.WriteBytes(b[:])
}

// WriteUint64 写入并推进 8 字节定长整数
func (w *Window) WriteUint64(v uint64, order ByteOrder) error {
	var b [8]byte
	w.order(order).PutUint64(b[:], v)
	return w.WriteBytes(b[:])
}
