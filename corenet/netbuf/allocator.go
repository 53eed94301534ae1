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
	"github.com/valyala/bytebufferpool"
)

// Allocator 按容量提示分配 Window 以及分配持有若干分量上限的 Composite
type Allocator interface {
	// Buffer 分配一个初始容量为 capacityHint 的 Window
	Buffer(capacityHint int) *Window

	// Composite 分配一个最多持有 maxComponents 个分量的 Composite
	Composite(maxComponents int) *Composite
}

// pooledAllocator 基于 bytebufferpool 的 Allocator 实现
//
// 复用 internal/labels 中已经在用的 bytebufferpool 以减少小块分配的 GC 压力
type pooledAllocator struct {
	pool        *bytebufferpool.Pool
	maxCapacity int
}

// DefaultMaxCapacity 单个 Window 允许增长到的默认上限
const DefaultMaxCapacity = 1 << 20

// NewAllocator 构造一个基于 bytebufferpool 的默认 Allocator
func NewAllocator() Allocator {
	return &pooledAllocator{pool: new(bytebufferpool.Pool), maxCapacity: DefaultMaxCapacity}
}

func (a *pooledAllocator) Buffer(capacityHint int) *Window {
	bb := a.pool.Get()
	if cap(bb.B) < capacityHint {
		bb.B = make([]byte, 0, capacityHint)
	} else {
		bb.B = bb.B[:0]
	}
	w := New(bb.B)
	w.maxCapacity = a.maxCapacity
	w.setOnRelease(func(buf []byte) {
		bb.B = buf[:0]
		a.pool.Put(bb)
	})
	return w
}

func (a *pooledAllocator) Composite(maxComponents int) *Composite {
	return NewComposite(maxComponents)
}
