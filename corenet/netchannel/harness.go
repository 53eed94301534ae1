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

package netchannel

import (
	"sync"

	"github.com/packetd/packetd/corenet/netbuf"
)

// Harness 是一个可直接使用的 Context 参考实现
//
// 真实的传输层（socket、事件循环执行器）不属于 corenet 本身；
// Harness 是调用方在接入真实传输前，用来驱动/测试
// framing、aggregator、tlsbridge、connpool 各层的最小闭环实现：
// inbound 事件被记录到 Inbound，写操作被记录到 Written，关闭/异常同理。
type Harness struct {
	mut sync.Mutex

	el    *EventLoop
	alloc netbuf.Allocator
	attrs *Attributes

	Inbound    []any
	Exceptions []error
	UserEvents []any
	Written    []any
	ReadCount  int
	Flushed    int
	closed     bool

	// OnWrite 可选 每次 WriteAsync/WriteAndFlush 时同步调用 用于把数据
	// 转发到一个伪造的对端（例如 tlsbridge 测试中双方互相喂数据）
	OnWrite func(msg any)

	// OnRead 可选 每次显式 Read() 时调用 用于模拟 auto-read 关闭后的拉取
	OnRead func()

	// OnClose 可选 CloseAsync 时调用
	OnClose func()
}

// NewHarness 构造一个使用独立 EventLoop 的 Harness
func NewHarness() *Harness {
	return &Harness{
		el:    NewEventLoop(),
		alloc: netbuf.NewAllocator(),
		attrs: NewAttributes(),
	}
}

func (h *Harness) FireInbound(msg any) {
	h.mut.Lock()
	h.Inbound = append(h.Inbound, msg)
	h.mut.Unlock()
}

func (h *Harness) FireInboundComplete() {}

func (h *Harness) FireUserEvent(evt any) {
	h.mut.Lock()
	h.UserEvents = append(h.UserEvents, evt)
	h.mut.Unlock()
}

func (h *Harness) FireException(err error) {
	h.mut.Lock()
	h.Exceptions = append(h.Exceptions, err)
	h.mut.Unlock()
}

func (h *Harness) Read() {
	h.mut.Lock()
	h.ReadCount++
	cb := h.OnRead
	h.mut.Unlock()
	if cb != nil {
		cb()
	}
}

func (h *Harness) WriteAsync(msg any) *Future[any] {
	h.mut.Lock()
	h.Written = append(h.Written, msg)
	cb := h.OnWrite
	h.mut.Unlock()
	if cb != nil {
		cb(msg)
	}
	return Completed[any](msg, nil)
}

func (h *Harness) WriteAndFlush(msg any) *Future[any] {
	f := h.WriteAsync(msg)
	h.Flush()
	return f
}

func (h *Harness) Flush() {
	h.mut.Lock()
	h.Flushed++
	h.mut.Unlock()
}

func (h *Harness) CloseAsync() *Future[any] {
	h.mut.Lock()
	h.closed = true
	cb := h.OnClose
	h.mut.Unlock()
	if cb != nil {
		cb()
	}
	h.el.Close()
	return Completed[any](nil, nil)
}

func (h *Harness) Allocator() netbuf.Allocator { return h.alloc }
func (h *Harness) EventLoop() *EventLoop       { return h.el }
func (h *Harness) Attributes() *Attributes     { return h.attrs }

// IsClosed 返回 CloseAsync 是否已被调用 便于测试断言
func (h *Harness) IsClosed() bool {
	h.mut.Lock()
	defer h.mut.Unlock()
	return h.closed
}

// LastWritten 返回最近一次写入的消息 不存在时返回 nil
func (h *Harness) LastWritten() any {
	h.mut.Lock()
	defer h.mut.Unlock()
	if len(h.Written) == 0 {
		return nil
	}
	return h.Written[len(h.Written)-1]
}
