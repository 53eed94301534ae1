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

import "github.com/packetd/packetd/corenet/netbuf"

// Context 是 handler 与 pipeline 之间的桥：每个 handler 通过它
// 向上/向下游传递事件、发起写入、并访问 Channel 级别的共享能力
//
// 实现方（真实的 socket 传输、或测试用的 Harness）必须保证：
//   - FireInbound 按产生顺序转发
//   - WriteAsync/WriteAndFlush 遵循 FIFO
//   - 所有方法只能从该 Channel 的 EventLoop 上调用
type Context interface {
	// FireInbound 把 msg 转发给下一个 inbound handler
	FireInbound(msg any)

	// FireInboundComplete 通知一轮 inbound 事件处理完成
	FireInboundComplete()

	// FireUserEvent 转发一个用户自定义事件（如握手完成/失败）
	FireUserEvent(evt any)

	// FireException 转发一个解码/编码过程中产生的异常
	FireException(err error)

	// Read 显式请求底层传输再读取一次（auto-read 关闭时使用）
	Read()

	// WriteAsync 发起一次异步写 不自动 flush
	WriteAsync(msg any) *Future[any]

	// WriteAndFlush 发起一次异步写并立即 flush
	WriteAndFlush(msg any) *Future[any]

	// Flush 把已提交但未发送的写操作真正发送出去
	Flush()

	// CloseAsync 关闭 Channel
	CloseAsync() *Future[any]

	// Allocator 返回该 Channel 关联的 buffer 分配器
	Allocator() netbuf.Allocator

	// EventLoop 返回该 Channel 专属的串行执行器
	EventLoop() *EventLoop

	// Attributes 返回该 Channel 的线程安全属性槽位集合
	Attributes() *Attributes
}
