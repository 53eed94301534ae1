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

// Package netchannel implements the per-channel runtime that corenet's
// decoding/TLS/pool layers are built against:
// a per-channel serialized event loop, a write-future/promise, a
// thread-safe attribute slot, and the push-style Context every handler
// receives.
//
// This mirrors connstream.Stream's invariant that a single Stream's
// read/write path is always serial, never concurrent: every EventLoop
// instance pins all of its task execution to one goroutine, the way a
// real Channel pins all handler callbacks to its owning event loop.
package netchannel

import (
	"sync/atomic"
	"time"
)

// EventLoop 是单个 Channel 专属的串行任务执行器
//
// 所有对 handler 本地状态（cumulation、聚合状态、TLS 状态……）的变更
// 都必须发生在其所属 Channel 的 EventLoop 上 跨线程调用必须先 Execute 派发
type EventLoop struct {
	tasks  chan func()
	closed chan struct{}
	inLoop atomic.Bool
}

// NewEventLoop 创建并启动一个 EventLoop 的后台 goroutine
func NewEventLoop() *EventLoop {
	el := &EventLoop{
		tasks:  make(chan func(), 256),
		closed: make(chan struct{}),
	}
	go el.run()
	return el
}

func (el *EventLoop) run() {
	for {
		select {
		case task := <-el.tasks:
			el.runTask(task)
		case <-el.closed:
			// 排空剩余任务后退出 保证已提交任务不会被静默丢弃
			for {
				select {
				case task := <-el.tasks:
					el.runTask(task)
				default:
					return
				}
			}
		}
	}
}

func (el *EventLoop) runTask(task func()) {
	el.inLoop.Store(true)
	defer el.inLoop.Store(false)
	task()
}

// InLoop 返回当前调用是否正发生在该 EventLoop 正在执行的任务回调内
//
// 这是一个近似判断：仅在 Execute/Schedule 派发的回调执行期间为 true
// 足以支撑 "跨线程调用前必须判断并派发" 的防御性检查
func (el *EventLoop) InLoop() bool {
	return el.inLoop.Load()
}

// Execute 把 task 派发到该 EventLoop 串行执行 立即返回 不等待完成
func (el *EventLoop) Execute(task func()) {
	select {
	case el.tasks <- task:
	case <-el.closed:
	}
}

// Schedule 在 delay 后把 task 派发到该 EventLoop 执行 返回可用于取消的句柄
func (el *EventLoop) Schedule(task func(), delay time.Duration) *Timer {
	t := time.AfterFunc(delay, func() {
		el.Execute(task)
	})
	return &Timer{t: t}
}

// Close 停止该 EventLoop 已提交的任务仍会被排空执行
func (el *EventLoop) Close() {
	select {
	case <-el.closed:
	default:
		close(el.closed)
	}
}

// Timer 包装 time.Timer 提供 Stop 语义 用于取消 pending acquire / handshake 超时
type Timer struct {
	t *time.Timer
}

// Stop 取消定时器 返回是否在触发前成功取消
func (tm *Timer) Stop() bool {
	if tm == nil || tm.t == nil {
		return true
	}
	return tm.t.Stop()
}
