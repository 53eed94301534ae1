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

import "sync"

// Future 代表一个尚未完成的异步操作结果 例如 write_async/close_async 的返回值
//
// 一个 Future 只能被它对应的 Promise 完成一次 重复完成是安全的空操作
type Future[T any] struct {
	mut      sync.Mutex
	done     chan struct{}
	value    T
	err      error
	finished bool
	onDone   []func(T, error)
}

// NewFuture 创建一对 (Future, Promise) 完成 Promise 即唤醒等待的 Future
func NewFuture[T any]() (*Future[T], *Promise[T]) {
	f := &Future[T]{done: make(chan struct{})}
	return f, &Promise[T]{f: f}
}

// Completed 立即返回已经完成的 Future 便于同步路径复用同一接口
func Completed[T any](value T, err error) *Future[T] {
	f, p := NewFuture[T]()
	p.Complete(value, err)
	return f
}

// Wait 阻塞直至 Future 完成并返回其结果
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	f.mut.Lock()
	defer f.mut.Unlock()
	return f.value, f.err
}

// Done 返回一个在 Future 完成时关闭的 channel 可用于 select
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// IsDone 返回 Future 是否已经完成
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// OnComplete 注册完成回调；若已完成则立即（同步）调用
func (f *Future[T]) OnComplete(cb func(T, error)) {
	f.mut.Lock()
	if f.finished {
		v, e := f.value, f.err
		f.mut.Unlock()
		cb(v, e)
		return
	}
	f.onDone = append(f.onDone, cb)
	f.mut.Unlock()
}

// Promise 是 Future 的写端 调用方通过它完成一个尚未就绪的异步操作
type Promise[T any] struct {
	f *Future[T]
}

// Complete 完成关联的 Future 对其多次调用安全但只有首次生效
func (p *Promise[T]) Complete(value T, err error) {
	f := p.f
	f.mut.Lock()
	if f.finished {
		f.mut.Unlock()
		return
	}
	f.finished = true
	f.value = value
	f.err = err
	callbacks := f.onDone
	f.onDone = nil
	f.mut.Unlock()

	close(f.done)
	for _, cb := range callbacks {
		cb(value, err)
	}
}
