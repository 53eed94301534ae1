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

package connpool

import (
	"sync"

	"github.com/packetd/packetd/corenet/netchannel"
)

// store 是 LIFO（lastRecentUsed）或 FIFO 的空闲 Channel 容器
// bound 为 0 代表不设容量上限
//
// 所有方法自带锁 可以安全地从任意 goroutine 调用 但调用方（Pool）本身
// 只从其专属 EventLoop 上驱动状态变更 这里的锁只是防御性的
type store struct {
	mut   sync.Mutex
	items []netchannel.Context
	lifo  bool
	bound int
}

func newStore(lifo bool, bound int) *store {
	return &store{lifo: lifo, bound: bound}
}

// push 把 ch 放入存储 容量已满时返回 false 且不持有 ch
func (s *store) push(ch netchannel.Context) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.bound > 0 && len(s.items) >= s.bound {
		return false
	}
	s.items = append(s.items, ch)
	return true
}

// pop 取出一个 Channel LIFO 从末尾取 FIFO 从头部取
func (s *store) pop() (netchannel.Context, bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	if len(s.items) == 0 {
		return nil, false
	}
	if s.lifo {
		ch := s.items[len(s.items)-1]
		s.items[len(s.items)-1] = nil
		s.items = s.items[:len(s.items)-1]
		return ch, true
	}
	ch := s.items[0]
	s.items = s.items[1:]
	return ch, true
}

// len 返回当前存储的空闲 Channel 数量
func (s *store) len() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	return len(s.items)
}

// drain 取出并清空全部存储的 Channel 用于 Dispose
func (s *store) drain() []netchannel.Context {
	s.mut.Lock()
	defer s.mut.Unlock()
	items := s.items
	s.items = nil
	return items
}
