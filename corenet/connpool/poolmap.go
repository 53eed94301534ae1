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

import "sync"

// Factory 为给定的 key 构造一个新 Pool 供 Map 在首次 Get 时调用
type Factory func(key string) *Pool

// Map 按 key 管理多个 Pool：Get 原子地创建或复用一个 Pool
// Remove 在移除前先 Dispose 它
//
// 直接对应 protocol.ConnPool 注册表那套 "map + mutex + 工厂函数" 惯例
// 只是这里缓存的是 Pool 实例而不是协议 Decoder
type Map struct {
	mut     sync.Mutex
	pools   map[string]*Pool
	factory Factory
}

// NewMap 构造一个使用 factory 按需创建 Pool 的 Map
func NewMap(factory Factory) *Map {
	return &Map{pools: make(map[string]*Pool), factory: factory}
}

// Get 返回 key 对应的 Pool 不存在则创建；对同一 key 并发调用 Get 时
// 只有一个创建结果会被保留 输掉竞争的那个实例会被 Dispose 掉
func (m *Map) Get(key string) *Pool {
	m.mut.Lock()
	if p, ok := m.pools[key]; ok {
		m.mut.Unlock()
		return p
	}
	m.mut.Unlock()

	candidate := m.factory(key)

	m.mut.Lock()
	defer m.mut.Unlock()
	if existing, ok := m.pools[key]; ok {
		candidate.Dispose()
		return existing
	}
	m.pools[key] = candidate
	return candidate
}

// Remove 如果 key 存在对应的 Pool 先 Dispose 它再从 Map 中移除
func (m *Map) Remove(key string) {
	m.mut.Lock()
	p, ok := m.pools[key]
	if ok {
		delete(m.pools, key)
	}
	m.mut.Unlock()

	if ok {
		p.Dispose()
	}
}

// Len 返回当前注册的 Pool 数量
func (m *Map) Len() int {
	m.mut.Lock()
	defer m.mut.Unlock()
	return len(m.pools)
}
