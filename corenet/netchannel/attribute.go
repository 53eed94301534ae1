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

// AttributeKey 标识一个挂载在 Channel 上的线程安全槽位
//
// connpool 用它把某个 Channel 标记为 "属于哪一个 Pool"
type AttributeKey string

// Attributes 是 Channel 上挂载的线程安全 key-value 槽位集合
//
// 参照 protocol.ConnPool 的 map + sync.RWMutex 惯例实现
type Attributes struct {
	mut sync.RWMutex
	m   map[AttributeKey]any
}

// NewAttributes 构造一个空的 Attributes 集合
func NewAttributes() *Attributes {
	return &Attributes{m: make(map[AttributeKey]any)}
}

// Get 返回 key 对应的值 不存在返回 (nil, false)
func (a *Attributes) Get(key AttributeKey) (any, bool) {
	a.mut.RLock()
	defer a.mut.RUnlock()
	v, ok := a.m[key]
	return v, ok
}

// Set 设置 key 对应的值
func (a *Attributes) Set(key AttributeKey, v any) {
	a.mut.Lock()
	defer a.mut.Unlock()
	a.m[key] = v
}

// Clear 清除 key
func (a *Attributes) Clear(key AttributeKey) {
	a.mut.Lock()
	defer a.mut.Unlock()
	delete(a.m, key)
}

// CompareAndSet 仅当 key 当前值等于 old 时才设置为 new 返回是否设置成功
//
// 用于 PoolEntry 这种 "标记属于哪个 Pool" 的一次性所有权交接场景
func (a *Attributes) CompareAndSet(key AttributeKey, old, new any) bool {
	a.mut.Lock()
	defer a.mut.Unlock()
	cur, ok := a.m[key]
	if ok && cur != old {
		return false
	}
	if !ok && old != nil {
		return false
	}
	a.m[key] = new
	return true
}
