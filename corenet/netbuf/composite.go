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

// Composite 将若干 Window 按顺序串联成一个逻辑上连续的可读区间
//
// AddComponent 是零拷贝操作：只会 Retain 传入的 Window 并记录其边界
// 读取时逻辑上跨 component 拼接 AppendCopy 写入的字节拷贝进末位的同一个溢出分量
type Composite struct {
	maxComponents int
	components    []*Window
	readable      int

	// spill 是分量数量达到上限后承接拷贝追加的自有分量 占据末位
	spill *Window
}

// NewComposite 构造一个最多持有 maxComponents 个分量的 Composite
func NewComposite(maxComponents int) *Composite {
	if maxComponents <= 0 {
		maxComponents = 16
	}
	return &Composite{maxComponents: maxComponents}
}

// Len 返回组件数量
func (c *Composite) Len() int { return len(c.components) }

// Readable 返回全部分量可读字节总数
func (c *Composite) Readable() int { return c.readable }

// AddComponent 追加一个分量 会 Retain 该 Window 一次
//
// 超过 maxComponents 时返回 false 调用方应改用 AppendCopy 回退为
// 拷贝追加到末尾的溢出分量
func (c *Composite) AddComponent(w *Window) bool {
	if len(c.components) >= c.maxComponents {
		return false
	}
	w.Retain()
	c.components = append(c.components, w)
	c.readable += w.Readable()
	return true
}

// AppendCopy 把 w 的可读字节拷贝进末尾的溢出分量 不 Retain w
//
// 分量数量上限只约束零拷贝挂载：上限耗尽后继续到达的数据通过这里
// 拷贝累积 溢出分量首次使用时创建并固定占据末位 保证读取顺序不变
func (c *Composite) AppendCopy(w *Window) error {
	n := w.Readable()
	if n == 0 {
		return nil
	}
	if c.spill == nil {
		c.spill = NewSized(n, maxSpillCapacity)
		c.components = append(c.components, c.spill)
	}
	if err := c.spill.WriteBytes(w.Bytes()); err != nil {
		return err
	}
	c.readable += n
	return nil
}

// maxSpillCapacity 溢出分量的扩容上限 字节总量由调用方
// （如 aggregator 的 maxContentLength）约束
const maxSpillCapacity = int(^uint(0) >> 1)

// Components 返回只读的分量切片视图
func (c *Composite) Components() []*Window {
	return c.components
}

// Bytes 将所有分量可读区间拷贝拼接为单一切片 用于需要连续内存的下游消费场景
func (c *Composite) Bytes() []byte {
	out := make([]byte, 0, c.readable)
	for _, w := range c.components {
		out = append(out, w.Bytes()...)
	}
	return out
}

// Release 释放所有持有的分量 Composite 自身不可再使用
func (c *Composite) Release() {
	for _, w := range c.components {
		w.Release()
	}
	c.components = nil
	c.spill = nil
	c.readable = 0
}
