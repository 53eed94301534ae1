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

package framing

import "github.com/packetd/packetd/corenet/netbuf"

// Cumulator 决定新到达的字节如何并入现有 cumulation
//
// cumulation 可能为 nil（尚未持有任何数据）input 永远被消费（要么合并
// 要么作为 composite 分量被持有）调用方不应在调用之后继续使用 input
type Cumulator func(alloc netbuf.Allocator, cumulation, input *netbuf.Window) *netbuf.Window

// MergeCumulator 是默认策略：把 input 写入已有 cumulation
//
// 如果已有 cumulation 放不下（超过其 maxCapacity）或者被其他人共享
// （引用计数 > 1）则分配一块足够大的新 buffer 拷贝可读数据后再追加
func MergeCumulator(alloc netbuf.Allocator, cumulation, input *netbuf.Window) *netbuf.Window {
	if cumulation == nil {
		defer input.Release()
		out := alloc.Buffer(input.Readable())
		_ = out.WriteBytesFrom(input)
		return out
	}
	defer input.Release()

	needsRealloc := cumulation.RefCount() > 1 || cumulation.Writable() < input.Readable()
	if !needsRealloc {
		_ = cumulation.WriteBytesFrom(input)
		return cumulation
	}

	grown := alloc.Buffer(cumulation.Readable() + input.Readable())
	_ = grown.WriteBytes(cumulation.Bytes())
	cumulation.Release()
	_ = grown.WriteBytesFrom(input)
	return grown
}

// CompositeCumulator 是零拷贝策略：cumulation 独占（引用计数为 1）且
// 已是 composite 时直接把 input 追加为一个分量 其余情况（共享、非
// composite、容量不足）该步退回 merge 路径
//
// composite cumulation 的随机访问与扫描由 netbuf 的跨分量读取路径支撑
// 只有 Bytes 和跨分量切片才会真正拷贝
func CompositeCumulator(alloc netbuf.Allocator, cumulation, input *netbuf.Window) *netbuf.Window {
	if cumulation == nil {
		out := netbuf.NewCompositeWindow(netbuf.DefaultMaxCapacity)
		if err := out.AppendComponent(input); err != nil {
			out.Release()
			return MergeCumulator(alloc, nil, input)
		}
		return out
	}
	if cumulation.RefCount() == 1 && cumulation.IsComposite() {
		if err := cumulation.AppendComponent(input); err == nil {
			return cumulation
		}
	}
	return MergeCumulator(alloc, cumulation, input)
}
