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

import (
	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// DecodeFunc 是子类提供的单步解码函数
//
// 每次调用最多从 in 中消费若干字节并产出 0 或多条消息；eos 为 true 时
// 代表这是连接失活前的最后一次调用（应当尽量吐出所有可构造的消息）
type DecodeFunc func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error)

// RawFrame 是 OnRemove 时把未解析完的剩余字节原样转发给下一个 handler
// 所使用的占位消息类型
type RawFrame struct {
	Data *netbuf.Window
}

// Decoder 是 cumulate-then-decode 引擎：累积入站字节并反复调用
// DecodeFunc 直至无法取得进展
//
// Decoder 本身不是线程安全的：所有方法都必须在其所属 Channel 的
// EventLoop 上调用 这与 connstream.Stream 单写者不变量一致
type Decoder struct {
	cumulate     Cumulator
	decode       DecodeFunc
	cumulation   *netbuf.Window
	singleDecode bool
	removed      bool

	lastReadProducedOutput bool
}

// NewDecoder 构造一个使用 MergeCumulator 的 Decoder
func NewDecoder(decode DecodeFunc) *Decoder {
	return &Decoder{cumulate: MergeCumulator, decode: decode}
}

// WithCumulator 替换默认的 cumulator 策略
func (d *Decoder) WithCumulator(c Cumulator) *Decoder {
	d.cumulate = c
	return d
}

// SetSingleDecode 开启后每次 OnRead 最多产出一批消息就停止
func (d *Decoder) SetSingleDecode(v bool) *Decoder {
	d.singleDecode = v
	return d
}

// Cumulation 返回当前持有的 cumulation 仅供测试或诊断使用
func (d *Decoder) Cumulation() *netbuf.Window { return d.cumulation }

// OnRead 把 input 并入 cumulation 后循环解码
// 直至无法继续取得进展 产出的消息按序通过 ctx.FireInbound 转发
func (d *Decoder) OnRead(ctx netchannel.Context, input *netbuf.Window) {
	d.cumulation = d.cumulate(ctx.Allocator(), d.cumulation, input)

	out, err := d.decodeLoop(ctx, false)
	for _, msg := range out {
		ctx.FireInbound(msg)
	}

	if d.cumulation != nil && !d.cumulation.IsReadable() {
		d.cumulation.Release()
		d.cumulation = nil
	}

	d.lastReadProducedOutput = len(out) > 0
	if err != nil {
		ctx.FireException(codec.Wrap(codec.KindDecoding, err))
	}
}

// OnReadComplete 在一轮读取结束后压缩 cumulation（若安全）
// 并在本轮未产出任何消息且 auto-read 关闭时显式请求下一次读取
func (d *Decoder) OnReadComplete(ctx netchannel.Context, autoRead bool) {
	if d.cumulation != nil {
		d.cumulation.DiscardReadBytes()
	}
	if !d.lastReadProducedOutput && !autoRead {
		ctx.Read()
	}
}

// OnInactive 在连接失活时以 end-of-stream=true 再跑一次解码
// 转发残留消息后释放 cumulation
func (d *Decoder) OnInactive(ctx netchannel.Context) {
	if d.cumulation == nil {
		return
	}
	out, _ := d.decodeLoop(ctx, true)
	for _, msg := range out {
		ctx.FireInbound(msg)
	}
	d.cumulation.Release()
	d.cumulation = nil
}

// OnRemove 在 handler 被移除时把剩余可读字节作为 RawFrame 转发 然后释放
func (d *Decoder) OnRemove(ctx netchannel.Context) {
	d.removed = true
	if d.cumulation == nil {
		return
	}
	if d.cumulation.IsReadable() {
		ctx.FireInbound(RawFrame{Data: d.cumulation.Retain()})
	}
	d.cumulation.Release()
	d.cumulation = nil
}

// decodeLoop 每轮记录可读字节数并调用 decode：无产出且无消费则退出
// 等待更多数据；有产出但无消费视为解码器缺陷 直接报错
func (d *Decoder) decodeLoop(ctx netchannel.Context, eos bool) ([]any, error) {
	var produced []any
	for d.cumulation != nil && d.cumulation.IsReadable() {
		if d.removed {
			break
		}
		oldReadable := d.cumulation.Readable()

		out, err := d.decode(ctx, d.cumulation, eos)
		if err != nil {
			return produced, err
		}
		if d.removed {
			break
		}

		newReadable := d.cumulation.Readable()
		if len(out) == 0 {
			if newReadable == oldReadable {
				// 没有消费也没有产出 需要更多数据
				break
			}
			continue
		}

		if newReadable == oldReadable {
			return produced, newError("consumed nothing but decoded a message")
		}

		produced = append(produced, out...)
		if d.singleDecode {
			break
		}
	}
	return produced, nil
}
