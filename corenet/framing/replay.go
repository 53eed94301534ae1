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
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// ReplayingDecoder 取代源语言里 "抛异常触发重放" 的隐式控制流
// 子类通过 RequestReplay 显式声明 "数据不够 回到上次 checkpoint 重试"
//
// 典型用法：子类在每次确认一个字段长度足够之前调用 Checkpoint 记录游标
// 一旦发现剩余字节不足以解析下一个字段 调用 RequestReplay 并直接返回
type ReplayingDecoder struct {
	*Decoder

	checkpoint      int
	hasCheckpoint   bool
	replayRequested bool
}

// NewReplayingDecoder 构造一个基于 decodeFunc 的 ReplayingDecoder
//
// decodeFunc 在每次调用前会先把 replay 请求复位；解码函数应在返回前
// 根据情况调用 Checkpoint/RequestReplay
func NewReplayingDecoder(decodeFunc DecodeFunc) *ReplayingDecoder {
	rd := &ReplayingDecoder{}
	rd.Decoder = &Decoder{cumulate: MergeCumulator, decode: rd.wrap(decodeFunc)}
	return rd
}

// Checkpoint 记录当前 cumulation 的 reader 游标 作为下次 RequestReplay
// 的回滚点
func (rd *ReplayingDecoder) Checkpoint() {
	if rd.cumulation == nil {
		return
	}
	rd.checkpoint = rd.cumulation.Reader()
	rd.hasCheckpoint = true
}

// RequestReplay 声明本次数据不足 解码循环应回滚到上一个 checkpoint 并
// 停止本轮解码 等待更多字节到达
func (rd *ReplayingDecoder) RequestReplay() {
	rd.replayRequested = true
}

func (rd *ReplayingDecoder) wrap(inner DecodeFunc) DecodeFunc {
	return func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		rd.replayRequested = false
		startReader := in.Reader()

		out, err := inner(ctx, in, eos)
		if err != nil {
			return nil, err
		}

		if rd.replayRequested {
			if rd.hasCheckpoint {
				_ = in.SeekReader(rd.checkpoint)
			} else {
				_ = in.SeekReader(startReader)
			}
			// 返回空输出且 readable 未变 会让外层 decodeLoop 以为
			// "没有进展需要更多数据" 而正常退出 不会被误判为异常
			return nil, nil
		}

		if len(out) == 0 && in.Reader() == startReader {
			// 既没有消费也没有声明 replay：防止静默死循环
			return nil, newError("replaying decoder made no progress without requesting replay")
		}
		return out, nil
	}
}
