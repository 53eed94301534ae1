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

package framers

import (
	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// jsonScanState 是逐字节扫描 JSON 边界的状态机状态
type jsonScanState uint8

const (
	jsonInit jsonScanState = iota
	jsonNormal
	jsonArrayStream
	jsonCorrupted
)

// JSONObjectConfig 是 JSON 对象边界解码器的可调参数
type JSONObjectConfig struct {
	MaxFrame int
	// StreamArrayElements 为 true 时，顶层 JSON 数组的每个元素单独作为
	// 一帧产出，而不是等待整个数组闭合
	StreamArrayElements bool
}

type jsonObjectState struct {
	state    jsonScanState
	depth    int
	inString bool
	escaped  bool

	// scanned 记录 reader 之后已经被状态机消化过的字节数 避免跨多次
	// OnRead 重复累计括号深度 该偏移相对 reader 因此在 cumulation
	// 压缩或扩容搬移后依然有效
	scanned int
}

func (st *jsonObjectState) reset() {
	st.state = jsonInit
	st.depth = 0
	st.inString = false
	st.escaped = false
	st.scanned = 0
}

// NewJSONObjectDecoder 构造一个逐字节扫描大括号/方括号深度的 JSON 对象
// 边界解码器 字符串内部的括号与转义引号不计入深度
func NewJSONObjectDecoder(cfg JSONObjectConfig) *framing.Decoder {
	st := &jsonObjectState{state: jsonInit}
	return framing.NewDecoder(func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		return decodeJSONObject(cfg, st, in)
	})
}

func decodeJSONObject(cfg JSONObjectConfig, st *jsonObjectState, in *netbuf.Window) ([]any, error) {
	if st.state == jsonCorrupted {
		return nil, codec.CorruptedFrame("json object decoder is in a corrupted state")
	}

	if cfg.MaxFrame > 0 && in.Readable() > cfg.MaxFrame {
		n := in.Readable()
		in.Discard(n)
		st.reset()
		return nil, codec.TooLongFrame("json frame length %d exceeds max %d", n, cfg.MaxFrame)
	}

	for st.scanned < in.Readable() {
		b, err := in.GetUint8(in.Reader() + st.scanned)
		if err != nil {
			return nil, err
		}

		if st.state == jsonInit {
			if isJSONWhitespace(b) {
				in.Discard(1)
				continue
			}
			switch b {
			case '{':
				st.state = jsonNormal
				st.depth = 1
				st.scanned = 1
			case '[':
				st.depth = 1
				if cfg.StreamArrayElements {
					// 流式数组不保留 "[" 本身 元素从下一个字节起算
					st.state = jsonArrayStream
					in.Discard(1)
				} else {
					st.state = jsonNormal
					st.scanned = 1
				}
			default:
				st.state = jsonCorrupted
				return nil, codec.CorruptedFrame("expected '{' or '[' but found %q", b)
			}
			continue
		}

		i := st.scanned
		st.scanned++

		if st.inString {
			if st.escaped {
				st.escaped = false
			} else if b == '\\' {
				st.escaped = true
			} else if b == '"' {
				st.inString = false
			}
			continue
		}

		switch b {
		case '"':
			st.inString = true
		case '{', '[':
			st.depth++
		case '}', ']':
			st.depth--
			if st.depth < 0 {
				st.state = jsonCorrupted
				return nil, codec.CorruptedFrame("unbalanced json brackets")
			}
			if st.depth == 0 {
				if st.state == jsonArrayStream {
					// 收尾：把最后一个未以逗号结束的元素单独产出
					// 再丢弃 "]" 本身 复位等待下一帧
					elem, err := sliceTrimmed(in, i)
					if err != nil {
						return nil, err
					}
					in.Discard(i + 1)
					st.reset()
					if elem == nil {
						return nil, nil
					}
					return []any{elem}, nil
				}

				frame, err := in.ReadSlice(i + 1)
				if err != nil {
					return nil, err
				}
				st.reset()
				return []any{frame}, nil
			}
		case ',':
			if st.state == jsonArrayStream && st.depth == 1 {
				elem, err := sliceTrimmed(in, i)
				if err != nil {
					return nil, err
				}
				in.Discard(i + 1)
				st.scanned = 0
				if elem == nil {
					continue
				}
				return []any{elem}, nil
			}
		}
	}

	return nil, nil
}

// sliceTrimmed 取出 [reader, reader+n) 去除首尾空白后的保留视图
// 整段均为空白时返回 nil
func sliceTrimmed(in *netbuf.Window, n int) (*netbuf.Window, error) {
	start, length := trimJSONWhitespace(in, in.Reader(), n)
	if length <= 0 {
		return nil, nil
	}
	return in.Slice(start, length)
}

func isJSONWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// trimJSONWhitespace narrows [start, start+n) to exclude leading and
// trailing JSON whitespace, so array elements streamed out of a
// StreamArrayElements decoder never carry the formatting surrounding
// them (e.g. "[ {\"a\":1}, {\"b\":2} ]").
func trimJSONWhitespace(in *netbuf.Window, start, n int) (int, int) {
	end := start + n
	for start < end {
		b, err := in.GetUint8(start)
		if err != nil || !isJSONWhitespace(b) {
			break
		}
		start++
	}
	for end > start {
		b, err := in.GetUint8(end - 1)
		if err != nil || !isJSONWhitespace(b) {
			break
		}
		end--
	}
	return start, end - start
}
