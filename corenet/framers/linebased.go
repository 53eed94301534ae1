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

// LineBasedConfig 是按行切帧解码器的可调参数
//
// 行结束符既可以是单独的 "\n" 也可以是 "\r\n"；两者都被当作一条完整的
// 行，解码器不关心调用方具体用了哪一种
type LineBasedConfig struct {
	MaxLength      int
	StripDelimiter bool
	FailFast       bool
}

type lineBasedState struct {
	discarding bool
}

// NewLineBasedDecoder 构造一个按行切分的解码器 同时识别 CRLF 与 LF
// 并支持可配置的 strip/discard 行为
func NewLineBasedDecoder(cfg LineBasedConfig) *framing.Decoder {
	st := &lineBasedState{}
	return framing.NewDecoder(func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		return decodeLine(cfg, st, in)
	})
}

func decodeLine(cfg LineBasedConfig, st *lineBasedState, in *netbuf.Window) ([]any, error) {
	for {
		lfIdx := findLF(in)

		if st.discarding {
			if lfIdx < 0 {
				in.Discard(in.Readable())
				return nil, nil
			}
			n := lfIdx - in.Reader() + 1
			in.Discard(n)
			st.discarding = false
			if !cfg.FailFast {
				return nil, codec.TooLongFrame("line exceeds max length %d", cfg.MaxLength)
			}
			continue
		}

		if lfIdx < 0 {
			if cfg.MaxLength > 0 && in.Readable() > cfg.MaxLength {
				in.Discard(in.Readable())
				st.discarding = true
				if cfg.FailFast {
					return nil, codec.TooLongFrame("line exceeds max length %d", cfg.MaxLength)
				}
				continue
			}
			return nil, nil
		}

		lineLen := lfIdx - in.Reader() + 1
		if cfg.MaxLength > 0 && lineLen > cfg.MaxLength {
			in.Discard(lineLen)
			return nil, codec.TooLongFrame("line exceeds max length %d", cfg.MaxLength)
		}

		frame, err := in.ReadSlice(lineLen)
		if err != nil {
			return nil, err
		}
		if !cfg.StripDelimiter {
			return []any{frame}, nil
		}

		stripped, err := stripTrailingDelimiter(frame)
		if err != nil {
			return nil, err
		}
		return []any{stripped}, nil
	}
}

// findLF 返回 '\n' 字节的绝对下标 未命中返回 -1
func findLF(in *netbuf.Window) int {
	return in.ForEachByte(func(b byte) bool { return b == '\n' })
}

// stripTrailingDelimiter 去掉 frame 末尾的 "\n" 或 "\r\n"
func stripTrailingDelimiter(frame *netbuf.Window) (*netbuf.Window, error) {
	n := frame.Readable()
	if n == 0 {
		return frame, nil
	}
	strip := 1
	if n >= 2 {
		if b, err := frame.GetUint8(frame.Reader() + n - 2); err == nil && b == '\r' {
			strip = 2
		}
	}
	view, err := frame.Slice(frame.Reader(), n-strip)
	if err != nil {
		frame.Release()
		return nil, err
	}
	frame.Release()
	return view, nil
}
