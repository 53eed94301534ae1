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
	"bytes"

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// DelimiterConfig 配置多分隔符切帧：在任意一组分隔符中 命中最短帧的
// 那一个分隔符胜出
type DelimiterConfig struct {
	Delimiters     [][]byte
	MaxLength      int
	StripDelimiter bool
	FailFast       bool
}

type delimiterState struct {
	discarding bool
}

// NewDelimiterDecoder 构造一个多分隔符解码器
//
// 当 Delimiters 恰好是 {"\r\n", "\n"} 时退化为行解码器的行为：调用方
// 应优先使用 NewLineBasedDecoder，此处仅作为通用路径的特例验证
func NewDelimiterDecoder(cfg DelimiterConfig) *framing.Decoder {
	if isCRLFOrLF(cfg.Delimiters) {
		return NewLineBasedDecoder(LineBasedConfig{
			MaxLength:      cfg.MaxLength,
			StripDelimiter: cfg.StripDelimiter,
			FailFast:       cfg.FailFast,
		})
	}

	st := &delimiterState{}
	return framing.NewDecoder(func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		return decodeDelimiter(cfg, st, in)
	})
}

func isCRLFOrLF(delims [][]byte) bool {
	if len(delims) != 2 {
		return false
	}
	seen := map[string]bool{}
	for _, d := range delims {
		seen[string(d)] = true
	}
	return seen["\r\n"] && seen["\n"]
}

// findShortestDelimiterMatch 扫描 in 中所有分隔符的出现位置，返回结束
// 最早的那个匹配（帧最短者胜出）及其长度；未命中返回 -1
func findShortestDelimiterMatch(in *netbuf.Window, delims [][]byte) (matchEnd int, delimLen int) {
	buf := in.Bytes()
	best := -1
	bestLen := 0
	for _, d := range delims {
		if len(d) == 0 {
			continue
		}
		idx := bytes.Index(buf, d)
		if idx < 0 {
			continue
		}
		// 帧长等于分隔符起始偏移 更短的帧胜出
		if best < 0 || idx < best {
			best = idx
			bestLen = len(d)
		}
	}
	if best < 0 {
		return -1, 0
	}
	return in.Reader() + best + bestLen, bestLen
}

func decodeDelimiter(cfg DelimiterConfig, st *delimiterState, in *netbuf.Window) ([]any, error) {
	for {
		matchEnd, delimLen := findShortestDelimiterMatch(in, cfg.Delimiters)

		if st.discarding {
			if matchEnd < 0 {
				in.Discard(in.Readable())
				return nil, nil
			}
			in.Discard(matchEnd - in.Reader())
			st.discarding = false
			if !cfg.FailFast {
				return nil, codec.TooLongFrame("frame exceeds max length %d", cfg.MaxLength)
			}
			continue
		}

		if matchEnd < 0 {
			if cfg.MaxLength > 0 && in.Readable() > cfg.MaxLength {
				in.Discard(in.Readable())
				st.discarding = true
				if cfg.FailFast {
					return nil, codec.TooLongFrame("frame exceeds max length %d", cfg.MaxLength)
				}
				continue
			}
			return nil, nil
		}

		frameLen := matchEnd - in.Reader()
		if cfg.MaxLength > 0 && frameLen > cfg.MaxLength {
			in.Discard(frameLen)
			return nil, codec.TooLongFrame("frame exceeds max length %d", cfg.MaxLength)
		}

		frame, err := in.ReadSlice(frameLen)
		if err != nil {
			return nil, err
		}
		if !cfg.StripDelimiter {
			return []any{frame}, nil
		}

		view, err := frame.Slice(frame.Reader(), frame.Readable()-delimLen)
		frame.Release()
		if err != nil {
			return nil, err
		}
		return []any{view}, nil
	}
}
