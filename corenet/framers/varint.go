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

// maxVarintBytes base-128 little-endian septets 最多 5 字节
// 可以表示一个 32 位无符号长度
const maxVarintBytes = 5

// VarintConfig 是 varint 长度前缀解码器的可调参数
type VarintConfig struct {
	MaxFrame int
}

// NewVarintDecoder 构造一个 varint 长度前缀解码器
func NewVarintDecoder(cfg VarintConfig) *framing.Decoder {
	return framing.NewDecoder(func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		return decodeVarint(cfg, in)
	})
}

func decodeVarint(cfg VarintConfig, in *netbuf.Window) ([]any, error) {
	length, n, err := peekVarint(in)
	if err != nil {
		if err == errVarintIncomplete {
			return nil, nil
		}
		return nil, err
	}

	if cfg.MaxFrame > 0 && length > cfg.MaxFrame {
		return nil, codec.TooLongFrame("varint frame length %d exceeds max %d", length, cfg.MaxFrame)
	}

	if in.Readable() < n+length {
		return nil, nil
	}

	in.Discard(n)
	frame, err := in.ReadSlice(length)
	if err != nil {
		return nil, err
	}
	return []any{frame}, nil
}

var errVarintIncomplete = codec.New(codec.KindDecoding, "varint is incomplete")

// peekVarint 在不消费数据的情况下尝试解析 reader 处的 varint 长度域
// 返回解出的长度值 占用的字节数 以及错误
func peekVarint(in *netbuf.Window) (length int, consumed int, err error) {
	var result uint32
	base := in.Reader()
	for i := 0; i < maxVarintBytes; i++ {
		if in.Readable() <= i {
			return 0, 0, errVarintIncomplete
		}
		b, gerr := in.GetUint8(base + i)
		if gerr != nil {
			return 0, 0, gerr
		}
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			if int32(result) < 0 {
				return 0, 0, codec.CorruptedFrame("negative varint length %d", int32(result))
			}
			return int(result), i + 1, nil
		}
	}
	return 0, 0, codec.CorruptedFrame("varint length prefix longer than %d bytes", maxVarintBytes)
}

// EncodeVarint 把 v 按 base-128 little-endian septet 编码写入 out
func EncodeVarint(out *netbuf.Window, v uint32) error {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		if err := out.WriteUint8(b); err != nil {
			return err
		}
		if v == 0 {
			return nil
		}
	}
}

// VarintPrepender 编码时写出 varint 长度前缀 + payload
type VarintPrepender struct{}

// Encode 把 payload 写入 out 之前先写入 varint 编码的长度前缀
func (VarintPrepender) Encode(alloc netbuf.Allocator, payload *netbuf.Window) (*netbuf.Window, error) {
	out := alloc.Buffer(maxVarintBytes + payload.Readable())
	if err := EncodeVarint(out, uint32(payload.Readable())); err != nil {
		return nil, codec.Encoding("write varint length: %v", err)
	}
	if err := out.WriteBytes(payload.Bytes()); err != nil {
		return nil, codec.Encoding("write payload: %v", err)
	}
	return out, nil
}
