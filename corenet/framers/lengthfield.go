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

// Package framers implements concrete frame decoders/encoders
// (length-field, line, multi-delimiter, varint, JSON object) built on
// top of corenet/framing's cumulate-then-decode engine.
package framers

import (
	"github.com/pkg/errors"

	"github.com/packetd/packetd/common"
	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

func newError(format string, args ...any) error {
	format = "framers: " + format
	return errors.Errorf(format, args...)
}

// LengthFieldWidth 枚举长度字段允许的字节宽度
type LengthFieldWidth uint8

const (
	Width1 LengthFieldWidth = 1
	Width2 LengthFieldWidth = 2
	Width3 LengthFieldWidth = 3
	Width4 LengthFieldWidth = 4
	Width8 LengthFieldWidth = 8
)

// LengthFieldConfig 是长度域解码器的全部可调参数
type LengthFieldConfig struct {
	MaxFrame           int
	LengthFieldOffset  int
	LengthFieldLength  LengthFieldWidth
	LengthAdjustment   int
	InitialBytesToStrip int
	ByteOrder          netbuf.ByteOrder
	FailFast           bool
}

// LengthFieldConfigFromOptions 从 common.Options 构造配置 供
// confengine 动态加载的场景使用（config:"..." 标签见各字段别名）
func LengthFieldConfigFromOptions(o common.Options) (LengthFieldConfig, error) {
	cfg := LengthFieldConfig{ByteOrder: netbuf.BigEndian}
	if v, err := o.GetInt("maxFrame"); err == nil {
		cfg.MaxFrame = v
	}
	if v, err := o.GetInt("lengthFieldOffset"); err == nil {
		cfg.LengthFieldOffset = v
	}
	if v, err := o.GetInt("lengthFieldLength"); err == nil {
		cfg.LengthFieldLength = LengthFieldWidth(v)
	}
	if v, err := o.GetInt("lengthAdjustment"); err == nil {
		cfg.LengthAdjustment = v
	}
	if v, err := o.GetInt("initialBytesToStrip"); err == nil {
		cfg.InitialBytesToStrip = v
	}
	if v, err := o.GetBool("littleEndian"); err == nil && v {
		cfg.ByteOrder = netbuf.LittleEndian
	}
	if v, err := o.GetBool("failFast"); err == nil {
		cfg.FailFast = v
	}
	return cfg, nil
}

// lengthFieldEndOffset 是长度字段结束处的偏移（offset + width）
func (c LengthFieldConfig) lengthFieldEndOffset() int {
	return c.LengthFieldOffset + int(c.LengthFieldLength)
}

type lengthFieldState struct {
	discarding    bool
	bytesToDiscard int
	tooLongLength int
}

// NewLengthFieldDecoder 构造一个按长度域切帧的解码器
func NewLengthFieldDecoder(cfg LengthFieldConfig) *framing.Decoder {
	st := &lengthFieldState{}
	return framing.NewDecoder(func(ctx netchannel.Context, in *netbuf.Window, eos bool) ([]any, error) {
		return decodeLengthField(cfg, st, in)
	})
}

func decodeLengthField(cfg LengthFieldConfig, st *lengthFieldState, in *netbuf.Window) ([]any, error) {
	if st.discarding {
		n := in.Readable()
		if n > st.bytesToDiscard {
			n = st.bytesToDiscard
		}
		in.Discard(n)
		st.bytesToDiscard -= n
		if st.bytesToDiscard > 0 {
			return nil, nil
		}
		st.discarding = false
		if !cfg.FailFast {
			tooLong := st.tooLongLength
			st.tooLongLength = 0
			return nil, codec.TooLongFrame("frame length %d exceeds max %d", tooLong, cfg.MaxFrame)
		}
		return nil, nil
	}

	endOffset := cfg.lengthFieldEndOffset()
	if in.Readable() < endOffset {
		return nil, nil
	}

	unadjusted, err := readLengthField(in, cfg)
	if err != nil {
		return nil, err
	}
	if unadjusted < 0 {
		return nil, codec.CorruptedFrame("negative length field value %d", unadjusted)
	}

	frameLength := unadjusted + cfg.LengthAdjustment + endOffset
	if frameLength < endOffset {
		return nil, codec.CorruptedFrame("adjusted frame length (%d) is less than lengthFieldEndOffset (%d)", frameLength, endOffset)
	}

	if frameLength > cfg.MaxFrame {
		discard := frameLength - in.Readable()
		if discard <= 0 {
			// 整帧已经在缓冲区中：丢弃该帧并立即失败 无需等待更多字节
			in.Discard(frameLength)
			return nil, codec.TooLongFrame("frame length %d exceeds max %d", frameLength, cfg.MaxFrame)
		}
		in.Discard(in.Readable())
		st.discarding = true
		st.bytesToDiscard = discard
		st.tooLongLength = frameLength
		if cfg.FailFast {
			return nil, codec.TooLongFrame("frame length %d exceeds max %d", frameLength, cfg.MaxFrame)
		}
		return nil, nil
	}

	if in.Readable() < frameLength {
		return nil, nil
	}

	if cfg.InitialBytesToStrip > frameLength {
		return nil, codec.CorruptedFrame("initialBytesToStrip (%d) exceeds frameLength (%d)", cfg.InitialBytesToStrip, frameLength)
	}

	in.Discard(cfg.InitialBytesToStrip)
	payloadLen := frameLength - cfg.InitialBytesToStrip
	frame, err := in.ReadSlice(payloadLen)
	if err != nil {
		return nil, err
	}
	return []any{frame}, nil
}

func readLengthField(in *netbuf.Window, cfg LengthFieldConfig) (int, error) {
	idx := in.Reader() + cfg.LengthFieldOffset
	switch cfg.LengthFieldLength {
	case Width1:
		v, err := in.GetUint8(idx)
		return int(v), err
	case Width2:
		v, err := in.GetUint16(idx, cfg.ByteOrder)
		return int(v), err
	case Width3:
		v, err := in.GetUint24(idx, cfg.ByteOrder)
		return int(v), err
	case Width4:
		v, err := in.GetUint32(idx, cfg.ByteOrder)
		return int(v), err
	case Width8:
		v, err := in.GetUint64(idx, cfg.ByteOrder)
		return int(int64(v)), err
	default:
		return 0, newError("unsupported length field width %d", cfg.LengthFieldLength)
	}
}

// LengthPrepender 编码时写出长度前缀再写出原始 payload
type LengthPrepender struct {
	LengthFieldLength LengthFieldWidth
	LengthAdjustment  int
	ByteOrder         netbuf.ByteOrder
	IncludeSelf       bool
}

// Encode 把 payload 写入 out 之前先写入按配置计算出的长度前缀
func (p LengthPrepender) Encode(alloc netbuf.Allocator, payload *netbuf.Window) (*netbuf.Window, error) {
	length := payload.Readable() + p.LengthAdjustment
	if p.IncludeSelf {
		length += int(p.LengthFieldLength)
	}
	if length < 0 {
		return nil, codec.Encoding("computed length %d is negative", length)
	}
	if !fitsWidth(length, p.LengthFieldLength) {
		return nil, codec.Encoding("computed length %d does not fit in %d bytes", length, p.LengthFieldLength)
	}

	out := alloc.Buffer(int(p.LengthFieldLength) + payload.Readable())
	if err := writeLengthField(out, uint64(length), p.LengthFieldLength, p.ByteOrder); err != nil {
		return nil, err
	}
	if err := out.WriteBytes(payload.Bytes()); err != nil {
		return nil, codec.Encoding("write payload: %v", err)
	}
	return out, nil
}

func fitsWidth(v int, w LengthFieldWidth) bool {
	if v < 0 {
		return false
	}
	switch w {
	case Width1:
		return v <= 0xFF
	case Width2:
		return v <= 0xFFFF
	case Width3:
		return v <= 0xFFFFFF
	case Width4:
		return uint64(v) <= 0xFFFFFFFF
	case Width8:
		return true
	default:
		return false
	}
}

func writeLengthField(out *netbuf.Window, v uint64, w LengthFieldWidth, order netbuf.ByteOrder) error {
	switch w {
	case Width1:
		return out.WriteUint8(uint8(v))
	case Width2:
		return out.WriteUint16(uint16(v), order)
	case Width3:
		b := make([]byte, 3)
		if order == netbuf.LittleEndian {
			b[0], b[1], b[2] = byte(v), byte(v>>8), byte(v>>16)
		} else {
			b[0], b[1], b[2] = byte(v>>16), byte(v>>8), byte(v)
		}
		return out.WriteBytes(b)
	case Width4:
		return out.WriteUint32(uint32(v), order)
	case Width8:
		return out.WriteUint64(v, order)
	default:
		return newError("unsupported length field width %d", w)
	}
}
