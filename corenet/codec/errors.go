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

// Package codec holds the shared codec error taxonomy (CodecError and
// its kinds) so that corenet/framing, corenet/framers,
// corenet/aggregator and corenet/tlsbridge all raise and recognize the
// same error shapes.
package codec

import "github.com/pkg/errors"

// Kind 标识 CodecError 的具体种类
type Kind uint8

const (
	// KindDecoding 通用解码失败 包装了非 CodecError 的异常
	KindDecoding Kind = iota

	// KindCorruptedFrame 帧不变量被破坏（长度字段非法、JSON 首字节非法……）
	KindCorruptedFrame

	// KindTooLongFrame 声明或累积的帧长度超过配置上限
	KindTooLongFrame

	// KindNotSslRecord TLS handler 观察到的记录不是 SSL/TLS 记录
	KindNotSslRecord

	// KindEncoding 编码器拒绝了一个值 或下游写入失败
	KindEncoding

	// KindUnsupportedMessageType 消息类型与类型化编码器期望的类型不符
	KindUnsupportedMessageType
)

func (k Kind) String() string {
	switch k {
	case KindDecoding:
		return "DecodingError"
	case KindCorruptedFrame:
		return "CorruptedFrame"
	case KindTooLongFrame:
		return "TooLongFrame"
	case KindNotSslRecord:
		return "NotSslRecord"
	case KindEncoding:
		return "EncodingError"
	case KindUnsupportedMessageType:
		return "UnsupportedMessageType"
	default:
		return "CodecError"
	}
}

// CodecError 是编解码层的分类错误：携带一个 Kind 和可选的内部 cause
type CodecError struct {
	Kind  Kind
	msg   string
	cause error
}

func (e *CodecError) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.msg + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.msg
}

// Unwrap 支持 errors.Is/errors.As 对内部 cause 的穿透
func (e *CodecError) Unwrap() error { return e.cause }

// New 构造一个不携带内部 cause 的 CodecError
func New(kind Kind, format string, args ...any) *CodecError {
	return &CodecError{Kind: kind, msg: errors.Errorf(format, args...).Error()}
}

// Wrap 把任意错误包装为指定 Kind 的 CodecError
//
// 如果 err 本身已经是 CodecError 直接返回 不重复包装
func Wrap(kind Kind, err error) *CodecError {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*CodecError); ok {
		return ce
	}
	return &CodecError{Kind: kind, msg: "wrapped", cause: err}
}

// Is 返回 err 是否为（或包装了）指定 Kind 的 CodecError
func Is(err error, kind Kind) bool {
	var ce *CodecError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Kind == kind
}

// CorruptedFrame 构造一个 CorruptedFrame 种类的错误
func CorruptedFrame(format string, args ...any) *CodecError {
	return New(KindCorruptedFrame, format, args...)
}

// TooLongFrame 构造一个 TooLongFrame 种类的错误
func TooLongFrame(format string, args ...any) *CodecError {
	return New(KindTooLongFrame, format, args...)
}

// Encoding 构造一个 EncodingError 种类的错误
func Encoding(format string, args ...any) *CodecError {
	return New(KindEncoding, format, args...)
}

// UnsupportedMessageType 构造一个 UnsupportedMessageType 种类的错误
// expected 列出编码器接受的消息类型 用于诊断
func UnsupportedMessageType(got any, expected ...string) *CodecError {
	return New(KindUnsupportedMessageType, "unsupported message type %T, expected one of %v", got, expected)
}

// PrematureClosureError 标识连接在一条消息中途断开：与 CodecError 并列
// 的独立错误类型 由更上层的组件（TLS 握手、消息聚合）在失活时使用
type PrematureClosureError struct {
	msg string
}

func (e *PrematureClosureError) Error() string {
	return "PrematureChannelClosure: " + e.msg
}

// PrematureClosure 构造一个 PrematureClosureError
func PrematureClosure(format string, args ...any) *PrematureClosureError {
	return &PrematureClosureError{msg: errors.Errorf(format, args...).Error()}
}
