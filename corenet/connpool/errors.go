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

// Package connpool implements a bounded, health-checked channel pool:
// a LIFO/FIFO store of idle channels, acquire/release with a
// concurrency cap, pending-acquire FIFO queueing and acquire-timeout
// policies, plus a registry of pools keyed by an arbitrary identity.
package connpool

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "connpool: " + format
	return errors.Errorf(format, args...)
}

// ErrorKind 区分 PoolError 的四种失败场景
type ErrorKind uint8

const (
	// KindPoolClosed 池已经 Dispose 后再次 acquire/release
	KindPoolClosed ErrorKind = iota
	// KindPoolFull acquired 与 pending 都已达到上限
	KindPoolFull
	// KindAcquireTimedOut pending acquire 等待超过 acquireTimeout
	KindAcquireTimedOut
	// KindNotAcquiredFromThisPool release 的 Channel 不带有本池的身份标记
	KindNotAcquiredFromThisPool
)

func (k ErrorKind) String() string {
	switch k {
	case KindPoolClosed:
		return "PoolClosed"
	case KindPoolFull:
		return "PoolFull"
	case KindAcquireTimedOut:
		return "AcquireTimedOut"
	case KindNotAcquiredFromThisPool:
		return "NotAcquiredFromThisPool"
	default:
		return "PoolError"
	}
}

// PoolError 携带一个可区分的 Kind
//
// Pool 错误只解析（resolve）Acquire/Release 返回的 Future 不会经由
// ctx.FireException 传播到 pipeline 上
type PoolError struct {
	Kind ErrorKind
	msg  string
}

func (e *PoolError) Error() string {
	return "connpool: " + e.Kind.String() + ": " + e.msg
}

func newPoolError(kind ErrorKind, format string, args ...any) *PoolError {
	return &PoolError{Kind: kind, msg: errors.Errorf(format, args...).Error()}
}

// PoolClosed 构造一个 KindPoolClosed 错误
func PoolClosed(format string, args ...any) *PoolError { return newPoolError(KindPoolClosed, format, args...) }

// PoolFull 构造一个 KindPoolFull 错误
func PoolFull(format string, args ...any) *PoolError { return newPoolError(KindPoolFull, format, args...) }

// AcquireTimedOut 构造一个 KindAcquireTimedOut 错误
func AcquireTimedOut(format string, args ...any) *PoolError {
	return newPoolError(KindAcquireTimedOut, format, args...)
}

// NotAcquiredFromThisPool 构造一个 KindNotAcquiredFromThisPool 错误
func NotAcquiredFromThisPool(format string, args ...any) *PoolError {
	return newPoolError(KindNotAcquiredFromThisPool, format, args...)
}

// Is 返回 err 是否为（或包装了）指定 Kind 的 PoolError
func Is(err error, kind ErrorKind) bool {
	var pe *PoolError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == kind
}
