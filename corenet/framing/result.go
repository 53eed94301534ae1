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

// Package framing implements the cumulation/decode-loop engine that
// corenet's concrete frame decoders (corenet/framers) and the message
// aggregator (corenet/aggregator) are built on top of: it accumulates
// inbound byte fragments and repeatedly invokes a subclass-supplied
// decode step until no further progress can be made.
package framing

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "framing: " + format
	return errors.Errorf(format, args...)
}

// ResultState 描述一次解码尝试的三态结果
type ResultState uint8

const (
	Unfinished ResultState = iota
	Success
	Failure
)

// DecoderResult 附着在半解码消息上的结果标记
type DecoderResult struct {
	State ResultState
	Cause error
}

// UnfinishedResult 是 Unfinished 态的单例值
var UnfinishedResult = DecoderResult{State: Unfinished}

// SuccessResult 是 Success 态的单例值
var SuccessResult = DecoderResult{State: Success}

// FailureResult 构造一个携带 cause 的 Failure 态结果
func FailureResult(cause error) DecoderResult {
	if cause == nil {
		panic("framing: failure result requires a non-nil cause")
	}
	return DecoderResult{State: Failure, Cause: cause}
}

// IsSuccess 返回是否为 Success 态
func (r DecoderResult) IsSuccess() bool { return r.State == Success }

// IsFinished 返回是否已经脱离 Unfinished 态（成功或失败）
func (r DecoderResult) IsFinished() bool { return r.State != Unfinished }
