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

// Package aggregator joins a Start/Content*/LastContent run from an
// upstream framer into one buffered envelope, with oversize and
// "continue" handling. It follows the same shape as a multi-packet
// result-set accumulation (header, rows, EOF), generalized behind a
// Hooks interface, with netbuf.Composite as the bounded
// accumulator that backs the in-flight envelope.
package aggregator

import (
	"github.com/pkg/errors"

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

func newError(format string, args ...any) error {
	format = "aggregator: " + format
	return errors.Errorf(format, args...)
}

// AggregationError 标识聚合状态机收到了非法序列的输入
// 例如聚合进行中又收到 Start 或没有 Start 就收到 Content
type AggregationError struct {
	msg string
}

func (e *AggregationError) Error() string {
	return "aggregator: " + e.msg
}

func newAggregationError(format string, args ...any) *AggregationError {
	return &AggregationError{msg: errors.Errorf(format, args...).Error()}
}

// Envelope is the single buffered message an Aggregator emits once a
// Start/Content*/LastContent run completes.
type Envelope struct {
	// Content holds the concatenation of every part's bytes. The
	// aggregator owns this buffer; the handler that receives it via
	// FireInbound is responsible for releasing it.
	Content *netbuf.Window

	// DecodeResult carries Failure if any part of the run reported a
	// decoding failure; downstream handlers should treat the envelope's
	// content as partial in that case.
	DecodeResult framing.DecoderResult
}

// Hooks is the per-protocol contract: predicates that
// classify an inbound message as Start/Content/LastContent/a message
// that is already fully aggregated, plus the lifecycle callbacks that
// shape continue-responses, oversize handling and the final envelope.
type Hooks interface {
	// IsStart reports whether msg begins a new aggregation run.
	IsStart(msg any) bool
	// IsContent reports whether msg is a continuation chunk.
	IsContent(msg any) bool
	// IsLastContent reports whether msg is the terminal chunk of a run.
	IsLastContent(msg any) bool
	// IsAggregated reports whether msg is already a complete, standalone
	// message that does not participate in Start/Content/Last joining.
	IsAggregated(msg any) bool

	// ContentOf extracts the payload bytes carried by msg, or nil if msg
	// carries none (e.g. a Start message with no inline body).
	ContentOf(msg any) *netbuf.Window
	// DecodeResultOf extracts msg's DecoderResult, if any.
	DecodeResultOf(msg any) framing.DecoderResult

	// NewContinueResponse returns a non-nil response to write back to
	// the peer (e.g. HTTP "100 Continue") before reading more content,
	// or nil if none should be sent for this start message.
	NewContinueResponse(start any) any
	// CloseAfterContinueResponse reports whether the channel should be
	// closed after writing the continue response.
	CloseAfterContinueResponse(start any) bool
	// IgnoreContentAfterContinueResponse reports whether content that
	// follows a continue response should be silently dropped.
	IgnoreContentAfterContinueResponse(start any) bool

	// IsContentLengthInvalid reports whether start declares a content
	// length that already violates maxContentLength, before any content
	// has arrived.
	IsContentLengthInvalid(start any, maxContentLength int) bool

	// BeginAggregation constructs the initial Envelope from the start
	// message, before any Content parts are appended.
	BeginAggregation(start any) (*Envelope, error)
	// FinishAggregation gives the subclass a final chance to adjust the
	// envelope (e.g. stamp a computed trailer) before it is emitted.
	FinishAggregation(env *Envelope) error
	// HandleOversizedMessage is invoked when the projected total length
	// exceeds maxContentLength; it returns true if the channel should be
	// closed as a result.
	HandleOversizedMessage(start any) bool
}

// Aggregator holds at most one in-flight aggregation at a time.
//
// Like Decoder, Aggregator is not safe for concurrent use: all methods
// must run on the owning channel's EventLoop.
type Aggregator struct {
	hooks              Hooks
	maxContentLength   int
	maxCumulationParts int

	inFlight      *Envelope
	inFlightStart any
	inFlightParts *netbuf.Composite
	continueSent  bool
	ignoreContent bool
}

// New constructs an Aggregator bounded by maxContentLength total bytes
// across all parts, accumulated in a netbuf.Composite capped at
// maxCumulationComponents zero-copy parts. Only a maxContentLength
// violation is routed through HandleOversizedMessage; exhausting the
// component cap merely switches further parts to copy-append.
func New(hooks Hooks, maxContentLength, maxCumulationComponents int) *Aggregator {
	return &Aggregator{
		hooks:              hooks,
		maxContentLength:   maxContentLength,
		maxCumulationParts: maxCumulationComponents,
	}
}

// OnInbound dispatches over Start/Content/LastContent/
// already-aggregated messages. It returns true if msg was
// consumed by the aggregator (whether or not an envelope was emitted)
// and false if msg should be forwarded unchanged (IsAggregated).
func (a *Aggregator) OnInbound(ctx netchannel.Context, msg any) bool {
	switch {
	case a.hooks.IsAggregated(msg):
		return false
	case a.hooks.IsStart(msg):
		a.onStart(ctx, msg)
		return true
	case a.hooks.IsContent(msg):
		a.onContent(ctx, msg, a.hooks.IsLastContent(msg))
		return true
	default:
		return false
	}
}

func (a *Aggregator) onStart(ctx netchannel.Context, start any) {
	if a.inFlight != nil {
		a.release()
		ctx.FireException(newAggregationError("received start message while an aggregation was already in flight"))
	}
	a.continueSent = false
	a.ignoreContent = false

	if resp := a.hooks.NewContinueResponse(start); resp != nil {
		ctx.WriteAndFlush(resp)
		a.continueSent = true
		if a.hooks.CloseAfterContinueResponse(start) {
			ctx.CloseAsync()
			return
		}
		if a.hooks.IgnoreContentAfterContinueResponse(start) {
			a.ignoreContent = true
		}
	}

	if a.hooks.IsContentLengthInvalid(start, a.maxContentLength) {
		a.handleOversize(ctx, start)
		return
	}

	env, err := a.hooks.BeginAggregation(start)
	if err != nil {
		ctx.FireException(codec.Wrap(codec.KindDecoding, err))
		return
	}

	dr := a.hooks.DecodeResultOf(start)
	if !dr.IsSuccess() && dr.State != framing.Unfinished {
		env.DecodeResult = dr
		a.finishAndEmit(ctx, env)
		return
	}

	if env.Content != nil && env.Content.IsReadable() {
		parts := ctx.Allocator().Composite(a.maxCumulationParts)
		if err := appendPart(parts, env.Content); err != nil {
			env.Content.Release()
			parts.Release()
			ctx.FireException(codec.Wrap(codec.KindDecoding, err))
			return
		}
		// Ownership of the initial body now lives in parts; it is
		// restored onto env.Content, flattened, once the run completes.
		env.Content.Release()
		env.Content = nil
		a.inFlightParts = parts
	}

	a.inFlight = env
	a.inFlightStart = start
}

func (a *Aggregator) onContent(ctx netchannel.Context, msg any, isLast bool) {
	if a.ignoreContent {
		if isLast {
			a.ignoreContent = false
		}
		return
	}
	if a.inFlight == nil {
		ctx.FireException(newAggregationError("received content message with no aggregation in flight"))
		return
	}

	part := a.hooks.ContentOf(msg)
	if part != nil {
		if a.inFlightParts == nil {
			a.inFlightParts = ctx.Allocator().Composite(a.maxCumulationParts)
		}
		projected := a.inFlightParts.Readable() + part.Readable()
		if a.maxContentLength > 0 && projected > a.maxContentLength {
			start := a.inFlightStart
			a.release()
			a.handleOversize(ctx, start)
			part.Release()
			return
		}
		if err := appendPart(a.inFlightParts, part); err != nil {
			a.release()
			ctx.FireException(codec.Wrap(codec.KindDecoding, err))
			part.Release()
			return
		}
		part.Release()
	}

	dr := a.hooks.DecodeResultOf(msg)
	if dr.State == framing.Failure {
		a.inFlight.DecodeResult = dr
		isLast = true
	}

	if isLast {
		env := a.inFlight
		a.inFlight = nil
		a.inFlightStart = nil
		a.finishAndEmit(ctx, env)
	}
}

func (a *Aggregator) finishAndEmit(ctx netchannel.Context, env *Envelope) {
	if parts := a.inFlightParts; parts != nil {
		a.inFlightParts = nil
		flat := netbuf.New(parts.Bytes())
		parts.Release()
		env.Content = flat
	}

	if err := a.hooks.FinishAggregation(env); err != nil {
		ctx.FireException(codec.Wrap(codec.KindDecoding, err))
		if env.Content != nil {
			env.Content.Release()
		}
		return
	}
	ctx.FireInbound(env)
}

func (a *Aggregator) handleOversize(ctx netchannel.Context, start any) {
	shouldClose := a.hooks.HandleOversizedMessage(start)
	if shouldClose {
		ctx.CloseAsync()
		return
	}
	ctx.FireException(codec.TooLongFrame("aggregated message exceeds max content length %d", a.maxContentLength))
}

// appendPart 优先零拷贝挂载分量 分量数量达到上限后回退为拷贝追加
// 组件上限只是零拷贝路径的容量约束 不构成内容长度意义上的超限
func appendPart(parts *netbuf.Composite, w *netbuf.Window) error {
	if parts.AddComponent(w) {
		return nil
	}
	return parts.AppendCopy(w)
}

func (a *Aggregator) release() {
	if a.inFlightParts != nil {
		a.inFlightParts.Release()
		a.inFlightParts = nil
	}
	if a.inFlight == nil {
		return
	}
	if a.inFlight.Content != nil {
		a.inFlight.Content.Release()
	}
	a.inFlight = nil
	a.inFlightStart = nil
}

// OnInactive releases any in-flight aggregation when the channel goes
// inactive.
func (a *Aggregator) OnInactive(ctx netchannel.Context) {
	a.release()
}

// OnRemove releases any in-flight aggregation when the handler is
// removed from the pipeline.
func (a *Aggregator) OnRemove(ctx netchannel.Context) {
	a.release()
}

// InFlight returns the current in-flight envelope, for diagnostics.
func (a *Aggregator) InFlight() *Envelope { return a.inFlight }
