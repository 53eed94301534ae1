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

package aggregator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// startMsg/contentMsg/lastMsg/aggregatedMsg model a minimal HTTP-like
// protocol's message shapes, used purely to exercise the aggregator's
// state machine independent of any concrete wire format.
type startMsg struct {
	declaredLength int
	body           *netbuf.Window
	result         framing.DecoderResult
}

type contentMsg struct {
	data   *netbuf.Window
	result framing.DecoderResult
}

type lastMsg struct {
	data *netbuf.Window
}

type aggregatedMsg struct{}

type testHooks struct {
	continueResponse                    any
	closeAfterContinue                  bool
	ignoreContentAfterContinue          bool
	oversizeShouldClose                 bool
}

func (h *testHooks) IsStart(msg any) bool         { _, ok := msg.(*startMsg); return ok }
func (h *testHooks) IsContent(msg any) bool {
	switch msg.(type) {
	case *contentMsg, *lastMsg:
		return true
	default:
		return false
	}
}
func (h *testHooks) IsLastContent(msg any) bool { _, ok := msg.(*lastMsg); return ok }
func (h *testHooks) IsAggregated(msg any) bool  { _, ok := msg.(aggregatedMsg); return ok }

func (h *testHooks) ContentOf(msg any) *netbuf.Window {
	switch m := msg.(type) {
	case *startMsg:
		return m.body
	case *contentMsg:
		return m.data
	case *lastMsg:
		return m.data
	default:
		return nil
	}
}

func (h *testHooks) DecodeResultOf(msg any) framing.DecoderResult {
	switch m := msg.(type) {
	case *startMsg:
		return m.result
	case *contentMsg:
		return m.result
	default:
		return framing.SuccessResult
	}
}

func (h *testHooks) NewContinueResponse(start any) any { return h.continueResponse }
func (h *testHooks) CloseAfterContinueResponse(start any) bool {
	return h.closeAfterContinue
}
func (h *testHooks) IgnoreContentAfterContinueResponse(start any) bool {
	return h.ignoreContentAfterContinue
}

func (h *testHooks) IsContentLengthInvalid(start any, maxContentLength int) bool {
	s := start.(*startMsg)
	return maxContentLength > 0 && s.declaredLength > maxContentLength
}

func (h *testHooks) BeginAggregation(start any) (*Envelope, error) {
	s := start.(*startMsg)
	env := &Envelope{Content: netbuf.NewSized(64, netbuf.DefaultMaxCapacity)}
	if s.body != nil {
		if err := env.Content.WriteBytesFrom(s.body); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (h *testHooks) FinishAggregation(env *Envelope) error { return nil }

func (h *testHooks) HandleOversizedMessage(start any) bool { return h.oversizeShouldClose }

func TestAggregatorJoinsStartContentLast(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{}
	a := New(hooks, 1<<20, 16)

	a.OnInbound(h, &startMsg{body: netbuf.New([]byte("hello "))})
	assert.Len(t, h.Inbound, 0)

	a.OnInbound(h, &contentMsg{data: netbuf.New([]byte("cruel "))})
	assert.Len(t, h.Inbound, 0)

	a.OnInbound(h, &lastMsg{data: netbuf.New([]byte("world"))})
	require.Len(t, h.Inbound, 1)
	env := h.Inbound[0].(*Envelope)
	assert.Equal(t, "hello cruel world", string(env.Content.Bytes()))
}

func TestAggregatorPassesThroughAlreadyAggregated(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{}
	a := New(hooks, 1<<20, 16)

	consumed := a.OnInbound(h, aggregatedMsg{})
	assert.False(t, consumed)
}

func TestAggregatorComponentCapFallsBackToCopyAppend(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{}
	// 分量上限远小于内容分片数量 但字节总量远低于 maxContentLength
	a := New(hooks, 1<<20, 2)

	a.OnInbound(h, &startMsg{body: netbuf.New([]byte("p0"))})
	for i := 1; i <= 7; i++ {
		a.OnInbound(h, &contentMsg{data: netbuf.New([]byte(fmt.Sprintf("p%d", i)))})
	}
	a.OnInbound(h, &lastMsg{data: netbuf.New([]byte("p8"))})

	assert.Empty(t, h.Exceptions)
	require.Len(t, h.Inbound, 1)
	env := h.Inbound[0].(*Envelope)
	assert.Equal(t, "p0p1p2p3p4p5p6p7p8", string(env.Content.Bytes()))
}

func TestAggregatorOversizeReleasesAndSignals(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{oversizeShouldClose: false}
	a := New(hooks, 5, 16)

	a.OnInbound(h, &startMsg{})
	a.OnInbound(h, &contentMsg{data: netbuf.New([]byte("too long to fit"))})

	assert.Len(t, h.Inbound, 0)
	require.Len(t, h.Exceptions, 1)
	assert.Nil(t, a.InFlight())
}

func TestAggregatorOversizeClosesWhenPolicySaysSo(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{oversizeShouldClose: true}
	a := New(hooks, 5, 16)

	a.OnInbound(h, &startMsg{})
	a.OnInbound(h, &contentMsg{data: netbuf.New([]byte("too long to fit"))})

	assert.True(t, h.IsClosed())
}

func TestAggregatorContinueResponseWrittenBeforeContent(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{continueResponse: "100-continue"}
	a := New(hooks, 1<<20, 16)

	a.OnInbound(h, &startMsg{})
	require.Len(t, h.Written, 1)
	assert.Equal(t, "100-continue", h.Written[0])

	a.OnInbound(h, &lastMsg{data: netbuf.New([]byte("body"))})
	require.Len(t, h.Inbound, 1)
}

func TestAggregatorIgnoresContentAfterContinueWhenConfigured(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{continueResponse: "100-continue", ignoreContentAfterContinue: true}
	a := New(hooks, 1<<20, 16)

	a.OnInbound(h, &startMsg{})
	a.OnInbound(h, &lastMsg{data: netbuf.New([]byte("ignored body"))})

	assert.Len(t, h.Inbound, 0)
}

func TestAggregatorDecodeFailureShortCircuitsToEnvelope(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{}
	a := New(hooks, 1<<20, 16)

	a.OnInbound(h, &startMsg{body: netbuf.New([]byte("partial")), result: framing.FailureResult(assertErr)})
	require.Len(t, h.Inbound, 1)
	env := h.Inbound[0].(*Envelope)
	assert.Equal(t, "partial", string(env.Content.Bytes()))
	assert.Equal(t, framing.Failure, env.DecodeResult.State)
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }

func TestAggregatorOnInactiveReleasesInFlight(t *testing.T) {
	h := netchannel.NewHarness()
	hooks := &testHooks{}
	a := New(hooks, 1<<20, 16)

	a.OnInbound(h, &startMsg{body: netbuf.New([]byte("partial"))})
	require.NotNil(t, a.InFlight())

	a.OnInactive(h)
	assert.Nil(t, a.InFlight())
}
