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

package netchannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopExecuteIsSerialized(t *testing.T) {
	el := NewEventLoop()
	defer el.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		el.Execute(func() {
			order = append(order, i)
			if i == 4 {
				close(done)
			}
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for tasks")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEventLoopInLoop(t *testing.T) {
	el := NewEventLoop()
	defer el.Close()

	assert.False(t, el.InLoop())

	result := make(chan bool, 1)
	el.Execute(func() {
		result <- el.InLoop()
	})
	assert.True(t, <-result)
}

func TestFutureCompleteAndWait(t *testing.T) {
	f, p := NewFuture[int]()
	go p.Complete(42, nil)
	v, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestFutureOnCompleteAfterFinish(t *testing.T) {
	f := Completed[string]("done", nil)
	var got string
	f.OnComplete(func(v string, err error) {
		got = v
	})
	assert.Equal(t, "done", got)
}

func TestAttributesCompareAndSet(t *testing.T) {
	attrs := NewAttributes()
	assert.True(t, attrs.CompareAndSet("owner", nil, "pool-a"))
	assert.False(t, attrs.CompareAndSet("owner", nil, "pool-b"))

	v, ok := attrs.Get("owner")
	require.True(t, ok)
	assert.Equal(t, "pool-a", v)
}

func TestHarnessRecordsInboundAndWrites(t *testing.T) {
	h := NewHarness()
	h.FireInbound("hello")
	h.WriteAndFlush("world")

	assert.Equal(t, []any{"hello"}, h.Inbound)
	assert.Equal(t, "world", h.LastWritten())
	assert.Equal(t, 1, h.Flushed)
}
