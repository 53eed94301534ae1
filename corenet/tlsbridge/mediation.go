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

package tlsbridge

import (
	"io"
	"net"
	"sync"
	"time"
)

// dummyAddr satisfies net.Addr for a mediation stream that has no real
// socket endpoint of its own; the pipeline's underlying Channel is the
// actual transport.
type dummyAddr string

func (d dummyAddr) Network() string { return string(d) }
func (d dummyAddr) String() string  { return string(d) }

// mediationConn is the mediation stream: a virtual byte stream
// presented to crypto/tls in place of a real net.Conn. A
// condition-variable-guarded read queue is fed from the pipeline side
// and drained by a blocking Read on the engine side.
//
// expandSource (the push side, called from the Channel's EventLoop
// when the pipeline delivers more ciphertext) copies its argument
// before queuing it, so the original buffer can be released back to
// the allocator immediately.
type mediationConn struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    [][]byte
	pending  []byte
	closed   bool
	closeErr error

	// onStarved is invoked (outside the lock) the first time Read
	// blocks waiting for more bytes, so the caller can request another
	// pipeline read (ctx.Read()) instead of stalling forever on a
	// Channel with auto-read disabled.
	onStarved func()
	starved   bool

	// onWrite receives each ciphertext chunk crypto/tls hands to
	// Write; the Handler wires it to the downstream Context's
	// WriteAndFlush, dispatched onto the Channel's EventLoop.
	onWrite func([]byte)
}

func newMediationConn(onStarved func(), onWrite func([]byte)) *mediationConn {
	c := &mediationConn{onStarved: onStarved, onWrite: onWrite}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// expandSource delivers more ciphertext bytes into the mediation
// stream's read queue, waking any goroutine blocked in Read.
func (c *mediationConn) expandSource(b []byte) {
	if len(b) == 0 {
		return
	}
	owned := make([]byte, len(b))
	copy(owned, b)

	c.mu.Lock()
	c.queue = append(c.queue, owned)
	c.starved = false
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Read implements net.Conn. It blocks until bytes are available, the
// stream is closed, or an explicit close error is set.
func (c *mediationConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	for len(c.pending) == 0 && len(c.queue) == 0 && !c.closed {
		if !c.starved {
			c.starved = true
			cb := c.onStarved
			c.mu.Unlock()
			if cb != nil {
				cb()
			}
			c.mu.Lock()
			continue
		}
		c.cond.Wait()
	}

	if len(c.pending) == 0 && len(c.queue) > 0 {
		c.pending = c.queue[0]
		c.queue = c.queue[1:]
	}

	if len(c.pending) == 0 {
		err := c.closeErr
		c.mu.Unlock()
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	c.mu.Unlock()
	return n, nil
}

// Write implements net.Conn; every ciphertext record crypto/tls
// produces is handed to onWrite and considered immediately accepted,
// non-blocking from the engine's perspective.
func (c *mediationConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}
	if c.onWrite != nil {
		owned := make([]byte, len(p))
		copy(owned, p)
		c.onWrite(owned)
	}
	return len(p), nil
}

// Close marks the stream closed and unblocks any pending Read.
func (c *mediationConn) Close() error {
	return c.CloseWithError(nil)
}

// CloseWithError marks the stream closed and unblocks any pending Read
// with err instead of the default io.EOF. Used to give a stalled
// handshake a specific, diagnosable error instead of a generic EOF.
func (c *mediationConn) CloseWithError(err error) error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.closeErr = err
		c.cond.Broadcast()
	}
	c.mu.Unlock()
	return nil
}

func (c *mediationConn) LocalAddr() net.Addr                { return dummyAddr("tlsbridge-local") }
func (c *mediationConn) RemoteAddr() net.Addr               { return dummyAddr("tlsbridge-remote") }
func (c *mediationConn) SetDeadline(t time.Time) error      { return nil }
func (c *mediationConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *mediationConn) SetWriteDeadline(t time.Time) error { return nil }
