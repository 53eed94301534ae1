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

// Package corenetd adapts a real net.Conn onto corenet's push-style
// netchannel.Context. corenet's own handler stack (framing, tlsbridge,
// connpool, netbuf) is deliberately transport-agnostic and, in its test
// suites, is only ever driven through netchannel.Harness — an in-memory
// reference Context that documents real socket transport as out of
// corenet's own scope. corenetd is the application-layer piece that
// plugs an actual net.Conn into that same Context contract, the way
// server.Server plugs a real net.Listener into packetd's HTTP surface.
package corenetd

import (
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/logger"
)

func newError(format string, args ...any) error {
	format = "corenetd: " + format
	return errors.Errorf(format, args...)
}

// rawFeedFunc pushes one chunk of freshly read bytes into whatever the
// first pipeline stage is: a tlsbridge.Handler when TLS termination is
// configured, or a framing.Decoder directly otherwise.
type rawFeedFunc func(ctx netchannel.Context, chunk []byte)

// writeFunc hands one outbound message to whatever the last stage
// before the wire is: tlsbridge.Handler.WriteAsync, or a direct
// net.Conn.Write when TLS isn't configured.
type writeFunc func(ctx netchannel.Context, msg any) *netchannel.Future[any]

// inboundFunc receives one fully decoded application message. It runs
// on Conn's EventLoop, like every other pipeline callback.
type inboundFunc func(ctx netchannel.Context, msg any)

// Conn is a netchannel.Context backed by a real net.Conn. Exactly one
// Conn exists per accepted connection; its EventLoop serializes every
// handler callback, the same single-writer invariant
// netchannel.Harness documents for tests and connstream.Stream
// documents for the original passive capture path.
//
// Conn's pipeline hooks (rawFeed/write/flush/onActive/onInactive/
// inbound) are filled in by Server.handle once it has decided whether
// this connection terminates TLS, since each hook closes over the
// concrete stage (tlsbridge.Handler and/or framing.Decoder) it drives.
type Conn struct {
	mut sync.Mutex

	raw   net.Conn
	el    *netchannel.EventLoop
	alloc netbuf.Allocator
	attrs *netchannel.Attributes
	log   logger.Logger

	rawFeed    rawFeedFunc
	write      writeFunc
	flush      func(ctx netchannel.Context)
	onActive   func(ctx netchannel.Context)
	onInactive func(ctx netchannel.Context)
	inbound    inboundFunc

	closed bool
}

// newConn constructs a Conn around raw with a fresh Allocator,
// Attributes and EventLoop.
func newConn(raw net.Conn, log logger.Logger) *Conn {
	return &Conn{
		raw:   raw,
		el:    netchannel.NewEventLoop(),
		alloc: netbuf.NewAllocator(),
		attrs: netchannel.NewAttributes(),
		log:   log,
	}
}

func (c *Conn) FireInbound(msg any) {
	if c.inbound != nil {
		c.inbound(c, msg)
	}
}

func (c *Conn) FireInboundComplete() {}

func (c *Conn) FireUserEvent(evt any) {
	c.log.Debugf("corenetd: user event from %s: %+v", c.raw.RemoteAddr(), evt)
}

func (c *Conn) FireException(err error) {
	c.log.Warnf("corenetd: pipeline exception from %s: %v", c.raw.RemoteAddr(), err)
}

// Read is a no-op: Conn always reads continuously (auto-read), so an
// explicit request for another read never needs to reach the socket.
func (c *Conn) Read() {}

func (c *Conn) WriteAsync(msg any) *netchannel.Future[any] {
	if c.write == nil {
		return netchannel.Completed[any](nil, io.ErrClosedPipe)
	}
	return c.write(c, msg)
}

func (c *Conn) WriteAndFlush(msg any) *netchannel.Future[any] {
	f := c.WriteAsync(msg)
	c.Flush()
	return f
}

func (c *Conn) Flush() {
	if c.flush != nil {
		c.flush(c)
	}
}

func (c *Conn) CloseAsync() *netchannel.Future[any] {
	c.mut.Lock()
	already := c.closed
	c.closed = true
	c.mut.Unlock()
	if already {
		return netchannel.Completed[any](nil, nil)
	}

	if c.onInactive != nil {
		c.el.Execute(func() { c.onInactive(c) })
	}
	err := c.raw.Close()
	c.el.Close()
	return netchannel.Completed[any](nil, err)
}

func (c *Conn) Allocator() netbuf.Allocator        { return c.alloc }
func (c *Conn) EventLoop() *netchannel.EventLoop   { return c.el }
func (c *Conn) Attributes() *netchannel.Attributes { return c.attrs }

// IsClosed reports whether CloseAsync has already run.
func (c *Conn) IsClosed() bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.closed
}

// serve owns the blocking read loop: every chunk read from raw is
// dispatched onto el before reaching rawFeed, exactly as a real
// Channel's transport hands bytes to its first pipeline handler. It
// returns once raw.Read fails (peer closed, reset, ...).
func (c *Conn) serve() {
	if c.onActive != nil {
		c.el.Execute(func() { c.onActive(c) })
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := c.raw.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.el.Execute(func() {
				if c.rawFeed != nil {
					c.rawFeed(c, chunk)
				}
			})
		}
		if err != nil {
			break
		}
	}
	c.CloseAsync()
}

// stageContext is a Context view onto a single intermediate pipeline
// stage: most methods forward straight to the owning Conn (there is
// only one real transport, one EventLoop, one Allocator per
// connection), but FireInbound is overridden to forward into whatever
// the *next* stage is, and WriteAsync/Flush are overridden to reach
// the stage's own downstream (the raw socket) instead of Conn's write
// hook — Conn.write points back at this very stage, so forwarding
// through it would feed the stage its own output. It is a per-handler
// Context view scaled down to the single fixed shape corenetd.Server
// builds (tlsbridge.Handler feeding a framing.Decoder).
type stageContext struct {
	*Conn
	fire  func(msg any)
	write func(msg any) *netchannel.Future[any]
}

func (s *stageContext) FireInbound(msg any) { s.fire(msg) }

func (s *stageContext) WriteAsync(msg any) *netchannel.Future[any] {
	if s.write != nil {
		return s.write(msg)
	}
	return s.Conn.WriteAsync(msg)
}

func (s *stageContext) WriteAndFlush(msg any) *netchannel.Future[any] {
	f := s.WriteAsync(msg)
	s.Flush()
	return f
}

// Flush is a no-op at the stage level: the raw socket downstream of an
// intermediate stage has no buffering of its own.
func (s *stageContext) Flush() {}
