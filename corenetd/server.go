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

package corenetd

import (
	"crypto/tls"
	"net"

	"github.com/packetd/packetd/corenet/framers"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/corenet/tlsbridge"
	"github.com/packetd/packetd/logger"
)

// Config selects the framing (and optional TLS termination) a Server
// applies to every accepted connection.
type Config struct {
	// Address is the "host:port" a Server listens on.
	Address string

	// LengthField configures the length-field framer every
	// connection is decoded with.
	LengthField framers.LengthFieldConfig

	// TLSConfig, when non-nil, causes every accepted connection to be
	// terminated through a tlsbridge.Handler before the
	// length-field decoder ever sees plaintext.
	TLSConfig *tls.Config
}

// Server listens on Config.Address and drives every accepted
// connection through a framing.Decoder, optionally preceded by a
// tlsbridge.Handler, echoing each decoded frame back length-prefixed.
//
// It exists to give corenet's otherwise transport-agnostic handler
// stack (framing, tlsbridge, netbuf, netchannel, codec) a real,
// reachable entry point in the shipped binary, alongside the original
// passive-capture controller/sniffer pipeline.
type Server struct {
	cfg Config
	log logger.Logger
	ln  net.Listener
}

// New constructs a Server; call ListenAndServe to start it.
func New(cfg Config, log logger.Logger) *Server {
	return &Server{cfg: cfg, log: log}
}

// ListenAndServe blocks accepting connections until the listener fails
// or Close is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Infof("corenetd: listening on %s (tls=%v)", s.cfg.Address, s.cfg.TLSConfig != nil)

	for {
		raw, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handle(raw)
	}
}

// Close stops accepting new connections; connections already accepted
// run to completion.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

// handle builds one connection's pipeline and drives it until the peer
// disconnects. The decoded-frame application logic is a simple echo:
// every frame is written back length-prefixed, demonstrating the round
// trip through framers.NewLengthFieldDecoder/LengthPrepender (and,
// when TLSConfig is set, tlsbridge.Handler) end to end.
func (s *Server) handle(raw net.Conn) {
	c := newConn(raw, s.log)
	prepender := framers.LengthPrepender{
		LengthFieldLength: s.cfg.LengthField.LengthFieldLength,
		LengthAdjustment:  s.cfg.LengthField.LengthAdjustment,
		ByteOrder:         s.cfg.LengthField.ByteOrder,
	}

	c.inbound = func(ctx netchannel.Context, msg any) {
		frame, ok := msg.(*netbuf.Window)
		if !ok {
			return
		}
		s.log.Debugf("corenetd: decoded %d byte frame from %s", frame.Readable(), raw.RemoteAddr())
		out, err := prepender.Encode(ctx.Allocator(), frame)
		frame.Release()
		if err != nil {
			s.log.Warnf("corenetd: encode echo frame: %v", err)
			return
		}
		ctx.WriteAndFlush(out)
	}

	decoder := framers.NewLengthFieldDecoder(s.cfg.LengthField)

	if s.cfg.TLSConfig != nil {
		s.wireTLS(c, decoder)
	} else {
		s.wirePlain(c, decoder, raw)
	}

	c.serve()
}

// wirePlain wires a connection straight into decoder with no TLS
// termination: decoder.OnRead is fed raw bytes directly and writes go
// straight to raw.
func (s *Server) wirePlain(c *Conn, decoder interface {
	OnRead(ctx netchannel.Context, in *netbuf.Window)
	OnReadComplete(ctx netchannel.Context, autoRead bool)
	OnInactive(ctx netchannel.Context)
}, raw net.Conn) {
	c.rawFeed = func(ctx netchannel.Context, chunk []byte) {
		w := c.alloc.Buffer(len(chunk))
		_ = w.WriteBytes(chunk)
		decoder.OnRead(c, w)
		decoder.OnReadComplete(c, true)
	}
	c.write = func(ctx netchannel.Context, msg any) *netchannel.Future[any] {
		w, ok := msg.(*netbuf.Window)
		if !ok {
			return netchannel.Completed[any](nil, newError("write: unexpected message type %T", msg))
		}
		defer w.Release()
		if _, err := raw.Write(w.Bytes()); err != nil {
			return netchannel.Completed[any](nil, err)
		}
		return netchannel.Completed[any](nil, nil)
	}
	c.onInactive = func(ctx netchannel.Context) { decoder.OnInactive(c) }
}

// wireTLS wires a connection through a tlsbridge.Handler before
// decoder ever sees plaintext. tlsStage is the Context view passed to
// every Handler method: its FireInbound forwards decrypted plaintext
// into decoder.OnRead, instead of Conn's own terminal inbound
// callback.
func (s *Server) wireTLS(c *Conn, decoder interface {
	OnRead(ctx netchannel.Context, in *netbuf.Window)
	OnReadComplete(ctx netchannel.Context, autoRead bool)
	OnInactive(ctx netchannel.Context)
}) {
	tlsCfg := tlsbridge.DefaultConfig()
	tlsCfg.Role = tlsbridge.RoleServer
	tlsCfg.TLSConfig = s.cfg.TLSConfig
	handler := tlsbridge.NewHandler(tlsCfg, s.log)

	tlsStage := &stageContext{Conn: c, fire: func(msg any) {
		w, ok := msg.(*netbuf.Window)
		if !ok {
			return
		}
		decoder.OnRead(c, w)
		decoder.OnReadComplete(c, true)
	}}
	tlsStage.write = func(msg any) *netchannel.Future[any] {
		w, ok := msg.(*netbuf.Window)
		if !ok {
			return netchannel.Completed[any](nil, newError("write: unexpected message type %T", msg))
		}
		defer w.Release()
		if _, err := c.raw.Write(w.Bytes()); err != nil {
			return netchannel.Completed[any](nil, err)
		}
		return netchannel.Completed[any](nil, nil)
	}

	c.rawFeed = func(ctx netchannel.Context, chunk []byte) {
		w := c.alloc.Buffer(len(chunk))
		_ = w.WriteBytes(chunk)
		handler.OnRead(tlsStage, w)
	}
	c.write = func(ctx netchannel.Context, msg any) *netchannel.Future[any] {
		w, ok := msg.(*netbuf.Window)
		if !ok {
			return netchannel.Completed[any](nil, newError("write: unexpected message type %T", msg))
		}
		return handler.WriteAsync(tlsStage, w)
	}
	c.flush = func(ctx netchannel.Context) { handler.Flush(tlsStage) }
	c.onActive = func(ctx netchannel.Context) { handler.OnActive(tlsStage) }
	c.onInactive = func(ctx netchannel.Context) {
		handler.OnInactive(tlsStage)
		decoder.OnInactive(c)
	}
}
