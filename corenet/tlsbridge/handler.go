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
	"crypto/tls"
	"sync"
	"time"

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/logger"
)

// pendingWrite is one plaintext write still waiting to be handed to
// the TLS engine; the queue preserves per-channel FIFO write order.
type pendingWrite struct {
	data    *netbuf.Window
	promise *netchannel.Promise[any]
}

// Handler is the TLS termination stage: it sits in the pipeline in
// place of the raw transport, decrypting inbound ciphertext into
// plaintext (forwarded via ctx.FireInbound) and encrypting outbound
// plaintext into ciphertext (forwarded via ctx.WriteAsync/ctx.Flush).
//
// All state transitions happen on the owning Channel's EventLoop; the
// background goroutine started by ensureStarted only ever touches
// Handler state via ctx.EventLoop().Execute, so handshake completion
// never races an in-flight decode.
type Handler struct {
	cfg Config
	log logger.Logger

	startOnce sync.Once
	mediation *mediationConn
	tlsConn   *tls.Conn

	// handshakeTimer enforces cfg.HandshakeTimeout: if the handshake
	// has not completed by the time it fires, it closes mediation with
	// a timeout error, which unblocks tlsConn.Handshake() (blocked in
	// mediation.Read) with that error instead of hanging forever.
	handshakeTimer *time.Timer

	state   State
	pending []pendingWrite
}

// NewHandler constructs a Handler for the given role/config.
func NewHandler(cfg Config, log logger.Logger) *Handler {
	return &Handler{cfg: cfg, log: log}
}

// State returns the handler's current state bitset; for tests and
// diagnostics.
func (h *Handler) State() State { return h.state }

// OnActive implements the pipeline's channel_active hook: a client
// role auto-initiates the handshake immediately; a server role waits
// for the first OnRead.
func (h *Handler) OnActive(ctx netchannel.Context) {
	if h.cfg.Role == RoleClient {
		h.ensureStarted(ctx)
	}
}

// OnRead feeds pipeline-delivered ciphertext into the mediation stream.
// The first inbound bytes on a server-role Handler start the handshake
// goroutine.
func (h *Handler) OnRead(ctx netchannel.Context, ciphertext *netbuf.Window) {
	h.ensureStarted(ctx)
	h.mediation.expandSource(ciphertext.Bytes())
	ciphertext.Release()
}

// Read honors an explicit upstream read request. Before the handshake
// resolves it is deferred (ReadRequestedBeforeAuthenticated) and
// reissued once Authenticated; afterwards it passes straight through.
func (h *Handler) Read(ctx netchannel.Context) {
	if h.state&(Authenticated|FailedAuthentication) == 0 {
		h.state |= ReadRequestedBeforeAuthenticated
		return
	}
	ctx.Read()
}

// WriteAsync enqueues a plaintext buffer for eventual encryption; the
// returned Future resolves once the corresponding ciphertext write has
// been accepted downstream (or the handler fails/closes first).
func (h *Handler) WriteAsync(ctx netchannel.Context, plaintext *netbuf.Window) *netchannel.Future[any] {
	if h.state&FailedAuthentication != 0 {
		return netchannel.Completed[any](nil, newError("write after failed authentication"))
	}
	future, promise := netchannel.NewFuture[any]()
	h.pending = append(h.pending, pendingWrite{data: plaintext, promise: promise})
	return future
}

// WriteAndFlush enqueues plaintext and immediately flushes.
func (h *Handler) WriteAndFlush(ctx netchannel.Context, plaintext *netbuf.Window) *netchannel.Future[any] {
	f := h.WriteAsync(ctx, plaintext)
	h.Flush(ctx)
	return f
}

// Flush drains queued plaintext writes through the TLS engine. Before
// the handshake completes it starts the handshake if it is not yet
// running and records FlushedBeforeHandshake; the drain happens once
// Authenticated fires.
func (h *Handler) Flush(ctx netchannel.Context) {
	if h.state&Authenticated == 0 {
		h.ensureStarted(ctx)
		h.state |= FlushedBeforeHandshake
		return
	}
	h.drainPendingWrites(ctx)
}

// OnInactive closes the mediation stream (unblocking the background
// goroutine) and fails any writes still queued.
func (h *Handler) OnInactive(ctx netchannel.Context) {
	if h.mediation != nil {
		_ = h.mediation.Close()
	}
	if h.state&Authenticating != 0 {
		h.failPendingWrites(codec.PrematureClosure("channel became inactive before the handshake completed"))
		return
	}
	h.failPendingWrites(codec.PrematureClosure("channel became inactive with unflushed plaintext"))
}

func (h *Handler) ensureStarted(ctx netchannel.Context) {
	h.startOnce.Do(func() {
		h.state |= Authenticating
		h.mediation = newMediationConn(
			func() { ctx.Read() },
			func(ciphertext []byte) {
				ctx.EventLoop().Execute(func() {
					w := ctx.Allocator().Buffer(len(ciphertext))
					_ = w.WriteBytes(ciphertext)
					ctx.WriteAndFlush(w)
				})
			},
		)
		if h.cfg.Role == RoleServer {
			h.tlsConn = tls.Server(h.mediation, h.cfg.TLSConfig)
		} else {
			h.tlsConn = tls.Client(h.mediation, h.cfg.TLSConfig)
		}
		if h.cfg.HandshakeTimeout > 0 {
			timeout := h.cfg.HandshakeTimeout
			h.handshakeTimer = time.AfterFunc(timeout, func() {
				_ = h.mediation.CloseWithError(newError("handshake did not complete within %s", timeout))
			})
		}
		go h.run(ctx)
	})
}

// run owns the background handshake + decrypted-read loop; every
// observable effect is dispatched back onto ctx's EventLoop.
func (h *Handler) run(ctx netchannel.Context) {
	err := h.tlsConn.Handshake()
	ctx.EventLoop().Execute(func() { h.onHandshakeComplete(ctx, err) })
	if err != nil {
		return
	}

	buf := make([]byte, 32*1024)
	for {
		n, rerr := h.tlsConn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			ctx.EventLoop().Execute(func() {
				w := ctx.Allocator().Buffer(len(chunk))
				_ = w.WriteBytes(chunk)
				ctx.FireInbound(w)
			})
		}
		if rerr != nil {
			return
		}
	}
}

func (h *Handler) onHandshakeComplete(ctx netchannel.Context, err error) {
	if h.handshakeTimer != nil {
		h.handshakeTimer.Stop()
	}
	h.state &^= Authenticating
	if err != nil {
		h.state |= FailedAuthentication
		h.recordHandshake(false)
		ctx.FireUserEvent(HandshakeResult{Success: false, Err: err})
		h.failPendingWrites(err)
		ctx.CloseAsync()
		return
	}

	h.state |= Authenticated
	h.recordHandshake(true)
	ctx.FireUserEvent(HandshakeResult{Success: true})

	if h.state&ReadRequestedBeforeAuthenticated != 0 {
		h.state &^= ReadRequestedBeforeAuthenticated
		ctx.Read()
	}
	if h.state&FlushedBeforeHandshake != 0 {
		h.state &^= FlushedBeforeHandshake
		h.drainPendingWrites(ctx)
	}
}

// nextBatch pops either a single write that is already at or beyond
// the batch threshold, or coalesces consecutive small writes up to
// PendingWriteBatchBytes.
func (h *Handler) nextBatch() ([]byte, []*netchannel.Promise[any]) {
	if len(h.pending) == 0 {
		return nil, nil
	}
	threshold := h.cfg.PendingWriteBatchBytes
	if threshold <= 0 {
		threshold = DefaultPendingWriteBatchBytes
	}

	first := h.pending[0]
	total := first.data.Readable()
	batch := append([]byte(nil), first.data.Bytes()...)
	first.data.Release()
	promises := []*netchannel.Promise[any]{first.promise}
	h.pending = h.pending[1:]

	if total >= threshold {
		return batch, promises
	}
	for len(h.pending) > 0 && total < threshold {
		next := h.pending[0]
		batch = append(batch, next.data.Bytes()...)
		total += next.data.Readable()
		next.data.Release()
		promises = append(promises, next.promise)
		h.pending = h.pending[1:]
	}
	return batch, promises
}

func (h *Handler) drainPendingWrites(ctx netchannel.Context) {
	for len(h.pending) > 0 {
		batch, promises := h.nextBatch()
		if _, err := h.tlsConn.Write(batch); err != nil {
			for _, p := range promises {
				p.Complete(nil, codec.Wrap(codec.KindEncoding, err))
			}
			continue
		}
		for _, p := range promises {
			p.Complete(nil, nil)
		}
	}
}

func (h *Handler) failPendingWrites(err error) {
	for _, pw := range h.pending {
		pw.data.Release()
		pw.promise.Complete(nil, err)
	}
	h.pending = nil
}
