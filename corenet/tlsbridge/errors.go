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

// Package tlsbridge provides a TLS termination handler that mediates
// between a push-driven pipeline Context and a pull-driven streaming
// TLS engine, plus a one-shot SNI pre-inspection handler that routes
// ClientHellos to a hostname-selected TLS handler.
//
// The streaming TLS engine is crypto/tls itself: rather than
// hand-rolling a non-blocking record state machine, the mediation
// stream (mediation.go) presents crypto/tls with a small net.Conn
// adapter fed by pipeline reads, and a single dedicated goroutine per
// channel drives Handshake/Read against it. Record batching is what
// crypto/tls's own halfConn already performs once it owns a byte
// stream, so Handler does not reimplement it.
package tlsbridge

import "github.com/pkg/errors"

func newError(format string, args ...any) error {
	format = "tlsbridge: " + format
	return errors.Errorf(format, args...)
}

// State is the bitset of TLS handler states. Authenticating
// and Authenticated/FailedAuthentication are mutually exclusive over
// time but modeled as independent bits to match ReadRequestedBefore-
// Authenticated / FlushedBeforeHandshake, which must coexist with
// Authenticating while it holds.
type State uint8

const (
	// Authenticating is set from the first flush or first read until
	// the handshake completes, one way or the other.
	Authenticating State = 1 << iota

	// Authenticated is set once, the first time the handshake succeeds.
	Authenticated

	// FailedAuthentication is set once, the first time the handshake
	// fails; mutually exclusive with Authenticated over the lifetime
	// of a single Handler.
	FailedAuthentication

	// ReadRequestedBeforeAuthenticated records that Handler.Read was
	// called while still Authenticating, so the deferred read request
	// must be issued once the handshake resolves.
	ReadRequestedBeforeAuthenticated

	// FlushedBeforeHandshake records that Flush was called while still
	// Authenticating, so pending plaintext writes must be drained once
	// the handshake resolves.
	FlushedBeforeHandshake
)

// Has reports whether all bits in mask are set.
func (s State) Has(mask State) bool { return s&mask == mask }

// HandshakeResult is the user event fired exactly once per Handler on
// handshake completion, success or failure.
type HandshakeResult struct {
	Success bool
	Err     error
}
