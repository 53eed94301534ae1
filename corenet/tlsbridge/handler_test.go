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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/logger"
)

var testLogger = logger.New(logger.Options{Stdout: true, Level: "error"})

// newTestTLSConfigs mints a throwaway self-signed certificate for
// "example.com" and returns a server/client tls.Config pair wired to
// trust it, for use as the mediation stream's underlying engine.
func newTestTLSConfigs(t *testing.T) (server, client *tls.Config) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "example.com"},
		DNSNames:     []string{"example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	tlsCert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}

	server = &tls.Config{Certificates: []tls.Certificate{tlsCert}}
	client = &tls.Config{RootCAs: pool, ServerName: "example.com"}
	return server, client
}

// bridgedHarnesses wires two Harnesses' OnWrite hooks to forward
// ciphertext into each other's owning Handler, so a client/server pair
// of Handlers can run a real handshake end to end without a socket.
func bridgedHarnesses(clientHandler, serverHandler *Handler) (client, server *netchannel.Harness) {
	client = netchannel.NewHarness()
	server = netchannel.NewHarness()

	client.OnWrite = func(msg any) {
		w := msg.(*netbuf.Window)
		data := append([]byte(nil), w.Bytes()...)
		server.EventLoop().Execute(func() {
			serverHandler.OnRead(server, netbuf.New(data))
		})
	}
	server.OnWrite = func(msg any) {
		w := msg.(*netbuf.Window)
		data := append([]byte(nil), w.Bytes()...)
		client.EventLoop().Execute(func() {
			clientHandler.OnRead(client, netbuf.New(data))
		})
	}
	return client, server
}

// syncEventLoop blocks until every task already queued on h's EventLoop
// at the time of the call has run, giving the test a barrier to
// observe effects the background handshake/read goroutines dispatched
// via ctx.EventLoop().Execute.
func syncEventLoop(h *netchannel.Harness) {
	done := make(chan struct{})
	h.EventLoop().Execute(func() { close(done) })
	<-done
}

func waitForUserEvent[T any](t *testing.T, h *netchannel.Harness) T {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		syncEventLoop(h)
		for _, evt := range h.UserEvents {
			if v, ok := evt.(T); ok {
				return v
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("timed out waiting for user event")
	var zero T
	return zero
}

func TestHandlerHandshakeSucceeds(t *testing.T) {
	serverCfg, clientCfg := newTestTLSConfigs(t)
	client := NewHandler(Config{Role: RoleClient, TLSConfig: clientCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)
	server := NewHandler(Config{Role: RoleServer, TLSConfig: serverCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)

	clientCtx, serverCtx := bridgedHarnesses(client, server)

	clientCtx.EventLoop().Execute(func() {
		client.OnActive(clientCtx)
	})

	clientResult := waitForUserEvent[HandshakeResult](t, clientCtx)
	serverResult := waitForUserEvent[HandshakeResult](t, serverCtx)

	assert.True(t, clientResult.Success)
	assert.True(t, serverResult.Success)
	assert.Equal(t, Authenticated, client.State()&Authenticated)
	assert.Equal(t, Authenticated, server.State()&Authenticated)
}

func TestHandlerPlaintextRoundTrip(t *testing.T) {
	serverCfg, clientCfg := newTestTLSConfigs(t)
	client := NewHandler(Config{Role: RoleClient, TLSConfig: clientCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)
	server := NewHandler(Config{Role: RoleServer, TLSConfig: serverCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)

	clientCtx, serverCtx := bridgedHarnesses(client, server)
	clientCtx.EventLoop().Execute(func() { client.OnActive(clientCtx) })
	waitForUserEvent[HandshakeResult](t, clientCtx)
	waitForUserEvent[HandshakeResult](t, serverCtx)

	message := []byte("hello over a mediated TLS stream")
	done := make(chan struct{})
	clientCtx.EventLoop().Execute(func() {
		client.WriteAndFlush(clientCtx, netbuf.New(append([]byte(nil), message...)))
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out writing plaintext")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		serverCtx.EventLoop().Execute(func() {})
		if len(serverCtx.Inbound) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Len(t, serverCtx.Inbound, 1)
	got := serverCtx.Inbound[0].(*netbuf.Window)
	assert.Equal(t, message, got.Bytes())
}

func TestHandlerFlushBeforeHandshakeIsDeferred(t *testing.T) {
	serverCfg, clientCfg := newTestTLSConfigs(t)
	client := NewHandler(Config{Role: RoleClient, TLSConfig: clientCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)
	server := NewHandler(Config{Role: RoleServer, TLSConfig: serverCfg, PendingWriteBatchBytes: DefaultPendingWriteBatchBytes}, testLogger)

	clientCtx, serverCtx := bridgedHarnesses(client, server)

	done := make(chan struct{})
	clientCtx.EventLoop().Execute(func() {
		client.OnActive(clientCtx)
		client.WriteAsync(clientCtx, netbuf.New([]byte("queued-before-handshake")))
		client.Flush(clientCtx)
		close(done)
	})
	<-done

	assert.True(t, client.State()&FlushedBeforeHandshake != 0 || client.State()&Authenticated != 0)
	waitForUserEvent[HandshakeResult](t, clientCtx)
	waitForUserEvent[HandshakeResult](t, serverCtx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		serverCtx.EventLoop().Execute(func() {})
		if len(serverCtx.Inbound) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.Len(t, serverCtx.Inbound, 1)
	assert.Equal(t, "queued-before-handshake", string(serverCtx.Inbound[0].(*netbuf.Window).Bytes()))
}
