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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
)

// buildClientHelloRecord 手工构造一条携带 server_name 扩展的 ClientHello
// 记录 用于直接驱动 extractClientHelloSNI / SNIHandler 的解析路径
func buildClientHelloRecord(host string) []byte {
	name := []byte(host)

	// server_name 扩展体：list_len(2) + entry{type(1), len(2), name}
	ext := make([]byte, 0, 9+len(name))
	ext = append(ext, byte((3+len(name))>>8), byte(3+len(name)))
	ext = append(ext, 0, byte(len(name)>>8), byte(len(name)))
	ext = append(ext, name...)

	// extensions 区：type 0 + ext_len + ext
	exts := make([]byte, 0, 4+len(ext))
	exts = append(exts, 0, 0, byte(len(ext)>>8), byte(len(ext)))
	exts = append(exts, ext...)

	body := make([]byte, 0, 64+len(exts))
	body = append(body, 0x03, 0x03)            // client_version
	body = append(body, make([]byte, 32)...)   // random
	body = append(body, 0)                     // session_id
	body = append(body, 0, 2, 0x00, 0x2F)      // cipher_suites
	body = append(body, 1, 0)                  // compression_methods
	body = append(body, byte(len(exts)>>8), byte(len(exts)))
	body = append(body, exts...)

	msg := make([]byte, 0, 4+len(body))
	msg = append(msg, handshakeClientHello, byte(len(body)>>16), byte(len(body)>>8), byte(len(body)))
	msg = append(msg, body...)

	record := make([]byte, 0, 5+len(msg))
	record = append(record, recordHandshake, 0x03, 0x01, byte(len(msg)>>8), byte(len(msg)))
	record = append(record, msg...)
	return record
}

func TestExtractClientHelloSNI(t *testing.T) {
	record := buildClientHelloRecord("example.com")

	host, found, err := extractClientHelloSNI(record[5:])
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "example.com", host)
}

func TestSNIHandlerSelectsHostname(t *testing.T) {
	serverCfg, _ := newTestTLSConfigs(t)

	var resolvedHost string
	resolver := ResolverFunc(func(hostname string) *netchannel.Future[Config] {
		resolvedHost = hostname
		return netchannel.Completed(Config{TLSConfig: serverCfg}, nil)
	})

	replaced := make(chan *Handler, 1)
	ctx := netchannel.NewHarness()
	sni := NewSNIHandler(resolver, "", func(h *Handler) { replaced <- h }, testLogger)

	done := make(chan struct{})
	ctx.EventLoop().Execute(func() {
		sni.OnRead(ctx, netbuf.New(buildClientHelloRecord("EXAMPLE.com")))
		close(done)
	})
	<-done

	select {
	case h := <-replaced:
		require.NotNil(t, h)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler replacement")
	}
	assert.Equal(t, "example.com", resolvedHost)
}

func TestSNIHandlerSplitClientHello(t *testing.T) {
	serverCfg, _ := newTestTLSConfigs(t)

	var resolvedHost string
	resolver := ResolverFunc(func(hostname string) *netchannel.Future[Config] {
		resolvedHost = hostname
		return netchannel.Completed(Config{TLSConfig: serverCfg}, nil)
	})

	replaced := make(chan *Handler, 1)
	ctx := netchannel.NewHarness()
	sni := NewSNIHandler(resolver, "", func(h *Handler) { replaced <- h }, testLogger)

	record := buildClientHelloRecord("example.com")
	half := len(record) / 2

	done := make(chan struct{})
	ctx.EventLoop().Execute(func() {
		sni.OnRead(ctx, netbuf.New(record[:half]))
		sni.OnRead(ctx, netbuf.New(record[half:]))
		close(done)
	})
	<-done

	select {
	case <-replaced:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler replacement")
	}
	assert.Equal(t, "example.com", resolvedHost)
}

func TestSNIHandlerRejectsNonSSLBytes(t *testing.T) {
	resolver := ResolverFunc(func(hostname string) *netchannel.Future[Config] {
		t.Fatal("resolver should not be invoked for non-SSL input")
		return nil
	})

	ctx := netchannel.NewHarness()
	sni := NewSNIHandler(resolver, "", func(h *Handler) {}, testLogger)

	done := make(chan struct{})
	ctx.EventLoop().Execute(func() {
		sni.OnRead(ctx, netbuf.New([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")))
		close(done)
	})
	<-done

	require.Len(t, ctx.Exceptions, 1)
	assert.True(t, codec.Is(ctx.Exceptions[0], codec.KindNotSslRecord))
	assert.True(t, ctx.IsClosed())
}

// TestSNIHandlerHandshakeAfterReplacement 端到端：client Handler 的真实
// ClientHello 先经过 SNIHandler 选择主机名 再由替换上位的 server Handler
// 完成握手并收到明文
func TestSNIHandlerHandshakeAfterReplacement(t *testing.T) {
	serverCfg, clientCfg := newTestTLSConfigs(t)

	var resolvedHost string
	resolver := ResolverFunc(func(hostname string) *netchannel.Future[Config] {
		resolvedHost = hostname
		return netchannel.Completed(Config{TLSConfig: serverCfg}, nil)
	})

	client := NewHandler(Config{Role: RoleClient, TLSConfig: clientCfg}, testLogger)

	clientCtx := netchannel.NewHarness()
	serverCtx := netchannel.NewHarness()

	// serverFeed 指向当前应当接收 server 侧入站字节的 handler：替换发生
	// 前是 SNIHandler 替换后是新构造的 server Handler；onReplace 在
	// server EventLoop 上回调 与 OnRead 派发天然串行
	var serverFeed func(*netbuf.Window)
	sni := NewSNIHandler(resolver, "", nil, testLogger)
	serverFeed = func(w *netbuf.Window) { sni.OnRead(serverCtx, w) }
	sni.onReplace = func(h *Handler) {
		serverFeed = func(w *netbuf.Window) { h.OnRead(serverCtx, w) }
	}

	clientCtx.OnWrite = func(msg any) {
		w := msg.(*netbuf.Window)
		data := append([]byte(nil), w.Bytes()...)
		serverCtx.EventLoop().Execute(func() {
			serverFeed(netbuf.New(data))
		})
	}
	serverCtx.OnWrite = func(msg any) {
		w := msg.(*netbuf.Window)
		data := append([]byte(nil), w.Bytes()...)
		clientCtx.EventLoop().Execute(func() {
			client.OnRead(clientCtx, netbuf.New(data))
		})
	}

	clientCtx.EventLoop().Execute(func() { client.OnActive(clientCtx) })

	clientResult := waitForUserEvent[HandshakeResult](t, clientCtx)
	serverResult := waitForUserEvent[HandshakeResult](t, serverCtx)
	require.True(t, clientResult.Success)
	require.True(t, serverResult.Success)
	assert.Equal(t, "example.com", resolvedHost)

	message := []byte("routed by sni, decrypted by the replacement handler")
	clientCtx.EventLoop().Execute(func() {
		client.WriteAndFlush(clientCtx, netbuf.New(append([]byte(nil), message...)))
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		syncEventLoop(serverCtx)
		if len(serverCtx.Inbound) > 0 {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.NotEmpty(t, serverCtx.Inbound)
	assert.Equal(t, message, serverCtx.Inbound[0].(*netbuf.Window).Bytes())
}
