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
	"time"

	"github.com/packetd/packetd/confengine"
)

// Role selects which side of the handshake a Handler plays.
type Role uint8

const (
	// RoleServer waits for the peer's ClientHello.
	RoleServer Role = iota
	// RoleClient auto-initiates the handshake on channel_active.
	RoleClient
)

// DefaultPendingWriteBatchBytes bounds how many bytes of small pending
// plaintext writes are coalesced before handing them to the TLS engine.
const DefaultPendingWriteBatchBytes = 14 * 1024

// Config holds the scalar knobs a Handler is constructed with.
// TLSConfig carries the actual certificate/verification material and
// is always supplied programmatically — *tls.Config has no meaningful
// confengine/YAML representation, the same reason connpool.Bootstrap
// and HealthChecker are supplied as Go closures rather than config.
type Config struct {
	Role Role

	// TLSConfig is the underlying crypto/tls configuration (certs,
	// verification, min/max version…); required.
	TLSConfig *tls.Config

	// HandshakeTimeout bounds how long the background handshake
	// goroutine may run before the Handler declares failure.
	HandshakeTimeout time.Duration `config:"handshakeTimeout"`

	// PendingWriteBatchBytes is the coalescing threshold for queued
	// plaintext writes.
	PendingWriteBatchBytes int `config:"pendingWriteBatchBytes"`
}

// DefaultConfig returns the scalar defaults; TLSConfig/Role must still
// be set by the caller before constructing a Handler.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:       10 * time.Second,
		PendingWriteBatchBytes: DefaultPendingWriteBatchBytes,
	}
}

// LoadConfig unpacks the scalar fields of Config from conf's child at
// path, leaving TLSConfig/Role at their DefaultConfig (zero) values for
// the caller to fill in programmatically.
func LoadConfig(conf *confengine.Config, path string) (Config, error) {
	cfg := DefaultConfig()
	if conf == nil || !conf.Has(path) {
		return cfg, nil
	}
	if err := conf.UnpackChild(path, &cfg); err != nil {
		return Config{}, newError("load config %q: %v", path, err)
	}
	return cfg, nil
}
