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
	"strings"

	"golang.org/x/net/idna"

	"github.com/packetd/packetd/corenet/codec"
	"github.com/packetd/packetd/corenet/framing"
	"github.com/packetd/packetd/corenet/netbuf"
	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/logger"
)

// TLS record content types relevant to SNI pre-inspection.
const (
	recordChangeCipherSpec = 20
	recordAlert            = 21
	recordHandshake        = 22
)

const handshakeClientHello = 1

// maxRecordsInspected bounds how much of the stream the SNI handler
// will scan before giving up and falling back to the configured
// default hostname.
const maxRecordsInspected = 4

// idnaProfile normalizes SNI hostnames: IDNA with unassigned code
// points allowed, then lowercased. SNI names are read as ASCII, as
// DNS requires.
var idnaProfile = idna.New(
	idna.MapForLookup(),
	idna.BidiRule(),
	idna.ValidateLabels(false),
)

func normalizeHostname(host string) (string, error) {
	ascii, err := idnaProfile.ToASCII(host)
	if err != nil {
		return "", err
	}
	return strings.ToLower(ascii), nil
}

// Resolver resolves a SNI-selected hostname to the TLS configuration
// that should terminate the connection, matching connpool.Bootstrap's
// async-closure-over-config shape.
type Resolver interface {
	Resolve(hostname string) *netchannel.Future[Config]
}

// ResolverFunc adapts a plain function to Resolver.
type ResolverFunc func(hostname string) *netchannel.Future[Config]

func (f ResolverFunc) Resolve(hostname string) *netchannel.Future[Config] { return f(hostname) }

// SNIHandler is a one-shot byte decoder sitting in
// front of a TLS Handler, inspecting up to maxRecordsInspected SSL
// records for a ClientHello's server_name extension, then swapping
// itself out for a Handler configured for the resolved hostname.
//
// There is no generic pipeline-replacement primitive in corenet (every
// component here is driven directly rather than through a shared
// Pipeline type), so "replaces itself in the pipeline" is modeled as
// the onReplace callback: the caller is responsible for routing
// subsequent OnRead calls to the returned Handler instead of this
// SNIHandler once it fires.
type SNIHandler struct {
	resolver        Resolver
	defaultHostname string
	onReplace       func(*Handler)
	log             logger.Logger

	cumulation       *netbuf.Window
	scanOffset       int
	recordsInspected int
	suppressRead     bool
	readPending      bool
	done             bool

	// next 在替换完成后指向接棒的 Handler 仍被路由到本 handler 的
	// 入站字节直接转发给它 不再经过 SNI 扫描
	next *Handler
}

// NewSNIHandler constructs a SNIHandler. defaultHostname, if non-empty,
// is selected when no record carries an SNI extension;
// onReplace is invoked exactly once, with the constructed Handler,
// once a hostname has been resolved.
func NewSNIHandler(resolver Resolver, defaultHostname string, onReplace func(*Handler), log logger.Logger) *SNIHandler {
	return &SNIHandler{resolver: resolver, defaultHostname: defaultHostname, onReplace: onReplace, log: log}
}

// Read honors an explicit upstream read request, deferring it while
// a hostname resolution is still in flight.
func (s *SNIHandler) Read(ctx netchannel.Context) {
	if s.next != nil {
		s.next.Read(ctx)
		return
	}
	if s.suppressRead {
		s.readPending = true
		return
	}
	ctx.Read()
}

// OnRead feeds raw inbound bytes into the SNI scan. Once resolution
// starts (select was called) further bytes are still accumulated —
// they belong to the ClientHello that must be replayed to the
// resolved Handler — but no further scanning happens.
func (s *SNIHandler) OnRead(ctx netchannel.Context, input *netbuf.Window) {
	if s.next != nil {
		s.next.OnRead(ctx, input)
		return
	}
	s.cumulation = framing.MergeCumulator(ctx.Allocator(), s.cumulation, input)
	if s.done || s.suppressRead {
		return
	}
	s.scan(ctx)
}

// OnInactive releases any buffered bytes; a connection that never
// completed SNI selection has nothing further to replay.
func (s *SNIHandler) OnInactive(ctx netchannel.Context) {
	if s.cumulation != nil {
		s.cumulation.Release()
		s.cumulation = nil
	}
}

// scan walks whole TLS records looking for a ClientHello, skipping
// ChangeCipherSpec and Alert records. Nothing is consumed from the
// cumulation: every byte, the ClientHello included, must later be
// replayed verbatim to the Handler that takes this handler's place.
func (s *SNIHandler) scan(ctx netchannel.Context) {
	for s.cumulation != nil {
		if s.recordsInspected >= maxRecordsInspected {
			s.fallbackToDefault(ctx)
			return
		}

		buf := s.cumulation.Bytes()
		if len(buf) < s.scanOffset+5 {
			return // wait for the rest of the header
		}
		contentType := buf[s.scanOffset]
		major := buf[s.scanOffset+1]
		length := int(buf[s.scanOffset+3])<<8 | int(buf[s.scanOffset+4])

		knownType := contentType == recordChangeCipherSpec ||
			contentType == recordAlert ||
			contentType == recordHandshake
		if !knownType || major != 3 {
			sniSelections.WithLabelValues("not_ssl_record").Inc()
			s.fail(ctx, codec.Wrap(codec.KindNotSslRecord, newError("not an SSL/TLS record (content type %d, major version %d)", contentType, major)))
			return
		}

		if s.scanOffset+5+length > len(buf) {
			return // record not fully buffered yet
		}

		record := buf[s.scanOffset+5 : s.scanOffset+5+length]
		s.scanOffset += 5 + length
		s.recordsInspected++

		if contentType != recordHandshake {
			continue
		}

		host, found, err := extractClientHelloSNI(record)
		if err != nil {
			sniSelections.WithLabelValues("corrupted").Inc()
			s.fail(ctx, codec.CorruptedFrame("tlsbridge: malformed ClientHello: %v", err))
			return
		}
		if found {
			s.selectHostname(ctx, host)
			return
		}
		// Handshake record parsed cleanly but carried no SNI
		// extension: fall back to the default hostname.
		s.fallbackToDefault(ctx)
		return
	}
}

func (s *SNIHandler) fallbackToDefault(ctx netchannel.Context) {
	if s.defaultHostname == "" {
		sniSelections.WithLabelValues("no_default").Inc()
		s.fail(ctx, codec.CorruptedFrame("tlsbridge: no SNI extension and no default hostname configured"))
		return
	}
	s.selectHostname(ctx, s.defaultHostname)
}

func (s *SNIHandler) fail(ctx netchannel.Context, err error) {
	s.done = true
	ctx.FireUserEvent(HandshakeResult{Success: false, Err: err})
	ctx.FireException(err)
	ctx.CloseAsync()
}

// selectHostname suspends reads, resolves configuration for host, then
// constructs and hands off to a Handler.
func (s *SNIHandler) selectHostname(ctx netchannel.Context, host string) {
	normalized, err := normalizeHostname(host)
	if err != nil {
		sniSelections.WithLabelValues("bad_hostname").Inc()
		s.fail(ctx, codec.CorruptedFrame("tlsbridge: invalid SNI hostname %q: %v", host, err))
		return
	}

	s.done = true
	s.suppressRead = true
	sniSelections.WithLabelValues("selected").Inc()

	future := s.resolver.Resolve(normalized)
	future.OnComplete(func(cfg Config, err error) {
		ctx.EventLoop().Execute(func() { s.onResolved(ctx, cfg, err) })
	})
}

func (s *SNIHandler) onResolved(ctx netchannel.Context, cfg Config, err error) {
	if err != nil {
		s.fail(ctx, err)
		return
	}

	cfg.Role = RoleServer
	next := NewHandler(cfg, s.log)
	s.next = next

	replay := s.cumulation
	s.cumulation = nil

	if s.onReplace != nil {
		s.onReplace(next)
	}
	if replay != nil && replay.IsReadable() {
		next.OnRead(ctx, replay)
	} else if replay != nil {
		replay.Release()
	}

	s.suppressRead = false
	if s.readPending {
		s.readPending = false
		next.Read(ctx)
	}
}

// extractClientHelloSNI parses a single Handshake record's payload for
// a ClientHello carrying a server_name (type 0, host_name) extension.
// It assumes the
// ClientHello is not fragmented across multiple records, which holds
// for the overwhelming majority of real-world ClientHellos.
func extractClientHelloSNI(record []byte) (hostname string, found bool, err error) {
	if len(record) < 4 {
		return "", false, newError("handshake record too short")
	}
	if record[0] != handshakeClientHello {
		return "", false, nil
	}
	msgLen := int(record[1])<<16 | int(record[2])<<8 | int(record[3])
	body := record[4:]
	if msgLen > len(body) {
		return "", false, newError("ClientHello length %d exceeds record", msgLen)
	}
	body = body[:msgLen]

	// client_version(2) + random(32)
	if len(body) < 34 {
		return "", false, newError("ClientHello truncated before random")
	}
	off := 34

	off, err = skipLengthPrefixed(body, off, 1)
	if err != nil {
		return "", false, err
	}
	off, err = skipLengthPrefixed(body, off, 2)
	if err != nil {
		return "", false, err
	}
	off, err = skipLengthPrefixed(body, off, 1)
	if err != nil {
		return "", false, err
	}

	if off == len(body) {
		return "", false, nil // no extensions present
	}
	if off+2 > len(body) {
		return "", false, newError("ClientHello truncated before extensions length")
	}
	extTotal := int(body[off])<<8 | int(body[off+1])
	off += 2
	if off+extTotal > len(body) {
		return "", false, newError("extensions length exceeds ClientHello body")
	}
	extensions := body[off : off+extTotal]

	for len(extensions) > 0 {
		if len(extensions) < 4 {
			return "", false, newError("truncated extension header")
		}
		extType := int(extensions[0])<<8 | int(extensions[1])
		extLen := int(extensions[2])<<8 | int(extensions[3])
		extensions = extensions[4:]
		if extLen > len(extensions) {
			return "", false, newError("truncated extension body")
		}
		data := extensions[:extLen]
		extensions = extensions[extLen:]

		if extType != 0 {
			continue
		}
		host, ok, perr := parseServerNameList(data)
		if perr != nil {
			return "", false, perr
		}
		if ok {
			return host, true, nil
		}
	}
	return "", false, nil
}

// parseServerNameList parses the server_name extension body, returning
// the first host_name (type 0) entry found.
func parseServerNameList(data []byte) (string, bool, error) {
	if len(data) < 2 {
		return "", false, newError("truncated server_name_list length")
	}
	listLen := int(data[0])<<8 | int(data[1])
	data = data[2:]
	if listLen > len(data) {
		return "", false, newError("server_name_list length exceeds extension")
	}
	data = data[:listLen]

	for len(data) > 0 {
		if len(data) < 3 {
			return "", false, newError("truncated server_name entry")
		}
		nameType := data[0]
		nameLen := int(data[1])<<8 | int(data[2])
		data = data[3:]
		if nameLen > len(data) {
			return "", false, newError("server_name entry length exceeds list")
		}
		name := data[:nameLen]
		data = data[nameLen:]

		if nameType == 0 {
			return string(name), true, nil
		}
	}
	return "", false, nil
}

// skipLengthPrefixed advances past a length-prefixed field whose
// length occupies prefixWidth bytes (1 or 2), returning the new offset.
func skipLengthPrefixed(body []byte, off, prefixWidth int) (int, error) {
	if off+prefixWidth > len(body) {
		return 0, newError("truncated before length prefix")
	}
	var n int
	if prefixWidth == 1 {
		n = int(body[off])
	} else {
		n = int(body[off])<<8 | int(body[off+1])
	}
	off += prefixWidth
	if off+n > len(body) {
		return 0, newError("length-prefixed field exceeds body")
	}
	return off + n, nil
}
