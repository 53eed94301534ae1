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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/packetd/common"
)

// Mirrors controller/metrics.go's promauto + Namespace convention and
// connpool/metrics.go's per-instance label wrapper, labeled by role
// ("server"/"client") rather than by pool name.
var (
	handshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "tlsbridge",
			Name:      "handshakes_total",
			Help:      "TLS handshakes completed, by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	sniSelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "tlsbridge",
			Name:      "sni_selections_total",
			Help:      "SNI ClientHello scans, by outcome",
		},
		[]string{"outcome"},
	)
)

func roleLabel(r Role) string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

func (h *Handler) recordHandshake(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	handshakesTotal.WithLabelValues(roleLabel(h.cfg.Role), outcome).Inc()
}
