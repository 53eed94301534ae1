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

package connpool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/packetd/common"
)

// 与 controller/metrics.go 一致的 promauto + Namespace 惯例：每个 Pool
// 实例按 name 标签上报 不单独注册/反注册 Collector
var (
	poolAcquired = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Subsystem: "connpool",
			Name:      "acquired",
			Help:      "Channels currently acquired from the pool",
		},
		[]string{"name"},
	)

	poolIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Subsystem: "connpool",
			Name:      "idle",
			Help:      "Idle channels currently stored in the pool",
		},
		[]string{"name"},
	)

	poolPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Subsystem: "connpool",
			Name:      "pending_acquires",
			Help:      "Acquire requests currently queued waiting for capacity",
		},
		[]string{"name"},
	)

	poolAcquireTimeouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "connpool",
			Name:      "acquire_timeouts_total",
			Help:      "Acquire requests that failed with AcquireTimedOut",
		},
		[]string{"name"},
	)

	poolUnhealthyDiscards = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Subsystem: "connpool",
			Name:      "unhealthy_discards_total",
			Help:      "Channels discarded for failing a health check",
		},
		[]string{"name"},
	)
)

// metrics 把上面的全局 Collector 绑定到某一个具体 Pool 的 name 标签上
type metrics struct {
	name string
}

func newMetrics(name string) *metrics { return &metrics{name: name} }

func (m *metrics) setAcquired(v int)    { poolAcquired.WithLabelValues(m.name).Set(float64(v)) }
func (m *metrics) setIdle(v int)        { poolIdle.WithLabelValues(m.name).Set(float64(v)) }
func (m *metrics) setPending(v int)     { poolPending.WithLabelValues(m.name).Set(float64(v)) }
func (m *metrics) incAcquireTimeout()   { poolAcquireTimeouts.WithLabelValues(m.name).Inc() }
func (m *metrics) incUnhealthyDiscard() { poolUnhealthyDiscards.WithLabelValues(m.name).Inc() }
