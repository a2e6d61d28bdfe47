// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vault

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type serviceMetrics struct {
	queueDepth           prometheus.Gauge
	depositsProcessed    prometheus.Counter
	depositsRetried      prometheus.Counter
	depositsFailed       prometheus.Counter
	withdrawalsSubmitted prometheus.Counter
}

func newServiceMetrics(
	promRegistry prometheus.Registerer,
) *serviceMetrics {
	if promRegistry == nil {
		promRegistry = prometheus.NewRegistry()
	}
	promautoFactory := promauto.With(promRegistry)
	return &serviceMetrics{
		queueDepth: promautoFactory.NewGauge(prometheus.GaugeOpts{
			Name: "paddock_deposit_queue_depth",
			Help: "current number of deposit claims awaiting validation",
		}),
		depositsProcessed: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "paddock_deposits_processed_total",
				Help: "deposit claims validated and credited",
			},
		),
		depositsRetried: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "paddock_deposits_retried_total",
				Help: "deposit validation attempts requeued for retry",
			},
		),
		depositsFailed: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "paddock_deposits_failed_total",
				Help: "deposit claims marked failed",
			},
		),
		withdrawalsSubmitted: promautoFactory.NewCounter(
			prometheus.CounterOpts{
				Name: "paddock_withdrawals_submitted_total",
				Help: "withdrawal transactions accepted by the chain provider",
			},
		),
	}
}
