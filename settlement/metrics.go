// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package settlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/luxfi/orderext/extension"
)

const metricsNamespace = "orderext"

var _ extension.SettlementObserver = (*Metrics)(nil)

// Metrics counts settlement outcomes
type Metrics struct {
	Fills           *prometheus.CounterVec
	RouterFallbacks prometheus.Counter
}

// NewMetrics registers the settlement counters on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Fills: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "fills_total",
			Help:      "Total number of gas-sponsored fills by outcome",
		}, []string{"outcome"}),
		RouterFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "settlement",
			Name:      "router_fallbacks_total",
			Help:      "Total number of fills settled 1:1 because the swap router was unavailable",
		}),
	}
}

// ObserveFill counts one fill outcome
func (m *Metrics) ObserveFill(outcome string) {
	m.Fills.WithLabelValues(outcome).Inc()
}

// ObserveRouterFallback counts one router fallback
func (m *Metrics) ObserveRouterFallback() {
	m.RouterFallbacks.Inc()
}
