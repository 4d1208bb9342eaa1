package resilience

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce sync.Once

	// BreakerState reports the current breaker state: 0=closed, 1=open, 2=half-open.
	BreakerState *prometheus.GaugeVec
	// BreakerTransitions counts breaker state transitions.
	BreakerTransitions *prometheus.CounterVec
	// BreakerOpenedTotal counts how often a breaker moved into the open state.
	BreakerOpenedTotal *prometheus.CounterVec
	// RetryAttempts counts outbound HTTP attempts by target and result.
	RetryAttempts *prometheus.CounterVec
)

// MustRegisterMetrics creates and registers the breaker and retry collectors.
// Calling it more than once is a no-op.
func MustRegisterMetrics(namespace string, reg prometheus.Registerer) {
	metricsOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Current breaker state: 0=closed,1=open,2=half-open",
		}, []string{"target"})
		BreakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transition_total",
			Help:      "Count of breaker state transitions",
		}, []string{"target", "from", "to"})
		BreakerOpenedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_open_total",
			Help:      "Number of times a breaker transitioned into open state",
		}, []string{"target"})
		RetryAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_client_attempts_total",
			Help:      "Outbound HTTP attempts by target and result",
		}, []string{"target", "result"})

		register(reg, BreakerState, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.GaugeVec); ok {
				BreakerState = v
			}
		})
		register(reg, BreakerTransitions, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				BreakerTransitions = v
			}
		})
		register(reg, BreakerOpenedTotal, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				BreakerOpenedTotal = v
			}
		})
		register(reg, RetryAttempts, func(c prometheus.Collector) {
			if v, ok := c.(*prometheus.CounterVec); ok {
				RetryAttempts = v
			}
		})
	})
}

func register(reg prometheus.Registerer, c prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reuse(are.ExistingCollector)
			return
		}
		panic(fmt.Errorf("register resilience metric: %w", err))
	}
}
