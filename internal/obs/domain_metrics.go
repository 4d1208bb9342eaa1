package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SessionsOpenedTotal counts payment sessions that reached pending state.
	SessionsOpenedTotal prometheus.Counter
	// SessionsSettledTotal counts settled sessions by outcome kind.
	SessionsSettledTotal *prometheus.CounterVec
	// SessionsPending tracks the number of unsettled sessions.
	SessionsPending prometheus.Gauge
	// SessionDuration records the time from open to settlement in seconds.
	SessionDuration *prometheus.HistogramVec
	// WindowLaunchTotal counts payment window launch attempts.
	WindowLaunchTotal *prometheus.CounterVec
	// NotificationsTotal counts inbound provider notifications by type and result.
	NotificationsTotal *prometheus.CounterVec
	// PaymentLinkTotal counts payment link API calls.
	PaymentLinkTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SessionsOpenedTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Total number of payment sessions opened.",
		})
		SessionsSettledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_settled_total",
			Help:      "Count of settled payment sessions by outcome.",
		}, []string{"outcome"})
		SessionsPending = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_pending",
			Help:      "Number of payment sessions awaiting settlement.",
		})
		SessionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Time from session open to settlement.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"outcome"})
		WindowLaunchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_launch_total",
			Help:      "Count of payment window launch attempts by result.",
		}, []string{"result"})
		NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of provider notifications by type and result.",
		}, []string{"type", "result"})
		PaymentLinkTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_link_requests_total",
			Help:      "Count of payment link API calls by operation and result.",
		}, []string{"operation", "result"})

		mustRegisterCollector(reg, SessionsOpenedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				SessionsOpenedTotal = v
			}
		})
		mustRegisterCollector(reg, SessionsSettledTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionsSettledTotal = v
			}
		})
		mustRegisterCollector(reg, SessionsPending, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				SessionsPending = v
			}
		})
		mustRegisterCollector(reg, SessionDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				SessionDuration = v
			}
		})
		mustRegisterCollector(reg, WindowLaunchTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				WindowLaunchTotal = v
			}
		})
		mustRegisterCollector(reg, NotificationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				NotificationsTotal = v
			}
		})
		mustRegisterCollector(reg, PaymentLinkTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PaymentLinkTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}

// ObserveNotification increments the notification counter when registered.
func ObserveNotification(kind, result string) {
	if NotificationsTotal == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	NotificationsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveWindowLaunch increments the launch counter when registered.
func ObserveWindowLaunch(result string) {
	if WindowLaunchTotal != nil {
		WindowLaunchTotal.WithLabelValues(result).Inc()
	}
}

// ObservePaymentLink increments the payment link counter when registered.
func ObservePaymentLink(operation, result string) {
	if PaymentLinkTotal != nil {
		PaymentLinkTotal.WithLabelValues(operation, result).Inc()
	}
}
