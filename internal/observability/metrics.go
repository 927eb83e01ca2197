package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	registerOnce sync.Once

	injectionRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "injectctl",
			Subsystem: "injection",
			Name:      "requests_total",
			Help:      "Injection requests by device and outcome.",
		},
		[]string{"device", "outcome"},
	)
	injectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "injectctl",
			Subsystem: "injection",
			Name:      "request_duration_seconds",
			Help:      "Time from injection request to acknowledgement.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"device", "outcome"},
	)
	uninjected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "injectctl",
			Subsystem: "injection",
			Name:      "uninjected_total",
			Help:      "Uninjected notifications delivered to controllers.",
		},
		[]string{"device"},
	)
	hookInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "injectctl",
			Subsystem: "interceptor",
			Name:      "invocations_total",
			Help:      "Intercepted export invocations.",
		},
		[]string{"symbol"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(injectionRequests, injectionDuration, uninjected, hookInvocations)
	})
}

func RecordInjection(device string, success bool, duration time.Duration) {
	RegisterMetrics()
	outcome := OutcomeFailure
	if success {
		outcome = OutcomeSuccess
	}
	injectionRequests.WithLabelValues(device, outcome).Inc()
	injectionDuration.WithLabelValues(device, outcome).Observe(duration.Seconds())
}

func RecordUninjected(device string) {
	RegisterMetrics()
	uninjected.WithLabelValues(device).Inc()
}

func RecordHookInvocation(symbol string) {
	RegisterMetrics()
	hookInvocations.WithLabelValues(symbol).Inc()
}

// InjectionCount is exposed for tests and status output.
func InjectionCount(device, outcome string) float64 {
	return counterValue(injectionRequests.WithLabelValues(device, outcome))
}

func UninjectedCount(device string) float64 {
	return counterValue(uninjected.WithLabelValues(device))
}

func HookInvocationCount(symbol string) float64 {
	return counterValue(hookInvocations.WithLabelValues(symbol))
}
