package proxy

import "github.com/prometheus/client_golang/prometheus"

type relayMetrics struct {
	tunnelsActive        prometheus.Gauge
	authFailures         prometheus.Counter
	hostsBlocked         prometheus.Counter
	requestsForwarded    prometheus.Counter
	requestsIntercepted  *prometheus.CounterVec
	rewriteFallbacks     prometheus.Counter
	originErrors         prometheus.Counter
	persistenceFailures  *prometheus.CounterVec
	continuationsSpawned prometheus.Counter
}

func newRelayMetrics(reg prometheus.Registerer) *relayMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &relayMetrics{
		tunnelsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "volantir_tunnels_active",
			Help: "Number of authenticated tunnels currently open",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_auth_failures_total",
			Help: "Number of rejected tunnel authentication attempts",
		}),
		hostsBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_hosts_blocked_total",
			Help: "Number of requests terminated by the host allow-list",
		}),
		requestsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_requests_forwarded_total",
			Help: "Number of requests relayed without modification",
		}),
		requestsIntercepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volantir_requests_intercepted_total",
			Help: "Number of requests handled by a route handler",
		}, []string{"route"}),
		rewriteFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_rewrite_fallbacks_total",
			Help: "Number of intercepted responses relayed unmodified after a failure",
		}),
		originErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_origin_errors_total",
			Help: "Number of failed outbound origin requests",
		}),
		persistenceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volantir_persistence_failures_total",
			Help: "Number of failed background persistence steps",
		}, []string{"step"}),
		continuationsSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "volantir_continuations_spawned_total",
			Help: "Number of detached background continuations started",
		}),
	}

	reg.MustRegister(
		m.tunnelsActive,
		m.authFailures,
		m.hostsBlocked,
		m.requestsForwarded,
		m.requestsIntercepted,
		m.rewriteFallbacks,
		m.originErrors,
		m.persistenceFailures,
		m.continuationsSpawned,
	)

	return m
}
