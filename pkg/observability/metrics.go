// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the authcore service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// HTTPBuckets defines histogram buckets for request latencies served
// locally, from 5ms to 5s.
var HTTPBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

// UpstreamBuckets defines histogram buckets for identity provider round
// trips, from 50ms to 30s.
var UpstreamBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30}

var (
	// RequestsTotal counts all HTTP requests by method, status class, and route.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status", "route"},
	)

	// RequestDuration records HTTP request duration in seconds by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_request_duration_seconds",
			Help:    "Request duration",
			Buckets: HTTPBuckets,
		},
		[]string{"method", "route"},
	)

	// AuthDecisionsTotal counts gate outcomes by credential source and decision.
	AuthDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_auth_decisions_total",
			Help: "Authentication decisions",
		},
		[]string{"source", "decision"},
	)

	// SessionsIssuedTotal counts minted sessions by device type and reason
	// (login, register, oauth, refresh).
	SessionsIssuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_sessions_issued_total",
			Help: "Sessions issued",
		},
		[]string{"device_type", "reason"},
	)

	// SessionRefreshTotal counts refresh attempts by result.
	SessionRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_session_refresh_total",
			Help: "Session refresh attempts",
		},
		[]string{"result"},
	)

	// SessionsRevokedTotal counts deleted sessions by reason.
	SessionsRevokedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_sessions_revoked_total",
			Help: "Sessions revoked",
		},
		[]string{"reason"},
	)

	// SessionsSweptTotal counts expired sessions removed by the sweeper.
	SessionsSweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "authcore_sessions_swept_total",
			Help: "Expired sessions swept",
		},
	)

	// OAuthExchangesTotal counts authorization code exchanges by provider and result.
	OAuthExchangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_oauth_exchanges_total",
			Help: "OAuth code exchanges",
		},
		[]string{"provider", "result"},
	)

	// OAuthExchangeDuration records identity provider round trip latency.
	OAuthExchangeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_oauth_exchange_duration_seconds",
			Help:    "OAuth exchange latency",
			Buckets: UpstreamBuckets,
		},
		[]string{"provider"},
	)

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_ratelimit_rejected_total",
			Help: "Rate limit rejections",
		},
		[]string{"scope"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthDecisionsTotal,
		SessionsIssuedTotal,
		SessionRefreshTotal,
		SessionsRevokedTotal,
		SessionsSweptTotal,
		OAuthExchangesTotal,
		OAuthExchangeDuration,
		RateLimitRejectedTotal,
	)
}
