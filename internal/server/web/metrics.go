package web

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector gathers Prometheus counters for the auth endpoints.
type Collector struct {
	requests        *prometheus.CounterVec
	tokensIssued    *prometheus.CounterVec
	tokenRejections *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_http_requests_total",
			Help: "HTTP requests handled, by handler and status code.",
		}, []string{"handler", "code"}),
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Access/refresh token pairs issued, by operation.",
		}, []string{"operation"}),
		tokenRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auth_token_rejections_total",
			Help: "Rejected credentials or tokens, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(c.requests, c.tokensIssued, c.tokenRejections)

	return c
}

func (c *Collector) RecordRequest(handler, code string) {
	c.requests.WithLabelValues(handler, code).Inc()
}

func (c *Collector) RecordTokensIssued(operation string) {
	c.tokensIssued.WithLabelValues(operation).Inc()
}

func (c *Collector) RecordTokenRejection(reason string) {
	c.tokenRejections.WithLabelValues(reason).Inc()
}
