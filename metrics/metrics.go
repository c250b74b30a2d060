// Package metrics exposes issuance and client authentication counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the engine counters. A nil *Metrics records nothing.
type Metrics struct {
	tokensIssued    *prometheus.CounterVec
	tokenFailures   *prometheus.CounterVec
	clientAuth      *prometheus.CounterVec
	cibaTransitions *prometheus.CounterVec
}

// New creates the counters and registers them on reg when reg is not nil.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_tokens_issued_total",
			Help: "Token bundles issued by grant type.",
		}, []string{"grant_type"}),
		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_token_requests_failed_total",
			Help: "Rejected token requests by grant type and OAuth2 error code.",
		}, []string{"grant_type", "error"}),
		clientAuth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_client_authentications_total",
			Help: "Client authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		cibaTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idp_ciba_transitions_total",
			Help: "CIBA grant state transitions by resulting status.",
		}, []string{"status"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.tokensIssued, m.tokenFailures, m.clientAuth, m.cibaTransitions} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *Metrics) TokenIssued(grantType string) {
	if m == nil {
		return
	}
	m.tokensIssued.WithLabelValues(grantType).Inc()
}

func (m *Metrics) TokenFailed(grantType, code string) {
	if m == nil {
		return
	}
	m.tokenFailures.WithLabelValues(grantType, code).Inc()
}

func (m *Metrics) ClientAuthenticated(method string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.clientAuth.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) CibaTransition(status string) {
	if m == nil {
		return
	}
	m.cibaTransitions.WithLabelValues(status).Inc()
}
