// Package metrics holds the prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Name:      "auth_resolutions_total",
		Help:      "Request authorization resolutions by winning strategy and outcome.",
	}, []string{"strategy", "outcome"})

	PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Name:      "policy_decisions_total",
		Help:      "In-process policy decisions by operation and result.",
	}, []string{"operation", "decision"})

	Invitations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gatehouse",
		Name:      "invitations_total",
		Help:      "Invitation lifecycle events.",
	}, []string{"event"})
)
