package gatekeeper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "policygate_rule_reloads_total",
		Help: "Rule set load attempts by result",
	}, []string{"result"})

	activeRules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "policygate_active_rules",
		Help: "Number of rules in the active rule set",
	})
)
