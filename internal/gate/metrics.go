package gate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "policygate_decisions_total",
	Help: "Number of drafts evaluated, by verdict",
}, []string{"verdict"})

var ruleMatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "policygate_rule_matches_total",
	Help: "Number of drafts each rule matched",
}, []string{"rule_id", "action"})

var budgetExceededCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "policygate_match_budget_exceeded_total",
	Help: "Number of rule matches abandoned for exceeding the time budget",
}, []string{"rule_id"})

var evaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "policygate_evaluation_duration_sec",
	Help:    "Time spent evaluating one draft against the full rule set",
	Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
})
