package learning

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patternOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_pattern_outcomes_total",
		Help: "Pattern detection results per recorded correction.",
	}, []string{"outcome"})

	rulesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_rules_created_total",
		Help: "Rules persisted, by provenance.",
	}, []string{"source"})

	ruleAdjustments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_rule_adjustments_total",
		Help: "Rule confidence adjustments, by feedback signal.",
	}, []string{"signal"})

	rulesDeactivated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steward_rules_deactivated_total",
		Help: "Rules that fell below the confidence floor.",
	})

	nearDuplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "steward_rules_near_duplicate_total",
		Help: "Rules created despite a similar existing rule.",
	})

	degraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_degraded_total",
		Help: "Calls that fell back because a dependency failed or is not configured.",
	}, []string{"dependency"})

	artifacts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "steward_learning_artifacts_total",
		Help: "Artifacts produced by the error classifier.",
	}, []string{"artifact"})
)
