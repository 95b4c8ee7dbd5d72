package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitDecisionsTotal counts gate outcomes per scope:
	// allowed, limited, blacklisted, error.
	RateLimitDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcu_api_rate_limit_decisions_total",
		Help: "Rate limit decisions by scope and outcome",
	}, []string{"scope", "outcome"})

	// TokenValidationsTotal counts token validations by token kind and
	// outcome (valid or the token error code).
	TokenValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcu_api_token_validations_total",
		Help: "Token validations by kind and outcome",
	}, []string{"kind", "outcome"})

	TokenRotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcu_api_token_rotations_total",
		Help: "Token rotations by kind and status",
	}, []string{"kind", "status"})

	LoginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcu_api_login_attempts_total",
		Help: "Login attempts by scope and status",
	}, []string{"scope", "status"})

	RateLimitRecordsCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcu_api_rate_limit_records_cleaned_total",
		Help: "Rate limit records removed by the cleanup job",
	})
)
