package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Conversation metrics exposed on /metrics.
var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportbot",
		Name:      "turns_total",
		Help:      "Processed conversation turns by channel and pre-turn stage.",
	}, []string{"channel", "stage"})

	turnFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportbot",
		Name:      "turn_failures_total",
		Help:      "Turns aborted by a collaborator failure, by channel.",
	}, []string{"channel"})

	otpIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportbot",
		Name:      "otp_issued_total",
		Help:      "OTP issue attempts by outcome (sent, dispatch_error).",
	}, []string{"outcome"})

	otpValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportbot",
		Name:      "otp_validations_total",
		Help:      "OTP validation attempts by outcome.",
	}, []string{"outcome"})

	escalationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "supportbot",
		Name:      "escalations_total",
		Help:      "Agent escalation attempts by outcome (created, reused, failed).",
	}, []string{"outcome"})
)
