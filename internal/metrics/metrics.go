package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine-level counters exposed on /metrics.
var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusattend_sessions_started_total",
		Help: "Sessions created by owners.",
	})

	SessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focusattend_sessions_ended_total",
		Help: "Sessions ended, by cause (manual, expired).",
	}, []string{"cause"})

	ParticipantsJoined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "focusattend_participants_joined_total",
		Help: "Participant join upserts.",
	})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focusattend_verifications_total",
		Help: "Verification challenge outcomes (verified, timeout, exceeded, exited).",
	}, []string{"outcome"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "focusattend_reconciliations_total",
		Help: "Reconciliation attempts by result (ok, not_found, error).",
	}, []string{"result"})
)
