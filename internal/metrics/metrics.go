// Package metrics exposes Prometheus counters for the admission funnel.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequests counts accepted chat relay requests by transport.
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_chat_requests_total",
		Help: "Chat requests relayed to the persona engine.",
	}, []string{"transport"})

	// StreamFailures counts chat streams that ended in an error.
	StreamFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_stream_failures_total",
		Help: "Chat streams that terminated with an upstream error.",
	})

	// AdmissionsGranted counts unlock markers observed on the relay.
	AdmissionsGranted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_admissions_granted_total",
		Help: "Admission grants recorded from observed unlock markers.",
	})

	// SubmissionsSaved counts successfully persisted submissions.
	SubmissionsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_submissions_saved_total",
		Help: "Submissions written to the candidates table.",
	})

	// SubmissionsRejected counts rejected submissions by reason.
	SubmissionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_submissions_rejected_total",
		Help: "Submissions rejected before persistence.",
	}, []string{"reason"})
)
