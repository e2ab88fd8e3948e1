// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts student submissions by result.
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "submissions_total",
		Help:      "Student attendance submissions by result.",
	}, []string{"result"})

	// SessionsCreated counts sessions created by lecturers.
	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sessions_created_total",
		Help:      "Sessions created.",
	})

	// SyncJobsDropped counts sync jobs that could not be queued.
	SyncJobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "sync_jobs_dropped_total",
		Help:      "Pending sync jobs dropped because the queue rejected them.",
	})

	// RemoteSync counts per-target sync outcomes. outcome is "success" or a remote kind.
	RemoteSync = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance",
		Name:      "remote_sync_total",
		Help:      "Remote sync attempts by target and outcome.",
	}, []string{"target", "outcome"})

	// SyncDuration observes the wall time of one orchestrated sync.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance",
		Name:      "sync_duration_seconds",
		Help:      "Duration of a dual sync run.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Submission result labels.
const (
	ResultRecorded      = "recorded"
	ResultAlreadyMarked = "already_marked"
	ResultClosed        = "closed"
	ResultInvalid       = "invalid"
	ResultError         = "error"
)
