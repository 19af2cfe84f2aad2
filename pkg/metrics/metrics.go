// Package metrics holds the Prometheus collectors for the build pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStack   = "stack"
	LabelStage   = "stage"
	LabelSuccess = "success"
	LabelOutcome = "outcome"
)

// Request outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

var (
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appsvcbuild",
		Subsystem: "pipeline",
		Name:      "requests_total",
		Help:      "Build requests by stack and terminal outcome.",
	}, []string{LabelStack, LabelOutcome})

	Attempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appsvcbuild",
		Subsystem: "pipeline",
		Name:      "attempts_total",
		Help:      "Attempts of a build request's artifact sequence.",
	}, []string{LabelStack, LabelSuccess})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "appsvcbuild",
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages, in seconds.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 3, 10), // top bucket ~= 2.7 hours
	}, []string{LabelStack, LabelStage, LabelSuccess})

	BuildPolls = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "appsvcbuild",
		Subsystem: "build",
		Name:      "polls",
		Help:      "Status polls per remote build run.",
		Buckets:   prometheus.LinearBuckets(1, 5, 10),
	}, []string{LabelStack})

	PollerTags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "appsvcbuild",
		Subsystem: "poller",
		Name:      "new_tags_total",
		Help:      "New upstream tags discovered by the poller.",
	}, []string{LabelStack})
)

// ObserveStage records the duration of a stage that began at begin.
func ObserveStage(stack, stage string, begin time.Time, err error) {
	StageDuration.WithLabelValues(stack, stage, fmt.Sprint(err == nil)).Observe(time.Since(begin).Seconds())
}
