package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the pipeline's Prometheus metrics. All methods are safe
// on a nil receiver so components can run without metrics wired in.
type Collector struct {
	registry *prometheus.Registry

	jobsSubmitted  *prometheus.CounterVec
	jobsLaunched   *prometheus.CounterVec
	jobsSkipped    prometheus.Counter
	launchFailures prometheus.Counter

	rateAdmitted prometheus.Counter
	rateRejected prometheus.Counter

	eventsPublished prometheus.Counter
	eventsConsumed  prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsOrphaned  prometheus.Counter
	eventsRecovered prometheus.Counter

	rewardsGranted prometheus.Counter

	queueDepth prometheus.Gauge
}

// NewCollector creates a collector backed by its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_jobs_submitted_total",
			Help: "Total number of collection requests submitted to the queue",
		}, []string{"priority"}),
		jobsLaunched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_jobs_launched_total",
			Help: "Total number of executions launched, by mode (new or restart)",
		}, []string{"mode"}),
		jobsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_jobs_skipped_total",
			Help: "Total number of drained requests dropped because an execution was already running",
		}),
		launchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_launch_failures_total",
			Help: "Total number of failed launch attempts",
		}),
		rateAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_rate_admitted_total",
			Help: "Total number of calls admitted by the rate budget",
		}),
		rateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_rate_rejected_total",
			Help: "Total number of calls rejected by the rate budget",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_events_published_total",
			Help: "Total number of challenge-check events appended to the stream",
		}),
		eventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_events_consumed_total",
			Help: "Total number of stream entries consumed and acknowledged",
		}),
		eventsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_events_duplicate_total",
			Help: "Total number of entries short-circuited by the dedup marker",
		}),
		eventsOrphaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_events_orphaned_total",
			Help: "Total number of entries referencing entities that no longer exist",
		}),
		eventsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_events_recovered_total",
			Help: "Total number of pending entries reprocessed by the recovery scan",
		}),
		rewardsGranted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_rewards_granted_total",
			Help: "Total number of rewards granted by the rule engine",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_queue_depth",
			Help: "Current number of queued collection requests",
		}),
	}

	c.registry.MustRegister(
		c.jobsSubmitted,
		c.jobsLaunched,
		c.jobsSkipped,
		c.launchFailures,
		c.rateAdmitted,
		c.rateRejected,
		c.eventsPublished,
		c.eventsConsumed,
		c.eventsDuplicate,
		c.eventsOrphaned,
		c.eventsRecovered,
		c.rewardsGranted,
		c.queueDepth,
	)

	return c
}

// Handler returns the HTTP handler exposing this collector's registry.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordSubmit records one queue submission.
func (c *Collector) RecordSubmit(priority string) {
	if c == nil {
		return
	}
	c.jobsSubmitted.WithLabelValues(priority).Inc()
}

// RecordLaunch records one execution launch, mode "new" or "restart".
func (c *Collector) RecordLaunch(mode string) {
	if c == nil {
		return
	}
	c.jobsLaunched.WithLabelValues(mode).Inc()
}

// RecordSkip records one drained request dropped for a running execution.
func (c *Collector) RecordSkip() {
	if c == nil {
		return
	}
	c.jobsSkipped.Inc()
}

// RecordLaunchFailure records one failed launch attempt.
func (c *Collector) RecordLaunchFailure() {
	if c == nil {
		return
	}
	c.launchFailures.Inc()
}

// RecordAdmission records one rate budget decision.
func (c *Collector) RecordAdmission(admitted bool) {
	if c == nil {
		return
	}
	if admitted {
		c.rateAdmitted.Inc()
	} else {
		c.rateRejected.Inc()
	}
}

// RecordPublish records one appended event.
func (c *Collector) RecordPublish() {
	if c == nil {
		return
	}
	c.eventsPublished.Inc()
}

// RecordConsume records one consumed and acknowledged entry.
func (c *Collector) RecordConsume() {
	if c == nil {
		return
	}
	c.eventsConsumed.Inc()
}

// RecordDuplicate records one deduplicated entry.
func (c *Collector) RecordDuplicate() {
	if c == nil {
		return
	}
	c.eventsDuplicate.Inc()
}

// RecordOrphan records one entry whose entity no longer exists.
func (c *Collector) RecordOrphan() {
	if c == nil {
		return
	}
	c.eventsOrphaned.Inc()
}

// RecordRecovered records one entry reprocessed during recovery.
func (c *Collector) RecordRecovered() {
	if c == nil {
		return
	}
	c.eventsRecovered.Inc()
}

// RecordReward records one granted reward.
func (c *Collector) RecordReward() {
	if c == nil {
		return
	}
	c.rewardsGranted.Inc()
}

// SetQueueDepth updates the queued request gauge.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(n))
}
