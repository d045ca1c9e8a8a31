package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics, namespaced
// under "projectcore".
type PrometheusRecorder struct {
	once     sync.Once
	registry *prom.Registry

	queueDepth    prom.Gauge
	runningBuilds prom.Gauge
	maxBuilds     prom.Gauge

	buildDuration  *prom.HistogramVec
	buildOutcomes  *prom.CounterVec
	reconcileTicks prom.Counter

	watcherSpawns *prom.CounterVec
	watcherKills  *prom.CounterVec

	handlerFailures *prom.CounterVec
	lifecycleErrors *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the scheduler/watcher
// metrics (idempotent per instance).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{registry: reg}
	pr.once.Do(func() {
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "projectcore",
			Name:      "build_queue_depth",
			Help:      "Number of projects currently waiting in the build queue",
		})
		pr.runningBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "projectcore",
			Name:      "running_builds",
			Help:      "Number of projects currently admitted into the running set",
		})
		pr.maxBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "projectcore",
			Name:      "max_builds",
			Help:      "Configured concurrent build cap",
		})
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "projectcore",
			Name:      "build_duration_seconds",
			Help:      "Duration from admission into running builds to terminal status",
			Buckets:   prom.DefBuckets,
		}, []string{"project_type"})
		pr.buildOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by project type and final status",
		}, []string{"project_type", "outcome"})
		pr.reconcileTicks = prom.NewCounter(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "reconcile_ticks_total",
			Help:      "Number of Build Scheduler reconciliation ticks run",
		})
		pr.watcherSpawns = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "watcher_spawns_total",
			Help:      "Number of project-watcher child processes spawned",
		}, []string{"project_type"})
		pr.watcherKills = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "watcher_kills_total",
			Help:      "Number of project-watcher child processes killed",
		}, []string{"project_type"})
		pr.handlerFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "handler_failures_total",
			Help:      "Handler failures by project type and operation",
		}, []string{"project_type", "operation"})
		pr.lifecycleErrors = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "projectcore",
			Name:      "lifecycle_errors_total",
			Help:      "Errors surfaced by the Lifecycle Coordinator by category",
		}, []string{"category"})
		reg.MustRegister(
			pr.queueDepth, pr.runningBuilds, pr.maxBuilds,
			pr.buildDuration, pr.buildOutcomes, pr.reconcileTicks,
			pr.watcherSpawns, pr.watcherKills,
			pr.handlerFailures, pr.lifecycleErrors,
		)
	})
	return pr
}

// Registry returns the Prometheus registry this recorder's metrics were
// registered against, for mounting a scrape handler.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.registry
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetRunningBuilds(n int) {
	if p == nil || p.runningBuilds == nil {
		return
	}
	p.runningBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) SetMaxBuilds(n int) {
	if p == nil || p.maxBuilds == nil {
		return
	}
	p.maxBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) ObserveBuildDuration(projectType string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(projectType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(projectType string, outcome BuildOutcomeLabel) {
	if p == nil || p.buildOutcomes == nil {
		return
	}
	p.buildOutcomes.WithLabelValues(projectType, string(outcome)).Inc()
}

func (p *PrometheusRecorder) IncReconcileTick() {
	if p == nil || p.reconcileTicks == nil {
		return
	}
	p.reconcileTicks.Inc()
}

func (p *PrometheusRecorder) IncWatcherSpawn(projectType string) {
	if p == nil || p.watcherSpawns == nil {
		return
	}
	p.watcherSpawns.WithLabelValues(projectType).Inc()
}

func (p *PrometheusRecorder) IncWatcherKill(projectType string) {
	if p == nil || p.watcherKills == nil {
		return
	}
	p.watcherKills.WithLabelValues(projectType).Inc()
}

func (p *PrometheusRecorder) IncHandlerFailure(projectType, operation string) {
	if p == nil || p.handlerFailures == nil {
		return
	}
	p.handlerFailures.WithLabelValues(projectType, operation).Inc()
}

func (p *PrometheusRecorder) IncLifecycleError(category string) {
	if p == nil || p.lifecycleErrors == nil {
		return
	}
	p.lifecycleErrors.WithLabelValues(category).Inc()
}
