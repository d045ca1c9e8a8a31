package metrics

import "time"

// BuildOutcomeLabel enumerates the terminal states a scheduled build can end
// in, used as a metric dimension.
type BuildOutcomeLabel string

const (
	BuildOutcomeSuccess BuildOutcomeLabel = "success"
	BuildOutcomeFailed  BuildOutcomeLabel = "failed"
)

// Recorder defines the observability hooks for the Build Scheduler, Watcher
// Supervisor, and Lifecycle Coordinator. Implementations may forward to
// Prometheus or elsewhere. All methods must be safe to call on a nil
// receiver (see NoopRecorder), so metrics can be optionally injected.
type Recorder interface {
	SetQueueDepth(n int)
	SetRunningBuilds(n int)
	SetMaxBuilds(n int)
	ObserveBuildDuration(projectType string, d time.Duration)
	IncBuildOutcome(projectType string, outcome BuildOutcomeLabel)
	IncReconcileTick()
	IncWatcherSpawn(projectType string)
	IncWatcherKill(projectType string)
	IncHandlerFailure(projectType, operation string)
	IncLifecycleError(category string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics are not configured).
type NoopRecorder struct{}

func (NoopRecorder) SetQueueDepth(int)                               {}
func (NoopRecorder) SetRunningBuilds(int)                            {}
func (NoopRecorder) SetMaxBuilds(int)                                {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration)      {}
func (NoopRecorder) IncBuildOutcome(string, BuildOutcomeLabel)       {}
func (NoopRecorder) IncReconcileTick()                               {}
func (NoopRecorder) IncWatcherSpawn(string)                          {}
func (NoopRecorder) IncWatcherKill(string)                           {}
func (NoopRecorder) IncHandlerFailure(string, string)                {}
func (NoopRecorder) IncLifecycleError(string)                        {}
