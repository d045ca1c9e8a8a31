// Package metrics provides an observability framework for the Build
// Scheduler, Watcher Supervisor, and Lifecycle Coordinator.
//
// # Design Philosophy
//
// This package implements the Null Object pattern to enable metrics collection
// without requiring explicit nil checks throughout the codebase. By default,
// all components use NoopRecorder which implements the Recorder interface with
// empty methods.
//
// # Architecture
//
// The metrics system has three components:
//
//  1. Recorder interface - Defines all metrics operations
//  2. NoopRecorder - Default implementation that does nothing (zero overhead)
//  3. Real implementation - PrometheusRecorder (activated when needed)
//
// # Usage Pattern
//
// Components receive a Recorder through dependency injection:
//
//	type Scheduler struct {
//	    recorder metrics.Recorder
//	}
//
//	func NewScheduler() *Scheduler {
//	    return &Scheduler{
//	        recorder: metrics.NoopRecorder{}, // Default: no metrics
//	    }
//	}
//
// # Activation
//
// To enable metrics, swap NoopRecorder for a real implementation:
//
//	// When Prometheus is configured
//	recorder := metrics.NewPrometheusRecorder(registry)
//	sched, err := scheduler.New(scheduler.Config{Recorder: recorder, ...})
//
// This approach allows:
//   - Negligible overhead when metrics are disabled (empty method calls)
//   - Metrics activation without code changes (just swap implementation)
//   - Clean testing (inject mock recorder for verification)
//   - Gradual rollout (enable metrics per-component)
package metrics
