// Package scheduler implements the Build Scheduler: the FIFO build queue,
// the bounded running-builds set, and the periodic reconciliation tick
// that admits queued builds and reaps completed ones. It is the single
// owner of buildQueue and runningBuilds; handlers never mutate these
// collections directly.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/cwstudio/projectcore/internal/events"
	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/logfields"
	"github.com/cwstudio/projectcore/internal/metrics"
	"github.com/cwstudio/projectcore/internal/projectinfo"
	"github.com/cwstudio/projectcore/internal/statusctl"
	"github.com/cwstudio/projectcore/internal/translate"
)

const reconcileInterval = 5 * time.Second

// WatcherStarter starts the per-project watcher process for info, per the
// Watcher Supervisor. Accepted as an interface so the scheduler does not
// import the supervisor package directly.
type WatcherStarter interface {
	StartWatcher(info *projectinfo.Info) error
}

// ProjectStopper stops every known project's watcher/child processes. Used
// by Shutdown.
type ProjectStopper interface {
	StopAllProjects()
}

// Entry is a BuildQueueEntry: one operation paired with the handler that
// will execute it.
type Entry struct {
	ProjectID   string
	OperationID string
	Kind        string
	Info        *projectinfo.Info
	Handler     handler.Handler

	startedAt time.Time
}

// Scheduler is the Build Scheduler. All mutation of the queue and the
// running set is serialized by mu; handler invocations happen outside the
// critical section since they may block on filesystem/process I/O.
type Scheduler struct {
	mu        sync.Mutex
	queue     []*Entry
	running   map[string]*Entry
	maxBuilds int

	statusCtl  statusctl.Controller
	infoStore  *projectinfo.Store
	eventBus   events.EventBus
	recorder   metrics.Recorder
	translator translate.LocaleTranslator
	watcher    WatcherStarter
	stopper    ProjectStopper
	log        *slog.Logger

	reconcileMu      sync.Mutex
	reconciling      bool
	reconcilePending bool

	cron gocron.Scheduler
}

// Config bundles the Scheduler's collaborators.
type Config struct {
	MaxBuilds  int
	StatusCtl  statusctl.Controller
	InfoStore  *projectinfo.Store
	EventBus   events.EventBus
	Recorder   metrics.Recorder
	Translator translate.LocaleTranslator
	Watcher    WatcherStarter
	Stopper    ProjectStopper
	Log        *slog.Logger
}

// New constructs a Scheduler and starts its 5-second reconciliation tick.
// Call Shutdown to stop the tick and drain all work.
func New(cfg Config) (*Scheduler, error) {
	if cfg.MaxBuilds <= 0 {
		cfg.MaxBuilds = 3
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Scheduler{
		running:    make(map[string]*Entry),
		maxBuilds:  cfg.MaxBuilds,
		statusCtl:  cfg.StatusCtl,
		infoStore:  cfg.InfoStore,
		eventBus:   cfg.EventBus,
		recorder:   cfg.Recorder,
		translator: cfg.Translator,
		watcher:    cfg.Watcher,
		stopper:    cfg.Stopper,
		log:        cfg.Log,
		cron:       cron,
	}

	if _, err := cron.NewJob(
		gocron.DurationJob(reconcileInterval),
		gocron.NewTask(func() { s.Tick() }),
	); err != nil {
		return nil, fmt.Errorf("schedule reconciliation tick: %w", err)
	}
	cron.Start()

	s.recorder.SetMaxBuilds(cfg.MaxBuilds)
	return s, nil
}

// Enqueue admits entry into buildQueue, idempotently by ProjectID: if the
// project is already queued or running, Enqueue is a no-op. Triggers a
// reconciliation tick afterward.
func (s *Scheduler) Enqueue(entry *Entry) {
	s.mu.Lock()
	if _, running := s.running[entry.ProjectID]; running {
		s.mu.Unlock()
		return
	}
	for _, existing := range s.queue {
		if existing.ProjectID == entry.ProjectID {
			s.mu.Unlock()
			return
		}
	}
	s.queue = append(s.queue, entry)
	s.mu.Unlock()

	if s.statusCtl != nil {
		_ = s.statusCtl.UpdateProjectStatus(entry.ProjectID, statusctl.StateQueued, "", nil)
	}
	s.emitRanks()
	s.Tick()
}

// RemoveFromQueue removes projectID from buildQueue if present, re-emitting
// ranks. Returns true if an entry was removed.
func (s *Scheduler) RemoveFromQueue(projectID string) bool {
	s.mu.Lock()
	removed := false
	next := s.queue[:0]
	for _, e := range s.queue {
		if e.ProjectID == projectID {
			removed = true
			continue
		}
		next = append(next, e)
	}
	s.queue = next
	s.mu.Unlock()

	if removed {
		s.emitRanks()
	}
	return removed
}

// RemoveFromRunning removes projectID from runningBuilds if present.
// Returns true if an entry was removed.
func (s *Scheduler) RemoveFromRunning(projectID string) bool {
	s.mu.Lock()
	_, ok := s.running[projectID]
	if ok {
		delete(s.running, projectID)
	}
	s.mu.Unlock()
	if ok {
		s.recorder.SetRunningBuilds(s.RunningCount())
	}
	return ok
}

// QueueLen and RunningCount report current collection sizes for metrics and
// invariant assertions.
func (s *Scheduler) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Tick runs one reconciliation pass: reap terminal builds, admit queued
// ones up to MaxBuilds, and broadcast ranks if the queue composition
// changed. Concurrent calls while a tick is in flight are coalesced: at
// most one additional tick runs after the current one completes.
func (s *Scheduler) Tick() {
	s.reconcileMu.Lock()
	if s.reconciling {
		s.reconcilePending = true
		s.reconcileMu.Unlock()
		return
	}
	s.reconciling = true
	s.reconcileMu.Unlock()

	for {
		s.reconcileOnce()

		s.reconcileMu.Lock()
		if s.reconcilePending {
			s.reconcilePending = false
			s.reconcileMu.Unlock()
			continue
		}
		s.reconciling = false
		s.reconcileMu.Unlock()
		return
	}
}

func (s *Scheduler) reconcileOnce() {
	s.recorder.IncReconcileTick()

	changed := s.reap()
	admitted := s.admit()
	if changed || admitted {
		s.emitRanks()
	}

	s.recorder.SetQueueDepth(s.QueueLen())
	s.recorder.SetRunningBuilds(s.RunningCount())
}

func (s *Scheduler) reap() bool {
	s.mu.Lock()
	var toReap []*Entry
	for id, e := range s.running {
		if s.statusCtl == nil {
			continue
		}
		state, ok := s.statusCtl.GetBuildState(id)
		if !ok {
			continue
		}
		if state == statusctl.StateSuccess || state == statusctl.StateFailed {
			toReap = append(toReap, e)
			delete(s.running, id)
		}
	}
	s.mu.Unlock()

	for _, e := range toReap {
		outcome := metrics.BuildOutcomeSuccess
		if state, _ := s.statusCtl.GetBuildState(e.ProjectID); state == statusctl.StateFailed {
			outcome = metrics.BuildOutcomeFailed
		}
		projectType := ""
		if e.Info != nil {
			projectType = e.Info.ProjectType
		}
		s.recorder.IncBuildOutcome(projectType, outcome)
		if !e.startedAt.IsZero() {
			s.recorder.ObserveBuildDuration(projectType, time.Since(e.startedAt))
		}
		s.log.Info("build reaped", logfields.ProjectID(e.ProjectID), logfields.BuildState(string(outcome)))
	}

	return len(toReap) > 0
}

func (s *Scheduler) admit() bool {
	admittedAny := false
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || len(s.running) >= s.maxBuilds {
			s.mu.Unlock()
			break
		}
		entry := s.queue[0]
		s.queue = s.queue[1:]
		s.running[entry.ProjectID] = entry
		s.mu.Unlock()

		s.triggerBuild(entry)
		admittedAny = true
	}
	return admittedAny
}

// triggerBuild runs the admission procedure for entry: required-files
// validation, status transition, fire-and-forget handler invocation,
// watcher start, and event emission. Invoked outside s.mu.
func (s *Scheduler) triggerBuild(entry *Entry) {
	if rf, ok := entry.Handler.(handler.RequiredFilesHandler); ok && len(rf.RequiredFiles()) > 0 {
		if err := rf.ValidateRequiredFiles(entry.Info); err != nil {
			if s.statusCtl != nil {
				msg := translateOrKey(s.translator, translate.KeyBuildFailMissingFile)
				_ = s.statusCtl.UpdateProjectStatus(entry.ProjectID, statusctl.StateFailed, "buildscripts.buildFailMissingFile", msg)
			}
			s.recorder.IncLifecycleError("handler_failure")
			s.log.Warn("required files missing, build not started", logfields.ProjectID(entry.ProjectID), logfields.Err(err))
			return
		}
	}

	entry.startedAt = time.Now()
	if s.statusCtl != nil {
		msg := translateOrKey(s.translator, translate.KeyBuildStarted)
		_ = s.statusCtl.UpdateProjectStatus(entry.ProjectID, statusctl.StateInProgress, "projectStatusController.buildStarted", msg)
	}

	go func() {
		if err := entry.Handler.Create(handler.Operation{OperationID: entry.OperationID, Kind: entry.Kind, Info: entry.Info}); err != nil {
			s.log.Error("handler create failed", logfields.ProjectID(entry.ProjectID), logfields.Err(err))
			s.recorder.IncHandlerFailure(entry.Info.ProjectType, "create")
		}
	}()

	if s.watcher != nil {
		if err := s.watcher.StartWatcher(entry.Info); err != nil {
			s.log.Error("start watcher failed", logfields.ProjectID(entry.ProjectID), logfields.Err(err))
		}
	}

	if s.eventBus != nil {
		ignoredPaths := make([]string, 0, len(entry.Info.IgnoredPaths))
		for p := range entry.Info.IgnoredPaths {
			ignoredPaths = append(ignoredPaths, p)
		}
		s.eventBus.EmitOnListener(events.NewProjectAdded, events.NewProjectAddedPayload{
			ProjectID:    entry.ProjectID,
			IgnoredPaths: ignoredPaths,
		})
	}

	s.recorder.IncWatcherSpawn(entry.Info.ProjectType)
}

// EmitRanks compacts the queue and assigns each entry its 1-indexed rank
// among the total queued count, publishing the rank through the Status
// Controller.
func (s *Scheduler) EmitRanks() {
	s.emitRanks()
}

func (s *Scheduler) emitRanks() {
	s.mu.Lock()
	compact := make([]*Entry, 0, len(s.queue))
	for _, e := range s.queue {
		if e != nil {
			compact = append(compact, e)
		}
	}
	s.queue = compact
	snapshot := append([]*Entry(nil), s.queue...)
	s.mu.Unlock()

	n := len(snapshot)
	for i, e := range snapshot {
		if s.statusCtl == nil {
			continue
		}
		rank := fmt.Sprintf("%d/%d", i+1, n)
		msg := translateOrKey(s.translator, translate.KeyBuildRank, rank)
		_ = s.statusCtl.UpdateProjectStatus(e.ProjectID, statusctl.StateQueued, "projectStatusController.buildRank", msg)
		s.log.Debug("rank broadcast", logfields.ProjectID(e.ProjectID), logfields.Rank(i+1, n))
	}
}

// Shutdown truncates buildQueue and runningBuilds to zero length without
// reallocating, then delegates to the project stopper to stop every known
// project's child processes.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.queue = s.queue[:0]
	for id := range s.running {
		delete(s.running, id)
	}
	s.mu.Unlock()

	if s.cron != nil {
		if err := s.cron.Shutdown(); err != nil {
			s.log.Warn("shutdown reconciliation scheduler", logfields.Err(err))
		}
	}

	if s.stopper != nil {
		s.stopper.StopAllProjects()
	}
	return nil
}

func translateOrKey(t translate.LocaleTranslator, key translate.Key, params ...any) string {
	if t == nil {
		return string(key)
	}
	return t.GetTranslation(key, params...)
}
