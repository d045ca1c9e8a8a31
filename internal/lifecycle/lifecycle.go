// Package lifecycle implements the Lifecycle Coordinator: the top-level
// Create/Delete/Action/Specification/Logs/Shutdown operations that drive
// the Project Info Store, Settings Merger, Build Scheduler, and Watcher
// Supervisor on behalf of the RPC front-end. It validates input, maps
// failures onto the six classified error kinds, and returns structured
// results the front-end translates into status codes.
package lifecycle

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/cwstudio/projectcore/internal/errors"
	"github.com/cwstudio/projectcore/internal/events"
	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/history"
	"github.com/cwstudio/projectcore/internal/logfields"
	"github.com/cwstudio/projectcore/internal/metrics"
	"github.com/cwstudio/projectcore/internal/projectinfo"
	"github.com/cwstudio/projectcore/internal/retry"
	"github.com/cwstudio/projectcore/internal/scheduler"
	"github.com/cwstudio/projectcore/internal/settings"
	"github.com/cwstudio/projectcore/internal/statusctl"
	"github.com/cwstudio/projectcore/internal/translate"
	"github.com/cwstudio/projectcore/internal/workspace"
)

const (
	logExtension       = ".log"
	dockerBuildLogName = "dockerBuild" + logExtension
)

// WatcherManager is the subset of the Watcher Supervisor the Coordinator
// drives directly: reaping a single project's child processes on delete
// or re-creation. Starting the watcher for an admitted build is the Build
// Scheduler's job (scheduler.WatcherStarter), not the Coordinator's.
type WatcherManager interface {
	StopWatcher(location string) error
}

// ActionFunc implements a single named Action. async controls whether
// Action runs it synchronously (returning its error directly, 200 on
// success) or in a goroutine (returning 202 immediately).
type ActionFunc func(info *projectinfo.Info, payload any) error

type registeredAction struct {
	fn    ActionFunc
	async bool
}

// CreateResult is returned by Create on success.
type CreateResult struct {
	OperationID        string
	DockerBuildLogPath string
}

// DeleteResult is returned by Delete on success.
type DeleteResult struct {
	OperationID string
}

// ActionResult is returned by Action on success.
type ActionResult struct {
	OperationID string
	Async       bool
}

// LogsResult is returned by Logs on success.
type LogsResult struct {
	Logs any
}

// CheckNewLogFileResult is returned by CheckNewLogFile.
type CheckNewLogFileResult struct {
	Changed bool
	Logs    []string
}

type projectRecord struct {
	info *projectinfo.Info
	meta workspace.Metadata
}

// Coordinator is the Lifecycle Coordinator.
type Coordinator struct {
	mu           sync.RWMutex
	projects     map[string]*projectRecord
	logFileCache map[string]map[string][]string // projectID -> logType -> file list

	infoStore    *projectinfo.Store
	workspaceMgr *workspace.Manager
	registry     handler.Registry
	statusCtl    statusctl.Controller
	build        *scheduler.Scheduler
	eventBus     events.EventBus
	historyStore *history.Store
	watcher      WatcherManager
	translator   translate.LocaleTranslator
	recorder     metrics.Recorder
	inCluster    bool
	log          *slog.Logger
	deleteRetry  retry.Policy

	actionsMu sync.RWMutex
	actions   map[string]registeredAction
}

// Config bundles the Coordinator's collaborators.
type Config struct {
	InfoStore    *projectinfo.Store
	WorkspaceMgr *workspace.Manager
	Registry     handler.Registry
	StatusCtl    statusctl.Controller
	Build        *scheduler.Scheduler
	EventBus     events.EventBus
	HistoryStore *history.Store
	Watcher      WatcherManager
	Translator   translate.LocaleTranslator
	Recorder     metrics.Recorder
	InCluster    bool
	Log          *slog.Logger
	// DeleteRetry governs retries of the handler's DeleteContainer call
	// during asyncDelete. Zero value falls back to retry.DefaultPolicy().
	DeleteRetry retry.Policy
}

// New constructs a Coordinator and registers the two built-in synchronous
// actions (disableautobuild, reconfigWatchedFiles).
func New(cfg Config) (*Coordinator, error) {
	if cfg.InfoStore == nil || cfg.WorkspaceMgr == nil || cfg.Registry == nil || cfg.StatusCtl == nil || cfg.Build == nil {
		return nil, fmt.Errorf("lifecycle: InfoStore, WorkspaceMgr, Registry, StatusCtl, and Build are required")
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = metrics.NoopRecorder{}
	}
	if cfg.DeleteRetry.Validate() != nil {
		cfg.DeleteRetry = retry.DefaultPolicy()
	}

	c := &Coordinator{
		projects:     make(map[string]*projectRecord),
		logFileCache: make(map[string]map[string][]string),
		infoStore:    cfg.InfoStore,
		workspaceMgr: cfg.WorkspaceMgr,
		registry:     cfg.Registry,
		statusCtl:    cfg.StatusCtl,
		build:        cfg.Build,
		eventBus:     cfg.EventBus,
		historyStore: cfg.HistoryStore,
		watcher:      cfg.Watcher,
		translator:   cfg.Translator,
		recorder:     cfg.Recorder,
		inCluster:    cfg.InCluster,
		log:          cfg.Log,
		deleteRetry:  cfg.DeleteRetry,
		actions:      make(map[string]registeredAction),
	}

	c.RegisterAction("disableautobuild", false, func(info *projectinfo.Info, _ any) error {
		return c.infoStore.Update(c.mustMeta(info.ProjectID).InfoFile, "autoBuildEnabled", false)
	})
	c.RegisterAction("reconfigWatchedFiles", false, func(info *projectinfo.Info, payload any) error {
		files, ok := payload.([]string)
		if !ok {
			return cerrors.BadRequestError("reconfigWatchedFiles: expected a list of file globs").Build()
		}
		return c.infoStore.Update(c.mustMeta(info.ProjectID).InfoFile, "watchedFiles", files)
	})

	return c, nil
}

// RegisterAction adds or replaces a named action. Unknown action names
// passed to Action are rejected with a BadRequest error.
func (c *Coordinator) RegisterAction(name string, async bool, fn ActionFunc) {
	c.actionsMu.Lock()
	defer c.actionsMu.Unlock()
	c.actions[name] = registeredAction{fn: fn, async: async}
}

func (c *Coordinator) mustMeta(projectID string) workspace.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.projects[projectID]; ok {
		return rec.meta
	}
	return workspace.Metadata{}
}

func (c *Coordinator) getProject(projectID string) (*projectRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.projects[projectID]
	return rec, ok
}

func (c *Coordinator) setProject(projectID string, rec *projectRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.projects[projectID] = rec
}

func (c *Coordinator) dropProject(projectID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.projects, projectID)
}

// ImageIdentifier computes the deterministic image identifier handlers use
// to tag build artifacts: projectID-projectType-SHA1(location).
func ImageIdentifier(projectID, projectType, location string) string {
	sum := sha1.Sum([]byte(location))
	return projectID + "-" + projectType + "-" + hex.EncodeToString(sum[:])
}

func logDirName(projectID, location string) string {
	return projectID + "-" + filepath.Base(location)
}

// dockerBuildLogPath computes the deterministic docker-build log-file path:
// <location>/../.logs/<projectLogDir>/<dockerBuildLogName>.
func dockerBuildLogPath(location, dirName string) string {
	return filepath.Join(location, "..", ".logs", dirName, dockerBuildLogName)
}

// fail records a validation failure against its category before returning
// it, so operators can see rejected Create/Delete/Action requests broken
// down by kind alongside the handler/build-outcome metrics.
func (c *Coordinator) fail(err *cerrors.ClassifiedError) error {
	c.recorder.IncLifecycleError(string(err.Category()))
	return err
}

// Create materialises a ProjectInfo for (projectID, projectType, location),
// merges handler defaults with any .cw-settings file present, and enqueues
// the initial build. Returns the operation id and deterministic build log
// path on success.
func (c *Coordinator) Create(projectID, projectType, location, startMode, extensionID string) (*CreateResult, error) {
	if projectID == "" || projectType == "" || location == "" {
		return nil, c.fail(cerrors.BadRequestError("create: projectID, projectType, and location are all required").Build())
	}

	raw, err := readSettings(location)
	if err != nil {
		return nil, c.fail(cerrors.IOFailureError(fmt.Sprintf("read .cw-settings: %v", err)).Build())
	}

	dirName := logDirName(projectID, location)
	meta := c.workspaceMgr.Metadata(projectID, dirName)
	if err := c.workspaceMgr.EnsureLogDir(meta); err != nil {
		return nil, c.fail(cerrors.IOFailureError(fmt.Sprintf("create log directory: %v", err)).Build())
	}

	if existing, ok := c.infoStore.Load(meta.InfoFile, true); ok {
		if existing.ProjectType != projectType || existing.Location != location {
			return nil, c.fail(cerrors.ConflictError(fmt.Sprintf("project %q already exists with a different type or location", projectID)).Build())
		}
		c.log.Info("re-creating project, killing prior watcher processes", logfields.ProjectID(projectID))
		if c.watcher != nil && !c.inCluster {
			if err := c.watcher.StopWatcher(existing.Location); err != nil {
				c.log.Warn("stop prior watcher during re-create", logfields.ProjectID(projectID), logfields.Err(err))
			}
		}
	}

	if _, err := os.Stat(location); err != nil {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("location does not exist: %s", location)).Build())
	}

	base := projectinfo.New(projectID, projectType, location)
	h, ok := c.registry.GetProjectHandler(base)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("no handler registered for project type %q", projectType)).Build())
	}

	info := settings.Merge(base, handlerDefaults(h), raw, c.log)
	info.ExtensionID = extensionID

	if startMode != "" {
		caps := c.registry.GetProjectCapabilities(h)
		if !supportsStartMode(caps, startMode) {
			return nil, c.fail(cerrors.BadRequestError(fmt.Sprintf("start mode %q not supported by project type %q", startMode, projectType)).Build())
		}
		info.StartMode = startMode
	}

	if err := c.workspaceMgr.EnsureDir(meta); err != nil {
		return nil, c.fail(cerrors.IOFailureError(fmt.Sprintf("create metadata directory: %v", err)).Build())
	}

	c.infoStore.Save(meta.InfoFile, info, true)
	c.setProject(projectID, &projectRecord{info: info, meta: meta})
	c.statusCtl.AddProject(projectID)

	operationID := uuid.NewString()
	c.build.Enqueue(&scheduler.Entry{
		ProjectID:   projectID,
		OperationID: operationID,
		Kind:        "create",
		Info:        info,
		Handler:     h,
	})

	c.recordHistory(projectID, operationID, "create", "queued", "")

	return &CreateResult{
		OperationID:        operationID,
		DockerBuildLogPath: dockerBuildLogPath(location, dirName),
	}, nil
}

// Delete removes projectID from the build queue/running set synchronously
// and tears down its watcher, handler container, and metadata directory
// asynchronously, emitting projectDeletion on completion.
func (c *Coordinator) Delete(projectID string) (*DeleteResult, error) {
	if projectID == "" {
		return nil, c.fail(cerrors.BadRequestError("delete: projectID is required").Build())
	}

	rec, ok := c.getProject(projectID)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("unknown project %q", projectID)).Build())
	}

	operationID := uuid.NewString()

	c.build.RemoveFromQueue(projectID)
	c.build.RemoveFromRunning(projectID)

	go c.asyncDelete(operationID, projectID, rec)

	return &DeleteResult{OperationID: operationID}, nil
}

func (c *Coordinator) asyncDelete(operationID, projectID string, rec *projectRecord) {
	c.statusCtl.DeleteProject(projectID)
	c.dropProject(projectID)

	if c.watcher != nil && !c.inCluster {
		if err := c.watcher.StopWatcher(rec.info.Location); err != nil {
			c.log.Warn("stop watcher during delete", logfields.ProjectID(projectID), logfields.Err(err))
		}
	}

	var deleteErr error
	if h, ok := c.registry.GetProjectHandler(rec.info); ok {
		deleteErr = c.deleteContainerWithRetry(h, rec.info)
		if deleteErr != nil {
			c.recorder.IncHandlerFailure(rec.info.ProjectType, "delete")
		}
	} else {
		deleteErr = fmt.Errorf("no handler registered for project type %q", rec.info.ProjectType)
		c.recorder.IncLifecycleError(string(cerrors.CategoryNotFound))
	}

	if err := c.workspaceMgr.RemoveDir(rec.meta); err != nil {
		c.log.Error("remove project metadata directory", logfields.ProjectID(projectID), logfields.Err(err))
		if deleteErr == nil {
			deleteErr = err
		}
	}
	c.infoStore.Evict(rec.meta.InfoFile)
	if err := c.workspaceMgr.RemoveLogDir(rec.meta); err != nil {
		c.log.Error("remove project log directory", logfields.ProjectID(projectID), logfields.Err(err))
	}

	c.mu.Lock()
	delete(c.logFileCache, projectID)
	c.mu.Unlock()

	status := "success"
	errMsg := ""
	if deleteErr != nil {
		status = "failed"
		errMsg = deleteErr.Error()
		c.log.Error("project deletion failed", logfields.ProjectID(projectID), logfields.Err(deleteErr))
	}

	c.recordHistory(projectID, operationID, "delete", status, errMsg)

	if c.eventBus != nil {
		c.eventBus.EmitOnListener(events.ProjectDeletion, events.ProjectDeletionPayload{
			OperationID: operationID,
			ProjectID:   projectID,
			Status:      status,
			Error:       errMsg,
		})
	}
}

// deleteContainerWithRetry retries a handler's DeleteContainer call per
// c.deleteRetry, since the underlying container/process teardown it drives
// is a transient-failure-prone external call (e.g. a container runtime
// momentarily unreachable), not a permanent rejection.
func (c *Coordinator) deleteContainerWithRetry(h handler.Handler, info *projectinfo.Info) error {
	var lastErr error
	for attempt := 0; attempt <= c.deleteRetry.MaxRetries; attempt++ {
		if attempt > 0 {
			c.log.Warn("retrying handler delete", logfields.ProjectID(info.ProjectID), slog.Int("attempt", attempt))
		}
		err := h.DeleteContainer(info)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt == c.deleteRetry.MaxRetries {
			break
		}
		time.Sleep(c.deleteRetry.Delay(attempt + 1))
	}
	return fmt.Errorf("delete container failed after retries: %w", lastErr)
}

// Action invokes a named action against projectID. Synchronous actions run
// inline and return their error directly (200 on success); asynchronous
// actions run in a goroutine and return 202 immediately.
func (c *Coordinator) Action(projectID, name string, payload any) (*ActionResult, error) {
	if projectID == "" || name == "" {
		return nil, c.fail(cerrors.BadRequestError("action: projectID and name are required").Build())
	}

	c.actionsMu.RLock()
	act, ok := c.actions[name]
	c.actionsMu.RUnlock()
	if !ok {
		return nil, c.fail(cerrors.BadRequestError(fmt.Sprintf("unknown action %q", name)).Build())
	}

	rec, ok := c.getProject(projectID)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("unknown project %q", projectID)).Build())
	}

	operationID := uuid.NewString()

	if !act.async {
		if err := act.fn(rec.info, payload); err != nil {
			classified := mapActionError(err)
			if ce, ok := cerrors.AsClassified(classified); ok {
				c.recorder.IncLifecycleError(string(ce.Category()))
			}
			return nil, classified
		}
		return &ActionResult{OperationID: operationID, Async: false}, nil
	}

	go func() {
		if err := act.fn(rec.info, payload); err != nil {
			c.log.Error("async action failed", logfields.ProjectID(projectID), slog.String("action", name), logfields.Err(err))
		}
	}()
	return &ActionResult{OperationID: operationID, Async: true}, nil
}

// Specification reconfigures a live project's settings, delegating to the
// Settings Merger and re-persisting the result. Returns 202 {operationId}
// with the same error-mapping rule as Action.
func (c *Coordinator) Specification(projectID string, raw *settings.RawSettings) (*ActionResult, error) {
	if projectID == "" {
		return nil, c.fail(cerrors.BadRequestError("specification: projectID is required").Build())
	}

	rec, ok := c.getProject(projectID)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("unknown project %q", projectID)).Build())
	}

	h, ok := c.registry.GetProjectHandler(rec.info)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("no handler registered for project type %q", rec.info.ProjectType)).Build())
	}

	operationID := uuid.NewString()

	go func() {
		merged := settings.Merge(rec.info, handlerDefaults(h), raw, c.log)
		c.infoStore.Save(rec.meta.InfoFile, merged, true)
		c.setProject(projectID, &projectRecord{info: merged, meta: rec.meta})
		c.recordHistory(projectID, operationID, "specification", "success", "")
	}()

	return &ActionResult{OperationID: operationID, Async: true}, nil
}

// Logs returns the handler-reported app/build log bundle for projectID.
func (c *Coordinator) Logs(projectID string) (*LogsResult, error) {
	if projectID == "" {
		return nil, c.fail(cerrors.BadRequestError("logs: projectID is required").Build())
	}
	rec, ok := c.getProject(projectID)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("unknown project %q", projectID)).Build())
	}
	if _, err := os.Stat(rec.info.Location); err != nil {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("location no longer exists: %s", rec.info.Location)).Build())
	}

	h, ok := c.registry.GetProjectHandler(rec.info)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("no handler registered for project type %q", rec.info.ProjectType)).Build())
	}
	lh, ok := h.(handler.LogsHandler)
	if !ok {
		return &LogsResult{Logs: nil}, nil
	}

	logs, err := lh.Logs(rec.info)
	if err != nil {
		return nil, c.fail(cerrors.HandlerFailureError(fmt.Sprintf("fetch logs: %v", err)).Build())
	}
	return &LogsResult{Logs: logs}, nil
}

// CheckNewLogFile polls the handler for log files of logType and compares
// them against the cached list, ignoring order. The first appearance of a
// type for a project, or a changed set, updates the cache and emits
// projectLogsListChanged; an unchanged set is reported with Changed=false.
func (c *Coordinator) CheckNewLogFile(projectID, logType string) (*CheckNewLogFileResult, error) {
	rec, ok := c.getProject(projectID)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("unknown project %q", projectID)).Build())
	}

	h, ok := c.registry.GetProjectHandler(rec.info)
	if !ok {
		return nil, c.fail(cerrors.NotFoundError(fmt.Sprintf("no handler registered for project type %q", rec.info.ProjectType)).Build())
	}
	lister, ok := h.(handler.LogFileLister)
	if !ok {
		return &CheckNewLogFileResult{Changed: false}, nil
	}

	current, err := lister.ListLogFiles(rec.info, logType)
	if err != nil {
		return nil, c.fail(cerrors.HandlerFailureError(fmt.Sprintf("list log files: %v", err)).Build())
	}
	if len(current) == 0 {
		return &CheckNewLogFileResult{Changed: false}, nil
	}

	c.mu.Lock()
	perType, ok := c.logFileCache[projectID]
	if !ok {
		perType = make(map[string][]string)
		c.logFileCache[projectID] = perType
	}
	cached, hadType := perType[logType]
	changed := !hadType || !sameSet(cached, current)
	if changed {
		perType[logType] = append([]string(nil), current...)
	}
	c.mu.Unlock()

	if changed && c.eventBus != nil {
		c.eventBus.EmitOnListener(events.ProjectLogsListChanged, events.ProjectLogsListChangedPayload{
			ProjectID: projectID,
			Type:      logType,
		})
	}

	return &CheckNewLogFileResult{Changed: changed, Logs: current}, nil
}

// Shutdown truncates the build queue/running set and stops every known
// project's watcher, then closes the history store. Callers map a non-nil
// error to 500, nil to 202.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if err := c.build.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown build scheduler: %w", err)
	}
	if c.historyStore != nil {
		if err := c.historyStore.Close(); err != nil {
			return fmt.Errorf("close history store: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) recordHistory(projectID, operationID, kind, state, detail string) {
	if c.historyStore == nil {
		return
	}
	if err := c.historyStore.Record(context.Background(), history.Entry{
		ProjectID:   projectID,
		OperationID: operationID,
		Kind:        kind,
		State:       state,
		Detail:      detail,
	}); err != nil {
		c.log.Warn("record lifecycle history", logfields.ProjectID(projectID), logfields.Err(err))
	}
}

func readSettings(location string) (*settings.RawSettings, error) {
	path := filepath.Join(location, ".cw-settings")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return settings.ParseRawSettings(data)
}

func handlerDefaults(h handler.Handler) settings.HandlerDefaults {
	var d settings.HandlerDefaults
	if dh, ok := h.(handler.DefaultAppPortHandler); ok {
		if p := dh.DefaultAppPort(); p != "" {
			d.AppPorts = []string{p}
		}
	}
	if dh, ok := h.(handler.DefaultDebugPortHandler); ok {
		d.DebugPort = dh.DefaultDebugPort()
	}
	if dh, ok := h.(handler.DefaultIgnoredPathHandler); ok {
		if p := dh.DefaultIgnoredPath(); p != "" {
			d.IgnoredPaths = []string{p}
		}
	}
	return d
}

func supportsStartMode(caps handler.Capabilities, startMode string) bool {
	for _, m := range caps.StartModes {
		if m == startMode {
			return true
		}
	}
	return false
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func mapActionError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := cerrors.AsClassified(err); ok {
		return err
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "enoent"), strings.Contains(lower, "file_not_exist"), strings.Contains(lower, "not found"):
		return cerrors.NotFoundError(msg).Build()
	case strings.Contains(lower, "bad_request"), strings.Contains(lower, "invalid"):
		return cerrors.BadRequestError(msg).Build()
	default:
		return cerrors.InternalError(msg).Build()
	}
}
