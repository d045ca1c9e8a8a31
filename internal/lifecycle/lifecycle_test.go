package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/projectinfo"
	"github.com/cwstudio/projectcore/internal/retry"
	"github.com/cwstudio/projectcore/internal/scheduler"
	"github.com/cwstudio/projectcore/internal/statusctl"
	"github.com/cwstudio/projectcore/internal/workspace"
)

type fakeHandler struct {
	kind       string
	logFiles   []string
	logsCalled bool

	deleteFailures int // number of DeleteContainer calls that return an error before succeeding
	deleteCalls    int
}

func (f *fakeHandler) SupportedType() string { return f.kind }
func (f *fakeHandler) Create(op handler.Operation) error {
	return nil
}
func (f *fakeHandler) DeleteContainer(info *projectinfo.Info) error {
	f.deleteCalls++
	if f.deleteCalls <= f.deleteFailures {
		return fmt.Errorf("transient delete failure %d", f.deleteCalls)
	}
	return nil
}
func (f *fakeHandler) DefaultAppPort() string                       { return "8080" }
func (f *fakeHandler) Logs(info *projectinfo.Info) (any, error) {
	f.logsCalled = true
	return "log bundle", nil
}
func (f *fakeHandler) ListLogFiles(info *projectinfo.Info, logType string) ([]string, error) {
	return f.logFiles, nil
}

type fakeWatcher struct {
	mu      sync.Mutex
	stopped []string
}

func (w *fakeWatcher) StopWatcher(location string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = append(w.stopped, location)
	return nil
}

type fakeEventBus struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeEventBus) EmitOnListener(event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *fakeEventBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

type testEnv struct {
	coord   *Coordinator
	reg     *handler.InMemory
	watcher *fakeWatcher
	bus     *fakeEventBus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithHandler(t, &fakeHandler{kind: "docker"})
}

func newTestEnvWithHandler(t *testing.T, h *fakeHandler) *testEnv {
	t.Helper()

	reg := handler.NewInMemory(nil)
	reg.Register(h, handler.Capabilities{ProjectType: h.kind, StartModes: []string{"run", "debug"}})

	statusCtl := statusctl.NewInMemory()
	infoStore := projectinfo.NewStore(nil)
	wsMgr := workspace.NewManager(t.TempDir(), t.TempDir())

	build, err := scheduler.New(scheduler.Config{MaxBuilds: 2, StatusCtl: statusCtl})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	t.Cleanup(func() { _ = build.Shutdown(t.Context()) })

	watcher := &fakeWatcher{}
	bus := &fakeEventBus{}

	coord, err := New(Config{
		InfoStore:    infoStore,
		WorkspaceMgr: wsMgr,
		Registry:     reg,
		StatusCtl:    statusCtl,
		Build:        build,
		EventBus:     bus,
		Watcher:      watcher,
		DeleteRetry:  retry.NewPolicy(retry.BackoffFixed, time.Millisecond, 5*time.Millisecond, 3),
	})
	if err != nil {
		t.Fatalf("lifecycle.New: %v", err)
	}

	return &testEnv{coord: coord, reg: reg, watcher: watcher, bus: bus}
}

func TestCreateMissingFieldsReturnsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.coord.Create("", "docker", "/tmp", "", "")
	if err == nil {
		t.Fatal("expected error for missing projectID")
	}
}

func TestCreateLocationMissingReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := env.coord.Create("p1", "docker", missing, "", "")
	if err == nil {
		t.Fatal("expected not-found error for missing location")
	}
}

func TestCreateUnknownHandlerReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	_, err := env.coord.Create("p1", "unknown-type", dir, "", "")
	if err == nil {
		t.Fatal("expected not-found error for unregistered project type")
	}
}

func TestCreateSuccessEnqueuesBuildAndReturnsLogPath(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	result, err := env.coord.Create("p1", "docker", dir, "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if result.OperationID == "" {
		t.Fatal("expected a non-empty operation id")
	}
	if !filepath.IsAbs(result.DockerBuildLogPath) {
		t.Fatalf("expected absolute docker build log path, got %s", result.DockerBuildLogPath)
	}

	rec, ok := env.coord.getProject("p1")
	if !ok {
		t.Fatal("expected project to be tracked after create")
	}
	if rec.info.AppPorts == nil || rec.info.AppPorts[0] != "8080" {
		t.Fatalf("expected handler default app port to be applied, got %+v", rec.info.AppPorts)
	}
}

func TestCreateConflictDifferentType(t *testing.T) {
	env := newTestEnv(t)
	env.reg.Register(&fakeHandler{kind: "maven"}, handler.Capabilities{ProjectType: "maven"})
	dir := t.TempDir()

	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := env.coord.Create("p1", "maven", dir, "", ""); err == nil {
		t.Fatal("expected conflict error for differing project type")
	}
}

func TestCreateRecreationStopsWatcher(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("re-create: %v", err)
	}

	env.watcher.mu.Lock()
	defer env.watcher.mu.Unlock()
	if len(env.watcher.stopped) != 1 {
		t.Fatalf("expected exactly one watcher-stop on re-create, got %v", env.watcher.stopped)
	}
}

func TestDeleteUnknownProjectReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.coord.Delete("does-not-exist")
	if err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestDeleteRemovesProjectAndEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()

	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := env.coord.Delete("p1")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if result.OperationID == "" {
		t.Fatal("expected a non-empty operation id")
	}

	removed := false
	for i := 0; i < 1000; i++ {
		if _, ok := env.coord.getProject("p1"); !ok {
			removed = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !removed {
		t.Fatal("expected project to be removed asynchronously")
	}

	if env.bus.count() == 0 {
		t.Fatal("expected projectDeletion event to be emitted")
	}
}

func TestDeleteRetriesTransientHandlerFailureThenSucceeds(t *testing.T) {
	h := &fakeHandler{kind: "docker", deleteFailures: 2}
	env := newTestEnvWithHandler(t, h)
	dir := t.TempDir()

	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.coord.Delete("p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	removed := false
	for i := 0; i < 1000; i++ {
		if _, ok := env.coord.getProject("p1"); !ok {
			removed = true
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !removed {
		t.Fatal("expected project to be removed asynchronously")
	}
	if h.deleteCalls != 3 {
		t.Fatalf("expected DeleteContainer to be retried until success, got %d calls", h.deleteCalls)
	}
}

func TestDeleteGivesUpAfterMaxRetries(t *testing.T) {
	h := &fakeHandler{kind: "docker", deleteFailures: 100}
	env := newTestEnvWithHandler(t, h)
	dir := t.TempDir()

	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.coord.Delete("p1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.deleteCalls >= 4 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if h.deleteCalls != 4 {
		t.Fatalf("expected exactly MaxRetries+1 attempts (4), got %d", h.deleteCalls)
	}
}

func TestActionUnknownNameReturnsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := env.coord.Action("p1", "no-such-action", nil); err == nil {
		t.Fatal("expected bad-request error for unknown action")
	}
}

func TestActionSyncDisableAutobuild(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := env.coord.Action("p1", "disableautobuild", nil)
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if result.Async {
		t.Fatal("expected disableautobuild to run synchronously")
	}
}

func TestActionSyncReconfigWatchedFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := env.coord.Action("p1", "reconfigWatchedFiles", []string{"src/**/*.go", "Dockerfile"})
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if result.Async {
		t.Fatal("expected reconfigWatchedFiles to run synchronously")
	}

	meta := env.coord.mustMeta("p1")
	info, ok := env.coord.infoStore.Load(meta.InfoFile, true)
	if !ok {
		t.Fatal("expected project info to still be present")
	}
	if !info.WatchedFiles.Has("src/**/*.go") || !info.WatchedFiles.Has("Dockerfile") {
		t.Fatalf("expected watchedFiles to be updated, got %v", info.WatchedFiles)
	}
}

func TestActionSyncReconfigWatchedFilesRejectsWrongPayloadType(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := env.coord.Action("p1", "reconfigWatchedFiles", "not-a-list"); err == nil {
		t.Fatal("expected bad-request error for non-[]string payload")
	}
}

func TestActionAsyncReturnsImmediately(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ran := make(chan struct{})
	env.coord.RegisterAction("slow-action", true, func(info *projectinfo.Info, payload any) error {
		close(ran)
		return nil
	})

	result, err := env.coord.Action("p1", "slow-action", nil)
	if err != nil {
		t.Fatalf("Action: %v", err)
	}
	if !result.Async {
		t.Fatal("expected slow-action to report async")
	}
	<-ran
}

func TestLogsReturnsHandlerBundle(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := env.coord.Logs("p1")
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if result.Logs != "log bundle" {
		t.Fatalf("unexpected logs: %+v", result.Logs)
	}
}

func TestLogsMissingLocationReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}

	if _, err := env.coord.Logs("p1"); err == nil {
		t.Fatal("expected not-found error once location disappears")
	}
}

func TestCheckNewLogFileFirstAppearanceEmitsEvent(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	if _, err := env.coord.Create("p1", "docker", dir, "", ""); err != nil {
		t.Fatalf("Create: %v", err)
	}

	h, _ := env.reg.GetProjectHandler(&projectinfo.Info{ProjectType: "docker"})
	h.(*fakeHandler).logFiles = []string{"build.log"}

	result, err := env.coord.CheckNewLogFile("p1", "build")
	if err != nil {
		t.Fatalf("CheckNewLogFile: %v", err)
	}
	if !result.Changed {
		t.Fatal("expected first appearance to report changed")
	}

	result2, err := env.coord.CheckNewLogFile("p1", "build")
	if err != nil {
		t.Fatalf("CheckNewLogFile second call: %v", err)
	}
	if result2.Changed {
		t.Fatal("expected unchanged same-type list to report no change")
	}

	if env.bus.count() == 0 {
		t.Fatal("expected projectLogsListChanged event to be emitted")
	}
}

func TestShutdownSucceeds(t *testing.T) {
	env := newTestEnv(t)
	if err := env.coord.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

