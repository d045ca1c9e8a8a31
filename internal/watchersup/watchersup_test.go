package watchersup

import (
	"errors"
	"testing"

	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/projectinfo"
)

type fakeWatcherHandler struct{ kind string }

func (f *fakeWatcherHandler) SupportedType() string                       { return f.kind }
func (f *fakeWatcherHandler) Create(op handler.Operation) error           { return nil }
func (f *fakeWatcherHandler) DeleteContainer(info *projectinfo.Info) error { return nil }

type fakeLister struct {
	procs []Process
	err   error
}

func (f *fakeLister) ListProcesses() ([]Process, error) { return f.procs, f.err }

type fakeKiller struct {
	killed []int
	failOn map[int]bool
}

func (f *fakeKiller) Kill(pid int) error {
	if f.failOn[pid] {
		return errors.New("no such process")
	}
	f.killed = append(f.killed, pid)
	return nil
}

type fakeSpawner struct {
	name string
	args []string
	err  error
}

func (f *fakeSpawner) SpawnDetached(name string, args ...string) error {
	f.name = name
	f.args = args
	return f.err
}

func newTestSupervisor(lister ProcessLister, killer Killer, spawner Spawner) *Supervisor {
	return New(Config{Lister: lister, Killer: killer, Spawner: spawner, PortalPort: 9000})
}

func TestStartWatcherKillsLingeringAndSpawnsDetached(t *testing.T) {
	lister := &fakeLister{procs: []Process{
		{PID: 100, Args: "/usr/local/bin/project-watcher /work/p1 /work p1"},
		{PID: 200, Args: "inotifywait /work/p1/src"},
		{PID: 300, Args: "/usr/local/bin/project-watcher /work/p1-other /work p1-other"},
	}}
	killer := &fakeKiller{}
	spawner := &fakeSpawner{}
	s := newTestSupervisor(lister, killer, spawner)

	info := projectinfo.New("p1", "docker", "/work/p1")

	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}

	if len(killer.killed) != 2 {
		t.Fatalf("expected exactly 2 PIDs killed (not the p1-other prefix collision), got %v", killer.killed)
	}
	for _, pid := range killer.killed {
		if pid == 300 {
			t.Fatal("expected prefix-colliding project p1-other to be left alone")
		}
	}

	if spawner.name != projectWatcherScriptPath {
		t.Fatalf("expected spawn of %q, got %q", projectWatcherScriptPath, spawner.name)
	}
	if len(spawner.args) != 8 {
		t.Fatalf("expected 8 args, got %d: %v", len(spawner.args), spawner.args)
	}
	if spawner.args[0] != "/work/p1" || spawner.args[2] != "p1" || spawner.args[3] != "localhost" {
		t.Fatalf("unexpected args: %v", spawner.args)
	}
	if spawner.args[7] != "9000" {
		t.Fatalf("expected portal port 9000, got %q", spawner.args[7])
	}
}

func TestStartWatcherDefaultsGenericProjectToWholeLocation(t *testing.T) {
	reg := handler.NewInMemory(nil)
	reg.Register(&fakeWatcherHandler{kind: "generic"}, handler.Capabilities{ProjectType: "generic", Generic: true})

	lister := &fakeLister{}
	spawner := &fakeSpawner{}
	s := New(Config{Lister: lister, Killer: &fakeKiller{}, Spawner: spawner, Registry: reg, PortalPort: 9000})

	info := projectinfo.New("p1", "generic", "/work/p1")

	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	if spawner.args[4] != watchEverythingGlob {
		t.Fatalf("expected watchedFiles arg %q, got %q", watchEverythingGlob, spawner.args[4])
	}
}

func TestStartWatcherLeavesNonGenericProjectWatchedFilesEmpty(t *testing.T) {
	reg := handler.NewInMemory(nil)
	reg.Register(&fakeWatcherHandler{kind: "docker"}, handler.Capabilities{ProjectType: "docker"})

	lister := &fakeLister{}
	spawner := &fakeSpawner{}
	s := New(Config{Lister: lister, Killer: &fakeKiller{}, Spawner: spawner, Registry: reg, PortalPort: 9000})

	info := projectinfo.New("p1", "docker", "/work/p1")

	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	if spawner.args[4] != "" {
		t.Fatalf("expected empty watchedFiles arg for non-generic project, got %q", spawner.args[4])
	}
}

func TestStartWatcherDoesNotOverrideExplicitWatchedFiles(t *testing.T) {
	reg := handler.NewInMemory(nil)
	reg.Register(&fakeWatcherHandler{kind: "generic"}, handler.Capabilities{ProjectType: "generic", Generic: true})

	lister := &fakeLister{}
	spawner := &fakeSpawner{}
	s := New(Config{Lister: lister, Killer: &fakeKiller{}, Spawner: spawner, Registry: reg, PortalPort: 9000})

	info := projectinfo.New("p1", "generic", "/work/p1")
	info.WatchedFiles.Add("src/**/*.go")

	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	if spawner.args[4] != "src/**/*.go" {
		t.Fatalf("expected configured watchedFiles to be preserved, got %q", spawner.args[4])
	}
}

func TestStartWatcherIsNoopInCluster(t *testing.T) {
	lister := &fakeLister{}
	killer := &fakeKiller{}
	spawner := &fakeSpawner{}
	s := New(Config{Lister: lister, Killer: killer, Spawner: spawner, InCluster: true})

	info := projectinfo.New("p1", "docker", "/work/p1")
	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("StartWatcher: %v", err)
	}
	if spawner.name != "" {
		t.Fatal("expected no spawn in cluster mode")
	}
}

func TestStartWatcherSwallowsPerPIDKillErrors(t *testing.T) {
	lister := &fakeLister{procs: []Process{
		{PID: 100, Args: "/usr/local/bin/project-watcher /work/p1 /work p1"},
	}}
	killer := &fakeKiller{failOn: map[int]bool{100: true}}
	spawner := &fakeSpawner{}
	s := newTestSupervisor(lister, killer, spawner)

	info := projectinfo.New("p1", "docker", "/work/p1")
	if err := s.StartWatcher(info); err != nil {
		t.Fatalf("expected kill failure to be swallowed, got %v", err)
	}
	if spawner.name == "" {
		t.Fatal("expected spawn to still proceed after swallowed kill error")
	}
}

func TestStopWatcherOnlyKillsDoesNotSpawn(t *testing.T) {
	lister := &fakeLister{procs: []Process{
		{PID: 100, Args: "/usr/local/bin/project-watcher /work/p1 /work p1"},
	}}
	killer := &fakeKiller{}
	spawner := &fakeSpawner{}
	s := newTestSupervisor(lister, killer, spawner)

	if err := s.StopWatcher("/work/p1"); err != nil {
		t.Fatalf("StopWatcher: %v", err)
	}
	if len(killer.killed) != 1 {
		t.Fatalf("expected 1 PID killed, got %v", killer.killed)
	}
	if spawner.name != "" {
		t.Fatal("expected StopWatcher to never spawn")
	}
}

func TestStopAllProjectsKillsOnlyWatcherProcesses(t *testing.T) {
	lister := &fakeLister{procs: []Process{
		{PID: 100, Args: "/usr/local/bin/project-watcher /work/p1 /work p1"},
		{PID: 200, Args: "/usr/local/bin/project-watcher /work/p2 /work p2"},
		{PID: 300, Args: "inotifywait /work/p1/src"},
		{PID: 400, Args: "/usr/bin/unrelated-daemon"},
	}}
	killer := &fakeKiller{}
	spawner := &fakeSpawner{}
	s := newTestSupervisor(lister, killer, spawner)

	s.StopAllProjects()

	if len(killer.killed) != 2 {
		t.Fatalf("expected exactly 2 watcher PIDs killed, got %v", killer.killed)
	}
	for _, pid := range killer.killed {
		if pid != 100 && pid != 200 {
			t.Fatalf("unexpected PID killed: %d", pid)
		}
	}
}

func TestStopAllProjectsIsNoopInCluster(t *testing.T) {
	lister := &fakeLister{procs: []Process{
		{PID: 100, Args: "/usr/local/bin/project-watcher /work/p1 /work p1"},
	}}
	killer := &fakeKiller{}
	s := New(Config{Lister: lister, Killer: killer, Spawner: &fakeSpawner{}, InCluster: true})

	s.StopAllProjects()

	if len(killer.killed) != 0 {
		t.Fatal("expected no kills in cluster mode")
	}
}

func TestStartWatcherPropagatesListError(t *testing.T) {
	lister := &fakeLister{err: errors.New("ps failed")}
	s := newTestSupervisor(lister, &fakeKiller{}, &fakeSpawner{})

	info := projectinfo.New("p1", "docker", "/work/p1")
	if err := s.StartWatcher(info); err == nil {
		t.Fatal("expected error to propagate")
	}
}
