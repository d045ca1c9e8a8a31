// Package watchersup implements the Watcher Supervisor: it reaps lingering
// project-watcher processes left over from a prior run and spawns a fresh
// detached watcher process per project. It is a no-op when running inside
// a cluster-managed environment (config.Config.InCluster), since the
// cluster's own process supervision handles restarts there.
package watchersup

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/logfields"
	"github.com/cwstudio/projectcore/internal/projectinfo"
)

// watchEverythingGlob is the include pattern passed to the spawned
// project-watcher when a generic container-type project has no
// watchedFiles configured, per spec §4.B.4: watch the whole location.
const watchEverythingGlob = "**"

// ProcessLister abstracts the process-table scan (ps -eo pid,args) so tests
// can substitute a fixed table instead of shelling out.
type ProcessLister interface {
	ListProcesses() ([]Process, error)
}

// Process is one row of the process table: a PID and its full command line.
type Process struct {
	PID  int
	Args string
}

// Killer abstracts sending a termination signal to a PID.
type Killer interface {
	Kill(pid int) error
}

// Spawner abstracts starting a new detached process.
type Spawner interface {
	SpawnDetached(name string, args ...string) error
}

// PSProcessLister lists processes by shelling out to `ps -eo pid,args`.
type PSProcessLister struct{}

func (PSProcessLister) ListProcesses() ([]Process, error) {
	out, err := exec.Command("ps", "-eo", "pid,args").Output()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	lines := strings.Split(string(out), "\n")
	procs := make([]Process, 0, len(lines))
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		procs = append(procs, Process{PID: pid, Args: fields[1]})
	}
	return procs, nil
}

// OSKiller sends SIGTERM to a PID via `kill`.
type OSKiller struct{}

func (OSKiller) Kill(pid int) error {
	return exec.Command("kill", strconv.Itoa(pid)).Run()
}

// OSSpawner starts a new detached child process.
type OSSpawner struct{}

func (OSSpawner) SpawnDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	return cmd.Start()
}

const projectWatcherScriptPath = "/usr/local/bin/project-watcher"

// Supervisor is the Watcher Supervisor.
type Supervisor struct {
	lister     ProcessLister
	killer     Killer
	spawner    Spawner
	registry   handler.Registry
	inCluster  bool
	portalPort int
	log        *slog.Logger
}

// Config bundles the Supervisor's collaborators.
type Config struct {
	Lister     ProcessLister
	Killer     Killer
	Spawner    Spawner
	// Registry, if set, is consulted by StartWatcher to detect generic
	// container-type projects for the unset-watchedFiles default (§4.B.4).
	// StartWatcher behaves as before when Registry is nil.
	Registry   handler.Registry
	InCluster  bool
	PortalPort int
	Log        *slog.Logger
}

// New constructs a Supervisor. When cfg.InCluster is true, StartWatcher and
// StopWatcher become no-ops.
func New(cfg Config) *Supervisor {
	if cfg.Lister == nil {
		cfg.Lister = PSProcessLister{}
	}
	if cfg.Killer == nil {
		cfg.Killer = OSKiller{}
	}
	if cfg.Spawner == nil {
		cfg.Spawner = OSSpawner{}
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Supervisor{
		lister:     cfg.Lister,
		killer:     cfg.Killer,
		spawner:    cfg.Spawner,
		registry:   cfg.Registry,
		inCluster:  cfg.InCluster,
		portalPort: cfg.PortalPort,
		log:        cfg.Log,
	}
}

// StartWatcher reaps any lingering watcher processes for info.Location,
// then spawns a fresh detached watcher process for the project. A no-op in
// a cluster-managed environment.
func (s *Supervisor) StartWatcher(info *projectinfo.Info) error {
	if s.inCluster {
		return nil
	}

	if err := s.killLingering(info.Location); err != nil {
		return err
	}

	watchedFiles := joinOrAbsent(s.effectiveWatchedFiles(info))
	ignoredFiles := joinOrAbsent(setToSlice(info.IgnoredFiles))

	args := []string{
		info.Location,
		workspaceOrigin(info.Location),
		info.ProjectID,
		"localhost",
		watchedFiles,
		ignoredFiles,
		"",
		strconv.Itoa(s.portalPort),
	}

	if err := s.spawner.SpawnDetached(projectWatcherScriptPath, args...); err != nil {
		return fmt.Errorf("spawn project watcher: %w", err)
	}
	s.log.Info("project watcher spawned", logfields.ProjectID(info.ProjectID), logfields.Path(info.Location), logfields.PortalPort(s.portalPort))
	return nil
}

// effectiveWatchedFiles returns info.WatchedFiles as a slice, unless info
// has none configured and its handler reports Capabilities.Generic, in
// which case it defaults to watching the whole location (§4.B.4).
func (s *Supervisor) effectiveWatchedFiles(info *projectinfo.Info) []string {
	files := setToSlice(info.WatchedFiles)
	if len(files) > 0 || s.registry == nil {
		return files
	}
	h, ok := s.registry.GetProjectHandler(info)
	if !ok {
		return files
	}
	if !s.registry.GetProjectCapabilities(h).Generic {
		return files
	}
	return []string{watchEverythingGlob}
}

// StopWatcher reaps lingering watcher processes for location only (no
// spawn), used on project delete.
func (s *Supervisor) StopWatcher(location string) error {
	if s.inCluster {
		return nil
	}
	return s.killLingering(location)
}

// StopAllProjects kills every project-watcher child process still running,
// regardless of project. Used by the Build Scheduler's Shutdown to tear
// down all watchers in one pass instead of one StopWatcher call per
// project. A no-op in a cluster-managed environment.
func (s *Supervisor) StopAllProjects() {
	if s.inCluster {
		return
	}
	procs, err := s.lister.ListProcesses()
	if err != nil {
		s.log.Warn("scan process table for shutdown", logfields.Err(err))
		return
	}
	for _, p := range procs {
		if !strings.HasPrefix(p.Args, projectWatcherScriptPath+" ") {
			continue
		}
		if err := s.killer.Kill(p.PID); err != nil {
			s.log.Warn("kill watcher process during shutdown", logfields.PID(p.PID), logfields.Err(err))
			continue
		}
		s.log.Info("killed watcher process during shutdown", logfields.PID(p.PID))
	}
}

// killLingering scans the process table for two identifiers that reference
// location (suffixed with "/" to avoid prefix collisions between projects
// whose names share a prefix): the project-watcher script followed by
// "<location> ", and an inotify-style watcher whose arguments contain
// "<location>/". Each matched PID is killed; per-PID kill errors are
// logged and swallowed.
func (s *Supervisor) killLingering(location string) error {
	procs, err := s.lister.ListProcesses()
	if err != nil {
		return fmt.Errorf("scan process table: %w", err)
	}

	suffixed := strings.TrimRight(location, "/") + "/"
	scriptMarker := projectWatcherScriptPath + " " + strings.TrimRight(location, "/") + " "
	inotifyMarker := suffixed

	for _, p := range procs {
		if !strings.Contains(p.Args, scriptMarker) && !strings.Contains(p.Args, inotifyMarker) {
			continue
		}
		if err := s.killer.Kill(p.PID); err != nil {
			s.log.Warn("kill lingering watcher process", logfields.PID(p.PID), logfields.Path(location), logfields.Err(err))
			continue
		}
		s.log.Info("killed lingering watcher process", logfields.PID(p.PID), logfields.Path(location))
	}
	return nil
}

func workspaceOrigin(location string) string {
	idx := strings.LastIndex(strings.TrimRight(location, "/"), "/")
	if idx < 0 {
		return location
	}
	return location[:idx]
}

func setToSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func joinOrAbsent(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return strings.Join(vals, ",")
}
