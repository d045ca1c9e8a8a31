// Package workspace derives and manages the per-project metadata directory
// layout: a data directory holding the project's JSON info file, and a
// separate log directory holding build/app log files.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwstudio/projectcore/internal/logfields"
)

// Metadata is the set of derived paths for a single project, computed from
// its projectID and the fixed data/log roots:
//
//	dir      = <projectsDataDir>/<id>/
//	infoFile = dir/<id>.json
//	logDir   = <projectsLogDir>/<logDirName>/
type Metadata struct {
	ProjectID string
	Dir       string
	InfoFile  string
	LogDir    string
}

// Manager derives and manipulates per-project Metadata under two fixed
// roots: where project JSON documents live, and where build/app logs live.
type Manager struct {
	projectsDataDir string
	projectsLogDir  string
}

// NewManager constructs a Manager rooted at the given data and log
// directories. Neither is created until a project's directories are used.
func NewManager(projectsDataDir, projectsLogDir string) *Manager {
	return &Manager{projectsDataDir: projectsDataDir, projectsLogDir: projectsLogDir}
}

// Metadata derives the ProjectMetadata for a given project ID and log
// directory name (spec's `projectLogDir`).
func (m *Manager) Metadata(projectID, logDirName string) Metadata {
	dir := filepath.Join(m.projectsDataDir, projectID)
	return Metadata{
		ProjectID: projectID,
		Dir:       dir,
		InfoFile:  filepath.Join(dir, projectID+".json"),
		LogDir:    filepath.Join(m.projectsLogDir, logDirName),
	}
}

// EnsureDir ensures the project's metadata directory exists. EEXIST is not
// an error; any other filesystem error is returned to the caller.
func (m *Manager) EnsureDir(meta Metadata) error {
	if err := os.MkdirAll(meta.Dir, 0o750); err != nil {
		return fmt.Errorf("ensure metadata directory %s: %w", meta.Dir, err)
	}
	slog.Debug("ensured project metadata directory", logfields.ProjectID(meta.ProjectID), logfields.Path(meta.Dir))
	return nil
}

// EnsureLogDir ensures the project's log directory exists.
func (m *Manager) EnsureLogDir(meta Metadata) error {
	if err := os.MkdirAll(meta.LogDir, 0o750); err != nil {
		return fmt.Errorf("ensure log directory %s: %w", meta.LogDir, err)
	}
	return nil
}

// RemoveDir recursively removes the project's metadata directory. It
// refuses to act on the filesystem root or an empty path, returning an
// error instead of proceeding.
func (m *Manager) RemoveDir(meta Metadata) error {
	if err := refuseRoot(meta.Dir); err != nil {
		return err
	}
	if err := os.RemoveAll(meta.Dir); err != nil {
		return fmt.Errorf("remove metadata directory %s: %w", meta.Dir, err)
	}
	slog.Info("removed project metadata directory", logfields.ProjectID(meta.ProjectID), logfields.Path(meta.Dir))
	return nil
}

// RemoveLogDir recursively removes the project's log directory, with the
// same root-path refusal as RemoveDir.
func (m *Manager) RemoveLogDir(meta Metadata) error {
	if err := refuseRoot(meta.LogDir); err != nil {
		return err
	}
	if err := os.RemoveAll(meta.LogDir); err != nil {
		return fmt.Errorf("remove log directory %s: %w", meta.LogDir, err)
	}
	return nil
}

func refuseRoot(dir string) error {
	clean := filepath.Clean(dir)
	if clean == "" || clean == string(filepath.Separator) || clean == "." {
		return fmt.Errorf("refusing to remove %q", dir)
	}
	return nil
}
