package main

import (
	"path/filepath"
	"testing"

	"github.com/cwstudio/projectcore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		ProjectsDataDir: filepath.Join(dir, "data"),
		ProjectsLogDir:  filepath.Join(dir, "logs"),
		HistoryDBPath:   filepath.Join(dir, "history.db"),
		MaxBuilds:       2,
	}
}

func TestNewDaemonWiresAllComponents(t *testing.T) {
	d, err := newDaemon(testConfig(t), 0, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	if d.http == nil || d.build == nil || d.lifecycle == nil {
		t.Fatal("expected all components to be wired")
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := d.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewEventBusDefaultsToLocalWithoutNATSURL(t *testing.T) {
	t.Setenv("NATS_URL", "")
	d, err := newDaemon(testConfig(t), 0, nil)
	if err != nil {
		t.Fatalf("newDaemon: %v", err)
	}
	if err := d.Stop(t.Context()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
