package handler

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/cwstudio/projectcore/internal/projectinfo"
)

type fakeHandler struct {
	kind          string
	createCalls   int
	deleteCalls   int
	requiredFiles []string
}

func (f *fakeHandler) SupportedType() string { return f.kind }
func (f *fakeHandler) Create(op Operation) error {
	f.createCalls++
	return nil
}
func (f *fakeHandler) DeleteContainer(info *projectinfo.Info) error {
	f.deleteCalls++
	return nil
}
func (f *fakeHandler) RequiredFiles() []string { return f.requiredFiles }
func (f *fakeHandler) ValidateRequiredFiles(info *projectinfo.Info) error {
	if len(f.requiredFiles) == 0 {
		return nil
	}
	return errors.New("missing required file")
}

func TestRegisterAndGetProjectHandler(t *testing.T) {
	reg := NewInMemory(nil)
	h := &fakeHandler{kind: "docker"}
	reg.Register(h, Capabilities{ProjectType: "docker", StartModes: []string{"run", "debug"}})

	info := projectinfo.New("p1", "docker", "/w/p1")
	got, ok := reg.GetProjectHandler(info)
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if got.SupportedType() != "docker" {
		t.Fatalf("unexpected handler: %+v", got)
	}
}

func TestGetProjectHandlerUnknownType(t *testing.T) {
	reg := NewInMemory(nil)
	info := projectinfo.New("p1", "missing-type", "/w/p1")
	_, ok := reg.GetProjectHandler(info)
	if ok {
		t.Fatal("expected unknown type to miss")
	}
}

func TestDetermineProjectTypeMissingLocation(t *testing.T) {
	reg := NewInMemory(nil)
	_, err := reg.DetermineProjectType(filepath.Join(t.TempDir(), "does-not-exist"))
	if !errors.Is(err, ErrFileNotExist) {
		t.Fatalf("expected ErrFileNotExist, got %v", err)
	}
}

func TestDetermineProjectTypeUsesDetectHook(t *testing.T) {
	dir := t.TempDir()
	reg := NewInMemory(func(location string) (string, error) { return "docker", nil })
	got, err := reg.DetermineProjectType(dir)
	if err != nil {
		t.Fatalf("DetermineProjectType: %v", err)
	}
	if got != "docker" {
		t.Fatalf("expected docker, got %q", got)
	}
}

func TestGetProjectCapabilities(t *testing.T) {
	reg := NewInMemory(nil)
	h := &fakeHandler{kind: "maven"}
	caps := Capabilities{ProjectType: "maven", StartModes: []string{"run"}}
	reg.Register(h, caps)

	got := reg.GetProjectCapabilities(h)
	if got.ProjectType != "maven" || len(got.StartModes) != 1 {
		t.Fatalf("unexpected capabilities: %+v", got)
	}
}

func TestGetAllProjectTypes(t *testing.T) {
	reg := NewInMemory(nil)
	reg.Register(&fakeHandler{kind: "docker"}, Capabilities{ProjectType: "docker"})
	reg.Register(&fakeHandler{kind: "maven"}, Capabilities{ProjectType: "maven"})

	types := reg.GetAllProjectTypes()
	if len(types) != 2 {
		t.Fatalf("expected 2 project types, got %d", len(types))
	}
}

func TestRequiredFilesHandlerValidation(t *testing.T) {
	h := &fakeHandler{kind: "maven", requiredFiles: []string{"pom.xml"}}
	var rf RequiredFilesHandler = h
	if len(rf.RequiredFiles()) != 1 {
		t.Fatalf("expected one required file")
	}
	info := projectinfo.New("p1", "maven", "/w/p1")
	if err := rf.ValidateRequiredFiles(info); err == nil {
		t.Fatal("expected validation failure for missing required file")
	}
}

func TestInMemorySatisfiesRegistry(t *testing.T) {
	var _ Registry = NewInMemory(nil)
}
