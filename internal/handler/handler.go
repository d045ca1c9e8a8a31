// Package handler defines the external Handler / HandlerRegistry contracts
// the Lifecycle Coordinator and Build Scheduler depend on, plus an
// in-memory reference registry for tests and small deployments that don't
// need dynamic plugin discovery.
package handler

import (
	"errors"
	"fmt"
	"os"

	"github.com/cwstudio/projectcore/internal/projectinfo"
)

// ErrFileNotExist is returned by Registry.DetermineProjectType when the
// candidate location does not exist on disk.
var ErrFileNotExist = errors.New("handler: location does not exist")

// Operation carries the information a Handler needs to perform a single
// lifecycle action.
type Operation struct {
	OperationID string
	Kind        string
	Info        *projectinfo.Info
}

// Validator reports whether all required files for a project are present.
type Validator func(info *projectinfo.Info) error

// Handler is implemented once per supported project type (docker, maven,
// node, a generic container, ...). Optional methods are modeled as
// interfaces the registry type-asserts for, since Go has no optional
// interface methods.
type Handler interface {
	SupportedType() string
	Create(op Operation) error
	DeleteContainer(info *projectinfo.Info) error
}

// RequiredFilesHandler is implemented by handlers that must validate the
// presence of specific files before a build may start.
type RequiredFilesHandler interface {
	RequiredFiles() []string
	ValidateRequiredFiles(info *projectinfo.Info) error
}

// DefaultAppPortHandler is implemented by handlers with a fixed default
// status-ping port (e.g. Spring Boot defaults to 8080).
type DefaultAppPortHandler interface {
	DefaultAppPort() string
}

// DefaultDebugPortHandler is implemented by handlers with a fixed default
// debug port.
type DefaultDebugPortHandler interface {
	DefaultDebugPort() string
}

// DefaultIgnoredPathHandler is implemented by handlers that want a path
// auto-ignored by the watcher unless overridden (e.g. a build output dir).
type DefaultIgnoredPathHandler interface {
	DefaultIgnoredPath() string
}

// LogsHandler is implemented by handlers that can report a bundle of app
// and build logs for a project, used by the Lifecycle Coordinator's Logs
// operation.
type LogsHandler interface {
	Logs(info *projectinfo.Info) (any, error)
}

// LogFileLister is implemented by handlers that can enumerate the current
// log files of a given type (app or build) for a project, used by
// CheckNewLogFile to detect newly-appeared or rotated log files.
type LogFileLister interface {
	ListLogFiles(info *projectinfo.Info, logType string) ([]string, error)
}

// Capabilities describes what a handler supports, queried by the Lifecycle
// Coordinator when validating a requested startMode.
type Capabilities struct {
	ProjectType string
	StartModes  []string
	Generic     bool
}

// Registry resolves project types to handlers.
type Registry interface {
	GetAllProjectTypes() []string
	DetermineProjectType(location string) (string, error)
	GetProjectHandler(info *projectinfo.Info) (Handler, bool)
	GetProjectCapabilities(h Handler) Capabilities
}

// InMemory is a reference Registry backed by a fixed map of registered
// handlers, suitable for tests and for wiring a small fixed set of
// built-in project types.
type InMemory struct {
	handlers     map[string]Handler
	capabilities map[string]Capabilities
	detect       func(location string) (string, error)
}

// NewInMemory returns a Registry with no handlers registered. detect is an
// optional hook used by DetermineProjectType to pick a project type from a
// location's contents (e.g. look for a Dockerfile or pom.xml); when nil,
// DetermineProjectType always fails with a "no project type detected" error
// once the location check passes, deferring type discovery to the caller.
func NewInMemory(detect func(location string) (string, error)) *InMemory {
	return &InMemory{
		handlers:     make(map[string]Handler),
		capabilities: make(map[string]Capabilities),
		detect:       detect,
	}
}

// Register adds h under its SupportedType, along with its capabilities.
func (r *InMemory) Register(h Handler, caps Capabilities) {
	r.handlers[h.SupportedType()] = h
	r.capabilities[h.SupportedType()] = caps
}

func (r *InMemory) GetAllProjectTypes() []string {
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}

// DetermineProjectType resolves a project type for location. It first
// confirms location exists (returning ErrFileNotExist if not, matching the
// FILE_NOT_EXIST contract), then delegates to the detect hook.
func (r *InMemory) DetermineProjectType(location string) (string, error) {
	if _, err := os.Stat(location); err != nil {
		return "", ErrFileNotExist
	}
	if r.detect == nil {
		return "", fmt.Errorf("handler: no project type detected for %s", location)
	}
	return r.detect(location)
}

func (r *InMemory) GetProjectHandler(info *projectinfo.Info) (Handler, bool) {
	h, ok := r.handlers[info.ProjectType]
	return h, ok
}

func (r *InMemory) GetProjectCapabilities(h Handler) Capabilities {
	return r.capabilities[h.SupportedType()]
}

var _ Registry = (*InMemory)(nil)
