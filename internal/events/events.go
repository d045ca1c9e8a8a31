package events

import (
	"context"
	"log/slog"
)

// Event names, used as NATS subjects and as log field values.
const (
	NewProjectAdded        = "newProjectAdded"
	ProjectDeletion        = "projectDeletion"
	ProjectLogsListChanged = "projectLogsListChanged"
)

// NewProjectAddedPayload is emitted when the Build Scheduler admits a
// project and triggers its build.
type NewProjectAddedPayload struct {
	ProjectID    string   `json:"projectID"`
	IgnoredPaths []string `json:"ignoredPaths"`
}

// ProjectDeletionPayload is emitted when an asynchronous deletion completes.
type ProjectDeletionPayload struct {
	OperationID string `json:"operationId"`
	ProjectID   string `json:"projectID"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// ProjectLogsListChangedPayload is emitted when a project's app or build log
// list changes (e.g. log rotation, a new docker-build log file appears).
type ProjectLogsListChangedPayload struct {
	ProjectID string `json:"projectID"`
	Type      string `json:"type"`
}

// EventBus is the fire-and-forget publishing contract the Build Scheduler
// and Lifecycle Coordinator depend on. EmitOnListener never blocks the
// caller on delivery: failures are logged, not returned, because nothing
// downstream of a lifecycle event can meaningfully retry it.
type EventBus interface {
	EmitOnListener(event string, payload any)
}

// LocalBus adapts a Bus to the fire-and-forget EventBus contract for
// in-process consumers (e.g. the HTTP/RPC front-end streaming events to
// connected clients).
type LocalBus struct {
	bus *Bus
	log *slog.Logger
}

// NewLocalBus wraps bus as a fire-and-forget EventBus.
func NewLocalBus(bus *Bus, log *slog.Logger) *LocalBus {
	if log == nil {
		log = slog.Default()
	}
	return &LocalBus{bus: bus, log: log}
}

// EmitOnListener publishes payload under a generic envelope carrying the
// event name, so in-process subscribers can filter on it without needing a
// concrete Go type per event.
func (b *LocalBus) EmitOnListener(event string, payload any) {
	go func() {
		if err := b.bus.Publish(context.Background(), Envelope{Event: event, Payload: payload}); err != nil {
			b.log.Warn("emit event", slog.String("event", event), slog.String("error", err.Error()))
		}
	}()
}

// Envelope is the concrete type published on the local Bus for
// EmitOnListener calls, letting a single Subscribe[Envelope] drain every
// event regardless of name.
type Envelope struct {
	Event   string
	Payload any
}

var _ EventBus = (*LocalBus)(nil)
