package events

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// NATSBus publishes lifecycle events to a NATS subject per event name, for
// deployments where another process (a portal UI, a log streamer) needs
// events delivered across a process boundary rather than in-process.
// NewNATSBus returns the error if the initial connection fails; once
// connected, publishing is best-effort (failures are logged, never
// returned), matching the fire-and-forget EventBus contract.
type NATSBus struct {
	conn       *nats.Conn
	subjectFor func(event string) string
	log        *slog.Logger
}

// NewNATSBus connects to url and returns a ready EventBus. subjectPrefix is
// prepended to the event name to form the NATS subject, e.g. prefix
// "projectcore.events" yields subject "projectcore.events.newProjectAdded".
func NewNATSBus(url, subjectPrefix string, log *slog.Logger) (*NATSBus, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := nats.Connect(url, nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSBus{
		conn: conn,
		subjectFor: func(event string) string {
			if subjectPrefix == "" {
				return event
			}
			return subjectPrefix + "." + event
		},
		log: log,
	}, nil
}

// EmitOnListener JSON-encodes payload and publishes it to the subject
// derived from event. Encoding or publish errors are logged, never
// returned.
func (b *NATSBus) EmitOnListener(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.log.Warn("encode event payload", slog.String("event", event), slog.String("error", err.Error()))
		return
	}
	if err := b.conn.Publish(b.subjectFor(event), data); err != nil {
		b.log.Warn("publish event", slog.String("event", event), slog.String("error", err.Error()))
	}
}

// Close closes the underlying NATS connection without draining it.
func (b *NATSBus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

var _ EventBus = (*NATSBus)(nil)
