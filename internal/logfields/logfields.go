// Package logfields provides canonical log field names and helpers for structured logging.
package logfields

import (
	"fmt"
	"log/slog"
)

// Canonical log field name constants to avoid drift across packages.
// These are used for structured logging with slog.
const (
	KeyProjectID   = "project_id"
	KeyProjectType = "project_type"
	KeyOperationID = "operation_id"
	KeyOperation   = "operation_kind"
	KeyBuildState  = "build_state"
	KeyRank        = "rank"
	KeyQueueLen    = "queue_len"
	KeyRunningLen  = "running_len"
	KeyMaxBuilds   = "max_builds"
	KeyPath        = "path"
	KeyPID         = "pid"
	KeyWorker      = "worker"
	KeyHandler     = "handler"
	KeyEvent       = "event"
	KeyLogType     = "log_type"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
	KeyPortalPort  = "portal_port"
)

func ProjectID(id string) slog.Attr   { return slog.String(KeyProjectID, id) }
func ProjectType(t string) slog.Attr  { return slog.String(KeyProjectType, t) }
func OperationID(id string) slog.Attr { return slog.String(KeyOperationID, id) }
func Operation(kind string) slog.Attr { return slog.String(KeyOperation, kind) }
func BuildState(s string) slog.Attr   { return slog.String(KeyBuildState, s) }
func Rank(i, n int) slog.Attr         { return slog.String(KeyRank, fmt.Sprintf("%d/%d", i, n)) }
func QueueLen(n int) slog.Attr        { return slog.Int(KeyQueueLen, n) }
func RunningLen(n int) slog.Attr      { return slog.Int(KeyRunningLen, n) }
func MaxBuilds(n int) slog.Attr       { return slog.Int(KeyMaxBuilds, n) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func PID(pid int) slog.Attr           { return slog.Int(KeyPID, pid) }
func Worker(id string) slog.Attr      { return slog.String(KeyWorker, id) }
func Handler(name string) slog.Attr   { return slog.String(KeyHandler, name) }
func Event(name string) slog.Attr     { return slog.String(KeyEvent, name) }
func LogType(t string) slog.Attr      { return slog.String(KeyLogType, t) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func PortalPort(p int) slog.Attr      { return slog.Int(KeyPortalPort, p) }

// Err returns a slog.Attr for an error, or an empty string if nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
