// Command projectwatcher is the per-project filesystem-watcher child
// process the Watcher Supervisor (internal/watchersup) spawns detached for
// every project. It watches a project's workspace directory with fsnotify,
// filters events through the project's watchedFiles/ignoredFiles globs, and
// POSTs each matched change to http://<host>:<portalPort> (the portal, not
// the daemon's own /healthz and /metrics server) so a build can be triggered.
//
// It is started with eight positional arguments, matching exactly what
// internal/watchersup.Supervisor.StartWatcher spawns:
//
//	project-watcher <location> <workspaceOrigin> <projectID> <host> \
//	    <watchedFilesCSV|""> <ignoredFilesCSV|""> <reserved> <portalPort>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"

	cerrors "github.com/cwstudio/projectcore/internal/errors"
	"github.com/cwstudio/projectcore/internal/pathmatch"
)

const debounceWindow = 500 * time.Millisecond

// CLI mirrors the eight positional arguments the supervisor spawns with.
type CLI struct {
	Location        string `arg:"" help:"Project workspace directory to watch"`
	WorkspaceOrigin string `arg:"" help:"Parent directory of Location"`
	ProjectID       string `arg:"" help:"Project identifier"`
	Host            string `arg:"" help:"Host the portal listens on"`
	WatchedFiles    string `arg:"" help:"Comma-separated include globs, or empty"`
	IgnoredFiles    string `arg:"" help:"Comma-separated exclude globs, or empty"`
	Reserved        string `arg:"" help:"Reserved, always empty"`
	PortalPort      int    `arg:"" help:"Port the portal listens on"`

	Verbose bool `short:"v" help:"Enable verbose logging"`
}

func main() {
	cli := &CLI{}
	kong.Parse(cli, kong.Description("projectwatcher: per-project filesystem watcher child process."))

	level := slog.LevelInfo
	if cli.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	errorAdapter := cerrors.NewCLIErrorAdapter(cli.Verbose, logger)
	if err := run(cli, logger); err != nil {
		errorAdapter.HandleError(err)
	}
}

func run(cli *CLI, log *slog.Logger) error {
	includeGlobs := splitCSV(cli.WatchedFiles)
	excludeGlobs := splitCSV(cli.IgnoredFiles)

	matcher, err := pathmatch.NewMatcher(includeGlobs, excludeGlobs)
	if err != nil {
		return fmt.Errorf("build path matcher: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := addRecursive(watcher, cli.Location); err != nil {
		return fmt.Errorf("watch %s: %w", cli.Location, err)
	}
	log.Info("watching project", slog.String("location", cli.Location), slog.String("projectID", cli.ProjectID))

	notifier := &httpNotifier{
		baseURL: fmt.Sprintf("http://%s:%d", cli.Host, cli.PortalPort),
		client:  &http.Client{Timeout: 5 * time.Second},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watchLoop(ctx, watcher, matcher, cli.Location, cli.ProjectID, notifier, log)
	log.Info("project watcher stopped", slog.String("projectID", cli.ProjectID))
	return nil
}

// watchLoop dispatches fsnotify events through matcher and debounces
// notifications so a burst of writes collapses into a single rebuild
// trigger, the same debounce shape the teacher's ConfigWatcher uses.
func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, matcher *pathmatch.Matcher, location, projectID string, notifier *httpNotifier, log *slog.Logger) {
	pending := make(chan string, 1)
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(watcher, event.Name); err != nil {
						log.Warn("watch new directory", slog.String("path", event.Name), slog.String("error", err.Error()))
					}
				}
			}

			rel, err := filepath.Rel(location, event.Name)
			if err != nil {
				rel = event.Name
			}
			ok, reason := matcher.Match(rel)
			if !ok {
				log.Debug("change ignored", slog.String("path", rel), slog.String("reason", reason))
				continue
			}

			log.Debug("change matched", slog.String("path", rel), slog.String("op", event.Op.String()))
			select {
			case pending <- rel:
			default:
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case p := <-pending:
					if err := notifier.notifyChanged(projectID, p); err != nil {
						log.Warn("notify daemon of change", slog.String("error", err.Error()))
					}
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("fsnotify error", slog.String("error", err.Error()))
		}
	}
}

// addRecursive walks root and adds every directory to watcher, since
// fsnotify only watches the directories explicitly added to it.
func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// httpNotifier reports a matched filesystem change to the portal at
// host:portalPort. The daemon's own build-triggering RPC dispatcher is an
// external collaborator (out of scope for this module); this is just the
// outbound half a real deployment wires to it.
type httpNotifier struct {
	baseURL string
	client  *http.Client
}

type changePayload struct {
	ProjectID string `json:"projectID"`
	Path      string `json:"path"`
}

func (n *httpNotifier) notifyChanged(projectID, path string) error {
	body, err := json.Marshal(changePayload{ProjectID: projectID, Path: path})
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, n.baseURL+"/internal/projects/"+projectID+"/changed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notify request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify request failed: status %d", resp.StatusCode)
	}
	return nil
}
