// Command projectcored is the project-lifecycle core's daemon entrypoint.
// It wires the Project Info Store, Settings Merger, Build Scheduler,
// Watcher Supervisor, and Lifecycle Coordinator together behind the
// ambient /healthz and /metrics HTTP surface, and owns the process's
// signal-based graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/cwstudio/projectcore/internal/config"
	cerrors "github.com/cwstudio/projectcore/internal/errors"
	"github.com/cwstudio/projectcore/internal/events"
	"github.com/cwstudio/projectcore/internal/handler"
	"github.com/cwstudio/projectcore/internal/history"
	"github.com/cwstudio/projectcore/internal/httpapi"
	"github.com/cwstudio/projectcore/internal/lifecycle"
	"github.com/cwstudio/projectcore/internal/metrics"
	"github.com/cwstudio/projectcore/internal/projectinfo"
	"github.com/cwstudio/projectcore/internal/scheduler"
	"github.com/cwstudio/projectcore/internal/statusctl"
	"github.com/cwstudio/projectcore/internal/translate"
	"github.com/cwstudio/projectcore/internal/version"
	"github.com/cwstudio/projectcore/internal/watchersup"
	"github.com/cwstudio/projectcore/internal/workspace"
)

// CLI is the root command definition and global flags.
type CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"config.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `name:"version" help:"Show version and exit"`

	Serve ServeCmd `cmd:"" help:"Start the project-lifecycle daemon"`
}

// Global is shared state handed to every subcommand.
type Global struct {
	Logger *slog.Logger
}

// AfterApply configures structured logging once flags are parsed.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

// ServeCmd implements the 'serve' command: start the daemon and block until
// a shutdown signal arrives.
type ServeCmd struct {
	Port int `short:"p" help:"Port for the /healthz and /metrics HTTP surface" default:"8080"`
}

func (s *ServeCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(cfg, s.Port, g.Logger)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	g.Logger.Info("projectcored started", slog.Int("port", s.Port))
	<-ctx.Done()
	g.Logger.Info("shutdown signal received, stopping daemon")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := d.Stop(stopCtx); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	g.Logger.Info("projectcored stopped cleanly")
	return nil
}

// daemon bundles every long-lived component so Start/Stop have a single
// place to sequence startup and teardown.
type daemon struct {
	http      *httpapi.Server
	build     *scheduler.Scheduler
	lifecycle *lifecycle.Coordinator
	log       *slog.Logger
	port      int
}

func newDaemon(cfg *config.Config, port int, log *slog.Logger) (*daemon, error) {
	if log == nil {
		log = slog.Default()
	}

	registry := prom.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(registry)

	infoStore := projectinfo.NewStore(log)
	workspaceMgr := workspace.NewManager(cfg.ProjectsDataDir, cfg.ProjectsLogDir)
	registryHandlers := handler.NewInMemory(nil)
	statusCtl := statusctl.NewInMemory()
	translator := translate.NewCatalog()

	historyStore, err := history.NewStore(cfg.HistoryDBPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	bus := events.NewBus()
	eventBus, err := newEventBus(bus, log)
	if err != nil {
		return nil, fmt.Errorf("build event bus: %w", err)
	}

	supervisor := watchersup.New(watchersup.Config{
		Registry:   registryHandlers,
		InCluster:  cfg.InCluster,
		PortalPort: cfg.PortalPort(),
		Log:        log,
	})

	build, err := scheduler.New(scheduler.Config{
		MaxBuilds:  cfg.MaxBuilds,
		StatusCtl:  statusCtl,
		InfoStore:  infoStore,
		EventBus:   eventBus,
		Recorder:   recorder,
		Translator: translator,
		Watcher:    supervisor,
		Stopper:    supervisor,
		Log:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("build scheduler: %w", err)
	}

	coordinator, err := lifecycle.New(lifecycle.Config{
		InfoStore:    infoStore,
		WorkspaceMgr: workspaceMgr,
		Registry:     registryHandlers,
		StatusCtl:    statusCtl,
		Build:        build,
		EventBus:     eventBus,
		HistoryStore: historyStore,
		Watcher:      supervisor,
		Translator:   translator,
		Recorder:     recorder,
		InCluster:    cfg.InCluster,
		Log:          log,
	})
	if err != nil {
		return nil, fmt.Errorf("build lifecycle coordinator: %w", err)
	}

	httpServer := httpapi.New(httpapi.Config{
		Build:    build,
		Registry: registry,
		Log:      log,
	})

	return &daemon{
		http:      httpServer,
		build:     build,
		lifecycle: coordinator,
		log:       log,
		port:      port,
	}, nil
}

// newEventBus wraps bus as a local EventBus, or as a NATS-backed one when
// NATS_URL is set so lifecycle events reach out-of-process listeners (the
// portal, other replicas) as well as in-process ones.
func newEventBus(bus *events.Bus, log *slog.Logger) (events.EventBus, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		return events.NewLocalBus(bus, log), nil
	}
	nb, err := events.NewNATSBus(url, "projectcore", log)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return nb, nil
}

func (d *daemon) Start() error {
	return d.http.Start(d.port)
}

func (d *daemon) Stop(ctx context.Context) error {
	if err := d.lifecycle.Shutdown(ctx); err != nil {
		d.log.Error("lifecycle shutdown", slog.String("error", err.Error()))
	}
	if err := d.build.Shutdown(ctx); err != nil {
		d.log.Error("scheduler shutdown", slog.String("error", err.Error()))
	}
	return d.http.Stop(ctx)
}

func main() {
	cli := &CLI{}
	parser := kong.Parse(cli,
		kong.Description("projectcored: project-lifecycle and build-scheduler daemon."),
		kong.Vars{"version": version.Version},
	)

	logger := slog.Default()
	errorAdapter := cerrors.NewCLIErrorAdapter(cli.Verbose, logger)
	globals := &Global{Logger: logger}

	if err := parser.Run(globals, cli); err != nil {
		errorAdapter.HandleError(err)
	}
}
