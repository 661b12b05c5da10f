// Package daemon wires the engine, scheduler, pollers, state store and HTTP
// surface into the long-running areamgrd process.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/colebrumley/areamgr/internal/config"
	"github.com/colebrumley/areamgr/internal/engine"
	"github.com/colebrumley/areamgr/internal/logging"
	"github.com/colebrumley/areamgr/internal/poller"
	"github.com/colebrumley/areamgr/internal/registry"
	"github.com/colebrumley/areamgr/internal/scheduler"
	"github.com/colebrumley/areamgr/internal/security"
	"github.com/colebrumley/areamgr/internal/state"
)

const (
	logFileMaxSize  = 50 * 1024 * 1024
	shutdownTimeout = 30 * time.Second
	cleanupInterval = 24 * time.Hour
)

// Daemon is the areamgr daemon.
type Daemon struct {
	configPath string
	rulesDir   string
	config     *config.Global
	logger     *slog.Logger
	startTime  time.Time

	db         *state.DB
	registry   *registry.Registry
	engine     *engine.Engine
	scheduler  *scheduler.Scheduler
	manager    *engine.Manager
	pollers    []*poller.Poller
	httpServer *http.Server

	// ctx is the daemon's lifetime; work accepted over HTTP runs under it.
	ctx      context.Context
	reloadMu sync.Mutex
	wg       sync.WaitGroup // in-flight background work
}

// New creates a daemon reading configPath and seeding rules from rulesDir.
func New(configPath, rulesDir string) *Daemon {
	return &Daemon{
		configPath: configPath,
		rulesDir:   rulesDir,
		ctx:        context.Background(),
	}
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.startTime = time.Now()

	if err := d.loadConfig(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logWriter, err := d.initLogWriter()
	if err != nil {
		d.logger = logging.NewLogger(d.config.Logging.Format, d.config.Daemon.LogLevel, os.Stdout)
		d.logger.Warn("failed to initialize rotating log writer, using stdout", "error", err)
	} else {
		defer logWriter.Close()
		d.logger = logging.NewLogger(d.config.Logging.Format, d.config.Daemon.LogLevel, logWriter)
	}
	d.logger.Info("starting daemon", "config", d.configPath, "rules_dir", d.rulesDir)

	if err := d.setup(ctx); err != nil {
		return err
	}

	if err := security.ValidateDirectoryPermissions(d.rulesDir); err != nil {
		d.logger.Error("CRITICAL: rules directory has unsafe permissions", "error", err, "path", d.rulesDir)
	}
	// Stored rules keep running when the seed files cannot be read.
	if _, err := d.importRules(ctx); err != nil {
		d.logger.Error("importing rules directory", "error", err, "path", d.rulesDir)
	}

	scheduled, err := d.manager.Sync(ctx)
	if err != nil {
		d.db.Close()
		return fmt.Errorf("syncing scheduler: %w", err)
	}
	d.scheduler.Start(ctx)

	for _, p := range d.pollers {
		d.goTracked(func() { p.Run(ctx) })
	}
	d.goTracked(func() { d.startHTTPServer(ctx) })
	d.goTracked(func() { d.startHotReload(ctx) })
	d.goTracked(func() { d.runHistoryCleanup(ctx) })

	d.logger.Info("daemon started", "scheduled", scheduled, "pollers", len(d.pollers))

	<-ctx.Done()
	d.logger.Info("daemon stopping, waiting for in-flight work")
	return d.shutdown()
}

// setup opens the state store and builds the engine. It starts nothing.
func (d *Daemon) setup(ctx context.Context) error {
	d.ctx = ctx
	if d.logger == nil {
		d.logger = logging.NewLogger(d.config.Logging.Format, d.config.Daemon.LogLevel, os.Stdout)
	}

	loc, err := d.config.Scheduler.Location()
	if err != nil {
		return fmt.Errorf("scheduler timezone: %w", err)
	}

	db, err := state.Open(filepath.Join(d.config.Daemon.DataDir, "state.db"))
	if err != nil {
		return fmt.Errorf("opening state database: %w", err)
	}
	d.db = db

	adapters := buildAdapters(d.config, d.logger)
	reg, err := registry.New(adapters.all...)
	if err != nil {
		db.Close()
		return fmt.Errorf("building registry: %w", err)
	}
	d.registry = reg

	repo := db.Rules()
	dispatcher := engine.NewDispatcher(reg, repo, d.logger,
		engine.WithCredentials(db),
		engine.WithRecorder(newHistoryRecorder(db, d.logger)),
		engine.WithTimeout(d.config.Dispatch.Timeout()),
	)
	d.engine = engine.New(engine.NewMatcher(repo, reg), dispatcher, d.logger, d.config.Dispatch.MaxConcurrent)
	d.scheduler = scheduler.New(d.engine, d.logger, scheduler.WithLocation(loc))
	d.manager = engine.NewManager(repo, reg, d.scheduler, dispatcher, d.logger)
	d.pollers = buildPollers(d.config, adapters, repo, d.engine, db, d.logger)
	return nil
}

func (d *Daemon) loadConfig() error {
	if _, err := os.Stat(d.configPath); os.IsNotExist(err) {
		d.config = config.Default()
		return d.config.Validate()
	}
	cfg, err := config.LoadGlobal(d.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.config = cfg
	return nil
}

func (d *Daemon) initLogWriter() (*logging.RotatingWriter, error) {
	if err := os.MkdirAll(d.config.Daemon.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	return logging.NewRotatingWriter(filepath.Join(d.config.Daemon.LogDir, "areamgrd.log"), logFileMaxSize)
}

func (d *Daemon) goTracked(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// runHistoryCleanup trims execution history now and once a day.
func (d *Daemon) runHistoryCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		if deleted, err := d.db.Cleanup(ctx, d.config.History.RetentionDays); err != nil {
			d.logger.Warn("history cleanup failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("cleaned up old execution records", "deleted", deleted)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) shutdown() error {
	stopped := d.scheduler.StopAll()
	select {
	case <-stopped.Done():
	case <-time.After(shutdownTimeout):
		d.logger.Warn("timed out waiting for scheduled firings")
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		d.logger.Warn("timed out waiting for in-flight work")
	}

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("closing state database: %w", err)
	}
	d.logger.Info("daemon stopped")
	return nil
}
