package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/tutu-network/pregen/internal/api"
	"github.com/tutu-network/pregen/internal/domain"
	"github.com/tutu-network/pregen/internal/health"
	"github.com/tutu-network/pregen/internal/infra/filestore"
	"github.com/tutu-network/pregen/internal/infra/materialize"
	"github.com/tutu-network/pregen/internal/infra/overlay"
	"github.com/tutu-network/pregen/internal/infra/resource"
	"github.com/tutu-network/pregen/internal/infra/scheduler"
	"github.com/tutu-network/pregen/internal/infra/sqlite"
	"github.com/tutu-network/pregen/internal/infra/watchdog"
)

// Daemon is the pregen runtime. It wires together all services.
type Daemon struct {
	Config     Config
	ConfigPath string

	Store        domain.TaskStore
	DB           *sqlite.DB // nil with the json backend
	Materializer domain.Materializer
	Host         *materialize.HTTPClient // nil with the synthetic materializer
	Breaker      *materialize.Breaker    // wraps Host; nil with the synthetic materializer
	Monitor      *resource.Monitor
	Watchdog     *watchdog.Watchdog
	Scheduler    *scheduler.Scheduler
	Overlay      *overlay.Hub
	Health       *health.Checker
	Server       *api.Server

	version   string
	logCloser io.Closer
	cancel    context.CancelFunc
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, version string) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logCloser, err := setupLogging(cfg.Logging)
	if err != nil {
		return nil, err
	}

	d := &Daemon{Config: cfg, version: version, logCloser: logCloser}

	// Task store
	if err := d.openStore(); err != nil {
		logCloser.Close()
		return nil, err
	}

	// Materializer
	switch cfg.Host.Materializer {
	case "http":
		d.Host = materialize.NewHTTPClient(cfg.Host.BaseURL, cfg.Host.Token, parseDuration(cfg.Host.Timeout, 30*time.Second))
		d.Breaker = materialize.NewBreaker(d.Host, materialize.BreakerConfig{
			FailureThreshold: cfg.Host.BreakerFailures,
			ResetTimeout:     parseDuration(cfg.Host.BreakerReset, 30*time.Second),
		})
		d.Materializer = d.Breaker
	default:
		d.Materializer = materialize.NewSynthetic(cfg.Host.SyntheticSeed, parseDuration(cfg.Host.SyntheticDelay, 0))
		log.Printf("[daemon] using the synthetic materializer (no host configured)")
	}

	// Health signals
	var sources []domain.SignalSource
	if cfg.Host.BaseURL != "" {
		sources = append(sources, resource.NewHostSource(cfg.Host.BaseURL, 0))
	}
	if cfg.Host.Sensors {
		sources = append(sources, resource.NewSensorSource())
	}
	var source domain.SignalSource
	switch len(sources) {
	case 0:
		source = resource.NewStaticSource(nil)
	case 1:
		source = sources[0]
	default:
		source = resource.NewMultiSource(sources...)
	}
	monCfg := resource.DefaultMonitorConfig()
	monCfg.PollTimeout = parseDuration(cfg.Host.PollTimeout, monCfg.PollTimeout)
	d.Monitor = resource.NewMonitor(source, monCfg)

	d.Watchdog = watchdog.New(cfg.Watchdogs)
	d.Watchdog.SetDebug(cfg.Debug())

	d.Overlay = overlay.NewHub()

	d.Scheduler = scheduler.New(cfg.SchedulerConfig(), scheduler.Deps{
		Store:        d.Store,
		Materializer: d.Materializer,
		Watchdog:     d.Watchdog,
		Readings:     d.Monitor.Readings,
		Refresh:      d.Monitor.Refresh,
		Overlay:      d.Overlay,
	})

	// Health checker
	d.Health = health.NewChecker(parseDuration(cfg.Telemetry.HealthInterval, health.DefaultInterval),
		health.DataDirCheck(cfg.Store.Dir),
		health.SignalsCheck(d.Monitor.Healthy),
	)
	if d.DB != nil {
		d.Health.Add(health.StoreCheck(d.DB.Ping))
	}
	if d.Host != nil {
		d.Health.Add(health.HostCheck(d.Host.Ping))
	}

	// API server
	srv := api.NewServer(d.Scheduler, d.Store, d.Watchdog, d.Monitor.Readings)
	srv.SetVersion(version)
	srv.SetHealth(d.Health)
	srv.SetOverlay(d.Overlay)
	if d.Breaker != nil {
		srv.SetBreaker(d.Breaker)
	}
	srv.SetReloader(d.ReloadWatchdogs)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

func (d *Daemon) openStore() error {
	st, err := OpenStore(d.Config)
	if err != nil {
		return err
	}
	d.Store = st
	if db, ok := st.(*sqlite.DB); ok {
		d.DB = db
		if err := db.SetNodeInfo("last_start", time.Now().UTC().Format(time.RFC3339)); err != nil {
			log.Printf("[daemon] WARNING: record start time: %v", err)
		}
		if d.version != "" {
			_ = db.SetNodeInfo("version", d.version)
		}
	}
	return nil
}

// OpenStore opens the task store selected by [store].
func OpenStore(cfg Config) (domain.TaskStore, error) {
	dir := cfg.Store.Dir
	if dir == "" {
		dir = pregenHome()
	}
	switch cfg.Store.Backend {
	case "json":
		st, err := filestore.Open(filepath.Join(dir, filestore.FileName))
		if err != nil {
			return nil, fmt.Errorf("open task file: %w", err)
		}
		return st, nil
	default:
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		return db, nil
	}
}

// ReloadWatchdogs re-reads the config file and swaps the watchdog settings.
// Other sections take effect on restart.
func (d *Daemon) ReloadWatchdogs() error {
	path := d.ConfigPath
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := LoadConfigFile(path)
	if err != nil {
		return err
	}
	d.Watchdog.Reload(cfg.Watchdogs)
	d.Watchdog.SetDebug(cfg.Debug())
	log.Printf("[daemon] watchdogs reloaded from %s", path)
	return nil
}

// Start restores saved tasks and launches the background loops. The returned
// function stops the loops and blocks until they have exited.
func (d *Daemon) Start(ctx context.Context) (stop func(), err error) {
	n, err := d.Scheduler.Restore()
	if err != nil {
		return nil, fmt.Errorf("restore tasks: %w", err)
	}
	if n > 0 {
		log.Printf("[daemon] restored %d generation task(s)", n)
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	var wg sync.WaitGroup
	run := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	run(d.Health.Run)
	run(d.Scheduler.Persister().Run)
	run(d.Scheduler.Run)

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	stopLoops, err := d.Start(ctx)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal, watchdog reload on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGHUP {
					if err := d.ReloadWatchdogs(); err != nil {
						log.Printf("[daemon] WARNING: reload failed: %v", err)
					}
					continue
				}
				log.Printf("[daemon] %s received, shutting down", sig)
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
			stopLoops()
			d.Scheduler.Shutdown()
			return
		}
	}()

	fmt.Printf("pregen serving on http://%s\n", addr)
	fmt.Printf("  Store: %s (%s)\n", d.Config.Store.Backend, d.Config.Store.Dir)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}
	fmt.Printf("  Map markers: ws://%s/ws/markers\n", addr)

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		// Listener failed: stop everything that was started.
		cancelServe()
		<-done
		d.Close()
		return err
	}
	<-done
	d.Close()
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			log.Printf("[daemon] WARNING: close store: %v", err)
		}
		d.Store = nil
	}
	if d.logCloser != nil {
		_ = d.logCloser.Close()
		d.logCloser = nil
	}
}
