// tetherd is the tethering orchestrator daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/tetherd/internal/config"
	"github.com/dantte-lp/tetherd/internal/eventbus"
	tethermetrics "github.com/dantte-lp/tetherd/internal/metrics"
	"github.com/dantte-lp/tetherd/internal/nms"
	"github.com/dantte-lp/tetherd/internal/platform"
	"github.com/dantte-lp/tetherd/internal/server"
	"github.com/dantte-lp/tetherd/internal/tether"
	appversion "github.com/dantte-lp/tetherd/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("tetherd starting",
		slog.String("version", appversion.Version),
		slog.String("grpc_addr", cfg.GRPC.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := tethermetrics.NewCollector(reg)

	tetheringCfg, err := cfg.Tether.ToTetheringConfig()
	if err != nil {
		logger.Error("invalid tether configuration", slog.String("error", err.Error()))
		return 1
	}

	// dbus.SystemBus() memoizes a single shared connection per process, so
	// this and the one newEventBus opens via eventbus.NewDBusBus are the
	// same underlying *dbus.Conn.
	conn, err := dbus.SystemBus()
	if err != nil {
		logger.Error("connect to system bus", slog.String("error", err.Error()))
		return 1
	}
	defer conn.Close()

	orch := tether.NewOrchestrator(
		nms.NewNftablesNMS(logger),
		platform.NewIPRouteUpstreamSource(logger),
		platform.NewDBusProvisioningDispatcher(conn, logger),
		platform.HookUSBManager{Path: cfg.Platform.USBHookPath, Logger: logger},
		platform.HookWifiManager{Path: cfg.Platform.WifiHookPath, Logger: logger},
		platform.HookBluetoothManager{Path: cfg.Platform.BluetoothHookPath, Logger: logger},
		tetheringCfg,
		logger,
	)

	if err := runServers(cfg, orch, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("tetherd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("tetherd stopped")
	return 0
}

// runServers sets up and runs the HTTP API and metrics servers, the D-Bus
// event bus, and the orchestrator itself, using an errgroup with a
// signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	orch *tether.Orchestrator,
	collector *tethermetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	apiSrv := newAPIServer(cfg.GRPC, orch, logger)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	orch.Start(gCtx)
	defer orch.Stop()

	bus, err := newEventBus(logger)
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	g.Go(func() error { return bus.Run(gCtx) })
	g.Go(func() error {
		forwardBusEvents(gCtx, bus, orch)
		return nil
	})

	g.Go(func() error {
		tethermetrics.Poll(gCtx, orch, collector)
		return nil
	})

	linkmon, err := newLinkMonitor(logger)
	if err != nil {
		logger.Warn("link monitor unavailable", slog.String("error", err.Error()))
	} else {
		g.Go(func() error { return linkmon.Run(gCtx) })
		g.Go(func() error {
			forwardLinkEvents(gCtx, linkmon, orch)
			return nil
		})
	}

	startHTTPServers(gCtx, g, cfg, apiSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, orch, fr, apiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// newEventBus creates the D-Bus broadcast bus (USB gadget state, SIM
// state, Wi-Fi AP state).
func newEventBus(logger *slog.Logger) (*eventbus.DBusBus, error) {
	return eventbus.NewDBusBus(logger)
}

// forwardBusEvents drains bus.Events and applies each to orch.
func forwardBusEvents(ctx context.Context, bus *eventbus.DBusBus, orch *tether.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-bus.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindUSB:
				orch.HandleUSBBroadcast(ev.USBConnected, ev.USBRndisEnabled)
			case eventbus.KindWifiAPState:
				orch.HandleWifiApState(ev.State)
			case eventbus.KindSIMState:
				orch.HandleSIMState(ev.State)
			}
		}
	}
}

// forwardLinkEvents drains linkmon.Events and applies each to orch.
func forwardLinkEvents(ctx context.Context, linkmon eventbus.Bus, orch *tether.Orchestrator) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-linkmon.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case eventbus.KindInterfaceAdded:
				orch.InterfaceAdded(ev.IfaceName)
			case eventbus.KindInterfaceStatusChanged:
				orch.InterfaceStatusChanged(ev.IfaceName, ev.IfaceUp)
			case eventbus.KindInterfaceRemoved:
				orch.InterfaceRemoved(ev.IfaceName)
			}
		}
	}
}

// startHTTPServers registers the API and metrics HTTP server goroutines.
func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	apiSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("API server listening", slog.String("addr", cfg.GRPC.Addr))
		return listenAndServe(ctx, &lc, apiSrv, cfg.GRPC.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The interval
// is WatchdogSec/2 as recommended by the systemd documentation.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads the dynamic log level.
// Blocks until the context is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from configPath and updates the
// dynamic log level. Nothing else is applied: the orchestrator keeps the
// TetheringConfig it was started with (Orchestrator.ReplaceConfig is not
// called), and every other setting takes effect only on restart.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, untethers
// every active downstream interface, dumps the flight recorder trace, then
// shuts down HTTP servers.
func gracefulShutdown(
	ctx context.Context,
	logger *slog.Logger,
	orch *tether.Orchestrator,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	orch.UntetherAll()

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = joinErr(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func joinErr(a, b error) error {
	if a == nil {
		return b
	}
	return fmt.Errorf("%w; %w", a, b)
}

// -------------------------------------------------------------------------
// Flight Recorder
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the runtime/trace
// FlightRecorder for post-mortem debugging of orchestrator failures.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !isServerClosed(err) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

func isServerClosed(err error) bool {
	return err == http.ErrServerClosed
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newAPIServer(cfg config.GRPCConfig, orch *tether.Orchestrator, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(orch, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newLinkMonitor(logger *slog.Logger) (eventbus.Bus, error) {
	return eventbus.NewLinkMonitor(logger)
}

// -------------------------------------------------------------------------
// Config + Logging
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
