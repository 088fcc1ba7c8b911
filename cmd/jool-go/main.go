// jool-go daemon -- RFC 7915 stateless/stateful IPv4/IPv6 translator.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jool-go/jool/internal/config"
	"github.com/jool-go/jool/internal/daemon"
	"github.com/jool-go/jool/internal/instance"
	"github.com/jool-go/jool/internal/metrics"
	"github.com/jool-go/jool/internal/netio"
	appversion "github.com/jool-go/jool/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// expirySweepInterval is how often each NAT64 instance's BIB/session
// store is swept for expired entries (spec.md §6's timeouts only bound
// how long an entry may sit idle; something still has to walk the
// table and evict it).
const expirySweepInterval = 5 * time.Second

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

	logger.Info("jool-go starting",
		slog.String("version", appversion.Version),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("instances", len(cfg.Instances)),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	registry := instance.NewRegistry(logger)

	if err := runDaemon(cfg, registry, collector, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("jool-go exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("jool-go stopped")
	return 0
}

// runDaemon builds every enabled instance, opens its TUN device, and
// runs one packet loop per instance plus the metrics HTTP server and
// expiry sweeper, all under a single errgroup bound to a signal-aware
// context. Grounded on cmd/gobfd's runServers: errgroup.WithContext +
// signal.NotifyContext for graceful shutdown, SIGHUP for config reload.
func runDaemon(
	cfg *config.Config,
	registry *instance.Registry,
	collector *metrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	conns, err := startInstances(gCtx, g, cfg, registry, collector, logger)
	defer closeConns(conns, logger)
	if err != nil {
		return fmt.Errorf("start instances: %w", err)
	}

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runExpirySweeper(gCtx, registry)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, registry, logger)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// startInstances registers every enabled instance in registry, opens its
// TUN device, and spawns its daemon.Loop goroutine. On any error it
// returns the conns opened so far (for the caller's defer to close) plus
// the error.
func startInstances(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	registry *instance.Registry,
	collector *metrics.Collector,
	logger *slog.Logger,
) ([]netio.TunnelConn, error) {
	conns := make([]netio.TunnelConn, 0, len(cfg.Instances))

	for _, ic := range cfg.Instances {
		if !ic.Enable {
			logger.Info("instance disabled, skipping", slog.String("name", ic.Name))
			continue
		}

		if _, err := registry.FromConfig(ic); err != nil {
			return conns, fmt.Errorf("instance %q: %w", ic.Name, err)
		}

		device := ic.DeviceName()
		conn, err := netio.OpenTUN(device)
		if err != nil {
			return conns, fmt.Errorf("instance %q: open tun %s: %w", ic.Name, device, err)
		}
		conns = append(conns, conn)

		logger.Info("instance started",
			slog.String("name", ic.Name),
			slog.String("device", conn.Name()),
			slog.String("mode", ic.Mode),
		)

		loop := daemon.NewLoop(conn, registry, ic.Name, collector, logger)
		g.Go(func() error {
			return loop.Run(ctx)
		})
	}

	return conns, nil
}

func closeConns(conns []netio.TunnelConn, logger *slog.Logger) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close tun device", slog.String("error", err.Error()))
		}
	}
}

// runExpirySweeper periodically walks every NAT64 instance's BIB/session
// store and evicts timed-out entries (spec.md §6's UDP/ICMP/TCP-EST/
// TCP-TRANS timeouts).
func runExpirySweeper(ctx context.Context, registry *instance.Registry) error {
	ticker := time.NewTicker(expirySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			for _, inst := range registry.List() {
				if inst.Ctx.Store != nil {
					inst.Ctx.Store.Expire(now)
				}
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level + instance reconciliation
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads configuration. Only the
// dynamic log level and already-registered instances' translation
// behavior are reconciled; adding or removing instances (which requires
// opening/closing TUN devices and spawning/stopping loop goroutines)
// needs a daemon restart.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	registry *instance.Registry,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, registry, logger)
		}
	}
}

// reloadConfig loads a fresh configuration, updates the dynamic log
// level, and replaces the translation behavior of every
// already-registered instance in place via Registry.Replace. Instances
// absent from the old config (or newly added) are left untouched:
// errors during reload are logged but do not stop the daemon.
func reloadConfig(
	configPath string,
	logLevel *slog.LevelVar,
	registry *instance.Registry,
	logger *slog.Logger,
) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	for _, ic := range newCfg.Instances {
		if !ic.Enable {
			continue
		}
		if _, ok := registry.Get(ic.Name); !ok {
			logger.Warn("instance added to config but not running, restart to pick up",
				slog.String("name", ic.Name))
			continue
		}
		if _, err := registry.ReplaceFromConfig(ic); err != nil {
			logger.Error("failed to reload instance, keeping previous configuration",
				slog.String("name", ic.Name), slog.String("error", err.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, servers ...*http.Server) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
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

// loadConfig loads configuration from a file path or returns defaults.
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

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
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
