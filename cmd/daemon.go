package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"grimm.is/cloudnet/internal/api"
	"grimm.is/cloudnet/internal/brand"
	"grimm.is/cloudnet/internal/clock"
	"grimm.is/cloudnet/internal/cloud"
	"grimm.is/cloudnet/internal/config"
	"grimm.is/cloudnet/internal/health"
	"grimm.is/cloudnet/internal/logging"
	"grimm.is/cloudnet/internal/metadata"
	"grimm.is/cloudnet/internal/metrics"
	"grimm.is/cloudnet/internal/network"
	"grimm.is/cloudnet/internal/provider"
	"grimm.is/cloudnet/internal/state"
	"grimm.is/cloudnet/internal/system"
)

// ErrUnsupported marks startup failures that should exit with status 1
// without a retry being useful.
var ErrUnsupported = errors.New("unsupported")

// RunDaemon runs the reconciler until SIGINT or SIGTERM.
func RunDaemon(configPath string) error {
	res, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := res.Config

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	logging.SetProcessName(brand.LowerName)
	logging.SetDefault(logger)
	log := logger.WithComponent("daemon")
	for _, w := range res.Warnings {
		log.Warn(w)
	}

	kind, err := resolveProvider(cfg.Cloud, cloud.Detect)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	adapter, err := metadata.New(kind, metadata.Options{
		Timeout:         cfg.RequestTimeout(),
		AzureAPIVersion: cfg.Cloud.AzureAPIVersion,
		EC2IMDSVersion:  cfg.Cloud.AWSIMDSVersion,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	log.Info("starting", "version", brand.Version, "provider", kind, "config", res.Path)

	writer := system.NewStateWriter(cfg.State.Directory)
	if err := dropToServiceUser(cfg, kind, writer, log); err != nil {
		return err
	}

	removePID, err := system.WritePIDFile(brand.PIDFile())
	if err != nil {
		log.Warn("failed to write PID file", "path", brand.PIDFile(), "error", err)
	} else {
		defer removePID()
	}

	opts := provider.Options{
		RouteTableBase: cfg.Network.RouteTableBase,
		IPv6:           cfg.Features.IPv6,
	}
	if cfg.State.PersistMetadata {
		opts.Saver = writer
	}
	if bucket, closeStore := openBaseline(cfg, log); bucket != nil {
		defer closeStore()
		opts.Baseline = bucket
	}

	env := provider.New(adapter, network.NewManager(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := env.Begin(ctx); err != nil {
		log.Error("initial reconciliation failed", "error", err)
	}
	if err := env.ConfigureSupplementary(cfg.Network.SupplementaryInterfaces); err != nil {
		log.Warn("supplementary interfaces incomplete", "error", err)
	}

	var wg sync.WaitGroup
	trigger := make(chan struct{}, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		env.Run(ctx, cfg.RefreshInterval(), trigger)
	}()

	if cfg.Features.NetworkEvents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.Watch(ctx, cfg.RefreshInterval())
		}()
	}

	collector := metrics.NewCollector(logger, 15*time.Second, func() []string {
		links := env.Status().Links
		names := make([]string, 0, len(links))
		for _, l := range links {
			names = append(names, l.Name)
		}
		return names
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		collector.Run(ctx)
	}()

	serverOpts := api.ServerOptions{
		Env:    env,
		Health: newHealthChecker(cfg, env),
	}
	if drivers := openDrivers(log); drivers != nil {
		defer drivers.Close()
		serverOpts.Drivers = drivers.Lookup
	}
	server := api.NewServer(serverOpts)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(ctx, cfg.ListenAddr()); err != nil {
			log.Error("API server failed", "addr", cfg.ListenAddr(), "error", err)
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug("sd_notify READY failed", "error", err)
	}
	if cfg.Security.Watchdog {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchdog(ctx, cfg.WatchdogInterval())
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			log.Info("shutting down", "signal", sig)
			break
		}
		reload(configPath, logger, env, log)
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	wg.Wait()
	return nil
}

// dropToServiceUser prepares the state directories for the service user
// and switches to it. A missing user keeps the current credentials.
func dropToServiceUser(cfg *config.Config, kind cloud.Kind, writer *system.StateWriter, log *logging.Logger) error {
	uid, gid, err := system.ServiceUser(cfg.Security.User)
	if err != nil {
		log.Warn("service user not found, keeping current credentials", "user", cfg.Security.User, "error", err)
		return writer.EnsureDirs(kind)
	}
	if os.Geteuid() == 0 {
		writer.SetOwner(uid, gid)
	}
	if err := writer.EnsureDirs(kind); err != nil {
		return err
	}
	if err := os.MkdirAll(brand.GetRunDir(), 0755); err == nil && os.Geteuid() == 0 {
		os.Chown(brand.GetRunDir(), uid, gid)
	}
	if err := system.DropPrivileges(uid, gid); err != nil {
		return fmt.Errorf("failed to drop privileges to %s: %w", cfg.Security.User, err)
	}
	return nil
}

func newHealthChecker(cfg *config.Config, env *provider.Environment) *health.Checker {
	checker := health.NewChecker(clock.Real)
	if !cfg.Features.HealthCheck {
		return checker
	}
	checker.Register("reconcile", health.ReconcileCheck(env, 3*cfg.RefreshInterval(), clock.Real))
	checker.Register("links", health.LinksCheck(env.LinkCount))
	if cfg.Features.GatewayProbe {
		checker.Register("gateway", health.GatewayCheck(env.Gateways, health.CheckPingFunc))
	}
	return checker
}

func openDrivers(log *logging.Logger) *network.Drivers {
	drivers, err := network.NewDrivers()
	if err != nil {
		log.Debug("driver lookups disabled", "error", err)
		return nil
	}
	return drivers
}

// openBaseline returns the persisted applied-state baseline when stale
// cleanup is enabled. With cleanup off, a baseline left by an earlier run
// is cleared so enabling cleanup later cannot act on an outdated record.
func openBaseline(cfg *config.Config, log *logging.Logger) (*state.BaselineBucket, func()) {
	path := filepath.Join(cfg.State.Directory, brand.LowerName+".db")
	if !cfg.Features.CleanupStale {
		if _, err := os.Stat(path); err != nil {
			return nil, nil
		}
	}

	store, err := state.NewSQLiteStore(state.DefaultOptions(path))
	if err != nil {
		log.Warn("applied-state store unavailable, stale cleanup disabled", "error", err)
		return nil, nil
	}
	bucket, err := state.NewBaselineBucket(store)
	if err != nil {
		store.Close()
		log.Warn("applied-state bucket unavailable, stale cleanup disabled", "error", err)
		return nil, nil
	}

	if !cfg.Features.CleanupStale {
		if err := bucket.Clear(); err != nil {
			log.Warn("failed to clear saved baseline", "path", path, "error", err)
		} else {
			log.Debug("stale cleanup disabled, saved baseline cleared", "path", path)
		}
		store.Close()
		return nil, nil
	}
	return bucket, func() { store.Close() }
}

// reload applies the parts of a changed configuration that can change at
// runtime: the log level and the supplementary interfaces.
func reload(path string, logger *logging.Logger, env *provider.Environment, log *logging.Logger) {
	log.Info("reloading configuration", "path", path)
	cfg, err := config.LoadFile(path)
	metrics.Get().RecordConfigReload(err)
	if err != nil {
		log.Error("reload failed, keeping running configuration", "error", err)
		return
	}
	if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if err := env.ConfigureSupplementary(cfg.Network.SupplementaryInterfaces); err != nil {
		log.Warn("supplementary interfaces incomplete", "error", err)
	}
}

func watchdog(ctx context.Context, interval time.Duration) {
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 && d/2 < interval {
		interval = d / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
