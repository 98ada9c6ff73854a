package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/think-ai-agent/internal/api"
	"github.com/nugget/think-ai-agent/internal/buildinfo"
	"github.com/nugget/think-ai-agent/internal/config"
	"github.com/nugget/think-ai-agent/internal/connwatch"
	"github.com/nugget/think-ai-agent/internal/llm"
	"github.com/nugget/think-ai-agent/internal/mqtt"
)

// shutdownTimeout bounds how long in-flight HTTP requests may drain.
const shutdownTimeout = 15 * time.Second

// runServe handles the "think serve" subcommand. It opens the store,
// wires the agent loop, starts the API server and the optional MQTT
// notifier, and blocks until a shutdown signal arrives.
//
// The shutdown sequence is:
//  1. SIGINT or SIGTERM cancels the context
//  2. The HTTP server drains in-flight requests
//  3. The MQTT notifier publishes "offline" and disconnects
//  4. Summaries already running are awaited, then the store closes
func runServe(ctx context.Context, stdout io.Writer, opts options) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Think", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	a, err := openApp(opts.configPath, stdout)
	if err != nil {
		return err
	}
	defer a.Close()
	logger = a.logger

	logger.Info("config loaded",
		"port", a.cfg.Listen.Port,
		"database", a.cfg.Database.Path,
		"driver", a.cfg.Database.Driver,
		"drive", a.files.Root(),
	)

	coord, sum, err := a.coordinator(ctx)
	if err != nil {
		return err
	}
	if sum != nil {
		defer func() {
			sum.Wait()
			sum.Stop()
		}()
	}

	// --- Signal handling ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	// --- MQTT notifier ---
	// Optional: announces each chat's new head so other devices can
	// refresh without polling.
	if a.cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(a.cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

		notifier := mqtt.New(a.cfg.MQTT, instanceID, logger)
		coord.SetNotifier(notifier)
		g.Go(func() error {
			return notifier.Start(gctx)
		})
		logger.Info("mqtt notifications enabled", "broker", a.cfg.MQTT.Broker, "device_name", a.cfg.MQTT.DeviceName)
	} else {
		logger.Info("mqtt notifications disabled (not configured)")
	}

	// --- Provider health ---
	// Probes never gate runs; they only feed /health and the logs.
	monitor := connwatch.NewMonitor(logger, connwatch.DefaultSchedule())
	watchProviders(monitor, a.client, a.cfg)
	g.Go(func() error {
		return monitor.Run(gctx)
	})

	// --- API server ---
	server := api.NewServer(a.cfg.Listen.Address, a.cfg.Listen.Port, coord, a.store, a.files, logger)
	server.SetHealth(monitor)
	server.SetUsage(a.usage)
	g.Go(func() error {
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Think stopped")
	return nil
}

// watchProviders registers a probe for every provider the config routes
// to: the default one and any named in models.available.
func watchProviders(m *connwatch.Monitor, client llm.Client, cfg *config.Config) {
	multi, ok := client.(*llm.MultiClient)
	if !ok {
		m.Watch(cfg.Providers.Default, client.Ping)
		return
	}
	names := []string{cfg.Providers.Default}
	for _, model := range cfg.Models.Available {
		names = append(names, strings.ToLower(model.Provider))
	}
	for _, name := range names {
		if c, ok := multi.Provider(name); ok {
			m.Watch(name, c.Ping)
		}
	}
}
