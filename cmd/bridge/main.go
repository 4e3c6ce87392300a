// cmd/bridge/main.go is the entry point for the assistant bridge. It
// loads configuration, wires the Assistant Handler factory, Session
// Registry, Task Queue Manager, Cron Scheduler, and Command Router
// together, then drains the chat transport until signaled to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kingrea/assistant-bridge/internal/assistant"
	"github.com/kingrea/assistant-bridge/internal/config"
	"github.com/kingrea/assistant-bridge/internal/cron"
	"github.com/kingrea/assistant-bridge/internal/logbook"
	"github.com/kingrea/assistant-bridge/internal/logging"
	"github.com/kingrea/assistant-bridge/internal/queue"
	"github.com/kingrea/assistant-bridge/internal/router"
	"github.com/kingrea/assistant-bridge/internal/session"
)

func main() {
	configPath := flag.String("config", "bridge.yaml", "path to the bridge's YAML configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "bridge: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLog, err := logging.New(cfg.DataDir, slog.LevelInfo)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer closeLog()

	book, err := logbook.New(filepath.Join(cfg.DataDir, "logbook.jsonl"))
	if err != nil {
		return fmt.Errorf("open logbook: %w", err)
	}

	handlerFactory := func() *assistant.Handler {
		return assistant.New(assistant.Config{
			Path:          cfg.Assistant.Path,
			DefaultArgs:   cfg.Assistant.DefaultArgs,
			OutputFormat:  cfg.Assistant.OutputFormat,
			Model:         cfg.Assistant.Model,
			StartupTotal:  cfg.Assistant.StartupTotal,
			WriteTimeout:  cfg.Assistant.WriteTimeout,
			IdleWindow:    cfg.Assistant.IdleWindow,
			GraceWindow:   cfg.Assistant.GraceWindow,
			ReadyMarkers:  cfg.Assistant.ReadyMarkers,
			MaxMessageLen: cfg.Assistant.MaxMessageLen,
			OutputBuffer:  cfg.Limits.OutputBufferSize,
			Logger:        logger,
		})
	}

	registry := session.New(cfg, handlerFactory, logger, book)

	queues, err := queue.New(registry, queue.Options{
		DataDir:     cfg.DataDir,
		HistoryCap:  cfg.Limits.QueueHistorySize,
		Capacity:    cfg.Limits.QueueCapacity,
		TaskTimeout: cfg.Limits.TaskTimeout,
		Concurrency: int64(cfg.Limits.QueueConcurrency),
		Logger:      logger,
		Logbook:     book,
	})
	if err != nil {
		return fmt.Errorf("build queue manager: %w", err)
	}

	scheduler := cron.New(queues)
	transport := newConsoleTransport(os.Stdin, os.Stdout)
	r := router.New(cfg, registry, queues, scheduler, transport)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cronStop := make(chan struct{})
	go scheduler.Loop(cronStop, time.Minute)
	go reapLoop(ctx, registry, cfg.Limits.ReapInterval, logger)

	logger.Info("bridge started", "config", configPath, "projects", len(cfg.Projects))

	for {
		select {
		case <-ctx.Done():
			close(cronStop)
			_ = queues.Flush()
			logger.Info("bridge shutting down")
			return nil
		case msg, ok := <-transport.Messages():
			if !ok {
				close(cronStop)
				_ = queues.Flush()
				return nil
			}
			go r.Handle(ctx, msg)
		}
	}
}

func reapLoop(ctx context.Context, registry *session.Registry, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := registry.ReapIdle(ctx); len(reaped) > 0 {
				logger.Info("reaped idle sessions", "count", len(reaped))
			}
		}
	}
}
