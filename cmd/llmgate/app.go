package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/c360studio/llmgate/config"
	"github.com/c360studio/llmgate/gateway"
	"github.com/c360studio/llmgate/llm"
	"github.com/c360studio/llmgate/pipeline"
	"github.com/c360studio/llmgate/prompts"
	"github.com/c360studio/llmgate/telemetry"
)

// App is the main application that wires together all components.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// Telemetry
	registry        *prometheus.Registry
	shutdownTracing telemetry.ShutdownFunc

	// NATS (optional call records)
	natsConn  *nats.Conn
	js        jetstream.JetStream
	callStore *llm.CallStore

	// Prompts
	library *prompts.Library
	watcher *prompts.Watcher

	// Completion
	client    *llm.Client
	rephraser *pipeline.Rephraser

	server *gateway.Server
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
}

// Start initializes all components. It does not begin serving HTTP.
func (a *App) Start(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Exporter:    a.cfg.Tracing.Exporter,
		ServiceName: a.cfg.Tracing.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	a.shutdownTracing = shutdown

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := a.startNATS(ctx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	if err := a.startPrompts(ctx); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}

	opts := []llm.ClientOption{
		llm.WithLogger(a.logger),
		llm.WithMetrics(llm.NewMetrics(a.registry)),
	}
	if a.callStore != nil {
		opts = append(opts, llm.WithCallStore(a.callStore))
	}
	a.client = llm.NewClientFromConfig(a.cfg.Backend, opts...)
	a.rephraser = pipeline.NewRephrase(a.client, a.library, pipeline.WithLogger(a.logger))

	handler := gateway.NewHandler(a.client, a.rephraser, a.library, gateway.WithLogger(a.logger))
	a.server = gateway.NewServer(a.cfg.Server.Addr, handler, a.registry,
		gateway.WithShutdownTimeout(a.cfg.Server.ShutdownTimeout),
		gateway.WithServerLogger(a.logger))

	a.logger.Info("Components initialized",
		"backend", a.client.CompletionsURL(),
		"max_concurrency", a.cfg.Backend.MaxConcurrency,
		"call_records", a.callStore != nil)
	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	if a.cfg.NATS.URL == "" {
		return nil
	}

	a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
	conn, err := nats.Connect(a.cfg.NATS.URL, nats.Name("llmgate"))
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	a.natsConn = conn

	js, err := jetstream.New(conn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	if err := llm.EnsureStream(ctx, js, a.cfg.NATS.Stream, a.cfg.NATS.SubjectPrefix); err != nil {
		return err
	}

	store, err := llm.NewCallStore(js,
		llm.WithSubjectPrefix(a.cfg.NATS.SubjectPrefix),
		llm.WithStoreLogger(a.logger))
	if err != nil {
		return err
	}
	a.callStore = store
	return nil
}

func (a *App) startPrompts(ctx context.Context) error {
	a.library = prompts.NewLibrary(a.logger)

	dir := a.cfg.Prompts.Dir
	if dir == "" {
		return nil
	}

	n, err := a.library.LoadDir(dir)
	if err != nil {
		return err
	}
	a.logger.Info("Loaded prompt overrides", "dir", dir, "count", n)

	if !a.cfg.Prompts.Watch {
		return nil
	}

	w, err := prompts.NewWatcher(a.library, dir, a.logger)
	if err != nil {
		return fmt.Errorf("create prompt watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		_ = w.Stop()
		return fmt.Errorf("start prompt watcher: %w", err)
	}
	a.watcher = w
	return nil
}

// Serve runs the HTTP gateway until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	return a.server.Run(ctx)
}

// Shutdown gracefully stops all components.
func (a *App) Shutdown(timeout time.Duration) {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop prompt watcher", "error", err)
		}
	}

	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("Failed to drain NATS connection", "error", err)
		}
		a.natsConn.Close()
	}

	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", "error", err)
		}
	}
}
