package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"github.com/me/agentq/internal/config"
	"github.com/me/agentq/internal/executor"
	"github.com/me/agentq/internal/logging"
	"github.com/me/agentq/internal/metrics"
	"github.com/me/agentq/internal/routing"
	"github.com/me/agentq/internal/scheduler"
	"github.com/me/agentq/internal/server"
	"github.com/me/agentq/internal/store"
	"github.com/me/agentq/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Path to YAML config file")
	addr := flag.String("addr", "", "Listen address (default :8090)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "Log format (text, json)")
	dbPath := flag.String("db", "", "History database path (default ~/.agentq/history.db)")
	execName := flag.String("executor", "", "Executor backend: ollama, echo")
	ollamaURL := flag.String("ollama-url", "", "Ollama base URL")
	maxParallel := flag.Int("max-parallel", 0, "Maximum tasks running at once")
	maxUnits := flag.Int("max-units", 0, "Maximum models loaded at once")
	echoDelay := flag.Duration("echo-delay", 0, "Artificial latency for the echo executor")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	flag.Parse()

	cfg := config.DefaultServerConfig()
	if *configFile != "" {
		loaded, err := config.LoadFile(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Flags override the config file.
	setIf(&cfg.Addr, *addr)
	setIf(&cfg.LogLevel, *logLevel)
	setIf(&cfg.LogFormat, *logFormat)
	setIf(&cfg.DBPath, *dbPath)
	setIf(&cfg.Executor, *execName)
	setIf(&cfg.OllamaURL, *ollamaURL)
	if *maxParallel > 0 {
		cfg.Scheduler.MaxParallel = *maxParallel
	}
	if *maxUnits > 0 {
		cfg.Scheduler.MaxConcurrentUnits = *maxUnits
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if err := logging.ValidFormat(cfg.LogFormat); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	// Tracing: spans go to the debug log.
	tp, err := tracing.NewProvider(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracing: %v\n", err)
		os.Exit(1)
	}
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	// Resolve database path.
	path := cfg.DBPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".agentq")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		path = filepath.Join(dir, "history.db")
	}

	// Open store and run migrations.
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", path)

	// Create executor registry and register executors.
	reg := executor.NewRegistry(logger)
	reg.Register(executor.NewOllamaExecutor(cfg.OllamaURL, logger))
	reg.Register(executor.NewEchoExecutor(*echoDelay, logger))

	exec, err := reg.Get(cfg.Executor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	// Mode → model routing.
	modes := routing.DefaultModes()
	for mode, key := range cfg.Scheduler.ModeModels {
		modes[mode] = key
	}
	router, err := routing.New(cfg.Scheduler.DefaultModel, modes, cfg.Scheduler.RoutingExpr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "routing: %v\n", err)
		os.Exit(1)
	}

	// Metrics.
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sched := scheduler.New(cfg.Scheduler, exec,
		scheduler.WithLogger(logger),
		scheduler.WithMetrics(metrics.New(promReg)),
		scheduler.WithTracerProvider(tp),
		scheduler.WithResourceKeyFunc(router.KeyFor),
	)

	// History: every task event is journaled off the scheduler's path.
	rec := store.NewRecorder(st, 1024, logger)
	defer rec.Close()
	sched.Subscribe(rec.Handle)

	srv := server.New(cfg, sched, logger,
		server.WithStore(st),
		server.WithRecorder(rec),
		server.WithMetrics(promReg),
	)

	// Request contexts derive from baseCtx so that open event streams end
	// when shutdown begins.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start the idle sweeper in background.
	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "executor", exec.Type())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop scheduler before HTTP server. Running tasks get a grace period;
	// queued tasks are dropped with the process.
	stopCtx, cancelStop := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStop()
	if err := sched.Stop(stopCtx); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
