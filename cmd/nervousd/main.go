// Nervousd runs the nervous system substrate as a daemon: it declares
// the channel topology, starts one consumer per VSM system with System 3
// acting as the audit monitor, and serves /healthz and /metrics.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	nervous "github.com/viablekit/nervous-go"
	"github.com/viablekit/nervous-go/contracts"
	"github.com/viablekit/nervous-go/messaging"
)

func logLevel() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupLogger builds the process logger: JSON by default, text when
// LOG_FORMAT=text.
func setupLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: logLevel()}

	var handler slog.Handler
	if os.Getenv("LOG_FORMAT") == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// logHandler reports inbound traffic for one system. Audit reports stay
// no-op here; System 3 consumes them through the audit monitor.
type logHandler struct {
	messaging.BaseHandler
	logger *slog.Logger
}

func (h *logHandler) HandleCommand(_ context.Context, env *contracts.Envelope, meta messaging.Meta) error {
	h.logger.Info("command received",
		"queue", meta.Queue,
		"routingKey", meta.RoutingKey,
		"from", env.From)
	return nil
}

func (h *logHandler) HandleAlgedonic(_ context.Context, env *contracts.Envelope, meta messaging.Meta) error {
	var sig contracts.Signal
	if err := env.DecodePayload(&sig); err != nil {
		return err
	}
	h.logger.Warn("algedonic signal received",
		"queue", meta.Queue,
		"from", env.From,
		"type", sig.Type,
		"severity", sig.Severity)
	return nil
}

func (h *logHandler) HandleHorizontal(_ context.Context, _ *contracts.Envelope, meta messaging.Meta) error {
	h.logger.Debug("horizontal update received", "queue", meta.Queue, "routingKey", meta.RoutingKey)
	return nil
}

func (h *logHandler) HandleIntel(_ context.Context, _ *contracts.Envelope, meta messaging.Meta) error {
	h.logger.Debug("intel received", "queue", meta.Queue, "routingKey", meta.RoutingKey)
	return nil
}

func main() {
	logger := setupLogger()
	logger.Info("starting nervousd")

	configPath := flag.String("config", "", "path to YAML config (defaults to NERVOUS_* environment)")
	flag.Parse()

	cfg := nervous.FromEnv()
	if *configPath != "" {
		var err error
		cfg, err = nervous.LoadFile(*configPath)
		if err != nil {
			logger.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	ns, err := nervous.New(cfg, nervous.WithLogger(logger), nervous.WithPrometheus(registry))
	if err != nil {
		logger.Error("failed to build nervous system", "error", err)
		os.Exit(1)
	}

	if err := ns.Start(ctx); err != nil {
		logger.Error("failed to start nervous system", "error", err)
		os.Exit(1)
	}

	readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := ns.WaitReady(readyCtx); err != nil {
		logger.Warn("topology not ready yet, components keep retrying", "error", err)
	}
	readyCancel()

	audit := ns.AuditMonitor()
	if err := audit.Start(ctx); err != nil {
		logger.Error("failed to start audit monitor", "error", err)
		os.Exit(1)
	}

	consumers := make([]*messaging.SystemConsumer, 0, 4)
	for _, sys := range []contracts.SystemID{contracts.System1, contracts.System2, contracts.System4, contracts.System5} {
		handler := &logHandler{logger: logger.With("system", string(sys))}
		consumer := ns.Consumer(sys, handler)
		if err := consumer.Start(ctx); err != nil {
			logger.Error("failed to start consumer", "system", sys, "error", err)
			os.Exit(1)
		}
		consumers = append(consumers, consumer)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ns.HealthHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	addr := ":8090"
	if v := os.Getenv("NERVOUS_HTTP_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Tear down in reverse start order.
	for _, consumer := range consumers {
		consumer.Stop()
	}
	audit.Stop()
	if err := ns.Close(); err != nil {
		logger.Error("close error", "error", err)
	}
	logger.Info("nervousd stopped")
}
